package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/hooplytics/statsync/internal/fetch"
	"github.com/hooplytics/statsync/internal/model"
	"github.com/hooplytics/statsync/internal/resolver"
)

// ESPNSource is the espn source name.
const ESPNSource = "espn"

// ESPNRecord is one raw team entry from the ESPN site API.
type ESPNRecord struct {
	Team struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
		Record      struct {
			Items []struct {
				Summary string         `json:"summary"`
				Stats   map[string]any `json:"stats"`
			} `json:"items"`
		} `json:"record"`
	} `json:"team"`
}

type espnResponse struct {
	Sports []struct {
		Leagues []struct {
			Teams []ESPNRecord `json:"teams"`
		} `json:"leagues"`
	} `json:"sports"`
}

// ESPNCollector pulls team records from the public ESPN site API.
type ESPNCollector struct {
	client     *fetch.Client
	baseURL    string
	resolver   TeamResolver
	store      StatStore
	autoCreate bool
}

// NewESPNCollector wires an ESPN collector.
func NewESPNCollector(client *fetch.Client, baseURL string, res TeamResolver, st StatStore, autoCreate bool) *ESPNCollector {
	return &ESPNCollector{client: client, baseURL: baseURL, resolver: res, store: st, autoCreate: autoCreate}
}

func (c *ESPNCollector) JobType() string { return "team_stats" }

func (c *ESPNCollector) Scrape(ctx context.Context) ([]ESPNRecord, error) {
	var resp espnResponse
	url := fmt.Sprintf("%s/sports/basketball/nba/teams?enable=record", c.baseURL)
	if err := c.client.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	var records []ESPNRecord
	for _, sport := range resp.Sports {
		for _, league := range sport.Leagues {
			records = append(records, league.Teams...)
		}
	}
	return records, nil
}

func (c *ESPNCollector) Validate(_ context.Context, records []ESPNRecord) ([]ESPNRecord, error) {
	var valid []ESPNRecord
	for _, r := range records {
		if r.Team.DisplayName == "" || len(r.Team.Record.Items) == 0 {
			continue
		}
		valid = append(valid, r)
	}
	return valid, nil
}

func (c *ESPNCollector) Transform(ctx context.Context, records []ESPNRecord) ([]model.TeamStat, error) {
	now := time.Now().UTC()
	stats := make([]model.TeamStat, 0, len(records))
	for _, r := range records {
		res, err := c.resolver.Resolve(ctx, r.Team.DisplayName, ESPNSource, resolver.Options{AutoCreate: c.autoCreate})
		if err != nil {
			return nil, err
		}

		payload := map[string]any{"summary": r.Team.Record.Items[0].Summary}
		for k, v := range r.Team.Record.Items[0].Stats {
			payload[k] = v
		}
		stats = append(stats, model.TeamStat{
			TeamID:     res.TeamID,
			Source:     ESPNSource,
			Payload:    payload,
			CapturedAt: now,
		})
	}
	return stats, nil
}

func (c *ESPNCollector) Save(ctx context.Context, stats []model.TeamStat) (int, int, error) {
	return c.store.UpsertTeamStats(ctx, stats)
}

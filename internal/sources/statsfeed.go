// Package sources contains the per-source collectors that feed the
// pipeline. Each collector implements the scrape/validate/transform/save
// workflow and is driven by pipeline.RunCollector.
package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/hooplytics/statsync/internal/fetch"
	"github.com/hooplytics/statsync/internal/model"
	"github.com/hooplytics/statsync/internal/resolver"
)

// StatStore is the persistence collectors write canonical stats to.
// store.Store satisfies it.
type StatStore interface {
	UpsertTeamStats(ctx context.Context, stats []model.TeamStat) (created, updated int, err error)
}

// TeamResolver maps raw team names to canonical team ids.
type TeamResolver interface {
	Resolve(ctx context.Context, rawName, source string, opts resolver.Options) (*model.Resolution, error)
}

// StatsfeedRecord is one raw team line from the statsfeed API.
type StatsfeedRecord struct {
	TeamName string         `json:"team_name"`
	Stats    map[string]any `json:"stats"`
}

type statsfeedResponse struct {
	Teams []StatsfeedRecord `json:"teams"`
}

// StatsfeedCollector pulls team stats from the statsfeed API.
type StatsfeedCollector struct {
	client     *fetch.Client
	baseURL    string
	apiKey     string
	resolver   TeamResolver
	store      StatStore
	autoCreate bool
}

// NewStatsfeedCollector wires a statsfeed collector.
func NewStatsfeedCollector(client *fetch.Client, baseURL, apiKey string, res TeamResolver, st StatStore, autoCreate bool) *StatsfeedCollector {
	return &StatsfeedCollector{
		client: client, baseURL: baseURL, apiKey: apiKey,
		resolver: res, store: st, autoCreate: autoCreate,
	}
}

// StatsfeedSource is the statsfeed source name.
const StatsfeedSource = "statsfeed"

func (c *StatsfeedCollector) JobType() string { return "team_stats" }

func (c *StatsfeedCollector) Scrape(ctx context.Context) ([]StatsfeedRecord, error) {
	var resp statsfeedResponse
	url := fmt.Sprintf("%s/teams/stats?api_key=%s", c.baseURL, c.apiKey)
	if err := c.client.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	return resp.Teams, nil
}

func (c *StatsfeedCollector) Validate(_ context.Context, records []StatsfeedRecord) ([]StatsfeedRecord, error) {
	var valid []StatsfeedRecord
	for _, r := range records {
		if r.TeamName == "" || len(r.Stats) == 0 {
			continue
		}
		valid = append(valid, r)
	}
	return valid, nil
}

func (c *StatsfeedCollector) Transform(ctx context.Context, records []StatsfeedRecord) ([]model.TeamStat, error) {
	now := time.Now().UTC()
	stats := make([]model.TeamStat, 0, len(records))
	for _, r := range records {
		res, err := c.resolver.Resolve(ctx, r.TeamName, StatsfeedSource, resolver.Options{AutoCreate: c.autoCreate})
		if err != nil {
			return nil, err
		}
		stats = append(stats, model.TeamStat{
			TeamID:     res.TeamID,
			Source:     StatsfeedSource,
			Payload:    r.Stats,
			CapturedAt: now,
		})
	}
	return stats, nil
}

func (c *StatsfeedCollector) Save(ctx context.Context, stats []model.TeamStat) (int, int, error) {
	return c.store.UpsertTeamStats(ctx, stats)
}

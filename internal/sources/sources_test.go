package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hooplytics/statsync/internal/fetch"
	"github.com/hooplytics/statsync/internal/model"
	"github.com/hooplytics/statsync/internal/pipeline"
	"github.com/hooplytics/statsync/internal/resolver"
)

type fakeStatStore struct {
	saved []model.TeamStat
}

func (s *fakeStatStore) UpsertTeamStats(_ context.Context, stats []model.TeamStat) (int, int, error) {
	s.saved = append(s.saved, stats...)
	return len(stats), 0, nil
}

// fakeResolver maps names to ids without touching a store.
type fakeResolver struct {
	ids map[string]string
}

func (r *fakeResolver) Resolve(_ context.Context, rawName, _ string, opts resolver.Options) (*model.Resolution, error) {
	if id, ok := r.ids[rawName]; ok {
		return &model.Resolution{TeamID: id, Confidence: model.ConfidenceExact}, nil
	}
	if !opts.AutoCreate {
		return nil, eris.Wrapf(resolver.ErrTeamNotResolved, "%q", rawName)
	}
	id := "created-" + rawName
	r.ids[rawName] = id
	return &model.Resolution{TeamID: id, WasCreated: true, Confidence: model.ConfidenceCreated}, nil
}

func TestStatsfeedCollector_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/teams/stats", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(`{"teams":[
			{"team_name":"Boston Celtics","stats":{"wins":50,"losses":12}},
			{"team_name":"","stats":{"wins":1}},
			{"team_name":"Chicago Bulls","stats":{}}
		]}`))
	}))
	t.Cleanup(srv.Close)

	st := &fakeStatStore{}
	res := &fakeResolver{ids: map[string]string{"Boston Celtics": "t1"}}
	c := NewStatsfeedCollector(fetch.New(fetch.Options{}), srv.URL, "secret", res, st, true)

	result, err := pipeline.RunCollector[StatsfeedRecord, model.TeamStat](context.Background(), StatsfeedSource, c)
	require.NoError(t, err)
	assert.True(t, result.Success)
	// The empty-name and empty-stats records are dropped in validation.
	assert.Equal(t, 1, result.RecordsProcessed)
	assert.Equal(t, 2, result.RecordsFailed)

	require.Len(t, st.saved, 1)
	assert.Equal(t, "t1", st.saved[0].TeamID)
	assert.Equal(t, StatsfeedSource, st.saved[0].Source)
	assert.EqualValues(t, 50, st.saved[0].Payload["wins"].(float64))
}

func TestStatsfeedCollector_ResolutionFailurePropagates(t *testing.T) {
	c := NewStatsfeedCollector(nil, "", "", &fakeResolver{ids: map[string]string{}}, &fakeStatStore{}, false)

	_, err := c.Transform(context.Background(), []StatsfeedRecord{
		{TeamName: "Unknown Team", Stats: map[string]any{"wins": 1}},
	})
	assert.True(t, eris.Is(err, resolver.ErrTeamNotResolved))
}

func TestESPNCollector_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sports/basketball/nba/teams", r.URL.Path)
		_, _ = w.Write([]byte(`{"sports":[{"leagues":[{"teams":[
			{"team":{"id":"2","displayName":"Boston Celtics","record":{"items":[
				{"summary":"50-12","stats":{"wins":50,"losses":12}}]}}},
			{"team":{"id":"99","displayName":"No Record Team","record":{"items":[]}}}
		]}]}]}`))
	}))
	t.Cleanup(srv.Close)

	st := &fakeStatStore{}
	res := &fakeResolver{ids: map[string]string{}}
	c := NewESPNCollector(fetch.New(fetch.Options{}), srv.URL, res, st, true)

	result, err := pipeline.RunCollector[ESPNRecord, model.TeamStat](context.Background(), ESPNSource, c)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsProcessed)

	require.Len(t, st.saved, 1)
	assert.Equal(t, "created-Boston Celtics", st.saved[0].TeamID)
	assert.Equal(t, "50-12", st.saved[0].Payload["summary"])
}

func TestESPNCollector_ScrapeErrorIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c := NewESPNCollector(fetch.New(fetch.Options{}), srv.URL, &fakeResolver{ids: map[string]string{}}, &fakeStatStore{}, false)
	_, err := c.Scrape(context.Background())
	require.Error(t, err)
}

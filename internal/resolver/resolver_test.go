package resolver

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hooplytics/statsync/internal/model"
	"github.com/hooplytics/statsync/internal/store"
)

// fakeTeamStore is an in-memory TeamStore enforcing canonical name
// uniqueness the way the SQL stores do.
type fakeTeamStore struct {
	teams        map[string]model.Team
	insertCalls  int
	failFirstIns bool
}

func newFakeTeamStore(teams ...model.Team) *fakeTeamStore {
	s := &fakeTeamStore{teams: make(map[string]model.Team)}
	for _, t := range teams {
		s.teams[t.ID] = t
	}
	return s
}

func (s *fakeTeamStore) ListTeams(_ context.Context) ([]model.Team, error) {
	var out []model.Team
	for _, t := range s.teams {
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeTeamStore) GetTeamByCanonicalName(_ context.Context, name string) (*model.Team, error) {
	for _, t := range s.teams {
		if t.CanonicalName == name {
			cp := t
			return &cp, nil
		}
	}
	return nil, eris.Wrapf(store.ErrNotFound, "team %q", name)
}

func (s *fakeTeamStore) InsertTeam(_ context.Context, team *model.Team) error {
	s.insertCalls++
	if s.failFirstIns && s.insertCalls == 1 {
		// Simulate a concurrent creator winning the unique index race.
		s.teams["race-winner"] = model.Team{
			ID: "race-winner", CanonicalName: team.CanonicalName, ShortName: team.ShortName,
			ExternalIDs: map[string]string{"other": "raced"},
		}
		return eris.Wrapf(store.ErrDuplicateTeam, "canonical name %q", team.CanonicalName)
	}
	for _, t := range s.teams {
		if t.CanonicalName == team.CanonicalName {
			return eris.Wrapf(store.ErrDuplicateTeam, "canonical name %q", team.CanonicalName)
		}
	}
	s.teams[team.ID] = *team
	return nil
}

func (s *fakeTeamStore) UpdateTeamExternalIDs(_ context.Context, teamID string, externalIDs map[string]string) error {
	t, ok := s.teams[teamID]
	if !ok {
		return eris.Wrapf(store.ErrNotFound, "team %s", teamID)
	}
	t.ExternalIDs = externalIDs
	s.teams[teamID] = t
	return nil
}

func seedTeams() []model.Team {
	return []model.Team{
		{ID: "t1", CanonicalName: "BOSTON CELTICS", ShortName: "BC",
			ExternalIDs: map[string]string{"espn": "2"}},
		{ID: "t2", CanonicalName: "LOS ANGELES LAKERS", ShortName: "LAL",
			ExternalIDs: map[string]string{"espn": "13"}},
	}
}

func TestResolve_ExternalIDExactIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := New(newFakeTeamStore(seedTeams()...))

	first, err := r.Resolve(ctx, "2", "espn", Options{})
	require.NoError(t, err)
	assert.Equal(t, "t1", first.TeamID)
	assert.Equal(t, model.ConfidenceExact, first.Confidence)

	second, err := r.Resolve(ctx, "2", "espn", Options{})
	require.NoError(t, err)
	assert.Equal(t, first.TeamID, second.TeamID)
}

func TestResolve_CanonicalExactWritesAlias(t *testing.T) {
	ctx := context.Background()
	fs := newFakeTeamStore(seedTeams()...)
	r := New(fs)

	res, err := r.Resolve(ctx, "Boston Celtics", "statsfeed", Options{})
	require.NoError(t, err)
	assert.Equal(t, "t1", res.TeamID)
	assert.Equal(t, model.ConfidenceExact, res.Confidence)
	assert.False(t, res.WasCreated)

	// Alias persisted onto the team, and the same raw name now hits the
	// external id index.
	assert.Equal(t, "Boston Celtics", fs.teams["t1"].ExternalIDs["statsfeed"])
	again, err := r.Resolve(ctx, "Boston Celtics", "statsfeed", Options{})
	require.NoError(t, err)
	assert.Equal(t, "t1", again.TeamID)
}

func TestResolve_FuzzyMatchesExistingTeam(t *testing.T) {
	ctx := context.Background()
	r := New(newFakeTeamStore(seedTeams()...))

	// One typo against "LOS ANGELES LAKERS" (18 chars): similarity 17/18 ≈ 0.94.
	res, err := r.Resolve(ctx, "Los Angelos Lakers", "statsfeed", Options{AutoCreate: true})
	require.NoError(t, err)
	assert.Equal(t, "t2", res.TeamID)
	assert.Equal(t, model.ConfidenceFuzzy, res.Confidence)
	assert.False(t, res.WasCreated)
}

func TestResolve_FuzzyTieBreaksToLowestID(t *testing.T) {
	ctx := context.Background()
	// Two teams equidistant from the query.
	r := New(newFakeTeamStore(
		model.Team{ID: "t9", CanonicalName: "RIVERSIDE HAWKS A", ExternalIDs: map[string]string{}},
		model.Team{ID: "t1", CanonicalName: "RIVERSIDE HAWKS B", ExternalIDs: map[string]string{}},
	))

	res, err := r.Resolve(ctx, "Riverside Hawks C", "espn", Options{})
	require.NoError(t, err)
	assert.Equal(t, "t1", res.TeamID)
	assert.Equal(t, model.ConfidenceFuzzy, res.Confidence)
}

func TestResolve_BelowThresholdFailsWithoutAutoCreate(t *testing.T) {
	ctx := context.Background()
	r := New(newFakeTeamStore(seedTeams()...))

	_, err := r.Resolve(ctx, "Chicago Bulls", "espn", Options{})
	assert.True(t, eris.Is(err, ErrTeamNotResolved))
}

func TestResolve_AutoCreate(t *testing.T) {
	ctx := context.Background()
	fs := newFakeTeamStore(seedTeams()...)
	r := New(fs)

	res, err := r.Resolve(ctx, "Chicago Bulls", "espn", Options{AutoCreate: true})
	require.NoError(t, err)
	assert.True(t, res.WasCreated)
	assert.Equal(t, model.ConfidenceCreated, res.Confidence)

	created := fs.teams[res.TeamID]
	assert.Equal(t, "CHICAGO BULLS", created.CanonicalName)
	assert.Equal(t, "CB", created.ShortName)
	assert.Equal(t, "Chicago Bulls", created.ExternalIDs["espn"])

	// Resolving again hits the cache, no second insert.
	again, err := r.Resolve(ctx, "Chicago Bulls", "espn", Options{AutoCreate: true})
	require.NoError(t, err)
	assert.Equal(t, res.TeamID, again.TeamID)
	assert.Equal(t, 1, fs.insertCalls)
}

func TestResolve_AutoCreateDuplicateAliasesOntoWinner(t *testing.T) {
	ctx := context.Background()
	fs := newFakeTeamStore()
	fs.failFirstIns = true
	r := New(fs)

	res, err := r.Resolve(ctx, "Chicago Bulls", "espn", Options{AutoCreate: true})
	require.NoError(t, err)
	assert.Equal(t, "race-winner", res.TeamID)
	assert.False(t, res.WasCreated)
	assert.Equal(t, "Chicago Bulls", fs.teams["race-winner"].ExternalIDs["espn"])
}

func TestResolve_GroupScopesMatching(t *testing.T) {
	ctx := context.Background()
	fs := newFakeTeamStore(
		model.Team{ID: "t1", CanonicalName: "WILDCATS", GroupID: "ncaa",
			ExternalIDs: map[string]string{}},
		model.Team{ID: "t2", CanonicalName: "RIVERHAWKS",
			ExternalIDs: map[string]string{}},
	)
	r := New(fs)

	// A team scoped to another group is not a candidate.
	_, err := r.Resolve(ctx, "Wildcats", "espn", Options{GroupID: "euroleague"})
	assert.True(t, eris.Is(err, ErrTeamNotResolved))

	// Group-less teams stay matchable from any group.
	res, err := r.Resolve(ctx, "Riverhawks", "espn", Options{GroupID: "euroleague"})
	require.NoError(t, err)
	assert.Equal(t, "t2", res.TeamID)

	// The matching group sees its own team.
	res, err = r.Resolve(ctx, "Wildcats", "espn", Options{GroupID: "ncaa"})
	require.NoError(t, err)
	assert.Equal(t, "t1", res.TeamID)
}

func TestResolve_AliasHitCrossesGroupScope(t *testing.T) {
	ctx := context.Background()
	fs := newFakeTeamStore(
		model.Team{ID: "t1", CanonicalName: "WILDCATS", GroupID: "ncaa",
			ExternalIDs: map[string]string{"espn": "334"}},
	)
	r := New(fs)

	// An external id maps to exactly one team within a source, so the alias
	// index wins even under another group's scope.
	res, err := r.Resolve(ctx, "334", "espn", Options{GroupID: "euroleague"})
	require.NoError(t, err)
	assert.Equal(t, "t1", res.TeamID)
	assert.Equal(t, model.ConfidenceExact, res.Confidence)
}

func TestResolve_AutoCreateStampsGroup(t *testing.T) {
	ctx := context.Background()
	fs := newFakeTeamStore()
	r := New(fs)

	res, err := r.Resolve(ctx, "Chicago Bulls", "espn", Options{AutoCreate: true, GroupID: "nba"})
	require.NoError(t, err)
	assert.True(t, res.WasCreated)
	assert.Equal(t, "nba", fs.teams[res.TeamID].GroupID)
}

func TestResolveAll_SkipsFailures(t *testing.T) {
	ctx := context.Background()
	r := New(newFakeTeamStore(seedTeams()...))

	results := r.ResolveAll(ctx, []Request{
		{RawName: "Boston Celtics", Source: "statsfeed"},
		{RawName: "Nowhere United", Source: "statsfeed"},
		{RawName: "13", Source: "espn"},
	}, Options{})

	require.Len(t, results, 2)
	assert.Equal(t, "t1", results["Boston Celtics"].TeamID)
	assert.Equal(t, "t2", results["13"].TeamID)
	_, failed := results["Nowhere United"]
	assert.False(t, failed)
}

func TestShortNameFor(t *testing.T) {
	assert.Equal(t, "CB", shortNameFor("CHICAGO BULLS"))
	assert.Equal(t, "LAL", shortNameFor("LOS ANGELES LAKERS"))
	// Six words: acronym too long, falls back to truncation.
	assert.Equal(t, "ALPHA", shortNameFor("ALPHA BETA GAMMA DELTA EPSILON ZETA"))
	assert.Equal(t, "DUKE", shortNameFor("DUKE"))
	assert.Equal(t, "RIVER", shortNameFor("RIVERSIDE"))
}

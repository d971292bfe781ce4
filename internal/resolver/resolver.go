// Package resolver reconciles free-text team names from heterogeneous
// sources into canonical team ids. Matching runs exact (source alias),
// then normalized canonical name, then fuzzy edit-distance similarity,
// and finally auto-creation when the caller allows it.
package resolver

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hooplytics/statsync/internal/model"
	"github.com/hooplytics/statsync/internal/store"
)

// DefaultFuzzyThreshold is the minimum similarity score a fuzzy match must
// exceed to be accepted.
const DefaultFuzzyThreshold = 0.85

// ErrTeamNotResolved is returned when a name matches nothing and
// auto-creation is disabled.
var ErrTeamNotResolved = eris.New("resolver: team not resolved")

// TeamStore is the persistence the resolver needs. store.Store satisfies it.
type TeamStore interface {
	ListTeams(ctx context.Context) ([]model.Team, error)
	GetTeamByCanonicalName(ctx context.Context, canonicalName string) (*model.Team, error)
	InsertTeam(ctx context.Context, team *model.Team) error
	UpdateTeamExternalIDs(ctx context.Context, teamID string, externalIDs map[string]string) error
}

// Options control a single resolution.
type Options struct {
	// AutoCreate creates a new team when no match is found instead of
	// returning ErrTeamNotResolved.
	AutoCreate bool
	// GroupID restricts name matching to teams in that group (plus global
	// teams, which have no group) and stamps auto-created teams with it.
	// Empty matches everything. The (source, external id) alias index is
	// consulted before group filtering: within one source an external id
	// maps to exactly one team, so an existing alias resolves regardless of
	// group and repeated resolutions stay idempotent.
	GroupID string
}

func (o Options) matches(t *model.Team) bool {
	return o.GroupID == "" || t.GroupID == "" || t.GroupID == o.GroupID
}

// Request is one item of a batch resolution.
type Request struct {
	RawName string
	Source  string
}

// Resolver resolves raw team names against an in-memory cache of all known
// teams, writing aliases and new teams through to the store. One Resolver
// instance serves one pipeline run; the cache is loaded once.
type Resolver struct {
	store     TeamStore
	threshold float64

	mu          sync.Mutex
	initialized bool
	teams       []model.Team // sorted by id ascending; fuzzy ties go to the lowest id
	byCanonical map[string]int
	byAlias     map[string]string // source + "\x00" + rawName -> team id
}

// New returns a Resolver with the default fuzzy threshold. The cache loads
// lazily on first use; call InitializeCache to front-load the read.
func New(ts TeamStore) *Resolver {
	return &Resolver{
		store:       ts,
		threshold:   DefaultFuzzyThreshold,
		byCanonical: make(map[string]int),
		byAlias:     make(map[string]string),
	}
}

// WithThreshold overrides the fuzzy similarity threshold.
func (r *Resolver) WithThreshold(threshold float64) *Resolver {
	r.threshold = threshold
	return r
}

// InitializeCache loads all teams from the store and builds the canonical
// name and alias indexes. Safe to call more than once.
func (r *Resolver) InitializeCache(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initLocked(ctx)
}

func (r *Resolver) initLocked(ctx context.Context) error {
	if r.initialized {
		return nil
	}
	teams, err := r.store.ListTeams(ctx)
	if err != nil {
		return eris.Wrap(err, "resolver: load teams")
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	r.teams = teams
	r.byCanonical = make(map[string]int, len(teams))
	r.byAlias = make(map[string]string)
	for i, t := range teams {
		r.byCanonical[t.CanonicalName] = i
		for source, raw := range t.ExternalIDs {
			r.byAlias[aliasKey(source, raw)] = t.ID
		}
	}
	r.initialized = true
	return nil
}

func aliasKey(source, rawName string) string {
	return source + "\x00" + rawName
}

// Resolve maps one raw name from one source to a canonical team id.
func (r *Resolver) Resolve(ctx context.Context, rawName, source string, opts Options) (*model.Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.initLocked(ctx); err != nil {
		return nil, err
	}

	// Exact match on the (source, external id) index.
	if id, ok := r.byAlias[aliasKey(source, rawName)]; ok {
		return &model.Resolution{TeamID: id, Confidence: model.ConfidenceExact}, nil
	}

	normalized := NormalizeName(rawName)
	if normalized == "" {
		return nil, eris.Wrapf(ErrTeamNotResolved, "empty name %q", rawName)
	}

	// Exact match on normalized canonical name.
	if i, ok := r.byCanonical[normalized]; ok && opts.matches(&r.teams[i]) {
		if err := r.writeAliasLocked(ctx, i, source, rawName); err != nil {
			return nil, err
		}
		return &model.Resolution{TeamID: r.teams[i].ID, Confidence: model.ConfidenceExact}, nil
	}

	// Fuzzy match against every cached canonical name. Iteration is over
	// teams sorted ascending by id, and only a strictly better score
	// displaces the current best, so equal scores resolve to the lowest id.
	best, bestScore := -1, 0.0
	for i := range r.teams {
		if !opts.matches(&r.teams[i]) {
			continue
		}
		score := similarity(normalized, r.teams[i].CanonicalName)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 && bestScore > r.threshold {
		if err := r.writeAliasLocked(ctx, best, source, rawName); err != nil {
			return nil, err
		}
		return &model.Resolution{TeamID: r.teams[best].ID, Confidence: model.ConfidenceFuzzy}, nil
	}

	if !opts.AutoCreate {
		return nil, eris.Wrapf(ErrTeamNotResolved, "%q from %s (best score %.2f)", rawName, source, bestScore)
	}
	return r.createLocked(ctx, rawName, source, normalized, opts.GroupID)
}

// ResolveAll resolves a batch, logging and skipping per-item failures. The
// result maps raw names to their resolutions; failed items are absent.
func (r *Resolver) ResolveAll(ctx context.Context, requests []Request, opts Options) map[string]model.Resolution {
	results := make(map[string]model.Resolution, len(requests))
	for _, req := range requests {
		res, err := r.Resolve(ctx, req.RawName, req.Source, opts)
		if err != nil {
			zap.L().Warn("team resolution failed",
				zap.String("raw_name", req.RawName),
				zap.String("source", req.Source),
				zap.Error(err))
			continue
		}
		results[req.RawName] = *res
	}
	return results
}

func (r *Resolver) createLocked(ctx context.Context, rawName, source, normalized, groupID string) (*model.Resolution, error) {
	team := &model.Team{
		ID:            uuid.New().String(),
		CanonicalName: normalized,
		ShortName:     shortNameFor(normalized),
		GroupID:       groupID,
		ExternalIDs:   map[string]string{source: rawName},
	}
	err := r.store.InsertTeam(ctx, team)
	if eris.Is(err, store.ErrDuplicateTeam) {
		// A concurrent creator won the race; alias onto the winner.
		winner, qerr := r.store.GetTeamByCanonicalName(ctx, normalized)
		if qerr != nil {
			return nil, eris.Wrapf(qerr, "resolver: re-query after duplicate %q", normalized)
		}
		i := r.upsertCacheLocked(*winner)
		if aerr := r.writeAliasLocked(ctx, i, source, rawName); aerr != nil {
			return nil, aerr
		}
		return &model.Resolution{TeamID: winner.ID, Confidence: model.ConfidenceCreated}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: create team %q", normalized)
	}

	r.upsertCacheLocked(*team)
	zap.L().Info("created team",
		zap.String("team_id", team.ID),
		zap.String("canonical_name", team.CanonicalName),
		zap.String("source", source))
	return &model.Resolution{TeamID: team.ID, WasCreated: true, Confidence: model.ConfidenceCreated}, nil
}

// writeAliasLocked records (source, rawName) -> team in the in-memory index
// and persists it onto the team's external ids when that source has none yet.
func (r *Resolver) writeAliasLocked(ctx context.Context, i int, source, rawName string) error {
	team := &r.teams[i]
	r.byAlias[aliasKey(source, rawName)] = team.ID

	if _, ok := team.ExternalIDs[source]; ok {
		return nil
	}
	if team.ExternalIDs == nil {
		team.ExternalIDs = make(map[string]string)
	}
	team.ExternalIDs[source] = rawName
	if err := r.store.UpdateTeamExternalIDs(ctx, team.ID, team.ExternalIDs); err != nil {
		return eris.Wrapf(err, "resolver: persist alias %s=%q for team %s", source, rawName, team.ID)
	}
	return nil
}

// upsertCacheLocked inserts the team into the sorted cache (or replaces an
// existing entry) and refreshes the indexes. Returns the team's slice index.
func (r *Resolver) upsertCacheLocked(team model.Team) int {
	i := sort.Search(len(r.teams), func(i int) bool { return r.teams[i].ID >= team.ID })
	if i < len(r.teams) && r.teams[i].ID == team.ID {
		r.teams[i] = team
	} else {
		r.teams = append(r.teams, model.Team{})
		copy(r.teams[i+1:], r.teams[i:])
		r.teams[i] = team
		// Slice indexes after i shifted by one.
		r.byCanonical = make(map[string]int, len(r.teams))
		for j, t := range r.teams {
			r.byCanonical[t.CanonicalName] = j
		}
	}
	r.byCanonical[team.CanonicalName] = i
	for source, raw := range team.ExternalIDs {
		r.byAlias[aliasKey(source, raw)] = team.ID
	}
	return i
}

func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.Distance(a, b, nil)
	return 1 - float64(dist)/float64(maxLen)
}

// shortNameFor derives a display abbreviation: the acronym of initials when
// the name has at least two words and the acronym fits in five characters,
// otherwise the name truncated to five characters.
func shortNameFor(normalized string) string {
	words := strings.Fields(normalized)
	if len(words) >= 2 {
		var b strings.Builder
		for _, w := range words {
			b.WriteByte(w[0])
		}
		if b.Len() <= 5 {
			return b.String()
		}
	}
	if len(normalized) > 5 {
		return normalized[:5]
	}
	return normalized
}

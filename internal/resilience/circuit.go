package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hooplytics/statsync/internal/model"
)

// CircuitStore is the durable, atomically-updatable backing for per-source
// circuit state. Every mutation is a single conditional statement at the
// storage layer so that concurrent pipeline runs (possibly in separate
// processes) cannot corrupt failure counts or double-fire transitions.
type CircuitStore interface {
	// GetCircuit returns the state row for a source, or nil if none exists.
	GetCircuit(ctx context.Context, source string) (*model.CircuitState, error)

	// TransitionCircuitHalfOpen flips open -> half_open iff the row is open
	// and its open_until has passed. Returns whether this caller performed
	// the flip.
	TransitionCircuitHalfOpen(ctx context.Context, source string, now time.Time) (bool, error)

	// RecordCircuitSuccess applies success bookkeeping: closed resets the
	// failure count; half_open increments the success streak and closes the
	// circuit once the streak reaches successThreshold.
	RecordCircuitSuccess(ctx context.Context, source string, successThreshold int) error

	// RecordCircuitFailure increments the failure count, opening the
	// circuit until now+openFor when the count reaches failureThreshold
	// while closed, or immediately on any failure while half_open. The row
	// is created lazily on first write. Returns the resulting state.
	RecordCircuitFailure(ctx context.Context, source string, failureThreshold int, openFor time.Duration) (model.CircuitStateName, error)

	// ResetCircuit forces the row back to closed with zeroed counters.
	ResetCircuit(ctx context.Context, source string) error
}

// BreakerConfig controls the circuit breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a
	// closed circuit. Default: 5.
	FailureThreshold int

	// SuccessThreshold is the half-open success streak required to close
	// the circuit again. Default: 2.
	SuccessThreshold int

	// OpenTimeout is how long an opened circuit rejects calls before a
	// probe is allowed. Default: 30m.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns the standard thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Minute,
	}
}

// Breaker is the per-source circuit breaker. All state lives in the
// CircuitStore; the breaker re-reads it on every call so correctness
// survives process restarts and concurrent runners. Breaker methods never
// return errors to callers on the hot path: store failures are logged and
// the breaker fails open, since blocking every source on a bookkeeping
// error would be worse than an occasional extra probe.
type Breaker struct {
	store   CircuitStore
	cfg     BreakerConfig
	nowFunc func() time.Time
}

// NewBreaker creates a Breaker over the given store.
func NewBreaker(store CircuitStore, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Minute
	}
	return &Breaker{store: store, cfg: cfg, nowFunc: time.Now}
}

// IsAvailable reports whether a source should be attempted. NOTE: despite
// the name, this is not a pure read — when an open circuit's cooldown has
// expired, IsAvailable atomically transitions it to half_open as a side
// effect, which is what admits exactly the probe request that the
// half-open protocol requires.
func (b *Breaker) IsAvailable(ctx context.Context, source string) bool {
	state, err := b.store.GetCircuit(ctx, source)
	if err != nil {
		zap.L().Warn("circuit: state read failed, failing open",
			zap.String("source", source), zap.Error(err))
		return true
	}
	if state == nil {
		return true
	}

	switch state.State {
	case model.CircuitOpen:
		now := b.nowFunc()
		if state.OpenUntil != nil && now.Before(*state.OpenUntil) {
			return false
		}
		// Cooldown expired: admit a probe. If a concurrent caller already
		// flipped the row, the circuit is half_open either way.
		if _, err := b.store.TransitionCircuitHalfOpen(ctx, source, now); err != nil {
			zap.L().Warn("circuit: half-open transition failed",
				zap.String("source", source), zap.Error(err))
		}
		return true
	default:
		// closed or half_open (probe allowed through)
		return true
	}
}

// RecordSuccess registers a successful call against the source's circuit.
func (b *Breaker) RecordSuccess(ctx context.Context, source string) {
	if err := b.store.RecordCircuitSuccess(ctx, source, b.cfg.SuccessThreshold); err != nil {
		zap.L().Warn("circuit: record success failed",
			zap.String("source", source), zap.Error(err))
	}
}

// RecordFailure registers a failed call and returns the resulting circuit
// state.
func (b *Breaker) RecordFailure(ctx context.Context, source string) model.CircuitStateName {
	newState, err := b.store.RecordCircuitFailure(ctx, source, b.cfg.FailureThreshold, b.cfg.OpenTimeout)
	if err != nil {
		zap.L().Warn("circuit: record failure failed",
			zap.String("source", source), zap.Error(err))
		return model.CircuitClosed
	}
	if newState == model.CircuitOpen {
		zap.L().Warn("circuit opened",
			zap.String("source", source),
			zap.Duration("open_for", b.cfg.OpenTimeout))
	}
	return newState
}

// GetState returns the persisted state row for a source (nil if the source
// has never tripped bookkeeping, which is equivalent to closed).
func (b *Breaker) GetState(ctx context.Context, source string) (*model.CircuitState, error) {
	return b.store.GetCircuit(ctx, source)
}

// Reset forces a source's circuit back to closed. Operator override.
func (b *Breaker) Reset(ctx context.Context, source string) error {
	return b.store.ResetCircuit(ctx, source)
}

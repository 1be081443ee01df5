package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"reefchain/native/oracle"
	"reefchain/observability"
	"reefchain/services/oracled/storage"
)

// Recorder drives the observation keeper loop. Each tick it resolves every
// configured pair through the fallback cascade, appends the winning price to
// the on-chain TWAP window and persists an audit trail of the outcome.
type Recorder struct {
	logger   *slog.Logger
	resolver *oracle.Resolver
	history  *oracle.History
	audit    *storage.Storage
	metrics  *observability.OracleMetrics
	pairs    []oracle.Pair
	caller   [20]byte
	interval time.Duration
	now      func() time.Time
	once     sync.Once
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.now = clock
		}
	}
}

// New constructs a recorder. The caller address must hold the recorder role
// on the backing state so observation appends pass the engine's gate.
func New(resolver *oracle.Resolver, history *oracle.History, audit *storage.Storage, pairs []oracle.Pair, caller [20]byte, interval time.Duration, opts ...Option) (*Recorder, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver required")
	}
	if history == nil {
		return nil, fmt.Errorf("history required")
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("at least one pair required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	rec := &Recorder{
		logger:   slog.Default(),
		resolver: resolver,
		history:  history,
		audit:    audit,
		metrics:  observability.Oracle(),
		pairs:    append([]oracle.Pair{}, pairs...),
		caller:   caller,
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(rec)
		}
	}
	return rec, nil
}

// Run blocks, periodically recording observations until the context is
// cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("recorder not configured")
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.once.Do(func() {
		r.logger.Info("recorder started", "pairs", len(r.pairs), "interval", r.interval.String())
	})
	for {
		r.Tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single recording cycle across all configured pairs. Pair
// failures are logged and counted but never abort the remaining pairs.
func (r *Recorder) Tick(ctx context.Context) {
	if r == nil {
		return
	}
	for _, pair := range r.pairs {
		if ctx.Err() != nil {
			return
		}
		r.processPair(ctx, pair)
	}
}

func (r *Recorder) processPair(ctx context.Context, pair oracle.Pair) {
	started := r.now()
	obs, err := r.resolver.Resolve(pair)
	elapsed := r.now().Sub(started)
	if err != nil {
		r.metrics.ObserveResolution(pair.Key(), "none", "error", elapsed)
		r.metrics.RecordSourceFailure(pair.Key(), "cascade")
		r.metrics.RecordObservation(pair.Key(), "error")
		r.logger.Warn("resolution failed", "pair", pair.String(), "error", err)
		if r.audit != nil {
			if auditErr := r.audit.RecordSourceFailure(ctx, pair.Key(), "cascade", err.Error(), r.now()); auditErr != nil {
				r.logger.Warn("record failure", "pair", pair.String(), "error", auditErr)
			}
		}
		return
	}
	r.metrics.ObserveResolution(pair.Key(), obs.Kind.String(), "ok", elapsed)

	price := scaleToWindowDecimals(obs.Price, obs.Decimals)
	if err := r.history.RecordObservation(r.caller, pair, price); err != nil {
		r.metrics.RecordObservation(pair.Key(), "error")
		r.logger.Warn("record observation", "pair", pair.String(), "error", err)
		return
	}
	r.metrics.RecordObservation(pair.Key(), "ok")

	if r.audit == nil {
		return
	}
	recorded := r.now()
	if _, err := r.audit.RecordSnapshot(ctx, pair.Key(), obs, recorded); err != nil {
		r.logger.Warn("record snapshot", "pair", pair.String(), "error", err)
	}
	if entries, err := r.history.Observations(pair); err == nil && len(entries) > 0 {
		latest := entries[len(entries)-1]
		if err := r.audit.RecordTwapSample(ctx, pair.Key(), latest.Price, latest.Cumulative, latest.Timestamp, recorded); err != nil {
			r.logger.Warn("record sample", "pair", pair.String(), "error", err)
		}
	}
}

// windowDecimals is the fixed scale the observation window stores prices at.
const windowDecimals = 18

func scaleToWindowDecimals(price *big.Int, decimals uint8) *big.Int {
	if price == nil {
		return nil
	}
	scaled := new(big.Int).Set(price)
	switch {
	case decimals < windowDecimals:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(windowDecimals-decimals)), nil)
		scaled.Mul(scaled, factor)
	case decimals > windowDecimals:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-windowDecimals)), nil)
		scaled.Quo(scaled, factor)
	}
	return scaled
}

package oracle

import (
	"fmt"
	"time"
)

// Resolver walks a pair's registry in priority order until a source yields a
// valid observation, falling back to the administrator-supplied custom price
// once every registered source has failed.
type Resolver struct {
	state         *State
	registry      *Registry
	adapters      map[Kind]SourceAdapter
	defaultMaxAge time.Duration
	now           func() time.Time
}

// NewResolver constructs a resolver dispatching to the supplied adapters.
func NewResolver(st Storage, registry *Registry, adapters []SourceAdapter, cfg Config) *Resolver {
	cfg = cfg.Normalise()
	dispatch := make(map[Kind]SourceAdapter, len(adapters))
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		dispatch[adapter.Kind()] = adapter
	}
	return &Resolver{
		state:         NewState(st),
		registry:      registry,
		adapters:      dispatch,
		defaultMaxAge: cfg.DefaultMaxAge(),
		now:           time.Now,
	}
}

// SetClock overrides the time source for deterministic testing.
func (r *Resolver) SetClock(clock func() time.Time) {
	if r == nil || clock == nil {
		return
	}
	r.now = clock
}

// Resolve returns the freshest trustworthy price for the pair using the
// configured default freshness window, or the pair's administrative staleness
// override when one is set.
func (r *Resolver) Resolve(pair Pair) (PriceObservation, error) {
	if r == nil || r.state == nil {
		return PriceObservation{}, fmt.Errorf("oracle: resolver not initialised")
	}
	maxAge := r.defaultMaxAge
	if threshold, ok, err := r.state.stalenessThreshold(pair); err != nil {
		return PriceObservation{}, err
	} else if ok && threshold > 0 {
		maxAge = threshold
	}
	return r.ResolveWithMaxAge(pair, maxAge)
}

// ResolveWithMaxAge walks the registry in stored priority order. The first
// active source returning a positive price with a positive timestamp wins;
// this is first success in priority order, never a best or median selection.
// Per-source failures are isolated so a broken upstream cannot abort the
// cascade.
func (r *Resolver) ResolveWithMaxAge(pair Pair, maxAge time.Duration) (PriceObservation, error) {
	if r == nil || r.state == nil || r.registry == nil {
		return PriceObservation{}, fmt.Errorf("oracle: resolver not initialised")
	}
	descriptors, err := r.registry.Sources(pair)
	if err != nil {
		return PriceObservation{}, err
	}
	if len(descriptors) == 0 {
		return PriceObservation{}, fmt.Errorf("%w: nothing registered for %s", ErrNoPriceFeed, pair)
	}
	for _, descriptor := range descriptors {
		if !descriptor.Active {
			continue
		}
		adapter, ok := r.adapters[descriptor.Kind]
		if !ok {
			continue
		}
		observation, err := fetchIsolated(adapter, pair, descriptor, maxAge)
		if err != nil {
			continue
		}
		if !observation.Valid() {
			continue
		}
		return observation, nil
	}
	custom, ok, err := r.state.customPrice(pair)
	if err != nil {
		return PriceObservation{}, err
	}
	if ok {
		if observation, err := customObservation(custom, pair, maxAge, r.now().UTC().Unix()); err == nil {
			return observation, nil
		}
	}
	return PriceObservation{}, fmt.Errorf("%w: all sources exhausted for %s", ErrNoPriceFeed, pair)
}

// fetchIsolated confines a single source's failure, including panics from a
// misbehaving adapter, to an error return.
func fetchIsolated(adapter SourceAdapter, pair Pair, descriptor SourceDescriptor, maxAge time.Duration) (observation PriceObservation, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			observation = PriceObservation{}
			err = fmt.Errorf("oracle: source %s panicked: %v", descriptor.SourceRef, recovered)
		}
	}()
	return adapter.Fetch(pair, descriptor, maxAge)
}

package oracle

import (
	"fmt"
	"math/big"
	"time"
)

// SourceAdapter normalises one source kind into the shared observation shape.
// Implementations return errors rather than partial data; the resolver treats
// any error as "advance to the next source".
type SourceAdapter interface {
	Kind() Kind
	Fetch(pair Pair, descriptor SourceDescriptor, maxAge time.Duration) (PriceObservation, error)
}

// maxScaleExponent caps the power of ten applied when normalising pull feed
// prices. 10^78 no longer fits the 256-bit integers downstream consumers
// settle with, so larger exponents are rejected outright.
const maxScaleExponent = 77

// maxFeedDecimals caps the decimal count representable in an observation.
const maxFeedDecimals = 255

// PushRound models one aggregation round reported by a round-based push feed.
type PushRound struct {
	RoundID         uint64
	Answer          *big.Int
	UpdatedAt       int64
	AnsweredInRound uint64
	Decimals        uint8
}

// PushFeedClient fetches the latest round from a push feed identified by the
// descriptor's source reference.
type PushFeedClient interface {
	LatestRound(sourceRef string) (PushRound, error)
}

// PushFeedAdapter adapts round-based aggregator feeds.
type PushFeedAdapter struct {
	client PushFeedClient
	now    func() time.Time
}

// NewPushFeedAdapter wraps the provided client.
func NewPushFeedAdapter(client PushFeedClient) *PushFeedAdapter {
	return &PushFeedAdapter{client: client, now: time.Now}
}

// SetClock overrides the time source for deterministic testing.
func (a *PushFeedAdapter) SetClock(clock func() time.Time) {
	if a == nil || clock == nil {
		return
	}
	a.now = clock
}

// Kind implements SourceAdapter.
func (a *PushFeedAdapter) Kind() Kind { return KindPushFeed }

// Fetch implements SourceAdapter. Rounds whose answer predates the round
// itself (answeredInRound < roundId) are carry-overs from an incomplete
// aggregation and are rejected as stale.
func (a *PushFeedAdapter) Fetch(pair Pair, descriptor SourceDescriptor, maxAge time.Duration) (PriceObservation, error) {
	if a == nil || a.client == nil {
		return PriceObservation{}, fmt.Errorf("oracle: push feed adapter not configured")
	}
	round, err := a.client.LatestRound(descriptor.SourceRef)
	if err != nil {
		return PriceObservation{}, err
	}
	if round.AnsweredInRound < round.RoundID {
		return PriceObservation{}, fmt.Errorf("%w: round %d answered in %d", ErrStalePrice, round.RoundID, round.AnsweredInRound)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return PriceObservation{}, fmt.Errorf("%w: push feed answer for %s", ErrInvalidPrice, pair)
	}
	now := a.now().UTC().Unix()
	if now-round.UpdatedAt > int64(maxAge/time.Second) {
		return PriceObservation{}, fmt.Errorf("%w: push feed for %s updated at %d", ErrStalePrice, pair, round.UpdatedAt)
	}
	return PriceObservation{
		Price:      new(big.Int).Set(round.Answer),
		Decimals:   round.Decimals,
		Timestamp:  round.UpdatedAt,
		Confidence: big.NewInt(0),
		Kind:       KindPushFeed,
	}, nil
}

// PullPrice models a publish-on-demand feed result. Expo is the signed base
// ten exponent the raw price must be scaled by.
type PullPrice struct {
	Price      *big.Int
	Expo       int32
	Confidence *big.Int
	Timestamp  int64
}

// PullFeedClient fetches the latest price for a feed id. The client must
// reject results it cannot deliver within the supplied staleness bound.
type PullFeedClient interface {
	LatestPrice(feedID string, maxAge time.Duration) (PullPrice, error)
}

// PullFeedAdapter adapts publish-on-demand feeds with signed exponents. The
// base token of the pair is resolved to a feed id through the administrative
// feed identifier map.
type PullFeedAdapter struct {
	state  *State
	client PullFeedClient
}

// NewPullFeedAdapter wraps the provided client and feed id storage.
func NewPullFeedAdapter(st Storage, client PullFeedClient) *PullFeedAdapter {
	return &PullFeedAdapter{state: NewState(st), client: client}
}

// Kind implements SourceAdapter.
func (a *PullFeedAdapter) Kind() Kind { return KindPullFeed }

// Fetch implements SourceAdapter.
func (a *PullFeedAdapter) Fetch(pair Pair, descriptor SourceDescriptor, maxAge time.Duration) (PriceObservation, error) {
	if a == nil || a.client == nil || a.state == nil {
		return PriceObservation{}, fmt.Errorf("oracle: pull feed adapter not configured")
	}
	feedID, ok, err := a.state.feedID(pair.Base)
	if err != nil {
		return PriceObservation{}, err
	}
	if !ok || feedID == "" {
		return PriceObservation{}, fmt.Errorf("%w: no feed id mapped for %s", ErrNoPriceFeed, pair.Base)
	}
	price, err := a.client.LatestPrice(feedID, maxAge)
	if err != nil {
		return PriceObservation{}, err
	}
	if price.Price == nil || price.Price.Sign() <= 0 {
		return PriceObservation{}, fmt.Errorf("%w: pull feed price for %s", ErrInvalidPrice, pair)
	}
	observation := PriceObservation{
		Timestamp:  price.Timestamp,
		Confidence: big.NewInt(0),
		Kind:       KindPullFeed,
	}
	if price.Confidence != nil {
		observation.Confidence = new(big.Int).Set(price.Confidence)
	}
	// Widen before negating: int32 minimum has no positive counterpart.
	expo := int64(price.Expo)
	switch {
	case expo >= 0:
		if expo > maxScaleExponent {
			return PriceObservation{}, fmt.Errorf("%w: exponent %d exceeds scaling bound", ErrInvalidPrice, expo)
		}
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(expo), nil)
		observation.Price = new(big.Int).Mul(price.Price, scale)
		observation.Decimals = 18
	default:
		if -expo > maxFeedDecimals {
			return PriceObservation{}, fmt.Errorf("%w: exponent %d outside representable decimals", ErrInvalidPrice, expo)
		}
		observation.Price = new(big.Int).Set(price.Price)
		observation.Decimals = uint8(-expo)
	}
	return observation, nil
}

// IndexFeedClient exposes the separate value and timestamp lookups of an
// index feed.
type IndexFeedClient interface {
	Value(feedID string) (*big.Int, error)
	UpdatedAt(feedID string) (int64, error)
}

// IndexFeedAdapter adapts index feeds with fixed eight decimal values.
type IndexFeedAdapter struct {
	state  *State
	client IndexFeedClient
	now    func() time.Time
}

// NewIndexFeedAdapter wraps the provided client and feed id storage.
func NewIndexFeedAdapter(st Storage, client IndexFeedClient) *IndexFeedAdapter {
	return &IndexFeedAdapter{state: NewState(st), client: client, now: time.Now}
}

// SetClock overrides the time source for deterministic testing.
func (a *IndexFeedAdapter) SetClock(clock func() time.Time) {
	if a == nil || clock == nil {
		return
	}
	a.now = clock
}

// Kind implements SourceAdapter.
func (a *IndexFeedAdapter) Kind() Kind { return KindIndexFeed }

// Fetch implements SourceAdapter.
func (a *IndexFeedAdapter) Fetch(pair Pair, descriptor SourceDescriptor, maxAge time.Duration) (PriceObservation, error) {
	if a == nil || a.client == nil || a.state == nil {
		return PriceObservation{}, fmt.Errorf("oracle: index feed adapter not configured")
	}
	feedID, ok, err := a.state.feedID(pair.Base)
	if err != nil {
		return PriceObservation{}, err
	}
	if !ok || feedID == "" {
		return PriceObservation{}, fmt.Errorf("%w: no feed id mapped for %s", ErrNoPriceFeed, pair.Base)
	}
	updatedAt, err := a.client.UpdatedAt(feedID)
	if err != nil {
		return PriceObservation{}, err
	}
	now := a.now().UTC().Unix()
	if now-updatedAt > int64(maxAge/time.Second) {
		return PriceObservation{}, fmt.Errorf("%w: index feed for %s updated at %d", ErrStalePrice, pair, updatedAt)
	}
	value, err := a.client.Value(feedID)
	if err != nil {
		return PriceObservation{}, err
	}
	if value == nil || value.Sign() == 0 {
		return PriceObservation{}, fmt.Errorf("%w: index feed value for %s", ErrInvalidPrice, pair)
	}
	return PriceObservation{
		Price:      new(big.Int).Set(value),
		Decimals:   8,
		Timestamp:  updatedAt,
		Confidence: big.NewInt(0),
		Kind:       KindIndexFeed,
	}, nil
}

// TWAPAdapter serves the engine's own history through the adapter interface
// so it can take a slot in the fallback cascade.
type TWAPAdapter struct {
	history *History
	now     func() time.Time
}

// NewTWAPAdapter wraps the provided history.
func NewTWAPAdapter(history *History) *TWAPAdapter {
	return &TWAPAdapter{history: history, now: time.Now}
}

// SetClock overrides the time source for deterministic testing.
func (a *TWAPAdapter) SetClock(clock func() time.Time) {
	if a == nil || clock == nil {
		return
	}
	a.now = clock
}

// Kind implements SourceAdapter.
func (a *TWAPAdapter) Kind() Kind { return KindTWAP }

// Fetch implements SourceAdapter.
func (a *TWAPAdapter) Fetch(pair Pair, descriptor SourceDescriptor, maxAge time.Duration) (PriceObservation, error) {
	if a == nil || a.history == nil {
		return PriceObservation{}, fmt.Errorf("oracle: twap adapter not configured")
	}
	observation, err := a.history.WindowAverage(pair)
	if err != nil {
		return PriceObservation{}, err
	}
	now := a.now().UTC().Unix()
	if now-observation.Timestamp > int64(maxAge/time.Second) {
		return PriceObservation{}, fmt.Errorf("%w: twap window for %s ends at %d", ErrStalePrice, pair, observation.Timestamp)
	}
	return observation, nil
}

// CustomPriceAdapter serves the administrator-supplied override through the
// adapter interface for pairs that register it as an explicit source.
type CustomPriceAdapter struct {
	state *State
	now   func() time.Time
}

// NewCustomPriceAdapter wraps the provided storage.
func NewCustomPriceAdapter(st Storage) *CustomPriceAdapter {
	return &CustomPriceAdapter{state: NewState(st), now: time.Now}
}

// SetClock overrides the time source for deterministic testing.
func (a *CustomPriceAdapter) SetClock(clock func() time.Time) {
	if a == nil || clock == nil {
		return
	}
	a.now = clock
}

// Kind implements SourceAdapter.
func (a *CustomPriceAdapter) Kind() Kind { return KindCustom }

// Fetch implements SourceAdapter.
func (a *CustomPriceAdapter) Fetch(pair Pair, descriptor SourceDescriptor, maxAge time.Duration) (PriceObservation, error) {
	if a == nil || a.state == nil {
		return PriceObservation{}, fmt.Errorf("oracle: custom price adapter not configured")
	}
	custom, ok, err := a.state.customPrice(pair)
	if err != nil {
		return PriceObservation{}, err
	}
	if !ok {
		return PriceObservation{}, fmt.Errorf("%w: no custom price for %s", ErrNoPriceFeed, pair)
	}
	return customObservation(custom, pair, maxAge, a.now().UTC().Unix())
}

func customObservation(custom CustomPrice, pair Pair, maxAge time.Duration, now int64) (PriceObservation, error) {
	if custom.Price == nil || custom.Price.Sign() <= 0 || custom.Timestamp <= 0 {
		return PriceObservation{}, fmt.Errorf("%w: custom price for %s", ErrInvalidPrice, pair)
	}
	if now-custom.Timestamp > int64(maxAge/time.Second) {
		return PriceObservation{}, fmt.Errorf("%w: custom price for %s set at %d", ErrStalePrice, pair, custom.Timestamp)
	}
	return PriceObservation{
		Price:      new(big.Int).Set(custom.Price),
		Decimals:   custom.Decimals,
		Timestamp:  custom.Timestamp,
		Confidence: big.NewInt(0),
		Kind:       KindCustom,
	}, nil
}

package oracle

import (
	"fmt"
	"math/big"
	"strings"
)

// Kind identifies the upstream shape of a registered oracle source.
type Kind uint8

const (
	// KindUnknown is the zero value and never valid for registration.
	KindUnknown Kind = iota
	// KindPushFeed is a round-based aggregator that pushes answers on-chain.
	KindPushFeed
	// KindPullFeed is a publish-on-demand feed reporting a signed exponent.
	KindPullFeed
	// KindIndexFeed exposes separate value and timestamp lookups by feed id.
	KindIndexFeed
	// KindTWAP reads the engine's own time-weighted average price history.
	KindTWAP
	// KindCustom reads the administrator-supplied emergency price.
	KindCustom
)

// String renders the kind for logs and events.
func (k Kind) String() string {
	switch k {
	case KindPushFeed:
		return "push_feed"
	case KindPullFeed:
		return "pull_feed"
	case KindIndexFeed:
		return "index_feed"
	case KindTWAP:
		return "twap"
	case KindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Valid reports whether the kind may appear in a registered descriptor.
func (k Kind) Valid() bool {
	return k >= KindPushFeed && k <= KindCustom
}

// ParseKind maps a configuration string onto a Kind.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "push_feed", "push":
		return KindPushFeed, nil
	case "pull_feed", "pull":
		return KindPullFeed, nil
	case "index_feed", "index":
		return KindIndexFeed, nil
	case "twap":
		return KindTWAP, nil
	case "custom":
		return KindCustom, nil
	default:
		return KindUnknown, fmt.Errorf("%w: unknown kind %q", ErrInvalidOracle, raw)
	}
}

// Pair is an ordered (base, quote) token combination. Ordering matters: the
// pair REEF/USD prices REEF in USD and is distinct from USD/REEF.
type Pair struct {
	Base  string
	Quote string
}

// NewPair canonicalises the supplied symbols. Both legs are required.
func NewPair(base, quote string) (Pair, error) {
	baseSym := normaliseSymbol(base)
	quoteSym := normaliseSymbol(quote)
	if baseSym == "" || quoteSym == "" {
		return Pair{}, fmt.Errorf("%w: base and quote required", ErrInvalidOracle)
	}
	return Pair{Base: baseSym, Quote: quoteSym}, nil
}

// Key renders the storage key fragment for the pair.
func (p Pair) Key() string {
	return normaliseSymbol(p.Base) + ":" + normaliseSymbol(p.Quote)
}

// String renders the pair in BASE/QUOTE form.
func (p Pair) String() string {
	return normaliseSymbol(p.Base) + "/" + normaliseSymbol(p.Quote)
}

// SourceDescriptor is the registry record for one oracle source.
type SourceDescriptor struct {
	// SourceRef is the opaque reference used by the adapter to locate the
	// upstream feed (contract address, endpoint id, ...).
	SourceRef string
	// Kind selects the adapter used to fetch from this source.
	Kind Kind
	// Heartbeat is the advertised update cadence in seconds. Informational
	// only; staleness is always enforced against the caller's max age.
	Heartbeat uint64
	// Priority orders the fallback cascade. Lower values are tried first.
	Priority uint8
	// Active gates the descriptor without removing it from the list.
	Active bool
}

// Copy returns a value copy to keep stored lists immutable to callers.
func (d SourceDescriptor) Copy() SourceDescriptor {
	clone := d
	clone.SourceRef = strings.TrimSpace(d.SourceRef)
	return clone
}

// PriceObservation is the normalised result shape shared by every source kind.
type PriceObservation struct {
	// Price is the scaled integer price.
	Price *big.Int
	// Decimals is the scale applied to Price.
	Decimals uint8
	// Timestamp is the unix time the upstream reported for the value.
	Timestamp int64
	// Confidence is the feed-reported confidence interval, zero when the
	// source cannot provide one.
	Confidence *big.Int
	// Kind records which adapter produced the observation.
	Kind Kind
}

// Valid reports whether the observation may win the fallback cascade.
func (o PriceObservation) Valid() bool {
	return o.Price != nil && o.Price.Sign() > 0 && o.Timestamp > 0
}

// Copy returns a deep copy to prevent callers mutating shared state.
func (o PriceObservation) Copy() PriceObservation {
	clone := PriceObservation{Decimals: o.Decimals, Timestamp: o.Timestamp, Kind: o.Kind}
	if o.Price != nil {
		clone.Price = new(big.Int).Set(o.Price)
	}
	if o.Confidence != nil {
		clone.Confidence = new(big.Int).Set(o.Confidence)
	}
	return clone
}

// TWAPObservation is one entry in a pair's bounded price history.
type TWAPObservation struct {
	// Price is the recorded price scaled to eighteen decimals.
	Price *big.Int
	// Timestamp is the unix time the observation was recorded.
	Timestamp int64
	// Cumulative is the running price multiplied by time integral up to this
	// observation.
	Cumulative *big.Int
}

// Copy returns a deep copy of the observation.
func (o TWAPObservation) Copy() TWAPObservation {
	clone := TWAPObservation{Timestamp: o.Timestamp}
	if o.Price != nil {
		clone.Price = new(big.Int).Set(o.Price)
	}
	if o.Cumulative != nil {
		clone.Cumulative = new(big.Int).Set(o.Cumulative)
	}
	return clone
}

// CustomPrice is the latest emergency override for a pair. It is consulted
// only after every registered source has failed.
type CustomPrice struct {
	Price     *big.Int
	Decimals  uint8
	Timestamp int64
}

// Copy returns a deep copy of the custom price.
func (c CustomPrice) Copy() CustomPrice {
	clone := CustomPrice{Decimals: c.Decimals, Timestamp: c.Timestamp}
	if c.Price != nil {
		clone.Price = new(big.Int).Set(c.Price)
	}
	return clone
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

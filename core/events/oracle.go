package events

import (
	"math/big"
	"strings"
)

const (
	// TypeOracleSourceRegistered is emitted when an oracle source descriptor
	// is added to a pair's registry.
	TypeOracleSourceRegistered = "oracle.source.registered"
	// TypeOracleSourceDeactivated is emitted when a descriptor is soft
	// deleted via its active flag.
	TypeOracleSourceDeactivated = "oracle.source.deactivated"
	// TypeOracleCustomPriceSet is emitted when an emergency price override is
	// recorded for a pair.
	TypeOracleCustomPriceSet = "oracle.custom_price.set"
	// TypeOracleObservationRecorded is emitted for every TWAP observation
	// appended by the recorder.
	TypeOracleObservationRecorded = "oracle.observation.recorded"
)

// OracleSourceRegistered captures a successful registry insertion.
type OracleSourceRegistered struct {
	Pair      string
	SourceRef string
	Kind      string
	Priority  uint8
}

func (OracleSourceRegistered) EventType() string { return TypeOracleSourceRegistered }

// Attributes renders the event payload for indexers.
func (e OracleSourceRegistered) Attributes() map[string]string {
	return map[string]string{
		"pair":      strings.TrimSpace(e.Pair),
		"sourceRef": strings.TrimSpace(e.SourceRef),
		"kind":      strings.TrimSpace(e.Kind),
		"priority":  uintString(e.Priority),
	}
}

// OracleSourceDeactivated captures a descriptor soft delete.
type OracleSourceDeactivated struct {
	Pair      string
	SourceRef string
}

func (OracleSourceDeactivated) EventType() string { return TypeOracleSourceDeactivated }

// Attributes renders the event payload for indexers.
func (e OracleSourceDeactivated) Attributes() map[string]string {
	return map[string]string{
		"pair":      strings.TrimSpace(e.Pair),
		"sourceRef": strings.TrimSpace(e.SourceRef),
	}
}

// OracleCustomPriceSet captures an emergency price override.
type OracleCustomPriceSet struct {
	Pair     string
	Price    *big.Int
	Decimals uint8
}

func (OracleCustomPriceSet) EventType() string { return TypeOracleCustomPriceSet }

// Attributes renders the event payload for indexers.
func (e OracleCustomPriceSet) Attributes() map[string]string {
	price := big.NewInt(0)
	if e.Price != nil {
		price = new(big.Int).Set(e.Price)
	}
	return map[string]string{
		"pair":     strings.TrimSpace(e.Pair),
		"price":    price.String(),
		"decimals": uintString(e.Decimals),
	}
}

// OracleObservationRecorded captures a TWAP history append.
type OracleObservationRecorded struct {
	Pair      string
	Price     *big.Int
	Timestamp int64
}

func (OracleObservationRecorded) EventType() string { return TypeOracleObservationRecorded }

// Attributes renders the event payload for indexers.
func (e OracleObservationRecorded) Attributes() map[string]string {
	price := big.NewInt(0)
	if e.Price != nil {
		price = new(big.Int).Set(e.Price)
	}
	return map[string]string{
		"pair":      strings.TrimSpace(e.Pair),
		"price":     price.String(),
		"timestamp": big.NewInt(e.Timestamp).String(),
	}
}

func uintString(v uint8) string {
	return big.NewInt(int64(v)).String()
}

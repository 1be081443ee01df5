package oracle

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Storage abstracts the subset of state manager functionality required by the
// oracle engine. Injecting it keeps every component testable against an
// in-memory database.
type Storage interface {
	HasRole(role string, addr []byte) bool
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type storedDescriptor struct {
	SourceRef string
	Kind      uint8
	Heartbeat uint64
	Priority  uint8
	Active    bool
}

type storedObservation struct {
	Price      string
	Timestamp  uint64
	Cumulative string
}

type storedTWAPWindow struct {
	Head    uint32
	Entries []storedObservation
}

type storedCustomPrice struct {
	Price     string
	Decimals  uint8
	Timestamp uint64
}

// State mediates typed, RLP-backed access to the engine's persistent keyed
// storage. All amounts are persisted as decimal strings to keep the on-disk
// encoding independent of big.Int internals.
type State struct {
	st Storage
}

// NewState wraps the provided storage.
func NewState(st Storage) *State {
	return &State{st: st}
}

func (s *State) hasRole(role string, addr []byte) bool {
	if s == nil || s.st == nil {
		return false
	}
	return s.st.HasRole(role, addr)
}

func (s *State) descriptors(pair Pair) ([]SourceDescriptor, error) {
	if s == nil || s.st == nil {
		return nil, fmt.Errorf("oracle: state not initialised")
	}
	var stored []storedDescriptor
	if _, err := s.st.KVGet(registryKey(pair), &stored); err != nil {
		return nil, err
	}
	out := make([]SourceDescriptor, 0, len(stored))
	for _, entry := range stored {
		out = append(out, SourceDescriptor{
			SourceRef: entry.SourceRef,
			Kind:      Kind(entry.Kind),
			Heartbeat: entry.Heartbeat,
			Priority:  entry.Priority,
			Active:    entry.Active,
		})
	}
	return out, nil
}

func (s *State) putDescriptors(pair Pair, descriptors []SourceDescriptor) error {
	if s == nil || s.st == nil {
		return fmt.Errorf("oracle: state not initialised")
	}
	stored := make([]storedDescriptor, 0, len(descriptors))
	for _, entry := range descriptors {
		stored = append(stored, storedDescriptor{
			SourceRef: strings.TrimSpace(entry.SourceRef),
			Kind:      uint8(entry.Kind),
			Heartbeat: entry.Heartbeat,
			Priority:  entry.Priority,
			Active:    entry.Active,
		})
	}
	return s.st.KVPut(registryKey(pair), stored)
}

func (s *State) loadWindow(pair Pair) (*twapWindow, error) {
	if s == nil || s.st == nil {
		return nil, fmt.Errorf("oracle: state not initialised")
	}
	var stored storedTWAPWindow
	if _, err := s.st.KVGet(twapKey(pair), &stored); err != nil {
		return nil, err
	}
	entries := make([]TWAPObservation, 0, len(stored.Entries))
	for _, entry := range stored.Entries {
		price, err := parseAmount(entry.Price)
		if err != nil {
			return nil, fmt.Errorf("oracle: twap price for %s: %w", pair, err)
		}
		cumulative, err := parseAmount(entry.Cumulative)
		if err != nil {
			return nil, fmt.Errorf("oracle: twap cumulative for %s: %w", pair, err)
		}
		entries = append(entries, TWAPObservation{
			Price:      price,
			Timestamp:  int64(entry.Timestamp),
			Cumulative: cumulative,
		})
	}
	return &twapWindow{head: int(stored.Head), entries: entries}, nil
}

func (s *State) saveWindow(pair Pair, window *twapWindow) error {
	if s == nil || s.st == nil {
		return fmt.Errorf("oracle: state not initialised")
	}
	if window == nil {
		return fmt.Errorf("oracle: window must not be nil")
	}
	stored := storedTWAPWindow{Head: uint32(window.head)}
	stored.Entries = make([]storedObservation, 0, len(window.entries))
	for _, entry := range window.entries {
		stored.Entries = append(stored.Entries, storedObservation{
			Price:      amountString(entry.Price),
			Timestamp:  sanitizeUnix(entry.Timestamp),
			Cumulative: amountString(entry.Cumulative),
		})
	}
	return s.st.KVPut(twapKey(pair), &stored)
}

func (s *State) customPrice(pair Pair) (CustomPrice, bool, error) {
	if s == nil || s.st == nil {
		return CustomPrice{}, false, fmt.Errorf("oracle: state not initialised")
	}
	var stored storedCustomPrice
	ok, err := s.st.KVGet(customPriceKey(pair), &stored)
	if err != nil || !ok {
		return CustomPrice{}, false, err
	}
	price, err := parseAmount(stored.Price)
	if err != nil {
		return CustomPrice{}, false, fmt.Errorf("oracle: custom price for %s: %w", pair, err)
	}
	return CustomPrice{Price: price, Decimals: stored.Decimals, Timestamp: int64(stored.Timestamp)}, true, nil
}

func (s *State) setCustomPrice(pair Pair, price CustomPrice) error {
	if s == nil || s.st == nil {
		return fmt.Errorf("oracle: state not initialised")
	}
	stored := storedCustomPrice{
		Price:     amountString(price.Price),
		Decimals:  price.Decimals,
		Timestamp: sanitizeUnix(price.Timestamp),
	}
	return s.st.KVPut(customPriceKey(pair), &stored)
}

func (s *State) feedID(token string) (string, bool, error) {
	if s == nil || s.st == nil {
		return "", false, fmt.Errorf("oracle: state not initialised")
	}
	var stored string
	ok, err := s.st.KVGet(feedIDKey(token), &stored)
	if err != nil || !ok {
		return "", false, err
	}
	return stored, true, nil
}

func (s *State) setFeedID(token, feedID string) error {
	if s == nil || s.st == nil {
		return fmt.Errorf("oracle: state not initialised")
	}
	return s.st.KVPut(feedIDKey(token), strings.TrimSpace(feedID))
}

func (s *State) stalenessThreshold(pair Pair) (time.Duration, bool, error) {
	if s == nil || s.st == nil {
		return 0, false, fmt.Errorf("oracle: state not initialised")
	}
	var seconds uint64
	ok, err := s.st.KVGet(stalenessKey(pair), &seconds)
	if err != nil || !ok {
		return 0, false, err
	}
	return time.Duration(seconds) * time.Second, true, nil
}

func (s *State) setStalenessThreshold(pair Pair, maxAge time.Duration) error {
	if s == nil || s.st == nil {
		return fmt.Errorf("oracle: state not initialised")
	}
	return s.st.KVPut(stalenessKey(pair), uint64(maxAge/time.Second))
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

func amountString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

func sanitizeUnix(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

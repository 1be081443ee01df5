package oracle

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"reefchain/core/events"
)

// Admin exposes the gated mutation surface for feed id mappings, staleness
// overrides and the emergency custom price. Every method validates its full
// input before the first write so a failed call leaves no partial state.
type Admin struct {
	state   *State
	emitter events.Emitter
	now     func() time.Time
}

// NewAdmin creates an administrative surface backed by the provided storage.
func NewAdmin(st Storage) *Admin {
	return &Admin{state: NewState(st), emitter: events.NoopEmitter{}, now: time.Now}
}

// SetClock overrides the time source for deterministic testing.
func (a *Admin) SetClock(clock func() time.Time) {
	if a == nil || clock == nil {
		return
	}
	a.now = clock
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (a *Admin) SetEmitter(emitter events.Emitter) {
	if a == nil {
		return
	}
	if emitter == nil {
		a.emitter = events.NoopEmitter{}
		return
	}
	a.emitter = emitter
}

func (a *Admin) authorise(caller [20]byte) error {
	if a == nil || a.state == nil {
		return fmt.Errorf("oracle: admin not initialised")
	}
	if !a.state.hasRole(RoleOracleAdmin, caller[:]) {
		return ErrUnauthorized
	}
	return nil
}

// SetFeedID maps a token symbol to the opaque id pull and index adapters use
// to locate the right upstream feed.
func (a *Admin) SetFeedID(caller [20]byte, token, feedID string) error {
	if err := a.authorise(caller); err != nil {
		return err
	}
	symbol := normaliseSymbol(token)
	if symbol == "" {
		return fmt.Errorf("%w: token required", ErrInvalidOracle)
	}
	trimmed := strings.TrimSpace(feedID)
	if trimmed == "" {
		return fmt.Errorf("%w: feed id required", ErrInvalidOracle)
	}
	return a.state.setFeedID(symbol, trimmed)
}

// SetFeedIDBatch maps several tokens at once. The inputs must be equal
// length; the whole batch is validated before anything is written, so a
// rejected call leaves no partial state. Each mapping is stored under its own
// key, which means a storage fault mid-batch can leave the already written
// prefix applied. Re-running the batch converges.
func (a *Admin) SetFeedIDBatch(caller [20]byte, tokens, feedIDs []string) error {
	if err := a.authorise(caller); err != nil {
		return err
	}
	if len(tokens) != len(feedIDs) {
		return fmt.Errorf("%w: %d tokens against %d feed ids", ErrInvalidOracle, len(tokens), len(feedIDs))
	}
	symbols := make([]string, len(tokens))
	trimmed := make([]string, len(feedIDs))
	for i := range tokens {
		symbols[i] = normaliseSymbol(tokens[i])
		if symbols[i] == "" {
			return fmt.Errorf("%w: token %d required", ErrInvalidOracle, i)
		}
		trimmed[i] = strings.TrimSpace(feedIDs[i])
		if trimmed[i] == "" {
			return fmt.Errorf("%w: feed id %d required", ErrInvalidOracle, i)
		}
	}
	for i := range symbols {
		if err := a.state.setFeedID(symbols[i], trimmed[i]); err != nil {
			return err
		}
	}
	return nil
}

// SetStalenessThreshold overrides the default freshness window used by
// Resolve for one pair.
func (a *Admin) SetStalenessThreshold(caller [20]byte, pair Pair, maxAge time.Duration) error {
	if err := a.authorise(caller); err != nil {
		return err
	}
	if maxAge <= 0 {
		return fmt.Errorf("%w: staleness threshold must be positive", ErrInvalidOracle)
	}
	return a.state.setStalenessThreshold(pair, maxAge)
}

// SetCustomPrice records the emergency override for a pair, stamped with the
// current time. It is consulted only after every registered source fails.
func (a *Admin) SetCustomPrice(caller [20]byte, pair Pair, price *big.Int, decimals uint8) error {
	if err := a.authorise(caller); err != nil {
		return err
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("%w: custom price must be positive", ErrInvalidPrice)
	}
	custom := CustomPrice{
		Price:     new(big.Int).Set(price),
		Decimals:  decimals,
		Timestamp: a.now().UTC().Unix(),
	}
	if err := a.state.setCustomPrice(pair, custom); err != nil {
		return err
	}
	a.emitter.Emit(events.OracleCustomPriceSet{
		Pair:     pair.String(),
		Price:    new(big.Int).Set(price),
		Decimals: decimals,
	})
	return nil
}

package oracle

import (
	"fmt"
	"math/big"
	"time"

	"reefchain/core/events"
)

// twapSampleCap bounds the stored history per pair. At the expected five
// minute recorder cadence the window covers a rolling 24 hours.
const twapSampleCap = 288

// twapWindow is a fixed-capacity ring over a pair's observations. Once full,
// head marks the oldest entry and appends overwrite it in place, which keeps
// eviction O(1) instead of shifting the whole slice.
type twapWindow struct {
	head    int
	entries []TWAPObservation
}

func (w *twapWindow) len() int {
	return len(w.entries)
}

func (w *twapWindow) append(obs TWAPObservation) {
	if len(w.entries) < twapSampleCap {
		w.entries = append(w.entries, obs)
		return
	}
	w.entries[w.head] = obs
	w.head = (w.head + 1) % twapSampleCap
}

func (w *twapWindow) latest() (TWAPObservation, bool) {
	if len(w.entries) == 0 {
		return TWAPObservation{}, false
	}
	if len(w.entries) < twapSampleCap {
		return w.entries[len(w.entries)-1], true
	}
	idx := (w.head - 1 + twapSampleCap) % twapSampleCap
	return w.entries[idx], true
}

// ordered returns the observations oldest first.
func (w *twapWindow) ordered() []TWAPObservation {
	out := make([]TWAPObservation, 0, len(w.entries))
	if len(w.entries) < twapSampleCap {
		for _, entry := range w.entries {
			out = append(out, entry.Copy())
		}
		return out
	}
	for i := 0; i < twapSampleCap; i++ {
		out = append(out, w.entries[(w.head+i)%twapSampleCap].Copy())
	}
	return out
}

// History maintains the per-pair bounded observation sequence and computes
// time-weighted average prices from cumulative price-time integrals.
type History struct {
	state   *State
	emitter events.Emitter
	now     func() time.Time
}

// NewHistory creates a history backed by the provided storage.
func NewHistory(st Storage) *History {
	return &History{state: NewState(st), emitter: events.NoopEmitter{}, now: time.Now}
}

// SetClock overrides the time source for deterministic testing.
func (h *History) SetClock(clock func() time.Time) {
	if h == nil || clock == nil {
		return
	}
	h.now = clock
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (h *History) SetEmitter(emitter events.Emitter) {
	if h == nil {
		return
	}
	if emitter == nil {
		h.emitter = events.NoopEmitter{}
		return
	}
	h.emitter = emitter
}

// RecordObservation appends {price, now, cumulative} to the pair's history,
// extending the running price-time integral and evicting the oldest entry
// once the window exceeds capacity. Only ROLE_ORACLE_RECORDER or
// ROLE_ORACLE_ADMIN callers may record.
func (h *History) RecordObservation(caller [20]byte, pair Pair, price *big.Int) error {
	if h == nil || h.state == nil {
		return fmt.Errorf("oracle: history not initialised")
	}
	if !h.state.hasRole(RoleOracleRecorder, caller[:]) && !h.state.hasRole(RoleOracleAdmin, caller[:]) {
		return ErrUnauthorized
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("%w: observation must be positive", ErrInvalidPrice)
	}
	window, err := h.state.loadWindow(pair)
	if err != nil {
		return err
	}
	now := h.now().UTC().Unix()
	cumulative := big.NewInt(0)
	if last, ok := window.latest(); ok {
		elapsed := now - last.Timestamp
		if elapsed < 0 {
			return fmt.Errorf("%w: observation timestamp regressed", ErrInvalidPrice)
		}
		cumulative = new(big.Int).Mul(last.Price, big.NewInt(elapsed))
		cumulative.Add(cumulative, last.Cumulative)
	}
	window.append(TWAPObservation{
		Price:      new(big.Int).Set(price),
		Timestamp:  now,
		Cumulative: cumulative,
	})
	if err := h.state.saveWindow(pair, window); err != nil {
		return err
	}
	h.emitter.Emit(events.OracleObservationRecorded{
		Pair:      pair.String(),
		Price:     new(big.Int).Set(price),
		Timestamp: now,
	})
	return nil
}

// Observations returns the stored history oldest first.
func (h *History) Observations(pair Pair) ([]TWAPObservation, error) {
	if h == nil || h.state == nil {
		return nil, fmt.Errorf("oracle: history not initialised")
	}
	window, err := h.state.loadWindow(pair)
	if err != nil {
		return nil, err
	}
	return window.ordered(), nil
}

// TWAP computes the time-weighted average price over the trailing period. The
// window start is the newest observation at or before now-period, or the
// earliest stored observation when none qualifies. When the selected window
// spans zero elapsed time the latest recorded price is returned directly; see
// WindowAverage for the stricter adapter-facing behaviour.
func (h *History) TWAP(pair Pair, period time.Duration) (PriceObservation, error) {
	if h == nil || h.state == nil {
		return PriceObservation{}, fmt.Errorf("oracle: history not initialised")
	}
	entries, err := h.Observations(pair)
	if err != nil {
		return PriceObservation{}, err
	}
	if len(entries) < 2 {
		return PriceObservation{}, fmt.Errorf("%w: twap needs at least two observations for %s", ErrNoPriceFeed, pair)
	}
	target := h.now().UTC().Unix() - int64(period/time.Second)
	newest := entries[len(entries)-1]
	start := entries[0]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Timestamp <= target {
			start = entries[i]
			break
		}
	}
	elapsed := newest.Timestamp - start.Timestamp
	if elapsed == 0 {
		return PriceObservation{
			Price:      new(big.Int).Set(newest.Price),
			Decimals:   18,
			Timestamp:  newest.Timestamp,
			Confidence: big.NewInt(0),
			Kind:       KindTWAP,
		}, nil
	}
	return averageObservation(start, newest, elapsed), nil
}

// WindowAverage computes the average across the entire stored window. Unlike
// TWAP it fails with ErrInvalidPrice on zero elapsed time; the fallback
// cascade treats that as "advance to the next source".
func (h *History) WindowAverage(pair Pair) (PriceObservation, error) {
	if h == nil || h.state == nil {
		return PriceObservation{}, fmt.Errorf("oracle: history not initialised")
	}
	entries, err := h.Observations(pair)
	if err != nil {
		return PriceObservation{}, err
	}
	if len(entries) < 2 {
		return PriceObservation{}, fmt.Errorf("%w: twap needs at least two observations for %s", ErrNoPriceFeed, pair)
	}
	first := entries[0]
	last := entries[len(entries)-1]
	elapsed := last.Timestamp - first.Timestamp
	if elapsed == 0 {
		return PriceObservation{}, fmt.Errorf("%w: zero elapsed time in twap window", ErrInvalidPrice)
	}
	return averageObservation(first, last, elapsed), nil
}

func averageObservation(start, end TWAPObservation, elapsed int64) PriceObservation {
	delta := new(big.Int).Sub(end.Cumulative, start.Cumulative)
	average := delta.Quo(delta, big.NewInt(elapsed))
	return PriceObservation{
		Price:      average,
		Decimals:   18,
		Timestamp:  end.Timestamp,
		Confidence: big.NewInt(0),
		Kind:       KindTWAP,
	}
}

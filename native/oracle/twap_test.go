package oracle_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	oracle "reefchain/native/oracle"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock(start int64) *fakeClock {
	return &fakeClock{now: time.Unix(start, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func scaled(value int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(value), scale)
}

func TestRecordObservationUnauthorized(t *testing.T) {
	history := oracle.NewHistory(newTestManager(t))
	pair := mustPair(t, "REEF", "USD")
	err := history.RecordObservation(outsiderAddr, pair, big.NewInt(100))
	if !errors.Is(err, oracle.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRecordObservationRejectsNonPositive(t *testing.T) {
	history := oracle.NewHistory(newTestManager(t))
	pair := mustPair(t, "REEF", "USD")
	if err := history.RecordObservation(recorderAddr, pair, big.NewInt(0)); !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	if err := history.RecordObservation(recorderAddr, pair, nil); !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for nil, got %v", err)
	}
}

func TestTWAPRequiresTwoObservations(t *testing.T) {
	history := oracle.NewHistory(newTestManager(t))
	pair := mustPair(t, "REEF", "USD")
	if _, err := history.TWAP(pair, time.Hour); !errors.Is(err, oracle.ErrNoPriceFeed) {
		t.Fatalf("expected ErrNoPriceFeed with no observations, got %v", err)
	}
	if err := history.RecordObservation(recorderAddr, pair, scaled(100)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := history.TWAP(pair, time.Hour); !errors.Is(err, oracle.ErrNoPriceFeed) {
		t.Fatalf("expected ErrNoPriceFeed with one observation, got %v", err)
	}
}

func TestTWAPReturnsTimeWeightedPrice(t *testing.T) {
	history := oracle.NewHistory(newTestManager(t))
	clock := newFakeClock(1_700_000_000)
	history.SetClock(clock.Now)
	pair := mustPair(t, "REEF", "USD")

	if err := history.RecordObservation(recorderAddr, pair, scaled(100)); err != nil {
		t.Fatalf("record first: %v", err)
	}
	clock.Advance(10 * time.Minute)
	if err := history.RecordObservation(recorderAddr, pair, scaled(200)); err != nil {
		t.Fatalf("record second: %v", err)
	}

	// The window integral only covers time the first price was in effect, so
	// the average is exactly the first price, not the latest.
	for _, period := range []time.Duration{10 * time.Minute, time.Hour} {
		observation, err := history.TWAP(pair, period)
		if err != nil {
			t.Fatalf("twap over %v: %v", period, err)
		}
		if observation.Price.Cmp(scaled(100)) != 0 {
			t.Fatalf("twap over %v: expected %s, got %s", period, scaled(100), observation.Price)
		}
		if observation.Decimals != 18 {
			t.Fatalf("expected 18 decimals, got %d", observation.Decimals)
		}
		if observation.Kind != oracle.KindTWAP {
			t.Fatalf("expected twap kind, got %s", observation.Kind)
		}
	}
}

func TestTWAPWeightsLongerIntervalsHeavier(t *testing.T) {
	history := oracle.NewHistory(newTestManager(t))
	clock := newFakeClock(1_700_000_000)
	history.SetClock(clock.Now)
	pair := mustPair(t, "REEF", "USD")

	// 100 in effect for 30 minutes, 200 for 10 minutes:
	// (100*1800 + 200*600) / 2400 = 125.
	if err := history.RecordObservation(recorderAddr, pair, scaled(100)); err != nil {
		t.Fatalf("record: %v", err)
	}
	clock.Advance(30 * time.Minute)
	if err := history.RecordObservation(recorderAddr, pair, scaled(200)); err != nil {
		t.Fatalf("record: %v", err)
	}
	clock.Advance(10 * time.Minute)
	if err := history.RecordObservation(recorderAddr, pair, scaled(300)); err != nil {
		t.Fatalf("record: %v", err)
	}

	observation, err := history.TWAP(pair, time.Hour)
	if err != nil {
		t.Fatalf("twap: %v", err)
	}
	if observation.Price.Cmp(scaled(125)) != 0 {
		t.Fatalf("expected %s, got %s", scaled(125), observation.Price)
	}
}

func TestTWAPWindowEviction(t *testing.T) {
	history := oracle.NewHistory(newTestManager(t))
	clock := newFakeClock(1_700_000_000)
	history.SetClock(clock.Now)
	pair := mustPair(t, "REEF", "USD")

	for i := 0; i < 289; i++ {
		if err := history.RecordObservation(recorderAddr, pair, scaled(int64(i+1))); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		clock.Advance(5 * time.Minute)
	}

	stored, err := history.Observations(pair)
	if err != nil {
		t.Fatalf("observations: %v", err)
	}
	if len(stored) != 288 {
		t.Fatalf("expected 288 observations after eviction, got %d", len(stored))
	}
	// The very first observation (price 1) was evicted, so the window now
	// starts one cadence later.
	if stored[0].Price.Cmp(scaled(2)) != 0 {
		t.Fatalf("expected oldest price 2, got %s", stored[0].Price)
	}
	if stored[0].Timestamp != 1_700_000_000+300 {
		t.Fatalf("unexpected earliest timestamp %d", stored[0].Timestamp)
	}
	for i := 1; i < len(stored); i++ {
		if stored[i].Timestamp < stored[i-1].Timestamp {
			t.Fatalf("timestamps regressed at %d", i)
		}
	}
	if stored[len(stored)-1].Price.Cmp(scaled(289)) != 0 {
		t.Fatalf("expected newest price 289, got %s", stored[len(stored)-1].Price)
	}
}

func TestTWAPZeroElapsedReturnsLatest(t *testing.T) {
	history := oracle.NewHistory(newTestManager(t))
	clock := newFakeClock(1_700_000_000)
	history.SetClock(clock.Now)
	pair := mustPair(t, "REEF", "USD")

	if err := history.RecordObservation(recorderAddr, pair, scaled(100)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := history.RecordObservation(recorderAddr, pair, scaled(250)); err != nil {
		t.Fatalf("record: %v", err)
	}

	// Both observations share a timestamp. The windowed TWAP keeps answering
	// with the latest price while the adapter-facing average refuses.
	observation, err := history.TWAP(pair, time.Hour)
	if err != nil {
		t.Fatalf("twap: %v", err)
	}
	if observation.Price.Cmp(scaled(250)) != 0 {
		t.Fatalf("expected latest price, got %s", observation.Price)
	}

	if _, err := history.WindowAverage(pair); !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice from window average, got %v", err)
	}
}

func TestTWAPCumulativeIntegralPersists(t *testing.T) {
	manager := newTestManager(t)
	history := oracle.NewHistory(manager)
	clock := newFakeClock(1_700_000_000)
	history.SetClock(clock.Now)
	pair := mustPair(t, "REEF", "USD")

	if err := history.RecordObservation(recorderAddr, pair, scaled(100)); err != nil {
		t.Fatalf("record: %v", err)
	}
	clock.Advance(10 * time.Minute)
	if err := history.RecordObservation(recorderAddr, pair, scaled(200)); err != nil {
		t.Fatalf("record: %v", err)
	}

	// A separate history over the same storage sees the identical integral.
	reloaded := oracle.NewHistory(manager)
	reloaded.SetClock(clock.Now)
	stored, err := reloaded.Observations(pair)
	if err != nil {
		t.Fatalf("observations: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(stored))
	}
	wantCumulative := new(big.Int).Mul(scaled(100), big.NewInt(600))
	if stored[1].Cumulative.Cmp(wantCumulative) != 0 {
		t.Fatalf("expected cumulative %s, got %s", wantCumulative, stored[1].Cumulative)
	}
}

package oracle_test

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	oracle "reefchain/native/oracle"
)

type pushClientFunc func(ref string) (oracle.PushRound, error)

func (f pushClientFunc) LatestRound(ref string) (oracle.PushRound, error) {
	return f(ref)
}

type pullClientFunc func(feedID string, maxAge time.Duration) (oracle.PullPrice, error)

func (f pullClientFunc) LatestPrice(feedID string, maxAge time.Duration) (oracle.PullPrice, error) {
	return f(feedID, maxAge)
}

type indexClient struct {
	value     *big.Int
	updatedAt int64
	valueErr  error
}

func (c *indexClient) Value(feedID string) (*big.Int, error) {
	if c.valueErr != nil {
		return nil, c.valueErr
	}
	return c.value, nil
}

func (c *indexClient) UpdatedAt(feedID string) (int64, error) {
	return c.updatedAt, nil
}

func TestPushFeedAdapterIncompleteRound(t *testing.T) {
	clock := newFakeClock(1_700_000_000)
	adapter := oracle.NewPushFeedAdapter(pushClientFunc(func(string) (oracle.PushRound, error) {
		return oracle.PushRound{
			RoundID:         10,
			Answer:          big.NewInt(5000),
			UpdatedAt:       clock.Now().Unix(),
			AnsweredInRound: 9,
			Decimals:        8,
		}, nil
	}))
	adapter.SetClock(clock.Now)
	pair := mustPair(t, "REEF", "USD")
	_, err := adapter.Fetch(pair, descriptor("push-1", oracle.KindPushFeed, 1), time.Hour)
	if !errors.Is(err, oracle.ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice for incomplete round, got %v", err)
	}
}

func TestPushFeedAdapterValid(t *testing.T) {
	clock := newFakeClock(1_700_000_000)
	adapter := oracle.NewPushFeedAdapter(pushClientFunc(func(string) (oracle.PushRound, error) {
		return oracle.PushRound{
			RoundID:         10,
			Answer:          big.NewInt(5000),
			UpdatedAt:       clock.Now().Unix() - 30,
			AnsweredInRound: 10,
			Decimals:        8,
		}, nil
	}))
	adapter.SetClock(clock.Now)
	pair := mustPair(t, "REEF", "USD")
	observation, err := adapter.Fetch(pair, descriptor("push-1", oracle.KindPushFeed, 1), time.Hour)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if observation.Price.Cmp(big.NewInt(5000)) != 0 || observation.Decimals != 8 {
		t.Fatalf("unexpected observation %+v", observation)
	}
	if observation.Confidence == nil || observation.Confidence.Sign() != 0 {
		t.Fatalf("push feeds report no confidence, got %v", observation.Confidence)
	}
}

func TestPushFeedAdapterStale(t *testing.T) {
	clock := newFakeClock(1_700_000_000)
	adapter := oracle.NewPushFeedAdapter(pushClientFunc(func(string) (oracle.PushRound, error) {
		return oracle.PushRound{
			RoundID:         10,
			Answer:          big.NewInt(5000),
			UpdatedAt:       clock.Now().Unix() - 1,
			AnsweredInRound: 10,
			Decimals:        8,
		}, nil
	}))
	adapter.SetClock(clock.Now)
	pair := mustPair(t, "REEF", "USD")
	if _, err := adapter.Fetch(pair, descriptor("push-1", oracle.KindPushFeed, 1), 0); !errors.Is(err, oracle.ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice with zero max age, got %v", err)
	}
}

func TestPushFeedAdapterNonPositiveAnswer(t *testing.T) {
	clock := newFakeClock(1_700_000_000)
	adapter := oracle.NewPushFeedAdapter(pushClientFunc(func(string) (oracle.PushRound, error) {
		return oracle.PushRound{
			RoundID:         10,
			Answer:          big.NewInt(0),
			UpdatedAt:       clock.Now().Unix(),
			AnsweredInRound: 10,
			Decimals:        8,
		}, nil
	}))
	adapter.SetClock(clock.Now)
	pair := mustPair(t, "REEF", "USD")
	if _, err := adapter.Fetch(pair, descriptor("push-1", oracle.KindPushFeed, 1), time.Hour); !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func newPullHarness(t *testing.T, client oracle.PullFeedClient) (*oracle.PullFeedAdapter, *oracle.Admin) {
	t.Helper()
	manager := newTestManager(t)
	admin := oracle.NewAdmin(manager)
	return oracle.NewPullFeedAdapter(manager, client), admin
}

func TestPullFeedAdapterUnmappedToken(t *testing.T) {
	adapter, _ := newPullHarness(t, pullClientFunc(func(string, time.Duration) (oracle.PullPrice, error) {
		t.Fatalf("client must not be called without a feed id")
		return oracle.PullPrice{}, nil
	}))
	pair := mustPair(t, "REEF", "USD")
	if _, err := adapter.Fetch(pair, descriptor("pull-1", oracle.KindPullFeed, 1), time.Hour); !errors.Is(err, oracle.ErrNoPriceFeed) {
		t.Fatalf("expected ErrNoPriceFeed, got %v", err)
	}
}

func TestPullFeedAdapterNegativeExponent(t *testing.T) {
	now := int64(1_700_000_000)
	adapter, admin := newPullHarness(t, pullClientFunc(func(feedID string, maxAge time.Duration) (oracle.PullPrice, error) {
		if feedID != "pyth-reef" {
			return oracle.PullPrice{}, fmt.Errorf("unexpected feed id %q", feedID)
		}
		return oracle.PullPrice{
			Price:      big.NewInt(123_456),
			Expo:       -8,
			Confidence: big.NewInt(42),
			Timestamp:  now,
		}, nil
	}))
	if err := admin.SetFeedID(adminAddr, "REEF", "pyth-reef"); err != nil {
		t.Fatalf("set feed id: %v", err)
	}
	pair := mustPair(t, "REEF", "USD")
	observation, err := adapter.Fetch(pair, descriptor("pull-1", oracle.KindPullFeed, 1), time.Hour)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if observation.Price.Cmp(big.NewInt(123_456)) != 0 {
		t.Fatalf("negative exponents keep the raw price, got %s", observation.Price)
	}
	if observation.Decimals != 8 {
		t.Fatalf("expected 8 decimals, got %d", observation.Decimals)
	}
	if observation.Confidence.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("expected feed confidence, got %v", observation.Confidence)
	}
}

func TestPullFeedAdapterPositiveExponent(t *testing.T) {
	adapter, admin := newPullHarness(t, pullClientFunc(func(string, time.Duration) (oracle.PullPrice, error) {
		return oracle.PullPrice{Price: big.NewInt(5), Expo: 2, Timestamp: 1_700_000_000}, nil
	}))
	if err := admin.SetFeedID(adminAddr, "REEF", "pyth-reef"); err != nil {
		t.Fatalf("set feed id: %v", err)
	}
	pair := mustPair(t, "REEF", "USD")
	observation, err := adapter.Fetch(pair, descriptor("pull-1", oracle.KindPullFeed, 1), time.Hour)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if observation.Price.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected 500, got %s", observation.Price)
	}
	if observation.Decimals != 18 {
		t.Fatalf("positive exponents normalise to 18 decimals, got %d", observation.Decimals)
	}
}

func TestPullFeedAdapterExponentBounds(t *testing.T) {
	cases := []struct {
		name string
		expo int32
	}{
		{"far negative", -300},
		{"beyond scaling bound", 78},
		{"int32 minimum", -2147483648},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adapter, admin := newPullHarness(t, pullClientFunc(func(string, time.Duration) (oracle.PullPrice, error) {
				return oracle.PullPrice{Price: big.NewInt(7), Expo: tc.expo, Timestamp: 1_700_000_000}, nil
			}))
			if err := admin.SetFeedID(adminAddr, "REEF", "pyth-reef"); err != nil {
				t.Fatalf("set feed id: %v", err)
			}
			pair := mustPair(t, "REEF", "USD")
			if _, err := adapter.Fetch(pair, descriptor("pull-1", oracle.KindPullFeed, 1), time.Hour); !errors.Is(err, oracle.ErrInvalidPrice) {
				t.Fatalf("expected ErrInvalidPrice for exponent %d, got %v", tc.expo, err)
			}
		})
	}
}

func TestIndexFeedAdapterZeroValue(t *testing.T) {
	manager := newTestManager(t)
	admin := oracle.NewAdmin(manager)
	clock := newFakeClock(1_700_000_000)
	adapter := oracle.NewIndexFeedAdapter(manager, &indexClient{value: big.NewInt(0), updatedAt: clock.Now().Unix()})
	adapter.SetClock(clock.Now)
	if err := admin.SetFeedID(adminAddr, "REEF", "idx-reef"); err != nil {
		t.Fatalf("set feed id: %v", err)
	}
	pair := mustPair(t, "REEF", "USD")
	if _, err := adapter.Fetch(pair, descriptor("idx-1", oracle.KindIndexFeed, 1), time.Hour); !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestIndexFeedAdapterStale(t *testing.T) {
	manager := newTestManager(t)
	admin := oracle.NewAdmin(manager)
	clock := newFakeClock(1_700_000_000)
	adapter := oracle.NewIndexFeedAdapter(manager, &indexClient{value: big.NewInt(99), updatedAt: clock.Now().Unix() - 7200})
	adapter.SetClock(clock.Now)
	if err := admin.SetFeedID(adminAddr, "REEF", "idx-reef"); err != nil {
		t.Fatalf("set feed id: %v", err)
	}
	pair := mustPair(t, "REEF", "USD")
	if _, err := adapter.Fetch(pair, descriptor("idx-1", oracle.KindIndexFeed, 1), time.Hour); !errors.Is(err, oracle.ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
}

func TestIndexFeedAdapterValid(t *testing.T) {
	manager := newTestManager(t)
	admin := oracle.NewAdmin(manager)
	clock := newFakeClock(1_700_000_000)
	adapter := oracle.NewIndexFeedAdapter(manager, &indexClient{value: big.NewInt(99_000_000), updatedAt: clock.Now().Unix() - 60})
	adapter.SetClock(clock.Now)
	if err := admin.SetFeedID(adminAddr, "REEF", "idx-reef"); err != nil {
		t.Fatalf("set feed id: %v", err)
	}
	pair := mustPair(t, "REEF", "USD")
	observation, err := adapter.Fetch(pair, descriptor("idx-1", oracle.KindIndexFeed, 1), time.Hour)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if observation.Decimals != 8 {
		t.Fatalf("index feeds are fixed at 8 decimals, got %d", observation.Decimals)
	}
	if observation.Kind != oracle.KindIndexFeed {
		t.Fatalf("unexpected kind %s", observation.Kind)
	}
}

func TestTWAPAdapterZeroElapsedFails(t *testing.T) {
	manager := newTestManager(t)
	history := oracle.NewHistory(manager)
	clock := newFakeClock(1_700_000_000)
	history.SetClock(clock.Now)
	pair := mustPair(t, "REEF", "USD")
	if err := history.RecordObservation(recorderAddr, pair, scaled(100)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := history.RecordObservation(recorderAddr, pair, scaled(200)); err != nil {
		t.Fatalf("record: %v", err)
	}
	adapter := oracle.NewTWAPAdapter(history)
	adapter.SetClock(clock.Now)
	if _, err := adapter.Fetch(pair, descriptor("twap", oracle.KindTWAP, 4), time.Hour); !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestTWAPAdapterServesWindowAverage(t *testing.T) {
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
	adapter := oracle.NewTWAPAdapter(history)
	adapter.SetClock(clock.Now)
	observation, err := adapter.Fetch(pair, descriptor("twap", oracle.KindTWAP, 4), time.Hour)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if observation.Price.Cmp(scaled(100)) != 0 {
		t.Fatalf("expected %s, got %s", scaled(100), observation.Price)
	}
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"reefchain/native/oracle"
)

// Storage wraps the oracled audit trail persistence layer.
type Storage struct {
	db *sql.DB
}

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("oracled storage path must be configured")

	// ErrSnapshotNotFound is returned when no resolution has been persisted
	// for the requested pair.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Snapshot captures one persisted price resolution.
type Snapshot struct {
	ID             string
	Pair           string
	Price          string
	Decimals       uint8
	Kind           string
	ObservedAtUnix int64
	RecordedAt     time.Time
}

// RecordSnapshot persists the outcome of a price resolution and returns the
// generated snapshot identifier.
func (s *Storage) RecordSnapshot(ctx context.Context, pair string, obs oracle.PriceObservation, recorded time.Time) (string, error) {
	if s == nil {
		return "", fmt.Errorf("storage not configured")
	}
	if obs.Price == nil {
		return "", fmt.Errorf("observation missing price")
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO price_snapshots(id, pair, price, decimals, kind, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?, ?)
    `, id, strings.ToUpper(strings.TrimSpace(pair)), obs.Price.String(), int(obs.Decimals), obs.Kind.String(), obs.Timestamp, recorded.UTC())
	if err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

// LatestSnapshot returns the most recent persisted resolution for the pair.
func (s *Storage) LatestSnapshot(ctx context.Context, pair string) (Snapshot, error) {
	result := Snapshot{}
	if s == nil {
		return result, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT id, pair, price, decimals, kind, observed_at, recorded_at
        FROM price_snapshots
        WHERE pair = ?
        ORDER BY recorded_at DESC, id DESC
        LIMIT 1
    `, strings.ToUpper(strings.TrimSpace(pair)))
	var decimals int
	if err := row.Scan(&result.ID, &result.Pair, &result.Price, &decimals, &result.Kind, &result.ObservedAtUnix, &result.RecordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, ErrSnapshotNotFound
		}
		return result, fmt.Errorf("query snapshot: %w", err)
	}
	if decimals >= 0 && decimals <= 255 {
		result.Decimals = uint8(decimals)
	}
	return result, nil
}

// RecordTwapSample persists a raw observation appended to the on-chain window.
func (s *Storage) RecordTwapSample(ctx context.Context, pair string, price, cumulative *big.Int, observedAt int64, recorded time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if price == nil {
		return fmt.Errorf("sample missing price")
	}
	cum := "0"
	if cumulative != nil {
		cum = cumulative.String()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO twap_samples(pair, price, cumulative, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, strings.ToUpper(strings.TrimSpace(pair)), price.String(), cum, observedAt, recorded.UTC())
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// RecordSourceFailure persists a swallowed per-source failure for later review.
func (s *Storage) RecordSourceFailure(ctx context.Context, pair, kind, detail string, when time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO source_failures(pair, kind, detail, occurred_at)
        VALUES(?, ?, ?, ?)
    `, strings.ToUpper(strings.TrimSpace(pair)), strings.ToLower(strings.TrimSpace(kind)), strings.TrimSpace(detail), when.UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert source failure: %w", err)
	}
	return nil
}

// SourceFailure captures one persisted fetch failure.
type SourceFailure struct {
	Pair           string
	Kind           string
	Detail         string
	OccurredAtUnix int64
}

// RecentSourceFailures returns failures recorded at or after the cutoff,
// oldest first.
func (s *Storage) RecentSourceFailures(ctx context.Context, cutoff time.Time) ([]SourceFailure, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT pair, kind, detail, occurred_at
        FROM source_failures
        WHERE occurred_at >= ?
        ORDER BY occurred_at ASC
    `, cutoff.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("query source failures: %w", err)
	}
	defer rows.Close()
	failures := make([]SourceFailure, 0)
	for rows.Next() {
		var rec SourceFailure
		if err := rows.Scan(&rec.Pair, &rec.Kind, &rec.Detail, &rec.OccurredAtUnix); err != nil {
			return nil, fmt.Errorf("scan source failure: %w", err)
		}
		failures = append(failures, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source failures: %w", err)
	}
	return failures, nil
}

// PruneSamples removes samples and failures observed before the cutoff.
func (s *Storage) PruneSamples(ctx context.Context, cutoff time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	unix := cutoff.UTC().Unix()
	if _, err := s.db.ExecContext(ctx, `
        DELETE FROM twap_samples WHERE observed_at < ?
    `, unix); err != nil {
		return fmt.Errorf("prune samples: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
        DELETE FROM source_failures WHERE occurred_at < ?
    `, unix); err != nil {
		return fmt.Errorf("prune source failures: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS price_snapshots (
    id TEXT PRIMARY KEY,
    pair TEXT NOT NULL,
    price TEXT NOT NULL,
    decimals INTEGER NOT NULL,
    kind TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_snapshots_pair_ts ON price_snapshots(pair, recorded_at);

CREATE TABLE IF NOT EXISTS twap_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pair TEXT NOT NULL,
    price TEXT NOT NULL,
    cumulative TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_twap_samples_pair_ts ON twap_samples(pair, observed_at);

CREATE TABLE IF NOT EXISTS source_failures (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pair TEXT NOT NULL,
    kind TEXT NOT NULL,
    detail TEXT NOT NULL,
    occurred_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_source_failures_ts ON source_failures(occurred_at);
`

// Package history persists resolved outcomes to Postgres for auditing and
// price-trend queries. The scraping core itself stays stateless; this store
// is an optional sink enabled by a DSN.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smazka/pricewatch/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS price_history (
	id         BIGSERIAL PRIMARY KEY,
	task_id    TEXT NOT NULL,
	sku        TEXT NOT NULL,
	status     TEXT NOT NULL,
	price      TEXT,
	source     TEXT,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_price_history_sku ON price_history (sku, created_at DESC);
`

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect history store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping history store: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure history schema: %w", err)
	}
	return &Store{pool: pool, logger: logger.With("component", "history")}, nil
}

// InsertOutcomes batch-inserts one row per outcome.
func (s *Store) InsertOutcomes(ctx context.Context, taskID string, results []model.Outcome) error {
	if s == nil || len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(
			`INSERT INTO price_history (task_id, sku, status, price, source, error)
			 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''))`,
			taskID, r.SKU, string(r.Status), r.Price, r.Source, r.Error,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert price history: %w", err)
		}
	}
	return nil
}

// LatestPrice returns the most recent successful price for a SKU.
func (s *Store) LatestPrice(ctx context.Context, sku string) (string, time.Time, error) {
	var price string
	var at time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT price, created_at FROM price_history
		 WHERE sku = $1 AND status = 'ok' AND price IS NOT NULL
		 ORDER BY created_at DESC LIMIT 1`, sku,
	).Scan(&price, &at)
	if err == pgx.ErrNoRows {
		return "", time.Time{}, fmt.Errorf("no price recorded for %s", sku)
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("query latest price: %w", err)
	}
	return price, at, nil
}

func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proofoffit/jobfeed-ingest/internal/ingest"
)

// ItemStore implements ingest.ItemSink on the scraped_items table:
//
//	CREATE TABLE scraped_items (
//		canonical_item_url TEXT PRIMARY KEY,
//		source_domain TEXT NOT NULL,
//		title TEXT NOT NULL,
//		author TEXT,
//		metadata JSONB,
//		first_seen_at TIMESTAMPTZ NOT NULL,
//		last_seen_at TIMESTAMPTZ NOT NULL,
//		changed_at TIMESTAMPTZ
//	);
type ItemStore struct {
	pool querier
}

// NewItemStore creates an ItemStore from a DSN.
func NewItemStore(ctx context.Context, dsn string) (*ItemStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ItemStore{pool: pool}, nil
}

// NewItemStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewItemStoreWithPool(pool querier) (*ItemStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ItemStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ItemStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert inserts the item on first sight and refreshes last_seen_at and the
// payload on every later fetch. changed_at moves only when the caller
// detected a content-hash change, so first_seen_at <= changed_at <=
// last_seen_at holds for every row.
func (s *ItemStore) Upsert(ctx context.Context, item ingest.ScrapedItem, changed bool) error {
	if item.CanonicalURL == "" {
		return fmt.Errorf("canonical url is required")
	}
	metadataJSON, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshal item metadata: %w", err)
	}

	query := `
INSERT INTO scraped_items (
	canonical_item_url,
	source_domain,
	title,
	author,
	metadata,
	first_seen_at,
	last_seen_at,
	changed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)
ON CONFLICT (canonical_item_url) DO UPDATE
SET source_domain = EXCLUDED.source_domain,
	title = EXCLUDED.title,
	author = EXCLUDED.author,
	metadata = EXCLUDED.metadata,
	last_seen_at = EXCLUDED.last_seen_at,
	changed_at = CASE WHEN $8 THEN EXCLUDED.last_seen_at ELSE scraped_items.changed_at END`

	args := []any{
		item.CanonicalURL,
		item.SourceDomain,
		item.Title,
		nullIfEmpty(item.Author),
		metadataJSON,
		item.FirstSeenAt,
		item.LastSeenAt,
		changed,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert scraped item: %w", err)
	}
	return nil
}

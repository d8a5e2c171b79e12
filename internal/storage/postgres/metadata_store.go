package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proofoffit/jobfeed-ingest/internal/ingest"
)

// MetadataStore implements ingest.MetadataStore on the fetch_metadata table.
type MetadataStore struct {
	pool querier
}

// NewMetadataStore creates a MetadataStore from a DSN.
func NewMetadataStore(ctx context.Context, dsn string) (*MetadataStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &MetadataStore{pool: pool}, nil
}

// NewMetadataStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewMetadataStoreWithPool(pool querier) (*MetadataStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &MetadataStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *MetadataStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Get loads the fetch record for itemURL; ok is false when none exists.
func (s *MetadataStore) Get(ctx context.Context, itemURL string) (ingest.FetchMetadata, bool, error) {
	query := `
SELECT item_url, last_modified, content_hash, etag, updated_at
FROM fetch_metadata
WHERE item_url = $1`

	var (
		meta ingest.FetchMetadata
		hash *string
		etag *string
	)
	err := s.pool.QueryRow(ctx, query, itemURL).
		Scan(&meta.ItemURL, &meta.LastModified, &hash, &etag, &meta.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.FetchMetadata{}, false, nil
	}
	if err != nil {
		return ingest.FetchMetadata{}, false, fmt.Errorf("get fetch metadata: %w", err)
	}
	if hash != nil {
		meta.ContentHash = *hash
	}
	if etag != nil {
		meta.ETag = *etag
	}
	return meta, true, nil
}

// Put upserts the fetch record. GREATEST keeps updated_at monotonically
// non-decreasing even if two writers race with skewed clocks.
func (s *MetadataStore) Put(ctx context.Context, meta ingest.FetchMetadata) error {
	if meta.ItemURL == "" {
		return fmt.Errorf("item url is required")
	}
	query := `
INSERT INTO fetch_metadata (item_url, last_modified, content_hash, etag, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (item_url) DO UPDATE
SET last_modified = EXCLUDED.last_modified,
	content_hash = EXCLUDED.content_hash,
	etag = EXCLUDED.etag,
	updated_at = GREATEST(fetch_metadata.updated_at, EXCLUDED.updated_at)`

	args := []any{
		meta.ItemURL,
		meta.LastModified,
		nullIfEmpty(meta.ContentHash),
		nullIfEmpty(meta.ETag),
		meta.UpdatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("put fetch metadata: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

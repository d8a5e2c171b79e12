package ingest

import (
	"context"
	"time"
)

// LockStore persists named TTL locks with atomic acquire/steal semantics.
type LockStore interface {
	// TryAcquire attempts a single atomic conditional write: insert the lock
	// if absent, or take it over if the existing entry has expired. Exactly
	// one of N concurrent callers may observe acquired == true.
	TryAcquire(ctx context.Context, name, holder string, ttl time.Duration) (Lock, bool, error)
	// Release frees the lock if holder still owns it. Releasing a lock that
	// has already been released or stolen is a no-op.
	Release(ctx context.Context, name, holder string) error
}

// MetadataStore persists per-URL conditional-fetch records.
type MetadataStore interface {
	Get(ctx context.Context, itemURL string) (FetchMetadata, bool, error)
	Put(ctx context.Context, meta FetchMetadata) error
}

// ItemSink accepts upsert-by-unique-key writes of normalized records.
type ItemSink interface {
	Upsert(ctx context.Context, item ScrapedItem, changed bool) error
}

// Fetcher performs a single conditional HTTP GET.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// RobotsPolicy answers whether a URL may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Publisher pushes change events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

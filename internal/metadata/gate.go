// Package metadata decides when a URL needs refetching and whether fetched
// content represents a change.
package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/proofoffit/jobfeed-ingest/internal/ingest"
)

// Config controls Gate behavior.
type Config struct {
	// SkewTolerance bounds how far in the future a stored last_modified may
	// sit before it is treated as a cache-integrity problem instead of
	// "still fresh".
	SkewTolerance time.Duration
	// RefreshInterval is how long a successfully fetched URL is considered
	// fresh enough to skip.
	RefreshInterval time.Duration
}

// Gate wraps a MetadataStore with the conditional-fetch policy.
type Gate struct {
	store ingest.MetadataStore
	cfg   Config
}

// NewGate builds a Gate; zero config values get defaults.
func NewGate(store ingest.MetadataStore, cfg Config) *Gate {
	if cfg.SkewTolerance <= 0 {
		cfg.SkewTolerance = 5 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 15 * time.Minute
	}
	return &Gate{store: store, cfg: cfg}
}

// ShouldFetch reports whether itemURL needs a fetch at now. URLs without a
// record always fetch. A stored last_modified in the future beyond the skew
// tolerance never suppresses fetching: a poisoned or clock-skewed write must
// not hide a URL from ingestion, so the URL is refetched and the record
// overwritten.
func (g *Gate) ShouldFetch(ctx context.Context, itemURL string, now time.Time) (bool, error) {
	meta, ok, err := g.store.Get(ctx, itemURL)
	if err != nil {
		return false, fmt.Errorf("load fetch metadata: %w", err)
	}
	if !ok {
		return true, nil
	}

	observed := meta.UpdatedAt
	if meta.LastModified != nil {
		observed = *meta.LastModified
	}
	if observed.After(now.Add(g.cfg.SkewTolerance)) {
		return true, nil
	}
	return now.Sub(observed) >= g.cfg.RefreshInterval, nil
}

// ConditionalRequest builds the fetch request for itemURL, attaching
// If-Modified-Since/If-None-Match validators when a prior record exists.
func (g *Gate) ConditionalRequest(ctx context.Context, itemURL string) (ingest.FetchRequest, error) {
	req := ingest.FetchRequest{URL: itemURL}
	meta, ok, err := g.store.Get(ctx, itemURL)
	if err != nil {
		return req, fmt.Errorf("load fetch metadata: %w", err)
	}
	if !ok {
		return req, nil
	}
	req.IfModifiedSince = meta.LastModified
	req.ETag = meta.ETag
	return req, nil
}

// Observe records the outcome of a real fetch and classifies it. An HTTP 304
// short-circuits to unchanged without hashing; otherwise a change is reported
// if and only if the new content hash differs from the stored one. Timestamp
// movement alone is not a change.
func (g *Gate) Observe(ctx context.Context, itemURL string, resp ingest.FetchResponse, title, author, content string, now time.Time) (ingest.ChangeResult, error) {
	meta, ok, err := g.store.Get(ctx, itemURL)
	if err != nil {
		return ingest.ChangeResult{}, fmt.Errorf("load fetch metadata: %w", err)
	}

	if resp.NotModified {
		meta.ItemURL = itemURL
		meta.UpdatedAt = now
		if resp.LastModified != nil {
			meta.LastModified = resp.LastModified
		}
		if resp.ETag != "" {
			meta.ETag = resp.ETag
		}
		if err := g.store.Put(ctx, meta); err != nil {
			return ingest.ChangeResult{}, fmt.Errorf("record fetch metadata: %w", err)
		}
		return ingest.ChangeResult{Status: ingest.ChangeUnchanged, Hash: meta.ContentHash}, nil
	}

	hash := ingest.ContentHash(title, author, content)
	status := ingest.ChangeNew
	switch {
	case !ok || meta.ContentHash == "":
		status = ingest.ChangeNew
	case hash == meta.ContentHash:
		status = ingest.ChangeUnchanged
	default:
		status = ingest.ChangeChanged
	}

	next := ingest.FetchMetadata{
		ItemURL:      itemURL,
		LastModified: resp.LastModified,
		ContentHash:  hash,
		ETag:         resp.ETag,
		UpdatedAt:    now,
	}
	if next.LastModified == nil {
		if status == ingest.ChangeUnchanged {
			next.LastModified = meta.LastModified
		} else {
			observed := now
			next.LastModified = &observed
		}
	}
	if err := g.store.Put(ctx, next); err != nil {
		return ingest.ChangeResult{}, fmt.Errorf("record fetch metadata: %w", err)
	}
	return ingest.ChangeResult{Status: status, Hash: hash}, nil
}

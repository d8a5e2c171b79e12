package memory

import (
	"context"
	"sync"

	"github.com/proofoffit/jobfeed-ingest/internal/ingest"
)

// ItemStore implements ingest.ItemSink in memory.
type ItemStore struct {
	mu    sync.RWMutex
	items map[string]ingest.ScrapedItem
}

// NewItemStore creates an in-memory item sink.
func NewItemStore() *ItemStore {
	return &ItemStore{items: make(map[string]ingest.ScrapedItem)}
}

// Upsert mirrors the Postgres sink: insert on first sight, refresh
// last_seen_at and payload afterwards, move changed_at only on a detected
// content change.
func (s *ItemStore) Upsert(_ context.Context, item ingest.ScrapedItem, changed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.CanonicalURL]
	if !ok {
		item.ChangedAt = nil
		s.items[item.CanonicalURL] = item
		return nil
	}

	existing.SourceDomain = item.SourceDomain
	existing.Title = item.Title
	existing.Author = item.Author
	existing.Metadata = item.Metadata
	existing.LastSeenAt = item.LastSeenAt
	if changed {
		changedAt := item.LastSeenAt
		existing.ChangedAt = &changedAt
	}
	s.items[item.CanonicalURL] = existing
	return nil
}

// Get returns the stored item. Test helper.
func (s *ItemStore) Get(canonicalURL string) (ingest.ScrapedItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[canonicalURL]
	return item, ok
}

// Len returns the number of stored items. Test helper.
func (s *ItemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.items)
}

package memory

import (
	"context"
	"sync"

	"github.com/proofoffit/jobfeed-ingest/internal/ingest"
)

// MetadataStore implements ingest.MetadataStore in memory.
type MetadataStore struct {
	mu      sync.RWMutex
	records map[string]ingest.FetchMetadata
}

// NewMetadataStore creates an in-memory metadata store.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{records: make(map[string]ingest.FetchMetadata)}
}

// Get returns the stored record for itemURL.
func (s *MetadataStore) Get(_ context.Context, itemURL string) (ingest.FetchMetadata, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.records[itemURL]
	return meta, ok, nil
}

// Put stores the record, keeping updated_at monotonically non-decreasing.
func (s *MetadataStore) Put(_ context.Context, meta ingest.FetchMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[meta.ItemURL]; ok && existing.UpdatedAt.After(meta.UpdatedAt) {
		meta.UpdatedAt = existing.UpdatedAt
	}
	s.records[meta.ItemURL] = meta
	return nil
}

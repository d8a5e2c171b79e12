package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proofoffit/jobfeed-ingest/internal/ingest"
)

func TestMetadataStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMetadataStore()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "https://example.com/jobs/1")
	require.NoError(t, err)
	require.False(t, ok)

	updated := time.Unix(1700000000, 0).UTC()
	require.NoError(t, store.Put(ctx, ingest.FetchMetadata{
		ItemURL:     "https://example.com/jobs/1",
		ContentHash: "abc",
		UpdatedAt:   updated,
	}))

	meta, ok, err := store.Get(ctx, "https://example.com/jobs/1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc", meta.ContentHash)
	require.Equal(t, updated, meta.UpdatedAt)
}

func TestMetadataStoreUpdatedAtMonotonic(t *testing.T) {
	t.Parallel()

	store := NewMetadataStore()
	ctx := context.Background()

	later := time.Unix(1700000000, 0).UTC()
	earlier := later.Add(-time.Hour)

	require.NoError(t, store.Put(ctx, ingest.FetchMetadata{
		ItemURL: "https://example.com/jobs/1", UpdatedAt: later,
	}))
	require.NoError(t, store.Put(ctx, ingest.FetchMetadata{
		ItemURL: "https://example.com/jobs/1", ContentHash: "new", UpdatedAt: earlier,
	}))

	meta, ok, err := store.Get(ctx, "https://example.com/jobs/1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", meta.ContentHash)
	require.Equal(t, later, meta.UpdatedAt, "updated_at must not move backwards")
}

func TestItemStoreUpsertSemantics(t *testing.T) {
	t.Parallel()

	store := NewItemStore()
	ctx := context.Background()

	first := time.Unix(1700000000, 0).UTC()
	require.NoError(t, store.Upsert(ctx, ingest.ScrapedItem{
		CanonicalURL: "https://example.com/jobs/1",
		SourceDomain: "example.com",
		Title:        "Engineer",
		FirstSeenAt:  first,
		LastSeenAt:   first,
	}, true))

	item, ok := store.Get("https://example.com/jobs/1")
	require.True(t, ok)
	require.Nil(t, item.ChangedAt, "first sight is not a change")

	// Unchanged refetch refreshes last_seen_at only.
	second := first.Add(time.Hour)
	require.NoError(t, store.Upsert(ctx, ingest.ScrapedItem{
		CanonicalURL: "https://example.com/jobs/1",
		SourceDomain: "example.com",
		Title:        "Engineer",
		FirstSeenAt:  second,
		LastSeenAt:   second,
	}, false))

	item, _ = store.Get("https://example.com/jobs/1")
	require.Equal(t, first, item.FirstSeenAt)
	require.Equal(t, second, item.LastSeenAt)
	require.Nil(t, item.ChangedAt)

	// A detected change stamps changed_at with the fetch time.
	third := second.Add(time.Hour)
	require.NoError(t, store.Upsert(ctx, ingest.ScrapedItem{
		CanonicalURL: "https://example.com/jobs/1",
		SourceDomain: "example.com",
		Title:        "Engineer (remote)",
		FirstSeenAt:  third,
		LastSeenAt:   third,
	}, true))

	item, _ = store.Get("https://example.com/jobs/1")
	require.NotNil(t, item.ChangedAt)
	require.Equal(t, third, *item.ChangedAt)
	require.True(t, !item.FirstSeenAt.After(item.LastSeenAt))
	require.True(t, !item.ChangedAt.After(item.LastSeenAt))
}

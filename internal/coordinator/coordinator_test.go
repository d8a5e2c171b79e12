package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	archivemem "github.com/proofoffit/jobfeed-ingest/internal/archive/memory"
	"github.com/proofoffit/jobfeed-ingest/internal/ingest"
	"github.com/proofoffit/jobfeed-ingest/internal/metadata"
	pubmem "github.com/proofoffit/jobfeed-ingest/internal/publisher/memory"
	"github.com/proofoffit/jobfeed-ingest/internal/selector"
	storagemem "github.com/proofoffit/jobfeed-ingest/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeIDs struct {
	next int
}

func (g *fakeIDs) NewID() (string, error) {
	g.next++
	return "run-" + string(rune('0'+g.next)), nil
}

// fakeRobots denies the URLs in its set and allows everything else.
type fakeRobots struct {
	denied map[string]bool
}

func (r *fakeRobots) Allowed(_ context.Context, rawURL string) bool {
	return !r.denied[rawURL]
}

type fetchResult struct {
	resp ingest.FetchResponse
	err  error
}

// scriptedFetcher returns canned results per URL in order, repeating the last
// one once the script runs out.
type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]fetchResult
	calls   map[string]int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		scripts: make(map[string][]fetchResult),
		calls:   make(map[string]int),
	}
}

func (f *scriptedFetcher) add(url string, results ...fetchResult) {
	f.scripts[url] = append(f.scripts[url], results...)
}

func (f *scriptedFetcher) Fetch(_ context.Context, req ingest.FetchRequest) (ingest.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	script := f.scripts[req.URL]
	if len(script) == 0 {
		return ingest.FetchResponse{}, ingest.NewInvalidInputError(req.URL, nil)
	}
	idx := f.calls[req.URL]
	if idx >= len(script) {
		idx = len(script) - 1
	}
	f.calls[req.URL]++
	return script[idx].resp, script[idx].err
}

func (f *scriptedFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func okResponse(url, html string) fetchResult {
	return fetchResult{resp: ingest.FetchResponse{
		URL:        url,
		StatusCode: 200,
		Body:       []byte(html),
		ETag:       `"v1"`,
	}}
}

const jobsHTML = `<html><head><title>Acme Jobs</title></head>
<body><h1 class="title">Acme Jobs</h1>
<div class="listing">Senior Gopher, Remote</div>
<div class="listing">Staff Gopher, NYC</div></body></html>`

type fixture struct {
	clock   *fakeClock
	locks   *storagemem.LockStore
	meta    *storagemem.MetadataStore
	items   *storagemem.ItemStore
	fetcher *scriptedFetcher
	robots  *fakeRobots
	pub     *pubmem.Publisher
	blobs   *archivemem.BlobStore
}

func newFixture() *fixture {
	clock := newFakeClock()
	return &fixture{
		clock:   clock,
		locks:   storagemem.NewLockStore(clock),
		meta:    storagemem.NewMetadataStore(),
		items:   storagemem.NewItemStore(),
		fetcher: newScriptedFetcher(),
		robots:  &fakeRobots{denied: make(map[string]bool)},
		pub:     pubmem.New(),
		blobs:   archivemem.NewBlobStore(),
	}
}

func (f *fixture) coordinator(t *testing.T, sources ...ingest.SourceConfig) *Coordinator {
	t.Helper()
	return New(
		Config{
			LockName:    "test-ingest",
			LockTTL:     time.Minute,
			ChangeTopic: "content-changes",
			Sources:     sources,
		},
		Deps{
			Locks:     f.locks,
			Metadata:  metadata.NewGate(f.meta, metadata.Config{}),
			Fetcher:   f.fetcher,
			Robots:    f.robots,
			Sink:      f.items,
			Monitor:   selector.NewMonitor(0),
			Retry:     ingest.NewRetryPolicyWith(3, time.Millisecond, 2*time.Millisecond),
			Publisher: f.pub,
			Blobs:     f.blobs,
			Clock:     f.clock,
			IDs:       &fakeIDs{},
		},
		zap.NewNop(),
	)
}

func TestRunDisallowedSourceDoesNotFailRun(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.robots.denied["https://blocked.example.com/jobs"] = true
	f.fetcher.add("https://acme.example.com/jobs", okResponse("https://acme.example.com/jobs", jobsHTML))

	c := f.coordinator(t,
		ingest.SourceConfig{Name: "blocked", URL: "https://blocked.example.com/jobs"},
		ingest.SourceConfig{Name: "acme", URL: "https://acme.example.com/jobs", TitleSelector: "h1.title", ContentSelector: "div.listing"},
	)

	result, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ingest.RunCompleted, result.Status)
	require.Len(t, result.Sources, 2)
	require.Equal(t, ingest.OutcomeDisallowed, result.Sources[0].Outcome)
	require.Equal(t, ingest.OutcomeFetched, result.Sources[1].Outcome)

	item, ok := f.items.Get("https://acme.example.com/jobs")
	require.True(t, ok)
	require.Equal(t, "Acme Jobs", item.Title)
	require.Equal(t, "acme.example.com", item.SourceDomain)

	// The lock must be free again after the run.
	_, held := f.locks.Holder("test-ingest")
	require.False(t, held)
}

func TestRunSkipsWhenLockHeldElsewhere(t *testing.T) {
	t.Parallel()

	f := newFixture()
	_, ok, err := f.locks.TryAcquire(context.Background(), "test-ingest", "other-replica", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	c := f.coordinator(t, ingest.SourceConfig{Name: "acme", URL: "https://acme.example.com/jobs"})

	result, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ingest.RunSkipped, result.Status)
	require.Empty(t, result.Sources)
	require.Zero(t, f.fetcher.callCount("https://acme.example.com/jobs"))

	// Skipping must not release someone else's lock.
	holder, held := f.locks.Holder("test-ingest")
	require.True(t, held)
	require.Equal(t, "other-replica", holder)
}

func TestRunPartialFailureOnTerminalFetchError(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.fetcher.add("https://gone.example.com/jobs",
		fetchResult{err: ingest.NewHTTPStatusError("https://gone.example.com/jobs", 404)})
	f.fetcher.add("https://acme.example.com/jobs", okResponse("https://acme.example.com/jobs", jobsHTML))

	c := f.coordinator(t,
		ingest.SourceConfig{Name: "gone", URL: "https://gone.example.com/jobs"},
		ingest.SourceConfig{Name: "acme", URL: "https://acme.example.com/jobs", TitleSelector: "h1.title"},
	)

	result, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ingest.RunPartialFailure, result.Status)
	require.Equal(t, ingest.OutcomeError, result.Sources[0].Outcome)
	require.Equal(t, ingest.OutcomeFetched, result.Sources[1].Outcome)

	// Terminal status, no retries.
	require.Equal(t, 1, f.fetcher.callCount("https://gone.example.com/jobs"))
}

func TestRunRetriesTransientFetchFailures(t *testing.T) {
	t.Parallel()

	f := newFixture()
	url := "https://flaky.example.com/jobs"
	f.fetcher.add(url,
		fetchResult{err: ingest.NewHTTPStatusError(url, 503)},
		okResponse(url, jobsHTML),
	)

	c := f.coordinator(t, ingest.SourceConfig{Name: "flaky", URL: url, TitleSelector: "h1.title"})

	result, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ingest.RunCompleted, result.Status)
	require.Equal(t, ingest.OutcomeFetched, result.Sources[0].Outcome)
	require.Equal(t, 2, f.fetcher.callCount(url))
}

func TestRunUnchangedWithinRefreshWindow(t *testing.T) {
	t.Parallel()

	f := newFixture()
	url := "https://acme.example.com/jobs"
	f.fetcher.add(url, okResponse(url, jobsHTML))

	c := f.coordinator(t, ingest.SourceConfig{Name: "acme", URL: url, TitleSelector: "h1.title"})

	first, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeFetched, first.Sources[0].Outcome)

	// A second run inside the refresh window never hits the network.
	f.clock.Advance(time.Minute)
	second, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ingest.RunCompleted, second.Status)
	require.Equal(t, ingest.OutcomeUnchanged, second.Sources[0].Outcome)
	require.Equal(t, "within refresh window", second.Sources[0].Detail)
	require.Equal(t, 1, f.fetcher.callCount(url))
}

func TestRunUnchangedContentHash(t *testing.T) {
	t.Parallel()

	f := newFixture()
	url := "https://acme.example.com/jobs"
	f.fetcher.add(url, okResponse(url, jobsHTML), okResponse(url, jobsHTML))

	c := f.coordinator(t, ingest.SourceConfig{Name: "acme", URL: url, TitleSelector: "h1.title", ContentSelector: "div.listing"})

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	second, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeUnchanged, second.Sources[0].Outcome)
	require.Equal(t, "content hash unchanged", second.Sources[0].Detail)
	require.Equal(t, 2, f.fetcher.callCount(url))

	// Only the first run's change published an event and archived a snapshot.
	require.Len(t, f.pub.Messages(), 1)
	require.Equal(t, 1, f.blobs.Len())
}

func TestRunNotModifiedShortCircuits(t *testing.T) {
	t.Parallel()

	f := newFixture()
	url := "https://acme.example.com/jobs"
	f.fetcher.add(url,
		okResponse(url, jobsHTML),
		fetchResult{resp: ingest.FetchResponse{URL: url, StatusCode: 304, NotModified: true, ETag: `"v1"`}},
	)

	c := f.coordinator(t, ingest.SourceConfig{Name: "acme", URL: url, TitleSelector: "h1.title"})

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	second, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeUnchanged, second.Sources[0].Outcome)
	require.Equal(t, "not modified", second.Sources[0].Detail)

	// The stored hash survives the 304 untouched.
	meta, ok, err := f.meta.Get(context.Background(), url)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, meta.ContentHash)
}

func TestRunChangePublishesEventAndSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture()
	url := "https://acme.example.com/jobs"
	changed := `<html><head><title>Acme Jobs</title></head><body><h1 class="title">Acme Jobs</h1><div class="listing">New opening</div></body></html>`
	f.fetcher.add(url, okResponse(url, jobsHTML), okResponse(url, changed))

	c := f.coordinator(t, ingest.SourceConfig{Name: "acme", URL: url, TitleSelector: "h1.title", ContentSelector: "div.listing"})

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	second, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeFetched, second.Sources[0].Outcome)

	msgs := f.pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "content-changes", msgs[1].Topic)

	item, ok := f.items.Get(url)
	require.True(t, ok)
	require.NotNil(t, item.ChangedAt)
}

func TestRunInvalidSourceURLIsSourceError(t *testing.T) {
	t.Parallel()

	f := newFixture()
	c := f.coordinator(t, ingest.SourceConfig{Name: "bad", URL: "not-a-url"})

	result, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ingest.RunPartialFailure, result.Status)
	require.Equal(t, ingest.OutcomeError, result.Sources[0].Outcome)
}

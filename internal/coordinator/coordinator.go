// Package coordinator drives one ingestion cycle end to end: it takes the
// distributed job lock, walks every configured source through robots checks,
// conditional fetching, extraction, and change detection, and reports a
// per-source breakdown back to whichever trigger started the run.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/proofoffit/jobfeed-ingest/internal/ingest"
	"github.com/proofoffit/jobfeed-ingest/internal/metadata"
	"github.com/proofoffit/jobfeed-ingest/internal/metrics"
	"github.com/proofoffit/jobfeed-ingest/internal/selector"
)

const snippetKey = "snippet"

// Config carries the run-level knobs.
type Config struct {
	// LockName is the shared lock all replicas compete for.
	LockName string
	// LockTTL bounds how long a crashed holder can block the next run.
	LockTTL time.Duration
	// ChangeTopic receives change events; empty disables publishing.
	ChangeTopic string
	// ArchivePrefix prefixes snapshot object paths.
	ArchivePrefix string
	// SelectorWindowDays is the trailing window for drift detection.
	SelectorWindowDays int
	// Sources are processed in the order given.
	Sources []ingest.SourceConfig
}

// Deps are the collaborators a Coordinator drives. Locks, Metadata, Fetcher,
// Robots, Sink, Clock, and IDs are required; Publisher and Blobs are optional
// side channels.
type Deps struct {
	Locks     ingest.LockStore
	Metadata  *metadata.Gate
	Fetcher   ingest.Fetcher
	Robots    ingest.RobotsPolicy
	Sink      ingest.ItemSink
	Monitor   *selector.Monitor
	Retry     *ingest.RetryPolicy
	Publisher ingest.Publisher
	Blobs     ingest.BlobStore
	Clock     ingest.Clock
	IDs       ingest.IDGenerator
}

// ChangeEvent is the payload published when a source's content hash moves.
type ChangeEvent struct {
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	ContentHash string    `json:"content_hash"`
	RunID       string    `json:"run_id"`
	ChangedAt   time.Time `json:"changed_at"`
	SnapshotURI string    `json:"snapshot_uri,omitempty"`
}

// Coordinator runs ingestion cycles.
type Coordinator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New builds a Coordinator; zero config values get defaults.
func New(cfg Config, deps Deps, logger *zap.Logger) *Coordinator {
	if cfg.LockName == "" {
		cfg.LockName = "jobfeed-ingest"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.SelectorWindowDays <= 0 {
		cfg.SelectorWindowDays = 7
	}
	if deps.Retry == nil {
		deps.Retry = ingest.NewRetryPolicy()
	}
	if deps.Monitor == nil {
		deps.Monitor = selector.NewMonitor(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{cfg: cfg, deps: deps, logger: logger}
}

// Run executes one ingestion cycle. When another replica holds the lock the
// run returns with status "skipped" and a nil error; a run that processed
// sources finishes "completed" unless any source errored, in which case it
// finishes "partial_failure". The lock is released on every exit path.
func (c *Coordinator) Run(ctx context.Context) (ingest.RunResult, error) {
	runID, err := c.deps.IDs.NewID()
	if err != nil {
		return ingest.RunResult{}, fmt.Errorf("generating run id: %w", err)
	}

	result := ingest.RunResult{
		RunID:     runID,
		StartedAt: c.deps.Clock.Now(),
	}

	acquired, err := c.acquireLock(ctx, runID)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("error").Inc()
		result.FinishedAt = c.deps.Clock.Now()
		return result, err
	}
	if !acquired {
		c.logger.Info("ingestion lock held elsewhere, skipping run",
			zap.String("run_id", runID),
			zap.String("lock", c.cfg.LockName))
		metrics.RunsTotal.WithLabelValues(string(ingest.RunSkipped)).Inc()
		result.Status = ingest.RunSkipped
		result.FinishedAt = c.deps.Clock.Now()
		return result, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.deps.Locks.Release(releaseCtx, c.cfg.LockName, runID); err != nil {
			c.logger.Warn("releasing ingestion lock failed",
				zap.String("run_id", runID),
				zap.Error(err))
		}
	}()

	result.Status = ingest.RunCompleted
	for _, src := range c.cfg.Sources {
		outcome := c.processSource(ctx, runID, src)
		metrics.SourcesTotal.WithLabelValues(string(outcome.Outcome)).Inc()
		if outcome.Outcome == ingest.OutcomeError {
			result.Status = ingest.RunPartialFailure
		}
		result.Sources = append(result.Sources, outcome)
	}

	metrics.RunsTotal.WithLabelValues(string(result.Status)).Inc()
	result.FinishedAt = c.deps.Clock.Now()
	c.logger.Info("ingestion run finished",
		zap.String("run_id", runID),
		zap.String("status", string(result.Status)),
		zap.Int("sources", len(result.Sources)))
	return result, nil
}

// acquireLock tries the conditional write, retrying transient store errors.
// A store error is never treated as acquisition: after retries are exhausted
// the run fails rather than risk two concurrent holders.
func (c *Coordinator) acquireLock(ctx context.Context, holder string) (bool, error) {
	for attempt := 0; ; attempt++ {
		_, ok, err := c.deps.Locks.TryAcquire(ctx, c.cfg.LockName, holder, c.cfg.LockTTL)
		if err == nil {
			return ok, nil
		}
		if !c.deps.Retry.ShouldRetry(err, attempt) {
			return false, fmt.Errorf("acquiring ingestion lock: %w", err)
		}
		c.logger.Warn("lock acquire failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if err := c.sleep(ctx, c.deps.Retry.Backoff(attempt)); err != nil {
			return false, fmt.Errorf("acquiring ingestion lock: %w", err)
		}
	}
}

// processSource runs one source through the full pipeline. A panic anywhere in
// the pipeline is contained to this source so one pathological page cannot
// take down the whole run.
func (c *Coordinator) processSource(ctx context.Context, runID string, src ingest.SourceConfig) (res ingest.SourceResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("source pipeline panicked",
				zap.String("source", src.Name),
				zap.String("url", src.URL),
				zap.Any("panic", r))
			res = ingest.SourceResult{
				URL:     src.URL,
				Outcome: ingest.OutcomeError,
				Detail:  fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	canonical, err := ingest.CanonicalURL(src.URL)
	if err != nil {
		return c.sourceError(src.URL, fmt.Errorf("canonicalizing url: %w", err))
	}
	res.URL = canonical

	if !c.deps.Robots.Allowed(ctx, canonical) {
		metrics.RobotsDeniedTotal.Inc()
		c.logger.Info("robots policy denied source",
			zap.String("source", src.Name),
			zap.String("url", canonical))
		res.Outcome = ingest.OutcomeDisallowed
		return res
	}

	now := c.deps.Clock.Now()
	needed, err := c.deps.Metadata.ShouldFetch(ctx, canonical, now)
	if err != nil {
		return c.sourceError(canonical, err)
	}
	if !needed {
		res.Outcome = ingest.OutcomeUnchanged
		res.Detail = "within refresh window"
		return res
	}

	req, err := c.deps.Metadata.ConditionalRequest(ctx, canonical)
	if err != nil {
		return c.sourceError(canonical, err)
	}

	resp, err := c.fetchWithRetry(ctx, req)
	if err != nil {
		return c.sourceError(canonical, err)
	}
	now = c.deps.Clock.Now()

	if resp.NotModified {
		metrics.NotModifiedTotal.Inc()
		if _, err := c.deps.Metadata.Observe(ctx, canonical, resp, "", "", "", now); err != nil {
			return c.sourceError(canonical, err)
		}
		res.Outcome = ingest.OutcomeUnchanged
		res.Detail = "not modified"
		return res
	}

	title, author, content, matched := c.extract(src, resp.Body)
	page := ingest.ExtractPageMetadata(string(resp.Body), canonical)
	if title == "" {
		title = page.Title
	}
	c.observeSelector(src, matched, len(resp.Body), canonical, now)

	change, err := c.deps.Metadata.Observe(ctx, canonical, resp, title, author, content, now)
	if err != nil {
		return c.sourceError(canonical, err)
	}

	item := ingest.ScrapedItem{
		CanonicalURL: canonical,
		SourceDomain: ingest.SourceDomain(canonical),
		Title:        ingest.NormalizeText(title),
		Author:       ingest.NormalizeText(author),
		Metadata: map[string]any{
			"source":       src.Name,
			"status_code":  resp.StatusCode,
			"fetch_ms":     resp.Duration.Milliseconds(),
			"content_hash": change.Hash,
			"description":  page.Description,
			"canonical":    page.Canonical,
			"feeds":        page.Feeds,
			"sitemaps":     page.Sitemaps,
			"next_page":    page.NextPage,
			snippetKey:     ingest.SanitizeSnippet(content),
		},
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
	if err := c.deps.Sink.Upsert(ctx, item, change.Changed()); err != nil {
		return c.sourceError(canonical, fmt.Errorf("upserting item: %w", err))
	}

	if !change.Changed() {
		res.Outcome = ingest.OutcomeUnchanged
		res.Detail = "content hash unchanged"
		return res
	}

	metrics.ChangesTotal.Inc()
	c.emitChange(ctx, runID, src, canonical, change.Hash, resp.Body, now)
	res.Outcome = ingest.OutcomeFetched
	return res
}

// fetchWithRetry runs the retry loop around a single conditional GET. An HTTP
// 304 arrives as a successful NotModified response, never as an error.
func (c *Coordinator) fetchWithRetry(ctx context.Context, req ingest.FetchRequest) (ingest.FetchResponse, error) {
	for attempt := 0; ; attempt++ {
		metrics.FetchesTotal.Inc()
		resp, err := c.deps.Fetcher.Fetch(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !c.deps.Retry.ShouldRetry(err, attempt) {
			return ingest.FetchResponse{}, err
		}
		metrics.FetchRetriesTotal.Inc()
		c.logger.Warn("fetch failed, retrying",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if serr := c.sleep(ctx, c.deps.Retry.Backoff(attempt)); serr != nil {
			return ingest.FetchResponse{}, err
		}
	}
}

// extract pulls title, author, and content text out of the page using the
// source's CSS selectors. The content selector's match count feeds drift
// monitoring.
func (c *Coordinator) extract(src ingest.SourceConfig, body []byte) (title, author, content string, matched int) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", "", "", 0
	}
	if src.TitleSelector != "" {
		title = strings.TrimSpace(doc.Find(src.TitleSelector).First().Text())
	}
	if src.AuthorSelector != "" {
		author = strings.TrimSpace(doc.Find(src.AuthorSelector).First().Text())
	}
	if src.ContentSelector != "" {
		sel := doc.Find(src.ContentSelector)
		matched = sel.Length()
		content = strings.TrimSpace(sel.Text())
	}
	return title, author, content, matched
}

func (c *Coordinator) observeSelector(src ingest.SourceConfig, matched, htmlLength int, url string, now time.Time) {
	if src.ContentSelector == "" {
		return
	}
	key := src.Name + ":" + src.ContentSelector
	c.deps.Monitor.TrackHit(key, matched, htmlLength, url, now)
	report := c.deps.Monitor.HitRate(key, c.cfg.SelectorWindowDays, now)
	if report.Drifting() {
		metrics.SelectorDriftTotal.WithLabelValues(key).Inc()
		c.logger.Warn("selector hit rate dropped below half its trailing median",
			zap.String("source", src.Name),
			zap.String("selector", src.ContentSelector),
			zap.Float64("current", report.Current),
			zap.Float64("median", report.Median))
	}
}

// emitChange publishes the change event and archives a raw snapshot. Both are
// best-effort side channels: a failure is logged but does not fail the source.
func (c *Coordinator) emitChange(ctx context.Context, runID string, src ingest.SourceConfig, canonical, hash string, body []byte, now time.Time) {
	var snapshotURI string
	if c.deps.Blobs != nil {
		path := snapshotPath(c.cfg.ArchivePrefix, canonical, hash)
		uri, err := c.deps.Blobs.PutObject(ctx, path, "text/html", body)
		if err != nil {
			c.logger.Warn("archiving snapshot failed",
				zap.String("url", canonical),
				zap.Error(err))
		} else {
			snapshotURI = uri
		}
	}
	if c.deps.Publisher == nil || c.cfg.ChangeTopic == "" {
		return
	}
	event := ChangeEvent{
		URL:         canonical,
		Source:      src.Name,
		ContentHash: hash,
		RunID:       runID,
		ChangedAt:   now,
		SnapshotURI: snapshotURI,
	}
	if _, err := c.deps.Publisher.Publish(ctx, c.cfg.ChangeTopic, event); err != nil {
		c.logger.Warn("publishing change event failed",
			zap.String("url", canonical),
			zap.Error(err))
	}
}

func (c *Coordinator) sourceError(url string, err error) ingest.SourceResult {
	c.logger.Error("source ingestion failed",
		zap.String("url", url),
		zap.Error(err))
	return ingest.SourceResult{
		URL:     url,
		Outcome: ingest.OutcomeError,
		Detail:  err.Error(),
	}
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func snapshotPath(prefix, canonical, hash string) string {
	domain := ingest.SourceDomain(canonical)
	if domain == "" {
		domain = "unknown"
	}
	path := fmt.Sprintf("%s/%s.html", domain, hash)
	if prefix != "" {
		path = strings.TrimSuffix(prefix, "/") + "/" + path
	}
	return path
}

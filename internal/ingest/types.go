// Package ingest defines core types shared across the ingestion subsystems.
package ingest

import (
	"net/http"
	"time"
)

// RunStatus is the overall outcome of one ingestion cycle.
type RunStatus string

// Run status values returned to triggers.
const (
	RunCompleted      RunStatus = "completed"
	RunSkipped        RunStatus = "skipped"
	RunPartialFailure RunStatus = "partial_failure"
)

// SourceOutcome is the per-source result of one cycle.
type SourceOutcome string

// Source outcome values recorded in RunResult.
const (
	OutcomeFetched    SourceOutcome = "fetched"
	OutcomeUnchanged  SourceOutcome = "unchanged"
	OutcomeDisallowed SourceOutcome = "disallowed"
	OutcomeError      SourceOutcome = "error"
)

// SourceConfig describes one configured feed or listing page.
type SourceConfig struct {
	Name            string `json:"name" mapstructure:"name"`
	URL             string `json:"url" mapstructure:"url"`
	TitleSelector   string `json:"title_selector" mapstructure:"title_selector"`
	AuthorSelector  string `json:"author_selector" mapstructure:"author_selector"`
	ContentSelector string `json:"content_selector" mapstructure:"content_selector"`
}

// SourceResult captures what happened to a single source during a run.
type SourceResult struct {
	URL     string        `json:"url"`
	Outcome SourceOutcome `json:"outcome"`
	Detail  string        `json:"detail,omitempty"`
}

// RunResult is returned by the coordinator to whichever trigger invoked it.
type RunResult struct {
	RunID      string         `json:"run_id"`
	Status     RunStatus      `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Sources    []SourceResult `json:"sources"`
}

// Lock is the stored state of a named job lock.
type Lock struct {
	Name      string
	Holder    string
	ExpiresAt time.Time
}

// FetchMetadata is the per-URL conditional-fetch record.
// Rows live in the fetch_metadata table:
//
//	CREATE TABLE fetch_metadata (
//		item_url TEXT PRIMARY KEY,
//		last_modified TIMESTAMPTZ,
//		content_hash TEXT,
//		etag TEXT,
//		updated_at TIMESTAMPTZ NOT NULL
//	);
type FetchMetadata struct {
	ItemURL      string
	LastModified *time.Time
	ContentHash  string
	ETag         string
	UpdatedAt    time.Time
}

// ScrapedItem is the normalized record upserted into the content sink.
type ScrapedItem struct {
	CanonicalURL string
	SourceDomain string
	Title        string
	Author       string
	Metadata     map[string]any
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
	ChangedAt    *time.Time
}

// FetchRequest captures everything needed for one conditional GET.
type FetchRequest struct {
	URL             string
	IfModifiedSince *time.Time
	ETag            string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	LastModified *time.Time
	ETag         string
	NotModified  bool
	Duration     time.Duration
}

// ChangeStatus classifies the diff outcome of one successful fetch.
type ChangeStatus string

// Change status values produced by the metadata gate.
const (
	ChangeNew       ChangeStatus = "new"
	ChangeChanged   ChangeStatus = "changed"
	ChangeUnchanged ChangeStatus = "unchanged"
)

// ChangeResult pairs a change status with the hash that produced it.
type ChangeResult struct {
	Status ChangeStatus
	Hash   string
}

// Changed reports whether the fetch represents new or modified content.
func (r ChangeResult) Changed() bool {
	return r.Status == ChangeNew || r.Status == ChangeChanged
}

// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsTotal tracks ingestion cycles by final status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_runs_total",
		Help: "Total ingestion cycles, labeled by final status.",
	}, []string{"status"})
	// SourcesTotal tracks per-source outcomes across all runs.
	SourcesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_sources_total",
		Help: "Total per-source outcomes, labeled by outcome.",
	}, []string{"outcome"})
	// FetchesTotal tracks real HTTP fetches dispatched by the coordinator.
	FetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_fetches_total",
		Help: "Total HTTP fetches dispatched.",
	})
	// FetchRetriesTotal tracks fetch attempts beyond the first.
	FetchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_fetch_retries_total",
		Help: "Total fetch retries after transient failures.",
	})
	// NotModifiedTotal tracks conditional GETs answered with HTTP 304.
	NotModifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_not_modified_total",
		Help: "Total conditional fetches short-circuited by HTTP 304.",
	})
	// ChangesTotal tracks detected content changes.
	ChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_content_changes_total",
		Help: "Total fetches whose content hash differed from the stored hash.",
	})
	// RobotsDeniedTotal tracks URLs refused by robots policy.
	RobotsDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_robots_denied_total",
		Help: "Total URLs skipped because robots policy denied them.",
	})
	// SelectorDriftTotal tracks selector drift warnings surfaced by runs.
	SelectorDriftTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_selector_drift_warnings_total",
		Help: "Total selector drift warnings, labeled by selector.",
	}, []string{"selector"})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

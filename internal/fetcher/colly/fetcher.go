// Package collyfetcher implements ingest.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/proofoffit/jobfeed-ingest/internal/ingest"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// PerHostRPS throttles requests per host; defaults to 1 req/s.
	PerHostRPS float64
}

// Fetcher performs single conditional GETs with per-host politeness.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PerHostRPS <= 0 {
		cfg.PerHostRPS = 1
	}
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(), // robots is enforced upstream by the gate
	)
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// Fetch executes one HTTP GET, attaching conditional validators from the
// request. An HTTP 304 is a success with NotModified set; all other non-2xx
// statuses surface as tagged FetchErrors for the retry classifier.
func (f *Fetcher) Fetch(ctx context.Context, request ingest.FetchRequest) (ingest.FetchResponse, error) {
	parsed, err := url.Parse(request.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ingest.FetchResponse{}, ingest.NewInvalidInputError(request.URL, err)
	}

	if err := f.limiter(parsed.Host).Wait(ctx); err != nil {
		return ingest.FetchResponse{}, ingest.NewTimeoutError(request.URL, err)
	}

	var (
		result    ingest.FetchResponse
		gotStatus int
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		if request.IfModifiedSince != nil {
			r.Headers.Set("If-Modified-Since", request.IfModifiedSince.UTC().Format(http.TimeFormat))
		}
		if request.ETag != "" {
			r.Headers.Set("If-None-Match", request.ETag)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		gotStatus = r.StatusCode
		result = buildResponse(r, start)
	})
	collector.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			gotStatus = r.StatusCode
			result = buildResponse(r, start)
		}
	})

	completed, visitErr := f.runCollector(ctx, collector, request.URL)
	if !completed {
		// The Visit goroutine may still be running and writing into the
		// callback captures above; they must not be read past this point.
		return ingest.FetchResponse{}, classifyTransportError(request.URL, visitErr)
	}

	switch {
	case gotStatus == http.StatusNotModified:
		result.NotModified = true
		return result, nil
	case gotStatus >= 200 && gotStatus < 300:
		return result, nil
	case gotStatus > 0:
		return ingest.FetchResponse{}, ingest.NewHTTPStatusError(request.URL, gotStatus)
	default:
		return ingest.FetchResponse{}, classifyTransportError(request.URL, visitErr)
	}
}

// runCollector runs Visit in a goroutine so the caller can honor ctx. The
// completed result reports whether Visit finished: when false the goroutine
// is still in flight and the collector's callback state is off limits.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string) (bool, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-done:
		return true, err
	}
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	key := strings.ToLower(host)
	f.mu.Lock()
	defer f.mu.Unlock()
	limiter, ok := f.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(f.cfg.PerHostRPS), 1)
		f.limiters[key] = limiter
	}
	return limiter
}

func buildResponse(r *colly.Response, start time.Time) ingest.FetchResponse {
	resp := ingest.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(start),
	}
	if r.Headers != nil {
		resp.Headers = r.Headers.Clone()
		resp.ETag = r.Headers.Get("ETag")
		if lm := r.Headers.Get("Last-Modified"); lm != "" {
			if parsed, err := http.ParseTime(lm); err == nil {
				parsed = parsed.UTC()
				resp.LastModified = &parsed
			}
		}
	}
	return resp
}

func classifyTransportError(rawURL string, err error) error {
	if err == nil {
		err = errors.New("no response received")
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ingest.NewTimeoutError(rawURL, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return ingest.NewTimeoutError(rawURL, err)
	case errors.Is(err, context.Canceled):
		return ingest.NewNetworkError(rawURL, err)
	default:
		return ingest.NewNetworkError(rawURL, err)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

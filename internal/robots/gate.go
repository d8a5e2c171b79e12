// Package robots enforces robots.txt directives per origin.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/proofoffit/jobfeed-ingest/internal/ingest"
)

const maxRobotsBody = 1 << 20

// Config controls Gate behavior.
type Config struct {
	UserAgent string
	CacheTTL  time.Duration
	Timeout   time.Duration
	// Allowlist names hosts that may be fetched even when their robots.txt
	// is unreachable. Everything else fails closed.
	Allowlist []string
}

// Gate fetches and caches robots.txt per origin and answers allow/deny.
type Gate struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	allowlist map[string]struct{}
	clock     ingest.Clock
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	data      *robotstxt.RobotsData // nil when the robots fetch failed
	fetchedAt time.Time
}

// NewGate builds a Gate.
func NewGate(cfg Config, clock ingest.Clock, logger *zap.Logger) *Gate {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	allowlist := make(map[string]struct{}, len(cfg.Allowlist))
	for _, host := range cfg.Allowlist {
		allowlist[strings.ToLower(host)] = struct{}{}
	}
	return &Gate{
		client:    &http.Client{Timeout: timeout},
		userAgent: cfg.UserAgent,
		ttl:       ttl,
		allowlist: allowlist,
		clock:     clock,
		logger:    logger,
		cache:     make(map[string]cacheEntry),
	}
}

// Allowed implements ingest.RobotsPolicy. When the origin's robots.txt is
// unreachable the gate denies unknown hosts and permits allowlisted ones.
func (g *Gate) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data := g.load(ctx, parsed)
	if data == nil {
		_, vetted := g.allowlist[strings.ToLower(parsed.Hostname())]
		if !vetted {
			g.logger.Warn("robots unavailable; denying non-allowlisted host",
				zap.String("host", parsed.Host))
		}
		return vetted
	}
	group := data.FindGroup(g.userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

func (g *Gate) load(ctx context.Context, parsed *url.URL) *robotstxt.RobotsData {
	origin := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	now := g.clock.Now()

	g.mu.Lock()
	entry, ok := g.cache[origin]
	g.mu.Unlock()
	if ok && now.Sub(entry.fetchedAt) < g.ttl {
		return entry.data
	}

	data, err := g.fetch(ctx, parsed)
	if err != nil {
		g.logger.Warn("robots fetch failed",
			zap.String("origin", origin), zap.Error(err))
		data = nil
	}

	g.mu.Lock()
	g.cache[origin] = cacheEntry{data: data, fetchedAt: now}
	g.mu.Unlock()
	return data
}

func (g *Gate) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

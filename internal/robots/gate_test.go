package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func TestGateAllowsAndDenies(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprintln(w, "User-agent: *\nDisallow: /private")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clock := &fakeClock{now: time.Now()}
	gate := NewGate(Config{UserAgent: "proofoffit-bot"}, clock, zap.NewNop())

	ctx := context.Background()
	require.True(t, gate.Allowed(ctx, srv.URL+"/jobs"))
	require.False(t, gate.Allowed(ctx, srv.URL+"/private/listing"))
}

func TestGateCachesRulesetWithinTTL(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fetches.Add(1)
			fmt.Fprintln(w, "User-agent: *\nAllow: /")
		}
	}))
	defer srv.Close()

	clock := &fakeClock{now: time.Now()}
	gate := NewGate(Config{CacheTTL: time.Hour}, clock, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.True(t, gate.Allowed(ctx, srv.URL+"/jobs"))
	}
	require.Equal(t, int64(1), fetches.Load())

	clock.Advance(2 * time.Hour)
	require.True(t, gate.Allowed(ctx, srv.URL+"/jobs"))
	require.Equal(t, int64(2), fetches.Load())
}

func TestGateFailsClosedForUnknownHosts(t *testing.T) {
	t.Parallel()

	// Server is shut down immediately so the robots fetch fails.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	srv.Close()

	clock := &fakeClock{now: time.Now()}

	denied := NewGate(Config{}, clock, zap.NewNop())
	require.False(t, denied.Allowed(context.Background(), srv.URL+"/jobs"))

	allowlisted := NewGate(Config{Allowlist: []string{u.Hostname()}}, clock, zap.NewNop())
	require.True(t, allowlisted.Allowed(context.Background(), srv.URL+"/jobs"))
}

func TestGateRejectsMalformedURL(t *testing.T) {
	t.Parallel()

	gate := NewGate(Config{}, &fakeClock{now: time.Now()}, zap.NewNop())
	require.False(t, gate.Allowed(context.Background(), "::not-a-url"))
}

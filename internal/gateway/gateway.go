// Package gateway is the HTTP front for the workflow backend. It proxies
// the query, stream and health endpoints and turns upstream failures into
// JSON error envelopes.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

const defaultMaxConcurrent = 8

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the client used for upstream requests.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithRetryPolicy overrides the policy for upstream connection failures.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(g *Gateway) { g.retry = p }
}

// Gateway forwards /api requests to the backend. A weighted semaphore caps
// the number of upstream requests in flight; excess requests wait for a
// slot until their client goes away.
type Gateway struct {
	backendURL string
	client     *http.Client
	retry      *RetryPolicy
	sem        *semaphore.Weighted
	active     atomic.Int64
	mux        *http.ServeMux
}

// New creates a Gateway for the backend at backendURL.
func New(backendURL string, maxConcurrent int64, opts ...Option) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	g := &Gateway{
		backendURL: strings.TrimRight(backendURL, "/"),
		// No overall timeout: streams stay open as long as the backend writes.
		client: &http.Client{},
		retry:  DefaultRetryPolicy(),
		sem:    semaphore.NewWeighted(maxConcurrent),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.mux.HandleFunc("POST /api/query", g.limit(g.handleQuery))
	g.mux.HandleFunc("POST /api/search", g.limit(g.handleQuery))
	g.mux.HandleFunc("POST /api/query/stream", g.limit(g.handleStream))
	g.mux.HandleFunc("POST /api/stream", g.limit(g.handleStream))
	g.mux.HandleFunc("GET /api/health", g.limit(g.handleHealth))
	return g
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

// Active returns the number of upstream requests in flight.
func (g *Gateway) Active() int64 {
	return g.active.Load()
}

// WaitIdle blocks until no requests are in flight or ctx is done.
// Returns true if idle.
func (g *Gateway) WaitIdle(ctx context.Context) bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if g.active.Load() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (g *Gateway) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.sem.Acquire(r.Context(), 1); err != nil {
			// Client went away while waiting.
			return
		}
		g.active.Add(1)
		defer func() {
			g.active.Add(-1)
			g.sem.Release(1)
		}()
		next(w, r)
	}
}

package scheduler

import (
	"context"
	"log/slog"
	"sync"
)

// HealthProbe remembers the last backend health result and logs changes.
type HealthProbe struct {
	check func(ctx context.Context) error

	mu      sync.Mutex
	known   bool
	healthy bool
	lastErr error
}

// NewHealthProbe wraps check, which returns nil when the backend is healthy.
func NewHealthProbe(check func(ctx context.Context) error) *HealthProbe {
	return &HealthProbe{check: check}
}

// Run performs one check. It has the signature of Job.Run.
func (p *HealthProbe) Run(ctx context.Context) {
	err := p.check(ctx)
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	changed := !p.known || p.healthy != (err == nil)
	p.known = true
	p.healthy = err == nil
	p.lastErr = err
	p.mu.Unlock()

	switch {
	case !changed:
	case err != nil:
		slog.Warn("backend unhealthy", "error", err)
	default:
		slog.Info("backend healthy")
	}
}

// Status returns whether a check has run, and the result of the last one.
func (p *HealthProbe) Status() (known bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.known, p.lastErr
}

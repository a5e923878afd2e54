package fetch

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostGate serializes politeness per host: a minimum inter-request delay and
// a concurrency cap. One gate is shared by all fetch workers of a job.
type HostGate struct {
	minDelay   time.Duration
	maxPerHost int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	sems     map[string]chan struct{}
}

// NewHostGate builds a gate with the configured minimum delay and per-host
// concurrency cap.
func NewHostGate(minDelay time.Duration, maxPerHost int) *HostGate {
	if maxPerHost <= 0 {
		maxPerHost = 1
	}
	return &HostGate{
		minDelay:   minDelay,
		maxPerHost: maxPerHost,
		limiters:   make(map[string]*rate.Limiter),
		sems:       make(map[string]chan struct{}),
	}
}

// RaiseDelay widens the inter-request delay for host when robots declares a
// Crawl-delay larger than the configured minimum.
func (g *HostGate) RaiseDelay(host string, delay time.Duration) {
	if delay <= g.minDelay {
		return
	}
	key := strings.ToLower(host)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limiters[key] = rate.NewLimiter(limitFor(delay), 1)
}

// Acquire blocks until the host's delay and concurrency budgets allow one
// request, returning a release function for the concurrency slot.
func (g *HostGate) Acquire(ctx context.Context, host string) (func(), error) {
	key := strings.ToLower(host)

	g.mu.Lock()
	limiter, ok := g.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(limitFor(g.minDelay), 1)
		g.limiters[key] = limiter
	}
	sem, ok := g.sems[key]
	if !ok {
		sem = make(chan struct{}, g.maxPerHost)
		g.sems[key] = sem
	}
	g.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := limiter.Wait(ctx); err != nil {
		<-sem
		return nil, err
	}
	return func() { <-sem }, nil
}

func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}

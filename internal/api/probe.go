package api

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Route keys reported by the backend's discovery endpoint.
const (
	RouteAnalyticsEvents = "analytics.events"
	RouteLogs            = "logs"
	RouteJobCorrections  = "job.fix-inconsistencies"
)

// Probe answers "does this backend route currently exist?". It separates
// endpoint-absent (skip silently, no retry) from endpoint-failing (a real
// error worth surfacing). Results come from a discovery call cached for a
// short TTL; concurrent refreshes collapse into one request.
type Probe struct {
	client *Client
	ttl    time.Duration

	group singleflight.Group

	mu        sync.Mutex
	routes    map[string]bool // nil after a successful fetch means "all routes live"
	fetched   bool
	fetchedAt time.Time
}

// NewProbe creates a probe over the given client. ttl bounds how stale the
// cached discovery result may be.
func NewProbe(client *Client, ttl time.Duration) *Probe {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Probe{client: client, ttl: ttl}
}

type discoveryResponse struct {
	Endpoints []string `json:"endpoints"`
}

// Available reports whether the named route exists on the backend.
//
// When discovery itself cannot be reached, or the backend predates the
// discovery endpoint, every route is assumed available: the subsequent
// call will fail as a transport error and follow the retry policy, which
// is safer than silently discarding records.
func (p *Probe) Available(ctx context.Context, route string) bool {
	p.mu.Lock()
	fresh := p.fetched && time.Since(p.fetchedAt) < p.ttl
	routes := p.routes
	p.mu.Unlock()

	if !fresh {
		refreshed, err, _ := p.group.Do("discovery", func() (any, error) {
			return p.fetch(ctx)
		})
		if err != nil {
			return true
		}
		routes, _ = refreshed.(map[string]bool)
	}

	if routes == nil {
		return true
	}
	return routes[route]
}

// Online reports whether the backend answered the most recent discovery
// call. Unlike Available it fails closed: an unreachable backend is
// offline, even though individual routes are still assumed live.
func (p *Probe) Online(ctx context.Context) bool {
	p.mu.Lock()
	fresh := p.fetched && time.Since(p.fetchedAt) < p.ttl
	p.mu.Unlock()

	if fresh {
		return true
	}

	_, err, _ := p.group.Do("discovery", func() (any, error) {
		return p.fetch(ctx)
	})
	return err == nil
}

// Invalidate drops the cached discovery result so the next Available call
// refreshes it.
func (p *Probe) Invalidate() {
	p.mu.Lock()
	p.routes = nil
	p.fetched = false
	p.mu.Unlock()
}

func (p *Probe) fetch(ctx context.Context) (map[string]bool, error) {
	var resp discoveryResponse
	err := p.client.get(ctx, "/discovery", &resp)
	if IsNotFound(err) {
		// Backend without a discovery endpoint: treat every route as live.
		p.store(nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	routes := make(map[string]bool, len(resp.Endpoints))
	for _, r := range resp.Endpoints {
		routes[r] = true
	}
	p.store(routes)
	return routes, nil
}

func (p *Probe) store(routes map[string]bool) {
	p.mu.Lock()
	p.routes = routes
	p.fetched = true
	p.fetchedAt = time.Now()
	p.mu.Unlock()
}

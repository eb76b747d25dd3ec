package pubnub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pubnub-go/pncore/config"
	"github.com/pubnub-go/pncore/metrics"
	"github.com/pubnub-go/pncore/pnerror"
	"github.com/pubnub-go/pncore/token"
)

// Pool manages a fixed-size or heap-grown collection of Contexts (§4.7's
// Context Pool), mirroring the teacher's SessionManager: a sync.RWMutex
// guards the map, and Contexts are constructed in parallel so that standing
// up hundreds of identities is bounded by the slowest single construction,
// not their sum.
type Pool struct {
	contexts map[int]*Context
	mutex    sync.RWMutex
	cfg      *config.Config

	static    bool
	staticCap int

	presence *token.PresenceManager
	stats    *metrics.Metrics
}

// NewPool creates a Pool backed by cfg. When cfg.UseStaticPool is set, the
// Pool refuses to grow past cfg.CtxMax, modelling the static-array
// allocation strategy of §4.7; otherwise it grows on demand (heap
// allocation).
func NewPool(cfg *config.Config) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pubnub: pool: config must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pubnub: pool: %w", err)
	}
	return &Pool{
		contexts:  make(map[int]*Context),
		cfg:       cfg,
		static:    cfg.UseStaticPool,
		staticCap: cfg.CtxMax,
		stats:     metrics.NewMetrics(),
	}, nil
}

// Stats returns the Pool-wide request counters. Every Context created by
// CreateContexts has this same *metrics.Metrics attached via AttachStats, so
// it aggregates traffic across the whole Pool -- the shape a dashboard or
// metrics exporter wants, rather than one counter set per Context.
func (p *Pool) Stats() *metrics.Metrics { return p.stats }

// CreateContexts constructs count Contexts concurrently and registers them.
// If the Pool is static and count would exceed its configured CtxMax, no
// Contexts are created and an error is returned.
func (p *Pool) CreateContexts(count int) error {
	if p.static && p.Count()+count > p.staticCap {
		return fmt.Errorf("pubnub: pool: static pool capacity %d exceeded", p.staticCap)
	}

	type result struct {
		c   *Context
		err error
		id  int
	}
	results := make(chan result, count)
	var wg sync.WaitGroup

	base := p.Count()
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c, err := NewContext(id, p.cfg)
			if err == nil {
				c.AttachStats(p.stats)
			}
			results <- result{c: c, err: err, id: id}
		}(base + i)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var errs []error
	p.mutex.Lock()
	for r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		p.contexts[r.c.ID()] = r.c
	}
	p.mutex.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("pubnub: pool: %d context(s) failed to create; first error: %w", len(errs), errs[0])
	}
	return nil
}

// Get returns the Context with the given id and true, or nil and false if no
// such Context exists.
func (p *Pool) Get(id int) (*Context, bool) {
	p.mutex.RLock()
	c, ok := p.contexts[id]
	p.mutex.RUnlock()
	return c, ok
}

// Count returns the number of registered Contexts.
func (p *Pool) Count() int {
	p.mutex.RLock()
	n := len(p.contexts)
	p.mutex.RUnlock()
	return n
}

// Release cancels and deregisters a Context, freeing it back to the pool.
// This is the "deferred-free" step of §4.7: the Context is not usable again
// after Release, matching the static-pool allocator's "at most one owner at
// a time" invariant.
func (p *Pool) Release(id int) {
	p.mutex.Lock()
	c, ok := p.contexts[id]
	delete(p.contexts, id)
	p.mutex.Unlock()
	if ok {
		c.Cancel()
	}
}

// StartPresenceHeartbeat launches a pool-wide presence heartbeat: every
// interval, each registered Context issues a §6 Heartbeat call for channels
// and groups, independent of and in addition to any per-Context SubscribeV2
// engine's own heartbeat interleaving. The returned token.PresenceManager
// tracks the outcome of every round per Context id. Call Stop on it (or
// ReleaseAll) to terminate the background goroutine.
func (p *Pool) StartPresenceHeartbeat(interval time.Duration, channels, groups string, heartbeatS int) *token.PresenceManager {
	p.mutex.RLock()
	ids := make([]int, 0, len(p.contexts))
	for id := range p.contexts {
		ids = append(ids, id)
	}
	p.mutex.RUnlock()

	pm := token.NewPresenceManager(interval)
	pm.Start(ids, func(contextID int) pnerror.Result {
		c, ok := p.Get(contextID)
		if !ok {
			return pnerror.Cancelled
		}
		return c.Heartbeat(context.Background(), channels, groups, heartbeatS)
	})
	p.presence = pm
	return pm
}

// ReleaseAll cancels and deregisters every Context in the Pool, stopping the
// presence heartbeat started by StartPresenceHeartbeat, if any.
func (p *Pool) ReleaseAll() {
	if p.presence != nil {
		p.presence.Stop()
		p.presence = nil
	}

	p.mutex.Lock()
	ids := make([]int, 0, len(p.contexts))
	for id := range p.contexts {
		ids = append(ids, id)
	}
	p.mutex.Unlock()

	for _, id := range ids {
		p.Release(id)
	}
}

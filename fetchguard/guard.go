// Package fetchguard keeps a poller from stacking requests against a slow
// endpoint while making sure it never wedges on a request that never returns.
package fetchguard

import (
	"context"
	"sync"
	"time"
)

// Guard admits at most one outstanding request. A request that is not
// released within the recovery duration is aborted and the guard opens.
type Guard struct {
	mu       sync.Mutex
	name     string
	recovery time.Duration
	now      func() time.Time
	onAbort  func(name string)
	lease    *Lease
}

// Lease is held by the caller for the duration of one request.
type Lease struct {
	guard    *Guard
	ctx      context.Context
	cancel   context.CancelFunc
	deadline time.Time
	timer    *time.Timer
}

type Option func(*Guard)

// WithNow replaces the clock used to decide whether a lease has expired.
func WithNow(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithAbortHandler is called after a stalled request has been aborted.
func WithAbortHandler(fn func(name string)) Option {
	return func(g *Guard) { g.onAbort = fn }
}

func New(name string, recovery time.Duration, opts ...Option) *Guard {
	g := &Guard{
		name:     name,
		recovery: recovery,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) Name() string {
	return g.name
}

// TryAcquire locks the guard. It returns false while a previous lease is
// still outstanding and inside its recovery window; the caller must skip
// this cycle. The lease context is cancelled when the lease expires.
func (g *Guard) TryAcquire(parent context.Context) (*Lease, bool) {
	g.mu.Lock()

	now := g.now()
	aborted := false
	if l := g.lease; l != nil {
		if now.Before(l.deadline) {
			g.mu.Unlock()
			return nil, false
		}
		g.drop(l)
		aborted = true
	}

	ctx, cancel := context.WithCancel(parent)
	l := &Lease{
		guard:    g,
		ctx:      ctx,
		cancel:   cancel,
		deadline: now.Add(g.recovery),
	}
	l.timer = time.AfterFunc(g.recovery, func() { g.expire(l) })
	g.lease = l
	g.mu.Unlock()

	if aborted && g.onAbort != nil {
		g.onAbort(g.name)
	}
	return l, true
}

// Locked reports whether a lease is outstanding and not yet expired.
func (g *Guard) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lease != nil && g.now().Before(g.lease.deadline)
}

func (g *Guard) expire(l *Lease) {
	g.mu.Lock()
	if g.lease != l {
		g.mu.Unlock()
		return
	}
	g.drop(l)
	g.mu.Unlock()

	if g.onAbort != nil {
		g.onAbort(g.name)
	}
}

// drop must be called with g.mu held.
func (g *Guard) drop(l *Lease) {
	l.timer.Stop()
	l.cancel()
	g.lease = nil
}

// Context is cancelled when the lease is released or expires.
func (l *Lease) Context() context.Context {
	return l.ctx
}

// Release opens the guard. It returns false when the lease had already
// expired and been superseded; the response it guarded is stale.
func (l *Lease) Release() bool {
	g := l.guard
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lease != l {
		l.cancel()
		return false
	}
	g.drop(l)
	return true
}

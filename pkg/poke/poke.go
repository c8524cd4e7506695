package poke

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaywire/fabric/pkg/registry"
)

// Router implements a leading-edge throttled drain: the first poke in
// a quiet period drains immediately; further pokes within the throttle
// window are coalesced into one trailing drain fired when the window
// elapses.
type Router struct {
	reg      *registry.Registry
	interval time.Duration
	log      *slog.Logger

	mu        sync.Mutex
	pending   map[string]bool
	throttled bool
	dirty     bool
}

// New builds a Router that dispatches against reg, coalescing repeated
// pokes within interval.
func New(reg *registry.Registry, interval time.Duration, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		reg:      reg,
		interval: interval,
		pending:  make(map[string]bool),
		log:      log,
	}
}

// Poke unions targets into the pending set and drains immediately if no
// throttle window is currently open.
func (r *Router) Poke(ctx context.Context, targets []string) {
	r.mu.Lock()
	for _, t := range targets {
		r.pending[t] = true
	}
	if r.throttled {
		r.dirty = true
		r.mu.Unlock()
		return
	}
	r.throttled = true
	snapshot := r.pending
	r.pending = make(map[string]bool)
	r.mu.Unlock()

	r.drain(ctx, snapshot)
	time.AfterFunc(r.interval, func() { r.onWindowElapsed(ctx) })
}

// onWindowElapsed closes the current throttle window. If a poke arrived
// during the window, it drains the accumulated set as a trailing call
// and opens a fresh window; otherwise the router goes idle until the
// next leading-edge poke.
func (r *Router) onWindowElapsed(ctx context.Context) {
	r.mu.Lock()
	if !r.dirty {
		r.throttled = false
		r.mu.Unlock()
		return
	}
	r.dirty = false
	snapshot := r.pending
	r.pending = make(map[string]bool)
	r.mu.Unlock()

	r.drain(ctx, snapshot)
	time.AfterFunc(r.interval, func() { r.onWindowElapsed(ctx) })
}

// drain forwards poll requests to every Worker whose targets intersect
// snapshot, and defers anything no Worker serves. Each poll is sent on
// its own goroutine: drain does not wait for the Workers' replies, and a
// failed send is only logged.
func (r *Router) drain(ctx context.Context, snapshot map[string]bool) {
	if len(snapshot) == 0 {
		return
	}

	served := make(map[string]bool)
	for _, entry := range r.reg.Entries() {
		intersection := intersect(snapshot, entry.Targets)
		if len(intersection) == 0 {
			continue
		}
		for _, t := range intersection {
			served[t] = true
		}
		go func(entry *registry.Entry, intersection []string) {
			if _, err := entry.Conn.SendRequest(ctx, "poll", map[string]any{"targets": intersection}); err != nil {
				r.log.Warn("poll dispatch failed", "worker", entry.Name, "error", err)
			}
		}(entry, intersection)
	}

	var unserved []string
	for t := range snapshot {
		if !served[t] {
			unserved = append(unserved, t)
		}
	}
	if len(unserved) > 0 {
		r.reg.AddDeferred(unserved)
	}
}

func intersect(set map[string]bool, targets []string) []string {
	var out []string
	for _, t := range targets {
		if set[t] {
			out = append(out, t)
		}
	}
	return out
}

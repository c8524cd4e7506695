package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaywire/fabric/pkg/rpc"
	"github.com/relaywire/fabric/pkg/wire"
)

// Entry is one registered Worker.
type Entry struct {
	ID      string
	Conn    *rpc.Connection
	Targets []string
	Name    string
}

// Registry holds every currently-registered Worker connection.
type Registry struct {
	log *slog.Logger

	mu      sync.Mutex
	entries map[string]*Entry

	deferredMu sync.Mutex
	deferred   map[string]bool
}

// New builds an empty Registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log,
		entries:  make(map[string]*Entry),
		deferred: make(map[string]bool),
	}
}

// Register adds conn advertising targets under name. It consults the
// deferred-poke set and immediately forwards any intersecting targets
// to the new Worker. That poll is sent on its own goroutine, since
// Register runs inside conn's register-worker handler and conn's read
// loop must stay free to receive the poll's reply.
func (r *Registry) Register(ctx context.Context, conn *rpc.Connection, targets []string, name string) {
	id := uuid.NewString()
	if name == "" {
		name = id
	}
	entry := &Entry{ID: id, Conn: conn, Targets: targets, Name: name}

	r.mu.Lock()
	r.entries[id] = entry
	r.mu.Unlock()

	conn.OnClose(func() {
		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()
	})

	intersection := r.consumeDeferred(targets)
	if len(intersection) > 0 {
		go func() {
			if _, err := conn.SendRequest(ctx, "poll", map[string]any{"targets": intersection}); err != nil {
				r.log.Warn("deferred poll delivery failed", "worker", name, "error", err)
			}
		}()
	}
}

// AddDeferred unions targets into the deferred-poke set (called by
// pkg/poke when a target has no serving Worker).
func (r *Registry) AddDeferred(targets []string) {
	r.deferredMu.Lock()
	defer r.deferredMu.Unlock()
	for _, t := range targets {
		r.deferred[t] = true
	}
}

// consumeDeferred removes and returns the subset of targets present in
// the deferred set.
func (r *Registry) consumeDeferred(targets []string) []string {
	r.deferredMu.Lock()
	defer r.deferredMu.Unlock()
	var out []string
	for _, t := range targets {
		if r.deferred[t] {
			out = append(out, t)
			delete(r.deferred, t)
		}
	}
	return out
}

// Entries returns a snapshot of every registered Worker.
func (r *Registry) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// WorkerStatus is one registered Worker's observable state, as surfaced
// in the Master's status response.
type WorkerStatus struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Targets  []string `json:"targets"`
	LastPong int64    `json:"lastPong"`
}

// Status returns every registered Worker's id, name, targets, and last
// observed pong time.
func (r *Registry) Status() []WorkerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WorkerStatus, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, WorkerStatus{
			ID:       e.ID,
			Name:     e.Name,
			Targets:  e.Targets,
			LastPong: e.Conn.LastPongUnix(),
		})
	}
	return out
}

// StartKeepalive sends a ping to every registered Worker every interval,
// until ctx is cancelled.
func (r *Registry) StartKeepalive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, e := range r.Entries() {
					if err := e.Conn.Send(wire.Ping); err != nil {
						r.log.Warn("ping failed", "worker", e.Name, "error", err)
					}
				}
			}
		}
	}()
}

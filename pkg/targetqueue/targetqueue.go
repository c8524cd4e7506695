package targetqueue

import (
	"context"
	"sync"

	"github.com/relaywire/fabric/pkg/core"
)

// RunFunc executes one claimed job. It is called on its own goroutine;
// the caller must call Set.Done when it returns so the next queued job
// (if any) can be dispatched.
type RunFunc func(ctx context.Context, id uint64, target string)

// State is the observable snapshot of one target.
type State struct {
	Paused      bool
	Concurrency int
	Length int // queued plus in-flight
}

type targetState struct {
	mu          sync.Mutex
	concurrency int
	paused      bool
	queued      []uint64
	inflight    int
}

// Set owns every target a Worker serves and the bounded dispatch logic
// for each.
type Set struct {
	ctx context.Context
	run RunFunc

	onFinished func(target string)

	mu      sync.Mutex
	targets map[string]*targetState
}

// New builds a Set. ctx is the long-lived context passed to every
// dispatched RunFunc call; it outlives any single request handler.
func New(ctx context.Context, run RunFunc) *Set {
	return &Set{
		ctx:     ctx,
		run:     run,
		targets: make(map[string]*targetState),
	}
}

// OnFinished registers a callback invoked after every completed job,
// regardless of outcome. Used by the scheduler to retrigger poll() when
// backlog remains.
func (s *Set) OnFinished(fn func(target string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinished = fn
}

// Add creates a target at the given concurrency.
func (s *Set) Add(target string, concurrency int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[target]; ok {
		return core.ErrTargetExists
	}
	s.targets[target] = &targetState{concurrency: concurrency}
	return nil
}

// Remove deletes a target. It is an error for the target's queue
// (queued plus in-flight) to be non-empty.
func (s *Set) Remove(target string) error {
	s.mu.Lock()
	t, ok := s.targets[target]
	s.mu.Unlock()
	if !ok {
		return core.ErrTargetNotFound
	}

	t.mu.Lock()
	empty := len(t.queued) == 0 && t.inflight == 0
	t.mu.Unlock()
	if !empty {
		return core.ErrTargetNotEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check under the set lock: another Push could have landed between
	// the unlock above and here.
	t, ok = s.targets[target]
	if !ok {
		return core.ErrTargetNotFound
	}
	t.mu.Lock()
	empty = len(t.queued) == 0 && t.inflight == 0
	t.mu.Unlock()
	if !empty {
		return core.ErrTargetNotEmpty
	}
	delete(s.targets, target)
	return nil
}

// SetConcurrency adjusts a target's live limit. Running jobs are never
// cancelled; a lowered limit only slows future dispatch.
func (s *Set) SetConcurrency(target string, concurrency int) error {
	t, err := s.get(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.concurrency = concurrency
	t.mu.Unlock()
	s.drain(target, t)
	return nil
}

// Pause stops new dispatch on target; in-flight jobs keep running.
func (s *Set) Pause(target string) error {
	t, err := s.get(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
	return nil
}

// Continue resumes dispatch on target.
func (s *Set) Continue(target string) error {
	t, err := s.get(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.paused = false
	t.mu.Unlock()
	s.drain(target, t)
	return nil
}

// Push enqueues id onto target's backlog, dispatching it immediately if
// a slot is free.
func (s *Set) Push(target string, id uint64) error {
	t, err := s.get(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.queued = append(t.queued, id)
	t.mu.Unlock()
	s.drain(target, t)
	return nil
}

// Done marks one in-flight job on target as finished and dispatches the
// next queued item if a slot is now free.
func (s *Set) Done(target string) {
	t, err := s.get(target)
	if err != nil {
		return
	}
	t.mu.Lock()
	if t.inflight > 0 {
		t.inflight--
	}
	t.mu.Unlock()
	s.drain(target, t)

	s.mu.Lock()
	onFinished := s.onFinished
	s.mu.Unlock()
	if onFinished != nil {
		onFinished(target)
	}
}

// Status returns target's current observable state.
func (s *Set) Status(target string) (State, error) {
	t, err := s.get(target)
	if err != nil {
		return State{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Paused:      t.paused,
		Concurrency: t.concurrency,
		Length:      len(t.queued) + t.inflight,
	}, nil
}

// Names returns every target currently in the set.
func (s *Set) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.targets))
	for name := range s.targets {
		names = append(names, name)
	}
	return names
}

// Served returns a name-presence set suitable for passing to the
// storage layer's claim classification.
func (s *Set) Served() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	served := make(map[string]bool, len(s.targets))
	for name := range s.targets {
		served[name] = true
	}
	return served
}

func (s *Set) get(target string) (*targetState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[target]
	if !ok {
		return nil, core.ErrTargetNotFound
	}
	return t, nil
}

// drain dispatches as many queued jobs on t as the concurrency limit and
// pause flag allow, one goroutine per job.
func (s *Set) drain(target string, t *targetState) {
	for {
		t.mu.Lock()
		if t.paused || t.inflight >= t.concurrency || len(t.queued) == 0 {
			t.mu.Unlock()
			return
		}
		id := t.queued[0]
		t.queued = t.queued[1:]
		t.inflight++
		t.mu.Unlock()

		go s.run(s.ctx, id, target)
	}
}

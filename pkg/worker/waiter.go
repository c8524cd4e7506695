package worker

import (
	"sync"

	"github.com/relaywire/fabric/pkg/core"
)

// ManualOutcome is what a run-manual waiter is ultimately fulfilled
// with: either the job's completion, or the error the scheduler was
// shut down with. Waiters exist only for accepted ids; ignored and
// not-found ids are reported by RunManual directly.
type ManualOutcome struct {
	Done *core.JobDone
	Err  error
}

// waiterRegistry implements the "callable futures" strategy for manual
// runs: one-shot waiters keyed by job id, fulfilled by the job-done
// signal or failed on shutdown.
type waiterRegistry struct {
	mu      sync.Mutex
	waiters map[uint64]chan ManualOutcome
}

func newWaiterRegistry() *waiterRegistry {
	return &waiterRegistry{waiters: make(map[uint64]chan ManualOutcome)}
}

// register creates a waiter for id. It is an error to register twice
// for the same id while the first waiter is still pending.
func (r *waiterRegistry) register(id uint64) (chan ManualOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.waiters[id]; ok {
		return nil, core.ErrDuplicateWaiter
	}
	ch := make(chan ManualOutcome, 1)
	r.waiters[id] = ch
	return ch, nil
}

// fulfill delivers outcome to id's waiter, if one is registered.
func (r *waiterRegistry) fulfill(id uint64, outcome ManualOutcome) {
	r.mu.Lock()
	ch, ok := r.waiters[id]
	if ok {
		delete(r.waiters, id)
	}
	r.mu.Unlock()
	if ok {
		ch <- outcome
	}
}

// count reports the number of waiters currently pending.
func (r *waiterRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// cancelAll fails every pending waiter with err, used on shutdown.
func (r *waiterRegistry) cancelAll(err error) {
	r.mu.Lock()
	waiters := r.waiters
	r.waiters = make(map[uint64]chan ManualOutcome)
	r.mu.Unlock()
	for _, ch := range waiters {
		ch <- ManualOutcome{Err: err}
	}
}

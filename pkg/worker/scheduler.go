package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/relaywire/fabric/pkg/core"
	"github.com/relaywire/fabric/pkg/runner"
	"github.com/relaywire/fabric/pkg/security"
	"github.com/relaywire/fabric/pkg/storage"
	"github.com/relaywire/fabric/pkg/targetqueue"
)

// RetryConfig controls the exponential backoff applied to the claim
// transaction (see withClaimRetry) when it fails with anything other
// than context cancellation.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the
	// first. Default: 5.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 100ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries. Default: 5s.
	MaxBackoff time.Duration

	// BackoffMultiplier scales the delay after each failed attempt.
	// Default: 2.0.
	BackoffMultiplier float64

	// JitterFraction randomizes the delay by up to this fraction in
	// either direction. Default: 0.1.
	JitterFraction float64
}

// DefaultRetryConfig is the backoff schedule a Scheduler uses unless
// overridden by WithClaimRetry.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// TargetStatus is one target's observable state, as returned by the
// `status` request.
type TargetStatus struct {
	Paused      bool `json:"paused"`
	Concurrency int  `json:"concurrency"`
	Length      int  `json:"length"`
}

// Scheduler is the Worker's polling loop and target queue owner: it
// claims rows for its served targets, dispatches them through a
// targetqueue.Set, and answers manual-run requests synchronously.
type Scheduler struct {
	ctx    context.Context
	store  *storage.Store
	runner *runner.Runner
	queues *targetqueue.Set

	fetchLimit int
	claimRetry RetryConfig
	log        *slog.Logger

	waiters *waiterRegistry

	mu          sync.Mutex
	polling     bool
	pollAll     bool
	nextpollSet map[string]bool
}

// New builds a Scheduler. ctx is the long-lived context jobs run under;
// it should be cancelled only on daemon shutdown.
func New(ctx context.Context, store *storage.Store, jobRunner *runner.Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		ctx:         ctx,
		store:       store,
		runner:      jobRunner,
		claimRetry:  DefaultRetryConfig(),
		log:         slog.Default(),
		waiters:     newWaiterRegistry(),
		nextpollSet: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.queues = targetqueue.New(ctx, s.dispatch)
	s.queues.OnFinished(s.onJobFinished)
	jobRunner.SetOnDone(s.handleJobDone)
	return s
}

// dispatch is the targetqueue.RunFunc wired into the queue set: it runs
// the job and frees the slot it occupied when the child exits.
func (s *Scheduler) dispatch(ctx context.Context, id uint64, target string) {
	s.runner.Run(ctx, id, target)
	s.queues.Done(target)
}

func (s *Scheduler) handleJobDone(d core.JobDone) {
	s.waiters.fulfill(d.ID, ManualOutcome{Done: &d})
}

func (s *Scheduler) onJobFinished(target string) {
	s.trigger()
}

// AddTarget creates a new served target at the given concurrency.
func (s *Scheduler) AddTarget(name string, concurrency int) error {
	if err := security.ValidateTargetName(name); err != nil {
		return err
	}
	if err := security.ValidateConcurrency(concurrency); err != nil {
		return err
	}
	return s.queues.Add(name, concurrency)
}

// RemoveTarget deletes a target; it is an error if its queue is
// non-empty.
func (s *Scheduler) RemoveTarget(name string) error {
	return s.queues.Remove(name)
}

// SetTargetConcurrency adjusts a target's live concurrency limit.
func (s *Scheduler) SetTargetConcurrency(name string, concurrency int) error {
	if err := security.ValidateConcurrency(concurrency); err != nil {
		return err
	}
	return s.queues.SetConcurrency(name, concurrency)
}

// Pause stops dispatch on targets; an empty/nil list means all served
// targets (the Worker-side omitted-targets meaning, distinct from the
// Master's per-fleet meaning).
func (s *Scheduler) Pause(targets []string) error {
	return s.forEachServed(targets, s.queues.Pause)
}

// Continue resumes dispatch on targets, same omission rule as Pause, and
// starts a polling cycle so that a poll backlog held while the targets
// were paused is serviced.
func (s *Scheduler) Continue(targets []string) error {
	if err := s.forEachServed(targets, s.queues.Continue); err != nil {
		return err
	}
	s.trigger()
	return nil
}

func (s *Scheduler) forEachServed(targets []string, fn func(string) error) error {
	if len(targets) == 0 {
		targets = s.queues.Names()
	}
	for _, t := range targets {
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

// Status returns every served target's observable state.
func (s *Scheduler) Status() (map[string]TargetStatus, error) {
	names := s.queues.Names()
	out := make(map[string]TargetStatus, len(names))
	for _, name := range names {
		st, err := s.queues.Status(name)
		if err != nil {
			return nil, err
		}
		out[name] = TargetStatus{Paused: st.Paused, Concurrency: st.Concurrency, Length: st.Length}
	}
	return out, nil
}

// PendingManualRuns reports the number of in-flight run-manual waiters
// (the "jobPromisesCount" status field).
func (s *Scheduler) PendingManualRuns() int {
	return s.waiters.count()
}

// Poll enqueues targets (or every served target, if empty) into the
// backlog and kicks off a polling cycle.
func (s *Scheduler) Poll(targets []string) error {
	if len(targets) > 0 {
		served := s.queues.Served()
		for _, t := range targets {
			if !served[t] {
				return fmt.Errorf("invalid target '%s'", t)
			}
		}
	}

	s.mu.Lock()
	if len(targets) == 0 {
		s.pollAll = true
	} else {
		for _, t := range targets {
			s.nextpollSet[t] = true
		}
	}
	s.mu.Unlock()

	s.trigger()
	return nil
}

// trigger runs one polling cycle in the background.
func (s *Scheduler) trigger() {
	go s.runCycle()
}

// runCycle implements the poll() contract end to end, recursing (via a
// plain loop) when the claim returns a full page.
func (s *Scheduler) runCycle() {
	for {
		s.mu.Lock()
		targets := s.currentTargetsLocked()
		if len(targets) == 0 {
			s.mu.Unlock()
			return
		}
		if s.polling {
			s.mu.Unlock()
			return
		}
		if !s.anyHasSlack(targets) {
			s.mu.Unlock()
			return
		}
		s.polling = true
		s.pollAll = false
		s.nextpollSet = make(map[string]bool)
		s.mu.Unlock()

		outcome, err := s.claim(targets)

		s.mu.Lock()
		s.polling = false
		if err == nil {
			total := len(outcome.Accepted) + len(outcome.Ignored)
			if s.fetchLimit > 0 && total >= s.fetchLimit {
				for _, t := range targets {
					s.nextpollSet[t] = true
				}
			}
		}
		// A poll() requested while this cycle's claim was in flight landed
		// in pollAll/nextpollSet above rather than being serviced (the
		// goroutine it spawned saw polling still true and returned). Loop
		// again so that backlog is picked up by this cycle instead of
		// waiting on some unrelated future trigger.
		backlog := s.pollAll || len(s.nextpollSet) > 0
		s.mu.Unlock()

		if err != nil {
			s.log.Error("claim transaction failed", "targets", targets, "error", err)
			return
		}

		for _, row := range outcome.Accepted {
			if err := s.queues.Push(row.Target, row.ID); err != nil {
				s.log.Error("push accepted job failed", "id", row.ID, "target", row.Target, "error", err)
			}
		}

		if !backlog {
			return
		}
	}
}

// currentTargetsLocked must be called with s.mu held.
func (s *Scheduler) currentTargetsLocked() []string {
	if s.pollAll {
		return s.queues.Names()
	}
	if len(s.nextpollSet) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.nextpollSet))
	for t := range s.nextpollSet {
		out = append(out, t)
	}
	return out
}

func (s *Scheduler) anyHasSlack(targets []string) bool {
	for _, t := range targets {
		st, err := s.queues.Status(t)
		if err != nil {
			continue
		}
		if !st.Paused && st.Length < st.Concurrency {
			return true
		}
	}
	return false
}

func (s *Scheduler) claim(targets []string) (storage.ClaimOutcome, error) {
	served := s.queues.Served()
	var outcome storage.ClaimOutcome
	err := s.withClaimRetry(func() error {
		var claimErr error
		outcome, claimErr = s.store.ClaimWaiting(s.ctx, targets, served, s.fetchLimit)
		return claimErr
	})
	return outcome, err
}

// withClaimRetry retries fn under s.claimRetry's backoff schedule,
// stopping early if s.ctx is cancelled. fn is always the claim
// transaction; this is not a general-purpose retry helper.
func (s *Scheduler) withClaimRetry(fn func() error) error {
	cfg := s.claimRetry
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	backoff := cfg.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		jitter := time.Duration(float64(backoff) * cfg.JitterFraction * (rand.Float64()*2 - 1))
		sleep := backoff + jitter
		if sleep < 0 {
			sleep = backoff
		}
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return lastErr
}

// Shutdown fails every pending manual-run waiter; it does not touch
// jobs already running (children are not killed on scheduler shutdown
// by default).
func (s *Scheduler) Shutdown(err error) {
	s.waiters.cancelAll(err)
}

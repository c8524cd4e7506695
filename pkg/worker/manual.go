package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaywire/fabric/pkg/core"
)

// ManualJobResult is one job's outcome from a run-manual call, returned
// to the Master/caller once every accepted job of that call has exited.
type ManualJobResult struct {
	ID     uint64      `json:"id"`
	Target string      `json:"target"`
	Result core.Result `json:"result"`
	Code   *int        `json:"code,omitempty"`
	Signal string      `json:"signal,omitempty"`
	Stdout string      `json:"stdout"`
	Stderr string      `json:"stderr"`
}

// RunManual selects the given ids whatever their target, claims those in
// manual status on a served target (the rest are ignored), dispatches
// the accepted ones through the target queue, and blocks
// until every accepted job has finished. It returns per-id results for
// accepted jobs and per-id error strings for everything that was
// ignored, not found, or failed to register (duplicate waiter).
func (s *Scheduler) RunManual(ctx context.Context, ids []uint64) (map[uint64]ManualJobResult, map[uint64]string) {
	results := make(map[uint64]ManualJobResult)
	errs := make(map[uint64]string)

	outcome, err := s.store.ClaimByIDs(ctx, ids, s.queues.Served())
	if err != nil {
		for _, id := range ids {
			errs[id] = err.Error()
		}
		return results, errs
	}

	for _, id := range outcome.Ignored {
		errs[id] = fmt.Sprintf("job %d ignored: wrong status or unserved target", id)
	}
	for _, id := range outcome.NotFound {
		errs[id] = fmt.Sprintf("job %d not found", id)
	}

	type pending struct {
		row core.JobRow
		ch  chan ManualOutcome
	}
	var waitFor []pending

	for _, row := range outcome.Accepted {
		ch, err := s.waiters.register(row.ID)
		if err != nil {
			errs[row.ID] = err.Error()
			continue
		}
		if err := s.queues.Push(row.Target, row.ID); err != nil {
			s.waiters.fulfill(row.ID, ManualOutcome{})
			errs[row.ID] = err.Error()
			continue
		}
		waitFor = append(waitFor, pending{row: row, ch: ch})
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range waitFor {
		wg.Add(1)
		go func(p pending) {
			defer wg.Done()
			outcome := <-p.ch
			mu.Lock()
			defer mu.Unlock()
			switch {
			case outcome.Err != nil:
				errs[p.row.ID] = outcome.Err.Error()
			case outcome.Done != nil:
				results[p.row.ID] = ManualJobResult{
					ID:     outcome.Done.ID,
					Target: outcome.Done.Target,
					Result: outcome.Done.Result,
					Code:   outcome.Done.Code,
					Signal: outcome.Done.Signal,
					Stdout: outcome.Done.Stdout,
					Stderr: outcome.Done.Stderr,
				}
			default:
				errs[p.row.ID] = "job finished with no recorded outcome"
			}
		}(p)
	}
	wg.Wait()

	return results, errs
}

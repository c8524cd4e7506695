package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"sync"

	"github.com/relaywire/fabric/pkg/registry"
)

// JobRef is one requested job in a run-manual call: the id to claim and
// the target it's believed to be queued under.
type JobRef struct {
	ID     uint64 `json:"id"`
	Target string `json:"target"`
}

// Result is the merged outcome of a run-manual fan-out: per-id job
// payloads (passed through as raw JSON, since the aggregator doesn't
// need to interpret them) and per-id error strings.
type Result struct {
	Jobs   map[string]json.RawMessage `json:"jobs"`
	Errors map[string]string          `json:"errors"`
}

// workerResponse is the shape returned by a Worker's own run-manual
// handler, decoded just enough to merge.
type workerResponse struct {
	Jobs   map[string]json.RawMessage `json:"jobs"`
	Errors map[string]string          `json:"errors"`
}

// Aggregator fans run-manual requests out to the Workers that serve
// each job's target.
type Aggregator struct {
	reg *registry.Registry
}

// New builds an Aggregator backed by reg.
func New(reg *registry.Registry) *Aggregator {
	return &Aggregator{reg: reg}
}

// RunManual picks, for each job, a Worker at random among those serving
// its target, groups the jobs by chosen Worker, fans the run-manual call
// out in parallel, and merges the per-Worker results into one.
func (a *Aggregator) RunManual(ctx context.Context, jobs []JobRef) Result {
	result := Result{
		Jobs:   make(map[string]json.RawMessage),
		Errors: make(map[string]string),
	}
	if len(jobs) == 0 {
		return result
	}

	entries := a.reg.Entries()
	byTarget := make(map[string][]int)
	for i, e := range entries {
		for _, t := range e.Targets {
			byTarget[t] = append(byTarget[t], i)
		}
	}

	grouped := make(map[int][]uint64)
	for _, j := range jobs {
		candidates := byTarget[j.Target]
		if len(candidates) == 0 {
			result.Errors[strconv.FormatUint(j.ID, 10)] = fmt.Sprintf("worker serving target '%s' not found", j.Target)
			continue
		}
		chosen := candidates[rand.Intn(len(candidates))]
		grouped[chosen] = append(grouped[chosen], j.ID)
	}

	if len(grouped) == 0 {
		return result
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for idx, ids := range grouped {
		wg.Add(1)
		go func(idx int, ids []uint64) {
			defer wg.Done()
			entry := entries[idx]
			raw, err := entry.Conn.SendRequest(ctx, "run-manual", map[string]any{"ids": ids})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				for _, id := range ids {
					result.Errors[strconv.FormatUint(id, 10)] = err.Error()
				}
				return
			}
			var resp workerResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				for _, id := range ids {
					result.Errors[strconv.FormatUint(id, 10)] = err.Error()
				}
				return
			}
			for id, payload := range resp.Jobs {
				result.Jobs[id] = payload
			}
			for id, msg := range resp.Errors {
				result.Errors[id] = msg
			}
		}(idx, ids)
	}
	wg.Wait()

	return result
}

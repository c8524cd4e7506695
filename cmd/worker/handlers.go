package main

import (
	"context"
	"runtime"

	"github.com/relaywire/fabric/pkg/rpc"
	"github.com/relaywire/fabric/pkg/worker"
)

type targetsPayload struct {
	Targets []string `json:"targets,omitempty"`
}

type targetPayload struct {
	Target      string `json:"target"`
	Concurrency int    `json:"concurrency"`
}

type removeTargetPayload struct {
	Target string `json:"target"`
}

type runManualPayload struct {
	IDs []uint64 `json:"ids"`
}

type statusResponse struct {
	Targets          map[string]worker.TargetStatus `json:"targets"`
	JobPromisesCount int                             `json:"jobPromisesCount"`
	MemoryUsage      uint64                          `json:"memoryUsage"`
}

// registerWorkerHandlers wires every Worker request type onto sched.
func registerWorkerHandlers(router *rpc.Router, sched *worker.Scheduler) {
	router.Handle("poll", rpc.Typed(func(_ context.Context, p targetsPayload, _ *rpc.Connection) (any, error) {
		if err := sched.Poll(p.Targets); err != nil {
			return nil, err
		}
		return "ok", nil
	}))

	router.Handle("pause", rpc.Typed(func(_ context.Context, p targetsPayload, _ *rpc.Connection) (any, error) {
		if err := sched.Pause(p.Targets); err != nil {
			return nil, err
		}
		return "ok", nil
	}))

	router.Handle("continue", rpc.Typed(func(_ context.Context, p targetsPayload, _ *rpc.Connection) (any, error) {
		if err := sched.Continue(p.Targets); err != nil {
			return nil, err
		}
		return "ok", nil
	}))

	router.Handle("status", rpc.Typed(func(_ context.Context, _ struct{}, _ *rpc.Connection) (any, error) {
		targets, err := sched.Status()
		if err != nil {
			return nil, err
		}
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return statusResponse{
			Targets:          targets,
			JobPromisesCount: sched.PendingManualRuns(),
			MemoryUsage:      m.Alloc,
		}, nil
	}))

	router.Handle("add-target", rpc.Typed(func(_ context.Context, p targetPayload, _ *rpc.Connection) (any, error) {
		if err := sched.AddTarget(p.Target, p.Concurrency); err != nil {
			return nil, err
		}
		return "ok", nil
	}))

	router.Handle("remove-target", rpc.Typed(func(_ context.Context, p removeTargetPayload, _ *rpc.Connection) (any, error) {
		if err := sched.RemoveTarget(p.Target); err != nil {
			return nil, err
		}
		return "ok", nil
	}))

	router.Handle("set-target-concurrency", rpc.Typed(func(_ context.Context, p targetPayload, _ *rpc.Connection) (any, error) {
		if err := sched.SetTargetConcurrency(p.Target, p.Concurrency); err != nil {
			return nil, err
		}
		return "ok", nil
	}))

	router.Handle("run-manual", rpc.Typed(func(ctx context.Context, p runManualPayload, _ *rpc.Connection) (any, error) {
		jobs, errs := sched.RunManual(ctx, p.IDs)
		return map[string]any{"jobs": jobs, "errors": errs}, nil
	}))
}

package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/relaywire/fabric/pkg/aggregator"
	"github.com/relaywire/fabric/pkg/poke"
	"github.com/relaywire/fabric/pkg/registry"
	"github.com/relaywire/fabric/pkg/rpc"
	"github.com/relaywire/fabric/pkg/security"
)

type registerWorkerPayload struct {
	Targets []string `json:"targets"`
	Name    string   `json:"name,omitempty"`
}

type pokePayload struct {
	Targets []string `json:"targets"`
}

type targetsPayload struct {
	Targets []string `json:"targets,omitempty"`
}

type statusPayload struct {
	PollWorkers bool `json:"poll_workers,omitempty"`
}

type statusResponse struct {
	Workers     []registry.WorkerStatus `json:"workers"`
	MemoryUsage uint64                  `json:"memoryUsage"`
}

type runManualPayload struct {
	Jobs []aggregator.JobRef `json:"jobs"`
}

// registerMasterHandlers wires every Master request type onto reg,
// pokeRouter, and agg.
func registerMasterHandlers(router *rpc.Router, reg *registry.Registry, pokeRouter *poke.Router, agg *aggregator.Aggregator) {
	router.Handle("register-worker", rpc.Typed(func(ctx context.Context, p registerWorkerPayload, conn *rpc.Connection) (any, error) {
		if err := security.ValidateTargetNames(p.Targets); err != nil {
			return nil, err
		}
		reg.Register(ctx, conn, p.Targets, p.Name)
		return "ok", nil
	}))

	router.Handle("poke", rpc.Typed(func(ctx context.Context, p pokePayload, _ *rpc.Connection) (any, error) {
		if len(p.Targets) == 0 {
			return nil, fmt.Errorf("poke requires a non-empty targets list")
		}
		pokeRouter.Poke(ctx, p.Targets)
		return "ok", nil
	}))

	router.Handle("pause", rpc.Typed(func(ctx context.Context, p targetsPayload, _ *rpc.Connection) (any, error) {
		return "ok", forwardToIntersecting(ctx, reg, p.Targets, "pause")
	}))

	router.Handle("continue", rpc.Typed(func(ctx context.Context, p targetsPayload, _ *rpc.Connection) (any, error) {
		return "ok", forwardToIntersecting(ctx, reg, p.Targets, "continue")
	}))

	router.Handle("status", rpc.Typed(func(_ context.Context, _ statusPayload, _ *rpc.Connection) (any, error) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return statusResponse{
			Workers:     reg.Status(),
			MemoryUsage: m.Alloc,
		}, nil
	}))

	router.Handle("run-manual", rpc.Typed(func(ctx context.Context, p runManualPayload, _ *rpc.Connection) (any, error) {
		result := agg.RunManual(ctx, p.Jobs)
		return result, nil
	}))
}

// forwardToIntersecting implements the Master-side pause/continue
// contract: select Workers whose advertised targets intersect targets
// (nil means every Worker) and forward typ to each with just the
// intersecting subset.
func forwardToIntersecting(ctx context.Context, reg *registry.Registry, targets []string, typ string) error {
	all := len(targets) == 0
	wanted := make(map[string]bool, len(targets))
	for _, t := range targets {
		wanted[t] = true
	}

	for _, entry := range reg.Entries() {
		var intersection []string
		if all {
			intersection = entry.Targets
		} else {
			for _, t := range entry.Targets {
				if wanted[t] {
					intersection = append(intersection, t)
				}
			}
		}
		if len(intersection) == 0 {
			continue
		}
		if _, err := entry.Conn.SendRequest(ctx, typ, map[string]any{"targets": intersection}); err != nil {
			return err
		}
	}
	return nil
}

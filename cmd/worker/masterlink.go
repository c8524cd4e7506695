package main

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/relaywire/fabric/pkg/config"
	"github.com/relaywire/fabric/pkg/rpc"
	"github.com/relaywire/fabric/pkg/worker"
)

// maintainMasterLink keeps a register-worker connection to the Master
// alive, redialing after master_reconnect_timeout on every drop so the
// link auto-reconnects from the Worker side.
func maintainMasterLink(ctx context.Context, cfg *config.WorkerConfig, sched *worker.Scheduler, log *slog.Logger) {
	addr := net.JoinHostPort(cfg.MasterHost, strconv.Itoa(cfg.MasterPort))
	router := rpc.NewRouter()
	registerWorkerHandlers(router, sched)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := net.Dial("tcp", addr)
		if err != nil {
			log.Warn("master dial failed", "addr", addr, "error", err)
			wait(ctx, cfg.MasterReconnectTimeout)
			continue
		}

		rpcConn := rpc.New(conn, router,
			rpc.WithPassword(cfg.Password),
			rpc.WithLogger(log),
		)
		// Serve must already be reading for the register-worker reply to
		// reach SendRequest.
		serveDone := make(chan error, 1)
		go func() { serveDone <- rpcConn.Serve(ctx) }()

		targets := make([]string, 0, len(cfg.Targets))
		for name := range cfg.Targets {
			targets = append(targets, name)
		}
		if _, err := rpcConn.SendRequest(ctx, "register-worker", map[string]any{
			"targets": targets,
		}); err != nil {
			log.Warn("register-worker failed", "error", err)
			conn.Close()
			<-serveDone
			wait(ctx, cfg.MasterReconnectTimeout)
			continue
		}

		if err := <-serveDone; err != nil {
			log.Warn("master link closed", "error", err)
		}
		wait(ctx, cfg.MasterReconnectTimeout)
	}
}

func wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

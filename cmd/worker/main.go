// Command worker runs the Worker daemon: it claims waiting rows for its
// served targets, runs them through a launcher command, and answers the
// Master's poll/pause/continue/status/run-manual requests over TCP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/relaywire/fabric/pkg/config"
	"github.com/relaywire/fabric/pkg/rpc"
	"github.com/relaywire/fabric/pkg/runner"
	"github.com/relaywire/fabric/pkg/schedule"
	"github.com/relaywire/fabric/pkg/storage"
	"github.com/relaywire/fabric/pkg/worker"
)

func main() {
	configPath := flag.String("config", "worker.conf", "path to the worker configuration file")
	flag.Parse()

	log := slog.Default()

	f, err := os.Open(*configPath)
	if err != nil {
		log.Error("config open failed", "path", *configPath, "error", err)
		os.Exit(1)
	}
	cfg, err := config.ParseWorkerConfig(f)
	f.Close()
	if err != nil {
		log.Error("config parse failed", "error", err)
		os.Exit(1)
	}

	db, err := gorm.Open(mysql.Open(cfg.MySQLDSN), &gorm.Config{})
	if err != nil {
		log.Error("database open failed", "error", err)
		os.Exit(1)
	}
	store, err := storage.NewWithPool(db)
	if err != nil {
		log.Error("pool configuration failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}

	jobRunner := runner.New(store,
		runner.WithLauncher(cfg.Launcher),
		runner.WithWorkingDir(cfg.LauncherCwd),
		runner.WithEnv(cfg.LauncherEnv),
		runner.WithMaxOutputBuffer(cfg.MaxOutputBuffer),
		runner.WithLogger(log),
	)

	sched := worker.New(ctx, store, jobRunner,
		worker.WithFetchLimit(cfg.MySQLFetchLimit),
		worker.WithLogger(log),
	)
	for name, concurrency := range cfg.Targets {
		if err := sched.AddTarget(name, concurrency); err != nil {
			log.Error("add target failed", "target", name, "error", err)
			os.Exit(1)
		}
	}

	reconciler := schedule.NewReconciler(store, nil, time.Hour, log)
	go reconciler.Run(ctx)

	router := rpc.NewRouter()
	registerWorkerHandlers(router, sched)

	listener, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		log.Error("listen failed", "error", err)
		os.Exit(1)
	}

	go serveConnections(ctx, listener, router, cfg, log)
	go maintainMasterLink(ctx, cfg, sched, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	sched.Shutdown(context.Canceled)
	cancel()
	listener.Close()
}

func serveConnections(ctx context.Context, listener net.Listener, router *rpc.Router, cfg *config.WorkerConfig, log *slog.Logger) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Error("accept failed", "error", err)
			continue
		}
		rpcConn := rpc.New(conn, router,
			rpc.WithPassword(cfg.Password),
			rpc.WithAlwaysAllowLocalhost(cfg.AlwaysAllowLocalhost),
			rpc.WithLogger(log),
		)
		go func() {
			if err := rpcConn.Serve(ctx); err != nil {
				log.Warn("connection closed with error", "error", err)
			}
		}()
	}
}

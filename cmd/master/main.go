// Command master runs the Master daemon: it tracks registered Workers,
// routes poke/pause/continue by target intersection, and fans
// run-manual calls out to the Worker serving each job's target.
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

	"github.com/relaywire/fabric/pkg/aggregator"
	"github.com/relaywire/fabric/pkg/config"
	"github.com/relaywire/fabric/pkg/poke"
	"github.com/relaywire/fabric/pkg/registry"
	"github.com/relaywire/fabric/pkg/rpc"
)

func main() {
	configPath := flag.String("config", "master.conf", "path to the master configuration file")
	flag.Parse()

	log := slog.Default()

	f, err := os.Open(*configPath)
	if err != nil {
		log.Error("config open failed", "path", *configPath, "error", err)
		os.Exit(1)
	}
	cfg, err := config.ParseMasterConfig(f)
	f.Close()
	if err != nil {
		log.Error("config parse failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(log)
	reg.StartKeepalive(ctx, cfg.PingInterval)

	pokeRouter := poke.New(reg, cfg.PokeThrottleInterval, log)
	agg := aggregator.New(reg)

	router := rpc.NewRouter()
	registerMasterHandlers(router, reg, pokeRouter, agg)

	listener, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		log.Error("listen failed", "error", err)
		os.Exit(1)
	}

	go serveConnections(ctx, listener, router, cfg, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	listener.Close()
}

func serveConnections(ctx context.Context, listener net.Listener, router *rpc.Router, cfg *config.MasterConfig, log *slog.Logger) {
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

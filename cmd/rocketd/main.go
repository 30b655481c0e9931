// Command rocketd is a demo acceptor that exercises internal/rocket end to
// end over real TCP sockets: it accepts connections, hands each one to an
// internal/rocket.ConnectionCore bound to the internal/rockettest.EchoHandler
// fixture, and exposes Prometheus metrics plus a graceful drain on SIGINT/
// SIGTERM. The TCP/TLS acceptor itself is explicitly out of scope for
// internal/rocket (spec.md §1); this binary is the external collaborator
// that plugs a real net.Listener into the core.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/outervation/rocketcore/internal/config"
	"github.com/outervation/rocketcore/internal/logger"
	"github.com/outervation/rocketcore/internal/metrics"
	"github.com/outervation/rocketcore/internal/rocket"
	"github.com/outervation/rocketcore/internal/rockettest"
)

func main() {
	var configPath string
	var metricsAddr string
	flag.StringVar(&configPath, "config", "", "path to a TOML config file (optional; defaults are used if omitted)")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics on (optional; metrics endpoint disabled if empty)")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rocketd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rocketd: %v\n", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, reg, log)
	}

	if err := run(cfg, log, m); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("rocketd: exiting with error", logger.LogFields{"error": err})
		os.Exit(1)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("rocketd: metrics server exited", logger.LogFields{"error": err})
	}
}

func run(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) error {
	ln, err := net.Listen("tcp", cfg.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.ListenAddress, err)
	}
	log.Info("rocketd: listening", logger.LogFields{"addr": ln.Addr().String()})

	manager := rocket.NewConnManager(m)
	manager.StartIdleSweep(cfg.Server.IdleTimeout.AsDuration())
	defer manager.StopIdleSweep()
	handler := rockettest.EchoHandler{}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("rocketd: shutdown signal received, draining", nil)
		manager.BeginDrain()
		ln.Close()

		drainDeadline := time.NewTimer(cfg.Server.DrainTimeout.AsDuration())
		defer drainDeadline.Stop()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				manager.CloseIdle()
				if manager.Len() == 0 {
					cancel()
					return
				}
			case <-drainDeadline.C:
				manager.DropAll()
				cancel()
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			core := rocket.NewConnectionCore(conn, handler, manager, m, log)
			core.SetMaxBufferedItems(cfg.Server.MaxBufferedItemsPerStream)
			if err := core.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("rocketd: connection exited with error", logger.LogFields{"conn_id": core.ID(), "error": err})
			}
		}()
	}
}

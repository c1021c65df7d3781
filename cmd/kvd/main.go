package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	kvd "github.com/behrlich/go-kvd"
	"github.com/behrlich/go-kvd/internal/command"
	"github.com/behrlich/go-kvd/internal/constants"
	"github.com/behrlich/go-kvd/internal/destroy"
	"github.com/behrlich/go-kvd/internal/expire"
	"github.com/behrlich/go-kvd/internal/idle"
	"github.com/behrlich/go-kvd/internal/logging"
	"github.com/behrlich/go-kvd/internal/loop"
	"github.com/behrlich/go-kvd/internal/network"
	"github.com/behrlich/go-kvd/internal/poller"
	"github.com/behrlich/go-kvd/internal/store"
)

func main() {
	var (
		port        = flag.Int("port", constants.DefaultPort, "TCP port to listen on")
		idleTimeout = flag.Duration("idle-timeout", constants.IdleTimeout, "Disconnect connections idle longer than this")
		metricsAddr = flag.String("metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9121)")
		redisCompat = flag.Bool("redis-compat-set", false, "Make SET respond with status \"OK\" instead of Nil")
		verbose     = flag.Bool("v", false, "Verbose (debug) logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	metrics := kvd.NewMetrics()
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics)
		go serveMetrics(*metricsAddr, reg, logger)
	}

	p, err := poller.New()
	if err != nil {
		logger.Error("failed to create poller", "error", err)
		os.Exit(1)
	}
	defer p.Close()

	idleTracker := idle.New(*idleTimeout)
	srv, err := network.Listen(network.Config{
		Port:    *port,
		Backlog: constants.ListenBacklog,
		Poller:  p,
		Idle:    idleTracker,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		logger.Error("failed to listen", "port", *port, "error", err)
		os.Exit(1)
	}
	defer srv.Close()

	l := loop.New(loop.Config{
		Network:    srv,
		Poller:     p,
		Store:      store.New(),
		Expire:     expire.New(),
		Idle:       idleTracker,
		Destroy:    destroy.New(logger),
		Dispatcher: command.New(),
		Metrics:    metrics,
		Options:    command.Options{RedisCompatibleSET: *redisCompat},
		Logger:     logger,
	})

	logger.Info("listening", "port", *port, "idle_timeout", *idleTimeout)
	fmt.Printf("kvd listening on :%d\n", *port)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := l.Run(ctx); err != nil {
		logger.Error("event loop exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}

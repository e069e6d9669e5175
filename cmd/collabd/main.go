package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/collabtree/collabd/internal/logger"
	"github.com/collabtree/collabd/pkg/adapter/collab"
	"github.com/collabtree/collabd/pkg/adapter/rest"
	"github.com/collabtree/collabd/pkg/config"
	"github.com/collabtree/collabd/pkg/metrics"
	"github.com/collabtree/collabd/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to configure logger: %v", err)
	}

	fmt.Println("collabd - collaboration metadata server")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Directory backend: %s", cfg.Directory.Type)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		go serveMetrics(cfg.Metrics.Port)
	}

	connector, err := config.CreateConnector(ctx, &cfg.Directory)
	if err != nil {
		log.Fatalf("Failed to create directory backend: %v", err)
	}
	defer func() {
		if err := connector.Close(); err != nil {
			logger.Error("Error closing directory backend: %v", err)
		}
	}()

	paths := config.PathConfig(&cfg.Directory)

	srv := server.New(connector)

	if cfg.Adapters.Collab.Enabled {
		adapter := collab.New(cfg.Adapters.Collab, paths, metrics.NewCollabMetrics())
		if err := srv.AddAdapter(adapter); err != nil {
			log.Fatalf("Failed to register COLLAB adapter: %v", err)
		}
	}
	if cfg.Adapters.REST.Enabled {
		adapter := rest.New(cfg.Adapters.REST, paths)
		if err := srv.AddAdapter(adapter); err != nil {
			log.Fatalf("Failed to register REST adapter: %v", err)
		}
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-serverDone; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Server shutdown error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	}
}

// serveMetrics exposes the Prometheus registry on its own port.
func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Metrics endpoint listening on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics endpoint failed: %v", err)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tendant/replace-files/internal/logging"
	"github.com/tendant/replace-files/pkg/replacefiles"
	"github.com/tendant/replace-files/pkg/replacefiles/config"
	"github.com/tendant/replace-files/pkg/replacefiles/metrics"
	"github.com/tendant/replace-files/pkg/replacefiles/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file; environment variables override it")
	flag.Parse()

	source := config.WithEnv()
	if *configPath != "" {
		source = config.WithFile(*configPath)
	}
	cfg, err := config.Load(source)
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Error("Invalid log level", "err", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.Environment, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hooks := replacefiles.LoggingHook(logger)
	if cfg.EnableMetrics {
		hooks.Merge(metrics.New(reg).Hooks())
	}

	svc, err := cfg.BuildService(ctx, replacefiles.WithHooks(hooks), replacefiles.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to build service", "err", err)
		os.Exit(1)
	}

	wf := workflow.New(svc, workflow.WithLogger(logger))
	wf.BindReplacements(svc)

	secret := cfg.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("JWT_SECRET is not set, admin tokens will not survive a restart")
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, svc, wf, secret, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("replace-files server starting",
			"port", cfg.Port,
			"env", cfg.Environment,
			"database", cfg.DatabaseType,
			"default_backend", cfg.DefaultStorageBackend,
			"backends", len(cfg.StorageBackends),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
		os.Exit(1)
	}
}

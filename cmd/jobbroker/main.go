// Copyright 2025 James Ross
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

	"go.uber.org/zap"

	"github.com/flyingrobots/jobbroker/internal/appwebhook"
	"github.com/flyingrobots/jobbroker/internal/audit"
	"github.com/flyingrobots/jobbroker/internal/authresolver"
	"github.com/flyingrobots/jobbroker/internal/config"
	"github.com/flyingrobots/jobbroker/internal/httpapi"
	"github.com/flyingrobots/jobbroker/internal/jobtracker"
	"github.com/flyingrobots/jobbroker/internal/jobwebhook"
	"github.com/flyingrobots/jobbroker/internal/metadatastore"
	"github.com/flyingrobots/jobbroker/internal/obs"
	"github.com/flyingrobots/jobbroker/internal/queuemanager"
	"github.com/flyingrobots/jobbroker/internal/reaper"
	"github.com/flyingrobots/jobbroker/internal/redisstore"
	"github.com/flyingrobots/jobbroker/internal/retention"
	"github.com/flyingrobots/jobbroker/internal/scheduler"
	"github.com/flyingrobots/jobbroker/internal/subscription"
)

var version = "dev"

func main() {
	var configPath string
	var showVersion bool

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	store := redisstore.New(&cfg.Redis)
	defer store.Close()

	meta, err := newMetadataStore(cfg, store, logger)
	if err != nil {
		logger.Fatal("metadata store init failed", obs.Err(err))
	}

	resolver := authresolver.New(meta, cfg.Application)
	qmgr := queuemanager.New(store, logger)

	jobwebhooks := jobwebhook.New(logger, 32)
	appwebhooks := appwebhook.New(meta, logger,
		appwebhook.WithBreaker(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod,
			cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples))
	subs := subscription.New(meta, logger)

	tracker := jobtracker.New(store, qmgr, logger, jobwebhooks, subs, appwebhooks)
	sched := scheduler.New(meta, store, cfg.Scheduler, logger,
		scheduler.WithBreaker(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod,
			cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(10 * time.Second):
		}
	}()

	if err := sched.Reconcile(ctx); err != nil {
		logger.Warn("scheduler reconcile failed", obs.Err(err))
	}
	go sched.Run(ctx)

	rep := reaper.New(store, qmgr, cfg.Reaper, logger)
	go rep.Run(ctx)

	purger := retention.New(qmgr, cfg.Retention, logger)
	go purger.Run(ctx)

	metricsSrv := obs.StartHTTPServer(cfg, func(c context.Context) error { return store.Ping(c) })
	defer func() { _ = metricsSrv.Shutdown(context.Background()) }()

	server := httpapi.NewServer(cfg, tracker, qmgr, meta, sched, appwebhooks, subs, resolver, store, logger)
	if cfg.Audit.Enabled {
		auditLogger, err := audit.New(cfg.Audit.Path, cfg.Audit.MaxSizeMB<<20, cfg.Audit.MaxBackups)
		if err != nil {
			logger.Warn("audit log init failed, continuing without it", obs.Err(err))
		} else {
			defer auditLogger.Close()
			server = server.WithAudit(auditLogger)
		}
	}
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      server.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logger.Info("http control plane listening", obs.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", obs.Err(err))
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", obs.Err(err))
	}
}

func newMetadataStore(cfg *config.Config, store *redisstore.Store, logger *zap.Logger) (metadatastore.Store, error) {
	switch cfg.MetadataStore.Backend {
	case "memory":
		logger.Info("metadata store: in-memory backend selected")
		return metadatastore.NewMemory(), nil
	case "redis":
		return metadatastore.NewRedis(store.Client()), nil
	default:
		return nil, fmt.Errorf("unknown metadata_store.backend %q", cfg.MetadataStore.Backend)
	}
}

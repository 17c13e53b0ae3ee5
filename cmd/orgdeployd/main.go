package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/platinummonkey/orgdeploy/pkg/api"
	"github.com/platinummonkey/orgdeploy/pkg/awscloud"
	"github.com/platinummonkey/orgdeploy/pkg/catalog"
	"github.com/platinummonkey/orgdeploy/pkg/config"
	"github.com/platinummonkey/orgdeploy/pkg/detector"
	"github.com/platinummonkey/orgdeploy/pkg/observability"
	"github.com/platinummonkey/orgdeploy/pkg/reconcile"
	"github.com/platinummonkey/orgdeploy/pkg/selfreg"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	log.WithField("version", cfg.Observability.OTelServiceVersion).Info("starting orgdeployd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	if cfg.Observability.OTelEnabled {
		shutdown, err := observability.InitTracing(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, log)
		if err != nil {
			log.WithError(err).Error("failed to initialize tracing")
			os.Exit(1)
		}
		defer shutdown(context.Background())
		log.WithField("endpoint", cfg.Observability.OTelEndpoint).Info("tracing enabled")
	}

	// Account catalog
	db, err := sql.Open("postgres", cfg.Database.PostgresURL)
	if err != nil {
		log.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.PostgresMaxConns)
	if err := db.PingContext(ctx); err != nil {
		log.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	catalogOpts := []catalog.Option{}
	if metrics != nil {
		catalogOpts = append(catalogOpts, catalog.WithMetrics(metrics))
	}
	store := catalog.NewStore(db, log, catalogOpts...)
	if err := store.EnsureSchema(ctx); err != nil {
		log.WithError(err).Error("failed to ensure catalog schema")
		os.Exit(1)
	}

	// Self-registration session store: redis when configured, in-memory
	// otherwise.
	var sessions selfreg.SessionStore
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.WithError(err).Error("invalid redis URL")
			os.Exit(1)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		opts.DB = cfg.Redis.DB
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.WithError(err).Error("failed to ping redis")
			os.Exit(1)
		}
		sessions = selfreg.NewRedisStore(client)
		log.Info("self-registration sessions backed by redis")
	} else {
		sessions = selfreg.NewMemoryStore()
		log.Warn("self-registration sessions are in-memory; announcements must reach this replica")
	}

	monitorOpts := []selfreg.Option{selfreg.WithDefaultTimeout(cfg.Deployment.WatchTimeout)}
	if metrics != nil {
		monitorOpts = append(monitorOpts, selfreg.WithMetrics(metrics))
	}
	monitor := selfreg.NewMonitor(sessions, log, monitorOpts...)

	// AWS boundary
	provider, err := awscloud.NewProvider(ctx, cfg.Deployment.AWSRegion, log)
	if err != nil {
		log.WithError(err).Error("failed to initialize AWS provider")
		os.Exit(1)
	}

	detectorOpts := []detector.Option{detector.WithCacheTTL(cfg.Deployment.DetectionCacheTTL)}
	if metrics != nil {
		detectorOpts = append(detectorOpts, detector.WithMetrics(metrics))
	}
	det := detector.New(provider.OrganizationsFactory(), log, detectorOpts...)

	registry := reconcile.NewRegistry()
	defer registry.CancelAll()

	server := api.NewServer(api.Dependencies{
		Log:      log,
		Metrics:  metrics,
		Detector: det,
		StackSets: func(cred awscloud.Credential) api.StackSetClient {
			return provider.StackSets(cred)
		},
		Catalog:     store,
		Monitor:     monitor,
		Registry:    registry,
		Deploy:      cfg.Deployment,
		BaseContext: ctx,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Separate health/metrics listener for k8s probes.
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	errCh := make(chan error, 2)
	go func() {
		log.WithField("addr", httpServer.Addr).Info("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		log.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.WithError(err).Error("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("API server shutdown incomplete")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("health server shutdown incomplete")
	}
	log.Info("orgdeployd stopped")
}

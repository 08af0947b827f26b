package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-lookflow/internal/api/handler"
	"go-lookflow/internal/coordinator"
	"go-lookflow/internal/core/ports"
	"go-lookflow/internal/core/postgres/repository"
	"go-lookflow/internal/engine"
	"go-lookflow/internal/infrastructure/genai"
	"go-lookflow/internal/infrastructure/memory"
	redisinfra "go-lookflow/internal/infrastructure/redis"
	"go-lookflow/internal/limiter"
	"go-lookflow/internal/log"
	"go-lookflow/internal/metrics"
	"go-lookflow/internal/service"
	"go-lookflow/internal/worker"
	"go-lookflow/internal/workflows/lookgen"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type backends struct {
	runs     ports.RunStore
	looks    ports.LookStore
	catalog  ports.CatalogStore
	profiles ports.ProfileStore
	queue    ports.RunQueue
	bus      ports.EventBus
	close    func()
}

func run(ctx context.Context, cfg config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.WithModule("lookflow-server")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	// 1. Engine: registry, limiter, executor
	steps := engine.NewRegistry()
	lim := limiter.New(cfg.LimiterCapacity, cfg.LimiterWait, m)
	executor := engine.NewExecutor(steps, b.runs, lim, log.WithModule("engine"),
		engine.WithEventBus(b.bus),
		engine.WithMetrics(m),
	)

	// 2. Domain workflow
	modelCfg := genai.Config{APIKey: cfg.ModelAPIKey, Timeout: cfg.StepPolicy.AttemptTimeout}
	textCfg, imageCfg := modelCfg, modelCfg
	textCfg.BaseURL, imageCfg.BaseURL = cfg.TextModelURL, cfg.ImageModelURL
	looks := lookgen.New(lookgen.Deps{
		Looks:    b.looks,
		Catalog:  b.catalog,
		Profiles: b.profiles,
		Text:     genai.NewTextModel(textCfg),
		Image:    genai.NewImageModel(imageCfg),
	})
	if err := looks.Register(steps, cfg.StepPolicy, cfg.StepPolicy); err != nil {
		return err
	}

	// 3. Entry points
	batch := lookgen.NewBatch(executor, b.looks, log.WithModule("batch"))
	svc := service.NewLookService(executor, batch, b.runs, b.looks, b.queue, log.WithModule("service"))

	// 4. Background loops
	runWorker := worker.NewWorker(b.queue, b.runs, executor, log.WithModule("worker"),
		worker.WithResumeDelay(cfg.RunResumeDelay),
	)
	runWorker.StartPool(ctx, cfg.RunWorkers)
	if _, err := runWorker.Recover(ctx); err != nil {
		logger.Error("failed to recover unfinished runs", "error", err)
	}

	coord := coordinator.NewCoordinator(b.bus, coordinator.LogNotifier{Logger: log.WithModule("notifier")}, log.WithModule("coordinator"))
	go func() {
		if err := coord.Start(ctx); err != nil {
			logger.Error("coordinator stopped", "error", err)
		}
	}()

	// 5. HTTP adapter
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	handler.NewWorkflowHandler(svc).Register(router.Group("/api/v1"))

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.HTTPAddr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	runWorker.Wait()
	return nil
}

func openBackends(ctx context.Context, cfg config, logger *slog.Logger) (*backends, error) {
	switch cfg.Store {
	case "memory":
		logger.Warn("using the in-memory store, runs will not survive a restart")
		store := memory.NewStore()
		return &backends{
			runs:     store,
			looks:    store,
			catalog:  store,
			profiles: store,
			queue:    memory.NewQueue(1024),
			bus:      memory.NewEventBus(),
			close:    func() {},
		}, nil

	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("--database-url is required for the postgres store")
		}
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := repository.Migrate(db, cfg.MigrateCollaborators); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}

		client, err := redisinfra.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}

		catalog := repository.NewCatalogRepository(db)
		return &backends{
			runs:     repository.NewRunRepository(db),
			looks:    repository.NewLookRepository(db),
			catalog:  catalog,
			profiles: catalog,
			queue:    redisinfra.NewRunQueue(client),
			bus:      redisinfra.NewRedisEventBus(client, log.WithModule("event-bus")),
			close: func() {
				if err := client.Close(); err != nil {
					logger.Error("failed to close redis", "error", err)
				}
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

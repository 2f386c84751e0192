package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/vnmchuo/botfleet/config"
	"github.com/vnmchuo/botfleet/internal/backend"
	"github.com/vnmchuo/botfleet/internal/backend/fal"
	"github.com/vnmchuo/botfleet/internal/backend/openai"
	"github.com/vnmchuo/botfleet/internal/backend/veo"
	"github.com/vnmchuo/botfleet/internal/budget"
	"github.com/vnmchuo/botfleet/internal/fleet"
	"github.com/vnmchuo/botfleet/internal/handlers"
	"github.com/vnmchuo/botfleet/internal/jobstore"
	"github.com/vnmchuo/botfleet/internal/metrics"
	"github.com/vnmchuo/botfleet/internal/ops"
	"github.com/vnmchuo/botfleet/internal/pricing"
	"github.com/vnmchuo/botfleet/internal/queue"
	"github.com/vnmchuo/botfleet/internal/router"
	"github.com/vnmchuo/botfleet/internal/scheduler"
	"github.com/vnmchuo/botfleet/internal/seeder"
	"github.com/vnmchuo/botfleet/internal/telemetry"
	"github.com/vnmchuo/botfleet/internal/usage"
	"github.com/vnmchuo/botfleet/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 2. Init tracing
	shutdownTracer, err := telemetry.InitTracer("botfleetd", cfg.OTELExporterType, cfg.OTELExporterEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init stores
	jobStore := jobstore.NewPostgresStore(pool)
	fleetStore := fleet.NewPostgresStore(pool)
	usageStore := usage.NewPostgresStore(pool)
	if os.Getenv("RUN_MIGRATIONS") == "true" {
		if err := jobStore.InitSchema(ctx); err != nil {
			log.Fatalf("failed to init jobs schema: %v", err)
		}
		if err := fleetStore.InitSchema(ctx); err != nil {
			log.Fatalf("failed to init fleet schema: %v", err)
		}
		if err := usageStore.InitSchema(ctx); err != nil {
			log.Fatalf("failed to init usage schema: %v", err)
		}
		log.Println("Schemas initialized")
	}

	// 6. Init spend ledger and rate limiter
	ledger := budget.NewRedisLedger(rdb)
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitCPM)

	// 7. Load cost table, init telemetry recorder
	costs, err := pricing.Load(cfg.CostTablePath)
	if err != nil {
		log.Fatalf("failed to load cost table: %v", err)
	}
	rec := telemetry.NewRecorder(telemetry.DefaultCapacity, costs, logger)
	rec.WithObserver(func(ctx context.Context, e telemetry.Entry) {
		metrics.ObserveCapability(string(e.Kind), e.Provider, e.Success, e.CostCents)
		if e.Success && e.CostCents > 0 && e.BotID != "" {
			if err := ledger.Add(ctx, e.BotID, e.CostCents); err != nil {
				logger.Error("failed to record spend", "bot_id", e.BotID, "error", err)
			}
		}
		if err := usageStore.LogCall(ctx, &usage.Log{
			BotID:          e.BotID,
			Capability:     string(e.Kind),
			Provider:       e.Provider,
			Model:          e.Model,
			Tier:           e.Tier,
			Success:        e.Success,
			Error:          e.Error,
			CostCents:      e.CostCents,
			DurationMs:     e.DurationMs,
			BudgetEnforced: e.BudgetEnforced,
		}); err != nil {
			logger.Error("failed to write usage log", "error", err)
		}
	})

	// 8. Init capability backends
	oai := openai.New(cfg.OpenAIAPIKey)
	falClient := fal.New(cfg.FalAPIKey)
	falImage := fal.NewImage(falClient)
	falVideo := fal.NewVideo(falClient)
	veoBackend := veo.New(cfg.GeminiAPIKey)

	capRouter := router.New(router.Backends{
		Chat:   oai,
		Vision: oai,
		Images: map[string]backend.ImageBackend{
			pricing.ModelImagePlain:     falImage,
			pricing.ModelImageReference: falImage,
		},
		Videos: map[string]backend.VideoBackend{
			pricing.ModelVideoPremium:    veoBackend,
			pricing.ModelVideoShort:      falVideo,
			pricing.ModelVideoLong:       falVideo,
			pricing.ModelVideoFallback:   falVideo,
			pricing.ModelVideoLastResort: falVideo,
		},
	}, rec, logger)

	// 9. Init job queue and handlers
	q := queue.New(jobStore, logger)
	publish := handlers.NewPublish(fleetStore, capRouter, ledger, limiter, logger)
	interactions := handlers.NewInteractions(fleetStore, capRouter, ledger, logger)
	q.Register(jobstore.KindPublishPost, publish.Handle)
	q.Register(jobstore.KindInteractions, interactions.Handle)

	// 10. Init scheduler
	sched := scheduler.New(fleetStore, q, scheduler.Config{
		WindowStartHour: cfg.WindowStartHour,
		WindowHours:     cfg.WindowHours,
		Jitter:          cfg.PostJitter,
	}, logger)

	// 11. Seed demo bots if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedDemoBots(ctx, fleetStore)
	}

	// 12. Start workers and periodic loops
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go q.Run(runCtx, cfg.WorkerCount, cfg.ClaimLimit, cfg.PollInterval)

	c := cron.New()
	if _, err := c.AddFunc(cfg.TickSpec, func() {
		if err := sched.Tick(runCtx); err != nil {
			logger.Error("scheduler tick failed", "error", err)
		}
	}); err != nil {
		log.Fatalf("invalid SCHEDULER_TICK spec: %v", err)
	}
	if _, err := c.AddFunc(cfg.ReapSpec, func() {
		if _, err := q.ReapStuck(runCtx, cfg.LeaseTimeout); err != nil {
			logger.Error("reaper sweep failed", "error", err)
		}
	}); err != nil {
		log.Fatalf("invalid REAPER_TICK spec: %v", err)
	}
	c.Start()
	defer c.Stop()

	// 13. Init ops HTTP surface
	opsHandler := ops.NewHandler(rec, usageStore, jobStore, q, fleetStore)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"botfleetd"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(ops.AdminAuth(cfg.AdminToken))
		r.Get("/v1/stats", opsHandler.HandleStats)
		r.Get("/v1/usage", opsHandler.HandleUsage)
		r.Get("/v1/bots", opsHandler.HandleListBots)
		r.Post("/v1/jobs", opsHandler.HandleEnqueueJob)
		r.Get("/v1/jobs/{id}", opsHandler.HandleGetJob)
	})

	// 14. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("botfleetd starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}

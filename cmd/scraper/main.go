package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/fiscusdev/grocery-price-scraper/internal/api"
	"github.com/fiscusdev/grocery-price-scraper/internal/browser"
	"github.com/fiscusdev/grocery-price-scraper/internal/config"
	"github.com/fiscusdev/grocery-price-scraper/internal/database"
	"github.com/fiscusdev/grocery-price-scraper/internal/events"
	"github.com/fiscusdev/grocery-price-scraper/internal/ratelimit"
	"github.com/fiscusdev/grocery-price-scraper/internal/runs"
	"github.com/fiscusdev/grocery-price-scraper/internal/scraper"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Name,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnLife: cfg.Database.MaxConnLife,
		MaxConnIdle: cfg.Database.MaxConnIdle,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	b, err := browser.New(&browser.Options{
		Headless:       cfg.Browser.Headless,
		Timeout:        cfg.Browser.Timeout,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		AcceptLanguage: cfg.Browser.AcceptLanguage,
		TimezoneID:     cfg.Browser.TimezoneID,
		Locale:         cfg.Browser.Locale,
	})
	if err != nil {
		logger.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	relay := database.NewRelay(db, redisClient, logger, database.RelayConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
	})
	go func() {
		if err := relay.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("relay stopped with error", "error", err)
		}
	}()

	registry := scraper.NewRegistry()
	registry.Register(scraper.NewATBScraper(cfg.Scraper.MaxPages, logger))
	registry.Register(scraper.NewSilpoScraper(cfg.Scraper.MaxPages, logger))
	registry.Register(scraper.NewNovusScraper(cfg.Scraper.MaxPages, logger))
	registry.Register(scraper.NewMetroScraper(cfg.Scraper.MaxPages, logger))

	publisher := events.NewPublisher(db, logger)
	reconciler := scraper.NewReconciler(db, publisher, logger)
	limiter := ratelimit.NewJitteredRateLimiter(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax)

	orchestrator := scraper.NewOrchestrator(registry, b, db, reconciler, limiter, scraper.Options{
		MaxRetries:      cfg.Scraper.MaxRetries,
		RetryDelay:      cfg.Scraper.RetryDelay,
		ConcurrentLimit: cfg.Scraper.ConcurrentLimit,
	}, logger)

	runManager := runs.NewManager(db, orchestrator, 0, logger)

	scheduler := cron.New()
	if cfg.Scraper.Schedule != "" {
		_, err := scheduler.AddFunc(cfg.Scraper.Schedule, func() {
			if _, err := runManager.StartRun(ctx, nil, "scheduled"); err != nil {
				logger.Error("scheduled run not started", "error", err)
			}
		})
		if err != nil {
			logger.Error("invalid scrape schedule", "schedule", cfg.Scraper.Schedule, "error", err)
			os.Exit(1)
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.Info("scheduler started", "schedule", cfg.Scraper.Schedule)
	}

	handlers := api.NewHandlers(runManager, db, cfg.Server.OperatorToken, logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		pendingCount, _ := relay.PendingCount(r.Context())
		deadLetterCount, _ := relay.DeadLetterCount(r.Context())

		health := map[string]interface{}{
			"status": "ok",
			"outbox": map[string]interface{}{
				"pending":     pendingCount,
				"dead_letter": deadLetterCount,
			},
		}

		status := http.StatusOK
		if pendingCount > 1000 {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetterCount > 100 {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}

		w.WriteHeader(status)
		json.NewEncoder(w).Encode(health)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/scraper", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(handlers.RequireOperator)
				r.Post("/run", handlers.TriggerRun)
			})
			r.Get("/runs", handlers.ListRuns)
			r.Get("/runs/{runID}", handlers.GetRun)
		})
		r.Get("/stores", handlers.ListStores)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Server.Port, "chains", registry.Chains())
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

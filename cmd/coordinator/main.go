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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/smazka/pricewatch/internal/api"
	"github.com/smazka/pricewatch/internal/cache"
	"github.com/smazka/pricewatch/internal/config"
	"github.com/smazka/pricewatch/internal/events"
	"github.com/smazka/pricewatch/internal/history"
	"github.com/smazka/pricewatch/internal/metrics"
	"github.com/smazka/pricewatch/internal/model"
	"github.com/smazka/pricewatch/internal/proxy"
	"github.com/smazka/pricewatch/internal/queue"
)

func main() {
	// Setup logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	coord := queue.NewCoordinator(logger, m)
	priceCache := cache.New(cfg.Cache.Size, cfg.Cache.TTL)
	coord.OnResults(func(taskID string, results []model.Outcome) {
		priceCache.Put(results)
	})

	proxyClient := proxy.NewClient(proxy.Settings{
		Enabled:    cfg.Proxy.Enabled,
		Host:       cfg.Proxy.Host,
		Port:       cfg.Proxy.Port,
		Username:   cfg.Proxy.Username,
		Password:   cfg.Proxy.Password,
		RefreshURL: cfg.Proxy.RefreshURL,
	}, cfg.Proxy.RotateCooldown, logger)

	// Optional Redis event stream
	if cfg.Redis.Addr != "" {
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

		publisher := events.NewPublisher(redisClient, cfg.Redis.Stream, logger)
		coord.OnResults(func(taskID string, results []model.Outcome) {
			publisher.PublishOutcomes(ctx, taskID, results)
		})
		logger.Info("price event stream enabled", "stream", cfg.Redis.Stream)
	}

	// Optional Postgres audit trail
	if cfg.History.DSN != "" {
		store, err := history.New(ctx, cfg.History.DSN, logger)
		if err != nil {
			logger.Error("failed to connect to history store", "error", err)
			os.Exit(1)
		}
		defer store.Close()

		coord.OnResults(func(taskID string, results []model.Outcome) {
			if err := store.InsertOutcomes(ctx, taskID, results); err != nil {
				logger.Error("failed to record price history", "error", err)
			}
		})
		logger.Info("price history enabled")
	}

	handlers := api.NewHandlers(coord, proxyClient, priceCache,
		cfg.Scraper.TaskBatchSize, cfg.Server.WaitTimeout, logger)
	handlers.Mode = cfg.Scraper.Mode

	// Setup Chi router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// must outlast the synchronous parse-prices wait
	r.Use(middleware.Timeout(cfg.Server.WaitTimeout + 30*time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"pending": coord.Pending(),
		})
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	handlers.Routes(r)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.WaitTimeout + 60*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down coordinator...")
		coord.Close()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("coordinator listening", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("coordinator stopped")
}

package main

import (
	"context"
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
	"github.com/redis/go-redis/v9"

	"github.com/atmx/fund-engine/internal/api"
	"github.com/atmx/fund-engine/internal/config"
	"github.com/atmx/fund-engine/internal/logger"
	"github.com/atmx/fund-engine/internal/metrics"
	"github.com/atmx/fund-engine/internal/portfolio"
	"github.com/atmx/fund-engine/internal/pricing"
	"github.com/atmx/fund-engine/internal/store"
)

func main() {
	cfg := config.Load()
	logger.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	st, closeStore, err := store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		slog.Error("store init failed", "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, closeStore)

	// --- Market data ---
	var (
		cache *pricing.Cache
		live  pricing.LiveQuotes
	)
	if cfg.PriceAPIKey != "" {
		var l2 pricing.SnapshotStore
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			l2 = pricing.NewRedisSnapshotStore(rdb, 24*time.Hour)
			slog.Info("shared quote snapshots enabled")
		}

		client := pricing.NewHTTPClient(cfg.PriceAPIURL, cfg.PriceAPIKey, cfg.PriceAPIRPS)
		cache = pricing.NewCache(client, cfg.PriceCacheTTL, l2)
		if cache.Seed(ctx) {
			slog.Info("quote cache seeded from shared snapshot")
		}
		live = cache
	} else {
		slog.Warn("PRICE_API_KEY not set, valuing with manual prices only")
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	svc := api.NewService(st, live, wsHub, cfg.MaxUploadBytes)

	if cache != nil {
		cache.OnRefresh(svc.NotifyQuotes)

		if cfg.PriceWarmSchedule != "" {
			warmer, err := pricing.NewWarmer(cache, func(ctx context.Context) ([]string, error) {
				trades, err := st.ListTrades(ctx)
				if err != nil {
					return nil, err
				}
				return portfolio.Tokens(portfolio.Aggregate(trades)), nil
			}, cfg.PriceWarmSchedule)
			if err != nil {
				slog.Error("quote warmer init failed", "err", err)
				os.Exit(1)
			}
			warmer.Start()
			cleanup = append(cleanup, warmer.Stop)
		}
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"fund-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("fund-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down fund-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("fund-engine stopped")
}

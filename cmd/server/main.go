package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tradeclash/trade-engine/internal/achievement"
	"github.com/tradeclash/trade-engine/internal/config"
	"github.com/tradeclash/trade-engine/internal/engine"
	"github.com/tradeclash/trade-engine/internal/leaderboard"
	"github.com/tradeclash/trade-engine/internal/ledger"
	"github.com/tradeclash/trade-engine/internal/metrics"
	"github.com/tradeclash/trade-engine/internal/oracle"
	"github.com/tradeclash/trade-engine/internal/realtime"
	"github.com/tradeclash/trade-engine/internal/store"
	"github.com/tradeclash/trade-engine/internal/valuation"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	// --- Store ---
	// primary is the authoritative store; st adds the optional cache layer
	// for the read endpoints. Trade execution must bypass the cache: its
	// pre-commit re-validation needs the freshest balance, and a cached read
	// racing an invalidation could serve an already-overwritten snapshot.
	var primary, st store.Store
	var cleanup []func()

	if cfg.Store.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Store.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		primary = store.NewPostgresStore(pool)
		st = primary
		slog.Info("connected to PostgreSQL")

		if cfg.Store.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Store.RedisURL)
			if err != nil {
				slog.Error("invalid redis_url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(primary, rdb, time.Duration(cfg.Store.CacheTTLSeconds)*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database_url not set, using in-memory store (data will not persist)")
		primary = store.NewMemoryStore()
		st = primary
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price oracle ---
	var orc oracle.Oracle
	if cfg.Oracle.BaseURL != "" {
		orc = oracle.NewClient(cfg.Oracle.BaseURL, cfg.OracleTimeout(), cfg.Oracle.RatePerSec, cfg.Oracle.Burst)
		slog.Info("price feed configured", "base", cfg.Oracle.BaseURL)
	} else {
		slog.Warn("oracle base_url not set, using empty static oracle (all symbols unknown)")
		orc = oracle.NewStatic()
	}

	// --- Achievements ---
	defs, err := achievement.LoadDefinitions(cfg.Achievements.Path)
	if err != nil {
		slog.Error("achievement definitions failed to load", "path", cfg.Achievements.Path, "err", err)
		os.Exit(1)
	}
	slog.Info("achievement definitions loaded", "count", len(defs), "path", cfg.Achievements.Path)
	evaluator := achievement.NewEvaluator(defs, st)

	// --- Core services ---
	led := ledger.New(primary, orc, cfg.FeeRate(), cfg.LockWait())
	board := leaderboard.NewBoard()

	hub := realtime.NewHub()
	hub.OnResize = func(total int) { metrics.WebSocketClients.Set(float64(total)) }

	svc := engine.NewService(st, orc, led, evaluator, board, hub, cfg.StartingCash())

	// Warm the leaderboards from durable state.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if leagues, err := st.ListLeagues(ctx); err == nil {
		for _, id := range leagues {
			if ps, err := st.ListLeaguePortfolios(ctx, id); err == nil {
				board.Rebuild(id, ps)
				metrics.LeaderboardSize.WithLabelValues(id).Set(float64(len(ps)))
			}
		}
	}

	// Periodic mark-to-market driven by price-feed freshness.
	ticker := valuation.NewTicker(st, orc, cfg.ValuationInterval(), svc.NotifyValuation)
	go ticker.Run(ctx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trade-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trade-engine listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down trade-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trade-engine stopped")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

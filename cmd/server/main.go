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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/finsim/game-engine/internal/api"
	"github.com/finsim/game-engine/internal/auction"
	"github.com/finsim/game-engine/internal/auth"
	"github.com/finsim/game-engine/internal/config"
	"github.com/finsim/game-engine/internal/hub"
	"github.com/finsim/game-engine/internal/ledger"
	"github.com/finsim/game-engine/internal/model"
	"github.com/finsim/game-engine/internal/round"
	"github.com/finsim/game-engine/internal/store"
	"github.com/finsim/game-engine/internal/team"
)

func main() {
	if err := run(); err != nil {
		slog.Error("game-engine failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("game-engine stopped")
}

func run() error {
	if err := config.LoadDotEnv(""); err != nil {
		return err
	}
	cfg, err := config.LoadServerFromEnv()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// --- Auction catalog ---
	var catalog []model.AuctionItem
	if cfg.AuctionCatalog != "" {
		catalog, err = auction.LoadCatalog(cfg.AuctionCatalog)
		if err != nil {
			return err
		}
		slog.Info("auction catalog loaded", "path", cfg.AuctionCatalog, "items", len(catalog))
	}

	// --- Services ---
	wsHub := hub.New(cfg.CORSOrigin, logger)
	hasher := auth.NewHasher(0)
	l := ledger.New(st, logger)
	teams := team.NewService(st, hasher, logger)
	rounds := round.NewService(st, l, wsHub, round.Config{DefaultDurationMinutes: cfg.DefaultRoundMinutes}, logger)
	auctions := auction.NewService(l, catalog, wsHub, logger)

	if cfg.AdminPasswordHash == "" {
		slog.Warn("ADMIN_PASSWORD_HASH not set, admin password login disabled")
	}
	teams.SyncMetrics(ctx)

	srv := api.NewServer(api.Deps{
		Teams:              teams,
		Ledger:             l,
		Rounds:             rounds,
		Auction:            auctions,
		Admin:              auth.NewAdmin(cfg.AdminToken, cfg.AdminPasswordHash, hasher),
		Hub:                wsHub,
		Events:             wsHub,
		LoginRatePerMinute: cfg.LoginRatePerMinute,
		CORSOrigin:         cfg.CORSOrigin,
		Logger:             logger,
	})
	wsHub.SetSnapshot(srv.Snapshot())

	// --- Server ---
	httpSrv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return wsHub.Run(gctx) })
	g.Go(func() error { return rounds.RunTimer(gctx, cfg.RoundTick) })
	g.Go(func() error {
		slog.Info("game-engine listening", "addr", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down game-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore selects PostgreSQL when DATABASE_URL is set, optionally fronted
// by the Redis cache, and the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), func() {}, nil
	}

	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		closeAll()
		return nil, nil, err
	}
	slog.Info("connected to PostgreSQL")

	var st store.Store = pg
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(pg, rdb, cfg.CacheTTL, logger)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
	}
	return st, closeAll, nil
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"coinfeed/config"
	"coinfeed/internal/auth"
	"coinfeed/internal/cache"
	"coinfeed/internal/chart"
	"coinfeed/internal/gateway"
	"coinfeed/internal/logger"
	"coinfeed/internal/market"
	"coinfeed/internal/metrics"
	"coinfeed/internal/model"
	"coinfeed/internal/portfolio"
	"coinfeed/internal/provider"
	"coinfeed/internal/store/redis"
	"coinfeed/internal/store/sqldb"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := logger.Init("api_gateway", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	// ── Cache ──
	var (
		store       model.CacheStore
		cachePinger metrics.Pinger
		backend     = "memory"
	)
	if cfg.CacheBackend == "redis" {
		rs, err := redis.New(ctx, redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, log, m)
		if err != nil {
			log.Warn("redis unavailable, using in-process cache", "addr", cfg.RedisAddr, "err", err)
		} else {
			defer rs.Close()
			store, cachePinger, backend = rs, rs, "redis"
			log.Info("connected to redis", "addr", cfg.RedisAddr)
		}
	}
	if store == nil {
		mem := cache.NewMemoryStore()
		store, cachePinger = mem, mem
	}
	fetcher := cache.NewFetcher(store, log, m)

	// ── Provider ──
	prov := provider.New(provider.Config{
		BaseURL: cfg.ProviderBaseURL,
		APIKey:  cfg.ProviderAPIKey,
		Timeout: cfg.ProviderTimeout,
	}, log, m)

	// ── Database ──
	if cfg.DBDriver == sqldb.DriverSQLite && !strings.HasPrefix(cfg.DBDSN, ":memory:") && !strings.HasPrefix(cfg.DBDSN, "file:") {
		if err := os.MkdirAll(filepath.Dir(cfg.DBDSN), 0o755); err != nil {
			log.Error("create database directory", "err", err)
			os.Exit(1)
		}
	}
	db, err := sqldb.Open(ctx, cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		log.Error("open database", "driver", cfg.DBDriver, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// ── Services ──
	ledger := portfolio.NewLedger(db)
	hub := gateway.NewHub()
	health := metrics.NewHealthStatus(backend, cachePinger, db, hub.Len)
	health.Check(ctx)
	health.StartLivenessChecker(ctx, 15*time.Second)

	srv := gateway.New(gateway.Deps{
		Market:    market.NewSnapshotService(fetcher, prov, cfg.ListPerPage, log),
		Charts:    chart.NewService(fetcher, prov, log),
		Users:     auth.NewStore(db, cfg.TOTPIssuer),
		Ledger:    ledger,
		Favorites: portfolio.NewFavorites(db),
		Summary:   portfolio.NewSummarizer(ledger, fetcher, prov, log),
		Hub:       hub,
		Health:    health,
		Gatherer:  reg,
		Metrics:   m,
		Log:       log,
	})
	handler, err := srv.Handler()
	if err != nil {
		log.Error("build routes", "err", err)
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("serving", "addr", cfg.ListenAddr, "cache", backend, "db", cfg.DBDriver)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	hub.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", "err", err)
	}
}

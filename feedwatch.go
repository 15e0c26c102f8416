package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/matrix-org/dugong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"feedwatch/agent"
	"feedwatch/alerts"
	"feedwatch/breaker"
	"feedwatch/cache"
	"feedwatch/config"
	"feedwatch/database"
	"feedwatch/fetch"
	"feedwatch/metrics"
	"feedwatch/polling"
	"feedwatch/ratelimit"
	"feedwatch/reddit"
	"feedwatch/router"
	"feedwatch/session"
	"feedwatch/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.LogDir != "" {
		log.AddHook(dugong.NewFSHook(
			filepath.Join(cfg.LogDir, "info.log"),
			filepath.Join(cfg.LogDir, "warn.log"),
			filepath.Join(cfg.LogDir, "error.log"),
		))
	}

	log.Infof(
		"feedwatch (BIND_ADDRESS=%s DATABASE_TYPE=%s DATABASE_URL=%s LOG_DIR=%s)",
		cfg.BindAddress, cfg.DatabaseType, cfg.DatabaseURL, cfg.LogDir,
	)

	db, err := database.Open(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	database.SetServiceDB(db)

	store := openCache(cfg)

	sender := telegram.NewSender(cfg.BotToken)
	var adminChat string
	if cfg.AllowedUserID != 0 {
		adminChat = strconv.FormatInt(cfg.AllowedUserID, 10)
	}
	alertMgr := alerts.NewManager(sender, adminChat)

	pool := agent.NewPool()
	limiter := ratelimit.New(cfg.MinDelay, ratelimit.DefaultMaxDelay)
	brk := breaker.New(cfg.CircuitBreakerThreshold, breaker.DefaultInitialTimeout)
	brk.OnOpen = func(resource string) {
		domain := fetch.Domain(resource)
		metrics.IncrementBreakerOpen(domain)
		alertMgr.CircuitOpened(resource)
		if err := db.UpdateBreakerState(domain, string(breaker.Open)); err != nil {
			log.WithError(err).WithField("domain", domain).Error("Failed to persist breaker state")
		}
	}
	sessions := session.NewManager(session.DefaultTTL)

	fetcher := fetch.NewFetcher(pool, limiter, brk, sessions, store)
	fetcher.Stats = db
	fetcher.Alerts = alertMgr
	fetcher.FeedTTL = cfg.CacheTTL

	scheduler := polling.NewScheduler(db, fetcher, reddit.NewChain(fetcher), &router.Router{}, sender, sessions)
	scheduler.Alerts = alertMgr
	scheduler.Start()

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", healthHandler(db, store))
	http.HandleFunc("/admin/blockstats", blockStatsHandler(db))

	srv := &http.Server{Addr: cfg.BindAddress}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	scheduler.Stop()
	if err := db.Close(); err != nil {
		log.WithError(err).Error("Failed to close database")
	}
}

// openCache picks the cache backend: Redis when reachable, the
// in-process LRU otherwise, and no cache at all when disabled.
func openCache(cfg *config.Config) cache.Store {
	if cfg.DisableRedis {
		log.Info("Cache disabled by configuration")
		return cache.Nop{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	redisStore, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.WithError(err).WithField("addr", cfg.RedisAddr).Warn("Redis unreachable, using in-memory cache")
		return cache.NewMemory()
	}
	log.WithField("addr", cfg.RedisAddr).Info("Connected to Redis")
	return redisStore
}

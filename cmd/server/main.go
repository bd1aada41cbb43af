package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/storage/redis/v3"
	"go.uber.org/zap"

	"searchproxy/internal/background"
	"searchproxy/internal/cache"
	"searchproxy/internal/config"
	"searchproxy/internal/logging"
	"searchproxy/internal/server"
	"searchproxy/internal/upstream"
)

func main() {
	cfg := config.Load()

	zlog, err := logging.New(cfg.LogLevel, cfg.IsDev())
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	if cfg.AlgoliaAppID == "" || cfg.AlgoliaAPIKey == "" {
		zlog.Fatal("ALGOLIA_APP_ID and ALGOLIA_API_KEY are required")
	}
	if cfg.SSRSecret == "" {
		zlog.Warn("SSR_SECRET is empty, no request will ever be SSR-flagged")
	}

	// Response cache store. Lookup and store failures degrade to cache
	// misses, so a down Redis slows the proxy but never breaks it.
	store := redis.New(redis.Config{URL: cfg.RedisURL})
	defer store.Close()

	// Background queue for cache writes and request logging.
	queue := background.New(zlog, 1024)

	gate := cache.NewGate(store, queue, cfg.SSRCacheDuration(), cfg.ClientCacheDuration(), zlog)
	dispatcher := upstream.NewDispatcher(cfg, zlog)
	reqLog := logging.NewRequestLogger(zlog, queue)

	srv := server.New(cfg, zlog)
	srv.RegisterRoutes(dispatcher, gate, reqLog)

	go func() {
		if err := srv.Start(); err != nil {
			zlog.Error("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down server")
	if err := srv.Shutdown(); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
	}

	// Let queued cache writes and log lines finish before exit.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := queue.Shutdown(ctx); err != nil {
		zlog.Warn("background queue did not drain", zap.Error(err))
	}
	zlog.Info("server exited")
}

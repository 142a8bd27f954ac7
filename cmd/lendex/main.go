package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/lendex/internal/config"
	"github.com/Aidin1998/lendex/internal/feeds"
	"github.com/Aidin1998/lendex/internal/portfolio"
	"github.com/Aidin1998/lendex/internal/pricecache"
	"github.com/Aidin1998/lendex/internal/risk"
	"github.com/Aidin1998/lendex/internal/server"
	"github.com/Aidin1998/lendex/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create logger
	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Feeds client talks to the lending-API indexer
	client := feeds.NewClient(zapLogger, cfg.Feeds.BaseURL, cfg.Feeds.RequestTimeout)

	// Price source: optional shared Redis tier under a per-process TTL cache
	var priceSource pricecache.Source = client
	if cfg.PriceCache.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.PriceCache.RedisAddr})
		priceSource = pricecache.NewRedisCache(zapLogger, redisClient, client, cfg.PriceCache.RedisTTL)
		zapLogger.Info("Shared price cache enabled", zap.String("redis_addr", cfg.PriceCache.RedisAddr))
	}
	priceCache := pricecache.New(zapLogger, priceSource, cfg.PriceCache.TTL, nil)

	// Risk core and session
	calc := risk.NewCalculator(zapLogger)
	session := portfolio.NewSession(zapLogger, portfolio.Config{
		Account:         cfg.Portfolio.Account,
		RefreshInterval: cfg.Portfolio.RefreshInterval,
		MaxRetries:      cfg.Portfolio.MaxRetries,
		RetryBackoff:    cfg.Portfolio.RetryBackoff,
		SafetyThreshold: decimal.NewFromFloat(cfg.Portfolio.SafetyThreshold),
	}, calc, client, client, priceCache, nil)

	// Initial snapshot; a failure here is non-fatal, the session will keep
	// retrying on its interval
	if err := session.Refresh(context.Background()); err != nil {
		zapLogger.Warn("Initial snapshot refresh failed", zap.Error(err))
	}
	if err := session.Start(); err != nil {
		zapLogger.Fatal("Failed to start portfolio session", zap.Error(err))
	}

	// API server
	apiServer := server.NewServer(zapLogger, calc, session)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: apiServer.Router(),
	}
	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", cfg.Server.Addr()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("API server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := session.Stop(); err != nil {
		zapLogger.Error("Portfolio session stop failed", zap.Error(err))
	}
}

// Package main provides the development gateway, a local stand-in for the
// remote portfolio service.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/portfolio-client/internal/api"
	"github.com/portfolio-client/internal/config"
	"github.com/portfolio-client/internal/logging"
	"github.com/portfolio-client/internal/storage"
	"github.com/redis/go-redis/v9"
)

func main() {
	embeddedRedis := flag.Bool("embedded-redis", false, "Serve the cache from an in-process Redis instead of REDIS_HOST")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	if cfg.Gateway.Password == "" {
		logger.Fatal("GATEWAY_PASSWORD must be set")
	}
	if _, err := os.Stat(cfg.Gateway.DataFile); err != nil {
		logger.WithError(err).WithField("file", cfg.Gateway.DataFile).Fatal("Accounts file is not readable")
	}

	var cache *storage.RedisCache
	if *embeddedRedis {
		mr, err := miniredis.Run()
		if err != nil {
			logger.WithError(err).Fatal("Failed to start embedded Redis")
		}
		defer mr.Close()
		cache = storage.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		logger.WithField("addr", mr.Addr()).Info("Embedded Redis started")
	} else {
		cache, err = storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
	}
	defer cache.Close()

	if cfg.Gateway.JWTSecret == "" {
		logger.Warn("GATEWAY_JWT_SECRET is empty, tokens will not survive a restart")
	}
	tokens, err := api.NewTokenIssuer(cfg.Gateway.JWTSecret, cfg.Gateway.TokenTTL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create token issuer")
	}

	serverConfig := &api.ServerConfig{
		Host:            cfg.Gateway.Host,
		Port:            cfg.Gateway.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateLimitRPS:    cfg.Gateway.RateLimitRPS,
		User:            cfg.Gateway.User,
		Password:        cfg.Gateway.Password,
	}

	server := api.NewServer(serverConfig, api.ServerDeps{
		Source: api.NewFileAccountSource(cfg.Gateway.DataFile),
		Cache:  storage.NewCacheService(cache, cfg.Gateway.CacheTTL),
		Tokens: tokens,
		Logger: logger,
	})

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Gateway failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host":     cfg.Gateway.Host,
		"port":     cfg.Gateway.Port,
		"dataFile": cfg.Gateway.DataFile,
	}).Info("Gateway started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Gateway forced to shutdown")
	}

	logger.Info("Gateway exited")
}

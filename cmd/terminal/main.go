package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"dukapos/terminal/internal/backend"
	pgbackend "dukapos/terminal/internal/backend/postgres"
	"dukapos/terminal/internal/backend/rest"
	"dukapos/terminal/internal/config"
	"dukapos/terminal/internal/connectivity"
	"dukapos/terminal/internal/httpapi"
	"dukapos/terminal/internal/queue"
	filequeue "dukapos/terminal/internal/queue/file"
	"dukapos/terminal/internal/queue/redisq"
	"dukapos/terminal/internal/service"
	"dukapos/terminal/internal/syncer"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
	defer startCancel()

	closers := make([]func() error, 0, 2)

	// Local durable queue. If storage cannot be prepared there is no safe
	// way to capture offline, so refuse to start rather than lose sales.
	var q queue.Queue
	if cfg.RedisAddr != "" {
		redisQueue := redisq.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisQueueKey)
		if err := redisQueue.Ping(startCtx); err != nil {
			logger.Fatal("redis queue unavailable", zap.Error(err))
		}
		q = redisQueue
		closers = append(closers, redisQueue.Close)
		logger.Info("queue: redis", zap.String("addr", cfg.RedisAddr))
	} else {
		fileQueue, err := filequeue.New(cfg.QueueDir, logger)
		if err != nil {
			logger.Fatal("local storage unavailable, offline capture impossible", zap.Error(err))
		}
		q = fileQueue
		logger.Info("queue: file", zap.String("dir", cfg.QueueDir))
	}

	var client backend.Client
	if cfg.DatabaseURL != "" {
		// The backend being unreachable is the normal offline case; only a
		// malformed DSN is fatal. The monitor finds the backend later.
		pg, err := pgbackend.New(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database backend cannot be configured", zap.Error(err))
		}
		client = pg
		closers = append(closers, pg.Close)
		logger.Info("backend: postgres")
	} else {
		client = rest.New(cfg.BackendURL, cfg.TerminalID, cfg.BackendSecret)
		logger.Info("backend: rest", zap.String("url", cfg.BackendURL))
	}

	monitor := connectivity.New(func(ctx context.Context) bool {
		return client.Ping(ctx) == nil
	}, time.Duration(cfg.ProbeIntervalSeconds)*time.Second, logger)

	engine := syncer.New(q, client, monitor, logger)
	svc := service.New(q, engine, monitor, logger, cfg.TerminalID, cfg.BusinessID, cfg.CommissionCentsPerService)

	unwatch := engine.Watch(ctx)
	defer unwatch()
	monitor.Start(ctx)
	defer monitor.Stop()

	pin := httpapi.NewPinGuard(cfg.OperatorPINHash)
	if !pin.Enabled() {
		logger.Warn("operator PIN disabled, capture API is unauthenticated")
	}
	api := httpapi.New(svc, pin, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("terminal agent listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("terminal agent stopped")
}

func validateConfig(cfg config.Config) error {
	if cfg.DatabaseURL == "" && cfg.BackendURL == "" {
		return fmt.Errorf("either DATABASE_URL or BACKEND_URL must be set")
	}
	if cfg.DatabaseURL == "" && cfg.BackendSecret == "" {
		return fmt.Errorf("BACKEND_AUTH_SECRET must be set for the REST backend")
	}
	if cfg.BusinessID == "" {
		return fmt.Errorf("BUSINESS_ID must be set")
	}
	return nil
}

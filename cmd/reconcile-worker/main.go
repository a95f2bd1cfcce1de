package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/tea-session-scheduling/internal/appointment"
	"github.com/hackgods/tea-session-scheduling/internal/config"
	"github.com/hackgods/tea-session-scheduling/internal/db"
	"github.com/hackgods/tea-session-scheduling/internal/logger"
	"github.com/hackgods/tea-session-scheduling/internal/notify"
	redisclient "github.com/hackgods/tea-session-scheduling/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("reconcile-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.ReconcileInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	redisCtx, cancelRedis := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err := redisclient.NewRedisClient(redisCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	cancelRedis()
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis")

	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		redisclient.NewRedisDateLocker(rdb, cfg.LockTTL, cfg.LockWait),
		notify.NewLogNotifier(log.Named("notify"), cfg.FromEmail),
		cfg,
		log.Named("appointment"),
		nil,
	)

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	start := time.Now()
	rewritten, orphaned, err := svc.Reconcile(runCtx)
	if err != nil {
		log.Error("reconcile run error", zap.Error(err))
		return
	}
	log.Info("reconcile run complete",
		zap.Int("dates_rewritten", rewritten),
		zap.Int("orphaned_appointments", orphaned),
		zap.Duration("took", time.Since(start)),
	)
}

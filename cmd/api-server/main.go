package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/tea-session-scheduling/internal/api"
	"github.com/hackgods/tea-session-scheduling/internal/appointment"
	"github.com/hackgods/tea-session-scheduling/internal/config"
	"github.com/hackgods/tea-session-scheduling/internal/db"
	"github.com/hackgods/tea-session-scheduling/internal/logger"
	"github.com/hackgods/tea-session-scheduling/internal/metrics"
	"github.com/hackgods/tea-session-scheduling/internal/notify"
	redisclient "github.com/hackgods/tea-session-scheduling/internal/redis"
)

var version = "dev"

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

	if err := run(cfg, log); err != nil {
		log.Fatal("api-server exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	if cfg.MigrateOnStart {
		if err := db.RunMigrations(pgPool, log); err != nil {
			return err
		}
	}

	redisCtx, cancelRedis := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err := redisclient.NewRedisClient(redisCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	cancelRedis()
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	var (
		m          *metrics.Metrics
		metricsMux http.Handler
	)
	if cfg.MetricsEnabled {
		m = metrics.New(prometheus.DefaultRegisterer)
		metricsMux = promhttp.Handler()
	}

	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		redisclient.NewRedisDateLocker(rdb, cfg.LockTTL, cfg.LockWait),
		newNotifier(cfg, rdb, log),
		cfg,
		log.Named("appointment"),
		m,
	)

	router := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Auth:           api.NewAuthenticator(cfg.JWTSecret),
		Health:         api.NewHealthHandler(pingPostgres(pgPool), pingRedis(rdb), cfg.Env, version),
		Logger:         log.Named("http"),
		Metrics:        m,
		MetricsHandler: metricsMux,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	log.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("api-server stopped")
	return nil
}

func newNotifier(cfg config.Config, rdb *redis.Client, log *zap.Logger) appointment.Notifier {
	if cfg.NotifySink == config.NotifySinkRedis {
		log.Info("notifications queued to redis", zap.String("queue", cfg.NotifyQueue))
		return notify.NewRedisQueue(rdb, cfg.NotifyQueue, cfg.FromEmail)
	}
	return notify.NewLogNotifier(log.Named("notify"), cfg.FromEmail)
}

func pingPostgres(pool *pgxpool.Pool) api.PingFunc {
	return pool.Ping
}

func pingRedis(rdb *redis.Client) api.PingFunc {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}

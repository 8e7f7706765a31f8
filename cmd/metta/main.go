package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/metta-portal/metta-portal/internal/app"
	"github.com/metta-portal/metta-portal/internal/audit"
	"github.com/metta-portal/metta-portal/internal/auth"
	"github.com/metta-portal/metta-portal/internal/gate"
	"github.com/metta-portal/metta-portal/internal/observability"
	"github.com/metta-portal/metta-portal/internal/session"
	"github.com/metta-portal/metta-portal/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	var sessionStore session.Store = session.NewPGStore(dbpool)
	if cfg.SessionBackend == "redis" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping", slog.Any("error", err))
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		sessionStore = session.NewRedisStore(redisClient)
	}

	credentials := auth.NewRepository(dbpool)
	sessions := session.NewManager(sessionStore, credentials, logger, cfg.SessionTimeout, cfg.SessionRetention)
	recorder := audit.NewRecorder(audit.NewPGSink(dbpool), logger)
	metrics := observability.NewMetrics()

	authService := auth.NewService(credentials, sessions, recorder, logger, cfg.MinPasswordLength)
	authHandler := auth.NewHandler(logger, authService, sessions, metrics, cfg.SessionCookie, cfg.IsProduction())

	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		Sessions:    sessions,
		AuthHandler: authHandler,
		Gate:        gate.Middleware{Logger: logger},
		Metrics:     metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		jobs.RunSweeper(groupCtx, jobs.SweepDeps{Sessions: sessions, Metrics: metrics, Logger: logger}, cfg.SessionSweepInterval)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppRequestTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server run", slog.Any("error", err))
		os.Exit(1)
	}
}

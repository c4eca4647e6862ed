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

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/post-resolver/config"
	"github.com/d60-Lab/post-resolver/internal/api/handler"
	"github.com/d60-Lab/post-resolver/internal/api/router"
	"github.com/d60-Lab/post-resolver/internal/identity"
	"github.com/d60-Lab/post-resolver/internal/pipeline"
	"github.com/d60-Lab/post-resolver/internal/repository"
	"github.com/d60-Lab/post-resolver/internal/service"
	"github.com/d60-Lab/post-resolver/pkg/database"
	"github.com/d60-Lab/post-resolver/pkg/logger"
	"github.com/d60-Lab/post-resolver/pkg/tracing"
)

// @title Post Resolver API
// @version 1.0
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			EnableTracing:    false,
			AttachStacktrace: true,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx := context.Background()
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	deps := service.Deps{Store: store}
	var stopWarmer func(context.Context) error
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, reads fall back to the store", zap.Error(err))
		}
		cached := repository.NewCachedPostStore(store, client, cfg.Redis.TTL)
		warmer := service.NewCacheWarmer(cached, cfg.Redis.WarmQueueSize)
		stopWarmer = warmer.Start(cfg.Redis.WarmWorkers)
		deps = service.Deps{Store: cached, OnCreated: warmer.Enqueue}
	}

	reg := service.NewPostRegistry(deps, logger.L(), pipeline.ParseFieldLogLevel(cfg.Pipeline.FieldLogLevel))
	h, err := handler.NewHandler(reg)
	if err != nil {
		return fmt.Errorf("build graphql schema: %w", err)
	}
	verifier, err := identity.NewVerifier(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router.Setup(cfg, h, verifier),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port), zap.String("store", cfg.Store.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if stopWarmer != nil {
		if err := stopWarmer(shutdownCtx); err != nil {
			logger.Warn("cache warmer stop", zap.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	return nil
}

// openStore 按 store.backend 选择帖子存储
func openStore(ctx context.Context, cfg *config.Config) (repository.PostStore, func(), error) {
	switch cfg.Store.Backend {
	case "dynamodb":
		client, err := repository.NewDynamoDBClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, nil, fmt.Errorf("dynamodb client: %w", err)
		}
		return repository.NewDynamoDBPostStore(client, cfg.DynamoDB.Table), func() {}, nil
	default:
		db, err := database.InitDB(cfg)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewSQLPostStore(db)
		if err := store.InitSchema(); err != nil {
			_ = database.Close(db)
			return nil, nil, err
		}
		return store, func() { _ = database.Close(db) }, nil
	}
}

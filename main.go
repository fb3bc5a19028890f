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

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sales_service/api"
	"sales_service/internal/auth"
	"sales_service/internal/config"
	"sales_service/internal/idempotency"
	"sales_service/internal/observability"
	"sales_service/internal/products"
	"sales_service/internal/sales"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sales service: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OtelEndpoint)
	if err != nil {
		return fmt.Errorf("error setting up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	policy, err := sales.ParsePolicy(cfg.StockPolicy)
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return err
	}

	gateway := products.NewClient(cfg.InventoryURL, cfg.CallTimeout, logger)
	defer func() { _ = gateway.Close() }()

	var storage sales.Storage = sales.NewLocalStorage()
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("error connecting to postgres: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("error connecting to postgres: %w", err)
		}
		storage = sales.NewPostgresStorage(pool, logger)
		logger.Info("using postgres sales ledger")
	} else {
		logger.Info("using in-memory sales ledger")
	}

	opts := sales.Options{Policy: policy, CallTimeout: cfg.CallTimeout}
	if len(cfg.KafkaBrokers) > 0 {
		writer := sales.NewKafkaWriter(cfg.KafkaBrokers)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Warn("failed to close kafka writer", zap.Error(err))
			}
		}()
		opts.Publisher = sales.NewKafkaPublisher(writer, cfg.SalesTopic)
		logger.Info("publishing sale events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.SalesTopic))
	}

	deps := api.Dependencies{
		Sales:    sales.NewService(storage, gateway, logger, opts),
		Verifier: verifier,
		Logger:   logger,
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		deps.Idempotency = idempotency.NewStore(rdb, cfg.IdempotencyTTL)
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	api.InitRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sales service listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("inventory_url", cfg.InventoryURL),
			zap.String("stock_policy", string(policy)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("error trying to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

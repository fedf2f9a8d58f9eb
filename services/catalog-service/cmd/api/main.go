package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	pkgdb "github.com/auctionlab/paddle/pkg/database"
	"github.com/auctionlab/paddle/pkg/dlock"
	"github.com/auctionlab/paddle/services/catalog-service/internal/adapters/api"
	"github.com/auctionlab/paddle/services/catalog-service/internal/adapters/database"
	"github.com/auctionlab/paddle/services/catalog-service/internal/domain/items"
)

const priceLockTTL = 5 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbURL := mustEnv(logger, "CATALOG_DB_URL")
	redisURL := mustEnv(logger, "REDIS_URL")

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Error("unable to create connection pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if pingErr := pool.Ping(ctx); pingErr != nil {
		logger.Error("unable to ping database", "error", pingErr)
		os.Exit(1)
	}
	logger.Info("postgres connected")

	rdb := redis.NewClient(&redis.Options{Addr: redisURL})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("unable to ping redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	logger.Info("redis connected")

	txManager := pkgdb.NewPostgresTransactionManager(pool, 3*time.Second)
	itemRepo := database.NewPostgresItemRepository(pool)
	outboxRepo := database.NewPostgresOutboxRepository(pool)
	locks := dlock.NewClient(rdb)

	service := items.NewService(txManager, itemRepo, outboxRepo, locks, priceLockTTL, logger)
	handler := api.NewHandler(service, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	handler.Register(router)

	addr := ":8081"
	if v := os.Getenv("CATALOG_API_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(router, &http2.Server{}),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting catalog service api", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func mustEnv(logger *slog.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Error(key + " is not set")
		os.Exit(1)
	}
	return v
}

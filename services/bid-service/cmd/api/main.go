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
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/auctionlab/paddle/pkg/auth"
	"github.com/auctionlab/paddle/pkg/dlock"
	pkgevents "github.com/auctionlab/paddle/pkg/events"
	"github.com/auctionlab/paddle/services/bid-service/internal/adapters/api"
	"github.com/auctionlab/paddle/services/bid-service/internal/adapters/cache"
	"github.com/auctionlab/paddle/services/bid-service/internal/adapters/catalog"
	"github.com/auctionlab/paddle/services/bid-service/internal/adapters/database"
	"github.com/auctionlab/paddle/services/bid-service/internal/domain/bids"
)

const (
	eventsExchange = "auction.events"
	bidLockTTL     = 5 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load environment variables (local overrides .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbURL := mustEnv(logger, "BID_DB_URL")
	redisURL := mustEnv(logger, "REDIS_URL")
	rabbitURL := mustEnv(logger, "RABBITMQ_URL")
	catalogURL := mustEnv(logger, "CATALOG_URL")
	jwtPublicKey := mustEnv(logger, "JWT_PUBLIC_KEY")

	// Postgres
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

	// Redis (locks + status cache)
	rdb := redis.NewClient(&redis.Options{Addr: redisURL})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("unable to ping redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	logger.Info("redis connected")

	// RabbitMQ
	amqpConn, err := amqp091.Dial(rabbitURL)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()
	logger.Info("rabbitmq connected")

	publisher, err := pkgevents.NewRabbitMQPublisher(amqpConn, eventsExchange)
	if err != nil {
		logger.Error("failed to create publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	// Auth
	verifier, err := auth.NewVerifier([]byte(jwtPublicKey), "auth-service")
	if err != nil {
		logger.Error("failed to create token verifier", "error", err)
		os.Exit(1)
	}

	// Wiring
	bidRepo := database.NewPostgresBidRepository(pool)
	statusCache := cache.NewRedisStatusCache(rdb)
	catalogClient := catalog.NewClient(catalogURL)
	locks := dlock.NewClient(rdb)

	service := bids.NewService(bidRepo, statusCache, catalogClient, locks, publisher, bidLockTTL, logger)
	handler := api.NewHandler(service, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	handler.Register(router, auth.Middleware(verifier))

	addr := ":8080"
	if v := os.Getenv("BID_API_ADDR"); v != "" {
		addr = v
	}

	// h2c for HTTP/2 without TLS; these are internal services.
	srv := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(router, &http2.Server{}),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting bid service api", "addr", addr)
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

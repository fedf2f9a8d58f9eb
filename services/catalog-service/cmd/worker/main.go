package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	pkgdb "github.com/auctionlab/paddle/pkg/database"
	"github.com/auctionlab/paddle/pkg/dlock"
	pkgevents "github.com/auctionlab/paddle/pkg/events"
	"github.com/auctionlab/paddle/services/catalog-service/internal/adapters/database"
	"github.com/auctionlab/paddle/services/catalog-service/internal/adapters/events"
	"github.com/auctionlab/paddle/services/catalog-service/internal/domain/items"
	"github.com/auctionlab/paddle/services/catalog-service/internal/scheduler"
)

const (
	eventsExchange = "auction.events"
	priceLockTTL   = 5 * time.Second

	schedulerLockTTL = 50 * time.Second
	schedulerEvery   = time.Minute

	relayBatchSize = 10
	relayInterval  = time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbURL := mustEnv(logger, "CATALOG_DB_URL")
	redisURL := mustEnv(logger, "REDIS_URL")
	rabbitURL := mustEnv(logger, "RABBITMQ_URL")

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

	txManager := pkgdb.NewPostgresTransactionManager(pool, 3*time.Second)
	itemRepo := database.NewPostgresItemRepository(pool)
	outboxRepo := database.NewPostgresOutboxRepository(pool)
	locks := dlock.NewClient(rdb)

	service := items.NewService(txManager, itemRepo, outboxRepo, locks, priceLockTTL, logger)

	consumer := events.NewBidConsumer(amqpConn, service, logger)

	lifecycle := scheduler.New(
		locks,
		dlock.Key("scheduler", "auction-lifecycle"),
		schedulerLockTTL,
		schedulerEvery,
		func(ctx context.Context, now time.Time) { service.RunLifecycle(ctx, now) },
		logger,
	)

	relay := pkgevents.NewOutboxRelay(outboxRepo, publisher, txManager, relayBatchSize, relayInterval, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting price sync consumer")
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("starting lifecycle scheduler")
		return lifecycle.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("starting outbox relay")
		return relay.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", "error", err)
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

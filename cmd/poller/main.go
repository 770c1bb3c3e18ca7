package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/richardliu001/order-service/internal/config"
	"github.com/richardliu001/order-service/internal/events"
	"github.com/richardliu001/order-service/internal/gateway"
	"github.com/richardliu001/order-service/internal/logger"
	"github.com/richardliu001/order-service/internal/repo"
	"github.com/richardliu001/order-service/internal/service"
	"github.com/richardliu001/order-service/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log, "order-poller")
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName+"-poller", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Fatalf("init tracer: %v", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	gdb, err := telemetry.OpenGorm(cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers)
	defer func() { _ = publisher.Close() }()

	repository := repo.NewRepository(gdb, rdb, log)
	coordinator := events.NewCoordinator(publisher, repository, events.Topics{
		Stock:        cfg.Kafka.StockTopic,
		Notification: cfg.Kafka.NotificationTopic,
	}, log)
	pg := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout, nil, log)
	svc := service.NewOrderService(repository, pg, coordinator, service.Options{
		PGProvider:     cfg.Gateway.Provider,
		VerifyWebhooks: cfg.Webhook.VerifyWithGateway,
	}, log)

	ticker := time.NewTicker(cfg.Poller.Interval)
	defer ticker.Stop()

	log.Info("order-poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info("order-poller stopped")
			return
		case <-ticker.C:
		}
		if _, err := events.Replay(ctx, repository, publisher, cfg.Poller.BatchSize, log); err != nil {
			log.Errorf("poll outbox: %v", err)
		}
		reconcile(ctx, repository, svc, cfg.Poller, log)
	}
}

// reconcile asks the gateway about orders that stayed PENDING too long,
// covering webhooks the gateway never delivered.
func reconcile(ctx context.Context, r repo.RepositoryInterface, svc *service.OrderService, cfg config.PollerConfig, log *zap.SugaredLogger) {
	ids, err := r.StalePendingOrders(ctx, time.Now().Add(-cfg.ReconcileAfter), cfg.BatchSize)
	if err != nil {
		log.Errorf("stale pending orders: %v", err)
		return
	}
	for _, id := range ids {
		ack, err := svc.ReconcilePayment(ctx, id)
		if err != nil {
			log.Warnw("reconcile", "order_id", id, "error", err)
			continue
		}
		if ack.Order != nil && !ack.Ignored {
			log.Infow("order reconciled", "order_id", id, "status", ack.Order.Status)
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/richardliu001/order-service/internal/config"
	"github.com/richardliu001/order-service/internal/events"
	"github.com/richardliu001/order-service/internal/gateway"
	"github.com/richardliu001/order-service/internal/logger"
	"github.com/richardliu001/order-service/internal/repo"
	"github.com/richardliu001/order-service/internal/service"
	"github.com/richardliu001/order-service/internal/telemetry"
	httptransport "github.com/richardliu001/order-service/internal/transport/http"
)

func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	// 1. load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log, "order-server")
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. telemetry
	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Fatalf("init tracer: %v", err)
	}
	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg.Telemetry.ServiceName)
	if err != nil {
		log.Fatalf("init meter: %v", err)
	}

	// 4. postgres, schema is owned by cmd/migrate
	gdb, err := telemetry.OpenGorm(cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	// 5. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 6. kafka
	publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers)
	defer func() { _ = publisher.Close() }()

	// 7. repo, gateway & service
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

	// 8. gin router
	router := httptransport.NewRouter(svc, cfg.RateLimit, cfg.Webhook, metricsHandler, log)

	// 9. serve
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           otelhttp.NewHandler(router, "order-service"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("order-server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server shutdown: %v", err)
	}
	if err := shutdownMeter(shutdownCtx); err != nil {
		log.Errorf("meter shutdown: %v", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Errorf("tracer shutdown: %v", err)
	}
}

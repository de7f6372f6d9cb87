package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tipstream/tip-service/internal/config"
	"github.com/tipstream/tip-service/internal/logger"
	"github.com/tipstream/tip-service/internal/model"
	"github.com/tipstream/tip-service/internal/processor"
	"github.com/tipstream/tip-service/internal/repo"
	"github.com/tipstream/tip-service/internal/service"
	httptransport "github.com/tipstream/tip-service/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.Worker{}, &model.Transaction{}, &model.OutboxEvent{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. stripe client (key injected, no SDK-global state)
	stripeClient := processor.New(cfg.Stripe.SecretKey)

	// 7. repo & services
	repository := repo.NewRepository(gdb, rdb, kw, log)
	svcs := httptransport.Services{
		Payments: service.NewPaymentService(repository, stripeClient, cfg.Payments, cfg.Stripe.FrontendURL, log),
		Webhooks: service.NewWebhookService(repository, cfg.Stripe.WebhookSecret, log),
		Workers:  service.NewWorkerService(repository, stripeClient, cfg.Payments, cfg.Stripe.FrontendURL, log),
		Reports:  service.NewReportService(repository, log),
	}

	// 8. gin router
	router := httptransport.NewRouter(svcs, cfg.RateLimit, log)

	// 9. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("tip-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}

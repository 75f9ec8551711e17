package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/legalario/txn-service/internal/config"
	"github.com/legalario/txn-service/internal/logger"
	"github.com/legalario/txn-service/internal/notify"
	"github.com/legalario/txn-service/internal/repo"
	"github.com/legalario/txn-service/internal/worker"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	dlq := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.DeadLetterTopic,
		Balancer: &kafka.LeastBytes{},
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	})
	defer reader.Close()

	repository := repo.NewRepository(gdb, rdb, nil, dlq, log)
	bank := worker.NewSimulatedBank(
		cfg.Worker.BankMinDelay.Std(),
		cfg.Worker.BankMaxDelay.Std(),
		cfg.Worker.BankSuccessRate,
	)
	pub := notify.NewPublisher(rdb, log)

	w := worker.New(repository, bank, pub, worker.Options{
		Concurrency:  cfg.Worker.Concurrency,
		MaxAttempts:  cfg.Worker.MaxAttempts,
		RetryBackoff: cfg.Worker.RetryBackoff.Std(),
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("txn-worker started")
	w.Run(ctx, reader)
}

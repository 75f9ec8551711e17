package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/legalario/txn-service/internal/auth"
	"github.com/legalario/txn-service/internal/config"
	"github.com/legalario/txn-service/internal/logger"
	"github.com/legalario/txn-service/internal/model"
	"github.com/legalario/txn-service/internal/notify"
	"github.com/legalario/txn-service/internal/repo"
	"github.com/legalario/txn-service/internal/service"
	httptransport "github.com/legalario/txn-service/internal/transport/http"
	"github.com/legalario/txn-service/internal/ws"

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
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.Transaction{}); err != nil {
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

	// 5. kafka writer for async dispatch
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. repo & service
	repository := repo.NewRepository(gdb, rdb, kw, nil, log)
	svc := service.NewTransactionService(repository, log)

	// 7. live stream: hub fed by the bus subscriber
	hub := ws.NewHub(log)
	sub := notify.NewSubscriber(rdb, log)
	go sub.Run(context.Background(), hub)

	// 8. gin router
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	router := httptransport.NewRouter(svc, hub, verifier, cfg.RateLimit, log)

	// 9. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("txn-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}

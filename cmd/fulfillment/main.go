package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-storefront-core/internal/config"
	"github.com/ariefcatur/go-storefront-core/internal/fulfillment"
	"github.com/ariefcatur/go-storefront-core/internal/inventory"
	kafkax "github.com/ariefcatur/go-storefront-core/internal/kafka"
	"github.com/ariefcatur/go-storefront-core/internal/logx"
	"github.com/ariefcatur/go-storefront-core/internal/orders"
	"github.com/ariefcatur/go-storefront-core/internal/postgres"
	"github.com/ariefcatur/go-storefront-core/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logx.New(cfg.ServiceName+"-fulfillment", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db_connect_failed", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	ledger := &inventory.PostgresLedger{DB: db, Policy: inventory.Policy{AllowOversellClamp: cfg.AllowOversellClamp}}
	svc := &fulfillment.Service{
		Lifecycle: &orders.Service{Store: &orders.Repo{DB: db}, Ledger: ledger, Log: log},
		Redis:     rdb,
		Name:      "fulfillment",
		Log:       log,
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.FulfillmentGroup, orders.TopicStatusRequested, cfg.FulfillmentWorkers, log)
	log.Info("consumer_started",
		zap.String("group", cfg.FulfillmentGroup),
		zap.String("topic", orders.TopicStatusRequested),
		zap.Int("workers", cfg.FulfillmentWorkers))

	if err := cons.Start(ctx, svc.HandleStatusRequested); err != nil {
		log.Error("consumer_exit", zap.Error(err))
		return
	}
	log.Info("shutting_down")
}

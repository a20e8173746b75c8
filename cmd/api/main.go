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

	"github.com/ariefcatur/go-storefront-core/internal/cart"
	"github.com/ariefcatur/go-storefront-core/internal/catalog"
	"github.com/ariefcatur/go-storefront-core/internal/checkout"
	"github.com/ariefcatur/go-storefront-core/internal/config"
	"github.com/ariefcatur/go-storefront-core/internal/httpx"
	"github.com/ariefcatur/go-storefront-core/internal/inventory"
	kafkax "github.com/ariefcatur/go-storefront-core/internal/kafka"
	"github.com/ariefcatur/go-storefront-core/internal/logx"
	"github.com/ariefcatur/go-storefront-core/internal/metrics"
	"github.com/ariefcatur/go-storefront-core/internal/ordernum"
	"github.com/ariefcatur/go-storefront-core/internal/orders"
	"github.com/ariefcatur/go-storefront-core/internal/postgres"
	"github.com/ariefcatur/go-storefront-core/internal/promotion"
	"github.com/ariefcatur/go-storefront-core/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logx.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("exit", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "storefront")

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024, log)
	prod.Start()

	// stores
	orderRepo := &orders.Repo{DB: db}
	ledger := &inventory.PostgresLedger{DB: db, Policy: inventory.Policy{AllowOversellClamp: cfg.AllowOversellClamp}}
	lifecycle := &orders.Service{Store: orderRepo, Ledger: ledger, Log: log}
	promos := &promotion.Service{Store: &promotion.Repo{DB: db}}
	products := &catalog.Repo{DB: db}

	orch := &checkout.Orchestrator{
		Catalog:   products,
		Ledger:    ledger,
		Orders:    orderRepo,
		Lifecycle: lifecycle,
		Numbers: &ordernum.Allocator{
			Seq:         sequencer(cfg, rdb, orderRepo),
			MaxAttempts: cfg.OrderNumberTries,
			BaseBackoff: cfg.OrderNumberBackoff,
			MaxBackoff:  10 * cfg.OrderNumberBackoff,
			Observe:     m.OrderNumberAttempt,
		},
		Promotions:    promos,
		Carts:         &cart.Repo{DB: db},
		Notifier:      &checkout.EventNotifier{Publisher: prod, Producer: cfg.ServiceName},
		Metrics:       m,
		Log:           log,
		Prefix:        cfg.OrderPrefix,
		Location:      cfg.Location(),
		NotifyTimeout: cfg.NotifyTimeout,
	}

	router := httpx.NewRouter(log, reg)
	(&httpx.CheckoutHandler{Checkout: orch, Orders: orderRepo, Redis: rdb}).Register(router)
	(&httpx.OrdersHandler{Store: orderRepo, Lifecycle: lifecycle, Redis: rdb}).Register(router)
	(&httpx.PromotionsHandler{Catalog: products, Promotions: promos}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http_listening", zap.String("addr", cfg.HTTPAddr), zap.String("sequencer", cfg.Sequencer))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err = <-errCh:
		log.Error("http_listen_failed", zap.Error(err))
	}
	log.Info("shutting_down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // flush buffered events, then close the writer
	prod.WaitClosed()
	return err
}

func sequencer(cfg config.Config, rdb *redis.Client, store ordernum.MaxScanner) ordernum.Sequencer {
	if cfg.Sequencer == "scan" {
		return ordernum.ScanSequencer{Store: store}
	}
	return ordernum.RedisSequencer{Client: rdb, Seed: store, TTL: redisx.TTLOrderSeq}
}

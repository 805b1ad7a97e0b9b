package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mohmdloai/flasky/internal/catalog"
	"github.com/mohmdloai/flasky/internal/config"
	"github.com/mohmdloai/flasky/internal/jobs"
	kafkax "github.com/mohmdloai/flasky/internal/kafka"
	"github.com/mohmdloai/flasky/internal/notify"
	"github.com/mohmdloai/flasky/internal/orders"
	"github.com/mohmdloai/flasky/internal/postgres"
	"github.com/mohmdloai/flasky/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("schema: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Notification sink
	prod := kafkax.NewProducer(cfg.KafkaBrokers, notify.Topic, 1024)
	prod.Start(ctx)
	sink := &notify.KafkaSink{Producer: prod, Service: cfg.ServiceName + "-jobs"}

	ledger := &catalog.Repo{DB: db}
	engine := &orders.Service{DB: db, Ledger: ledger, Notifier: sink}

	sched := jobs.NewScheduler(
		jobs.LowStockScan(ledger, rdb, sink, cfg.LowStockThreshold, cfg.LowStockInterval),
		jobs.StaleOrderCleanup(engine, rdb, cfg.StaleOrderCutoff, cfg.CleanupInterval),
		jobs.DailySalesReport(engine, rdb, cfg.ReportInterval),
		jobs.PopularProductsCache(engine, rdb, cfg.PopularWindow, cfg.PopularInterval),
	)
	sched.Start(ctx)
	log.Printf("scheduler started: low_stock=%s cleanup=%s report=%s popular=%s",
		cfg.LowStockInterval, cfg.CleanupInterval, cfg.ReportInterval, cfg.PopularInterval)

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down scheduler...")
	cancel()
	sched.Wait()
	prod.Close()
	prod.WaitClosed()
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohmdloai/flasky/internal/catalog"
	"github.com/mohmdloai/flasky/internal/config"
	"github.com/mohmdloai/flasky/internal/httpx"
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
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("schema: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Notification sink (async, fire-and-forget)
	prod := kafkax.NewProducer(cfg.KafkaBrokers, notify.Topic, 1024)
	prod.Start(ctx)
	sink := &notify.KafkaSink{Producer: prod, Service: cfg.ServiceName}

	// Ledger, engine, handlers
	ledger := &catalog.Repo{DB: db}
	engine := &orders.Service{DB: db, Ledger: ledger, Notifier: sink}

	router := httpx.NewRouter()
	(&httpx.ProductsHandler{Catalog: ledger}).Register(router)
	(&httpx.OrdersHandler{Engine: engine}).Register(router)
	(&httpx.ReportsHandler{Redis: rdb}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // close inbox -> flush & close writer
	cancel()
	prod.WaitClosed() // drain
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/mohmdloai/flasky/internal/config"
	kafkax "github.com/mohmdloai/flasky/internal/kafka"
	"github.com/mohmdloai/flasky/internal/notify"
	"github.com/mohmdloai/flasky/internal/redisx"
)

// The notifier is the delivery end of the notification sink: it consumes the
// notification topic and hands messages to the mail transport. Delivery here
// is simulated with a log line; the business side never waits on it.

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	group := getenv("NOTIFIER_GROUP", "notifier-svc")
	workers := mustAtoi(os.Getenv("NOTIFIER_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, notify.Topic, workers)

	handle := func(ctx context.Context, m kafkago.Message) error {
		var msg notify.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			log.Printf("drop malformed notification: %v", err)
			return nil
		}

		// dedup by message id so redelivery never double-sends
		dkey := fmt.Sprintf(redisx.KeyDedup, "notifier", msg.ID)
		if exists, _ := redisx.Exists(ctx, rdb, dkey); exists {
			return nil
		}
		_ = rdb.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

		switch msg.Type {
		case notify.TypeOrderConfirmation:
			p, err := kafkax.UnwrapPayload[notify.OrderConfirmationPayload](msg.Payload)
			if err != nil {
				log.Printf("drop %s %s: %v", msg.Type, msg.ID, err)
				return nil
			}
			log.Printf("deliver %s to=%s order=%s ref=%s total=%s",
				msg.Type, msg.Recipient, p.OrderID, p.PaymentReference, p.TotalAmount)
		case notify.TypeLowStockAlert:
			p, err := kafkax.UnwrapPayload[notify.LowStockAlertPayload](msg.Payload)
			if err != nil {
				log.Printf("drop %s %s: %v", msg.Type, msg.ID, err)
				return nil
			}
			log.Printf("deliver %s products=%d threshold=%d", msg.Type, len(p.Products), p.Threshold)
		default:
			log.Printf("deliver %s to=%s subject=%q", msg.Type, msg.Recipient, msg.Subject)
		}
		return nil
	}

	go func() {
		log.Printf("notifier consumer started: group=%s topic=%s workers=%d", group, notify.Topic, workers)
		if err := cons.Start(ctx, handle); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down notifier...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

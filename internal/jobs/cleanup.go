package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohmdloai/flasky/internal/orders"
	"github.com/mohmdloai/flasky/internal/redisx"
)

type orderReaper interface {
	StalePending(ctx context.Context, cutoff time.Time) ([]string, error)
	Cancel(ctx context.Context, orderID string) error
}

// CleanupSummary is the cached result of the last stale-order reaping run.
type CleanupSummary struct {
	Timestamp     time.Time `json:"timestamp"`
	OrdersDeleted int       `json:"orders_deleted"`
}

// StaleOrderCleanup reaps PENDING orders older than the cutoff. Each order is
// cancelled in its own transaction, so one failure does not block the rest;
// an order paid between the scan and the cancel is simply skipped.
func StaleOrderCleanup(engine orderReaper, rdb *redis.Client, cutoffAge, every time.Duration) Job {
	return Job{
		Name:  "stale-order-cleanup",
		Every: every,
		Run: func(ctx context.Context) error {
			cutoff := time.Now().UTC().Add(-cutoffAge)
			ids, err := engine.StalePending(ctx, cutoff)
			if err != nil {
				return err
			}

			deleted := 0
			for _, id := range ids {
				switch err := engine.Cancel(ctx, id); {
				case err == nil:
					deleted++
				case errors.Is(err, orders.ErrAlreadyPaid), errors.Is(err, orders.ErrNotFound):
					// lost the race to a payment or another reaper
				default:
					log.Printf("reap order %s: %v", id, err)
				}
			}

			b, err := json.Marshal(CleanupSummary{
				Timestamp:     time.Now().UTC(),
				OrdersDeleted: deleted,
			})
			if err != nil {
				return err
			}
			if err := rdb.Set(ctx, redisx.KeyLastCleanup, b, redisx.TTLLastCleanup).Err(); err != nil {
				return fmt.Errorf("cache cleanup summary: %w", err)
			}
			return nil
		},
	}
}

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohmdloai/flasky/internal/catalog"
	"github.com/mohmdloai/flasky/internal/notify"
	"github.com/mohmdloai/flasky/internal/redisx"
)

type stockLister interface {
	LowStock(ctx context.Context, threshold int) ([]catalog.Product, error)
}

// LowStockScan publishes the list of products at or below the threshold to
// the cache and sends one aggregated alert. Re-running produces the same
// cache entry; no order or product state is mutated.
func LowStockScan(ledger stockLister, rdb *redis.Client, sink notify.Sink, threshold int, every time.Duration) Job {
	return Job{
		Name:  "low-stock-scan",
		Every: every,
		Run: func(ctx context.Context) error {
			products, err := ledger.LowStock(ctx, threshold)
			if err != nil {
				return err
			}
			if len(products) == 0 {
				return nil
			}

			entries := make([]notify.LowStockProduct, 0, len(products))
			for _, p := range products {
				entries = append(entries, notify.LowStockProduct{
					ProductID: p.ID,
					Name:      p.Name,
					Stock:     p.Stock,
				})
			}

			b, err := json.Marshal(entries)
			if err != nil {
				return err
			}
			if err := rdb.Set(ctx, redisx.KeyLowStock, b, redisx.TTLLowStock).Err(); err != nil {
				return fmt.Errorf("cache low stock: %w", err)
			}

			sink.Send(notify.LowStockAlert(notify.LowStockAlertPayload{
				Threshold: threshold,
				Products:  entries,
			}))
			return nil
		},
	}
}

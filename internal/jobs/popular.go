package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohmdloai/flasky/internal/orders"
	"github.com/mohmdloai/flasky/internal/redisx"
)

type popularitySource interface {
	PopularProducts(ctx context.Context, since time.Time, limit int) ([]orders.ProductPopularity, error)
}

const popularLimit = 10

// PopularProductsCache ranks products by order-item count and caches the top
// ten. A zero window means all-time ranking; a non-zero window restricts the
// count to orders created within it.
func PopularProductsCache(src popularitySource, rdb *redis.Client, window, every time.Duration) Job {
	return Job{
		Name:  "popular-products-cache",
		Every: every,
		Run: func(ctx context.Context) error {
			var since time.Time
			if window > 0 {
				since = time.Now().UTC().Add(-window)
			}

			popular, err := src.PopularProducts(ctx, since, popularLimit)
			if err != nil {
				return err
			}

			b, err := json.Marshal(popular)
			if err != nil {
				return err
			}
			if err := rdb.Set(ctx, redisx.KeyPopular, b, redisx.TTLPopular).Err(); err != nil {
				return fmt.Errorf("cache popular products: %w", err)
			}
			return nil
		},
	}
}

package redisx

import "time"

// Cache keys written by the scheduled jobs. Values are JSON-encoded.
const (
	// Products at or below the low-stock threshold.
	KeyLowStock = "low_stock_products"

	// Summary of the last stale-order cleanup: {"timestamp": ..., "orders_deleted": n}
	KeyLastCleanup = "last_cleanup"

	// Daily sales report, keyed by date: sales_report:{YYYY-MM-DD}
	KeySalesReport = "sales_report:%s"

	// Top products ranked by order-item count.
	KeyPopular = "popular_products"

	// Delivery dedup for the notification worker: dedup:{service}:{message_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLLowStock    = 24 * time.Hour
	TTLLastCleanup = 24 * time.Hour
	TTLSalesReport = 30 * 24 * time.Hour
	TTLPopular     = 30 * time.Minute
	TTLDedup       = 48 * time.Hour
)

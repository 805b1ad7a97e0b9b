package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mohmdloai/flasky/internal/orders"
	"github.com/mohmdloai/flasky/internal/redisx"
)

type paidOrderSource interface {
	PaidOrders(ctx context.Context) ([]orders.Order, error)
}

type ProductSales struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Sold      int    `json:"sold"`
}

type SalesReport struct {
	Date         string          `json:"date"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	TotalOrders  int             `json:"total_orders"`
	TopProducts  []ProductSales  `json:"top_products"`
}

const topProductCount = 5

// BuildSalesReport aggregates all PAID orders at the time of the call:
// total revenue, order count, and the top products by quantity sold with
// ties broken by product id ascending for determinism.
func BuildSalesReport(paid []orders.Order, date time.Time) SalesReport {
	revenue := decimal.Zero
	sales := map[string]ProductSales{}

	for _, o := range paid {
		revenue = revenue.Add(o.TotalAmount())
		for _, it := range o.Items {
			s := sales[it.Product.ID]
			s.ProductID = it.Product.ID
			s.Name = it.Product.Name
			s.Sold += it.Quantity
			sales[it.Product.ID] = s
		}
	}

	top := lo.Values(sales)
	sort.Slice(top, func(i, j int) bool {
		if top[i].Sold != top[j].Sold {
			return top[i].Sold > top[j].Sold
		}
		return top[i].ProductID < top[j].ProductID
	})
	if len(top) > topProductCount {
		top = top[:topProductCount]
	}

	return SalesReport{
		Date:         date.Format("2006-01-02"),
		TotalRevenue: revenue,
		TotalOrders:  len(paid),
		TopProducts:  top,
	}
}

// DailySalesReport writes the report to the cache keyed by date.
func DailySalesReport(src paidOrderSource, rdb *redis.Client, every time.Duration) Job {
	return Job{
		Name:  "daily-sales-report",
		Every: every,
		Run: func(ctx context.Context) error {
			paid, err := src.PaidOrders(ctx)
			if err != nil {
				return err
			}

			report := BuildSalesReport(paid, time.Now().UTC())
			b, err := json.Marshal(report)
			if err != nil {
				return err
			}

			key := fmt.Sprintf(redisx.KeySalesReport, report.Date)
			if err := rdb.Set(ctx, key, b, redisx.TTLSalesReport).Err(); err != nil {
				return fmt.Errorf("cache sales report: %w", err)
			}
			return nil
		},
	}
}

package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mohmdloai/flasky/internal/catalog"
)

type Order struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Email            string         `json:"email"`
	PaymentStatus    PaymentStatus  `json:"payment_status"`
	PaymentReference *string        `json:"payment_reference"`
	ShippingStatus   ShippingStatus `json:"shipping_status"`
	CreatedAt        time.Time      `json:"created_at"`
	Items            []OrderItem    `json:"items"`
}

// OrderItem holds a snapshot-free reference to its product: price and name
// are resolved through the ledger at read time.
type OrderItem struct {
	ID       string          `json:"id"`
	OrderID  string          `json:"order_id"`
	Product  catalog.Product `json:"product"`
	Quantity int             `json:"quantity"`
}

func (o Order) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Product.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// ItemInput is the request shape for order creation and item addition.
type ItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// ProductPopularity ranks a product by how many order-item rows reference it.
type ProductPopularity struct {
	ProductID  string          `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Stock      int             `json:"stock"`
	OrderCount int             `json:"order_count"`
}

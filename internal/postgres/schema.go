package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	price      NUMERIC(12,2) NOT NULL CHECK (price >= 0),
	stock      INT NOT NULL CHECK (stock >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS orders (
	id                UUID PRIMARY KEY,
	name              TEXT NOT NULL,
	email             TEXT NOT NULL,
	payment_status    TEXT NOT NULL DEFAULT 'PENDING',
	payment_reference TEXT UNIQUE,
	shipping_status   TEXT NOT NULL DEFAULT 'PENDING',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS order_items (
	id         UUID PRIMARY KEY,
	seq        BIGSERIAL,
	order_id   UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id UUID NOT NULL REFERENCES products(id),
	quantity   INT NOT NULL CHECK (quantity >= 1)
);

CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);
CREATE INDEX IF NOT EXISTS idx_order_items_product ON order_items(product_id);
CREATE INDEX IF NOT EXISTS idx_orders_pending_created
	ON orders(created_at) WHERE payment_status = 'PENDING';
`

// EnsureSchema creates the tables if they do not exist yet. The CHECK
// constraints back the application-level invariants (stock and price never
// negative, item quantity at least 1) at the storage layer.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

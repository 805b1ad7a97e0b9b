package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo is the inventory ledger. Reserve and Release run inside a caller-owned
// transaction so the order engine can make multi-item mutations atomic.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Create(ctx context.Context, name string, price decimal.Decimal, stock int) (Product, error) {
	var p Product
	if strings.TrimSpace(name) == "" {
		return p, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}
	if price.IsNegative() {
		return p, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	if stock < 0 {
		return p, fmt.Errorf("%w: stock must not be negative", ErrInvalidInput)
	}

	id := uuid.NewString()
	row := r.DB.QueryRow(ctx, `
		INSERT INTO products(id, name, price, stock)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, price, stock, created_at, updated_at`,
		id, name, price, stock)
	if err := scanProduct(row, &p); err != nil {
		return p, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

func (r *Repo) Get(ctx context.Context, productID string) (Product, error) {
	var p Product
	row := r.DB.QueryRow(ctx, `
		SELECT id, name, price, stock, created_at, updated_at
		FROM products WHERE id=$1`, productID)
	if err := scanProduct(row, &p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, ErrNotFound
		}
		return p, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (r *Repo) List(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, price, stock, created_at, updated_at
		FROM products ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LowStock lists products at or below the threshold, for the low-stock scan.
func (r *Repo) LowStock(ctx context.Context, threshold int) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, price, stock, created_at, updated_at
		FROM products WHERE stock <= $1 ORDER BY stock, id`, threshold)
	if err != nil {
		return nil, fmt.Errorf("low stock query: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Reserve locks the product row and performs the check-and-decrement as one
// atomic step. Concurrent reservations on the same product are linearized by
// the row lock; the caller's transaction abort reverts the decrement.
func (r *Repo) Reserve(ctx context.Context, tx pgx.Tx, productID string, qty int) error {
	var stock int
	err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock product %s: %w", productID, err)
	}
	if stock < qty {
		return &InsufficientStockError{ProductID: productID, Requested: qty, Available: stock}
	}

	ct, err := tx.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = NOW() WHERE id=$1`,
		productID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock %s: %w", productID, err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("decrement stock %s: no row updated", productID)
	}
	return nil
}

// Release returns previously reserved stock. There is no upper bound check:
// callers only release what they validly reserved.
func (r *Repo) Release(ctx context.Context, tx pgx.Tx, productID string, qty int) error {
	ct, err := tx.Exec(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id=$1`,
		productID, qty)
	if err != nil {
		return fmt.Errorf("release stock %s: %w", productID, err)
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.Row, p *Product) error {
	return row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
}

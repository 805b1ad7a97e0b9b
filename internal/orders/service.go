package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohmdloai/flasky/internal/catalog"
	"github.com/mohmdloai/flasky/internal/notify"
)

const payRefAttempts = 5

// Service is the order engine. Every multi-step mutation (reserve items and
// persist order, release items and delete order, reserve and append item)
// runs in a single transaction: partial application under failure is a bug,
// not a degradation.
type Service struct {
	DB       *pgxpool.Pool
	Ledger   *catalog.Repo
	Notifier notify.Sink
}

// Create reserves stock for every item and persists the order with its items
// as one atomic unit. If any reservation fails, nothing is persisted and no
// stock changes.
func (s *Service) Create(ctx context.Context, name, email string, items []ItemInput) (Order, error) {
	var o Order

	if strings.TrimSpace(name) == "" || strings.TrimSpace(email) == "" {
		return o, fmt.Errorf("%w: name and email are required", ErrValidation)
	}
	if len(items) == 0 {
		return o, fmt.Errorf("%w: items must be a non-empty list", ErrValidation)
	}
	for _, it := range items {
		if it.ProductID == "" || it.Quantity < 1 {
			return o, fmt.Errorf("%w: each item needs a product_id and a quantity of at least 1", ErrValidation)
		}
	}

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return o, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	orderID := uuid.NewString()
	createdAt := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, name, email, payment_status, shipping_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		orderID, name, email, PaymentPending, ShippingPending, createdAt)
	if err != nil {
		return o, fmt.Errorf("insert order: %w", err)
	}

	// reserve in product-id order so two concurrent creates can never take
	// each other's row locks in opposite order; inserts keep the caller's
	// item order for listing
	reserve := make([]ItemInput, len(items))
	copy(reserve, items)
	sort.Slice(reserve, func(i, j int) bool { return reserve[i].ProductID < reserve[j].ProductID })

	for _, it := range reserve {
		if err := s.Ledger.Reserve(ctx, tx, it.ProductID, it.Quantity); err != nil {
			return o, err
		}
	}
	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, quantity)
			VALUES ($1, $2, $3, $4)`,
			uuid.NewString(), orderID, it.ProductID, it.Quantity); err != nil {
			return o, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return o, fmt.Errorf("commit order: %w", err)
	}
	return s.Get(ctx, orderID)
}

// AddItem appends an item to an unpaid order, reserving its stock atomically
// with the insert. The order row is locked so AddItem cannot race Pay or a
// concurrent cancellation.
func (s *Service) AddItem(ctx context.Context, orderID, productID string, qty int) (OrderItem, error) {
	var item OrderItem

	if qty < 1 {
		return item, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return item, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status PaymentStatus
	err = tx.QueryRow(ctx, `SELECT payment_status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return item, ErrNotFound
		}
		return item, fmt.Errorf("lock order: %w", err)
	}
	if status == PaymentPaid {
		return item, ErrAlreadyPaid
	}

	if err := s.Ledger.Reserve(ctx, tx, productID, qty); err != nil {
		return item, err
	}

	itemID := uuid.NewString()
	if _, err := tx.Exec(ctx, `
		INSERT INTO order_items(id, order_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)`,
		itemID, orderID, productID, qty); err != nil {
		return item, fmt.Errorf("insert order item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return item, fmt.Errorf("commit item: %w", err)
	}

	product, err := s.Ledger.Get(ctx, productID)
	if err != nil {
		return item, err
	}
	return OrderItem{ID: itemID, OrderID: orderID, Product: product, Quantity: qty}, nil
}

// Pay marks the order PAID with a freshly generated payment reference and,
// after the transaction commits, enqueues a confirmation notification.
// Notification failure never rolls back the payment.
func (s *Service) Pay(ctx context.Context, orderID string) (Order, error) {
	var o Order

	var lastErr error
	for attempt := 0; attempt < payRefAttempts; attempt++ {
		err := s.payOnce(ctx, orderID, NewPaymentRef())
		if err == nil {
			lastErr = nil
			break
		}
		if isUniqueViolation(err) {
			lastErr = err
			continue
		}
		return o, err
	}
	if lastErr != nil {
		return o, fmt.Errorf("payment reference collision persisted: %w", lastErr)
	}

	o, err := s.Get(ctx, orderID)
	if err != nil {
		return o, err
	}

	if s.Notifier != nil {
		s.Notifier.Send(notify.OrderConfirmation(o.Email, notify.OrderConfirmationPayload{
			OrderID:          o.ID,
			Name:             o.Name,
			PaymentReference: *o.PaymentReference,
			TotalAmount:      o.TotalAmount(),
		}))
	}
	return o, nil
}

func (s *Service) payOnce(ctx context.Context, orderID, ref string) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status PaymentStatus
	err = tx.QueryRow(ctx, `SELECT payment_status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock order: %w", err)
	}
	if status == PaymentPaid {
		return ErrAlreadyPaid
	}

	var itemCount int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM order_items WHERE order_id=$1`, orderID).Scan(&itemCount); err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	if itemCount == 0 {
		return ErrEmptyOrder
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET payment_status=$2, payment_reference=$3 WHERE id=$1`,
		orderID, PaymentPaid, ref); err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit payment: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, orderID string) (Order, error) {
	var o Order

	err := s.DB.QueryRow(ctx, `
		SELECT id, name, email, payment_status, payment_reference, shipping_status, created_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.Name, &o.Email, &o.PaymentStatus, &o.PaymentReference, &o.ShippingStatus, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return o, ErrNotFound
		}
		return o, fmt.Errorf("get order: %w", err)
	}

	items, err := s.itemsOf(ctx, orderID)
	if err != nil {
		return o, err
	}
	o.Items = items
	return o, nil
}

func (s *Service) itemsOf(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.quantity,
		       p.id, p.name, p.price, p.stock, p.created_at, p.updated_at
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id=$1
		ORDER BY oi.seq`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.Quantity,
			&it.Product.ID, &it.Product.Name, &it.Product.Price, &it.Product.Stock,
			&it.Product.CreatedAt, &it.Product.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Cancel releases every item's stock and deletes the order in one
// transaction. A paid order is never cancelled: the row lock makes a
// concurrent Pay and Cancel resolve to exactly one outcome.
func (s *Service) Cancel(ctx context.Context, orderID string) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status PaymentStatus
	err = tx.QueryRow(ctx, `SELECT payment_status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock order: %w", err)
	}
	if status == PaymentPaid {
		return ErrAlreadyPaid
	}

	// release in product-id order, matching the lock order reservations use
	rows, err := tx.Query(ctx, `
		SELECT product_id, quantity FROM order_items
		WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	type rec struct {
		productID string
		qty       int
	}
	var recs []rec
	for rows.Next() {
		var x rec
		if err := rows.Scan(&x.productID, &x.qty); err != nil {
			rows.Close()
			return err
		}
		recs = append(recs, x)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, x := range recs {
		if err := s.Ledger.Release(ctx, tx, x.productID, x.qty); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, orderID); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, orderID); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cancel: %w", err)
	}
	return nil
}

// UpdateShipping validates the requested status, updates the order and sends
// a status-update notification.
func (s *Service) UpdateShipping(ctx context.Context, orderID, status string) (Order, error) {
	var o Order

	st, err := ToShippingStatus(status)
	if err != nil {
		return o, err
	}

	ct, err := s.DB.Exec(ctx, `UPDATE orders SET shipping_status=$2 WHERE id=$1`, orderID, st)
	if err != nil {
		return o, fmt.Errorf("update shipping: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return o, ErrNotFound
	}

	o, err = s.Get(ctx, orderID)
	if err != nil {
		return o, err
	}

	if s.Notifier != nil {
		s.Notifier.Send(notify.OrderStatusUpdate(o.Email, notify.OrderStatusUpdatePayload{
			OrderID: o.ID,
			Name:    o.Name,
			Status:  string(st),
		}))
	}
	return o, nil
}

// StalePending lists ids of PENDING orders created before the cutoff.
func (s *Service) StalePending(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE payment_status=$1 AND created_at < $2
		ORDER BY created_at`, PaymentPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stale pending query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PaidOrders returns all PAID orders with their items, for report generation.
func (s *Service) PaidOrders(ctx context.Context) ([]Order, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT o.id, o.name, o.email, o.payment_status, o.payment_reference,
		       o.shipping_status, o.created_at,
		       oi.id, oi.quantity,
		       p.id, p.name, p.price, p.stock, p.created_at, p.updated_at
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		JOIN products p ON p.id = oi.product_id
		WHERE o.payment_status=$1
		ORDER BY o.created_at, oi.seq`, PaymentPaid)
	if err != nil {
		return nil, fmt.Errorf("paid orders query: %w", err)
	}
	defer rows.Close()

	byID := map[string]*Order{}
	var ordered []string
	for rows.Next() {
		var (
			o  Order
			it OrderItem
		)
		if err := rows.Scan(&o.ID, &o.Name, &o.Email, &o.PaymentStatus, &o.PaymentReference,
			&o.ShippingStatus, &o.CreatedAt,
			&it.ID, &it.Quantity,
			&it.Product.ID, &it.Product.Name, &it.Product.Price, &it.Product.Stock,
			&it.Product.CreatedAt, &it.Product.UpdatedAt); err != nil {
			return nil, err
		}
		it.OrderID = o.ID

		existing, ok := byID[o.ID]
		if !ok {
			byID[o.ID] = &o
			ordered = append(ordered, o.ID)
			existing = &o
		}
		existing.Items = append(existing.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Order, 0, len(ordered))
	for _, id := range ordered {
		out = append(out, *byID[id])
	}
	return out, nil
}

// PopularProducts ranks products by the count of order-item rows referencing
// them, descending, ties broken by product id ascending. A zero since means
// all-time.
func (s *Service) PopularProducts(ctx context.Context, since time.Time, limit int) ([]ProductPopularity, error) {
	query := `
		SELECT p.id, p.name, p.price, p.stock, COUNT(oi.id) AS order_count
		FROM products p
		JOIN order_items oi ON oi.product_id = p.id
		JOIN orders o ON o.id = oi.order_id
		WHERE $1::timestamptz IS NULL OR o.created_at >= $1
		GROUP BY p.id, p.name, p.price, p.stock
		ORDER BY COUNT(oi.id) DESC, p.id ASC
		LIMIT $2`

	var sinceArg *time.Time
	if !since.IsZero() {
		sinceArg = &since
	}

	rows, err := s.DB.Query(ctx, query, sinceArg, limit)
	if err != nil {
		return nil, fmt.Errorf("popular products query: %w", err)
	}
	defer rows.Close()

	var out []ProductPopularity
	for rows.Next() {
		var p ProductPopularity
		if err := rows.Scan(&p.ProductID, &p.Name, &p.Price, &p.Stock, &p.OrderCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

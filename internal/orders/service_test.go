package orders_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohmdloai/flasky/internal/catalog"
	"github.com/mohmdloai/flasky/internal/notify"
	"github.com/mohmdloai/flasky/internal/orders"
	"github.com/mohmdloai/flasky/internal/postgres"
)

// sinkRecorder captures notifications instead of publishing them.
type sinkRecorder struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *sinkRecorder) Send(m notify.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *sinkRecorder) byType(t string) []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Message
	for _, m := range r.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (r *sinkRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("shop"),
		tcpostgres.WithUsername("app"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, "", err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return container, "", err
	}
	return container, connStr, nil
}

type orderServiceSuite struct {
	suite.Suite

	pool      *pgxpool.Pool
	ledger    *catalog.Repo
	svc       *orders.Service
	sink      *sinkRecorder
	container testcontainers.Container
}

func TestOrderServiceSuite(t *testing.T) {
	suite.Run(t, new(orderServiceSuite))
}

func (suite *orderServiceSuite) SetupSuite() {
	ctx := suite.T().Context()

	var (
		connStr string
		err     error
	)
	suite.container, connStr, err = startPostgres(ctx)
	suite.NoError(err)

	suite.pool, err = pgxpool.New(ctx, connStr)
	suite.NoError(err)

	suite.NoError(postgres.EnsureSchema(ctx, suite.pool))

	suite.ledger = &catalog.Repo{DB: suite.pool}
	suite.sink = &sinkRecorder{}
	suite.svc = &orders.Service{DB: suite.pool, Ledger: suite.ledger, Notifier: suite.sink}
}

func (suite *orderServiceSuite) TearDownSuite() {
	ctx := context.Background()

	if suite.pool != nil {
		suite.pool.Close()
	}
	if suite.container != nil {
		suite.NoError(suite.container.Terminate(ctx))
	}
}

func (suite *orderServiceSuite) deleteAll() {
	_, err := suite.pool.Exec(suite.T().Context(),
		`TRUNCATE order_items, orders, products CASCADE`)
	suite.NoError(err)
	suite.sink.reset()
}

func (suite *orderServiceSuite) createProduct(price float64, stock int) catalog.Product {
	p, err := suite.ledger.Create(suite.T().Context(),
		gofakeit.ProductName(), decimal.NewFromFloat(price), stock)
	suite.Require().NoError(err)
	return p
}

func (suite *orderServiceSuite) stockOf(productID string) int {
	p, err := suite.ledger.Get(suite.T().Context(), productID)
	suite.Require().NoError(err)
	return p.Stock
}

// backdate moves an order's creation time into the past.
func (suite *orderServiceSuite) backdate(orderID string, age time.Duration) {
	_, err := suite.pool.Exec(suite.T().Context(),
		`UPDATE orders SET created_at = created_at - $2::interval WHERE id=$1`,
		orderID, age.String())
	suite.Require().NoError(err)
}

func (suite *orderServiceSuite) TestCreateValidation() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	p := suite.createProduct(10, 5)

	tests := []struct {
		name  string
		cName string
		email string
		items []orders.ItemInput
	}{
		{name: "empty name", cName: "", email: "a@b.c", items: []orders.ItemInput{{ProductID: p.ID, Quantity: 1}}},
		{name: "empty email", cName: "Alice", email: "", items: []orders.ItemInput{{ProductID: p.ID, Quantity: 1}}},
		{name: "no items", cName: "Alice", email: "a@b.c", items: nil},
		{name: "zero quantity", cName: "Alice", email: "a@b.c", items: []orders.ItemInput{{ProductID: p.ID, Quantity: 0}}},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := suite.svc.Create(ctx, tt.cName, tt.email, tt.items)
			require.ErrorIs(suite.T(), err, orders.ErrValidation)
		})
	}

	// nothing was reserved by any of the rejected requests
	assert.Equal(t, 5, suite.stockOf(p.ID))
}

func (suite *orderServiceSuite) TestCreateReservesStock() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	p1 := suite.createProduct(1299.99, 4)
	p2 := suite.createProduct(29.99, 10)

	o, err := suite.svc.Create(ctx, "Alice", "alice@example.com", []orders.ItemInput{
		{ProductID: p1.ID, Quantity: 3},
		{ProductID: p2.ID, Quantity: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.Equal(t, orders.ShippingPending, o.ShippingStatus)
	assert.Nil(t, o.PaymentReference)
	assert.False(t, o.CreatedAt.IsZero())
	require.Len(t, o.Items, 2)
	assert.Equal(t, p1.ID, o.Items[0].Product.ID)
	assert.Equal(t, 3, o.Items[0].Quantity)

	assert.Equal(t, 1, suite.stockOf(p1.ID))
	assert.Equal(t, 8, suite.stockOf(p2.ID))
}

// If any reservation fails, the whole order must roll back: no order row, no
// stock change on any product.
func (suite *orderServiceSuite) TestCreateAllOrNothing() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	p1 := suite.createProduct(10, 10)
	p2 := suite.createProduct(20, 4)

	_, err := suite.svc.Create(ctx, "Bob", "bob@example.com", []orders.ItemInput{
		{ProductID: p1.ID, Quantity: 2},
		{ProductID: p2.ID, Quantity: 5}, // only 4 available
	})

	var stockErr *catalog.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 4, stockErr.Available)

	assert.Equal(t, 10, suite.stockOf(p1.ID))
	assert.Equal(t, 4, suite.stockOf(p2.ID))

	var count int
	err = suite.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func (suite *orderServiceSuite) TestCreateUnknownProduct() {
	defer suite.deleteAll()
	t := suite.T()

	_, err := suite.svc.Create(t.Context(), "Bob", "bob@example.com", []orders.ItemInput{
		{ProductID: uuid.NewString(), Quantity: 1},
	})
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func (suite *orderServiceSuite) TestEndToEndStockWalk() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	p := suite.createProduct(1299.99, 4)

	_, err := suite.svc.Create(ctx, "Alice", "alice@example.com",
		[]orders.ItemInput{{ProductID: p.ID, Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, 1, suite.stockOf(p.ID))

	_, err = suite.svc.Create(ctx, "Bob", "bob@example.com",
		[]orders.ItemInput{{ProductID: p.ID, Quantity: 2}})
	var stockErr *catalog.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Available)

	// first order's effect persists unchanged
	assert.Equal(t, 1, suite.stockOf(p.ID))
}

func (suite *orderServiceSuite) TestPay() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	p := suite.createProduct(100, 5)
	o, err := suite.svc.Create(ctx, "Alice", "alice@example.com",
		[]orders.ItemInput{{ProductID: p.ID, Quantity: 2}})
	require.NoError(t, err)

	paid, err := suite.svc.Pay(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, paid.PaymentStatus)
	require.NotNil(t, paid.PaymentReference)
	assert.True(t, strings.HasPrefix(*paid.PaymentReference, "Ref_"))
	assert.Len(t, *paid.PaymentReference, len("Ref_")+10)

	// confirmation notification enqueued exactly once
	confirmations := suite.sink.byType(notify.TypeOrderConfirmation)
	require.Len(t, confirmations, 1)
	assert.Equal(t, "alice@example.com", confirmations[0].Recipient)

	// second pay is rejected and the reference is unchanged
	_, err = suite.svc.Pay(ctx, o.ID)
	require.ErrorIs(t, err, orders.ErrAlreadyPaid)

	again, err := suite.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, again.PaymentReference)
	assert.Equal(t, *paid.PaymentReference, *again.PaymentReference)
	require.Len(t, suite.sink.byType(notify.TypeOrderConfirmation), 1)
}

func (suite *orderServiceSuite) TestPayEmptyOrder() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	orderID := uuid.NewString()
	_, err := suite.pool.Exec(ctx, `
		INSERT INTO orders(id, name, email, payment_status, shipping_status, created_at)
		VALUES ($1, 'Ghost', 'ghost@example.com', 'PENDING', 'PENDING', NOW())`, orderID)
	require.NoError(t, err)

	_, err = suite.svc.Pay(ctx, orderID)
	require.ErrorIs(t, err, orders.ErrEmptyOrder)
}

func (suite *orderServiceSuite) TestPayUnknownOrder() {
	t := suite.T()

	_, err := suite.svc.Pay(t.Context(), uuid.NewString())
	require.ErrorIs(t, err, orders.ErrNotFound)
}

func (suite *orderServiceSuite) TestAddItem() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	p1 := suite.createProduct(10, 5)
	p2 := suite.createProduct(20, 5)

	o, err := suite.svc.Create(ctx, "Alice", "alice@example.com",
		[]orders.ItemInput{{ProductID: p1.ID, Quantity: 1}})
	require.NoError(t, err)

	item, err := suite.svc.AddItem(ctx, o.ID, p2.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, o.ID, item.OrderID)
	assert.Equal(t, p2.ID, item.Product.ID)
	assert.Equal(t, 3, suite.stockOf(p2.ID))

	got, err := suite.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)

	// paying freezes the item list
	_, err = suite.svc.Pay(ctx, o.ID)
	require.NoError(t, err)

	_, err = suite.svc.AddItem(ctx, o.ID, p2.ID, 1)
	require.ErrorIs(t, err, orders.ErrAlreadyPaid)
	assert.Equal(t, 3, suite.stockOf(p2.ID))
}

func (suite *orderServiceSuite) TestAddItemUnknowns() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	p := suite.createProduct(10, 5)

	_, err := suite.svc.AddItem(ctx, uuid.NewString(), p.ID, 1)
	require.ErrorIs(t, err, orders.ErrNotFound)

	o, err := suite.svc.Create(ctx, "Alice", "alice@example.com",
		[]orders.ItemInput{{ProductID: p.ID, Quantity: 1}})
	require.NoError(t, err)

	_, err = suite.svc.AddItem(ctx, o.ID, uuid.NewString(), 1)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

// Cancelling restores exactly the stock the order had reserved and removes
// the order.
func (suite *orderServiceSuite) TestCancelRestoresStock() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	p := suite.createProduct(50, 4)
	o, err := suite.svc.Create(ctx, "Alice", "alice@example.com",
		[]orders.ItemInput{{ProductID: p.ID, Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, 1, suite.stockOf(p.ID))

	suite.backdate(o.ID, 8*24*time.Hour)

	stale, err := suite.svc.StalePending(ctx, time.Now().UTC().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Contains(t, stale, o.ID)

	require.NoError(t, suite.svc.Cancel(ctx, o.ID))

	assert.Equal(t, 4, suite.stockOf(p.ID))
	_, err = suite.svc.Get(ctx, o.ID)
	require.ErrorIs(t, err, orders.ErrNotFound)
}

func (suite *orderServiceSuite) TestCancelPaidOrder() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	p := suite.createProduct(50, 4)
	o, err := suite.svc.Create(ctx, "Alice", "alice@example.com",
		[]orders.ItemInput{{ProductID: p.ID, Quantity: 1}})
	require.NoError(t, err)
	_, err = suite.svc.Pay(ctx, o.ID)
	require.NoError(t, err)

	err = suite.svc.Cancel(ctx, o.ID)
	require.ErrorIs(t, err, orders.ErrAlreadyPaid)

	// untouched: still retrievable, stock unchanged
	_, err = suite.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, suite.stockOf(p.ID))
}

func (suite *orderServiceSuite) TestUpdateShipping() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	p := suite.createProduct(10, 5)
	o, err := suite.svc.Create(ctx, "Alice", "alice@example.com",
		[]orders.ItemInput{{ProductID: p.ID, Quantity: 1}})
	require.NoError(t, err)

	got, err := suite.svc.UpdateShipping(ctx, o.ID, "IN_PROGRESS")
	require.NoError(t, err)
	assert.Equal(t, orders.ShippingInProgress, got.ShippingStatus)
	require.Len(t, suite.sink.byType(notify.TypeOrderStatusUpdate), 1)

	_, err = suite.svc.UpdateShipping(ctx, o.ID, "TELEPORTED")
	require.ErrorIs(t, err, orders.ErrInvalidStatus)

	_, err = suite.svc.UpdateShipping(ctx, uuid.NewString(), "DELIVERED")
	require.ErrorIs(t, err, orders.ErrNotFound)
}

func (suite *orderServiceSuite) TestPaidOrdersAndReportInput() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	p1 := suite.createProduct(1299.99, 10)
	p2 := suite.createProduct(29.99, 10)

	o1, err := suite.svc.Create(ctx, "Alice", "alice@example.com", []orders.ItemInput{
		{ProductID: p1.ID, Quantity: 2},
		{ProductID: p2.ID, Quantity: 1},
	})
	require.NoError(t, err)
	_, err = suite.svc.Pay(ctx, o1.ID)
	require.NoError(t, err)

	// pending order is excluded from the report input
	_, err = suite.svc.Create(ctx, "Bob", "bob@example.com",
		[]orders.ItemInput{{ProductID: p1.ID, Quantity: 1}})
	require.NoError(t, err)

	paid, err := suite.svc.PaidOrders(ctx)
	require.NoError(t, err)
	require.Len(t, paid, 1)
	require.Len(t, paid[0].Items, 2)

	// revenue recomputed independently
	want := decimal.NewFromFloat(1299.99).Mul(decimal.NewFromInt(2)).
		Add(decimal.NewFromFloat(29.99))
	assert.True(t, want.Equal(paid[0].TotalAmount()),
		"want %s got %s", want, paid[0].TotalAmount())
}

func (suite *orderServiceSuite) TestPopularProducts() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	p1 := suite.createProduct(10, 100)
	p2 := suite.createProduct(20, 100)
	p3 := suite.createProduct(30, 100)

	// p1 referenced by 2 item rows, p2 by 2, p3 by 1
	o1, err := suite.svc.Create(ctx, "A", "a@example.com", []orders.ItemInput{
		{ProductID: p1.ID, Quantity: 1},
		{ProductID: p2.ID, Quantity: 5},
	})
	require.NoError(t, err)
	_, err = suite.svc.Create(ctx, "B", "b@example.com", []orders.ItemInput{
		{ProductID: p1.ID, Quantity: 1},
		{ProductID: p2.ID, Quantity: 1},
		{ProductID: p3.ID, Quantity: 1},
	})
	require.NoError(t, err)

	popular, err := suite.svc.PopularProducts(ctx, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, popular, 3)

	// ties on count broken by product id ascending
	first, second := popular[0], popular[1]
	assert.Equal(t, 2, first.OrderCount)
	assert.Equal(t, 2, second.OrderCount)
	assert.Less(t, first.ProductID, second.ProductID)
	assert.Equal(t, p3.ID, popular[2].ProductID)
	assert.Equal(t, 1, popular[2].OrderCount)

	// windowed ranking ignores orders created before the window
	suite.backdate(o1.ID, 10*24*time.Hour)
	windowed, err := suite.svc.PopularProducts(ctx, time.Now().UTC().Add(-7*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, windowed, 3)
	for _, p := range windowed {
		assert.Equal(t, 1, p.OrderCount)
	}
}

// Concurrent creates listing the same products in opposite order must never
// deadlock on each other's row locks.
func (suite *orderServiceSuite) TestConcurrentCreateOppositeItemOrder() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	p1 := suite.createProduct(10, 1000)
	p2 := suite.createProduct(20, 1000)

	const pairs = 10
	errs := make(chan error, pairs*2)
	var wg sync.WaitGroup
	for i := 0; i < pairs; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := suite.svc.Create(ctx, "A", "a@example.com", []orders.ItemInput{
				{ProductID: p1.ID, Quantity: 1},
				{ProductID: p2.ID, Quantity: 1},
			})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := suite.svc.Create(ctx, "B", "b@example.com", []orders.ItemInput{
				{ProductID: p2.ID, Quantity: 1},
				{ProductID: p1.ID, Quantity: 1},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1000-2*pairs, suite.stockOf(p1.ID))
	assert.Equal(t, 1000-2*pairs, suite.stockOf(p2.ID))
}

// Listing keeps the caller's item order even when reservations run in
// canonical product-id order.
func (suite *orderServiceSuite) TestItemsKeepRequestOrder() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	pa := suite.createProduct(10, 5)
	pb := suite.createProduct(20, 5)
	lower, higher := pa, pb
	if lower.ID > higher.ID {
		lower, higher = higher, lower
	}

	o, err := suite.svc.Create(ctx, "Alice", "alice@example.com", []orders.ItemInput{
		{ProductID: higher.ID, Quantity: 1},
		{ProductID: lower.ID, Quantity: 2},
	})
	require.NoError(t, err)

	require.Len(t, o.Items, 2)
	assert.Equal(t, higher.ID, o.Items[0].Product.ID)
	assert.Equal(t, lower.ID, o.Items[1].Product.ID)
	assert.Equal(t, 2, o.Items[1].Quantity)
}

// A pending order being paid while the reaper cancels it resolves to exactly
// one outcome.
func (suite *orderServiceSuite) TestPayCancelRace() {
	defer suite.deleteAll()
	t := suite.T()
	ctx := t.Context()

	const rounds = 10
	for i := 0; i < rounds; i++ {
		p := suite.createProduct(10, 5)
		o, err := suite.svc.Create(ctx, "Alice", "alice@example.com",
			[]orders.ItemInput{{ProductID: p.ID, Quantity: 2}})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var payErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, payErr = suite.svc.Pay(ctx, o.ID)
		}()
		go func() {
			defer wg.Done()
			cancelErr = suite.svc.Cancel(ctx, o.ID)
		}()
		wg.Wait()

		paidWon := payErr == nil
		cancelWon := cancelErr == nil
		require.True(t, paidWon != cancelWon,
			"exactly one of pay/cancel must win: pay=%v cancel=%v", payErr, cancelErr)

		if paidWon {
			got, err := suite.svc.Get(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, orders.PaymentPaid, got.PaymentStatus)
			assert.Equal(t, 3, suite.stockOf(p.ID))
		} else {
			_, err := suite.svc.Get(ctx, o.ID)
			require.ErrorIs(t, err, orders.ErrNotFound)
			assert.Equal(t, 5, suite.stockOf(p.ID))
		}
	}
}

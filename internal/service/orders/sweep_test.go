package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// seedExpiredOrder кладёт в хранилище заказ, ожидающий оплаты с уже
// истёкшим дедлайном, минуя сервис (остатки уже списаны ранее).
func seedExpiredOrder(t *testing.T, f *fixture, productID, variantID, size string, qty int32) domain.Order {
	t.Helper()

	created := f.now.Add(-2 * time.Hour)
	order, err := domain.NewOrder(
		"",
		domain.OrderStatusWaitingForPayment,
		domain.PaymentInfo{
			Status:   domain.PaymentStatusPending,
			Deadline: f.now.Add(-time.Hour),
		},
		testCustomer(),
		testAddress(),
		[]domain.OrderProduct{{
			ProductID:      productID,
			UnitPriceMinor: 500,
			Variants: []domain.OrderVariant{{
				VariantID: variantID,
				Sizes:     []domain.SizeQuantity{{Size: size, Quantity: qty}},
			}},
		}},
		domain.CreatorDetails{Creator: domain.CreatorGuest},
		created,
	)
	require.NoError(t, err)
	require.NoError(t, f.orders.Create(order))
	return order
}

// Два просроченных заказа на один и тот же размер: количества суммируются
// до единственного восстановления, оба заказа удаляются.
func TestStockReleaseSweep_MergesDuplicateBuckets(t *testing.T) {
	f := newFixture(t)
	seedProduct(f, "prod-1", 500, "var-red", "40", 4)

	first := seedExpiredOrder(t, f, "prod-1", "var-red", "40", 3)
	second := seedExpiredOrder(t, f, "prod-1", "var-red", "40", 3)

	result, err := f.service.StockReleaseSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.OrdersDeleted)
	assert.Equal(t, int64(6), result.UnitsReleased)
	assert.Equal(t, int32(10), f.products.StockFor("prod-1", "var-red", "40"))

	_, err = f.orders.Get(first.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = f.orders.Get(second.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

// Заказ, сохранённый как PENDING до истечения дедлайна, попадает в чистку:
// переклассификация в EXPIRED происходит лениво при загрузке.
func TestStockReleaseSweep_PicksUpStalePending(t *testing.T) {
	f := newFixture(t)
	seedProduct(f, "prod-1", 500, "var-red", "40", 0)

	order := seedExpiredOrder(t, f, "prod-1", "var-red", "40", 2)

	result, err := f.service.StockReleaseSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.OrdersDeleted)
	assert.Equal(t, int64(2), result.UnitsReleased)
	assert.Equal(t, int32(2), f.products.StockFor("prod-1", "var-red", "40"))

	_, err = f.orders.Get(order.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestStockReleaseSweep_SkipsLiveOrders(t *testing.T) {
	f := newFixture(t)
	seedProduct(f, "prod-1", 990, "var-red", "40", 10)

	live, err := f.service.CreateGuestOrder(context.Background(), GuestCreation{
		Customer:        testCustomer(),
		ShippingAddress: testAddress(),
		Products:        []ProductRequest{cartLine("prod-1", "var-red", "40", 2)},
	})
	require.NoError(t, err)
	require.Equal(t, int32(8), f.products.StockFor("prod-1", "var-red", "40"))

	result, err := f.service.StockReleaseSweep(context.Background())
	require.NoError(t, err)

	assert.Zero(t, result.OrdersDeleted)
	assert.Zero(t, result.UnitsReleased)
	assert.Equal(t, int32(8), f.products.StockFor("prod-1", "var-red", "40"))

	_, err = f.orders.Get(live.ID)
	require.NoError(t, err)
}

func TestStockReleaseSweep_Empty(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.StockReleaseSweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.OrdersDeleted)
	assert.Zero(t, result.UnitsReleased)
}

// Просроченный заказ ссылается на товар, которого больше нет в каталоге, —
// нарушение целостности: чистка прерывается, ни один заказ не удаляется.
func TestStockReleaseSweep_MissingProductIsFatal(t *testing.T) {
	f := newFixture(t)
	seedProduct(f, "prod-1", 500, "var-red", "40", 4)

	kept := seedExpiredOrder(t, f, "prod-1", "var-red", "40", 3)
	broken := seedExpiredOrder(t, f, "prod-gone", "var-red", "40", 1)

	_, err := f.service.StockReleaseSweep(context.Background())
	require.ErrorIs(t, err, domain.ErrInvalidProduct)

	// Полный откат: остатки и заказы не тронуты.
	assert.Equal(t, int32(4), f.products.StockFor("prod-1", "var-red", "40"))
	_, err = f.orders.Get(kept.ID)
	require.NoError(t, err)
	_, err = f.orders.Get(broken.ID)
	require.NoError(t, err)
}

func TestStockReleaseSweep_EmitsOutboxEvents(t *testing.T) {
	f := newFixture(t)
	seedProduct(f, "prod-1", 500, "var-red", "40", 4)

	order := seedExpiredOrder(t, f, "prod-1", "var-red", "40", 3)

	_, err := f.service.StockReleaseSweep(context.Background())
	require.NoError(t, err)

	pending, err := f.outbox.PullPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "stock.released", pending[0].EventType)
	assert.Equal(t, order.ID, pending[0].AggregateID)
}

func TestSweepWorker_RunsOnStart(t *testing.T) {
	f := newFixture(t)
	seedProduct(f, "prod-1", 500, "var-red", "40", 4)
	seedExpiredOrder(t, f, "prod-1", "var-red", "40", 3)

	worker := NewSweepWorker(f.service, WithSweepInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return f.products.StockFor("prod-1", "var-red", "40") == 7
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestSweepWorker_NilService(t *testing.T) {
	worker := NewSweepWorker(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	worker.Run(ctx)
}

package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// TxManager — in-memory реализация domain.TxManager. Атомарность достигается
// снапшотом всех хранилищ перед выполнением unit of work и откатом к снапшоту
// при ошибке; глобальный мьютекс сериализует конкурентные транзакции.
type TxManager struct {
	mu       sync.Mutex
	orders   *OrderRepository
	products *ProductRepository
	outbox   *OutboxRepository
}

// NewTxManager создаёт менеджер транзакций поверх in-memory хранилищ.
func NewTxManager(orders *OrderRepository, products *ProductRepository, outbox *OutboxRepository) *TxManager {
	return &TxManager{orders: orders, products: products, outbox: outbox}
}

// RunInTransaction выполняет fn атомарно относительно трёх хранилищ.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(stores domain.Stores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	ordersSnap := m.orders.snapshot()
	productsSnap := m.products.snapshot()
	outboxSnap := m.outbox.snapshot()

	stores := domain.Stores{
		Orders:   m.orders,
		Products: m.products,
		Outbox:   m.outbox,
	}
	if err := fn(stores); err != nil {
		m.orders.restore(ordersSnap)
		m.products.restore(productsSnap)
		m.outbox.restore(outboxSnap)
		return err
	}
	return nil
}

var _ domain.TxManager = (*TxManager)(nil)

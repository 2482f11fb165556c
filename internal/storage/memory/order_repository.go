package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// OrderRepository — in-memory реализация domain.OrderRepository для
// локальной разработки и тестов.
type OrderRepository struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает пустой in-memory репозиторий заказов.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{items: make(map[string]domain.Order)}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *OrderRepository) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound. Просроченная оплата
// переклассифицируется в EXPIRED при чтении.
func (r *OrderRepository) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	result := cloneOrder(order)
	result.RefreshPaymentExpiry(time.Now().UTC())
	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *OrderRepository) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	order.Version++
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// Delete удаляет заказы по идентификаторам. Отсутствующие ID пропускаются.
func (r *OrderRepository) Delete(ids ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		delete(r.items, id)
	}
	return nil
}

// List возвращает заказы, проходящие фильтр, в порядке создания.
// Фильтр по статусу оплаты применяется после ленивой переклассификации.
func (r *OrderRepository) List(filter domain.OrderFilter) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now().UTC()
	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		candidate := cloneOrder(order)
		candidate.RefreshPaymentExpiry(now)

		if filter.Status != nil && candidate.Status != *filter.Status {
			continue
		}
		if filter.PaymentStatus != nil && candidate.Payment.Status != *filter.PaymentStatus {
			continue
		}
		result = append(result, candidate)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

func (r *OrderRepository) snapshot() map[string]domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	copied := make(map[string]domain.Order, len(r.items))
	for id, order := range r.items {
		copied[id] = cloneOrder(order)
	}
	return copied
}

func (r *OrderRepository) restore(items map[string]domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = items
}

// cloneOrder делает глубокую копию заказа, чтобы мутации извне не
// просачивались в хранилище.
func cloneOrder(src domain.Order) domain.Order {
	dst := src
	if src.Payment.PaidAt != nil {
		paidAt := *src.Payment.PaidAt
		dst.Payment.PaidAt = &paidAt
	}
	dst.Products = make([]domain.OrderProduct, len(src.Products))
	for i, product := range src.Products {
		copied := product
		copied.Variants = make([]domain.OrderVariant, len(product.Variants))
		for j, variant := range product.Variants {
			variantCopy := variant
			variantCopy.Sizes = append([]domain.SizeQuantity(nil), variant.Sizes...)
			copied.Variants[j] = variantCopy
		}
		dst.Products[i] = copied
	}
	return dst
}

var _ domain.OrderRepository = (*OrderRepository)(nil)

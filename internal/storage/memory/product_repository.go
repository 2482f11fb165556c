package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// ProductRepository — in-memory хранилище товаров с остатками по
// вариантам и размерам.
type ProductRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.ProductUpdater
}

// NewProductRepository возвращает пустое in-memory хранилище товаров.
func NewProductRepository() *ProductRepository {
	return &ProductRepository{items: make(map[string]*domain.ProductUpdater)}
}

// Seed кладёт товар в хранилище (начальные данные для тестов и локальных запусков).
func (r *ProductRepository) Seed(updater *domain.ProductUpdater) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[updater.ProductID] = updater.Clone()
}

// FindMany возвращает updater-ы найденных товаров; ненайденные ID молча
// опускаются. Каждый вызов отдаёт независимые копии.
func (r *ProductRepository) FindMany(productIDs []string) ([]*domain.ProductUpdater, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.ProductUpdater, 0, len(productIDs))
	seen := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if updater, ok := r.items[id]; ok {
			result = append(result, updater.Clone())
		}
	}
	return result, nil
}

// Persist сохраняет мутированные updater-ы с проверкой версии.
func (r *ProductRepository) Persist(updaters []*domain.ProductUpdater) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(updaters))
	for _, updater := range updaters {
		if seen[updater.ProductID] {
			return domain.ErrDuplicateProductUpdater
		}
		seen[updater.ProductID] = true

		current, ok := r.items[updater.ProductID]
		if !ok {
			return domain.ErrInvalidProduct
		}
		if current.Version != updater.Version {
			return domain.ErrProductVersionConflict
		}
	}

	for _, updater := range updaters {
		saved := updater.Clone()
		saved.Version++
		r.items[updater.ProductID] = saved
	}
	return nil
}

// StockFor возвращает текущий остаток размера (хелпер для тестов).
func (r *ProductRepository) StockFor(productID, variantID, size string) int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	updater, ok := r.items[productID]
	if !ok {
		return 0
	}
	return updater.StockFor(variantID, size)
}

func (r *ProductRepository) snapshot() map[string]*domain.ProductUpdater {
	r.mu.RLock()
	defer r.mu.RUnlock()

	copied := make(map[string]*domain.ProductUpdater, len(r.items))
	for id, updater := range r.items {
		copied[id] = updater.Clone()
	}
	return copied
}

func (r *ProductRepository) restore(items map[string]*domain.ProductUpdater) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = items
}

var _ domain.ProductRepository = (*ProductRepository)(nil)

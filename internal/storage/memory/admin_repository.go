package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// AdminRepository — in-memory справочник админов для валидации создателя заказа.
type AdminRepository struct {
	mu  sync.RWMutex
	ids map[string]bool
}

// NewAdminRepository возвращает пустой справочник админов.
func NewAdminRepository(ids ...string) *AdminRepository {
	repo := &AdminRepository{ids: make(map[string]bool, len(ids))}
	for _, id := range ids {
		repo.ids[id] = true
	}
	return repo
}

// Add регистрирует админа.
func (r *AdminRepository) Add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[id] = true
}

// Exists проверяет, зарегистрирован ли админ.
func (r *AdminRepository) Exists(adminID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids[adminID], nil
}

var _ domain.AdminRepository = (*AdminRepository)(nil)

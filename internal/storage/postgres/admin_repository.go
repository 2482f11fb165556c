package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

type adminRepository struct {
	q querier
}

// NewAdminRepository создаёт PostgreSQL-реализацию AdminRepository.
func NewAdminRepository(store *Store) domain.AdminRepository {
	return &adminRepository{q: store.DB()}
}

func (r *adminRepository) Exists(adminID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var exists bool
	if err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM admins WHERE id = $1)`, adminID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check admin existence %s: %w", adminID, err)
	}
	return exists, nil
}

// AddAdmin регистрирует админа (используется при провижининге и в тестах).
func AddAdmin(store *Store, id, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := store.DB().ExecContext(ctx, `
		INSERT INTO admins (id, name)
		VALUES ($1,$2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, id, name); err != nil {
		return fmt.Errorf("add admin %s: %w", id, err)
	}
	return nil
}

var _ domain.AdminRepository = (*adminRepository)(nil)

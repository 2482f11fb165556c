package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

type productRepository struct {
	db *sql.DB
	q  querier
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	db := store.DB()
	return &productRepository{db: db, q: db}
}

func newProductRepositoryTx(tx *sql.Tx) *productRepository {
	return &productRepository{q: tx}
}

// FindMany возвращает updater-ы для найденных товаров вместе с остатками.
// Ненайденные идентификаторы молча опускаются.
func (r *productRepository) FindMany(productIDs []string) ([]*domain.ProductUpdater, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	args := make([]any, 0, len(productIDs))
	for _, id := range productIDs {
		args = append(args, id)
	}
	in := inPlaceholders(1, len(productIDs))

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, unit_price_minor, version
		FROM products
		WHERE id IN (`+in+`)
		ORDER BY id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*domain.ProductUpdater)
	updaters := make([]*domain.ProductUpdater, 0, len(productIDs))
	for rows.Next() {
		var (
			id      string
			price   int64
			version int64
		)
		if err := rows.Scan(&id, &price, &version); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		updater := domain.NewProductUpdater(id, price, version)
		byID[id] = updater
		updaters = append(updaters, updater)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	if len(updaters) == 0 {
		return nil, nil
	}

	stockRows, err := r.q.QueryContext(ctx, `
		SELECT product_id, variant_id, size_value, stock
		FROM product_stock
		WHERE product_id IN (`+in+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("load product stock: %w", err)
	}
	defer stockRows.Close()

	for stockRows.Next() {
		var (
			productID string
			variantID string
			size      string
			stock     int32
		)
		if err := stockRows.Scan(&productID, &variantID, &size, &stock); err != nil {
			return nil, fmt.Errorf("scan product stock: %w", err)
		}
		if updater, ok := byID[productID]; ok {
			updater.SetStock(variantID, size, stock)
		}
	}
	if err := stockRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product stock: %w", err)
	}

	return updaters, nil
}

// Persist сохраняет мутированные updater-ы целиком. Версия каждого товара
// проверяется optimistic lock-ом: конкурентное изменение остатков того же
// товара обязано сериализоваться, иначе резерв можно было бы потерять.
func (r *productRepository) Persist(updaters []*domain.ProductUpdater) error {
	if len(updaters) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(updaters))
	for _, updater := range updaters {
		if seen[updater.ProductID] {
			return domain.ErrDuplicateProductUpdater
		}
		seen[updater.ProductID] = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return runAtomic(ctx, r.db, r.q, func(q querier) error {
		for _, updater := range updaters {
			if err := persistOne(ctx, q, updater); err != nil {
				return err
			}
		}
		return nil
	})
}

func persistOne(ctx context.Context, q querier, updater *domain.ProductUpdater) error {
	res, err := q.ExecContext(ctx, `
		UPDATE products
		SET unit_price_minor = $2, version = version + 1
		WHERE id = $1 AND version = $3
	`, updater.ProductID, updater.UnitPriceMinor, updater.Version)
	if err != nil {
		return fmt.Errorf("update product %s: %w", updater.ProductID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for product %s: %w", updater.ProductID, err)
	}
	if affected == 0 {
		var exists bool
		if err := q.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, updater.ProductID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check product existence %s: %w", updater.ProductID, err)
		}
		if !exists {
			return domain.ErrInvalidProduct
		}
		return domain.ErrProductVersionConflict
	}

	// Остатки перезаписываются целиком: updater — снимок всех размеров товара.
	if _, err := q.ExecContext(ctx,
		`DELETE FROM product_stock WHERE product_id = $1`, updater.ProductID,
	); err != nil {
		return fmt.Errorf("delete product stock %s: %w", updater.ProductID, err)
	}

	for variantID, sizes := range updater.Stock {
		for size, stock := range sizes {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO product_stock (product_id, variant_id, size_value, stock)
				VALUES ($1,$2,$3,$4)
			`, updater.ProductID, variantID, size, stock); err != nil {
				return fmt.Errorf("insert product stock %s/%s/%s: %w", updater.ProductID, variantID, size, err)
			}
		}
	}

	return nil
}

// SeedProduct вставляет товар с остатками напрямую, минуя optimistic locking.
// Используется миграционными скриптами и интеграционными тестами.
func SeedProduct(store *Store, updater *domain.ProductUpdater) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	db := store.DB()
	return runAtomic(ctx, db, db, func(q querier) error {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO products (id, unit_price_minor, version)
			VALUES ($1,$2,$3)
			ON CONFLICT (id) DO UPDATE
			SET unit_price_minor = EXCLUDED.unit_price_minor, version = EXCLUDED.version
		`, updater.ProductID, updater.UnitPriceMinor, updater.Version); err != nil {
			return fmt.Errorf("seed product %s: %w", updater.ProductID, err)
		}

		if _, err := q.ExecContext(ctx,
			`DELETE FROM product_stock WHERE product_id = $1`, updater.ProductID,
		); err != nil {
			return fmt.Errorf("reset seeded stock %s: %w", updater.ProductID, err)
		}

		for variantID, sizes := range updater.Stock {
			for size, stock := range sizes {
				if _, err := q.ExecContext(ctx, `
					INSERT INTO product_stock (product_id, variant_id, size_value, stock)
					VALUES ($1,$2,$3,$4)
				`, updater.ProductID, variantID, size, stock); err != nil {
					return fmt.Errorf("seed product stock %s/%s/%s: %w", updater.ProductID, variantID, size, err)
				}
			}
		}
		return nil
	})
}

var _ domain.ProductRepository = (*productRepository)(nil)

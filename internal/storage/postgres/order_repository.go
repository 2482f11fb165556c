package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

const opTimeout = 5 * time.Second

type orderRepository struct {
	db *sql.DB
	q  querier
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository,
// привязанную к пулу соединений.
func NewOrderRepository(store *Store) domain.OrderRepository {
	db := store.DB()
	return &orderRepository{db: db, q: db}
}

func newOrderRepositoryTx(tx *sql.Tx) *orderRepository {
	return &orderRepository{q: tx}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return runAtomic(ctx, r.db, r.q, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (
				id, status, payment_status, payment_deadline, paid_at,
				customer_name, customer_email, customer_phone,
				ship_line1, ship_line2, ship_city, ship_region, ship_postal_code, ship_country,
				creator, creator_id, version, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		`,
			order.ID, order.Status, order.Payment.Status,
			nullableTime(order.Payment.Deadline), order.Payment.PaidAt,
			order.Customer.Name, order.Customer.Email, order.Customer.Phone,
			order.ShippingAddress.Line1, order.ShippingAddress.Line2,
			order.ShippingAddress.City, order.ShippingAddress.Region,
			order.ShippingAddress.PostalCode, order.ShippingAddress.Country,
			order.Creator.Creator, order.Creator.CreatorID,
			order.Version, order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderVersionConflict
			}
			return fmt.Errorf("insert order %s: %w", order.ID, err)
		}

		return insertOrderLines(ctx, q, order)
	})
}

// Get возвращает заказ или ErrOrderNotFound. Просроченная оплата
// переклассифицируется в EXPIRED при загрузке, поэтому протухший
// PENDING никогда не покидает хранилище.
func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.q.QueryRowContext(ctx, selectOrderSQL+` WHERE id = $1`, id)
	order, err := scanOrder(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}

	if order.Products, err = loadOrderLines(ctx, r.q, order.ID); err != nil {
		return domain.Order{}, err
	}

	order.RefreshPaymentExpiry(time.Now().UTC())
	return order, nil
}

func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return runAtomic(ctx, r.db, r.q, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE orders SET
				status = $2, payment_status = $3, payment_deadline = $4, paid_at = $5,
				customer_name = $6, customer_email = $7, customer_phone = $8,
				ship_line1 = $9, ship_line2 = $10, ship_city = $11, ship_region = $12,
				ship_postal_code = $13, ship_country = $14,
				version = version + 1, updated_at = $15
			WHERE id = $1 AND version = $16
		`,
			order.ID, order.Status, order.Payment.Status,
			nullableTime(order.Payment.Deadline), order.Payment.PaidAt,
			order.Customer.Name, order.Customer.Email, order.Customer.Phone,
			order.ShippingAddress.Line1, order.ShippingAddress.Line2,
			order.ShippingAddress.City, order.ShippingAddress.Region,
			order.ShippingAddress.PostalCode, order.ShippingAddress.Country,
			order.UpdatedAt.UTC(), order.Version,
		)
		if err != nil {
			return fmt.Errorf("update order %s: %w", order.ID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected for order %s: %w", order.ID, err)
		}
		if affected == 0 {
			exists, err := orderExists(ctx, q, order.ID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return domain.ErrOrderVersionConflict
		}

		// Состав заказа может измениться целиком: строки перезаписываются.
		if _, err := q.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = $1`, order.ID); err != nil {
			return fmt.Errorf("delete order lines %s: %w", order.ID, err)
		}
		return insertOrderLines(ctx, q, order)
	})
}

// Delete удаляет заказы батчем; строки состава уходят по каскаду.
// Неизвестные идентификаторы молча пропускаются.
func (r *orderRepository) Delete(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM orders WHERE id IN (`+inPlaceholders(1, len(ids))+`)`, args...,
	); err != nil {
		return fmt.Errorf("delete orders: %w", err)
	}
	return nil
}

// List возвращает заказы, проходящие фильтр. Фильтр по статусу заказа
// уходит в SQL; фильтр по статусу оплаты применяется уже после ленивой
// переклассификации просроченных заказов, иначе протухший PENDING
// просочился бы мимо выборки EXPIRED.
func (r *orderRepository) List(filter domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := selectOrderSQL
	var args []any
	if filter.Status != nil {
		query += ` WHERE status = $1`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	result := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		if order.Products, err = loadOrderLines(ctx, r.q, order.ID); err != nil {
			return nil, err
		}
		order.RefreshPaymentExpiry(now)
		if filter.PaymentStatus != nil && order.Payment.Status != *filter.PaymentStatus {
			continue
		}
		result = append(result, order)
	}

	return result, nil
}

const selectOrderSQL = `
	SELECT id, status, payment_status, payment_deadline, paid_at,
	       customer_name, customer_email, customer_phone,
	       ship_line1, ship_line2, ship_city, ship_region, ship_postal_code, ship_country,
	       creator, creator_id, version, created_at, updated_at
	FROM orders`

func scanOrder(scan func(dest ...any) error) (domain.Order, error) {
	var (
		order    domain.Order
		deadline sql.NullTime
		paidAt   sql.NullTime
	)
	if err := scan(
		&order.ID, &order.Status, &order.Payment.Status, &deadline, &paidAt,
		&order.Customer.Name, &order.Customer.Email, &order.Customer.Phone,
		&order.ShippingAddress.Line1, &order.ShippingAddress.Line2,
		&order.ShippingAddress.City, &order.ShippingAddress.Region,
		&order.ShippingAddress.PostalCode, &order.ShippingAddress.Country,
		&order.Creator.Creator, &order.Creator.CreatorID,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	if deadline.Valid {
		order.Payment.Deadline = deadline.Time.UTC()
	}
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		order.Payment.PaidAt = &t
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

// insertOrderLines раскладывает вложенный состав заказа в плоские строки:
// позиция растёт в порядке товар → вариант → размер, и по ней же состав
// собирается обратно при загрузке.
func insertOrderLines(ctx context.Context, q querier, order domain.Order) error {
	position := 0
	for _, product := range order.Products {
		for _, variant := range product.Variants {
			for _, size := range variant.Sizes {
				if _, err := q.ExecContext(ctx, `
					INSERT INTO order_lines (
						order_id, position, product_id, unit_price_minor,
						variant_id, size_value, quantity
					) VALUES ($1,$2,$3,$4,$5,$6,$7)
				`,
					order.ID, position, product.ProductID, product.UnitPriceMinor,
					variant.VariantID, size.Size, size.Quantity,
				); err != nil {
					return fmt.Errorf("insert order line %s/%d: %w", order.ID, position, err)
				}
				position++
			}
		}
	}
	return nil
}

func loadOrderLines(ctx context.Context, q querier, orderID string) ([]domain.OrderProduct, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, unit_price_minor, variant_id, size_value, quantity
		FROM order_lines
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines %s: %w", orderID, err)
	}
	defer rows.Close()

	var products []domain.OrderProduct
	for rows.Next() {
		var (
			productID string
			price     int64
			variantID string
			size      string
			qty       int32
		)
		if err := rows.Scan(&productID, &price, &variantID, &size, &qty); err != nil {
			return nil, fmt.Errorf("scan order line %s: %w", orderID, err)
		}

		if len(products) == 0 || products[len(products)-1].ProductID != productID {
			products = append(products, domain.OrderProduct{
				ProductID:      productID,
				UnitPriceMinor: price,
			})
		}
		product := &products[len(products)-1]

		if len(product.Variants) == 0 || product.Variants[len(product.Variants)-1].VariantID != variantID {
			product.Variants = append(product.Variants, domain.OrderVariant{VariantID: variantID})
		}
		variant := &product.Variants[len(product.Variants)-1]
		variant.Sizes = append(variant.Sizes, domain.SizeQuantity{Size: size, Quantity: qty})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines %s: %w", orderID, err)
	}

	return products, nil
}

func orderExists(ctx context.Context, q querier, id string) (bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order existence %s: %w", id, err)
	}
	return exists, nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

var _ domain.OrderRepository = (*orderRepository)(nil)

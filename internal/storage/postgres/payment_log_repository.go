package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

type paymentLogRepository struct {
	db *sql.DB
	q  querier
}

// NewPaymentLogRepository создаёт PostgreSQL-реализацию журнала транзакций.
// Журнал append-only: уникальный индекс по gateway_session_id закрывает
// гонку двух конкурентных retry одного callback-а на уровне базы.
func NewPaymentLogRepository(store *Store) domain.PaymentLogRepository {
	db := store.DB()
	return &paymentLogRepository{db: db, q: db}
}

func (r *paymentLogRepository) ExistsBySession(sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var exists bool
	if err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM payment_transactions WHERE gateway_session_id = $1
		)
	`, sessionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check gateway session %s: %w", sessionID, err)
	}

	return exists, nil
}

func (r *paymentLogRepository) Create(txn domain.PaymentTransaction) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	if txn.UpdatedAt.IsZero() {
		txn.UpdatedAt = now
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payment_transactions (
			id, order_id, amount_minor, currency, txn_type, txn_status,
			processor, gateway_session_id, raw_response, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		txn.ID, txn.OrderID, txn.AmountMinor, txn.Currency, txn.Type, txn.Status,
		txn.Processor, txn.GatewaySessionID, txn.RawResponse,
		txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateGatewaySession
		}
		return fmt.Errorf("insert payment transaction %s: %w", txn.ID, err)
	}

	return nil
}

func (r *paymentLogRepository) ListByOrder(orderID string) ([]domain.PaymentTransaction, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, amount_minor, currency, txn_type, txn_status,
		       processor, gateway_session_id, raw_response, created_at, updated_at
		FROM payment_transactions
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payment transactions for order %s: %w", orderID, err)
	}
	defer rows.Close()

	txns := make([]domain.PaymentTransaction, 0)
	for rows.Next() {
		var txn domain.PaymentTransaction
		if err := rows.Scan(
			&txn.ID, &txn.OrderID, &txn.AmountMinor, &txn.Currency,
			&txn.Type, &txn.Status, &txn.Processor, &txn.GatewaySessionID,
			&txn.RawResponse, &txn.CreatedAt, &txn.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment transaction: %w", err)
		}
		txn.CreatedAt = txn.CreatedAt.UTC()
		txn.UpdatedAt = txn.UpdatedAt.UTC()
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment transactions: %w", err)
	}

	return txns, nil
}

var _ domain.PaymentLogRepository = (*paymentLogRepository)(nil)

package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// PaymentLogRepository — in-memory журнал транзакций шлюза.
// Проверка session id и запись выполняются под одним мьютексом, поэтому
// гонка двух одинаковых retry закрыта так же, как unique index в PostgreSQL.
type PaymentLogRepository struct {
	mu       sync.RWMutex
	byID     map[string]domain.PaymentTransaction
	sessions map[string]string // gatewaySessionID → transactionID
	order    []string          // порядок добавления
}

// NewPaymentLogRepository возвращает пустой журнал транзакций.
func NewPaymentLogRepository() *PaymentLogRepository {
	return &PaymentLogRepository{
		byID:     make(map[string]domain.PaymentTransaction),
		sessions: make(map[string]string),
	}
}

// ExistsBySession сообщает, записана ли транзакция с таким session id.
func (r *PaymentLogRepository) ExistsBySession(sessionID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sessions[sessionID]
	return ok, nil
}

// Create добавляет транзакцию. Повтор session id — ErrDuplicateGatewaySession.
func (r *PaymentLogRepository) Create(txn domain.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

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

	if txn.GatewaySessionID != "" {
		if _, exists := r.sessions[txn.GatewaySessionID]; exists {
			return domain.ErrDuplicateGatewaySession
		}
	}

	txn.RawResponse = append([]byte(nil), txn.RawResponse...)
	r.byID[txn.ID] = txn
	r.order = append(r.order, txn.ID)
	if txn.GatewaySessionID != "" {
		r.sessions[txn.GatewaySessionID] = txn.ID
	}
	return nil
}

// ListByOrder возвращает транзакции заказа в порядке добавления.
func (r *PaymentLogRepository) ListByOrder(orderID string) ([]domain.PaymentTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.PaymentTransaction, 0)
	for _, id := range r.order {
		txn := r.byID[id]
		if txn.OrderID != orderID {
			continue
		}
		txn.RawResponse = append([]byte(nil), txn.RawResponse...)
		result = append(result, txn)
	}
	return result, nil
}

// All возвращает все транзакции в порядке добавления (хелпер для тестов).
func (r *PaymentLogRepository) All() []domain.PaymentTransaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.PaymentTransaction, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.byID[id])
	}
	return result
}

var _ domain.PaymentLogRepository = (*PaymentLogRepository)(nil)

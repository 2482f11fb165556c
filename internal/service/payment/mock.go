package payment

import (
	"sync"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// RefundCall фиксирует параметры одного вызова возврата.
type RefundCall struct {
	SessionID   string
	AmountMinor int64
}

// MockGateway — конфигурируемая заглушка платёжного шлюза для тестов и
// локальных запусков без реального провайдера.
type MockGateway struct {
	mu        sync.Mutex
	RefundErr error
	calls     []RefundCall
}

// NewMockGateway возвращает mock с успешными возвратами по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// Refund возвращает настроенный результат и запоминает вызов.
func (m *MockGateway) Refund(sessionID string, amountMinor int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, RefundCall{SessionID: sessionID, AmountMinor: amountMinor})
	return m.RefundErr
}

// RefundCalls возвращает зафиксированные вызовы возврата.
func (m *MockGateway) RefundCalls() []RefundCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]RefundCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

var _ domain.PaymentGateway = (*MockGateway)(nil)

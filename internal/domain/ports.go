package domain

import "time"

// Notifier отправляет покупателю подтверждение оплаты. Вызов best-effort:
// ошибка логируется и никогда не откатывает изменение состояния заказа.
type Notifier interface {
	SendPaymentConfirmation(orderID string) error
}

// PaymentGateway — граница платёжного провайдера, видимая ядру.
// Используется как cash-back callback при отклонении подтверждённого платежа.
type PaymentGateway interface {
	// Refund возвращает средства по сессии шлюза.
	Refund(sessionID string, amountMinor int64) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

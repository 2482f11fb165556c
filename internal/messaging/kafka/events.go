package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// EventType определяет тип события.
type EventType string

const (
	// События жизненного цикла заказа
	EventTypeOrderCreated  EventType = "order.created"
	EventTypeOrderPaid     EventType = "order.paid"
	EventTypeOrderCanceled EventType = "order.canceled"
	EventTypeStockReleased EventType = "stock.released"

	// События уведомлений
	EventTypePaymentConfirmation EventType = "notification.payment_confirmation"
)

// Topics для Kafka
const (
	// TopicOrderEvents — события жизненного цикла заказов (из transactional outbox).
	TopicOrderEvents = "shopcore.order.events"
	// TopicPaymentCallbacks — входящие callbacks платёжного шлюза.
	TopicPaymentCallbacks = "shopcore.payment.callbacks"
	// TopicNotifications — письма покупателям; потребляется почтовым сервисом.
	TopicNotifications = "shopcore.notifications"
	// TopicDeadLetterQueue — dead letter queue для необработанных сообщений.
	TopicDeadLetterQueue = "shopcore.dlq"
)

// Kafka headers для retry-логики consumer-а.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие жизненного цикла заказа.
type OrderEvent struct {
	EventType   EventType `json:"event_type"`
	OrderID     string    `json:"order_id"`
	Status      string    `json:"status"`
	AmountMinor int64     `json:"amount_minor,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewOrderEvent создаёт событие заказа с текущей отметкой времени.
func NewOrderEvent(eventType EventType, orderID, status string, amountMinor int64, metadata map[string]any) *OrderEvent {
	return &OrderEvent{
		EventType:   eventType,
		OrderID:     orderID,
		Status:      status,
		AmountMinor: amountMinor,
		Timestamp:   time.Now().UTC(),
		Metadata:    metadata,
	}
}

// NotificationEvent — задание почтовому сервису.
type NotificationEvent struct {
	EventType EventType `json:"event_type"`
	OrderID   string    `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
}

// GatewayCallbackMessage — callback платёжного шлюза, каким он приходит в topic.
type GatewayCallbackMessage struct {
	SessionID   string          `json:"session_id"`
	OrderID     string          `json:"order_id"`
	AmountMinor int64           `json:"amount_minor"`
	Currency    string          `json:"currency"`
	Approved    bool            `json:"approved"`
	Processor   string          `json:"processor"`
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
}

// ParseGatewayCallback парсит callback шлюза из Kafka-сообщения.
func ParseGatewayCallback(message *sarama.ConsumerMessage) (*GatewayCallbackMessage, error) {
	var callback GatewayCallbackMessage
	if err := json.Unmarshal(message.Value, &callback); err != nil {
		return nil, fmt.Errorf("unmarshal gateway callback: %w", err)
	}
	return &callback, nil
}

// ParseOrderEvent парсит событие заказа из Kafka-сообщения.
func ParseOrderEvent(message *sarama.ConsumerMessage) (*OrderEvent, error) {
	var event OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal order event: %w", err)
	}
	return &event, nil
}

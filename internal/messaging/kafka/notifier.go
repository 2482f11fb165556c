package kafka

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// TopicNotifier отправляет уведомления покупателям через Kafka.
// Фактическая доставка писем — забота почтового сервиса, потребляющего topic.
type TopicNotifier struct {
	producer *Producer
	topic    string
}

// NewNotifier создаёт Kafka-нотификатор.
func NewNotifier(producer *Producer, topic string) domain.Notifier {
	if topic == "" {
		topic = TopicNotifications
	}
	return &TopicNotifier{
		producer: producer,
		topic:    topic,
	}
}

// SendPaymentConfirmation публикует задание на письмо-подтверждение оплаты.
func (n *TopicNotifier) SendPaymentConfirmation(orderID string) error {
	if n == nil || n.producer == nil {
		return fmt.Errorf("kafka notifier is not initialized")
	}

	event := NotificationEvent{
		EventType: EventTypePaymentConfirmation,
		OrderID:   orderID,
		Timestamp: time.Now().UTC(),
	}

	return n.producer.PublishEvent(n.topic, orderID, event)
}

var _ domain.Notifier = (*TopicNotifier)(nil)

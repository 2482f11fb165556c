package payment

import (
	"context"
	"errors"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
)

// ConsumerHandler адаптирует Reconciler к Kafka consumer-у: разбирает
// callback шлюза и отдаёт его на reconciliation.
//
// Ошибки отклонения (state machine, несуществующий заказ) не возвращаются
// consumer-у: они терминальны для сообщения, retry их не исправит, а refund
// уже выполнен. В retry и DLQ уходят только инфраструктурные ошибки.
func ConsumerHandler(reconciler *Reconciler) kafka.MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		callback, err := kafka.ParseGatewayCallback(message)
		if err != nil {
			return err
		}

		_, err = reconciler.Process(ctx, Callback{
			SessionID:   callback.SessionID,
			OrderID:     callback.OrderID,
			AmountMinor: callback.AmountMinor,
			Currency:    callback.Currency,
			Approved:    callback.Approved,
			Processor:   callback.Processor,
			RawResponse: callback.RawResponse,
		})
		if err != nil && !isTerminal(err) {
			return err
		}
		return nil
	}
}

func isTerminal(err error) bool {
	return domain.IsValidationError(err) ||
		domain.IsStateMachineError(err) ||
		isRefundable(err) ||
		errors.Is(err, domain.ErrPaymentNotFromGateway) ||
		errors.Is(err, domain.ErrPaymentNotApproved)
}

package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
)

// Callback — одно уведомление платёжного шлюза, уже разобранное транспортом.
type Callback struct {
	SessionID   string
	OrderID     string
	AmountMinor int64
	Currency    string
	Approved    bool
	Processor   string
	RawResponse []byte
}

// Outcome — исход обработки callback-а.
type Outcome string

const (
	// OutcomeAccepted — оплата принята, заказ переведён в ожидание отгрузки.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeDuplicate — callback с этой сессией уже обработан; no-op.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeRejected — callback отклонён; причина в сопутствующей ошибке.
	OutcomeRejected Outcome = "rejected"
)

// Result несёт исход reconciliation вместе с фактом возврата средств.
// Возврат — наблюдаемый побочный эффект: каждая ошибка отклонения, кроме
// «платёж не подтверждён», сопровождается уже выполненным refund-ом.
type Result struct {
	Outcome      Outcome
	OrderID      string
	RefundIssued bool
}

// Reconciler — идемпотентный обработчик callback-ов платёжного шлюза.
type Reconciler struct {
	tx         domain.TxManager
	paymentLog domain.PaymentLogRepository
	gateway    domain.PaymentGateway
	notifier   domain.Notifier
	timeline   domain.TimelineRepository
	logger     *log.Entry
	metrics    *metrics.OrderMetrics
	now        func() time.Time
}

// ReconcilerOptions задаёт параметры обработчика.
type ReconcilerOptions struct {
	Notifier domain.Notifier
	Timeline domain.TimelineRepository
	Logger   *log.Entry
	Metrics  *metrics.OrderMetrics
	Now      func() time.Time
}

// ReconcilerOption настраивает Reconciler.
type ReconcilerOption func(*ReconcilerOptions)

// WithNotifier задаёт отправку подтверждений оплаты.
func WithNotifier(notifier domain.Notifier) ReconcilerOption {
	return func(opts *ReconcilerOptions) {
		opts.Notifier = notifier
	}
}

// WithTimeline задаёт журнал событий заказа.
func WithTimeline(timeline domain.TimelineRepository) ReconcilerOption {
	return func(opts *ReconcilerOptions) {
		opts.Timeline = timeline
	}
}

// WithLogger задаёт logger обработчика.
func WithLogger(logger *log.Entry) ReconcilerOption {
	return func(opts *ReconcilerOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики обработчика.
func WithMetrics(m *metrics.OrderMetrics) ReconcilerOption {
	return func(opts *ReconcilerOptions) {
		opts.Metrics = m
	}
}

// WithClock задаёт источник времени (для тестов).
func WithClock(now func() time.Time) ReconcilerOption {
	return func(opts *ReconcilerOptions) {
		opts.Now = now
	}
}

// NewReconciler создаёт обработчик callback-ов шлюза.
func NewReconciler(
	tx domain.TxManager,
	paymentLog domain.PaymentLogRepository,
	gateway domain.PaymentGateway,
	options ...ReconcilerOption,
) *Reconciler {
	opts := ReconcilerOptions{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "payment-reconciler")
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}

	return &Reconciler{
		tx:         tx,
		paymentLog: paymentLog,
		gateway:    gateway,
		notifier:   opts.Notifier,
		timeline:   opts.Timeline,
		logger:     logger,
		metrics:    opts.Metrics,
		now:        nowFn,
	}
}

// Process обрабатывает один callback шлюза. Повтор с той же сессией — no-op:
// журнал транзакций закрывает гонку двух retry уникальностью session id.
func (r *Reconciler) Process(ctx context.Context, callback Callback) (Result, error) {
	start := r.now()
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordReconcileDuration(r.now().Sub(start))
		}
	}()

	if callback.SessionID == "" {
		return r.reject(callback, false, domain.ErrPaymentNotFromGateway)
	}

	exists, err := r.paymentLog.ExistsBySession(callback.SessionID)
	if err != nil {
		return Result{Outcome: OutcomeRejected, OrderID: callback.OrderID},
			fmt.Errorf("check gateway session: %w", err)
	}
	if exists {
		r.recordOutcome(OutcomeDuplicate)
		r.logger.WithFields(log.Fields{
			"session_id": callback.SessionID,
			"order_id":   callback.OrderID,
		}).Info("gateway callback already processed, skipping")
		return Result{Outcome: OutcomeDuplicate, OrderID: callback.OrderID}, nil
	}

	// Входящая транзакция пишется в журнал до любых решений: журнал — это
	// audit trail, а не ворота. Дубликат на вставке означает, что гонку
	// выиграл конкурентный retry, и обработка сворачивается в no-op.
	if err := r.appendLog(callback, domain.TransactionTypePayment, start); err != nil {
		if errors.Is(err, domain.ErrDuplicateGatewaySession) {
			r.recordOutcome(OutcomeDuplicate)
			return Result{Outcome: OutcomeDuplicate, OrderID: callback.OrderID}, nil
		}
		return Result{Outcome: OutcomeRejected, OrderID: callback.OrderID}, err
	}

	if !callback.Approved {
		// Ничего не резервировалось под эту попытку — возврат не нужен.
		return r.reject(callback, false, fmt.Errorf("%w: session %s",
			domain.ErrPaymentNotApproved, callback.SessionID))
	}

	reason := r.applyPayment(ctx, callback, start)
	if reason != nil {
		if isRefundable(reason) {
			return r.refundAndReject(callback, start, reason)
		}
		return r.reject(callback, false, reason)
	}

	r.recordOutcome(OutcomeAccepted)
	r.notifyConfirmation(callback.OrderID)
	r.appendTimeline(callback.OrderID, "payment_reconciled", string(OutcomeAccepted), start)
	r.logger.WithFields(log.Fields{
		"order_id":     callback.OrderID,
		"session_id":   callback.SessionID,
		"amount_minor": callback.AmountMinor,
	}).Info("payment reconciled")

	return Result{Outcome: OutcomeAccepted, OrderID: callback.OrderID}, nil
}

// applyPayment переводит заказ в оплаченное состояние одной транзакцией.
// Возвращаемая ошибка классифицирует причину отказа.
func (r *Reconciler) applyPayment(ctx context.Context, callback Callback, now time.Time) error {
	return r.tx.RunInTransaction(ctx, func(stores domain.Stores) error {
		order, err := stores.Orders.Get(callback.OrderID)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrInvalidOrder, callback.OrderID)
			}
			return err
		}

		// Отменённый или возвращённый заказ уже не принимает оплату;
		// подтверждённый платёж по нему обязан уйти обратно возвратом.
		if order.Status == domain.OrderStatusCanceled || order.Status == domain.OrderStatusReturned {
			return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidOrder, order.ID, order.Status)
		}
		if order.Payment.Status == domain.PaymentStatusPaid {
			return fmt.Errorf("%w: %s", domain.ErrPaymentAlreadyMade, order.ID)
		}
		// Get уже переклассифицировал протухший PENDING в EXPIRED.
		if order.Payment.Status == domain.PaymentStatusExpired ||
			(!order.Payment.Deadline.IsZero() && order.Payment.Deadline.Before(now)) {
			return fmt.Errorf("%w: %s", domain.ErrPaymentDeadlineExceeded, order.ID)
		}

		if err := order.MarkPaid(now); err != nil {
			return err
		}
		if err := stores.Orders.Save(order); err != nil {
			return err
		}

		return enqueuePaidEvent(stores.Outbox, order)
	})
}

// isRefundable: отклонение подтверждённого платежа, под который шлюз уже
// удержал средства, обязано сопровождаться возвратом.
func isRefundable(err error) bool {
	return errors.Is(err, domain.ErrInvalidOrder) ||
		errors.Is(err, domain.ErrPaymentAlreadyMade) ||
		errors.Is(err, domain.ErrPaymentDeadlineExceeded)
}

func (r *Reconciler) refundAndReject(callback Callback, now time.Time, reason error) (Result, error) {
	if err := r.gateway.Refund(callback.SessionID, callback.AmountMinor); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"session_id": callback.SessionID,
			"order_id":   callback.OrderID,
		}).Error("refund failed")
		return Result{Outcome: OutcomeRejected, OrderID: callback.OrderID},
			errors.Join(reason, fmt.Errorf("refund session %s: %w", callback.SessionID, err))
	}

	if err := r.appendLog(callback, domain.TransactionTypeRefund, now); err != nil {
		r.logger.WithError(err).WithField("session_id", callback.SessionID).
			Error("refund transaction log append failed")
	}

	if r.metrics != nil {
		r.metrics.RecordRefundIssued()
	}
	r.recordOutcome(OutcomeRejected)
	r.appendTimeline(callback.OrderID, "payment_refunded", reason.Error(), now)
	r.logger.WithFields(log.Fields{
		"session_id":   callback.SessionID,
		"order_id":     callback.OrderID,
		"amount_minor": callback.AmountMinor,
	}).Warn("approved payment refunded")

	return Result{Outcome: OutcomeRejected, OrderID: callback.OrderID, RefundIssued: true}, reason
}

func (r *Reconciler) reject(callback Callback, refunded bool, reason error) (Result, error) {
	r.recordOutcome(OutcomeRejected)
	r.logger.WithError(reason).WithFields(log.Fields{
		"session_id": callback.SessionID,
		"order_id":   callback.OrderID,
	}).Warn("gateway callback rejected")
	return Result{Outcome: OutcomeRejected, OrderID: callback.OrderID, RefundIssued: refunded}, reason
}

// appendLog добавляет строку в журнал транзакций. Строка возврата не несёт
// session id: уникальность сессии принадлежит исходному платежу.
func (r *Reconciler) appendLog(callback Callback, txnType domain.TransactionType, now time.Time) error {
	sessionID := callback.SessionID
	if txnType == domain.TransactionTypeRefund {
		sessionID = ""
	}

	status := domain.TransactionStatusApproved
	if !callback.Approved {
		status = domain.TransactionStatusDeclined
	}

	txn := domain.PaymentTransaction{
		ID:               uuid.NewString(),
		OrderID:          callback.OrderID,
		AmountMinor:      callback.AmountMinor,
		Currency:         callback.Currency,
		Type:             txnType,
		Status:           status,
		Processor:        callback.Processor,
		GatewaySessionID: sessionID,
		RawResponse:      callback.RawResponse,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if errs := txn.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	return r.paymentLog.Create(txn)
}

func (r *Reconciler) notifyConfirmation(orderID string) {
	if r.notifier == nil {
		return
	}
	// Best-effort: письмо не откатывает уже зафиксированную оплату.
	if err := r.notifier.SendPaymentConfirmation(orderID); err != nil {
		r.logger.WithError(err).WithField("order_id", orderID).
			Warn("payment confirmation notification failed")
	}
}

func (r *Reconciler) appendTimeline(orderID, eventType, reason string, now time.Time) {
	if r.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: now,
	}
	if err := r.timeline.Append(event); err != nil {
		r.logger.WithError(err).WithField("order_id", orderID).Warn("timeline append failed")
	}
}

func (r *Reconciler) recordOutcome(outcome Outcome) {
	if r.metrics != nil {
		r.metrics.RecordCallback(string(outcome))
	}
}

func enqueuePaidEvent(outbox domain.OutboxRepository, order domain.Order) error {
	if outbox == nil {
		return nil
	}

	event := kafka.NewOrderEvent(kafka.EventTypeOrderPaid, order.ID, string(order.Status),
		order.TotalAmountMinor(), nil)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal paid event: %w", err)
	}

	_, err = outbox.Enqueue(domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(kafka.EventTypeOrderPaid),
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("enqueue paid event: %w", err)
	}
	return nil
}

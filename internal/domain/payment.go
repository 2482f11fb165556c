package domain

import "time"

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	// PaymentStatusInPaymentGateway — покупатель находится на стороне платёжного шлюза.
	PaymentStatusInPaymentGateway PaymentStatus = "in_payment_gateway"
	// PaymentStatusPending — оплата ожидается (например, заказ оформлен админом вручную).
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid — оплата подтверждена.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusExpired — срок оплаты истёк, заказ подлежит чистке.
	PaymentStatusExpired PaymentStatus = "expired"
	// PaymentStatusRefunded — средства возвращены покупателю.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Valid проверяет, что статус оплаты относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusInPaymentGateway, PaymentStatusPending, PaymentStatusPaid,
		PaymentStatusExpired, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// PaymentStatuses перечисляет все статусы оплаты (для exhaustive-тестов).
func PaymentStatuses() []PaymentStatus {
	return []PaymentStatus{
		PaymentStatusInPaymentGateway,
		PaymentStatusPending,
		PaymentStatusPaid,
		PaymentStatusExpired,
		PaymentStatusRefunded,
	}
}

// PaymentInfo — платёжные данные заказа. PaidAt присутствует тогда и только
// тогда, когда оплата в статусе PAID или REFUNDED.
type PaymentInfo struct {
	Status   PaymentStatus
	Deadline time.Time
	PaidAt   *time.Time
}

func (p PaymentInfo) validatePaidAt() error {
	requiresPaidAt := p.Status == PaymentStatusPaid || p.Status == PaymentStatusRefunded
	if requiresPaidAt != (p.PaidAt != nil) {
		return ErrPaymentAtRequired
	}
	return nil
}

// TransactionType различает платёж и возврат в журнале транзакций.
type TransactionType string

const (
	TransactionTypePayment TransactionType = "payment"
	TransactionTypeRefund  TransactionType = "refund"
)

// TransactionStatus — статус транзакции, каким его сообщил шлюз.
type TransactionStatus string

const (
	TransactionStatusApproved TransactionStatus = "approved"
	TransactionStatusDeclined TransactionStatus = "declined"
	TransactionStatusCanceled TransactionStatus = "canceled"
	TransactionStatusPending  TransactionStatus = "pending"
)

// PaymentTransaction — запись журнала транзакций шлюза. Журнал append-only:
// запись никогда не изменяется, возврат — это новая строка, а не правка платежа.
type PaymentTransaction struct {
	ID               string
	OrderID          string
	AmountMinor      int64
	Currency         string
	Type             TransactionType
	Status           TransactionStatus
	Processor        string
	GatewaySessionID string // Пустой для транзакций, созданных вне шлюза.
	RawResponse      []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate проверяет корректность полей транзакции.
func (t *PaymentTransaction) Validate() []error {
	var errs []error

	if t.OrderID == "" {
		errs = append(errs, ErrTransactionOrderRequired)
	}
	if t.AmountMinor < 0 {
		errs = append(errs, ErrTransactionAmountNegative)
	}
	switch t.Type {
	case TransactionTypePayment, TransactionTypeRefund:
	default:
		errs = append(errs, ErrTransactionTypeInvalid)
	}

	return errs
}

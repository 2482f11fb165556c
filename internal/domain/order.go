package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderStatus описывает жизненный цикл заказа в магазине.
type OrderStatus string

const (
	// OrderStatusWaitingForPayment — заказ создан, ждём подтверждения оплаты.
	OrderStatusWaitingForPayment OrderStatus = "waiting_for_payment"
	// OrderStatusWaitingForShipment — оплата получена, заказ ждёт отгрузки.
	OrderStatusWaitingForShipment OrderStatus = "waiting_for_shipment"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCanceled — заказ отменён; терминальный статус.
	OrderStatusCanceled OrderStatus = "canceled"
	// OrderStatusDelivered — заказ доставлен покупателю.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusReturned — заказ возвращён после доставки; терминальный статус.
	OrderStatusReturned OrderStatus = "returned"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusWaitingForPayment, OrderStatusWaitingForShipment,
		OrderStatusShipped, OrderStatusCanceled, OrderStatusDelivered, OrderStatusReturned:
		return true
	default:
		return false
	}
}

// OrderStatuses перечисляет все статусы заказа (для exhaustive-тестов и справочников).
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusWaitingForPayment,
		OrderStatusWaitingForShipment,
		OrderStatusShipped,
		OrderStatusCanceled,
		OrderStatusDelivered,
		OrderStatusReturned,
	}
}

// statusTransitions — граф допустимых переходов между статусами.
// Переход в самого себя разрешён всегда и в граф не включается.
var statusTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusWaitingForPayment: {
		OrderStatusWaitingForShipment: true,
		OrderStatusCanceled:           true,
	},
	OrderStatusWaitingForShipment: {
		OrderStatusShipped:  true,
		OrderStatusCanceled: true,
	},
	OrderStatusShipped: {
		OrderStatusDelivered: true,
	},
	OrderStatusDelivered: {
		OrderStatusReturned: true,
	},
	OrderStatusCanceled: {},
	OrderStatusReturned: {},
}

// CanTransition сообщает, разрешён ли переход from → to.
func CanTransition(from, to OrderStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	return statusTransitions[from][to]
}

// allowedPaymentStatuses — таблица совместимости статуса заказа и статуса оплаты.
var allowedPaymentStatuses = map[OrderStatus]map[PaymentStatus]bool{
	OrderStatusWaitingForPayment: {
		PaymentStatusPending:          true,
		PaymentStatusInPaymentGateway: true,
		PaymentStatusExpired:          true,
	},
	OrderStatusWaitingForShipment: {PaymentStatusPaid: true},
	OrderStatusShipped:            {PaymentStatusPaid: true},
	OrderStatusDelivered:          {PaymentStatusPaid: true},
	OrderStatusCanceled:           {PaymentStatusRefunded: true},
	OrderStatusReturned:           {PaymentStatusRefunded: true},
}

// PaymentStatusAllowed проверяет пару (статус заказа, статус оплаты) по таблице совместимости.
func PaymentStatusAllowed(status OrderStatus, payment PaymentStatus) bool {
	return allowedPaymentStatuses[status][payment]
}

// Creator различает, кем был создан заказ.
type Creator string

const (
	CreatorAdmin Creator = "admin"
	CreatorGuest Creator = "guest"
)

// CreatorDetails фиксирует автора заказа. Гостевые заказы не несут CreatorID,
// админские — несут всегда.
type CreatorDetails struct {
	Creator   Creator
	CreatorID string
}

// Customer — покупатель заказа.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// ShippingAddress — адрес доставки заказа.
type ShippingAddress struct {
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// SizeQuantity — количество единиц конкретного размера в позиции заказа.
type SizeQuantity struct {
	Size     string
	Quantity int32
}

// OrderVariant — запрошенный вариант (расцветка) товара с разбивкой по размерам.
type OrderVariant struct {
	VariantID string
	Sizes     []SizeQuantity
}

// OrderProduct — позиция заказа. Цена фиксируется в момент создания заказа
// и больше никогда не сверяется с актуальной ценой каталога.
type OrderProduct struct {
	ProductID      string
	UnitPriceMinor int64
	Variants       []OrderVariant
}

// Order — агрегат заказа. Все мутации проходят через методы, которые
// проверяют граф переходов и таблицу совместимости статусов.
type Order struct {
	ID              string
	Status          OrderStatus
	Payment         PaymentInfo
	Customer        Customer
	ShippingAddress ShippingAddress
	Products        []OrderProduct
	Creator         CreatorDetails
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewOrder собирает агрегат, переклассифицирует просроченную оплату и
// проверяет все инварианты. Возвращает ошибку, если пара статусов
// не проходит таблицу совместимости.
func NewOrder(
	id string,
	status OrderStatus,
	payment PaymentInfo,
	customer Customer,
	shipping ShippingAddress,
	products []OrderProduct,
	creator CreatorDetails,
	now time.Time,
) (Order, error) {
	if id == "" {
		id = uuid.NewString()
	}
	order := Order{
		ID:              id,
		Status:          status,
		Payment:         payment,
		Customer:        customer,
		ShippingAddress: shipping,
		Products:        products,
		Creator:         creator,
		Version:         0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.RefreshPaymentExpiry(now)

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return Order{}, errors.Join(errs...)
	}
	return order, nil
}

// RefreshPaymentExpiry лениво переклассифицирует просроченную оплату:
// PENDING или IN_PAYMENT_GATEWAY с истёкшим дедлайном становится EXPIRED.
// Вызывается при конструировании и при загрузке из хранилища, чтобы
// протухший PENDING никогда не наблюдался снаружи.
func (o *Order) RefreshPaymentExpiry(now time.Time) {
	switch o.Payment.Status {
	case PaymentStatusPending, PaymentStatusInPaymentGateway:
		if !o.Payment.Deadline.IsZero() && o.Payment.Deadline.Before(now) {
			o.Payment.Status = PaymentStatusExpired
		}
	}
}

// ValidateInvariants проверяет инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if _, err := uuid.Parse(o.ID); err != nil {
		errs = append(errs, ErrInvalidOrderID)
	}
	if strings.TrimSpace(o.Customer.Name) == "" || strings.TrimSpace(o.Customer.Email) == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if strings.TrimSpace(o.ShippingAddress.Line1) == "" ||
		strings.TrimSpace(o.ShippingAddress.City) == "" ||
		strings.TrimSpace(o.ShippingAddress.Country) == "" {
		errs = append(errs, ErrShippingAddressRequired)
	}

	switch o.Creator.Creator {
	case CreatorAdmin:
		if o.Creator.CreatorID == "" {
			errs = append(errs, ErrCreatorIDRequired)
		}
	case CreatorGuest:
		if o.Creator.CreatorID != "" {
			errs = append(errs, ErrGuestHasCreatorID)
		}
	default:
		errs = append(errs, fmt.Errorf("unknown order creator %q", o.Creator.Creator))
	}

	for _, product := range o.Products {
		if product.UnitPriceMinor < 0 {
			errs = append(errs, fmt.Errorf("%w: product %s", ErrInvalidUnitPrice, product.ProductID))
		}
		for _, variant := range product.Variants {
			for _, size := range variant.Sizes {
				if size.Quantity <= 0 {
					errs = append(errs, fmt.Errorf("%w: product %s variant %s size %s",
						ErrInvalidQuantity, product.ProductID, variant.VariantID, size.Size))
				}
			}
		}
	}

	if err := o.checkPaymentCompatibility(); err != nil {
		errs = append(errs, err)
	}
	if err := o.Payment.validatePaidAt(); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func (o *Order) checkPaymentCompatibility() error {
	if !PaymentStatusAllowed(o.Status, o.Payment.Status) {
		return fmt.Errorf("%w: status %s, payment status %s",
			ErrPaymentStatusIncompatible, o.Status, o.Payment.Status)
	}
	return nil
}

// statusAllows* — допустимые статусы для мутации каждой группы полей.
func statusAllowsContactEdit(s OrderStatus) bool {
	return s == OrderStatusWaitingForPayment || s == OrderStatusWaitingForShipment
}

func statusAllowsPaymentEdit(s OrderStatus) bool {
	return s == OrderStatusWaitingForPayment
}

// ChangeStatus выполняет переход по графу и перепроверяет совместимость
// со статусом оплаты. Переход, делающий пару несовместимой, отклоняется.
func (o *Order) ChangeStatus(to OrderStatus, now time.Time) error {
	return o.ApplyChanges(OrderChanges{Status: &to}, now)
}

// UpdateCustomer меняет покупателя; разрешено только до отгрузки заказа.
func (o *Order) UpdateCustomer(customer Customer, now time.Time) error {
	return o.ApplyChanges(OrderChanges{Customer: &customer}, now)
}

// UpdateShippingAddress меняет адрес доставки; разрешено только до отгрузки.
func (o *Order) UpdateShippingAddress(address ShippingAddress, now time.Time) error {
	return o.ApplyChanges(OrderChanges{ShippingAddress: &address}, now)
}

// UpdatePaymentInfo меняет платёжные данные; разрешено только в ожидании оплаты.
func (o *Order) UpdatePaymentInfo(payment PaymentInfo, now time.Time) error {
	return o.ApplyChanges(OrderChanges{Payment: &payment}, now)
}

// ReplaceProducts заменяет состав заказа; разрешено только в ожидании оплаты.
func (o *Order) ReplaceProducts(products []OrderProduct, now time.Time) error {
	return o.ApplyChanges(OrderChanges{Products: products}, now)
}

// OrderChanges — частичная мутация заказа. nil-поле означает «не трогать».
type OrderChanges struct {
	Status          *OrderStatus
	Customer        *Customer
	ShippingAddress *ShippingAddress
	Payment         *PaymentInfo
	Products        []OrderProduct
}

// Empty сообщает, несут ли изменения хоть одно поле.
func (c OrderChanges) Empty() bool {
	return c.Status == nil && c.Customer == nil && c.ShippingAddress == nil &&
		c.Payment == nil && c.Products == nil
}

// ApplyChanges применяет частичную мутацию атомарно: допустимость правок
// проверяется против текущего статуса, переход — по графу, итоговая пара
// статусов — по таблице совместимости. При любой ошибке агрегат не меняется.
func (o *Order) ApplyChanges(changes OrderChanges, now time.Time) error {
	if changes.Empty() {
		return nil
	}

	next := *o

	if changes.Customer != nil {
		if !statusAllowsContactEdit(o.Status) {
			return fmt.Errorf("%w: %s", ErrCustomerNotEditable, o.Status)
		}
		next.Customer = *changes.Customer
	}
	if changes.ShippingAddress != nil {
		if !statusAllowsContactEdit(o.Status) {
			return fmt.Errorf("%w: %s", ErrShippingNotEditable, o.Status)
		}
		next.ShippingAddress = *changes.ShippingAddress
	}
	if changes.Payment != nil {
		if !statusAllowsPaymentEdit(o.Status) {
			return fmt.Errorf("%w: %s", ErrPaymentInfoNotEditable, o.Status)
		}
		next.Payment = *changes.Payment
	}
	if changes.Products != nil {
		if !statusAllowsPaymentEdit(o.Status) {
			return fmt.Errorf("%w: %s", ErrProductsNotEditable, o.Status)
		}
		next.Products = changes.Products
	}
	if changes.Status != nil {
		if !CanTransition(o.Status, *changes.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, o.Status, *changes.Status)
		}
		next.Status = *changes.Status
	}

	if errs := next.ValidateInvariants(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	next.UpdatedAt = now
	*o = next
	return nil
}

// MarkPaid фиксирует успешную оплату: заказ переходит в ожидание отгрузки
// со статусом оплаты PAID и отметкой времени платежа.
func (o *Order) MarkPaid(paidAt time.Time) error {
	status := OrderStatusWaitingForShipment
	payment := PaymentInfo{
		Status:   PaymentStatusPaid,
		Deadline: o.Payment.Deadline,
		PaidAt:   &paidAt,
	}
	return o.ApplyChanges(OrderChanges{Status: &status, Payment: &payment}, paidAt)
}

// TotalAmountMinor возвращает сумму заказа в минимальных денежных единицах.
func (o *Order) TotalAmountMinor() int64 {
	var total int64
	for _, product := range o.Products {
		var qty int64
		for _, variant := range product.Variants {
			for _, size := range variant.Sizes {
				qty += int64(size.Quantity)
			}
		}
		total += qty * product.UnitPriceMinor
	}
	return total
}

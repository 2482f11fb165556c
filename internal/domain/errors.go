package domain

import "errors"

var (
	// Ошибки валидации входных данных заказа.
	// ErrInvalidProduct — товар из запроса не найден в каталоге.
	ErrInvalidProduct = errors.New("product does not exist")
	// ErrInvalidVariant — у товара нет запрошенного варианта (расцветки).
	ErrInvalidVariant = errors.New("variant does not exist for product")
	// ErrSizeNotAvailable — у варианта нет запрошенного размера.
	ErrSizeNotAvailable = errors.New("size is not available for variant")
	// ErrNotEnoughStock — остаток размера меньше запрошенного количества.
	ErrNotEnoughStock = errors.New("not enough stock for variant size")
	// ErrInvalidCreator — указанный создатель заказа не найден среди админов.
	ErrInvalidCreator = errors.New("order creator does not exist")
	// ErrInvalidQuantity — количество должно быть строго положительным.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrInvalidUnitPrice — цена позиции не может быть отрицательной.
	ErrInvalidUnitPrice = errors.New("unit price must be non-negative")
	// ErrInvalidOrderID — идентификатор заказа не является валидным UUID.
	ErrInvalidOrderID = errors.New("order id must be a valid uuid")
	// ErrCustomerRequired — у заказа должен быть заполнен покупатель.
	ErrCustomerRequired = errors.New("customer name and email are required")
	// ErrShippingAddressRequired — адрес доставки обязателен.
	ErrShippingAddressRequired = errors.New("shipping address is required")
	// ErrCreatorIDRequired — админский заказ всегда несёт идентификатор создателя.
	ErrCreatorIDRequired = errors.New("admin-created order requires creator id")
	// ErrGuestHasCreatorID — гостевой заказ не может нести идентификатор создателя.
	ErrGuestHasCreatorID = errors.New("guest order must not carry creator id")
	// ErrPaymentAtRequired — paymentAt присутствует только для PAID/REFUNDED.
	ErrPaymentAtRequired = errors.New("payment timestamp must be set exactly for paid or refunded orders")

	// Ошибки state machine заказа.
	// ErrInvalidStatusTransition — переход между статусами не входит в граф переходов.
	ErrInvalidStatusTransition = errors.New("order status transition is not allowed")
	// ErrPaymentStatusIncompatible — пара (статус заказа, статус оплаты) вне таблицы совместимости.
	ErrPaymentStatusIncompatible = errors.New("payment status is not allowed for order status")
	// ErrCustomerNotEditable — покупателя можно менять только до отправки заказа.
	ErrCustomerNotEditable = errors.New("customer cannot be updated for order status")
	// ErrShippingNotEditable — адрес можно менять только до отправки заказа.
	ErrShippingNotEditable = errors.New("shipping address cannot be updated for order status")
	// ErrPaymentInfoNotEditable — платёжные данные можно менять только в ожидании оплаты.
	ErrPaymentInfoNotEditable = errors.New("payment info cannot be updated for order status")
	// ErrProductsNotEditable — состав заказа можно менять только в ожидании оплаты.
	ErrProductsNotEditable = errors.New("order products cannot be updated for order status")

	// Ошибки reconciliation платёжного шлюза.
	// ErrPaymentNotFromGateway — callback без идентификатора сессии шлюза.
	ErrPaymentNotFromGateway = errors.New("payment callback carries no gateway session id")
	// ErrPaymentNotApproved — транзакция не является подтверждённым платежом.
	ErrPaymentNotApproved = errors.New("payment transaction is not approved")
	// ErrInvalidOrder — заказ, на который ссылается платёж, не найден.
	ErrInvalidOrder = errors.New("order referenced by payment does not exist")
	// ErrPaymentAlreadyMade — заказ уже оплачен.
	ErrPaymentAlreadyMade = errors.New("order is already paid")
	// ErrPaymentDeadlineExceeded — срок оплаты заказа истёк.
	ErrPaymentDeadlineExceeded = errors.New("payment deadline has passed")

	// Ошибки журнала транзакций.
	// ErrTransactionAmountNegative — сумма транзакции не может быть отрицательной.
	ErrTransactionAmountNegative = errors.New("transaction amount must be non-negative")
	// ErrTransactionTypeInvalid — неизвестный тип транзакции.
	ErrTransactionTypeInvalid = errors.New("transaction type must be payment or refund")
	// ErrTransactionOrderRequired — транзакция всегда ссылается на заказ.
	ErrTransactionOrderRequired = errors.New("transaction order id is required")

	// Ошибки хранилища.
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении заказа.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrProductVersionConflict — конкурентное изменение остатков того же товара.
	ErrProductVersionConflict = errors.New("product version conflict")
	// ErrDuplicateGatewaySession — транзакция с таким session id уже записана в журнал.
	ErrDuplicateGatewaySession = errors.New("gateway session already recorded")
	// ErrDuplicateProductUpdater — один товар передан на сохранение дважды.
	ErrDuplicateProductUpdater = errors.New("duplicate product updater in batch")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsValidationError сообщает, относится ли ошибка к валидации входных данных
// (восстановимая ошибка вызывающей стороны, на границе отображается в 4xx).
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidProduct) ||
		errors.Is(err, ErrInvalidVariant) ||
		errors.Is(err, ErrSizeNotAvailable) ||
		errors.Is(err, ErrNotEnoughStock) ||
		errors.Is(err, ErrInvalidCreator) ||
		errors.Is(err, ErrInvalidQuantity)
}

// IsStateMachineError сообщает, что вызывающая сторона попыталась выполнить
// недопустимую мутацию заказа. Такие ошибки никогда не исправляются автоматически.
func IsStateMachineError(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrPaymentStatusIncompatible) ||
		errors.Is(err, ErrCustomerNotEditable) ||
		errors.Is(err, ErrShippingNotEditable) ||
		errors.Is(err, ErrPaymentInfoNotEditable) ||
		errors.Is(err, ErrProductsNotEditable)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) || errors.Is(err, ErrProductVersionConflict)
}

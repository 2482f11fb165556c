package domain

import "context"

// OrderFilter — явные критерии выборки заказов. nil-поле означает «без фильтра».
type OrderFilter struct {
	Status        *OrderStatus
	PaymentStatus *PaymentStatus
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	// Просроченная оплата переклассифицируется в EXPIRED при загрузке.
	Get(id string) (Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
	// Delete удаляет заказы по идентификаторам (batch).
	Delete(ids ...string) error
	// List возвращает заказы, проходящие фильтр. Фильтр по статусу оплаты
	// применяется после ленивой переклассификации просроченных заказов.
	List(filter OrderFilter) ([]Order, error)
}

// ProductRepository описывает batch-доступ к остаткам товаров.
type ProductRepository interface {
	// FindMany возвращает updater-ы для найденных товаров. Ненайденные
	// идентификаторы молча опускаются — это контракт, а не ошибка.
	FindMany(productIDs []string) ([]*ProductUpdater, error)
	// Persist сохраняет мутированные updater-ы целиком. Дубликат товара в
	// батче — ErrDuplicateProductUpdater; конкурентное изменение остатков —
	// ErrProductVersionConflict.
	Persist(updaters []*ProductUpdater) error
}

// PaymentLogRepository — durable append-only журнал транзакций шлюза.
type PaymentLogRepository interface {
	// ExistsBySession сообщает, была ли уже записана транзакция с таким
	// gateway session id (idempotency gate).
	ExistsBySession(sessionID string) (bool, error)
	// Create добавляет транзакцию в журнал. Повтор session id —
	// ErrDuplicateGatewaySession (uniqueness закрывает гонку двух retry).
	Create(txn PaymentTransaction) error
	// ListByOrder возвращает транзакции заказа в порядке добавления.
	ListByOrder(orderID string) ([]PaymentTransaction, error)
}

// AdminRepository проверяет существование админа-создателя заказа.
type AdminRepository interface {
	Exists(adminID string) (bool, error)
}

// Stores — репозитории, привязанные к одной транзакции.
type Stores struct {
	Orders   OrderRepository
	Products ProductRepository
	Outbox   OutboxRepository
}

// TxManager исполняет единицу работы атомарно: либо фиксируются все записи,
// сделанные через scoped-репозитории, либо ни одна.
type TxManager interface {
	RunInTransaction(ctx context.Context, fn func(stores Stores) error) error
}

package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
)

const defaultPaymentTimeout = 30 * time.Minute

// SizeRequest — запрошенное количество одного размера.
type SizeRequest struct {
	Size     string
	Quantity int32
}

// VariantRequest — запрошенный вариант товара с разбивкой по размерам.
type VariantRequest struct {
	VariantID string
	Sizes     []SizeRequest
}

// ProductRequest — одна позиция корзины.
type ProductRequest struct {
	ProductID string
	Variants  []VariantRequest
}

// GuestCreation — заказ, оформленный покупателем через витрину. Статус и
// платёжные данные не принимаются на вход: гость всегда попадает в
// WAITING_FOR_PAYMENT / IN_PAYMENT_GATEWAY с дедлайном от конфигурации.
type GuestCreation struct {
	Customer        domain.Customer
	ShippingAddress domain.ShippingAddress
	Products        []ProductRequest
}

// AdminCreation — заказ, оформленный админом вручную. Статус и платёжные
// данные задаются явно и проходят таблицу совместимости; создатель обязан
// существовать.
type AdminCreation struct {
	Customer        domain.Customer
	ShippingAddress domain.ShippingAddress
	Products        []ProductRequest
	Status          domain.OrderStatus
	Payment         domain.PaymentInfo
	CreatorID       string
}

// Service реализует операции жизненного цикла заказов: создание,
// частичное обновление и чистку просроченных заказов.
type Service struct {
	tx             domain.TxManager
	admins         domain.AdminRepository
	timeline       domain.TimelineRepository
	logger         *log.Entry
	metrics        *metrics.OrderMetrics
	paymentTimeout time.Duration
	now            func() time.Time
}

// Options задаёт параметры сервиса заказов.
type Options struct {
	Logger         *log.Entry
	Metrics        *metrics.OrderMetrics
	PaymentTimeout time.Duration
	Timeline       domain.TimelineRepository
	Now            func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики сервиса.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithPaymentTimeout задаёт срок оплаты гостевого заказа.
func WithPaymentTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.PaymentTimeout = timeout
	}
}

// WithTimeline задаёт журнал событий заказа.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(opts *Options) {
		opts.Timeline = timeline
	}
}

// WithClock задаёт источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// NewService создаёт сервис заказов.
func NewService(tx domain.TxManager, admins domain.AdminRepository, options ...Option) *Service {
	opts := Options{
		PaymentTimeout: defaultPaymentTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "order-service")
	}
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = defaultPaymentTimeout
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		tx:             tx,
		admins:         admins,
		timeline:       opts.Timeline,
		logger:         logger,
		metrics:        opts.Metrics,
		paymentTimeout: opts.PaymentTimeout,
		now:            nowFn,
	}
}

// CreateGuestOrder оформляет гостевой заказ: статус и платёжные данные
// назначаются сервисом, резерв остатков и запись заказа фиксируются одной
// транзакцией.
func (s *Service) CreateGuestOrder(ctx context.Context, req GuestCreation) (domain.Order, error) {
	now := s.now()
	payment := domain.PaymentInfo{
		Status:   domain.PaymentStatusInPaymentGateway,
		Deadline: now.Add(s.paymentTimeout),
	}
	creator := domain.CreatorDetails{Creator: domain.CreatorGuest}

	order, err := s.create(ctx, req.Customer, req.ShippingAddress, req.Products,
		domain.OrderStatusWaitingForPayment, payment, creator, now)
	if err != nil {
		s.recordFailure("create", err)
		return domain.Order{}, err
	}

	s.afterCreate(order, now)
	return order, nil
}

// CreateAdminOrder оформляет заказ вручную от имени админа. Статус и
// платёжные данные берутся из запроса; если целевой статус CANCELED,
// остатки не резервируются.
func (s *Service) CreateAdminOrder(ctx context.Context, req AdminCreation) (domain.Order, error) {
	exists, err := s.admins.Exists(req.CreatorID)
	if err != nil {
		s.recordFailure("create", err)
		return domain.Order{}, fmt.Errorf("check order creator: %w", err)
	}
	if !exists {
		s.recordFailure("create", domain.ErrInvalidCreator)
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrInvalidCreator, req.CreatorID)
	}

	now := s.now()
	creator := domain.CreatorDetails{Creator: domain.CreatorAdmin, CreatorID: req.CreatorID}

	order, err := s.create(ctx, req.Customer, req.ShippingAddress, req.Products,
		req.Status, req.Payment, creator, now)
	if err != nil {
		s.recordFailure("create", err)
		return domain.Order{}, err
	}

	s.afterCreate(order, now)
	return order, nil
}

func (s *Service) create(
	ctx context.Context,
	customer domain.Customer,
	shipping domain.ShippingAddress,
	requested []ProductRequest,
	status domain.OrderStatus,
	payment domain.PaymentInfo,
	creator domain.CreatorDetails,
	now time.Time,
) (domain.Order, error) {
	var created domain.Order

	err := s.tx.RunInTransaction(ctx, func(stores domain.Stores) error {
		updaters, err := resolveProducts(stores.Products, productIDs(requested))
		if err != nil {
			return err
		}

		// Резерв не выполняется для заказов, создаваемых сразу отменёнными.
		reserve := status != domain.OrderStatusCanceled

		lines, mutated, err := buildOrderLines(requested, updaters, reserve)
		if err != nil {
			return err
		}

		order, err := domain.NewOrder(uuid.NewString(), status, payment, customer, shipping, lines, creator, now)
		if err != nil {
			return err
		}

		if err := stores.Orders.Create(order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if len(mutated) > 0 {
			if err := stores.Products.Persist(mutated); err != nil {
				return fmt.Errorf("persist stock: %w", err)
			}
		}

		if err := enqueueOrderEvent(stores.Outbox, kafka.EventTypeOrderCreated, order, nil); err != nil {
			return err
		}

		created = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return created, nil
}

// productIDs возвращает идентификаторы товаров запроса в исходном порядке без дубликатов.
func productIDs(requested []ProductRequest) []string {
	seen := make(map[string]bool, len(requested))
	ids := make([]string, 0, len(requested))
	for _, product := range requested {
		if seen[product.ProductID] {
			continue
		}
		seen[product.ProductID] = true
		ids = append(ids, product.ProductID)
	}
	return ids
}

// resolveProducts выполняет batch-выборку updater-ов. Ненайденные товары
// опускаются молча и не попадают в карту.
func resolveProducts(products domain.ProductRepository, ids []string) (map[string]*domain.ProductUpdater, error) {
	if len(ids) == 0 {
		return map[string]*domain.ProductUpdater{}, nil
	}
	updaters, err := products.FindMany(ids)
	if err != nil {
		return nil, fmt.Errorf("resolve products: %w", err)
	}
	byID := make(map[string]*domain.ProductUpdater, len(updaters))
	for _, updater := range updaters {
		byID[updater.ProductID] = updater
	}
	return byID, nil
}

// buildOrderLines валидирует каждую запрошенную позицию против updater-ов и,
// если reserve=true, списывает остатки в памяти. Товары без updater-а
// пропускаются: так ведёт себя витрина при гонке с удалением товара из
// каталога. Возвращает строки заказа и мутированные updater-ы.
func buildOrderLines(
	requested []ProductRequest,
	updaters map[string]*domain.ProductUpdater,
	reserve bool,
) ([]domain.OrderProduct, []*domain.ProductUpdater, error) {
	lines := make([]domain.OrderProduct, 0, len(requested))
	mutated := make([]*domain.ProductUpdater, 0, len(requested))
	mutatedSeen := make(map[string]bool, len(requested))

	for _, product := range requested {
		updater, ok := updaters[product.ProductID]
		if !ok {
			continue
		}

		variants := make([]domain.OrderVariant, 0, len(product.Variants))
		for _, variant := range product.Variants {
			if !updater.HasVariant(variant.VariantID) {
				return nil, nil, fmt.Errorf("%w: product %s variant %s",
					domain.ErrInvalidVariant, product.ProductID, variant.VariantID)
			}

			sizes := make([]domain.SizeQuantity, 0, len(variant.Sizes))
			for _, size := range variant.Sizes {
				if !updater.HasSizeForVariant(variant.VariantID, size.Size) {
					return nil, nil, fmt.Errorf("%w: product %s variant %s size %s",
						domain.ErrSizeNotAvailable, product.ProductID, variant.VariantID, size.Size)
				}
				if reserve {
					if err := updater.SubtractStock(variant.VariantID, size.Size, size.Quantity); err != nil {
						return nil, nil, err
					}
					if !mutatedSeen[updater.ProductID] {
						mutatedSeen[updater.ProductID] = true
						mutated = append(mutated, updater)
					}
				} else if size.Quantity <= 0 {
					return nil, nil, fmt.Errorf("%w: product %s variant %s size %s",
						domain.ErrInvalidQuantity, product.ProductID, variant.VariantID, size.Size)
				}
				sizes = append(sizes, domain.SizeQuantity{Size: size.Size, Quantity: size.Quantity})
			}
			variants = append(variants, domain.OrderVariant{VariantID: variant.VariantID, Sizes: sizes})
		}

		lines = append(lines, domain.OrderProduct{
			ProductID:      product.ProductID,
			UnitPriceMinor: updater.UnitPriceMinor,
			Variants:       variants,
		})
	}

	return lines, mutated, nil
}

// UpdatePartialOrder применяет частичную мутацию к заказу. Если итоговый
// статус CANCELED, остатки по всем позициям заказа возвращаются в той же
// транзакции, что и запись заказа.
func (s *Service) UpdatePartialOrder(ctx context.Context, orderID string, changes domain.OrderChanges) (domain.Order, error) {
	now := s.now()

	// Состав заказа фиксируется при создании: частичное обновление не
	// пересчитывает резерв остатков, поэтому замена позиций здесь запрещена.
	if changes.Products != nil {
		err := fmt.Errorf("%w: order lines are fixed at creation", domain.ErrProductsNotEditable)
		s.recordFailure("update", err)
		return domain.Order{}, err
	}

	var updated domain.Order
	var canceled bool

	err := s.tx.RunInTransaction(ctx, func(stores domain.Stores) error {
		order, err := stores.Orders.Get(orderID)
		if err != nil {
			return err
		}

		wasCanceled := order.Status == domain.OrderStatusCanceled
		if err := order.ApplyChanges(changes, now); err != nil {
			return err
		}
		canceled = !wasCanceled && order.Status == domain.OrderStatusCanceled

		if canceled {
			if err := restoreOrderStock(stores.Products, order); err != nil {
				return err
			}
		}

		if err := stores.Orders.Save(order); err != nil {
			return err
		}

		if canceled {
			if err := enqueueOrderEvent(stores.Outbox, kafka.EventTypeOrderCanceled, order, nil); err != nil {
				return err
			}
		}

		updated = order
		return nil
	})
	if err != nil {
		s.recordFailure("update", err)
		return domain.Order{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordOrderUpdated()
		if canceled {
			s.metrics.RecordOrderCanceled()
		}
	}
	s.appendTimeline(updated.ID, "order_updated", string(updated.Status), now)
	s.logger.WithFields(log.Fields{
		"order_id": updated.ID,
		"status":   updated.Status,
	}).Info("order updated")

	return updated, nil
}

// restoreOrderStock возвращает остатки по всем позициям заказа. Товар,
// на который ссылается заказ, обязан разрешаться: его отсутствие — нарушение
// целостности данных, а не ошибка вызывающей стороны.
func restoreOrderStock(products domain.ProductRepository, order domain.Order) error {
	ids := make([]string, 0, len(order.Products))
	for _, line := range order.Products {
		ids = append(ids, line.ProductID)
	}
	updaters, err := resolveProducts(products, ids)
	if err != nil {
		return err
	}

	mutated := make([]*domain.ProductUpdater, 0, len(order.Products))
	for _, line := range order.Products {
		updater, ok := updaters[line.ProductID]
		if !ok {
			return fmt.Errorf("%w: product %s referenced by order %s",
				domain.ErrInvalidProduct, line.ProductID, order.ID)
		}
		for _, variant := range line.Variants {
			for _, size := range variant.Sizes {
				if err := updater.AddStock(variant.VariantID, size.Size, size.Quantity); err != nil {
					return err
				}
			}
		}
		mutated = append(mutated, updater)
	}

	if len(mutated) == 0 {
		return nil
	}
	if err := products.Persist(mutated); err != nil {
		return fmt.Errorf("persist restored stock: %w", err)
	}
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := s.tx.RunInTransaction(ctx, func(stores domain.Stores) error {
		var err error
		order, err = stores.Orders.Get(orderID)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ListOrders возвращает заказы, проходящие фильтр.
func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.tx.RunInTransaction(ctx, func(stores domain.Stores) error {
		var err error
		orders, err = stores.Orders.List(filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Service) afterCreate(order domain.Order, now time.Time) {
	if s.metrics != nil {
		s.metrics.RecordOrderCreated(string(order.Creator.Creator))
		s.metrics.RecordCreateDuration(s.now().Sub(now))
	}
	s.appendTimeline(order.ID, "order_created", string(order.Status), now)
	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"status":       order.Status,
		"creator":      order.Creator.Creator,
		"amount_minor": order.TotalAmountMinor(),
	}).Info("order created")
}

func (s *Service) appendTimeline(orderID, eventType, reason string, now time.Time) {
	if s.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: now,
	}
	if err := s.timeline.Append(event); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("timeline append failed")
	}
}

func (s *Service) recordFailure(operation string, err error) {
	if s.metrics != nil {
		s.metrics.RecordOperationFailed(operation)
	}
	s.logger.WithError(err).WithField("operation", operation).Warn("order operation failed")
}

// enqueueOrderEvent кладёт событие жизненного цикла заказа в transactional
// outbox той же транзакцией, что и изменение состояния.
func enqueueOrderEvent(outbox domain.OutboxRepository, eventType kafka.EventType, order domain.Order, metadata map[string]any) error {
	if outbox == nil {
		return nil
	}

	event := kafka.NewOrderEvent(eventType, order.ID, string(order.Status), order.TotalAmountMinor(), metadata)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	_, err = outbox.Enqueue(domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("enqueue order event: %w", err)
	}
	return nil
}

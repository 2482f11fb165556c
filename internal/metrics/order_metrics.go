package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики ядра обработки заказов.
type OrderMetrics struct {
	// Счётчики операций с заказами
	ordersCreated  *prometheus.CounterVec
	ordersUpdated  prometheus.Counter
	ordersCanceled prometheus.Counter
	ordersFailed   *prometheus.CounterVec

	// Метрики reconciliation платёжного шлюза
	callbacksProcessed *prometheus.CounterVec
	refundsIssued      prometheus.Counter

	// Метрики чистки просроченных заказов
	stockReleasedUnits prometheus.Counter
	ordersSwept        prometheus.Counter

	// Гистограммы времени выполнения
	createDuration    prometheus.Histogram
	reconcileDuration prometheus.Histogram
}

// NewOrderMetrics создаёт метрики с регистрацией в default registerer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer создаёт метрики с явным registerer (для тестов).
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shopcore_orders_created_total",
			Help: "Total number of orders created grouped by creator kind",
		}, []string{"creator"}),
		ordersUpdated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_orders_updated_total",
			Help: "Total number of partial order updates applied",
		}),
		ordersCanceled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_orders_canceled_total",
			Help: "Total number of orders canceled with stock restored",
		}),
		ordersFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shopcore_order_operations_failed_total",
			Help: "Total number of failed order operations grouped by operation",
		}, []string{"operation"}),
		callbacksProcessed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shopcore_payment_callbacks_total",
			Help: "Total number of gateway callbacks grouped by outcome",
		}, []string{"outcome"}),
		refundsIssued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_payment_refunds_total",
			Help: "Total number of cash-back refunds issued by reconciliation",
		}),
		stockReleasedUnits: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_stock_released_units_total",
			Help: "Total number of stock units returned by the release sweep",
		}),
		ordersSwept: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_orders_swept_total",
			Help: "Total number of expired orders deleted by the release sweep",
		}),
		createDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "shopcore_order_create_duration_seconds",
			Help:    "Duration of order creation in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		reconcileDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "shopcore_payment_reconcile_duration_seconds",
			Help:    "Duration of gateway callback reconciliation in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated(creator string) {
	m.ordersCreated.WithLabelValues(creator).Inc()
}

// RecordOrderUpdated увеличивает счётчик применённых частичных обновлений.
func (m *OrderMetrics) RecordOrderUpdated() {
	m.ordersUpdated.Inc()
}

// RecordOrderCanceled увеличивает счётчик отменённых заказов.
func (m *OrderMetrics) RecordOrderCanceled() {
	m.ordersCanceled.Inc()
}

// RecordOperationFailed увеличивает счётчик неудачных операций.
func (m *OrderMetrics) RecordOperationFailed(operation string) {
	m.ordersFailed.WithLabelValues(operation).Inc()
}

// RecordCallback фиксирует исход обработки callback-а шлюза.
func (m *OrderMetrics) RecordCallback(outcome string) {
	m.callbacksProcessed.WithLabelValues(outcome).Inc()
}

// RecordRefundIssued увеличивает счётчик выданных cash-back возвратов.
func (m *OrderMetrics) RecordRefundIssued() {
	m.refundsIssued.Inc()
}

// RecordStockReleased добавляет единицы, возвращённые на остатки чисткой.
func (m *OrderMetrics) RecordStockReleased(units int64) {
	m.stockReleasedUnits.Add(float64(units))
}

// RecordOrdersSwept добавляет количество удалённых просроченных заказов.
func (m *OrderMetrics) RecordOrdersSwept(count int) {
	m.ordersSwept.Add(float64(count))
}

// RecordCreateDuration записывает время создания заказа.
func (m *OrderMetrics) RecordCreateDuration(duration time.Duration) {
	m.createDuration.Observe(duration.Seconds())
}

// RecordReconcileDuration записывает время обработки callback-а.
func (m *OrderMetrics) RecordReconcileDuration(duration time.Duration) {
	m.reconcileDuration.Observe(duration.Seconds())
}

package orders

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const defaultSweepInterval = 5 * time.Minute

var (
	stockSweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopcore_stock_sweep_runs_total",
		Help: "Total number of stock release sweep runs grouped by result.",
	}, []string{"result"})
	stockSweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopcore_stock_sweep_deleted_orders_total",
		Help: "Total number of expired orders deleted by the sweep.",
	})
	stockSweepLastReleased = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shopcore_stock_sweep_last_released_units",
		Help: "Number of stock units released during the last sweep run.",
	})
)

// SweepWorkerOptions задаёт параметры воркера чистки просроченных заказов.
type SweepWorkerOptions struct {
	Logger   *log.Entry
	Interval time.Duration
}

// SweepWorkerOption настраивает SweepWorker.
type SweepWorkerOption func(*SweepWorkerOptions)

// WithSweepLogger задаёт logger воркера.
func WithSweepLogger(logger *log.Entry) SweepWorkerOption {
	return func(opts *SweepWorkerOptions) {
		opts.Logger = logger
	}
}

// WithSweepInterval задаёт интервал между проходами чистки.
func WithSweepInterval(interval time.Duration) SweepWorkerOption {
	return func(opts *SweepWorkerOptions) {
		opts.Interval = interval
	}
}

// SweepWorker периодически запускает StockReleaseSweep.
type SweepWorker struct {
	service  *Service
	logger   *log.Entry
	interval time.Duration
}

// NewSweepWorker создаёт воркер чистки просроченных заказов.
func NewSweepWorker(service *Service, options ...SweepWorkerOption) *SweepWorker {
	opts := SweepWorkerOptions{
		Interval: defaultSweepInterval,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "stock-sweep-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}

	return &SweepWorker{
		service:  service,
		logger:   logger,
		interval: opts.Interval,
	}
}

// Run запускает периодическую чистку до отмены ctx.
func (w *SweepWorker) Run(ctx context.Context) {
	if w.service == nil {
		w.logger.Warn("stock sweep worker is disabled: service is nil")
		return
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	result, err := w.service.StockReleaseSweep(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		stockSweepRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("stock release sweep failed")
		return
	}

	stockSweepRunsTotal.WithLabelValues("ok").Inc()
	stockSweepDeletedTotal.Add(float64(result.OrdersDeleted))
	stockSweepLastReleased.Set(float64(result.UnitsReleased))
}

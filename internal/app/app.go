package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/shopcore/internal/health"
	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/service/orders"
	"github.com/vladislavdragonenkov/shopcore/internal/service/outbox"
	"github.com/vladislavdragonenkov/shopcore/internal/service/payment"
	"github.com/vladislavdragonenkov/shopcore/internal/version"
)

// Run собирает зависимости и запускает фоновые контуры приложения:
// чистку просроченных заказов, публикацию outbox-событий и consumer
// платёжных callback-ов. Блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	orderMetrics := metrics.NewOrderMetrics()

	// Kafka опционален: без брокеров события копятся в outbox,
	// а reconciliation доступен только через прямой вызов.
	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		producer = nil
	}

	orderService := orders.NewService(
		deps.Tx,
		deps.Admins,
		orders.WithLogger(logger.WithField("layer", "orders")),
		orders.WithMetrics(orderMetrics),
		orders.WithPaymentTimeout(cfg.PaymentTimeout),
		orders.WithTimeline(deps.Timeline),
	)

	reconcilerOpts := []payment.ReconcilerOption{
		payment.WithLogger(logger.WithField("layer", "payment")),
		payment.WithMetrics(orderMetrics),
		payment.WithTimeline(deps.Timeline),
	}
	if producer != nil {
		reconcilerOpts = append(reconcilerOpts,
			payment.WithNotifier(kafka.NewNotifier(producer, kafka.TopicNotifications)))
	}
	// NOTE: mock gateway выполняет возвраты локально; в production здесь
	// должен стоять клиент реального платёжного провайдера.
	reconciler := payment.NewReconciler(deps.Tx, deps.PaymentLog, payment.NewMockGateway(), reconcilerOpts...)

	var wg sync.WaitGroup

	sweepWorker := orders.NewSweepWorker(
		orderService,
		orders.WithSweepLogger(logger.WithField("worker", "stock-sweep")),
		orders.WithSweepInterval(cfg.SweepInterval),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweepWorker.Run(ctx)
	}()

	var consumer *kafka.Consumer
	if producer != nil {
		outboxWorker := outbox.NewWorker(
			deps.Outbox,
			kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
			outbox.WithLogger(logger.WithField("worker", "outbox")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			outboxWorker.Run(ctx)
		}()

		consumer, err = kafka.NewConsumerWithDLQ(
			cfg.KafkaBrokers,
			cfg.CallbackGroupID,
			[]string{kafka.TopicPaymentCallbacks},
			payment.ConsumerHandler(reconciler),
			producer,
			cfg.ConsumerMaxRetries,
		)
		if err != nil {
			logger.WithError(err).Warn("failed to create callback consumer, continuing without it")
			consumer = nil
		} else if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Warn("failed to start callback consumer")
			consumer = nil
		}
	}

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return deps.Ping(pingCtx)
	}))
	healthHandler.RegisterChecker("kafka", healthcheck.NewOptionalChecker("kafka", func() error {
		if producer == nil {
			return errors.New("kafka brokers unavailable, events buffered in outbox")
		}
		return nil
	}))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	<-ctx.Done()
	logger.Info("получен сигнал остановки, останавливаем фоновые контуры")

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop callback consumer")
		}
	}
	wg.Wait()

	shutdownHTTP(metricsSrv, logger)
	closeKafka(producer, logger)

	return ctx.Err()
}

// startMetricsServer запускает HTTP-обработчики /metrics и health checks.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}

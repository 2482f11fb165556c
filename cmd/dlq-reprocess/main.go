package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
)

// В shopcore.dlq попадают два вида записей: callback-и платёжного шлюза,
// исчерпавшие retry consumer-а, и события outbox, которые worker не смог
// опубликовать. Утилита разбирает оба вида, по умолчанию печатает отчёт
// (dry-run), а с -execute возвращает callback-и в их исходный topic и
// пересобирает конверты событий для shopcore.order.events.

const (
	defaultScanLimit   = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers        []string
	dlqTopic       string
	eventsTopic    string
	callbacksTopic string
	kind           string
	limit          int
	execute        bool
	fromNewest     bool
	idleTimeout    time.Duration
}

// recordKind — вид dead-letter записи.
type recordKind string

const (
	kindCallback recordKind = "callback"
	kindOutbox   recordKind = "outbox"
)

// deadCallback — запись consumer-а (Consumer.sendToDLQ): callback шлюза
// вместе с контекстом падения.
type deadCallback struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// deadOutboxEnvelope — внешний конверт outbox worker-а в DLQ.
type deadOutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// deadOutboxDetails — вложенный payload конверта (Worker.publishToDLQ).
type deadOutboxDetails struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt string          `json:"dlq_published_at"`
}

// replayEnvelope повторяет конверт OutboxTopicPublisher, чтобы переигранное
// событие выглядело для потребителей как обычная публикация из outbox.
type replayEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// replayCandidate — разобранная DLQ-запись, готовая к повторной публикации.
type replayCandidate struct {
	kind    recordKind
	topic   string
	key     string
	value   []byte
	orderID string
	detail  string
}

// scannedRecord — результат разбора одного сообщения партиции.
type scannedRecord struct {
	partition int32
	offset    int64
	candidate replayCandidate
	ok        bool
}

// replayReport — итог прохода по DLQ.
type replayReport struct {
	scanned   int
	callbacks int
	events    int
	skipped   int
	replayed  int
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Compression = sarama.CompressionSnappy
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: SHOPCORE_KAFKA_BROKERS)")
	flag.StringVar(&cfg.dlqTopic, "dlq-topic", kafka.TopicDeadLetterQueue, "dead letter topic to scan")
	flag.StringVar(&cfg.eventsTopic, "events-topic", kafka.TopicOrderEvents, "target topic for replayed outbox events")
	flag.StringVar(&cfg.callbacksTopic, "callbacks-topic", kafka.TopicPaymentCallbacks, "fallback topic for replayed gateway callbacks")
	flag.StringVar(&cfg.kind, "kind", "all", "record kind to replay: callback, outbox or all")
	flag.IntVar(&cfg.limit, "limit", defaultScanLimit, "max number of dlq records to scan")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest records first (bounded by limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("SHOPCORE_KAFKA_BROKERS")
	}

	cfg.brokers = splitBrokers(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or SHOPCORE_KAFKA_BROKERS)")
	}
	if strings.TrimSpace(cfg.dlqTopic) == "" {
		return config{}, fmt.Errorf("dlq-topic is required")
	}
	if strings.TrimSpace(cfg.eventsTopic) == "" {
		return config{}, fmt.Errorf("events-topic is required")
	}
	if strings.TrimSpace(cfg.callbacksTopic) == "" {
		return config{}, fmt.Errorf("callbacks-topic is required")
	}
	switch cfg.kind {
	case "all", string(kindCallback), string(kindOutbox):
	default:
		return config{}, fmt.Errorf("kind must be callback, outbox or all")
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func splitBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	report, err := runReplay(ctx, cfg, client, consumer, producer)
	if err != nil {
		return err
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"scanned":   report.scanned,
		"callbacks": report.callbacks,
		"events":    report.events,
		"replayed":  report.replayed,
		"skipped":   report.skipped,
	}).Info("dlq replay finished")

	return nil
}

// runReplay сначала собирает и разбирает записи со всех партиций в пределах
// лимита, затем публикует (или печатает) кандидатов одним проходом.
func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) (replayReport, error) {
	var report replayReport

	if client == nil || consumer == nil {
		return report, fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return report, fmt.Errorf("producer is required in execute mode")
	}

	log.WithFields(log.Fields{
		"dlq_topic":   cfg.dlqTopic,
		"kind":        cfg.kind,
		"limit":       cfg.limit,
		"execute":     cfg.execute,
		"from_newest": cfg.fromNewest,
	}).Info("starting dlq replay")

	partitions, err := client.Partitions(cfg.dlqTopic)
	if err != nil {
		return report, fmt.Errorf("get partitions for topic %s: %w", cfg.dlqTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.dlqTopic).Warn("dlq topic has no partitions")
		return report, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	records := make([]scannedRecord, 0, cfg.limit)
	for _, partition := range partitions {
		if len(records) >= cfg.limit {
			break
		}
		chunk, err := collectPartition(ctx, consumer, client, cfg, partition, cfg.limit-len(records))
		if err != nil {
			return report, err
		}
		records = append(records, chunk...)
	}

	report.scanned = len(records)
	for _, record := range records {
		if !record.ok || !kindSelected(cfg.kind, record.candidate.kind) {
			report.skipped++
			continue
		}

		switch record.candidate.kind {
		case kindCallback:
			report.callbacks++
		case kindOutbox:
			report.events++
		}

		if cfg.execute {
			if err := publishReplay(producer, record.candidate); err != nil {
				return report, fmt.Errorf("publish replay for offset %d: %w", record.offset, err)
			}
		} else {
			log.WithFields(log.Fields{
				"kind":         record.candidate.kind,
				"partition":    record.partition,
				"offset":       record.offset,
				"target_topic": record.candidate.topic,
				"order_id":     record.candidate.orderID,
				"detail":       record.candidate.detail,
			}).Info("dlq replay candidate")
		}
		report.replayed++
	}

	return report, nil
}

func kindSelected(selected string, kind recordKind) bool {
	return selected == "all" || selected == string(kind)
}

// collectPartition читает партицию до лимита, конца или idle-таймаута и
// разбирает каждое сообщение в кандидата на replay.
func collectPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	cfg config,
	partition int32,
	budget int,
) ([]scannedRecord, error) {
	if budget <= 0 {
		return nil, nil
	}

	oldest, err := client.GetOffset(cfg.dlqTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return nil, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.dlqTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return nil, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return nil, nil
	}

	startOffset := oldest
	if cfg.fromNewest {
		startOffset = newest - int64(budget)
		if startOffset < oldest {
			startOffset = oldest
		}
	}

	pc, err := consumer.ConsumePartition(cfg.dlqTopic, partition, startOffset)
	if err != nil {
		return nil, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	records := make([]scannedRecord, 0, budget)
	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for len(records) < budget {
		select {
		case <-ctx.Done():
			return records, ctx.Err()
		case consumerErr := <-pc.Errors():
			if consumerErr != nil {
				return records, fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return records, nil
			}

			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= newest {
				return records, nil
			}

			record := scannedRecord{partition: msg.Partition, offset: msg.Offset}
			candidate, err := classifyRecord(msg.Value, cfg)
			if err != nil {
				log.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip malformed dlq record")
			} else if candidate != nil {
				record.candidate = *candidate
				record.ok = true
			}
			records = append(records, record)

			if msg.Offset+1 >= newest {
				return records, nil
			}
		case <-idleTimer.C:
			return records, nil
		}
	}

	return records, nil
}

// classifyRecord распознаёт вид DLQ-записи. (nil, nil) означает незнакомый
// формат: запись пропускается без ошибки.
func classifyRecord(value []byte, cfg config) (*replayCandidate, error) {
	var callback deadCallback
	if err := json.Unmarshal(value, &callback); err == nil && callback.OriginalValue != "" {
		return classifyCallback(callback, cfg), nil
	}

	var envelope deadOutboxEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return nil, nil
	}
	if len(envelope.Payload) == 0 {
		return nil, nil
	}
	return classifyOutbox(envelope, cfg)
}

func classifyCallback(record deadCallback, cfg config) *replayCandidate {
	topic := strings.TrimSpace(record.OriginalTopic)
	if topic == "" {
		topic = cfg.callbacksTopic
	}

	candidate := &replayCandidate{
		kind:   kindCallback,
		topic:  topic,
		key:    record.OriginalKey,
		value:  []byte(record.OriginalValue),
		detail: fmt.Sprintf("retries=%d error=%s", record.RetryCount, record.ErrorMessage),
	}

	// Тело callback-а остаётся непрозрачным для replay; разбор нужен только
	// отчёту и ключу по session id, когда оригинальный ключ пуст.
	var parsed kafka.GatewayCallbackMessage
	if err := json.Unmarshal([]byte(record.OriginalValue), &parsed); err == nil {
		candidate.orderID = parsed.OrderID
		if candidate.key == "" {
			candidate.key = parsed.SessionID
		}
	}
	return candidate
}

func classifyOutbox(envelope deadOutboxEnvelope, cfg config) (*replayCandidate, error) {
	var details deadOutboxDetails
	if err := json.Unmarshal(envelope.Payload, &details); err != nil {
		return nil, fmt.Errorf("decode outbox dlq details: %w", err)
	}
	if len(details.Payload) == 0 {
		return nil, fmt.Errorf("outbox dlq record %s carries no original event payload", envelope.ID)
	}

	replay := replayEnvelope{
		ID:            firstNonEmpty(details.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(details.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(details.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(details.EventType, envelope.EventType),
		Payload:       details.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return nil, fmt.Errorf("encode replay envelope: %w", err)
	}

	key := replay.AggregateID
	if key == "" {
		key = replay.ID
	}

	candidate := &replayCandidate{
		kind:   kindOutbox,
		topic:  cfg.eventsTopic,
		key:    key,
		value:  encoded,
		detail: fmt.Sprintf("event=%s error=%s", replay.EventType, details.PublishError),
	}

	var event kafka.OrderEvent
	if err := json.Unmarshal(details.Payload, &event); err == nil {
		candidate.orderID = event.OrderID
	}
	return candidate, nil
}

func publishReplay(producer replayProducer, candidate replayCandidate) error {
	if producer == nil {
		return fmt.Errorf("producer is nil")
	}

	_, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic:     candidate.topic,
		Key:       sarama.StringEncoder(candidate.key),
		Value:     sarama.ByteEncoder(candidate.value),
		Timestamp: time.Now().UTC(),
	})
	return err
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

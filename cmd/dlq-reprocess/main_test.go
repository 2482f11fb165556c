package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
)

// deadCallbackRecord собирает DLQ-запись ровно в формате Consumer.sendToDLQ.
func deadCallbackRecord(t *testing.T, callback kafka.GatewayCallbackMessage, key string, retries int, errMsg string) []byte {
	t.Helper()

	body, err := json.Marshal(callback)
	if err != nil {
		t.Fatalf("marshal callback: %v", err)
	}

	raw, err := json.Marshal(map[string]any{
		"original_topic":     kafka.TopicPaymentCallbacks,
		"original_partition": int32(1),
		"original_offset":    int64(42),
		"original_key":       key,
		"original_value":     string(body),
		"error_message":      errMsg,
		"failed_at":          time.Now().UTC().Format(time.RFC3339),
		"retry_count":        retries,
	})
	if err != nil {
		t.Fatalf("marshal dlq record: %v", err)
	}
	return raw
}

// deadOutboxRecord собирает DLQ-запись ровно в формате Worker.publishToDLQ.
func deadOutboxRecord(t *testing.T, outboxID string, event kafka.OrderEvent, publishErr string) []byte {
	t.Helper()

	inner, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal order event: %v", err)
	}

	details, err := json.Marshal(map[string]any{
		"outbox_id":        outboxID,
		"aggregate_type":   "order",
		"aggregate_id":     event.OrderID,
		"event_type":       string(event.EventType),
		"payload":          json.RawMessage(inner),
		"publish_error":    publishErr,
		"dlq_published_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		t.Fatalf("marshal dlq details: %v", err)
	}

	raw, err := json.Marshal(map[string]any{
		"id":             outboxID,
		"aggregate_type": "order",
		"aggregate_id":   event.OrderID,
		"event_type":     string(event.EventType),
		"payload":        json.RawMessage(details),
		"published_at":   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal dlq envelope: %v", err)
	}
	return raw
}

func testConfig() config {
	return config{
		dlqTopic:       kafka.TopicDeadLetterQueue,
		eventsTopic:    kafka.TopicOrderEvents,
		callbacksTopic: kafka.TopicPaymentCallbacks,
		kind:           "all",
		limit:          10,
		idleTimeout:    20 * time.Millisecond,
	}
}

func TestSplitBrokers(t *testing.T) {
	brokers := splitBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 {
		t.Fatalf("unexpected brokers count: got=%d want=2", len(brokers))
	}
	if brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
}

func TestClassifyRecord_GatewayCallback(t *testing.T) {
	callback := kafka.GatewayCallbackMessage{
		SessionID:   "sess-77",
		OrderID:     "order-77",
		AmountMinor: 9980,
		Currency:    "RUB",
		Approved:    true,
		Processor:   "yookassa",
	}
	raw := deadCallbackRecord(t, callback, "sess-77", 3, "payment already made")

	candidate, err := classifyRecord(raw, testConfig())
	if err != nil {
		t.Fatalf("classifyRecord failed: %v", err)
	}
	if candidate == nil {
		t.Fatal("expected a replay candidate")
	}
	if candidate.kind != kindCallback {
		t.Fatalf("unexpected kind: %s", candidate.kind)
	}
	if candidate.topic != kafka.TopicPaymentCallbacks {
		t.Fatalf("unexpected topic: %s", candidate.topic)
	}
	if candidate.key != "sess-77" {
		t.Fatalf("unexpected key: %s", candidate.key)
	}
	if candidate.orderID != "order-77" {
		t.Fatalf("unexpected order id: %s", candidate.orderID)
	}

	// Тело callback-а переигрывается байт в байт.
	var replayed kafka.GatewayCallbackMessage
	if err := json.Unmarshal(candidate.value, &replayed); err != nil {
		t.Fatalf("replay value must stay a gateway callback: %v", err)
	}
	if replayed.SessionID != "sess-77" || replayed.AmountMinor != 9980 {
		t.Fatalf("replay callback mangled: %+v", replayed)
	}
}

func TestClassifyRecord_CallbackKeyFallsBackToSession(t *testing.T) {
	callback := kafka.GatewayCallbackMessage{SessionID: "sess-5", OrderID: "order-5"}
	raw := deadCallbackRecord(t, callback, "", 1, "boom")

	candidate, err := classifyRecord(raw, testConfig())
	if err != nil {
		t.Fatalf("classifyRecord failed: %v", err)
	}
	if candidate == nil || candidate.key != "sess-5" {
		t.Fatalf("expected session id as key, got %+v", candidate)
	}
}

func TestClassifyRecord_OutboxEvent(t *testing.T) {
	event := kafka.OrderEvent{
		EventType:   kafka.EventTypeOrderPaid,
		OrderID:     "order-9",
		Status:      "waiting_for_shipment",
		AmountMinor: 4990,
		Timestamp:   time.Now().UTC(),
	}
	raw := deadOutboxRecord(t, "outbox-9", event, "kafka: broker unavailable")

	candidate, err := classifyRecord(raw, testConfig())
	if err != nil {
		t.Fatalf("classifyRecord failed: %v", err)
	}
	if candidate == nil {
		t.Fatal("expected a replay candidate")
	}
	if candidate.kind != kindOutbox {
		t.Fatalf("unexpected kind: %s", candidate.kind)
	}
	if candidate.topic != kafka.TopicOrderEvents {
		t.Fatalf("unexpected topic: %s", candidate.topic)
	}
	if candidate.key != "order-9" {
		t.Fatalf("unexpected key: %s", candidate.key)
	}
	if candidate.orderID != "order-9" {
		t.Fatalf("unexpected order id: %s", candidate.orderID)
	}

	// Конверт пересобран в формат обычной публикации outbox: внутри снова
	// голое событие, без обёртки с publish_error.
	var envelope replayEnvelope
	if err := json.Unmarshal(candidate.value, &envelope); err != nil {
		t.Fatalf("decode replay envelope: %v", err)
	}
	if envelope.ID != "outbox-9" || envelope.EventType != string(kafka.EventTypeOrderPaid) {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if envelope.PublishedAt.IsZero() {
		t.Fatal("expected fresh published_at")
	}
	var replayedEvent kafka.OrderEvent
	if err := json.Unmarshal(envelope.Payload, &replayedEvent); err != nil {
		t.Fatalf("envelope payload must stay an order event: %v", err)
	}
	if replayedEvent.OrderID != "order-9" || replayedEvent.AmountMinor != 4990 {
		t.Fatalf("replay event mangled: %+v", replayedEvent)
	}
}

func TestClassifyRecord_OutboxMissingEventPayload(t *testing.T) {
	details, err := json.Marshal(map[string]any{
		"outbox_id":     "outbox-1",
		"event_type":    "order.paid",
		"publish_error": "timeout",
	})
	if err != nil {
		t.Fatalf("marshal details: %v", err)
	}
	raw, err := json.Marshal(map[string]any{
		"id":         "outbox-1",
		"event_type": "order.paid",
		"payload":    json.RawMessage(details),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	if _, err := classifyRecord(raw, testConfig()); err == nil {
		t.Fatal("expected error for missing original event payload")
	}
}

func TestClassifyRecord_UnknownFormat(t *testing.T) {
	candidate, err := classifyRecord([]byte(`{"foo":"bar"}`), testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if candidate != nil {
		t.Fatalf("expected unknown record to be skipped, got %+v", candidate)
	}
}

func TestReadConfig_FromFlags(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-dlq-topic=shopcore.dlq",
		"-events-topic=shopcore.order.events",
		"-callbacks-topic=shopcore.payment.callbacks",
		"-kind=outbox",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func() {
		cfg, err := readConfig()
		if err != nil {
			t.Fatalf("readConfig failed: %v", err)
		}
		if len(cfg.brokers) != 2 {
			t.Fatalf("unexpected brokers count: %d", len(cfg.brokers))
		}
		if cfg.kind != "outbox" {
			t.Fatalf("unexpected kind: %s", cfg.kind)
		}
		if cfg.limit != 10 {
			t.Fatalf("unexpected limit: %d", cfg.limit)
		}
		if !cfg.execute || !cfg.fromNewest {
			t.Fatalf("unexpected mode flags: %+v", cfg)
		}
		if cfg.idleTimeout.Seconds() != 3 {
			t.Fatalf("unexpected idle-timeout: %s", cfg.idleTimeout)
		}
	})
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"no brokers", []string{"-brokers="}, "kafka brokers are required"},
		{"empty dlq topic", []string{"-brokers=b:9092", "-dlq-topic="}, "dlq-topic is required"},
		{"empty events topic", []string{"-brokers=b:9092", "-events-topic="}, "events-topic is required"},
		{"empty callbacks topic", []string{"-brokers=b:9092", "-callbacks-topic="}, "callbacks-topic is required"},
		{"bad kind", []string{"-brokers=b:9092", "-kind=sagas"}, "kind must be"},
		{"bad limit", []string{"-brokers=b:9092", "-limit=0"}, "limit must be > 0"},
		{"bad idle timeout", []string{"-brokers=b:9092", "-idle-timeout=0s"}, "idle-timeout must be > 0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withFlagArgs(t, tc.args, func() {
				_, err := readConfig()
				if err == nil || !strings.Contains(err.Error(), tc.want) {
					t.Fatalf("expected error containing %q, got: %v", tc.want, err)
				}
			})
		})
	}
}

func TestPublishReplay(t *testing.T) {
	if err := publishReplay(nil, replayCandidate{}); err == nil {
		t.Fatal("expected error for nil producer")
	}

	producer := &stubReplayProducer{}
	candidate := replayCandidate{kind: kindCallback, topic: kafka.TopicPaymentCallbacks, key: "sess-1", value: []byte(`{"x":1}`)}
	if err := publishReplay(producer, candidate); err != nil {
		t.Fatalf("publishReplay failed: %v", err)
	}
	if len(producer.messages) != 1 || producer.messages[0].Topic != kafka.TopicPaymentCallbacks {
		t.Fatalf("unexpected produced messages: %+v", producer.messages)
	}

	producer.sendErr = errors.New("send failed")
	if err := publishReplay(producer, candidate); err == nil {
		t.Fatal("expected publishReplay error")
	}
}

func TestCollectPartition_ParsesBothKinds(t *testing.T) {
	cfg := testConfig()
	messages := []*sarama.ConsumerMessage{
		{Partition: 0, Offset: 0, Value: deadCallbackRecord(t, kafka.GatewayCallbackMessage{SessionID: "sess-1", OrderID: "order-1"}, "sess-1", 3, "boom")},
		{Partition: 0, Offset: 1, Value: deadOutboxRecord(t, "outbox-1", kafka.OrderEvent{EventType: kafka.EventTypeOrderCreated, OrderID: "order-2"}, "timeout")},
		{Partition: 0, Offset: 2, Value: []byte(`{"foo":"bar"}`)},
	}
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}}}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: drainedPartitionConsumer(messages)}}

	records, err := collectPartition(context.Background(), consumer, client, cfg, 0, 10)
	if err != nil {
		t.Fatalf("collectPartition failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if !records[0].ok || records[0].candidate.kind != kindCallback {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if !records[1].ok || records[1].candidate.kind != kindOutbox {
		t.Fatalf("unexpected second record: %+v", records[1])
	}
	if records[2].ok {
		t.Fatalf("expected unknown record to be marked skipped: %+v", records[2])
	}
}

func TestCollectPartition_BudgetAndOffsets(t *testing.T) {
	cfg := testConfig()
	messages := []*sarama.ConsumerMessage{
		{Partition: 0, Offset: 0, Value: deadCallbackRecord(t, kafka.GatewayCallbackMessage{SessionID: "sess-1"}, "sess-1", 1, "x")},
		{Partition: 0, Offset: 1, Value: deadCallbackRecord(t, kafka.GatewayCallbackMessage{SessionID: "sess-2"}, "sess-2", 1, "x")},
	}
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: drainedPartitionConsumer(messages)}}

	records, err := collectPartition(context.Background(), consumer, client, cfg, 0, 1)
	if err != nil {
		t.Fatalf("collectPartition failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected budget to cap records at 1, got %d", len(records))
	}

	// Пустая партиция не открывает consumer вовсе.
	emptyClient := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 5, newest: 5}}}
	emptyConsumer := &stubPartitionConsumerSource{}
	records, err = collectPartition(context.Background(), emptyConsumer, emptyClient, cfg, 0, 10)
	if err != nil {
		t.Fatalf("collectPartition failed on empty partition: %v", err)
	}
	if len(records) != 0 || len(emptyConsumer.calls) != 0 {
		t.Fatalf("expected no records and no consume calls, got %d/%d", len(records), len(emptyConsumer.calls))
	}
}

func TestCollectPartition_FromNewest(t *testing.T) {
	cfg := testConfig()
	cfg.fromNewest = true

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 10}}}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: drainedPartitionConsumer(nil)}}

	if _, err := collectPartition(context.Background(), consumer, client, cfg, 0, 3); err != nil {
		t.Fatalf("collectPartition failed: %v", err)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 7 {
		t.Fatalf("expected start offset newest-budget=7, got %+v", consumer.calls)
	}
}

func TestCollectPartition_ErrorBranches(t *testing.T) {
	cfg := testConfig()

	clientOffsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := collectPartition(context.Background(), &stubPartitionConsumerSource{}, clientOffsetErr, cfg, 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumerErr := &stubPartitionConsumerSource{consumeErr: errors.New("consume")}
	if _, err := collectPartition(context.Background(), consumerErr, client, cfg, 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	pcWithErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	pcWithErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	close(pcWithErr.errors)
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcWithErr}}
	if _, err := collectPartition(context.Background(), consumer, client, cfg, 0, 1); err == nil {
		t.Fatal("expected consumer error branch")
	}
	close(pcWithErr.messages)
}

func TestCollectPartition_IdleTimeoutAndContext(t *testing.T) {
	cfg := testConfig()
	cfg.idleTimeout = 10 * time.Millisecond
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}

	idlePC := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idlePC}}
	records, err := collectPartition(context.Background(), consumer, client, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected idle-timeout error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records on idle partition, got %d", len(records))
	}
	close(idlePC.messages)
	close(idlePC.errors)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	canceledPC := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	canceledConsumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: canceledPC}}
	if _, err := collectPartition(ctx, canceledConsumer, client, cfg, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	close(canceledPC.messages)
	close(canceledPC.errors)
}

func TestRunReplay_DryRunCountsKinds(t *testing.T) {
	cfg := testConfig()

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 3}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: drainedPartitionConsumer([]*sarama.ConsumerMessage{
				{Partition: 0, Offset: 0, Value: deadCallbackRecord(t, kafka.GatewayCallbackMessage{SessionID: "sess-1", OrderID: "order-1"}, "sess-1", 3, "boom")},
				{Partition: 0, Offset: 1, Value: deadOutboxRecord(t, "outbox-1", kafka.OrderEvent{EventType: kafka.EventTypeOrderPaid, OrderID: "order-2"}, "timeout")},
				{Partition: 0, Offset: 2, Value: []byte(`{"foo":"bar"}`)},
			}),
		},
	}

	report, err := runReplay(context.Background(), cfg, client, consumer, nil)
	if err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
	if report.scanned != 3 || report.callbacks != 1 || report.events != 1 || report.skipped != 1 || report.replayed != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestRunReplay_ExecutePublishesToOriginTopics(t *testing.T) {
	cfg := testConfig()
	cfg.execute = true

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: drainedPartitionConsumer([]*sarama.ConsumerMessage{
				{Partition: 0, Offset: 0, Value: deadCallbackRecord(t, kafka.GatewayCallbackMessage{SessionID: "sess-1", OrderID: "order-1"}, "sess-1", 3, "boom")},
				{Partition: 0, Offset: 1, Value: deadOutboxRecord(t, "outbox-1", kafka.OrderEvent{EventType: kafka.EventTypeOrderPaid, OrderID: "order-2"}, "timeout")},
			}),
		},
	}
	producer := &stubReplayProducer{}

	report, err := runReplay(context.Background(), cfg, client, consumer, producer)
	if err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
	if report.replayed != 2 {
		t.Fatalf("expected 2 replayed, got %+v", report)
	}
	if len(producer.messages) != 2 {
		t.Fatalf("expected 2 produced messages, got %d", len(producer.messages))
	}
	if producer.messages[0].Topic != kafka.TopicPaymentCallbacks {
		t.Fatalf("callback must return to the callbacks topic, got %s", producer.messages[0].Topic)
	}
	if producer.messages[1].Topic != kafka.TopicOrderEvents {
		t.Fatalf("outbox event must go to events topic, got %s", producer.messages[1].Topic)
	}
}

func TestRunReplay_KindFilter(t *testing.T) {
	cfg := testConfig()
	cfg.kind = string(kindOutbox)

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: drainedPartitionConsumer([]*sarama.ConsumerMessage{
				{Partition: 0, Offset: 0, Value: deadCallbackRecord(t, kafka.GatewayCallbackMessage{SessionID: "sess-1"}, "sess-1", 3, "boom")},
				{Partition: 0, Offset: 1, Value: deadOutboxRecord(t, "outbox-1", kafka.OrderEvent{EventType: kafka.EventTypeStockReleased, OrderID: "order-2"}, "timeout")},
			}),
		},
	}

	report, err := runReplay(context.Background(), cfg, client, consumer, nil)
	if err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
	if report.events != 1 || report.callbacks != 0 || report.skipped != 1 {
		t.Fatalf("expected only the outbox record selected, got %+v", report)
	}
}

func TestRunReplay_GuardsAndLimit(t *testing.T) {
	cfg := testConfig()
	cfg.limit = 1

	if _, err := runReplay(context.Background(), cfg, nil, nil, nil); err == nil {
		t.Fatal("expected missing deps error")
	}

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: drainedPartitionConsumer([]*sarama.ConsumerMessage{
				{Partition: 0, Offset: 0, Value: deadCallbackRecord(t, kafka.GatewayCallbackMessage{SessionID: "sess-1"}, "sess-1", 1, "x")},
			}),
			2: drainedPartitionConsumer([]*sarama.ConsumerMessage{
				{Partition: 2, Offset: 0, Value: deadCallbackRecord(t, kafka.GatewayCallbackMessage{SessionID: "sess-2"}, "sess-2", 1, "x")},
			}),
		},
	}

	report, err := runReplay(context.Background(), cfg, client, consumer, nil)
	if err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
	if report.scanned != 1 {
		t.Fatalf("expected limit to cap scan at 1, got %+v", report)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].partition != 0 {
		t.Fatalf("expected only first sorted partition consumed, got %+v", consumer.calls)
	}

	executeCfg := cfg
	executeCfg.execute = true
	if _, err := runReplay(context.Background(), executeCfg, client, consumer, nil); err == nil {
		t.Fatal("expected execute mode to require producer")
	}

	emptyClient := &stubOffsetClient{partitions: nil}
	if _, err := runReplay(context.Background(), cfg, emptyClient, consumer, nil); err != nil {
		t.Fatalf("expected nil error for empty partitions, got %v", err)
	}
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	cfg := testConfig()
	cfg.limit = 1

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 1}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: drainedPartitionConsumer([]*sarama.ConsumerMessage{
				{Partition: 0, Offset: 0, Value: deadCallbackRecord(t, kafka.GatewayCallbackMessage{SessionID: "sess-1"}, "sess-1", 1, "x")},
			}),
		},
	}
	producer := &stubReplayProducer{}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, producer, nil
	}
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !client.closed || !consumer.closed || !producer.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v producer=%v", client.closed, consumer.closed, producer.closed)
	}
}

func TestMain_SuccessWithStubbedDeps(t *testing.T) {
	oldDeps := newReplayDependencies
	oldArgs := os.Args
	oldCommandLine := flag.CommandLine
	defer func() {
		newReplayDependencies = oldDeps
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 1}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: drainedPartitionConsumer([]*sarama.ConsumerMessage{
				{Partition: 0, Offset: 0, Value: deadCallbackRecord(t, kafka.GatewayCallbackMessage{SessionID: "sess-1"}, "sess-1", 1, "x")},
			}),
		},
	}
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, nil, nil
	}

	os.Args = []string{"dlq-reprocess", "-brokers=broker:9092", "-limit=1", "-idle-timeout=50ms"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	main()
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	t.Setenv("SHOPCORE_KAFKA_BROKERS", "")

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"dlq-reprocess"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}

	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

type stubReplayProducer struct {
	sendErr  error
	messages []*sarama.ProducerMessage
	closed   bool
}

func (s *stubReplayProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	if s.sendErr != nil {
		return 0, 0, s.sendErr
	}
	s.messages = append(s.messages, msg)
	return msg.Partition, int64(len(s.messages)), nil
}

func (s *stubReplayProducer) Close() error {
	s.closed = true
	return nil
}

// drainedPartitionConsumer отдаёт заранее заготовленные сообщения и
// закрытые каналы: чтение завершается сразу после последнего сообщения.
func drainedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &stubPartitionConsumer{messages: msgCh, errors: errCh}
}

package postgres

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

func TestOutboxRepository_PostgresLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	msg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "6f1a2b3c-0005-4000-8000-000000000001",
		EventType:     "order.created",
		Payload:       []byte(`{"order_id":"6f1a2b3c-0005-4000-8000-000000000001"}`),
	})
	if err != nil {
		t.Fatalf("enqueue message: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected generated message id")
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != msg.ID {
		t.Fatalf("unexpected pending batch: %+v", pending)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("outbox stats: %v", err)
	}
	if stats.PendingCount != 1 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := repo.MarkSent(msg.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	pending, err = repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending after sent: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(pending))
	}

	if err := repo.MarkSent("6f1a2b3c-0005-4000-8000-00000000dead"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish for unknown id, got %v", err)
	}
}

func TestTimelineRepository_PostgresAppendAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewTimelineRepository(store)

	events := []domain.TimelineEvent{
		{OrderID: "order-tl-1", Type: "order_created"},
		{OrderID: "order-tl-1", Type: "payment_reconciled", Reason: "sess-tl-1"},
		{OrderID: "order-tl-2", Type: "order_created"},
	}
	for _, event := range events {
		if err := repo.Append(event); err != nil {
			t.Fatalf("append %s: %v", event.Type, err)
		}
	}

	got, err := repo.List("order-tl-1")
	if err != nil {
		t.Fatalf("list timeline: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != "order_created" || got[1].Reason != "sess-tl-1" {
		t.Fatalf("unexpected timeline order: %+v", got)
	}
	if got[0].Occurred.IsZero() {
		t.Fatal("expected occurred_at to be filled on append")
	}
}

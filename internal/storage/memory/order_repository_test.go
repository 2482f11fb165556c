package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/memory"
)

func newOrder(t *testing.T, deadline time.Time) domain.Order {
	t.Helper()
	now := time.Now().UTC()
	order, err := domain.NewOrder(
		uuid.NewString(),
		domain.OrderStatusWaitingForPayment,
		domain.PaymentInfo{Status: domain.PaymentStatusInPaymentGateway, Deadline: deadline},
		domain.Customer{Name: "Ivan Petrov", Email: "ivan@example.com"},
		domain.ShippingAddress{Line1: "Lenina 1", City: "Moscow", Country: "RU"},
		[]domain.OrderProduct{
			{
				ProductID:      "prod-1",
				UnitPriceMinor: 4990,
				Variants: []domain.OrderVariant{
					{VariantID: "var-1", Sizes: []domain.SizeQuantity{{Size: "40", Quantity: 1}}},
				},
			},
		},
		domain.CreatorDetails{Creator: domain.CreatorGuest},
		now,
	)
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	return order
}

func TestOrderRepository_CreateGet(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := newOrder(t, time.Now().UTC().Add(time.Hour))

	if err := repo.Create(order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	stored, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID || len(stored.Products) != 1 {
		t.Fatalf("unexpected stored order: %+v", stored)
	}

	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderRepository_GetReclassifiesExpired(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := newOrder(t, time.Now().UTC().Add(time.Hour))
	// Пишем заказ с дедлайном в прошлом напрямую, имитируя протухшую запись.
	order.Payment.Deadline = time.Now().UTC().Add(-time.Minute)
	if err := repo.Create(order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Payment.Status != domain.PaymentStatusExpired {
		t.Fatalf("expected expired on read, got %s", stored.Payment.Status)
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := newOrder(t, time.Now().UTC().Add(time.Hour))
	if err := repo.Create(order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.Save(order); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	// Повторное сохранение с устаревшей версией.
	if err := repo.Save(order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestOrderRepository_ListFilter(t *testing.T) {
	repo := memory.NewOrderRepository()
	expired := newOrder(t, time.Now().UTC().Add(time.Hour))
	expired.Payment.Deadline = time.Now().UTC().Add(-time.Minute)
	live := newOrder(t, time.Now().UTC().Add(time.Hour))

	if err := repo.Create(expired); err != nil {
		t.Fatalf("create expired: %v", err)
	}
	if err := repo.Create(live); err != nil {
		t.Fatalf("create live: %v", err)
	}

	status := domain.OrderStatusWaitingForPayment
	paymentStatus := domain.PaymentStatusExpired
	orders, err := repo.List(domain.OrderFilter{Status: &status, PaymentStatus: &paymentStatus})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != expired.ID {
		t.Fatalf("expected only the expired order, got %d", len(orders))
	}
}

func TestOrderRepository_Delete(t *testing.T) {
	repo := memory.NewOrderRepository()
	first := newOrder(t, time.Now().UTC().Add(time.Hour))
	second := newOrder(t, time.Now().UTC().Add(time.Hour))
	if err := repo.Create(first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(second); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.Delete(first.ID, second.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := repo.Get(first.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected first deleted, got %v", err)
	}
	if _, err := repo.Get(second.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected second deleted, got %v", err)
	}
}

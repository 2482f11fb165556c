package orders

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
)

// SweepResult — итог одного прохода чистки просроченных заказов.
type SweepResult struct {
	OrdersDeleted int
	UnitsReleased int64
}

// stockKey адресует один счётчик остатка: размер конкретного варианта товара.
type stockKey struct {
	ProductID string
	VariantID string
	Size      string
}

// stockAccumulator суммирует количества по счётчикам остатков в порядке
// первого появления. Два просроченных заказа, зарезервировавших один и тот же
// размер, дают один восстанавливающий вызов с суммарным количеством.
type stockAccumulator struct {
	order      []stockKey
	quantities map[stockKey]int32
}

func newStockAccumulator() *stockAccumulator {
	return &stockAccumulator{quantities: make(map[stockKey]int32)}
}

func (a *stockAccumulator) add(key stockKey, qty int32) {
	if _, ok := a.quantities[key]; !ok {
		a.order = append(a.order, key)
	}
	a.quantities[key] += qty
}

func (a *stockAccumulator) productIDs() []string {
	seen := make(map[string]bool, len(a.order))
	ids := make([]string, 0, len(a.order))
	for _, key := range a.order {
		if seen[key.ProductID] {
			continue
		}
		seen[key.ProductID] = true
		ids = append(ids, key.ProductID)
	}
	return ids
}

// StockReleaseSweep находит все заказы WAITING_FOR_PAYMENT с истёкшей оплатой,
// суммирует их резервы по счётчикам остатков, возвращает остатки одним
// восстановлением на счётчик и удаляет заказы — всё одной единицей работы.
func (s *Service) StockReleaseSweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	var result SweepResult

	err := s.tx.RunInTransaction(ctx, func(stores domain.Stores) error {
		// Выборка по статусу заказа: протухший PENDING переклассифицируется
		// в EXPIRED при загрузке, поэтому фильтр по статусу оплаты здесь
		// применяется уже после переклассификации.
		status := domain.OrderStatusWaitingForPayment
		candidates, err := stores.Orders.List(domain.OrderFilter{Status: &status})
		if err != nil {
			return fmt.Errorf("list orders for sweep: %w", err)
		}

		expired := make([]domain.Order, 0, len(candidates))
		for _, order := range candidates {
			if order.Payment.Status == domain.PaymentStatusExpired {
				expired = append(expired, order)
			}
		}
		if len(expired) == 0 {
			return nil
		}

		accumulator := newStockAccumulator()
		for _, order := range expired {
			for _, line := range order.Products {
				for _, variant := range line.Variants {
					for _, size := range variant.Sizes {
						accumulator.add(stockKey{
							ProductID: line.ProductID,
							VariantID: variant.VariantID,
							Size:      size.Size,
						}, size.Quantity)
					}
				}
			}
		}

		updaters, err := resolveProducts(stores.Products, accumulator.productIDs())
		if err != nil {
			return err
		}

		mutated := make([]*domain.ProductUpdater, 0, len(updaters))
		mutatedSeen := make(map[string]bool, len(updaters))
		for _, key := range accumulator.order {
			updater, ok := updaters[key.ProductID]
			if !ok {
				// Заказ ссылается на товар, которого больше нет, —
				// нарушение целостности данных, чистка прерывается.
				return fmt.Errorf("%w: product %s referenced by expired order",
					domain.ErrInvalidProduct, key.ProductID)
			}
			qty := accumulator.quantities[key]
			if err := updater.AddStock(key.VariantID, key.Size, qty); err != nil {
				return err
			}
			result.UnitsReleased += int64(qty)
			if !mutatedSeen[key.ProductID] {
				mutatedSeen[key.ProductID] = true
				mutated = append(mutated, updater)
			}
		}

		if len(mutated) > 0 {
			if err := stores.Products.Persist(mutated); err != nil {
				return fmt.Errorf("persist released stock: %w", err)
			}
		}

		ids := make([]string, 0, len(expired))
		for _, order := range expired {
			ids = append(ids, order.ID)
		}
		if err := stores.Orders.Delete(ids...); err != nil {
			return fmt.Errorf("delete expired orders: %w", err)
		}

		for _, order := range expired {
			if err := enqueueOrderEvent(stores.Outbox, kafka.EventTypeStockReleased, order, nil); err != nil {
				return err
			}
		}

		result.OrdersDeleted = len(expired)
		return nil
	})
	if err != nil {
		result = SweepResult{}
		s.recordFailure("sweep", err)
		return result, err
	}

	if s.metrics != nil && result.OrdersDeleted > 0 {
		s.metrics.RecordOrdersSwept(result.OrdersDeleted)
		s.metrics.RecordStockReleased(result.UnitsReleased)
	}
	if result.OrdersDeleted > 0 {
		s.logger.WithFields(log.Fields{
			"orders_deleted": result.OrdersDeleted,
			"units_released": result.UnitsReleased,
			"swept_at":       now,
		}).Info("stock release sweep completed")
	}

	return result, nil
}

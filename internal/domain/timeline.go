package domain

import "time"

// TimelineEvent описывает событие в жизненном цикле заказа: смену статуса,
// исход reconciliation, удаление при чистке просроченных заказов.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/app"
	"github.com/vladislavdragonenkov/shopcore/internal/service/orders"
)

const defaultTimeout = 60 * time.Second

// Одноразовый запуск чистки просроченных заказов: возвращает остатки по
// всем заказам с истёкшим сроком оплаты и удаляет сами заказы. Удобен для
// cron-а, когда постоянный воркер не развёрнут.
func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	var timeout time.Duration
	flag.DurationVar(&timeout, "timeout", defaultTimeout, "sweep timeout")
	flag.Parse()

	cfg := app.ReadConfig()
	if cfg.StorageDriver != app.StorageDriverPostgres {
		fail("stock-sweep requires SHOPCORE_STORAGE_DRIVER=postgres: in-memory state does not outlive the process")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	deps, err := app.NewDependencies(ctx, cfg, log.WithField("component", "stock-sweep"))
	if err != nil {
		fail("init storage: %v", err)
	}
	defer deps.Close()

	service := orders.NewService(
		deps.Tx,
		deps.Admins,
		orders.WithLogger(deps.Logger),
		orders.WithTimeline(deps.Timeline),
	)

	result, err := service.StockReleaseSweep(ctx)
	if err != nil {
		fail("sweep failed: %v", err)
	}

	fmt.Printf("sweep ok: orders_deleted=%d units_released=%d\n", result.OrdersDeleted, result.UnitsReleased)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

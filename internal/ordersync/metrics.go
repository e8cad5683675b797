package ordersync

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-labsync-backend/internal/domain"
)

var syncTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "order_sync_total",
		Help: "Order status sync attempts by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(syncTotal)
}

func outcome(r domain.SyncItemResult) string {
	switch {
	case !r.Success:
		return "failed"
	case r.Skipped:
		return "skipped"
	case r.Changed:
		return "changed"
	default:
		return "unchanged"
	}
}

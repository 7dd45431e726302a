package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeDelivered = "delivered"
	outcomeEmpty     = "empty"
	outcomePoison    = "poison"
	outcomeFailed    = "failed"
)

var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_relay_ticks_total",
		Help: "Relay ticks by outcome.",
	}, []string{"outcome"})

	rowsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_relay_rows_claimed_total",
		Help: "Outbox rows claimed under SKIP LOCKED.",
	})

	rowsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_relay_rows_delivered_total",
		Help: "Outbox rows marked processed after a successful sink insert.",
	})

	poisonRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_relay_poison_rows_total",
		Help: "Ticks aborted because a claimed row had an unknown type or invalid context.",
	})

	duplicateDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_relay_duplicate_deliveries_total",
		Help: "Rows whose dedup marker already existed, i.e. retried deliveries observed by the sink more than once.",
	})

	sinkInsertSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_relay_sink_insert_seconds",
		Help:    "Wall time of one batched sink insert, all chunks included.",
		Buckets: prometheus.DefBuckets,
	})
)

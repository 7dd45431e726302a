package ports

import (
	"context"
	"time"
)

// BatchDelivered is the operational side-notification published once
// a tick successfully marks a batch processed. It never sits on the
// delivery critical path: its publication failing never aborts or
// retries the tick that produced it.
type BatchDelivered struct {
	Environment string    `json:"environment"`
	Count       int       `json:"count"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// BatchNotifier is the secondary, best-effort notification channel
// fired after a tick commits.
type BatchNotifier interface {
	PublishBatchDelivered(ctx context.Context, evt BatchDelivered) error
}

// DedupMarker is an advisory, TTL-bound observation ledger consulted
// by downstream consumers that want a usually-once view on top of the
// outbox's at-least-once guarantee. It is never authoritative: the
// outbox row's Processed flag is the only durable delivery record.
type DedupMarker interface {
	// MarkDelivered records that outbox row id was observed delivered.
	// already is true if a marker already existed (i.e. this is a
	// retry delivering the same row again).
	MarkDelivered(ctx context.Context, id int64, ttl time.Duration) (already bool, err error)
}

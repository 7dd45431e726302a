// Package dedup implements the advisory delivery ledger over Redis.
// The outbox row's processed flag remains the only durable delivery
// record; these markers just give downstream consumers a cheap
// usually-once observation window on top of at-least-once delivery.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/relaykit/eventrelay/internal/config"
	"github.com/relaykit/eventrelay/internal/core/ports"
)

// RedisMarker records delivered outbox row ids as TTL-bound SETNX
// keys.
type RedisMarker struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

var _ ports.DedupMarker = (*RedisMarker)(nil)

func NewRedisMarker(client *redis.Client) *RedisMarker {
	return &RedisMarker{client: client, cb: config.NewCircuitBreaker("Redis-Dedup")}
}

// MarkDelivered sets the marker for id if absent. already is true
// when the marker existed, meaning the sink has observed this row
// before (a retried delivery).
func (m *RedisMarker) MarkDelivered(ctx context.Context, id int64, ttl time.Duration) (bool, error) {
	result, err := m.cb.Execute(func() (interface{}, error) {
		return m.client.SetNX(ctx, deliveredKey(id), "1", ttl).Result()
	})
	if err != nil {
		return false, err
	}
	return !result.(bool), nil
}

func deliveredKey(id int64) string {
	return fmt.Sprintf("outbox:delivered:%d", id)
}

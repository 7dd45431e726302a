// Package outbox implements the relay worker that drains the outbox
// table into the columnar sink. One tick claims a batch of pending
// rows under FOR UPDATE SKIP LOCKED, prepares the typed sink records,
// ships them, and marks the rows processed — all under a single
// relational transaction, so a failure anywhere returns every claimed
// row to pending.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sony/gobreaker"

	"github.com/relaykit/eventrelay/internal/config"
	"github.com/relaykit/eventrelay/internal/core/domain"
	"github.com/relaykit/eventrelay/internal/core/ports"
	"github.com/relaykit/eventrelay/internal/core/registry"
)

const (
	// PostgreSQL NOTIFY/LISTEN configuration
	listenerMinReconnectInterval = 10 * time.Second
	listenerMaxReconnectInterval = time.Minute
	outboxChannelName            = "outbox_channel"

	// A tick that has not finished inside this window is treated as
	// failed and its transaction rolled back.
	tickTimeout = 60 * time.Second

	// Health check configuration
	healthCheckStaleThreshold = 5 * time.Minute

	// Advisory dedup markers outlive any realistic retry window.
	dedupMarkerTTL = 24 * time.Hour
)

// Relay is the tick-driven worker. Multiple Relay processes may run
// concurrently against the same outbox table; SKIP LOCKED claiming
// keeps their batches disjoint.
type Relay struct {
	cfg      *config.RelayConfig
	store    ports.OutboxStore
	registry *registry.Registry
	openSink ports.SinkClientFactory

	// Optional collaborators; nil disables them without changing the
	// relay's delivery semantics.
	notifier ports.BatchNotifier
	dedup    ports.DedupMarker
	tracer   Tracer

	dbCB   *gobreaker.CircuitBreaker
	sinkCB *gobreaker.CircuitBreaker

	mu            sync.Mutex
	lastProcessed time.Time
	healthy       bool
}

// NewRelay wires a relay worker. notifier and dedup may be nil.
func NewRelay(
	cfg *config.RelayConfig,
	store ports.OutboxStore,
	reg *registry.Registry,
	openSink ports.SinkClientFactory,
	notifier ports.BatchNotifier,
	dedup ports.DedupMarker,
) *Relay {
	return &Relay{
		cfg:           cfg,
		store:         store,
		registry:      reg,
		openSink:      openSink,
		notifier:      notifier,
		dedup:         dedup,
		tracer:        noopTracer{},
		dbCB:          config.NewCircuitBreaker("Relay-PostgreSQL"),
		sinkCB:        config.NewCircuitBreaker("Relay-Sink"),
		lastProcessed: time.Now(),
		healthy:       true,
	}
}

// WithTracer installs an optional span recorder around the tick and
// the batch insert. The relay behaves identically without one.
func (r *Relay) WithTracer(t Tracer) *Relay {
	if t != nil {
		r.tracer = t
	}
	return r
}

// IsHealthy reports whether the relay process is alive and responding.
// Kept deliberately simple for liveness probes: an open circuit is
// degraded-but-recoverable, not dead.
func (r *Relay) IsHealthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.healthy
}

// IsReady reports whether the relay can currently deliver events, for
// readiness probes.
func (r *Relay) IsReady() bool {
	if r.dbCB.State() == gobreaker.StateOpen || r.sinkCB.State() == gobreaker.StateOpen {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastProcessed) > healthCheckStaleThreshold {
		return false
	}
	return r.healthy
}

func (r *Relay) setHealthy(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy = ok
	if ok {
		r.lastProcessed = time.Now()
	}
}

// Tick runs one claim-prepare-insert-mark cycle. Either every claimed
// row is marked processed and committed, or the whole claim is rolled
// back and every row returns to pending.
func (r *Relay) Tick(ctx context.Context) (err error) {
	ctx, cancel := context.WithTimeout(ctx, tickTimeout)
	defer cancel()

	ctx, finish := r.tracer.StartSpan(ctx, "relay.tick")
	defer func() { finish(err) }()

	claimed, cbErr := r.dbCB.Execute(func() (interface{}, error) {
		return r.store.ClaimBatch(ctx, r.cfg.BatchLimit)
	})
	if cbErr != nil {
		ticksTotal.WithLabelValues(outcomeFailed).Inc()
		return fmt.Errorf("relay: claim batch: %w", cbErr)
	}
	batch := claimed.(ports.ClaimedBatch)
	rows := batch.Rows()

	if len(rows) == 0 {
		// Commit the empty claim without ever opening a sink
		// connection.
		if err := batch.MarkProcessed(ctx); err != nil {
			ticksTotal.WithLabelValues(outcomeFailed).Inc()
			return fmt.Errorf("relay: commit empty tick: %w", err)
		}
		r.setHealthy(true)
		ticksTotal.WithLabelValues(outcomeEmpty).Inc()
		return nil
	}
	rowsClaimed.Add(float64(len(rows)))

	records, prepErr := r.prepare(rows)
	if prepErr != nil {
		// A poison row anywhere in the batch aborts the whole claim.
		// Delivering the good majority and silently skipping the bad
		// row would desynchronize the sink from the outbox.
		_ = batch.Abort()
		poisonRowsTotal.Inc()
		ticksTotal.WithLabelValues(outcomePoison).Inc()
		return fmt.Errorf("relay: prepare batch: %w", prepErr)
	}

	if shipErr := r.ship(ctx, records); shipErr != nil {
		_ = batch.Abort()
		ticksTotal.WithLabelValues(outcomeFailed).Inc()
		return fmt.Errorf("relay: sink insert: %w", shipErr)
	}

	if err := batch.MarkProcessed(ctx); err != nil {
		ticksTotal.WithLabelValues(outcomeFailed).Inc()
		return fmt.Errorf("relay: mark processed: %w", err)
	}

	r.setHealthy(true)
	rowsDelivered.Add(float64(len(rows)))
	ticksTotal.WithLabelValues(outcomeDelivered).Inc()
	log.Printf("relay: delivered %d events", len(rows))

	r.afterDelivery(ctx, rows)
	return nil
}

// prepare resolves each row's preparer and builds the typed sink
// records. The first unregistered type or invalid context fails the
// whole batch.
func (r *Relay) prepare(rows []domain.OutboxRow) ([]domain.SinkRecord, error) {
	records := make([]domain.SinkRecord, 0, len(rows))
	for _, row := range rows {
		payload, err := r.registry.Prepare(row.EventType, row.EventContext)
		if err != nil {
			return nil, fmt.Errorf("outbox row %d: %w", row.ID, err)
		}
		serialized, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("outbox row %d: serialize payload: %w", row.ID, err)
		}
		records = append(records, domain.SinkRecord{
			EventType:       row.EventType,
			EventDateTime:   row.EventDateTime,
			Environment:     row.Environment,
			EventContext:    string(serialized),
			MetadataVersion: uint16(row.MetadataVersion),
		})
	}
	return records, nil
}

// ship opens a tick-scoped sink client, inserts the batch in chunks,
// and closes the client on every path.
func (r *Relay) ship(ctx context.Context, records []domain.SinkRecord) (err error) {
	ctx, finish := r.tracer.StartSpan(ctx, "sink.batch_insert")
	defer func() { finish(err) }()

	_, err = r.sinkCB.Execute(func() (interface{}, error) {
		client, openErr := r.openSink(ctx)
		if openErr != nil {
			return nil, openErr
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				log.Printf("relay: closing sink client: %v", closeErr)
			}
		}()

		start := time.Now()
		insertErr := client.Insert(ctx, records, r.cfg.ChunkSize)
		sinkInsertSeconds.Observe(time.Since(start).Seconds())
		return nil, insertErr
	})
	return err
}

// afterDelivery runs the best-effort side channels once the batch has
// committed. Failures here are logged and dropped: neither the dedup
// ledger nor the notification may abort or retry a delivered tick.
func (r *Relay) afterDelivery(ctx context.Context, rows []domain.OutboxRow) {
	if r.dedup != nil {
		for _, row := range rows {
			already, err := r.dedup.MarkDelivered(ctx, row.ID, dedupMarkerTTL)
			if err != nil {
				log.Printf("relay: dedup marker for row %d: %v", row.ID, err)
				break
			}
			if already {
				duplicateDeliveries.Inc()
			}
		}
	}

	if r.notifier != nil {
		evt := ports.BatchDelivered{
			Environment: r.cfg.Environment,
			Count:       len(rows),
			DeliveredAt: time.Now().UTC(),
		}
		if err := r.notifier.PublishBatchDelivered(ctx, evt); err != nil {
			log.Printf("relay: batch-delivered notification: %v", err)
		}
	}
}

// IsPoisonError reports whether err came from a poison row rather
// than from the sink or the database, for callers that alert on the
// two differently.
func IsPoisonError(err error) bool {
	var invalid *registry.InvalidContextError
	return errors.Is(err, registry.ErrUnknownEventType) || errors.As(err, &invalid)
}

// Start drives Tick until ctx is cancelled. A PostgreSQL LISTEN on
// the outbox channel wakes the relay as soon as a producer commits;
// the periodic ticker remains the correctness guarantee, claiming
// anything a missed notification left behind.
func (r *Relay) Start(ctx context.Context) error {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("relay: listener error: %v", err)
		}
	}

	listener := pq.NewListener(r.cfg.DatabaseURL, listenerMinReconnectInterval, listenerMaxReconnectInterval, reportProblem)
	defer listener.Close()

	if err := listener.Listen(outboxChannelName); err != nil {
		return fmt.Errorf("relay: listen on %s: %w", outboxChannelName, err)
	}

	log.Printf("relay: listening on %q, ticking every %s", outboxChannelName, r.cfg.TickInterval)

	// Catch up on anything pending from before this process started.
	if err := r.Tick(ctx); err != nil {
		log.Printf("relay: startup tick: %v", err)
	}

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("relay: shutting down")
			return ctx.Err()

		case notification := <-listener.Notify:
			if notification == nil {
				// The listener lost its connection and is
				// reconnecting; the periodic tick covers the gap.
				r.setHealthy(false)
				continue
			}
			if err := r.Tick(ctx); err != nil {
				log.Printf("relay: notified tick: %v", err)
			}

		case <-ticker.C:
			go listener.Ping()
			if err := r.Tick(ctx); err != nil {
				log.Printf("relay: periodic tick: %v", err)
			}
		}
	}
}

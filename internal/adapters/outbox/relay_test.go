package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/relaykit/eventrelay/internal/config"
	"github.com/relaykit/eventrelay/internal/core/domain"
	"github.com/relaykit/eventrelay/internal/core/ports"
	"github.com/relaykit/eventrelay/internal/core/registry"
)

// fakeStore is an in-memory ports.OutboxStore. Claims snapshot the
// pending rows; MarkProcessed flips them, Abort returns them to
// pending.
type fakeStore struct {
	rows       []domain.OutboxRow
	claimCalls int
}

type fakeBatch struct {
	store   *fakeStore
	claimed []domain.OutboxRow
	marked  bool
	aborted bool
}

func (s *fakeStore) ClaimBatch(ctx context.Context, limit int) (ports.ClaimedBatch, error) {
	s.claimCalls++
	var claimed []domain.OutboxRow
	for _, row := range s.rows {
		if !row.Processed {
			claimed = append(claimed, row)
			if limit > 0 && len(claimed) == limit {
				break
			}
		}
	}
	return &fakeBatch{store: s, claimed: claimed}, nil
}

func (s *fakeStore) QuarantineRow(ctx context.Context, id int64) error {
	for i := range s.rows {
		if s.rows[i].ID == id {
			s.rows[i].Processed = true
			return nil
		}
	}
	return errors.New("no such row")
}

func (b *fakeBatch) Rows() []domain.OutboxRow { return b.claimed }

func (b *fakeBatch) MarkProcessed(ctx context.Context) error {
	b.marked = true
	for _, claimed := range b.claimed {
		for i := range b.store.rows {
			if b.store.rows[i].ID == claimed.ID {
				b.store.rows[i].Processed = true
			}
		}
	}
	return nil
}

func (b *fakeBatch) Abort() error {
	b.aborted = true
	return nil
}

// fakeSink records every insert and can be told to fail.
type fakeSink struct {
	inserted   [][]domain.SinkRecord
	chunkSizes []int
	failWith   error
	closed     int
	opens      int
}

func (s *fakeSink) Insert(ctx context.Context, records []domain.SinkRecord, chunkSize int) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.inserted = append(s.inserted, records)
	s.chunkSizes = append(s.chunkSizes, chunkSize)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed++
	return nil
}

func (s *fakeSink) factory() ports.SinkClientFactory {
	return func(ctx context.Context) (ports.SinkClient, error) {
		s.opens++
		return s, nil
	}
}

func testConfig() *config.RelayConfig {
	return &config.RelayConfig{
		Environment:  "Test",
		TickInterval: 5 * time.Second,
		BatchLimit:   500,
		ChunkSize:    1000,
	}
}

func pendingRow(id int64, eventType string, ctx map[string]any) domain.OutboxRow {
	return domain.OutboxRow{
		ID:              id,
		EventType:       eventType,
		EventDateTime:   time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
		Environment:     "Test",
		EventContext:    ctx,
		MetadataVersion: 1,
	}
}

func userCreatedContext() map[string]any {
	return map[string]any{
		"email":      "test@email.com",
		"first_name": "Test",
		"last_name":  "Testovich",
	}
}

func TestTick_EmptyOutbox_NeverOpensSink(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	relay := NewRelay(testConfig(), store, registry.Default(), sink.factory(), nil, nil)

	if err := relay.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sink.opens != 0 {
		t.Fatalf("empty tick opened the sink %d times", sink.opens)
	}
}

func TestTick_HappyPath(t *testing.T) {
	store := &fakeStore{rows: []domain.OutboxRow{
		pendingRow(1, domain.EventUserCreated, userCreatedContext()),
	}}
	sink := &fakeSink{}
	relay := NewRelay(testConfig(), store, registry.Default(), sink.factory(), nil, nil)

	if err := relay.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !store.rows[0].Processed {
		t.Fatal("row was not marked processed")
	}
	if len(sink.inserted) != 1 || len(sink.inserted[0]) != 1 {
		t.Fatalf("want exactly one inserted record, got %v", sink.inserted)
	}

	rec := sink.inserted[0][0]
	if rec.EventType != domain.EventUserCreated {
		t.Fatalf("got event type %q", rec.EventType)
	}
	const wantContext = `{"email":"test@email.com","first_name":"Test","last_name":"Testovich"}`
	if rec.EventContext != wantContext {
		t.Fatalf("got event context %s, want %s", rec.EventContext, wantContext)
	}
	if rec.MetadataVersion != 1 {
		t.Fatalf("got metadata version %d", rec.MetadataVersion)
	}
	if sink.closed != 1 {
		t.Fatalf("sink closed %d times, want 1", sink.closed)
	}
}

func TestTick_SinkFailureThenRecovery(t *testing.T) {
	store := &fakeStore{rows: []domain.OutboxRow{
		pendingRow(1, domain.EventUserCreated, userCreatedContext()),
		pendingRow(2, domain.EventUserCreated, userCreatedContext()),
	}}
	sink := &fakeSink{failWith: errors.New("sink: unavailable")}
	relay := NewRelay(testConfig(), store, registry.Default(), sink.factory(), nil, nil)

	if err := relay.Tick(context.Background()); err == nil {
		t.Fatal("expected tick to fail while the sink is down")
	}
	for _, row := range store.rows {
		if row.Processed {
			t.Fatal("row marked processed despite sink failure")
		}
	}
	if sink.closed != 1 {
		t.Fatalf("sink not closed on the failure path (closed %d times)", sink.closed)
	}

	sink.failWith = nil
	if err := relay.Tick(context.Background()); err != nil {
		t.Fatalf("recovery tick failed: %v", err)
	}
	for _, row := range store.rows {
		if !row.Processed {
			t.Fatal("row still pending after recovery tick")
		}
	}
	if len(sink.inserted) != 1 || len(sink.inserted[0]) != 2 {
		t.Fatalf("want one insert of two records, got %v", sink.inserted)
	}
}

func TestTick_PoisonRowAbortsWholeBatch(t *testing.T) {
	store := &fakeStore{rows: []domain.OutboxRow{
		pendingRow(1, domain.EventUserCreated, userCreatedContext()),
		pendingRow(2, "unknown", map[string]any{}),
		pendingRow(3, domain.EventUserCreated, userCreatedContext()),
	}}
	sink := &fakeSink{}
	relay := NewRelay(testConfig(), store, registry.Default(), sink.factory(), nil, nil)

	err := relay.Tick(context.Background())
	if err == nil {
		t.Fatal("expected tick to fail on the poison row")
	}
	if !IsPoisonError(err) {
		t.Fatalf("want poison error, got %v", err)
	}

	for _, row := range store.rows {
		if row.Processed {
			t.Fatal("no row may be marked processed when the batch aborts")
		}
	}
	if sink.opens != 0 {
		t.Fatal("sink opened despite poison batch")
	}

	// Operator quarantine unblocks the next tick.
	if err := store.QuarantineRow(context.Background(), 2); err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	if err := relay.Tick(context.Background()); err != nil {
		t.Fatalf("tick after quarantine: %v", err)
	}
	if !store.rows[0].Processed || !store.rows[2].Processed {
		t.Fatal("healthy rows still pending after quarantine")
	}
}

func TestTick_InvalidContextIsPoison(t *testing.T) {
	store := &fakeStore{rows: []domain.OutboxRow{
		pendingRow(1, domain.EventUserCreated, map[string]any{"email": "only@email.com"}),
	}}
	sink := &fakeSink{}
	relay := NewRelay(testConfig(), store, registry.Default(), sink.factory(), nil, nil)

	err := relay.Tick(context.Background())
	if err == nil || !IsPoisonError(err) {
		t.Fatalf("want poison error for invalid context, got %v", err)
	}
	if store.rows[0].Processed {
		t.Fatal("invalid row marked processed")
	}
}

func TestTick_RespectsBatchLimit(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 5; i++ {
		store.rows = append(store.rows, pendingRow(i, domain.EventUserCreated, userCreatedContext()))
	}
	cfg := testConfig()
	cfg.BatchLimit = 2

	sink := &fakeSink{}
	relay := NewRelay(cfg, store, registry.Default(), sink.factory(), nil, nil)

	if err := relay.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	processed := 0
	for _, row := range store.rows {
		if row.Processed {
			processed++
		}
	}
	if processed != 2 {
		t.Fatalf("got %d processed rows, want 2", processed)
	}
}

func TestTick_PassesChunkSizeToSink(t *testing.T) {
	store := &fakeStore{rows: []domain.OutboxRow{
		pendingRow(1, domain.EventUserCreated, userCreatedContext()),
	}}
	cfg := testConfig()
	cfg.ChunkSize = 250

	sink := &fakeSink{}
	relay := NewRelay(cfg, store, registry.Default(), sink.factory(), nil, nil)

	if err := relay.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.chunkSizes) != 1 || sink.chunkSizes[0] != 250 {
		t.Fatalf("got chunk sizes %v, want [250]", sink.chunkSizes)
	}
}

// failingNotifier always errors; delivery must not care.
type failingNotifier struct{ calls int }

func (n *failingNotifier) PublishBatchDelivered(ctx context.Context, evt ports.BatchDelivered) error {
	n.calls++
	return errors.New("broker down")
}

// fakeMarker remembers ids and reports retries.
type fakeMarker struct{ seen map[int64]bool }

func (m *fakeMarker) MarkDelivered(ctx context.Context, id int64, ttl time.Duration) (bool, error) {
	if m.seen == nil {
		m.seen = make(map[int64]bool)
	}
	already := m.seen[id]
	m.seen[id] = true
	return already, nil
}

func TestTick_SideChannelFailuresDoNotFailDelivery(t *testing.T) {
	store := &fakeStore{rows: []domain.OutboxRow{
		pendingRow(1, domain.EventUserCreated, userCreatedContext()),
	}}
	sink := &fakeSink{}
	notifier := &failingNotifier{}
	marker := &fakeMarker{}
	relay := NewRelay(testConfig(), store, registry.Default(), sink.factory(), notifier, marker)

	if err := relay.Tick(context.Background()); err != nil {
		t.Fatalf("tick failed on side-channel error: %v", err)
	}
	if !store.rows[0].Processed {
		t.Fatal("row not processed")
	}
	if notifier.calls != 1 {
		t.Fatalf("notifier called %d times, want 1", notifier.calls)
	}
	if !marker.seen[1] {
		t.Fatal("dedup marker not written")
	}
}

func TestTick_SerializedContextMatchesPreparerOutput(t *testing.T) {
	ctx := userCreatedContext()
	store := &fakeStore{rows: []domain.OutboxRow{
		pendingRow(1, domain.EventUserCreated, ctx),
	}}
	sink := &fakeSink{}
	relay := NewRelay(testConfig(), store, registry.Default(), sink.factory(), nil, nil)

	if err := relay.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload, err := registry.Default().Prepare(domain.EventUserCreated, ctx)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	want, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got := sink.inserted[0][0].EventContext; got != string(want) {
		t.Fatalf("sink context %s does not round-trip preparer output %s", got, want)
	}
}

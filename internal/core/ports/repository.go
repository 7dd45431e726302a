package ports

import (
	"context"

	"github.com/relaykit/eventrelay/internal/core/domain"
)

// OutboxEvent is the event data a producer hands to the atomic
// CreateUserWithEvent call; it becomes an OutboxRow committed in the
// same transaction as the business write.
type OutboxEvent struct {
	EventType       string
	Environment     string
	EventContext    map[string]any
	MetadataVersion int
}

// UserRepository is the business-side repository used by the
// CreateUser use case. The business write and the outbox append
// happen inside one transaction that the repository itself owns and
// commits or rolls back; the use case never sees the transaction
// handle directly.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)

	// CreateUserWithEvent inserts user and, if and only if user was
	// newly created (not a duplicate email), appends evt to the
	// outbox — all inside one transaction. created is false with a nil
	// error when the email already existed; no outbox row is written
	// in that case. Any other failure rolls the whole transaction
	// back: neither the user row nor the outbox row survive.
	CreateUserWithEvent(ctx context.Context, user domain.User, evt OutboxEvent) (created bool, err error)

	// DischargeUserWithEvent flips an active user to discharged and,
	// if the row actually transitioned, appends evt to the outbox in
	// the same transaction. discharged is false with a nil error when
	// the user was absent or already discharged.
	DischargeUserWithEvent(ctx context.Context, userID string, evt OutboxEvent) (discharged bool, err error)
}

// AdminRepository backs the bootstrap admin account used to guard the
// producer HTTP surface.
type AdminRepository interface {
	FindByEmail(ctx context.Context, email string) (*domain.Admin, error)
	Create(ctx context.Context, admin domain.Admin) error
}

// ClaimedBatch is the handle returned by OutboxStore.ClaimBatch. Its
// rows remain row-locked (FOR UPDATE SKIP LOCKED) for the lifetime of
// the underlying transaction, which ends on exactly one of
// MarkProcessed or Abort.
type ClaimedBatch interface {
	// Rows returns the claimed rows in ascending id order. Empty when
	// nothing was pending.
	Rows() []domain.OutboxRow

	// MarkProcessed sets processed=true for every claimed row and
	// commits the transaction, releasing the row locks.
	MarkProcessed(ctx context.Context) error

	// Abort rolls the transaction back, releasing the row locks
	// without marking anything processed. Safe to call multiple
	// times; safe to call after MarkProcessed has already committed
	// (a no-op).
	Abort() error
}

// OutboxStore is the relay-facing contract over the outbox table.
// Implementations must give concurrent relay workers disjoint claims
// via SKIP LOCKED.
type OutboxStore interface {
	// ClaimBatch opens a transaction and selects up to limit rows
	// where processed=false, in ascending id order, under
	// FOR UPDATE SKIP LOCKED. A limit <= 0 claims all pending rows.
	ClaimBatch(ctx context.Context, limit int) (ClaimedBatch, error)

	// QuarantineRow sets processed=true for a single row out-of-band,
	// for operator use after inspecting a poison row. The relay itself
	// never calls this.
	QuarantineRow(ctx context.Context, id int64) error
}

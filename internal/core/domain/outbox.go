package domain

import "time"

// Event type tags recognized by the registry. New event types are
// added by registering a preparer for a new tag, never by touching
// this list's consumers.
const (
	EventUserCreated    = "user_created"
	EventUserDischarged = "user_discharged"
)

// OutboxRow is a single pending-or-delivered entry in the relational
// outbox table. It is created only inside the transaction that also
// performed the producing business write (see the CreateUser use
// case), and is mutated exactly once by the relay, to flip Processed.
type OutboxRow struct {
	ID              int64
	EventType       string
	EventDateTime   time.Time
	Environment     string
	EventContext    map[string]any
	MetadataVersion int
	Processed       bool
}

// SinkRecord is the typed, JSON-serialized record shipped to the
// columnar sink. EventContext here is always the serialization of the
// preparer's typed payload, never a raw copy of OutboxRow.EventContext.
type SinkRecord struct {
	EventType       string
	EventDateTime   time.Time
	Environment     string
	EventContext    string
	MetadataVersion uint16
}

package ports

import (
	"context"

	"github.com/relaykit/eventrelay/internal/core/domain"
)

// SinkClient is the scoped resource wrapping the columnar database
// connection. A client is opened at the start of a tick and closed on
// every exit path, including failure; no reliance on a destructor
// firing lazily.
type SinkClient interface {
	// Insert splits records into chunks of at most chunkSize and ships
	// each chunk. A chunk failure fails the whole call: the relay
	// never observes a partial batch as success.
	Insert(ctx context.Context, records []domain.SinkRecord, chunkSize int) error

	Close() error
}

// SinkClientFactory opens a new SinkClient, scoped to one tick.
type SinkClientFactory func(ctx context.Context) (SinkClient, error)

// Package sink wraps the ClickHouse connection the relay ships event
// batches to. A Client is scoped to a single relay tick: opened at
// tick start, closed on every exit path.
package sink

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/relaykit/eventrelay/internal/config"
	"github.com/relaykit/eventrelay/internal/core/domain"
	"github.com/relaykit/eventrelay/internal/core/ports"
)

// ErrSinkUnavailable signals a transport/protocol failure talking to
// the sink. Retriable on the next tick.
var ErrSinkUnavailable = errors.New("sink: unavailable")

// ErrSinkRejected signals the sink refused a record, typically a
// schema mismatch. Retriable, but likely needs operator intervention.
var ErrSinkRejected = errors.New("sink: rejected")

// Client wraps a single ClickHouse connection. Connections are
// per-tick, never shared across relay workers.
type Client struct {
	conn  driver.Conn
	table string
}

var _ ports.SinkClient = (*Client)(nil)

// Open dials the sink and verifies connectivity with a ping before
// returning, so a dead sink is reported as ErrSinkUnavailable at
// open time rather than surfacing confusingly during the first
// insert.
func Open(ctx context.Context, cfg *config.RelayConfig) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.SinkHost, cfg.SinkPort)},
		Auth: clickhouse.Auth{
			Database: cfg.SinkDatabase,
			Username: cfg.SinkUsername,
			Password: cfg.SinkPassword,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrSinkUnavailable, err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrSinkUnavailable, err)
	}

	return &Client{conn: conn, table: cfg.SinkTable}, nil
}

// Insert splits records into chunks of at most chunkSize and ships
// each as one ClickHouse batch insert. A chunk failure fails the
// whole call: the relay never observes a partial batch as success.
func (c *Client) Insert(ctx context.Context, records []domain.SinkRecord, chunkSize int) error {
	for _, bounds := range chunkBounds(len(records), chunkSize) {
		if err := c.insertChunk(ctx, records[bounds[0]:bounds[1]]); err != nil {
			return err
		}
	}
	return nil
}

// chunkBounds returns the [start, end) slice bounds that partition n
// records into chunks of at most size. A size <= 0 yields one chunk.
func chunkBounds(n, size int) [][2]int {
	if n == 0 {
		return nil
	}
	if size <= 0 || size > n {
		size = n
	}
	var bounds [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		bounds = append(bounds, [2]int{start, end})
	}
	return bounds
}

func (c *Client) insertChunk(ctx context.Context, chunk []domain.SinkRecord) error {
	stmt := fmt.Sprintf(
		"INSERT INTO %s (event_type, event_date_time, environment, event_context, metadata_version)",
		c.table,
	)
	batch, err := c.conn.PrepareBatch(ctx, stmt)
	if err != nil {
		return classifyErr(err)
	}

	for _, rec := range chunk {
		if err := batch.Append(
			rec.EventType,
			rec.EventDateTime,
			rec.Environment,
			rec.EventContext,
			rec.MetadataVersion,
		); err != nil {
			return classifyErr(err)
		}
	}

	if err := batch.Send(); err != nil {
		return classifyErr(err)
	}
	return nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// classifyErr distinguishes transport failures (retriable, no
// operator action needed) from the sink actively rejecting a record
// (retriable but likely a schema problem worth paging someone about).
func classifyErr(err error) error {
	var chErr *clickhouse.Exception
	if errors.As(err, &chErr) {
		return fmt.Errorf("%w: %v", ErrSinkRejected, chErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrSinkUnavailable, netErr)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
}

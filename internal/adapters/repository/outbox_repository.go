package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/lib/pq"
	"github.com/sony/gobreaker"

	"github.com/relaykit/eventrelay/internal/config"
	"github.com/relaykit/eventrelay/internal/core/domain"
	"github.com/relaykit/eventrelay/internal/core/ports"
)

// OutboxRepository is the PostgreSQL adapter for ports.OutboxStore.
// ClaimBatch deliberately hands the open transaction back to the
// caller as a ClaimedBatch: the row locks must survive until the
// relay has shipped the batch to the sink and decided between
// MarkProcessed and Abort.
type OutboxRepository struct {
	db *sql.DB
	cb *gobreaker.CircuitBreaker
}

var _ ports.OutboxStore = (*OutboxRepository)(nil)

func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db, cb: config.NewCircuitBreaker("PostgreSQL-Outbox")}
}

// claimedBatch implements ports.ClaimedBatch, owning the transaction
// opened by ClaimBatch until MarkProcessed commits it or Abort rolls
// it back.
type claimedBatch struct {
	tx   *sql.Tx
	rows []domain.OutboxRow
	done bool
}

func (b *claimedBatch) Rows() []domain.OutboxRow { return b.rows }

func (b *claimedBatch) MarkProcessed(ctx context.Context) error {
	if b.done {
		return nil
	}
	if len(b.rows) == 0 {
		b.done = true
		return b.tx.Commit()
	}

	ids := make([]int64, len(b.rows))
	for i, row := range b.rows {
		ids[i] = row.ID
	}

	if _, err := b.tx.ExecContext(ctx,
		`UPDATE outbox_events SET processed = true WHERE id = ANY($1)`,
		pq.Array(ids),
	); err != nil {
		_ = b.tx.Rollback()
		b.done = true
		return err
	}

	b.done = true
	return b.tx.Commit()
}

func (b *claimedBatch) Abort() error {
	if b.done {
		return nil
	}
	b.done = true
	return b.tx.Rollback()
}

// ClaimBatch opens a transaction and selects up to limit unprocessed
// rows in ascending id order under FOR UPDATE SKIP LOCKED, so two
// concurrent relay workers never see overlapping rows. A limit <= 0
// claims every pending row.
func (r *OutboxRepository) ClaimBatch(ctx context.Context, limit int) (ports.ClaimedBatch, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, event_type, event_date_time, environment, event_context, metadata_version, processed
		FROM outbox_events
		WHERE processed = false
		ORDER BY id ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	query += " FOR UPDATE SKIP LOCKED"

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	defer rows.Close()

	var claimed []domain.OutboxRow
	for rows.Next() {
		var row domain.OutboxRow
		var contextJSON []byte
		if err := rows.Scan(
			&row.ID, &row.EventType, &row.EventDateTime, &row.Environment,
			&contextJSON, &row.MetadataVersion, &row.Processed,
		); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if err := json.Unmarshal(contextJSON, &row.EventContext); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		claimed = append(claimed, row)
	}
	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return &claimedBatch{tx: tx, rows: claimed}, nil
}

// QuarantineRow lets an operator mark a poison row processed
// out-of-band after inspecting it. The relay itself never calls this.
func (r *OutboxRepository) QuarantineRow(ctx context.Context, id int64) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		res, err := r.db.ExecContext(ctx, "UPDATE outbox_events SET processed = true WHERE id = $1", id)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, fmt.Errorf("outbox: no row with id %d", id)
		}
		return nil, nil
	})
	if err == nil {
		log.Printf("outbox: row %d quarantined (marked processed out-of-band)", id)
	}
	return err
}

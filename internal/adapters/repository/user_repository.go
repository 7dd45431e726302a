// Package repository contains the PostgreSQL adapters for both the
// producer side (UserRepository, AdminRepository) and the relay side
// (OutboxRepository implementing ports.OutboxStore). Every
// UserRepository and AdminRepository operation, and
// OutboxRepository.QuarantineRow, runs behind a named circuit breaker;
// ClaimBatch and the ClaimedBatch it returns use none of their own
// (the relay wraps its ClaimBatch call in its own breaker).
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/sony/gobreaker"

	"github.com/relaykit/eventrelay/internal/config"
	"github.com/relaykit/eventrelay/internal/core/domain"
	"github.com/relaykit/eventrelay/internal/core/ports"
)

// pqUniqueViolation is PostgreSQL's SQLSTATE for a unique constraint
// violation.
const pqUniqueViolation = "23505"

// UserRepository is the PostgreSQL adapter for ports.UserRepository.
type UserRepository struct {
	db *sql.DB
	cb *gobreaker.CircuitBreaker
}

var _ ports.UserRepository = (*UserRepository)(nil)

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db, cb: config.NewCircuitBreaker("PostgreSQL-Users")}
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	result, err := r.cb.Execute(func() (interface{}, error) {
		var user domain.User
		err := r.db.QueryRowContext(
			ctx,
			"SELECT id, email, first_name, last_name, created_at, status FROM users WHERE email = $1",
			email,
		).Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.CreatedAt, &user.Status)
		if err != nil {
			return nil, err
		}
		return &user, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.User), nil
}

// CreateUserWithEvent inserts user and, only if that insert actually
// creates a new row (the email is not already taken), appends evt to
// the outbox — both inside the same transaction. A duplicate email
// commits nothing and returns created=false with a nil error.
func (r *UserRepository) CreateUserWithEvent(ctx context.Context, user domain.User, evt ports.OutboxEvent) (bool, error) {
	result, err := r.cb.Execute(func() (interface{}, error) {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx,
			"INSERT INTO users (id, email, first_name, last_name, created_at, status) VALUES ($1, $2, $3, $4, $5, $6)",
			user.ID, user.Email, user.FirstName, user.LastName, user.CreatedAt, user.Status,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
				return false, nil
			}
			return nil, err
		}

		if err := appendOutboxEvent(ctx, tx, evt); err != nil {
			return nil, err
		}

		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// DischargeUserWithEvent flips an active user to discharged and
// appends evt to the outbox in the same transaction. A user that is
// absent or already discharged commits nothing and returns
// discharged=false with a nil error.
func (r *UserRepository) DischargeUserWithEvent(ctx context.Context, userID string, evt ports.OutboxEvent) (bool, error) {
	result, err := r.cb.Execute(func() (interface{}, error) {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			"UPDATE users SET status = $1 WHERE id = $2 AND status = $3",
			domain.StatusDischarged, userID, domain.StatusActive,
		)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return false, nil
		}

		if err := appendOutboxEvent(ctx, tx, evt); err != nil {
			return nil, err
		}

		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// appendOutboxEvent writes one pending outbox row inside the caller's
// transaction. It never opens its own: the row must ride the business
// write that caused it.
func appendOutboxEvent(ctx context.Context, tx *sql.Tx, evt ports.OutboxEvent) error {
	contextJSON, err := json.Marshal(evt.EventContext)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events
			(event_type, event_date_time, environment, event_context, metadata_version, processed)
		 VALUES ($1, $2, $3, $4, $5, false)`,
		evt.EventType, time.Now().UTC(), evt.Environment, contextJSON, evt.MetadataVersion,
	)
	return err
}

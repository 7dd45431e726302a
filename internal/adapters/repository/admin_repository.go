package repository

import (
	"context"
	"database/sql"

	"github.com/sony/gobreaker"

	"github.com/relaykit/eventrelay/internal/config"
	"github.com/relaykit/eventrelay/internal/core/domain"
	"github.com/relaykit/eventrelay/internal/core/ports"
)

// AdminRepository is the PostgreSQL adapter for ports.AdminRepository,
// backing the bootstrap account that guards the producer surface.
type AdminRepository struct {
	db *sql.DB
	cb *gobreaker.CircuitBreaker
}

var _ ports.AdminRepository = (*AdminRepository)(nil)

func NewAdminRepository(db *sql.DB) *AdminRepository {
	return &AdminRepository{db: db, cb: config.NewCircuitBreaker("PostgreSQL-Admins")}
}

func (r *AdminRepository) FindByEmail(ctx context.Context, email string) (*domain.Admin, error) {
	result, err := r.cb.Execute(func() (interface{}, error) {
		var admin domain.Admin
		err := r.db.QueryRowContext(
			ctx,
			"SELECT id, email, password_hash, created_at FROM admins WHERE email = $1",
			email,
		).Scan(&admin.ID, &admin.Email, &admin.PasswordHash, &admin.CreatedAt)
		if err != nil {
			return nil, err
		}
		return &admin, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Admin), nil
}

func (r *AdminRepository) Create(ctx context.Context, admin domain.Admin) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		_, err := r.db.ExecContext(ctx,
			"INSERT INTO admins (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)",
			admin.ID, admin.Email, admin.PasswordHash, admin.CreatedAt,
		)
		return nil, err
	})
	return err
}

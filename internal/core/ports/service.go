package ports

import (
	"context"

	"github.com/relaykit/eventrelay/internal/core/domain"
)

// AuthService guards the producer HTTP surface. It is intentionally
// small: one admin account, issued as a signed JWT, blacklistable on
// logout. No external identity provider is involved.
type AuthService interface {
	Login(ctx context.Context, email, password string) (token string, err error)
	Logout(ctx context.Context, token string) error
}

// CreateUserRequest is the producer-facing request for the CreateUser
// use case.
type CreateUserRequest struct {
	Email     string
	FirstName string
	LastName  string
}

// CreateUserResponse carries exactly one of Result or Error. A
// duplicate email populates Error; it is a business rejection, not a
// system failure.
type CreateUserResponse struct {
	Result *domain.User
	Error  string
}

// DischargeUserResponse reports whether the discharge transitioned the
// user. Error is set for business rejections (unknown user, already
// discharged).
type DischargeUserResponse struct {
	Discharged bool
	Error      string
}

// UserUseCase is the producer contract: each operation performs its
// business write and its outbox append in one atomic unit.
type UserUseCase interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (CreateUserResponse, error)
	DischargeUser(ctx context.Context, userID string) (DischargeUserResponse, error)
}

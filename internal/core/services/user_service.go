// Package services holds the core use cases behind the producer HTTP
// surface: creating and discharging users, each committed atomically
// with its outbox event, and the admin authentication guarding them.
package services

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/eventrelay/internal/core/domain"
	"github.com/relaykit/eventrelay/internal/core/ports"
)

const userCreatedMetadataVersion = 1

// UserService implements ports.UserUseCase. Each operation returns a
// result-or-error response: business rejections (duplicate email,
// unknown user) populate the response's Error field, while system
// failures propagate as a Go error and roll the whole transaction
// back.
type UserService struct {
	userRepo    ports.UserRepository
	environment string
}

var _ ports.UserUseCase = (*UserService)(nil)

func NewUserService(userRepo ports.UserRepository, environment string) *UserService {
	return &UserService{userRepo: userRepo, environment: environment}
}

// CreateUser writes the user row and its user_created outbox event in
// one transaction. A duplicate email writes nothing and comes back as
// a business rejection, never as an error.
func (s *UserService) CreateUser(ctx context.Context, req ports.CreateUserRequest) (ports.CreateUserResponse, error) {
	if reason := validateCreateUser(req); reason != "" {
		return ports.CreateUserResponse{Error: reason}, nil
	}

	user := domain.User{
		ID:        uuid.NewString(),
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		CreatedAt: time.Now().UTC(),
		Status:    domain.StatusActive,
	}

	evt := ports.OutboxEvent{
		EventType:   domain.EventUserCreated,
		Environment: s.environment,
		EventContext: map[string]any{
			"email":      user.Email,
			"first_name": user.FirstName,
			"last_name":  user.LastName,
		},
		MetadataVersion: userCreatedMetadataVersion,
	}

	created, err := s.userRepo.CreateUserWithEvent(ctx, user, evt)
	if err != nil {
		return ports.CreateUserResponse{}, err
	}
	if !created {
		return ports.CreateUserResponse{Error: "User with this email already exists"}, nil
	}
	return ports.CreateUserResponse{Result: &user}, nil
}

// DischargeUser transitions an active user to discharged and records
// the user_discharged outbox event in the same transaction.
func (s *UserService) DischargeUser(ctx context.Context, userID string) (ports.DischargeUserResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return ports.DischargeUserResponse{Error: "user_id is required"}, nil
	}

	evt := ports.OutboxEvent{
		EventType:   domain.EventUserDischarged,
		Environment: s.environment,
		EventContext: map[string]any{
			"user_id":       userID,
			"discharged_at": time.Now().UTC().Format(time.RFC3339),
		},
		MetadataVersion: userCreatedMetadataVersion,
	}

	discharged, err := s.userRepo.DischargeUserWithEvent(ctx, userID, evt)
	if err != nil {
		return ports.DischargeUserResponse{}, err
	}
	if !discharged {
		return ports.DischargeUserResponse{Error: "User not found or already discharged"}, nil
	}
	return ports.DischargeUserResponse{Discharged: true}, nil
}

func validateCreateUser(req ports.CreateUserRequest) string {
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return "A valid email is required"
	}
	if strings.TrimSpace(req.FirstName) == "" {
		return "first_name is required"
	}
	if strings.TrimSpace(req.LastName) == "" {
		return "last_name is required"
	}
	return ""
}

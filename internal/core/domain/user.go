package domain

import "time"

// Role distinguishes the small set of actors allowed to call the
// producer HTTP surface. Only ADMIN may create users.
type Role string

const (
	RoleAdmin Role = "ADMIN"
)

// UserStatus tracks the lifecycle of a created user. A discharge is
// the second domain event this service emits.
type UserStatus string

const (
	StatusActive     UserStatus = "Active"
	StatusDischarged UserStatus = "Discharged"
)

// User is the business row created by the CreateUser use case. Its
// creation is the event that the outbox relay propagates downstream.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	CreatedAt time.Time  `json:"created_at"`
	Status    UserStatus `json:"status"`
}

// Admin is the one privileged account allowed to call the protected
// producer endpoint. It never rides the outbox: admin bootstrap is an
// operational concern, not a domain event.
type Admin struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

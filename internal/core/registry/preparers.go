package registry

import (
	"fmt"

	"github.com/relaykit/eventrelay/internal/core/domain"
)

// UserCreatedPayload is the typed payload for domain.EventUserCreated,
// metadata_version 1. Its JSON serialization is exactly the sink's
// event_context column.
type UserCreatedPayload struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// UserDischargedPayload is the typed payload for
// domain.EventUserDischarged, metadata_version 1.
type UserDischargedPayload struct {
	UserID       string `json:"user_id"`
	DischargedAt string `json:"discharged_at"`
}

func prepareUserCreated(context map[string]any) (any, error) {
	email, err := stringField(context, "email")
	if err != nil {
		return nil, err
	}
	firstName, err := stringField(context, "first_name")
	if err != nil {
		return nil, err
	}
	lastName, err := stringField(context, "last_name")
	if err != nil {
		return nil, err
	}
	return UserCreatedPayload{Email: email, FirstName: firstName, LastName: lastName}, nil
}

func prepareUserDischarged(context map[string]any) (any, error) {
	userID, err := stringField(context, "user_id")
	if err != nil {
		return nil, err
	}
	dischargedAt, err := stringField(context, "discharged_at")
	if err != nil {
		return nil, err
	}
	return UserDischargedPayload{UserID: userID, DischargedAt: dischargedAt}, nil
}

func stringField(context map[string]any, field string) (string, error) {
	v, ok := context[field]
	if !ok {
		return "", &InvalidContextError{Field: field, Reason: "is missing"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &InvalidContextError{Field: field, Reason: fmt.Sprintf("has type %T, want string", v)}
	}
	return s, nil
}

// Default builds the Registry with every event type this service
// emits.
func Default() *Registry {
	return New(
		Registration{
			Tag:      domain.EventUserCreated,
			Required: []string{"email", "first_name", "last_name"},
			Preparer: prepareUserCreated,
		},
		Registration{
			Tag:      domain.EventUserDischarged,
			Required: []string{"user_id", "discharged_at"},
			Preparer: prepareUserDischarged,
		},
	)
}

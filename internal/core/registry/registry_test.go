package registry

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/relaykit/eventrelay/internal/core/domain"
)

func TestPrepare_UserCreated_RoundTrip(t *testing.T) {
	r := Default()

	ctx := map[string]any{
		"email":      "test@email.com",
		"first_name": "Test",
		"last_name":  "Testovich",
	}

	payload, err := r.Prepare(domain.EventUserCreated, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := UserCreatedPayload{Email: "test@email.com", FirstName: "Test", LastName: "Testovich"}
	if payload != want {
		t.Fatalf("got %+v, want %+v", payload, want)
	}

	first, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("serialization is not stable: %s != %s", first, second)
	}

	const wantJSON = `{"email":"test@email.com","first_name":"Test","last_name":"Testovich"}`
	if string(first) != wantJSON {
		t.Fatalf("got JSON %s, want %s", first, wantJSON)
	}
}

func TestPrepare_UnknownEventType(t *testing.T) {
	r := Default()

	_, err := r.Prepare("unknown", map[string]any{})
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("got %v, want ErrUnknownEventType", err)
	}
}

func TestPrepare_MissingField(t *testing.T) {
	r := Default()

	_, err := r.Prepare(domain.EventUserCreated, map[string]any{
		"email": "test@email.com",
	})

	var invalid *InvalidContextError
	if !errors.As(err, &invalid) {
		t.Fatalf("got %v, want *InvalidContextError", err)
	}
	if invalid.Field != "first_name" {
		t.Fatalf("got missing field %q, want first_name", invalid.Field)
	}
}

func TestPrepare_EmptyField(t *testing.T) {
	r := Default()

	_, err := r.Prepare(domain.EventUserCreated, map[string]any{
		"email":      "test@email.com",
		"first_name": "",
		"last_name":  "Testovich",
	})

	var invalid *InvalidContextError
	if !errors.As(err, &invalid) {
		t.Fatalf("got %v, want *InvalidContextError", err)
	}
}

func TestPrepare_WrongFieldType(t *testing.T) {
	r := Default()

	_, err := r.Prepare(domain.EventUserCreated, map[string]any{
		"email":      123,
		"first_name": "Test",
		"last_name":  "Testovich",
	})

	var invalid *InvalidContextError
	if !errors.As(err, &invalid) {
		t.Fatalf("got %v, want *InvalidContextError", err)
	}
}

func TestPrepare_UserDischarged(t *testing.T) {
	r := Default()

	payload, err := r.Prepare(domain.EventUserDischarged, map[string]any{
		"user_id":       "user-123",
		"discharged_at": "2026-07-29T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := UserDischargedPayload{UserID: "user-123", DischargedAt: "2026-07-29T00:00:00Z"}
	if payload != want {
		t.Fatalf("got %+v, want %+v", payload, want)
	}
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()

	New(
		Registration{Tag: "dup", Preparer: prepareUserCreated},
		Registration{Tag: "dup", Preparer: prepareUserCreated},
	)
}

func TestLookup(t *testing.T) {
	r := Default()

	if _, err := r.Lookup(domain.EventUserCreated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Lookup("nope"); !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("got %v, want ErrUnknownEventType", err)
	}
}

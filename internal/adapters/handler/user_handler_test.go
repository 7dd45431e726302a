package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/relaykit/eventrelay/internal/core/domain"
	"github.com/relaykit/eventrelay/internal/core/ports"
)

type fakeUserUseCase struct {
	createResp    ports.CreateUserResponse
	createErr     error
	dischargeResp ports.DischargeUserResponse
	dischargeErr  error
}

func (f *fakeUserUseCase) CreateUser(ctx context.Context, req ports.CreateUserRequest) (ports.CreateUserResponse, error) {
	return f.createResp, f.createErr
}

func (f *fakeUserUseCase) DischargeUser(ctx context.Context, userID string) (ports.DischargeUserResponse, error) {
	return f.dischargeResp, f.dischargeErr
}

func TestCreate_Success(t *testing.T) {
	user := &domain.User{ID: "u-1", Email: "test@email.com", FirstName: "Test", LastName: "Testovich"}
	h := NewUserHandler(&fakeUserUseCase{createResp: ports.CreateUserResponse{Result: user}})

	req := httptest.NewRequest(http.MethodPost, "/users",
		strings.NewReader(`{"email":"test@email.com","first_name":"Test","last_name":"Testovich"}`))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusCreated)
	}

	var body userEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "" {
		t.Fatalf("unexpected error in envelope: %s", body.Error)
	}
	if body.Result == nil || body.Result.Email != "test@email.com" {
		t.Fatalf("bad result: %+v", body.Result)
	}
}

func TestCreate_DuplicateEmail(t *testing.T) {
	h := NewUserHandler(&fakeUserUseCase{
		createResp: ports.CreateUserResponse{Error: "User with this email already exists"},
	})

	req := httptest.NewRequest(http.MethodPost, "/users",
		strings.NewReader(`{"email":"test@email.com","first_name":"Test","last_name":"Testovich"}`))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusConflict)
	}

	var body userEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Result != nil {
		t.Fatalf("duplicate carried a result: %+v", body.Result)
	}
	if body.Error != "User with this email already exists" {
		t.Fatalf("got error %q", body.Error)
	}
}

func TestCreate_SystemError(t *testing.T) {
	h := NewUserHandler(&fakeUserUseCase{createErr: errors.New("db down")})

	req := httptest.NewRequest(http.MethodPost, "/users",
		strings.NewReader(`{"email":"test@email.com","first_name":"Test","last_name":"Testovich"}`))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestCreate_BadPayload(t *testing.T) {
	h := NewUserHandler(&fakeUserUseCase{})

	req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestDischarge(t *testing.T) {
	h := NewUserHandler(&fakeUserUseCase{
		dischargeResp: ports.DischargeUserResponse{Discharged: true},
	})

	req := httptest.NewRequest(http.MethodPost, "/users/discharge",
		strings.NewReader(`{"user_id":"u-1"}`))
	rec := httptest.NewRecorder()

	h.Discharge(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
	}

	var body dischargeResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Discharged {
		t.Fatalf("bad response: %+v", body)
	}
}

func TestDischarge_Rejected(t *testing.T) {
	h := NewUserHandler(&fakeUserUseCase{
		dischargeResp: ports.DischargeUserResponse{Error: "User not found or already discharged"},
	})

	req := httptest.NewRequest(http.MethodPost, "/users/discharge",
		strings.NewReader(`{"user_id":"u-404"}`))
	rec := httptest.NewRecorder()

	h.Discharge(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusConflict)
	}
}

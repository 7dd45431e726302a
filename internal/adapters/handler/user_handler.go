// Package handler holds the HTTP adapters of the producer API.
package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/relaykit/eventrelay/internal/core/domain"
	"github.com/relaykit/eventrelay/internal/core/ports"
)

// UserHandler exposes the user use cases over HTTP.
type UserHandler struct {
	users ports.UserUseCase
}

func NewUserHandler(users ports.UserUseCase) *UserHandler {
	return &UserHandler{users: users}
}

type createUserRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// userEnvelope is the result-or-error response body. Exactly one of
// the two fields carries content.
type userEnvelope struct {
	Result *domain.User `json:"result"`
	Error  string       `json:"error"`
}

// Create handles POST /users. A duplicate email is a 409 with the
// rejection in the envelope's error field, not a server failure.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	resp, err := h.users.CreateUser(r.Context(), ports.CreateUserRequest{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		log.Printf("create user failed: %v", err)
		http.Error(w, "user creation failed", http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if resp.Error != "" {
		status = http.StatusConflict
	}
	writeJSON(w, status, userEnvelope{Result: resp.Result, Error: resp.Error})
}

type dischargeRequest struct {
	UserID string `json:"user_id"`
}

type dischargeResponse struct {
	Discharged bool   `json:"discharged"`
	Error      string `json:"error"`
}

// Discharge handles POST /users/discharge.
func (h *UserHandler) Discharge(w http.ResponseWriter, r *http.Request) {
	var req dischargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	resp, err := h.users.DischargeUser(r.Context(), req.UserID)
	if err != nil {
		log.Printf("discharge user %s failed: %v", req.UserID, err)
		http.Error(w, "discharge failed", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if resp.Error != "" {
		status = http.StatusConflict
	}
	writeJSON(w, status, dischargeResponse{Discharged: resp.Discharged, Error: resp.Error})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

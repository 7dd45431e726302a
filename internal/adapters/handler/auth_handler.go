package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/relaykit/eventrelay/internal/adapters/middleware"
	"github.com/relaykit/eventrelay/internal/core/ports"
	"github.com/relaykit/eventrelay/internal/core/services"
)

type AuthHandler struct {
	authService ports.AuthService
}

func NewAuthHandler(auth ports.AuthService) *AuthHandler {
	return &AuthHandler{authService: auth}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /login: verifies the admin's credentials and
// returns the signed token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	token, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		log.Printf("login failed: %v", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Logout handles POST /logout, blacklisting the caller's token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	tokenString, ok := r.Context().Value(middleware.TokenKey).(string)
	if !ok || tokenString == "" {
		http.Error(w, "missing token in context", http.StatusUnauthorized)
		return
	}

	if err := h.authService.Logout(r.Context(), tokenString); err != nil {
		log.Printf("logout failed: %v", err)
		http.Error(w, "logout failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out successfully"})
}

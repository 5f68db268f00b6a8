// Package api provides HTTP handlers for the EchoMine control plane.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Sakura-kurt/EchoMine/internal/auth"
	"github.com/Sakura-kurt/EchoMine/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler serves the auth and session endpoints.
type Handler struct {
	auth  *auth.Service
	store store.Store
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(authSvc *auth.Service, st store.Store) *Handler {
	return &Handler{
		auth:  authSvc,
		store: st,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes mounts the control-plane routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/refresh", h.handleRefresh)
	r.Get("/session/{sessionID}", h.handleGetSession)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type sessionResponse struct {
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
	LastActive    time.Time `json:"last_active"`
	HistoryLength int       `json:"history_length"`
}

func decodeCredentials(r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, false
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return req, false
	}
	return req, true
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(r)
	if !ok {
		Error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	userID, err := h.auth.Register(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrDuplicateUsername) {
		Error(w, http.StatusBadRequest, "username already exists")
		return
	}
	if err != nil {
		Error(w, http.StatusInternalServerError, "registration failed")
		return
	}

	JSON(w, http.StatusOK, userResponse{UserID: userID, Username: req.Username})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(r)
	if !ok {
		Error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	token, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		Error(w, http.StatusInternalServerError, "login failed")
		return
	}

	JSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		Error(w, http.StatusUnauthorized, "token is required")
		return
	}

	fresh, err := h.auth.Refresh(r.Context(), token)
	if errors.Is(err, auth.ErrTokenExpired) || errors.Is(err, auth.ErrTokenInvalid) {
		Error(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	if err != nil {
		Error(w, http.StatusInternalServerError, "refresh failed")
		return
	}

	JSON(w, http.StatusOK, tokenResponse{AccessToken: fresh, TokenType: "bearer"})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	user, err := h.auth.Verify(r.Context(), token)
	if err != nil {
		Error(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.store.GetSession(r.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		Error(w, http.StatusInternalServerError, "session lookup failed")
		return
	}

	if session.UserID != user.UserID {
		Error(w, http.StatusForbidden, "access denied")
		return
	}

	JSON(w, http.StatusOK, sessionResponse{
		SessionID:     session.SessionID,
		UserID:        session.UserID,
		CreatedAt:     session.CreatedAt,
		LastActive:    session.LastActive,
		HistoryLength: len(session.History),
	})
}

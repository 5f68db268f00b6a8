package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/Sakura-kurt/EchoMine/internal/auth"
	"github.com/Sakura-kurt/EchoMine/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	st := store.NewRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 30*time.Minute)
	authSvc := auth.NewService(st, "test-secret", time.Hour)

	r := chi.NewRouter()
	NewHandler(authSvc, st).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func registerAndLogin(t *testing.T, srv *httptest.Server, username string) string {
	t.Helper()
	creds := map[string]string{"username": username, "password": "hunter22"}

	resp := postJSON(t, srv.URL+"/auth/register", creds)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected register 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/auth/login", creds)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected login 200, got %d", resp.StatusCode)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	decodeBody(t, resp, &tok)
	if tok.TokenType != "bearer" {
		t.Errorf("Expected token_type bearer, got %q", tok.TokenType)
	}
	return tok.AccessToken
}

func TestRegisterValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"missing password", map[string]string{"username": "alice"}, http.StatusBadRequest},
		{"blank username", map[string]string{"username": "   ", "password": "pw"}, http.StatusBadRequest},
		{"valid", map[string]string{"username": "alice", "password": "pw"}, http.StatusOK},
		{"duplicate", map[string]string{"username": "alice", "password": "pw"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/auth/register", tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestLoginWrongPassword(t *testing.T) {
	srv, _ := newTestServer(t)
	registerAndLogin(t, srv, "bob")

	resp := postJSON(t, srv.URL+"/auth/login", map[string]string{"username": "bob", "password": "wrong"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for wrong password, got %d", resp.StatusCode)
	}
}

func TestRefresh(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "carol")

	resp := postJSON(t, srv.URL+"/auth/refresh?token="+token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected refresh 200, got %d", resp.StatusCode)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	decodeBody(t, resp, &tok)
	if tok.AccessToken == "" {
		t.Error("Expected a fresh token")
	}

	resp = postJSON(t, srv.URL+"/auth/refresh?token=garbage", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for garbage token, got %d", resp.StatusCode)
	}
}

func TestGetSession(t *testing.T) {
	srv, st := newTestServer(t)
	token := registerAndLogin(t, srv, "dave")

	user, err := st.GetUserByUsername(context.Background(), "dave")
	if err != nil {
		t.Fatalf("Failed to load user: %v", err)
	}
	session, _, err := st.GetOrCreateSession(context.Background(), user.UserID)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	resp, err := http.Get(srv.URL + "/session/" + session.SessionID + "?token=" + token)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var got struct {
		SessionID     string `json:"session_id"`
		UserID        string `json:"user_id"`
		HistoryLength int    `json:"history_length"`
	}
	decodeBody(t, resp, &got)
	if got.SessionID != session.SessionID || got.UserID != user.UserID {
		t.Errorf("Unexpected session response: %+v", got)
	}
}

func TestGetSessionErrors(t *testing.T) {
	srv, st := newTestServer(t)
	token := registerAndLogin(t, srv, "erin")
	otherToken := registerAndLogin(t, srv, "frank")

	user, err := st.GetUserByUsername(context.Background(), "erin")
	if err != nil {
		t.Fatalf("Failed to load user: %v", err)
	}
	session, _, err := st.GetOrCreateSession(context.Background(), user.UserID)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"missing token", srv.URL + "/session/" + session.SessionID, http.StatusUnauthorized},
		{"invalid token", srv.URL + "/session/" + session.SessionID + "?token=bad", http.StatusUnauthorized},
		{"unknown session", srv.URL + "/session/sess_missing?token=" + token, http.StatusNotFound},
		{"not the owner", srv.URL + "/session/" + session.SessionID + "?token=" + otherToken, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(tt.url)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

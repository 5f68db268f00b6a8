package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTranscriber(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/transcribe":
			gotBody, _ = io.ReadAll(r.Body)
			json.NewEncoder(w).Encode(map[string]string{"text": "hello there"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tr := NewTranscriber(srv.URL)
	if err := tr.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	text, err := tr.Transcribe(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hello there" {
		t.Errorf("Expected 'hello there', got %q", text)
	}
	if len(gotBody) != 3 {
		t.Errorf("Expected raw 3-byte body, got %d bytes", len(gotBody))
	}
}

func TestTranscriberServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewTranscriber(srv.URL)
	if _, err := tr.Transcribe(context.Background(), []byte{1}); err == nil {
		t.Error("Expected an error on status 500")
	}
	if err := tr.Ping(context.Background()); err == nil {
		t.Error("Expected Ping to fail on status 500")
	}
}

func TestAnswerer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		json.NewDecoder(r.Body).Decode(&in)
		if in["query"] != "what time is it" {
			t.Errorf("Unexpected query: %q", in["query"])
		}
		json.NewEncoder(w).Encode(map[string]string{"response": "noon"})
	}))
	defer srv.Close()

	a := NewAnswerer(srv.URL)
	resp, err := a.Answer(context.Background(), "what time is it")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if resp != "noon" {
		t.Errorf("Expected 'noon', got %q", resp)
	}
}

func TestMemoryGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"remember": true, "summary": "likes jazz"})
	}))
	defer srv.Close()

	g := NewMemoryGate(srv.URL)
	remember, summary, err := g.Evaluate(context.Background(), "i love jazz", "noted")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !remember || summary != "likes jazz" {
		t.Errorf("Expected remember with summary, got %v %q", remember, summary)
	}
}

// Package upstream provides HTTP clients for the external collaborators:
// the transcription model, the answer-generation engine, and the
// long-term-memory gate.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Client is a thin JSON-over-HTTP client shared by the collaborator
// wrappers.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a collaborator client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			// Per-call deadlines come from the caller's context.
			Timeout: 0,
		},
	}
}

// Ping verifies the collaborator is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Transcriber calls the transcription model with raw PCM bytes.
type Transcriber struct {
	client *Client
}

// NewTranscriber creates a transcription client.
func NewTranscriber(baseURL string) *Transcriber {
	return &Transcriber{client: NewClient(baseURL)}
}

// Ping verifies the transcription endpoint is reachable.
func (t *Transcriber) Ping(ctx context.Context) error {
	return t.client.Ping(ctx)
}

// Transcribe converts a buffered utterance to text.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.client.baseURL+"/transcribe", bytes.NewReader(pcm))
	if err != nil {
		return "", fmt.Errorf("build transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.client.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("transcribe: status %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcribe response: %w", err)
	}
	return out.Text, nil
}

// Answerer calls the answer-generation engine.
type Answerer struct {
	client *Client
}

// NewAnswerer creates an answer-engine client.
func NewAnswerer(baseURL string) *Answerer {
	return &Answerer{client: NewClient(baseURL)}
}

// Answer produces a response for the query text.
func (a *Answerer) Answer(ctx context.Context, query string) (string, error) {
	in := map[string]string{"query": query}
	var out struct {
		Response string `json:"response"`
	}
	if err := a.client.postJSON(ctx, "/answer", in, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// MemoryGate calls the long-term-memory gate.
type MemoryGate struct {
	client *Client
}

// NewMemoryGate creates a memory-gate client.
func NewMemoryGate(baseURL string) *MemoryGate {
	return &MemoryGate{client: NewClient(baseURL)}
}

// Evaluate decides whether an exchange is worth remembering and returns
// the summary to store.
func (g *MemoryGate) Evaluate(ctx context.Context, userText, assistantText string) (bool, string, error) {
	in := map[string]string{
		"user_message":       userText,
		"assistant_response": assistantText,
	}
	var out struct {
		Remember bool   `json:"remember"`
		Summary  string `json:"summary"`
	}
	if err := g.client.postJSON(ctx, "/memory/gate", in, &out); err != nil {
		return false, "", err
	}
	return out.Remember, out.Summary, nil
}

package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sakura-kurt/EchoMine/internal/dispatch"
)

type fakeAnswerer struct {
	response string
	err      error
	queries  []string
}

func (f *fakeAnswerer) Answer(ctx context.Context, query string) (string, error) {
	f.queries = append(f.queries, query)
	return f.response, f.err
}

type fakeGate struct {
	remember bool
	summary  string
	err      error
	calls    int
}

func (f *fakeGate) Evaluate(ctx context.Context, userText, assistantText string) (bool, string, error) {
	f.calls++
	return f.remember, f.summary, f.err
}

func TestAnswerWorkerDropsMalformedJob(t *testing.T) {
	a := &fakeAnswerer{}
	w := NewAnswerWorker(nil, a, time.Second, 3)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "not json"},
		{"empty text", `{"text": "", "connection_id": "c1", "seq": 1}`},
		{"missing connection id", `{"text": "hello", "seq": 1}`},
		{"unknown field", `{"text": "hello", "connection_id": "c1", "seq": 1, "extra": true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.handle(context.Background(), dispatch.Envelope{Body: []byte(tt.body)})
			if err != nil {
				t.Errorf("Expected malformed job to be dropped without error, got %v", err)
			}
		})
	}
	if len(a.queries) != 0 {
		t.Errorf("Expected answerer to never run, got queries %v", a.queries)
	}
}

func TestAnswerWorkerReturnsErrorForRetry(t *testing.T) {
	a := &fakeAnswerer{err: errors.New("model overloaded")}
	w := NewAnswerWorker(nil, a, time.Second, 3)

	body := `{"text": "what is the weather", "connection_id": "c1", "seq": 2}`
	err := w.handle(context.Background(), dispatch.Envelope{Body: []byte(body), Attempt: 1})
	if err == nil {
		t.Fatal("Expected an error so the job is dead-lettered for retry")
	}
	if len(a.queries) != 1 || a.queries[0] != "what is the weather" {
		t.Errorf("Unexpected answerer queries: %v", a.queries)
	}
}

func TestMemoryWorkerHandle(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		gate     *fakeGate
		wantErr  bool
		wantCall int
	}{
		{"malformed dropped", "oops", &fakeGate{}, false, 0},
		{"missing user message", `{"assistant_response": "hi"}`, &fakeGate{}, false, 0},
		{"remembered", `{"user_message": "hi", "assistant_response": "hello"}`, &fakeGate{remember: true, summary: "greeting"}, false, 1},
		{"skipped", `{"user_message": "hi", "assistant_response": "hello"}`, &fakeGate{}, false, 1},
		{"gate failure retried", `{"user_message": "hi", "assistant_response": "hello"}`, &fakeGate{err: errors.New("gate down")}, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewMemoryWorker(nil, tt.gate, time.Second, 3)
			err := w.handle(context.Background(), dispatch.Envelope{Body: []byte(tt.body)})
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if tt.gate.calls != tt.wantCall {
				t.Errorf("Expected %d gate calls, got %d", tt.wantCall, tt.gate.calls)
			}
		})
	}
}

package dispatch

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func deathTable(counts ...int64) amqp.Table {
	deaths := make([]interface{}, len(counts))
	for i, c := range counts {
		deaths[i] = amqp.Table{"count": c, "queue": "answers.queries.dlx"}
	}
	return amqp.Table{"x-death": deaths}
}

func TestRetryCount(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"no headers", nil, 0},
		{"no x-death", amqp.Table{"content-type": "application/json"}, 0},
		{"single death", deathTable(1), 1},
		{"accumulated deaths", deathTable(2, 1), 3},
		{"malformed entry", amqp.Table{"x-death": []interface{}{"not a table"}}, 0},
		{"int32 count", amqp.Table{"x-death": []interface{}{amqp.Table{"count": int32(2)}}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryCount(tt.headers); got != tt.want {
				t.Errorf("Expected retry count %d, got %d", tt.want, got)
			}
		})
	}
}

type fakeAcker struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcker) Ack(multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcker) Nack(multiple, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func TestDispatchDeliveryAcksOnSuccess(t *testing.T) {
	d := &fakeAcker{}
	called := false
	h := func(ctx context.Context, msg Envelope) error {
		called = true
		if string(msg.Body) != "payload" {
			t.Errorf("Expected body 'payload', got %q", msg.Body)
		}
		if msg.Attempt != 0 {
			t.Errorf("Expected attempt 0 on first delivery, got %d", msg.Attempt)
		}
		return nil
	}

	dispatchDelivery(context.Background(), h, 3, "q", nil, []byte("payload"), d)

	if !called {
		t.Error("Expected handler to be called")
	}
	if !d.acked || d.nacked {
		t.Errorf("Expected ack without nack, got ack=%v nack=%v", d.acked, d.nacked)
	}
}

func TestDispatchDeliveryDeadLettersOnError(t *testing.T) {
	d := &fakeAcker{}
	h := func(ctx context.Context, msg Envelope) error {
		return errors.New("downstream unavailable")
	}

	dispatchDelivery(context.Background(), h, 3, "q", deathTable(1), []byte("payload"), d)

	if d.acked {
		t.Error("Expected no ack on handler failure")
	}
	if !d.nacked || d.requeue {
		t.Errorf("Expected nack without requeue, got nack=%v requeue=%v", d.nacked, d.requeue)
	}
}

func TestDispatchDeliveryDiscardsAtRetryBound(t *testing.T) {
	d := &fakeAcker{}
	called := false
	h := func(ctx context.Context, msg Envelope) error {
		called = true
		return nil
	}

	dispatchDelivery(context.Background(), h, 3, "q", deathTable(3), []byte("payload"), d)

	if called {
		t.Error("Expected poison message to skip the handler")
	}
	if !d.acked || d.nacked {
		t.Errorf("Expected discard via ack, got ack=%v nack=%v", d.acked, d.nacked)
	}
}

func TestDispatchDeliveryAttemptBelowBound(t *testing.T) {
	d := &fakeAcker{}
	var attempt int
	h := func(ctx context.Context, msg Envelope) error {
		attempt = msg.Attempt
		return nil
	}

	dispatchDelivery(context.Background(), h, 3, "q", deathTable(2), []byte("payload"), d)

	if attempt != 2 {
		t.Errorf("Expected attempt 2, got %d", attempt)
	}
	if !d.acked {
		t.Error("Expected ack after successful retry")
	}
}

func TestReplyQueueName(t *testing.T) {
	got := ReplyQueueName("abc123")
	want := "answers.replies.abc123"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

// Package worker runs the queue consumers that generate answers and gate
// long-term memories.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sakura-kurt/EchoMine/internal/dispatch"
	"github.com/Sakura-kurt/EchoMine/internal/domain"
)

// Answerer produces a response for a query. Implementations may block;
// calls are bounded by the worker's timeout.
type Answerer interface {
	Answer(ctx context.Context, query string) (string, error)
}

// AnswerWorker consumes submitted utterances, generates answers, and
// publishes correlated replies.
type AnswerWorker struct {
	fabric     *dispatch.Fabric
	answerer   Answerer
	timeout    time.Duration
	maxRetries int
}

// NewAnswerWorker creates an answer worker.
func NewAnswerWorker(fabric *dispatch.Fabric, a Answerer, timeout time.Duration, maxRetries int) *AnswerWorker {
	return &AnswerWorker{
		fabric:     fabric,
		answerer:   a,
		timeout:    timeout,
		maxRetries: maxRetries,
	}
}

// Run consumes the utterance queue until ctx is cancelled. At-least-once
// delivery: answering is read-mostly, so a redelivered job is safe to
// process again.
func (w *AnswerWorker) Run(ctx context.Context) error {
	return w.fabric.Consume(ctx, dispatch.UtteranceQueue, w.maxRetries, w.handle)
}

func (w *AnswerWorker) handle(ctx context.Context, msg dispatch.Envelope) error {
	job, err := domain.DecodeUtteranceJob(msg.Body)
	if err != nil {
		// Malformed bodies never become processable; drop instead of retrying.
		slog.Warn("Dropping malformed utterance job", "error", err)
		return nil
	}

	slog.Info("Processing utterance", "connection_id", job.ConnectionID, "seq", job.Seq, "attempt", msg.Attempt+1)

	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	response, err := w.answerer.Answer(callCtx, job.Text)
	if err != nil {
		return fmt.Errorf("answer seq=%d: %w", job.Seq, err)
	}

	reply := domain.Reply{
		Query:    job.Text,
		Response: response,
		Seq:      job.Seq,
	}
	if err := w.fabric.PublishReply(ctx, job.ConnectionID, reply); err != nil {
		return fmt.Errorf("publish reply seq=%d: %w", job.Seq, err)
	}

	// Memory gating is a side effect with its own error boundary; its
	// failure never affects the answer path.
	memory := domain.MemoryJob{
		UserMessage:       job.Text,
		AssistantResponse: response,
	}
	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.fabric.PublishMemory(pubCtx, memory); err != nil {
			slog.Error("Failed to publish memory job", "connection_id", job.ConnectionID, "seq", job.Seq, "error", err)
		}
	}()

	slog.Info("Reply published", "connection_id", job.ConnectionID, "seq", job.Seq)
	return nil
}

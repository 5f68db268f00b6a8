package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sakura-kurt/EchoMine/internal/dispatch"
	"github.com/Sakura-kurt/EchoMine/internal/domain"
)

// MemoryGate decides whether an exchange is worth remembering and, if so,
// stores the returned summary on its own side.
type MemoryGate interface {
	Evaluate(ctx context.Context, userText, assistantText string) (remember bool, summary string, err error)
}

// MemoryWorker consumes memory-gate jobs.
type MemoryWorker struct {
	fabric     *dispatch.Fabric
	gate       MemoryGate
	timeout    time.Duration
	maxRetries int
}

// NewMemoryWorker creates a memory worker.
func NewMemoryWorker(fabric *dispatch.Fabric, gate MemoryGate, timeout time.Duration, maxRetries int) *MemoryWorker {
	return &MemoryWorker{
		fabric:     fabric,
		gate:       gate,
		timeout:    timeout,
		maxRetries: maxRetries,
	}
}

// Run consumes the memory queue until ctx is cancelled.
func (w *MemoryWorker) Run(ctx context.Context) error {
	return w.fabric.Consume(ctx, dispatch.MemoryQueue, w.maxRetries, w.handle)
}

func (w *MemoryWorker) handle(ctx context.Context, msg dispatch.Envelope) error {
	job, err := domain.DecodeMemoryJob(msg.Body)
	if err != nil {
		slog.Warn("Dropping malformed memory job", "error", err)
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	remember, summary, err := w.gate.Evaluate(callCtx, job.UserMessage, job.AssistantResponse)
	if err != nil {
		return fmt.Errorf("memory gate: %w", err)
	}

	if remember {
		slog.Info("Memory saved", "summary_length", len(summary))
	} else {
		slog.Info("Memory skipped", "summary_length", len(summary))
	}
	return nil
}

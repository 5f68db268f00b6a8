package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Envelope carries one queued message with its explicit retry metadata.
// Attempt counts prior delivery failures, summed across dead-letter
// transits.
type Envelope struct {
	Body    []byte
	Attempt int
}

// Handler processes one queued message. A non-nil error routes the
// message through the dead-letter cycle for automatic retry.
type Handler func(ctx context.Context, msg Envelope) error

// acker is the slice of amqp.Delivery the dispatch decision needs.
type acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// RetryCount sums prior delivery failures from the x-death header
// accumulated across dead-letter transits.
func RetryCount(headers amqp.Table) int {
	deaths, ok := headers["x-death"].([]interface{})
	if !ok {
		return 0
	}

	total := 0
	for _, d := range deaths {
		entry, ok := d.(amqp.Table)
		if !ok {
			continue
		}
		switch count := entry["count"].(type) {
		case int64:
			total += int(count)
		case int32:
			total += int(count)
		case int:
			total += count
		}
	}
	return total
}

// Consume processes a durable queue one message at a time until ctx is
// cancelled or the delivery stream closes. Messages whose cumulative
// failure count reaches maxRetries are acknowledged without processing.
func (f *Fabric) Consume(ctx context.Context, queue string, maxRetries int, h Handler) error {
	ch, err := f.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	slog.Info("Consuming", "queue", queue, "max_retries", maxRetries)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery stream for %s closed", queue)
			}
			dispatchDelivery(ctx, h, maxRetries, queue, d.Headers, d.Body, &d)
		}
	}
}

// dispatchDelivery applies the retry bound and acks/nacks accordingly.
// A nack without requeue routes the message to the dead-letter hold queue.
func dispatchDelivery(ctx context.Context, h Handler, maxRetries int, queue string, headers amqp.Table, body []byte, d acker) {
	retries := RetryCount(headers)
	if retries >= maxRetries {
		slog.Warn("Discarding poison message", "queue", queue, "retries", retries)
		if err := d.Ack(false); err != nil {
			slog.Error("Ack failed", "queue", queue, "error", err)
		}
		return
	}

	if err := h(ctx, Envelope{Body: body, Attempt: retries}); err != nil {
		slog.Warn("Handler failed, dead-lettering", "queue", queue, "attempt", retries+1, "error", err)
		if err := d.Nack(false, false); err != nil {
			slog.Error("Nack failed", "queue", queue, "error", err)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		slog.Error("Ack failed", "queue", queue, "error", err)
	}
}

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Sakura-kurt/EchoMine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Fabric wraps an AMQP connection with the declared topology. It owns no
// durable application state, only queue contents.
type Fabric struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Connect dials the broker and declares the topology.
func Connect(url string) (*Fabric, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := DeclareTopology(ch); err != nil {
		conn.Close()
		return nil, err
	}

	return &Fabric{conn: conn, ch: ch}, nil
}

// Close releases the connection.
func (f *Fabric) Close() error {
	return f.conn.Close()
}

// PublishUtterance submits a completed utterance for answer generation.
// Durable publish with persistent delivery.
func (f *Fabric) PublishUtterance(ctx context.Context, job domain.UtteranceJob) error {
	return f.publish(ctx, AnswersExchange, UtteranceRoutingKey, job, true)
}

// PublishMemory submits a memory-gate job. Durable publish with persistent
// delivery.
func (f *Fabric) PublishMemory(ctx context.Context, job domain.MemoryJob) error {
	return f.publish(ctx, MemoryExchange, MemoryRoutingKey, job, true)
}

// PublishReply delivers an answer to the reply queue owned by the
// originating connection. Replies are transient; if the connection is
// gone, the queue and the reply go with it.
func (f *Fabric) PublishReply(ctx context.Context, connectionID string, reply domain.Reply) error {
	return f.publish(ctx, "", ReplyQueueName(connectionID), reply, false)
}

func (f *Fabric) publish(ctx context.Context, exchange, key string, v any, persistent bool) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	msg := amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}
	if persistent {
		msg.DeliveryMode = amqp.Persistent
	}

	if err := f.ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, key, err)
	}
	return nil
}

// ReplySubscription consumes the exclusive, auto-deleted reply queue for
// one live connection.
type ReplySubscription struct {
	ch         *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
	closeOnce  sync.Once
}

// OpenReplies declares the connection's reply queue on a dedicated channel
// and starts consuming it. Must be called before the connection accepts
// any audio so early replies are not lost.
func (f *Fabric) OpenReplies(connectionID string) (*ReplySubscription, error) {
	ch, err := f.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open reply channel: %w", err)
	}

	queue := ReplyQueueName(connectionID)
	if _, err := ch.QueueDeclare(queue, false, true, true, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare reply queue %s: %w", queue, err)
	}

	deliveries, err := ch.Consume(queue, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume reply queue %s: %w", queue, err)
	}

	return &ReplySubscription{ch: ch, queue: queue, deliveries: deliveries}, nil
}

// Deliveries returns the reply stream. The channel closes when the
// subscription is released.
func (s *ReplySubscription) Deliveries() <-chan amqp.Delivery {
	return s.deliveries
}

// Close releases the subscription and, with it, the exclusive reply queue.
// Idempotent.
func (s *ReplySubscription) Close() {
	s.closeOnce.Do(func() {
		if err := s.ch.Close(); err != nil {
			slog.Debug("Reply channel close failed", "queue", s.queue, "error", err)
		}
	})
}

// Package dispatch provides the durable queue fabric decoupling utterance
// production from answer generation, with dead-letter retry and
// per-connection reply correlation.
package dispatch

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange and queue names. Each primary queue dead-letters into a hold
// queue which, after a fixed delay, routes the message back to the
// primary.
const (
	AnswersExchange    = "answers"
	MemoryExchange     = "memory"
	DeadLetterExchange = "dlx"

	UtteranceQueue     = "answers.queries"
	UtteranceHoldQueue = "answers.queries.dlx"
	MemoryQueue        = "memory.gate"
	MemoryHoldQueue    = "memory.gate.dlx"

	UtteranceRoutingKey = "queries"
	MemoryRoutingKey    = "gate"

	replyQueuePrefix = "answers.replies."
)

// DeadLetterHold is how long a failed message waits before automatic
// re-delivery to its primary queue.
const DeadLetterHold = 5 * time.Second

// DefaultMaxRetries bounds automatic re-delivery; past it the consumer
// discards the message.
const DefaultMaxRetries = 3

// ReplyQueueName returns the exclusive reply queue for a connection.
func ReplyQueueName(connectionID string) string {
	return replyQueuePrefix + connectionID
}

// DeclareTopology declares all exchanges, primary queues, and dead-letter
// hold queues. Declarations are idempotent; every process touching the
// fabric calls this on startup.
func DeclareTopology(ch *amqp.Channel) error {
	for _, name := range []string{AnswersExchange, MemoryExchange, DeadLetterExchange} {
		if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}

	bindings := []struct {
		queue      string
		exchange   string
		routingKey string
		args       amqp.Table
	}{
		{
			queue:      UtteranceQueue,
			exchange:   AnswersExchange,
			routingKey: UtteranceRoutingKey,
			args: amqp.Table{
				"x-dead-letter-exchange":    DeadLetterExchange,
				"x-dead-letter-routing-key": UtteranceHoldQueue,
			},
		},
		{
			queue:      UtteranceHoldQueue,
			exchange:   DeadLetterExchange,
			routingKey: UtteranceHoldQueue,
			args: amqp.Table{
				"x-message-ttl":             DeadLetterHold.Milliseconds(),
				"x-dead-letter-exchange":    AnswersExchange,
				"x-dead-letter-routing-key": UtteranceRoutingKey,
			},
		},
		{
			queue:      MemoryQueue,
			exchange:   MemoryExchange,
			routingKey: MemoryRoutingKey,
			args: amqp.Table{
				"x-dead-letter-exchange":    DeadLetterExchange,
				"x-dead-letter-routing-key": MemoryHoldQueue,
			},
		},
		{
			queue:      MemoryHoldQueue,
			exchange:   DeadLetterExchange,
			routingKey: MemoryHoldQueue,
			args: amqp.Table{
				"x-message-ttl":             DeadLetterHold.Milliseconds(),
				"x-dead-letter-exchange":    MemoryExchange,
				"x-dead-letter-routing-key": MemoryRoutingKey,
			},
		},
	}

	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, b.args); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.routingKey, b.exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", b.queue, err)
		}
	}

	return nil
}

// Package events publishes gateway lifecycle and message events to an AMQP
// topic exchange.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Skynet2005/MobileGame-sub001/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Routing keys.
const (
	KeyConnect     = "gateway.connect"
	KeyDisconnect  = "gateway.disconnect"
	KeyChatMessage = "chat.message"
)

// Envelope wraps every published event.
type Envelope struct {
	EventType  string      `json:"event_type"`
	TraceID    string      `json:"trace_id,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// Publisher publishes events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher builds an AMQP publisher, or a noop publisher when amqpURL is
// empty or the broker is unreachable.
func NewPublisher(amqpURL, exchange string, logger *zap.Logger) Publisher {
	if amqpURL == "" {
		logger.Info("event publishing disabled, using noop", zap.String("reason", "empty amqp url"))
		return Noop{}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		logger.Warn("event publishing disabled, using noop", zap.Error(err))
		return Noop{}
	}
	ch, err := conn.Channel()
	if err != nil {
		logger.Warn("event publishing disabled, using noop", zap.Error(err))
		_ = conn.Close()
		return Noop{}
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		logger.Warn("event publishing disabled, using noop", zap.Error(err))
		_ = multierr.Append(ch.Close(), conn.Close())
		return Noop{}
	}

	logger.Info("amqp connected", zap.String("exchange", exchange))
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (p *amqpPublisher) Close() error {
	return multierr.Append(p.ch.Close(), p.conn.Close())
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }
func (Noop) Close() error                               { return nil }

type job struct {
	key string
	env Envelope
}

// Async decouples publishing from the caller with a bounded queue. Events are
// dropped when the queue is full.
type Async struct {
	next     Publisher
	q        chan job
	wg       sync.WaitGroup
	stopOnce sync.Once
	timeout  time.Duration
	logger   *zap.Logger
}

// NewAsync starts a single worker publishing through next.
func NewAsync(next Publisher, size int, logger *zap.Logger) *Async {
	if size <= 0 {
		size = 1024
	}
	a := &Async{next: next, q: make(chan job, size), timeout: 2 * time.Second, logger: logger}
	a.wg.Add(1)
	go a.run()
	return a
}

// Emit enqueues an event without blocking.
func (a *Async) Emit(routingKey, traceID string, payload interface{}) {
	j := job{key: routingKey, env: Envelope{
		EventType:  routingKey,
		TraceID:    traceID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}}
	select {
	case a.q <- j:
	default:
		metrics.IncAMQPPublishError()
		a.logger.Warn("event queue full, dropping", zap.String("routing_key", routingKey))
	}
}

func (a *Async) run() {
	defer a.wg.Done()
	for j := range a.q {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Publish(ctx, j.key, j.env); err != nil {
			metrics.IncAMQPPublishError()
			a.logger.Warn("event publish failed", zap.String("routing_key", j.key), zap.Error(err))
		}
		cancel()
	}
}

// Close drains queued events and closes the underlying publisher.
// Emit must not be called after Close.
func (a *Async) Close() error {
	a.stopOnce.Do(func() { close(a.q) })
	a.wg.Wait()
	return a.next.Close()
}

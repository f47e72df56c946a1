package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
)

// Event types double as routing keys on the topic exchange
const (
	TypeAdminAlert    = "admin.alert"
	TypeTaskCompleted = "task.completed"
	TypeTaskFailed    = "task.failed"
	TypePlanExpiring  = "plan.expiring"
	TypeTheftDetected = "shield.theft"
)

// Event is one message on the bus
type Event struct {
	Type    string                 `json:"type"`
	UserID  int64                  `json:"user_id,omitempty"`
	TaskID  string                 `json:"task_id,omitempty"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Time    time.Time              `json:"time"`
}

// Publisher sends events to whoever listens
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// New returns an AMQP publisher when events are enabled and a no-op
// publisher otherwise
func New(cfg config.EventsConfig, logger *logging.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	return NewAMQP(cfg.URL, cfg.Exchange, logger)
}

// AMQPPublisher publishes JSON events to a durable topic exchange
type AMQPPublisher struct {
	exchange string
	logger   *logging.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQP connects to the broker and declares the exchange
func NewAMQP(url, exchange string, logger *logging.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPPublisher{
		exchange: exchange,
		logger:   logger.Component("events"),
		conn:     conn,
		channel:  channel,
	}, nil
}

// Publish sends evt with its type as the routing key
func (p *AMQPPublisher) Publish(ctx context.Context, evt Event) error {
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		evt.Type,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    evt.Time,
		},
	)
	if err != nil {
		p.logger.WithError(err).WithField("type", evt.Type).Warn("Failed to publish event")
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the channel and connection
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Nop drops every event
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher
func (Nop) Close() error { return nil }

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher
func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Close implements Publisher
func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t
func (r *Recorder) OfType(t string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

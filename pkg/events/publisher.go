// Package events publishes domain events for downstream consumers (notification
// fan-out, dashboards). Publishing is best-effort: a broker outage never fails
// the operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"lessonhub/internal/util"
)

const (
	TypeBookingTransitioned = "booking.transitioned"
	TypeDraftProposed       = "draft.proposed"
)

// Event is the envelope published for every domain event.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OwnerID    string         `json:"ownerId,omitempty"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	RequestID  string         `json:"requestId,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Publisher sends domain events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// AMQPConfig configures the RabbitMQ publisher.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

type amqpConnection interface {
	openChannel() (amqpChannel, error)
	IsClosed() bool
	Close() error
}

type dialedConnection struct {
	*amqp.Connection
}

func (c dialedConnection) openChannel() (amqpChannel, error) {
	return c.Channel()
}

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return dialedConnection{conn}, nil
}

// AMQPPublisher publishes JSON events to a topic exchange, routed by event type.
type AMQPPublisher struct {
	url      string
	exchange string
	dial     func(url string) (amqpConnection, error)

	mu   sync.Mutex
	conn amqpConnection
	ch   amqpChannel
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	return newAMQPPublisher(cfg, dialAMQP)
}

func newAMQPPublisher(cfg AMQPConfig, dial func(string) (amqpConnection, error)) (*AMQPPublisher, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		exchange = "lessonhub.events"
	}
	p := &AMQPPublisher{url: url, exchange: exchange, dial: dial}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	conn, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	p.conn = conn
	if err := p.openChannel(); err != nil {
		_ = conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

// openChannel replaces the channel on the current connection. A channel-level
// exception closes the channel but leaves the connection up.
func (p *AMQPPublisher) openChannel() error {
	ch, err := p.conn.openChannel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.ch = ch
	return nil
}

// Publish sends evt. A closed connection is redialed and a closed channel
// reopened, once per call.
func (p *AMQPPublisher) Publish(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = util.NewID()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.conn == nil || p.conn.IsClosed():
		if err := p.connect(); err != nil {
			return err
		}
	case p.ch == nil || p.ch.IsClosed():
		if err := p.openChannel(); err != nil {
			return err
		}
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, evt.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Timestamp:    evt.OccurredAt,
		Type:         evt.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return nil
}

// Close shuts the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishBestEffort sends evt and logs instead of returning a failure.
func PublishBestEffort(ctx context.Context, pub Publisher, evt Event) {
	if pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pub.Publish(ctx, evt); err != nil {
		util.LoggerFromContext(ctx).Warn("event publish failed", "type", evt.Type, "entity_id", evt.EntityID, "err", err)
	}
}

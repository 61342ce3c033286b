// Package events relays domain events to NATS for the other AutoCareers
// services (notifications, analytics, the recommendation pipeline). The
// messaging core is the producer only; it never consumes these subjects.
// The publisher is optional: a nil *Publisher is a no-op, so the core runs
// unchanged without a broker.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/autocareers/messaging/internal/model"
)

// NATS subjects published by the messaging core.
const (
	SubjectMessageCreated      = "messaging.message.created"
	SubjectConversationCreated = "messaging.conversation.created"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "autocareers-messaging",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Publisher wraps the NATS connection for outbound domain events.
type Publisher struct {
	conn *nats.Conn
}

// Connect establishes the NATS connection and returns a ready publisher.
func Connect(config Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())
	return &Publisher{conn: nc}, nil
}

// MessageCreated publishes a message-created event. Best effort: a broker
// outage must never fail the request that created the message, so errors are
// logged and swallowed.
func (p *Publisher) MessageCreated(m *model.Message) {
	p.publish(SubjectMessageCreated, m)
}

// ConversationCreated publishes a conversation-created event.
func (p *Publisher) ConversationCreated(c *model.Conversation) {
	p.publish(SubjectConversationCreated, c)
}

func (p *Publisher) publish(subject string, payload interface{}) {
	if p == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[nats] marshal for %s: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("[nats] publish %s: %v", subject, err)
	}
}

// Close drains and closes the NATS connection. Safe on a nil publisher.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] publisher closed")
}

package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/vilaca/issuehub/internal/domain"
)

// Relay fans events out through a NATS subject so that every server replica
// delivers them to its own hub.
type Relay struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	hub     *Hub
	logger  Logger
}

var _ Publisher = (*Relay)(nil)

// NewRelay connects to NATS at url and forwards every message on subject
// into hub.
func NewRelay(url, subject string, hub *Hub, logger Logger) (*Relay, error) {
	conn, err := nats.Connect(url,
		nats.Name("issuehub"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Printf("[Relay] disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Printf("[Relay] reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	r := &Relay{conn: conn, subject: subject, hub: hub, logger: logger}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		r.deliver(msg.Data)
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	r.sub = sub

	return r, nil
}

// Publish sends event to every replica, including this one.
func (r *Relay) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := r.conn.Publish(r.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// deliver validates an inbound frame and hands it to the local hub.
func (r *Relay) deliver(data []byte) {
	var event domain.Event
	if err := json.Unmarshal(data, &event); err != nil || event.Kind == "" {
		r.logger.Printf("[Relay] ignoring malformed message: %v", err)
		return
	}
	r.hub.Broadcast(data)
}

// Close unsubscribes and drains the connection.
func (r *Relay) Close() error {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	return r.conn.Drain()
}

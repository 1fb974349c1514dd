package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes events as JSON to per-event NATS subjects under a
// configurable prefix.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to the given NATS URL.
func NewNATSPublisher(url, prefix, name string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name(name))
	if err != nil {
		return nil, fmt.Errorf("notify: connect to NATS: %w", err)
	}
	if prefix == "" {
		prefix = "qms"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// Publish serializes the event and publishes it to "<prefix>.<event name>".
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("notify: context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	subject := p.prefix + "." + event.Name
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("notify: publish %s: %w", subject, err)
	}
	return nil
}

// HealthCheck reports whether the connection is usable.
func (p *NATSPublisher) HealthCheck(_ context.Context) error {
	if p.conn == nil || !p.conn.IsConnected() {
		return fmt.Errorf("notify: NATS connection is down")
	}
	return nil
}

// Close drains and closes the underlying connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}

// Package events publishes usage events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
)

// UsageEvent is published once per charged inference call.
type UsageEvent struct {
	ID               string    `json:"id"`
	UserID           uint      `json:"user_id"`
	Username         string    `json:"username"`
	Model            string    `json:"model"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	CachedTokens     int64     `json:"cached_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	At               time.Time `json:"at"`
}

// Publisher emits usage events.
type Publisher interface {
	PublishUsage(ctx context.Context, ev UsageEvent) error
	Close()
}

// Noop discards every event.
type Noop struct{}

func (Noop) PublishUsage(context.Context, UsageEvent) error { return nil }
func (Noop) Close()                                         {}

// NATSPublisher publishes JSON events to a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to url and publishes on subject.
func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	logger = logger.With("component", "events")
	conn, err := nats.Connect(url,
		nats.Name("blacksheep"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}, nil
}

// PublishUsage fills in the event id and timestamp when unset and publishes.
func (p *NATSPublisher) PublishUsage(_ context.Context, ev UsageEvent) error {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode usage event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish usage event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain failed", "error", err)
		p.conn.Close()
	}
}

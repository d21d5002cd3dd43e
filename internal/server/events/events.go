// Package events publishes file lifecycle notifications. Publishing is
// best-effort: callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Subjects published by the access service and the cleanup sweeper.
const (
	SubjectUploaded   = "files.uploaded"
	SubjectDownloaded = "files.downloaded"
	SubjectDeleted    = "files.deleted"
	SubjectExpired    = "files.expired"
)

// FileEvent is the payload of every file lifecycle message.
type FileEvent struct {
	Token          string    `json:"token"`
	Filename       string    `json:"filename"`
	OwnerID        string    `json:"owner_id,omitempty"`
	Size           int64     `json:"size,omitempty"`
	DownloadsCount int       `json:"downloads_count"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, subject string, event FileEvent) error
	Close()
}

// NopPublisher drops every event. Used when NATS is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, FileEvent) error { return nil }
func (NopPublisher) Close()                                           {}

// NATSPublisher publishes events to a JetStream stream.
type NATSPublisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Connect dials NATS, opens a JetStream context and makes sure the stream
// carrying files.* exists.
func Connect(url, stream string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("sharelink"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			slog.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open jetstream context: %w", err)
	}

	if err := ensureStream(js, stream); err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("connected to nats", "url", conn.ConnectedUrl(), "stream", stream)
	return &NATSPublisher{conn: conn, js: js}, nil
}

func ensureStream(js nats.JetStreamContext, name string) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", name, err)
	}

	if _, err := js.AddStream(streamConfig(name)); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", name, err)
	}
	slog.Info("created nats stream", "stream", name)
	return nil
}

// streamConfig captures every file event subject for 30 days.
func streamConfig(name string) *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:     name,
		Subjects: []string{"files.*"},
		Storage:  nats.FileStorage,
		MaxAge:   30 * 24 * time.Hour,
	}
}

// Publish sends one event. Each message carries a unique ID so JetStream
// discards redelivered duplicates.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, event FileEvent) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}

	if _, err := p.js.Publish(subject, data, nats.MsgId(uuid.NewString()), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		slog.Warn("nats drain failed", "error", err)
		p.conn.Close()
	}
}

// Encode serializes an event for the wire.
func Encode(event FileEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return data, nil
}

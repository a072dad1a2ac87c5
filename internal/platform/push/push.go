// Package push delivers mobile push notifications to device tokens over one
// of several transports: a log-only sender for development, Firebase Cloud
// Messaging over HTTP, a Kafka topic or an SQS queue consumed by a separate
// delivery worker.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"
)

// ErrInvalidToken is returned when the transport reports the device token as
// unknown or unregistered.
var ErrInvalidToken = errors.New("push: device token rejected")

// Sender delivers a single push notification.
type Sender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// SenderCloser is a Sender that owns a connection.
type SenderCloser interface {
	Sender
	io.Closer
}

// Envelope is the wire form published on queue transports.
type Envelope struct {
	Token    string            `json:"token"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	QueuedAt time.Time         `json:"queued_at"`
}

func encodeEnvelope(token, title, body string, data map[string]string) ([]byte, error) {
	return json.Marshal(Envelope{
		Token:    token,
		Title:    title,
		Body:     body,
		Data:     data,
		QueuedAt: time.Now().UTC(),
	})
}

func validate(token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	return nil
}

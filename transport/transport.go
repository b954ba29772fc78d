// Package transport declares what the core needs from the chat transport:
// a way to send a message and a stream of connectivity events. Session
// handling (pairing, QR login, reconnect policy) belongs to the transport.
package transport

import (
	"context"
	"time"
)

// EventKind is a connectivity signal from the transport.
type EventKind string

const (
	Connected    EventKind = "connected"
	Disconnected EventKind = "disconnected"
	AuthFailed   EventKind = "auth-failed"
)

// Event is one connectivity change.
type Event struct {
	Kind   EventKind `json:"kind"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// Transport delivers content to a user. An error means the message was not
// accepted and may be retried.
type Transport interface {
	Send(ctx context.Context, userID, content string) error
}

// EventSource publishes connectivity events. The channel is closed when
// the source shuts down.
type EventSource interface {
	Events() <-chan Event
}

// SendFunc adapts a function to Transport.
type SendFunc func(ctx context.Context, userID, content string) error

func (f SendFunc) Send(ctx context.Context, userID, content string) error {
	return f(ctx, userID, content)
}

// Package libbus provides messaging between processes. The NATS
// implementation backs the server; InMem backs local single-process mode.
// The executor publishes execution progress events through a Messenger so
// observers outside the editing session can follow a run.
package libbus

import (
	"context"
	"errors"
)

var (
	ErrConnectionClosed = errors.New("libbus: connection closed")
	ErrRequestTimeout   = errors.New("libbus: request timed out")
)

// Handler serves request-reply subjects.
type Handler func(ctx context.Context, data []byte) ([]byte, error)

// Subscription detaches an interest registered via Stream or Serve.
type Subscription interface {
	Unsubscribe() error
}

// Messenger is the pub/sub plus request-reply surface.
type Messenger interface {
	// Publish sends a fire-and-forget message to all Stream subscribers.
	Publish(ctx context.Context, subject string, data []byte) error
	// Stream subscribes to a subject; messages are delivered to ch until the
	// subscription is released or ctx is done.
	Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error)
	// Request sends a request and waits for a reply from a Serve handler.
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
	// Serve registers a request-reply handler for the subject.
	Serve(ctx context.Context, subject string, handler Handler) (Subscription, error)
	Close() error
}

// Config carries NATS connection settings.
type Config struct {
	NATSURL      string
	NATSUser     string
	NATSPassword string
}

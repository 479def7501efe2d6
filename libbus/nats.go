package libbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type natsMessenger struct {
	nc *nats.Conn
}

// NewPubSub connects to NATS and returns a Messenger backed by it.
func NewPubSub(ctx context.Context, cfg *Config) (Messenger, error) {
	opts := []nats.Option{
		nats.Name("chainscribe"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	if cfg.NATSUser != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}
	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("libbus: failed to connect to NATS: %w", err)
	}
	return &natsMessenger{nc: nc}, nil
}

func (m *natsMessenger) Publish(ctx context.Context, subject string, data []byte) error {
	if m.nc.IsClosed() {
		return ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.nc.Publish(subject, data)
}

func (m *natsMessenger) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if m.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	sub, err := m.nc.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case ch <- msg.Data:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("libbus: subscribe failed: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return &natsSubscription{sub: sub}, nil
}

func (m *natsMessenger) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if m.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	msg, err := m.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrRequestTimeout
		}
		return nil, fmt.Errorf("libbus: request failed: %w", err)
	}
	return msg.Data, nil
}

func (m *natsMessenger) Serve(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	if m.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	sub, err := m.nc.Subscribe(subject, func(msg *nats.Msg) {
		reply, err := handler(ctx, msg.Data)
		if err != nil {
			// A missing reply surfaces as a request timeout on the caller side.
			return
		}
		_ = msg.Respond(reply)
	})
	if err != nil {
		return nil, fmt.Errorf("libbus: serve failed: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return &natsSubscription{sub: sub}, nil
}

func (m *natsMessenger) Close() error {
	m.nc.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

var _ Messenger = (*natsMessenger)(nil)

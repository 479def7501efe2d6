package libkvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

type valkeyManager struct {
	client valkey.Client
}

// NewManager connects to a Valkey instance. The timeout bounds the initial
// connectivity check.
func NewManager(cfg Config, timeout time.Duration) (KVManager, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{cfg.KVAddr},
		Password:    cfg.KVPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("libkvstore: failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("libkvstore: valkey ping failed: %w", err)
	}

	return &valkeyManager{client: client}, nil
}

func (m *valkeyManager) Executor(ctx context.Context) (KVExec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &valkeyExec{client: m.client}, nil
}

func (m *valkeyManager) Close() error {
	m.client.Close()
	return nil
}

type valkeyExec struct {
	client valkey.Client
}

func (e *valkeyExec) Get(ctx context.Context, key string) (json.RawMessage, error) {
	res, err := e.client.Do(ctx, e.client.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return json.RawMessage(res), nil
}

func (e *valkeyExec) Set(ctx context.Context, key string, value json.RawMessage) error {
	return e.client.Do(ctx, e.client.B().Set().Key(key).Value(string(value)).Build()).Error()
}

func (e *valkeyExec) SetWithTTL(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	return e.client.Do(ctx, e.client.B().Set().Key(key).Value(string(value)).Ex(ttl).Build()).Error()
}

func (e *valkeyExec) Delete(ctx context.Context, key string) error {
	return e.client.Do(ctx, e.client.B().Del().Key(key).Build()).Error()
}

func (e *valkeyExec) Exists(ctx context.Context, key string) (bool, error) {
	n, err := e.client.Do(ctx, e.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (e *valkeyExec) ListPush(ctx context.Context, key string, value json.RawMessage) error {
	return e.client.Do(ctx, e.client.B().Lpush().Key(key).Element(string(value)).Build()).Error()
}

func (e *valkeyExec) ListTrim(ctx context.Context, key string, start, stop int64) error {
	return e.client.Do(ctx, e.client.B().Ltrim().Key(key).Start(start).Stop(stop).Build()).Error()
}

func (e *valkeyExec) ListRange(ctx context.Context, key string, start, stop int64) ([]json.RawMessage, error) {
	items, err := e.client.Do(ctx, e.client.B().Lrange().Key(key).Start(start).Stop(stop).Build()).AsStrSlice()
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		out = append(out, json.RawMessage(it))
	}
	return out, nil
}

func (e *valkeyExec) ListLength(ctx context.Context, key string) (int64, error) {
	return e.client.Do(ctx, e.client.B().Llen().Key(key).Build()).AsInt64()
}

func (e *valkeyExec) SetAdd(ctx context.Context, key string, member json.RawMessage) error {
	return e.client.Do(ctx, e.client.B().Sadd().Key(key).Member(string(member)).Build()).Error()
}

func (e *valkeyExec) SetMembers(ctx context.Context, key string) ([]json.RawMessage, error) {
	items, err := e.client.Do(ctx, e.client.B().Smembers().Key(key).Build()).AsStrSlice()
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		out = append(out, json.RawMessage(it))
	}
	return out, nil
}

// Package libkvstore provides a small key-value abstraction used for the
// activity log and execution progress snapshots. Backed by Valkey on the
// server and by an in-memory implementation in local single-process mode.
package libkvstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("libkvstore: key not found")

// Config carries connection settings for the Valkey-backed manager.
type Config struct {
	KVAddr     string
	KVPassword string
}

// KVManager hands out executors bound to the underlying store.
type KVManager interface {
	Executor(ctx context.Context) (KVExec, error)
	Close() error
}

// KVExec is the operation surface. Values are raw JSON so callers keep
// control over (un)marshalling.
type KVExec interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	SetWithTTL(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	ListPush(ctx context.Context, key string, value json.RawMessage) error
	ListTrim(ctx context.Context, key string, start, stop int64) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]json.RawMessage, error)
	ListLength(ctx context.Context, key string) (int64, error)

	SetAdd(ctx context.Context, key string, member json.RawMessage) error
	SetMembers(ctx context.Context, key string) ([]json.RawMessage, error)
}

package libkvstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// InMemManager is an in-process KVManager for local single-process mode and
// tests. TTLs are honored lazily on read.
type InMemManager struct {
	mu      sync.RWMutex
	values  map[string]inmemValue
	lists   map[string][]json.RawMessage
	sets    map[string]map[string]struct{}
	nowFunc func() time.Time
}

type inmemValue struct {
	data      json.RawMessage
	expiresAt time.Time // zero means no expiry
}

// NewInMemManager returns an empty in-memory manager.
func NewInMemManager() *InMemManager {
	return &InMemManager{
		values:  make(map[string]inmemValue),
		lists:   make(map[string][]json.RawMessage),
		sets:    make(map[string]map[string]struct{}),
		nowFunc: time.Now,
	}
}

func (m *InMemManager) Executor(ctx context.Context) (KVExec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return (*inmemExec)(m), nil
}

func (m *InMemManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]inmemValue)
	m.lists = make(map[string][]json.RawMessage)
	m.sets = make(map[string]map[string]struct{})
	return nil
}

type inmemExec InMemManager

func (e *inmemExec) Get(ctx context.Context, key string) (json.RawMessage, error) {
	e.mu.RLock()
	v, ok := e.values[key]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !v.expiresAt.IsZero() && e.nowFunc().After(v.expiresAt) {
		e.mu.Lock()
		delete(e.values, key)
		e.mu.Unlock()
		return nil, ErrNotFound
	}
	return v.data, nil
}

func (e *inmemExec) Set(ctx context.Context, key string, value json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[key] = inmemValue{data: append(json.RawMessage(nil), value...)}
	return nil
}

func (e *inmemExec) SetWithTTL(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[key] = inmemValue{
		data:      append(json.RawMessage(nil), value...),
		expiresAt: e.nowFunc().Add(ttl),
	}
	return nil
}

func (e *inmemExec) Delete(ctx context.Context, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.values, key)
	return nil
}

func (e *inmemExec) Exists(ctx context.Context, key string) (bool, error) {
	_, err := e.Get(ctx, key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *inmemExec) ListPush(ctx context.Context, key string, value json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	// LPUSH semantics: newest element first.
	e.lists[key] = append([]json.RawMessage{append(json.RawMessage(nil), value...)}, e.lists[key]...)
	return nil
}

func (e *inmemExec) ListTrim(ctx context.Context, key string, start, stop int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.lists[key]
	n := int64(len(list))
	start, stop = normalizeRange(start, stop, n)
	if start > stop || start >= n {
		delete(e.lists, key)
		return nil
	}
	e.lists[key] = list[start : stop+1]
	return nil
}

func (e *inmemExec) ListRange(ctx context.Context, key string, start, stop int64) ([]json.RawMessage, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	list := e.lists[key]
	n := int64(len(list))
	start, stop = normalizeRange(start, stop, n)
	if start > stop || start >= n {
		return nil, nil
	}
	out := make([]json.RawMessage, stop+1-start)
	copy(out, list[start:stop+1])
	return out, nil
}

func (e *inmemExec) ListLength(ctx context.Context, key string) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return int64(len(e.lists[key])), nil
}

func (e *inmemExec) SetAdd(ctx context.Context, key string, member json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sets[key] == nil {
		e.sets[key] = make(map[string]struct{})
	}
	e.sets[key][string(member)] = struct{}{}
	return nil
}

func (e *inmemExec) SetMembers(ctx context.Context, key string) ([]json.RawMessage, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	members := make([]json.RawMessage, 0, len(e.sets[key]))
	for m := range e.sets[key] {
		members = append(members, json.RawMessage(m))
	}
	return members, nil
}

// normalizeRange resolves negative list indices the way Valkey does.
func normalizeRange(start, stop, n int64) (int64, int64) {
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}

var _ KVManager = (*InMemManager)(nil)

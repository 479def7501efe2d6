package libtracker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chainscribe/chainscribe/libkvstore"
)

const (
	activityListKey = "tracker:activity"
	// activityRetention is how many recent events the sink keeps.
	activityRetention = 1000
)

// ActivityEvent is one recorded tracker event as stored in the KV sink.
type ActivityEvent struct {
	Operation  string    `json:"operation"`
	Subject    string    `json:"subject"`
	RequestID  string    `json:"requestId,omitempty"`
	EntityID   string    `json:"entityId,omitempty"`
	EntityData any       `json:"entityData,omitempty"`
	Error      string    `json:"error,omitempty"`
	Start      time.Time `json:"start"`
	DurationMS float64   `json:"durationMs"`
}

// KVActivityTracker appends finished spans to a capped list in the KV
// store so recent activity can be inspected without log access. Failures
// to record are dropped; tracking never breaks the tracked operation.
type KVActivityTracker struct {
	kv libkvstore.KVManager
}

func NewKVActivityTracker(kv libkvstore.KVManager) *KVActivityTracker {
	return &KVActivityTracker{kv: kv}
}

func (t *KVActivityTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	event := &ActivityEvent{
		Operation: operation,
		Subject:   subject,
		Start:     time.Now().UTC(),
	}
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok && reqID != "" {
		event.RequestID = reqID
	}

	reportErr := func(err error) {
		if err != nil {
			event.Error = err.Error()
		}
	}
	reportChange := func(entityID string, data any) {
		event.EntityID = entityID
		event.EntityData = data
	}
	end := func() {
		event.DurationMS = float64(time.Since(event.Start)) / float64(time.Millisecond)
		t.record(ctx, event)
	}
	return reportErr, reportChange, end
}

func (t *KVActivityTracker) record(ctx context.Context, event *ActivityEvent) {
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}
	exec, err := t.kv.Executor(ctx)
	if err != nil {
		return
	}
	if err := exec.ListPush(ctx, activityListKey, raw); err != nil {
		return
	}
	_ = exec.ListTrim(ctx, activityListKey, 0, activityRetention-1)
}

// RecentActivity returns up to limit recorded events, newest first.
func (t *KVActivityTracker) RecentActivity(ctx context.Context, limit int64) ([]ActivityEvent, error) {
	if limit <= 0 || limit > activityRetention {
		limit = activityRetention
	}
	exec, err := t.kv.Executor(ctx)
	if err != nil {
		return nil, err
	}
	raws, err := exec.ListRange(ctx, activityListKey, 0, limit-1)
	if err != nil {
		return nil, err
	}
	events := make([]ActivityEvent, 0, len(raws))
	for _, raw := range raws {
		var event ActivityEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

var _ ActivityTracker = (*KVActivityTracker)(nil)

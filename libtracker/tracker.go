package libtracker

import (
	"context"
	"log/slog"
	"time"
)

// ActivityTracker observes service operations. Start returns three callbacks:
// reportErr records a failure, reportChange records the affected entity and
// its new state, and end closes the span. Callers must always invoke end,
// typically via defer.
type ActivityTracker interface {
	Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func())
}

// NoopTracker discards all activity. Used as the default when no tracker is wired.
type NoopTracker struct{}

func (NoopTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	return func(error) {}, func(string, any) {}, func() {}
}

var _ ActivityTracker = NoopTracker{}

// LogActivityTracker writes span starts, errors, and entity changes to slog.
type LogActivityTracker struct {
	logger *slog.Logger
}

func NewLogActivityTracker(logger *slog.Logger) *LogActivityTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogActivityTracker{logger: logger}
}

func (t *LogActivityTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	start := time.Now().UTC()
	attrs := []any{"operation", operation, "subject", subject}
	attrs = append(attrs, kvArgs...)
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok && reqID != "" {
		attrs = append(attrs, "request_id", reqID)
	}
	logger := t.logger.With(attrs...)

	reportErr := func(err error) {
		if err != nil {
			logger.ErrorContext(ctx, "operation failed", "error", err.Error())
		}
	}
	reportChange := func(entityID string, data any) {
		logger.InfoContext(ctx, "entity changed", "entity_id", entityID, "entity_data", data)
	}
	end := func() {
		logger.DebugContext(ctx, "operation finished", "duration_ms", float64(time.Since(start))/float64(time.Millisecond))
	}
	return reportErr, reportChange, end
}

var _ ActivityTracker = (*LogActivityTracker)(nil)

// ChainedTracker fans a span out to several trackers.
type ChainedTracker []ActivityTracker

func (c ChainedTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	errFns := make([]func(error), 0, len(c))
	changeFns := make([]func(string, any), 0, len(c))
	endFns := make([]func(), 0, len(c))
	for _, t := range c {
		reportErr, reportChange, end := t.Start(ctx, operation, subject, kvArgs...)
		errFns = append(errFns, reportErr)
		changeFns = append(changeFns, reportChange)
		endFns = append(endFns, end)
	}
	reportErr := func(err error) {
		for _, f := range errFns {
			f(err)
		}
	}
	reportChange := func(id string, data any) {
		for _, f := range changeFns {
			f(id, data)
		}
	}
	end := func() {
		for _, f := range endFns {
			f()
		}
	}
	return reportErr, reportChange, end
}

var _ ActivityTracker = ChainedTracker{}

package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Sink appends events to durable storage.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Recorder is the single audit entry point for the identity core. Writes
// are best-effort: a sink failure is logged locally and never reaches the
// caller, so audit trouble cannot abort a login or logout.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder constructs a Recorder around the given sink.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	return &Recorder{sink: sink, logger: logger, now: time.Now}
}

// WithClock overrides time acquisition, for tests.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Record appends the event, filling ID and timestamp when unset.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if r == nil || r.sink == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = r.now().UTC()
	}
	if err := r.sink.Append(ctx, event); err != nil {
		r.logger.Warn("audit write failed",
			slog.String("action", event.Action),
			slog.String("entity", event.Entity),
			slog.Any("error", err))
	}
}

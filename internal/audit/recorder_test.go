package audit_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metta-portal/metta-portal/internal/audit"
	"github.com/metta-portal/metta-portal/internal/shared"
	_ "github.com/metta-portal/metta-portal/testing"
)

type captureSink struct {
	events []audit.Event
	fail   error
}

func (s *captureSink) Append(ctx context.Context, event audit.Event) error {
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, event)
	return nil
}

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	sink := &captureSink{}
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	recorder := audit.NewRecorder(sink, slog.Default()).WithClock(func() time.Time { return at })

	recorder.Record(context.Background(), audit.Event{
		ActorRole: shared.RoleAdmin,
		ActorID:   1,
		Action:    audit.ActionTerminate,
		Entity:    "session",
		EntityID:  "token",
	})

	require.Len(t, sink.events, 1)
	require.NotEmpty(t, sink.events[0].ID)
	require.Equal(t, at, sink.events[0].At)
}

func TestRecordSwallowsSinkFailures(t *testing.T) {
	sink := &captureSink{fail: errors.New("disk full")}
	recorder := audit.NewRecorder(sink, slog.Default())

	// Must not panic or surface the error to the caller.
	recorder.Record(context.Background(), audit.Event{
		Action: audit.ActionLogout, Entity: "session", EntityID: "token",
	})
	require.Empty(t, sink.events)
}

func TestRecordOnNilRecorderIsSafe(t *testing.T) {
	var recorder *audit.Recorder
	recorder.Record(context.Background(), audit.Event{Action: audit.ActionLogout, Entity: "session"})
}

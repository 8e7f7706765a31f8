package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSink appends events into the audit_events table.
type PGSink struct {
	pool *pgxpool.Pool
}

// NewPGSink returns a PostgreSQL backed sink.
func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

// Append persists the event. Payloads are stored as JSON.
func (s *PGSink) Append(ctx context.Context, event Event) error {
	if event.Action == "" || event.Entity == "" {
		return fmt.Errorf("audit event requires action/entity")
	}
	beforeJSON, err := json.Marshal(event.Before)
	if err != nil {
		return err
	}
	afterJSON, err := json.Marshal(event.After)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_events (id, actor_role, actor_id, action, entity, entity_id, before, after, ip, ua, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, NOW()))`,
		event.ID, event.ActorRole.String(), event.ActorID, event.Action, event.Entity, event.EntityID,
		beforeJSON, afterJSON, event.IP, event.UserAgent, event.At)
	return err
}

var _ Sink = (*PGSink)(nil)

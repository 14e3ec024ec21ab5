// Package events appends rows to the chamber event log. Every engine
// mutation records one event in the same transaction, so the log is an
// exact history of the tramitação and plenary lifecycle.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventPayload is the free-form JSON body of a log entry.
type EventPayload map[string]any

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append writes one event inside the caller's transaction. Empty
// chamber and entity IDs are stored as NULL so global events (chamber
// bootstrap, key management) do not fake an entity reference.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, chamberID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,chamber_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, orNull(chamberID), entityKind, orNull(entityID), actorID, string(body))
	return err
}

func orNull(v string) any {
	if v == "" {
		return nil
	}
	return v
}

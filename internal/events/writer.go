package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the journal.
const (
	RunStarted    = "run.started"
	RunSucceeded  = "run.succeeded"
	RunFailed     = "run.failed"
	EmailSent     = "email.sent"
	EmailFailed   = "email.failed"
	RecordCreated = "record.created"
	RecordFailed  = "record.failed"
	RecordRetired = "record.retired"
	RetireFailed  = "record.retire_failed"
	PageCreated   = "page.created"
	PageAppended  = "page.appended"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside tx. runID may be empty for events that
// belong to no run.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, runID, evtType, entityKind, entityID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,run_id,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, nullable(runID), evtType, entityKind, nullable(entityID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"decisionlog/internal/db"
)

const DecisionLogged = "decision.logged"

// Writer appends audit events inside the caller's transaction.
type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityID string, payload any) error {
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
	_, err = tx.ExecContext(ctx, db.Rebind(w.Dialect, `INSERT INTO events(ts,type,entity_id,payload_json) VALUES (?,?,?,?)`),
		ts, evtType, nullable(entityID), string(data))
	return err
}

// Event is a stored audit row.
type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts"`
	Type     string `json:"type"`
	EntityID string `json:"entity_id,omitempty"`
	Payload  string `json:"payload_json"`
}

// Latest returns the newest n events, newest first.
func Latest(ctx context.Context, conn *sql.DB, d db.Dialect, n int) ([]Event, error) {
	rows, err := conn.QueryContext(ctx, db.Rebind(d, `SELECT id,ts,type,COALESCE(entity_id,''),payload_json FROM events ORDER BY id DESC LIMIT ?`), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the free-form detail attached to an audit entry.
type Payload map[string]any

// Entry is one audit log record. IssueID and EntityID may be empty when the
// entry is not tied to an issue or entity.
type Entry struct {
	Type       string
	IssueID    string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    Payload
}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append records the entry inside the caller's transaction so the audit row
// commits with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,issue_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		w.now().UTC().Format(time.RFC3339), e.Type, orNull(e.IssueID), e.EntityKind, orNull(e.EntityID), e.ActorID, string(data))
	return err
}

func orNull(v string) any {
	if v == "" {
		return nil
	}
	return v
}

package repo

import (
	"context"
	"database/sql"
	"strings"

	"repairdesk/internal/domain"
)

type EventFilters struct {
	IssueID string
	AfterID int64
	Limit   int
}

func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	var clauses []string
	var args []any
	if f.IssueID != "" {
		clauses = append(clauses, "issue_id=?")
		args = append(args, f.IssueID)
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id > ?")
		args = append(args, f.AfterID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,ts,type,issue_id,entity_kind,entity_id,actor_id,payload_json FROM events ` + where + ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var issueID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &issueID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.IssueID = issueID.String
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

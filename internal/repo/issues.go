package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"repairdesk/internal/domain"
)

const issueColumns = `id,issue_number,source,status,priority,is_under_warranty,estimated_cost,actual_cost,created_by,created_at,updated_at`

func scanIssue(scan func(dest ...any) error) (domain.Issue, error) {
	var i domain.Issue
	var estimated, actual sql.NullFloat64
	err := scan(&i.ID, &i.IssueNumber, &i.Source, &i.Status, &i.Priority, &i.IsUnderWarranty,
		&estimated, &actual, &i.CreatedBy, &i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	if err != nil {
		return i, err
	}
	if estimated.Valid {
		i.EstimatedCost = &estimated.Float64
	}
	if actual.Valid {
		i.ActualCost = &actual.Float64
	}
	return i, nil
}

func (r Repo) InsertIssue(ctx context.Context, tx *sql.Tx, i domain.Issue) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO issues(`+issueColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		i.ID, i.IssueNumber, i.Source, i.Status, i.Priority, i.IsUnderWarranty,
		nullableFloatPtr(i.EstimatedCost), nullableFloatPtr(i.ActualCost), i.CreatedBy, i.CreatedAt, i.UpdatedAt)
	return err
}

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	return r.GetIssueTx(ctx, nil, id)
}

func (r Repo) GetIssueTx(ctx context.Context, tx *sql.Tx, id string) (domain.Issue, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id)
	return scanIssue(row.Scan)
}

func (r Repo) UpdateIssue(ctx context.Context, tx *sql.Tx, i domain.Issue) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE issues SET status=?, priority=?, is_under_warranty=?, estimated_cost=?, actual_cost=?, updated_at=? WHERE id=?`,
		i.Status, i.Priority, i.IsUnderWarranty, nullableFloatPtr(i.EstimatedCost), nullableFloatPtr(i.ActualCost), i.UpdatedAt, i.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type IssueFilters struct {
	Status          string
	Source          string
	Priority        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListIssues(ctx context.Context, f IssueFilters) ([]domain.Issue, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Source != "" {
		clauses = append(clauses, "source=?")
		args = append(args, f.Source)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + issueColumns + ` FROM issues ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		i, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

func (r Repo) CountIssuesByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM issues GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// NextIssueNumber allocates the next human-readable issue number, e.g. ISS-000042.
func (r Repo) NextIssueNumber(ctx context.Context, tx *sql.Tx) (string, error) {
	var n int
	if err := r.q(tx).QueryRowContext(ctx, `SELECT count(*) FROM issues`).Scan(&n); err != nil {
		return "", err
	}
	return fmt.Sprintf("ISS-%06d", n+1), nil
}

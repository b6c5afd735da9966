package repo

import (
	"context"
	"database/sql"
	"strings"

	"repairdesk/internal/domain"
)

const operationColumns = `id,issue_id,issue_product_id,operation_type,status,description,findings,actions_taken,is_under_warranty,cost,duration_minutes,performed_by,performed_at`

func scanOperation(scan func(dest ...any) error) (domain.ServiceOperation, error) {
	var op domain.ServiceOperation
	var issueProduct, findings, actions sql.NullString
	var cost sql.NullFloat64
	var duration sql.NullInt64
	err := scan(&op.ID, &op.IssueID, &issueProduct, &op.Type, &op.Status, &op.Description,
		&findings, &actions, &op.IsUnderWarranty, &cost, &duration, &op.PerformedBy, &op.PerformedAt)
	if err == sql.ErrNoRows {
		return op, ErrNotFound
	}
	if err != nil {
		return op, err
	}
	if issueProduct.Valid {
		op.IssueProductID = &issueProduct.String
	}
	if findings.Valid {
		op.Findings = &findings.String
	}
	if actions.Valid {
		op.ActionsTaken = &actions.String
	}
	if cost.Valid {
		op.Cost = &cost.Float64
	}
	if duration.Valid {
		d := int(duration.Int64)
		op.DurationMinutes = &d
	}
	return op, nil
}

func (r Repo) InsertOperation(ctx context.Context, tx *sql.Tx, op domain.ServiceOperation) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO service_operations(`+operationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		op.ID, op.IssueID, nullableStringPtr(op.IssueProductID), op.Type, op.Status, op.Description,
		nullableStringPtr(op.Findings), nullableStringPtr(op.ActionsTaken), op.IsUnderWarranty,
		nullableFloatPtr(op.Cost), nullableIntPtr(op.DurationMinutes), op.PerformedBy, op.PerformedAt)
	return err
}

func (r Repo) GetOperation(ctx context.Context, id string) (domain.ServiceOperation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM service_operations WHERE id=?`, id)
	return scanOperation(row.Scan)
}

// ListOperations returns the operations on an issue in creation order.
func (r Repo) ListOperations(ctx context.Context, tx *sql.Tx, issueID string) ([]domain.ServiceOperation, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+operationColumns+` FROM service_operations WHERE issue_id=? ORDER BY performed_at ASC, id ASC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ServiceOperation
	for rows.Next() {
		op, err := scanOperation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, op)
	}
	return res, rows.Err()
}

// SumOperations recomputes the cost/duration totals for an issue from rows.
func (r Repo) SumOperations(ctx context.Context, tx *sql.Tx, issueID string) (totalCost float64, totalDuration int, withCost int, err error) {
	err = r.q(tx).QueryRowContext(ctx, `SELECT COALESCE(SUM(cost),0), COALESCE(SUM(duration_minutes),0), COUNT(cost)
FROM service_operations WHERE issue_id=? AND status != 'CANCELLED'`, issueID).
		Scan(&totalCost, &totalDuration, &withCost)
	return totalCost, totalDuration, withCost, err
}

type PerformanceFilters struct {
	PerformedBy string
	DateFrom    string
	DateTo      string
}

// TechnicianPerformance aggregates operations per performer, most active first.
func (r Repo) TechnicianPerformance(ctx context.Context, f PerformanceFilters) ([]domain.TechnicianPerformance, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.PerformedBy != "" {
		clauses = append(clauses, "performed_by=?")
		args = append(args, f.PerformedBy)
	}
	if f.DateFrom != "" {
		clauses = append(clauses, "performed_at >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		clauses = append(clauses, "performed_at <= ?")
		args = append(args, f.DateTo)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT performed_by,
	count(*) AS total_operations,
	SUM(CASE WHEN status='COMPLETED' THEN 1 ELSE 0 END) AS completed_operations,
	COALESCE(SUM(cost),0) AS total_cost,
	COALESCE(SUM(duration_minutes),0) AS total_duration
FROM service_operations ` + where + `
GROUP BY performed_by
ORDER BY total_operations DESC, performed_by ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TechnicianPerformance
	for rows.Next() {
		var p domain.TechnicianPerformance
		if err := rows.Scan(&p.PerformedBy, &p.TotalOperations, &p.CompletedOperations, &p.TotalCost, &p.TotalDuration); err != nil {
			return nil, err
		}
		if p.TotalOperations > 0 {
			p.AverageDuration = float64(p.TotalDuration) / float64(p.TotalOperations)
			p.CompletionRate = float64(p.CompletedOperations) / float64(p.TotalOperations)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

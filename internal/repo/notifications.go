package repo

import (
	"context"
	"database/sql"
	"strings"

	"repairdesk/internal/domain"
)

const notificationColumns = `id,title,message,type,priority,category,is_read,created_at,expires_at,target_user_id,created_by`

func scanNotification(scan func(dest ...any) error) (domain.Notification, error) {
	var n domain.Notification
	var expires, target sql.NullString
	err := scan(&n.ID, &n.Title, &n.Message, &n.Type, &n.Priority, &n.Category, &n.Read,
		&n.CreatedAt, &expires, &target, &n.CreatedBy)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if expires.Valid {
		n.ExpiresAt = &expires.String
	}
	if target.Valid {
		n.TargetUserID = &target.String
	}
	return n, nil
}

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(`+notificationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.Title, n.Message, n.Type, n.Priority, n.Category, n.Read,
		n.CreatedAt, nullableStringPtr(n.ExpiresAt), nullableStringPtr(n.TargetUserID), n.CreatedBy)
	return err
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=?`, id)
	return scanNotification(row.Scan)
}

type NotificationFilters struct {
	TargetUserID    string
	UnreadOnly      bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListNotifications returns notifications addressed to a user or to everyone
// (NULL target), newest first.
func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]domain.Notification, error) {
	clauses := []string{"(target_user_id=? OR target_user_id IS NULL)"}
	args := []any{f.TargetUserID}
	if f.UnreadOnly {
		clauses = append(clauses, "is_read=0")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT ` + notificationColumns + ` FROM notifications ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=? AND (target_user_id=? OR target_user_id IS NULL)`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteNotification removes a record at the owner's explicit request.
func (r Repo) DeleteNotification(ctx context.Context, id, userID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM notifications WHERE id=? AND (target_user_id=? OR target_user_id IS NULL)`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE is_read=0 AND (target_user_id=? OR target_user_id IS NULL)`, userID).Scan(&n)
	return n, err
}

// PurgeExpiredNotifications deletes notifications whose expiry has passed.
func (r Repo) PurgeExpiredNotifications(ctx context.Context, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

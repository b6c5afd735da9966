package repo

import (
	"context"
	"database/sql"

	"repairdesk/internal/domain"
)

func scanProduct(scan func(dest ...any) error) (domain.Product, error) {
	var p domain.Product
	var location sql.NullString
	err := scan(&p.ID, &p.SerialNumber, &p.Status, &location, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if location.Valid {
		p.LocationID = &location.String
	}
	return p, nil
}

func (r Repo) InsertProduct(ctx context.Context, tx *sql.Tx, p domain.Product) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO products(id,serial_number,status,location_id,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.SerialNumber, p.Status, nullableStringPtr(p.LocationID), p.CreatedAt)
	return err
}

func (r Repo) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return r.GetProductTx(ctx, nil, id)
}

func (r Repo) GetProductTx(ctx context.Context, tx *sql.Tx, id string) (domain.Product, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT id,serial_number,status,location_id,created_at FROM products WHERE id=?`, id)
	return scanProduct(row.Scan)
}

func (r Repo) UpdateProductStatus(ctx context.Context, tx *sql.Tx, id string, status domain.ProductStatus) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE products SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountProductsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM products GROUP BY status`)
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

func (r Repo) AttachProduct(ctx context.Context, tx *sql.Tx, link domain.IssueProduct) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO issue_products(id,issue_id,product_id,position)
VALUES (?,?,?,(SELECT COALESCE(MAX(position),0)+1 FROM issue_products WHERE issue_id=?))`,
		link.ID, link.IssueID, link.ProductID, link.IssueID)
	return err
}

func (r Repo) GetIssueProduct(ctx context.Context, tx *sql.Tx, id string) (domain.IssueProduct, error) {
	var ip domain.IssueProduct
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,issue_id,product_id,position FROM issue_products WHERE id=?`, id).
		Scan(&ip.ID, &ip.IssueID, &ip.ProductID, &ip.Position)
	if err == sql.ErrNoRows {
		return ip, ErrNotFound
	}
	return ip, err
}

// ListIssueProducts returns the links for an issue in attach order.
func (r Repo) ListIssueProducts(ctx context.Context, tx *sql.Tx, issueID string) ([]domain.IssueProduct, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,issue_id,product_id,position FROM issue_products WHERE issue_id=? ORDER BY position ASC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IssueProduct
	for rows.Next() {
		var ip domain.IssueProduct
		if err := rows.Scan(&ip.ID, &ip.IssueID, &ip.ProductID, &ip.Position); err != nil {
			return nil, err
		}
		res = append(res, ip)
	}
	return res, rows.Err()
}

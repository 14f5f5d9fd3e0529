// Package stock - repository.go: SQL по таблицам products и stock.
package stock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/db/sqlite"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const productColumns = `code, name, price, COALESCE(description, ''), created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*Product, error) {
	var (
		p                Product
		created, updated sqlite.Timestamp
	)
	if err := row.Scan(&p.Code, &p.Name, &p.Price, &p.Description, &created, &updated); err != nil {
		return nil, err
	}
	p.CreatedAt = created.Time
	p.UpdatedAt = updated.Time
	return &p, nil
}

// GetProduct возвращает товар. Нет товара - common.ErrNotFound.
func (r *Repository) GetProduct(ctx context.Context, q sqlite.Querier, code string) (*Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE code = ?`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("товар %s: %w", code, common.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения товара %s: %w", code, err)
	}
	return p, nil
}

// ListProducts возвращает все товары по коду.
func (r *Repository) ListProducts(ctx context.Context, q sqlite.Querier) ([]*Product, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения товаров: %w", err)
	}
	defer rows.Close()

	var out []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertProduct создаёт товар. Код занят - common.ErrExists.
func (r *Repository) InsertProduct(ctx context.Context, q sqlite.Querier, p *Product) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO products (code, name, price, description) VALUES (?, ?, ?, ?)`,
		p.Code, p.Name, p.Price, nullIfEmpty(p.Description),
	)
	if err != nil {
		if sqlite.IsConstraint(err) {
			return fmt.Errorf("товар %s: %w", p.Code, common.ErrExists)
		}
		return fmt.Errorf("ошибка создания товара %s: %w", p.Code, err)
	}
	return nil
}

// UpdateProduct применяет частичное изменение.
func (r *Repository) UpdateProduct(ctx context.Context, q sqlite.Querier, code string, u ProductUpdate) error {
	var (
		sets []string
		args []any
	)
	if u.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *u.Name)
	}
	if u.Price != nil {
		sets = append(sets, "price = ?")
		args = append(args, *u.Price)
	}
	if u.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullIfEmpty(*u.Description))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, code)

	res, err := q.ExecContext(ctx, `UPDATE products SET `+strings.Join(sets, ", ")+` WHERE code = ?`, args...)
	if err != nil {
		return fmt.Errorf("ошибка изменения товара %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("товар %s: %w", code, common.ErrNotFound)
	}
	return nil
}

// DeleteProduct удаляет товар, сток удаляется каскадом.
func (r *Repository) DeleteProduct(ctx context.Context, q sqlite.Querier, code string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM products WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("ошибка удаления товара %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("товар %s: %w", code, common.ErrNotFound)
	}
	return nil
}

// CountAvailable - число единиц в статусе AVAILABLE.
func (r *Repository) CountAvailable(ctx context.Context, q sqlite.Querier, code string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stock WHERE product_code = ? AND status = 'AVAILABLE'`, code,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта стока %s: %w", code, err)
	}
	return n, nil
}

// Summaries - товары вместе с количеством доступного стока.
func (r *Repository) Summaries(ctx context.Context, q sqlite.Querier) ([]Summary, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT p.code, p.name, p.price, COALESCE(p.description, ''), p.created_at, p.updated_at,
		       COUNT(s.id)
		FROM products p
		LEFT JOIN stock s ON s.product_code = p.code AND s.status = 'AVAILABLE'
		GROUP BY p.code
		ORDER BY p.code
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения витрины: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s                Summary
			created, updated sqlite.Timestamp
		)
		if err := rows.Scan(&s.Product.Code, &s.Product.Name, &s.Product.Price, &s.Product.Description,
			&created, &updated, &s.Available); err != nil {
			return nil, err
		}
		s.Product.CreatedAt = created.Time
		s.Product.UpdatedAt = updated.Time
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertItem добавляет единицу стока. Дубликат контента - false без ошибки.
func (r *Repository) InsertItem(ctx context.Context, q sqlite.Querier, code, content, addedBy string) (bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO stock (product_code, content, content_hash, added_by)
		VALUES (?, ?, ?, ?)
	`, code, content, ContentHash(content), addedBy)
	if err != nil {
		return false, fmt.Errorf("ошибка добавления стока %s: %w", code, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SelectAvailable выбирает до limit доступных единиц в порядке добавления.
func (r *Repository) SelectAvailable(ctx context.Context, q sqlite.Querier, code string, limit int) ([]*Item, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, product_code, content, content_hash, status, added_by
		FROM stock
		WHERE product_code = ? AND status = 'AVAILABLE'
		ORDER BY id ASC
		LIMIT ?
	`, code, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки стока %s: %w", code, err)
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		var it Item
		var status string
		if err := rows.Scan(&it.ID, &it.ProductCode, &it.Content, &it.ContentHash, &status, &it.AddedBy); err != nil {
			return nil, err
		}
		it.Status = Status(status)
		out = append(out, &it)
	}
	return out, rows.Err()
}

// Transition переводит единицу из AVAILABLE в status.
// Если единица уже не AVAILABLE - false.
func (r *Repository) Transition(ctx context.Context, q sqlite.Querier, id int64, status Status, buyerID, sellerID string) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE stock
		SET status = ?, buyer_id = ?, seller_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'AVAILABLE'
	`, string(status), nullIfEmpty(buyerID), nullIfEmpty(sellerID), id)
	if err != nil {
		return false, fmt.Errorf("ошибка смены статуса стока id=%d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// History возвращает последние limit единиц товара в любом статусе, новые первыми.
func (r *Repository) History(ctx context.Context, q sqlite.Querier, code string, limit int) ([]*Item, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, product_code, content, content_hash, status, added_by,
		       COALESCE(buyer_id, ''), COALESCE(seller_id, ''), created_at, updated_at
		FROM stock
		WHERE product_code = ?
		ORDER BY id DESC
		LIMIT ?
	`, code, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения истории стока %s: %w", code, err)
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		var (
			it               Item
			status           string
			created, updated sqlite.Timestamp
		)
		if err := rows.Scan(&it.ID, &it.ProductCode, &it.Content, &it.ContentHash, &status, &it.AddedBy,
			&it.BuyerID, &it.SellerID, &created, &updated); err != nil {
			return nil, err
		}
		it.Status = Status(status)
		it.CreatedAt = created.Time
		it.UpdatedAt = updated.Time
		out = append(out, &it)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

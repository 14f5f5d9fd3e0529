// Package ledger - repository.go: SQL по таблицам users (колонки баланса)
// и balance_transactions. Журнал только дописывается, триггеры БД
// запрещают UPDATE и DELETE.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/db/sqlite"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// GetBalance читает баланс. Нет покупателя - common.ErrNotRegistered.
func (r *Repository) GetBalance(ctx context.Context, q sqlite.Querier, growid string) (Balance, error) {
	var b Balance
	err := q.QueryRowContext(ctx,
		`SELECT balance_wl, balance_dl, balance_bgl FROM users WHERE growid = ?`, growid,
	).Scan(&b.WL, &b.DL, &b.BGL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, fmt.Errorf("%s: %w", growid, common.ErrNotRegistered)
		}
		return Balance{}, fmt.Errorf("ошибка чтения баланса %s: %w", growid, err)
	}
	return b, nil
}

// SetBalance записывает баланс. CHECK-ограничения таблицы отклонят отрицательные значения.
func (r *Repository) SetBalance(ctx context.Context, q sqlite.Querier, growid string, b Balance) error {
	res, err := q.ExecContext(ctx, `
		UPDATE users
		SET balance_wl = ?, balance_dl = ?, balance_bgl = ?, updated_at = CURRENT_TIMESTAMP
		WHERE growid = ?
	`, b.WL, b.DL, b.BGL, growid)
	if err != nil {
		if sqlite.IsConstraint(err) {
			return fmt.Errorf("баланс %s: %w", growid, common.ErrInsufficientBalance)
		}
		return fmt.Errorf("ошибка записи баланса %s: %w", growid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", growid, common.ErrNotRegistered)
	}
	return nil
}

// InsertTransaction дописывает строку журнала и заполняет её ID.
func (r *Repository) InsertTransaction(ctx context.Context, q sqlite.Querier, t *Transaction) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO balance_transactions (growid, type, details, old_balance, new_balance)
		VALUES (?, ?, ?, ?, ?)
	`, t.GrowID, string(t.Type), t.Details, t.OldBalance.String(), t.NewBalance.String())
	if err != nil {
		return fmt.Errorf("ошибка записи транзакции %s: %w", t.GrowID, err)
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

// GetTransactions возвращает последние limit записей покупателя, новые первыми.
// Пустой growid - по всем покупателям.
func (r *Repository) GetTransactions(ctx context.Context, q sqlite.Querier, growid string, limit int) ([]*Transaction, error) {
	query := `SELECT id, growid, type, details, old_balance, new_balance, created_at
		FROM balance_transactions`
	args := []any{}
	if growid != "" {
		query += ` WHERE growid = ?`
		args = append(args, growid)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var (
			t              Transaction
			txType         string
			oldRaw, newRaw string
			created        sqlite.Timestamp
		)
		if err := rows.Scan(&t.ID, &t.GrowID, &txType, &t.Details, &oldRaw, &newRaw, &created); err != nil {
			return nil, err
		}
		t.Type = TxType(txType)
		if t.OldBalance, err = ParseBalance(oldRaw); err != nil {
			return nil, err
		}
		if t.NewBalance, err = ParseBalance(newRaw); err != nil {
			return nil, err
		}
		t.CreatedAt = created.Time
		out = append(out, &t)
	}
	return out, rows.Err()
}

// SumDeltas - сумма всех изменений по журналу покупателя, в WL.
func (r *Repository) SumDeltas(ctx context.Context, q sqlite.Querier, growid string) (int64, error) {
	txs, err := r.GetTransactions(ctx, q, growid, -1)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, t := range txs {
		sum += t.Delta().Total()
	}
	return sum, nil
}

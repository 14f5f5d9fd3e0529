// Package members - repository.go отвечает за все операции с таблицами users, user_growid и blacklist.
// Каждая функция выполняет один SQL-запрос на переданном Querier:
// это может быть пул соединений (чтение) или транзакция писателя.
package members

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/db/sqlite"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// CreateUserIfMissing создаёт покупателя с нулевым балансом, если его ещё нет.
func (r *Repository) CreateUserIfMissing(ctx context.Context, q sqlite.Querier, growid string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO users (growid) VALUES (?)`, growid)
	if err != nil {
		return fmt.Errorf("ошибка создания покупателя %s: %w", growid, err)
	}
	return nil
}

// UserExists проверяет, есть ли покупатель с таким GrowID (регистрозависимо).
func (r *Repository) UserExists(ctx context.Context, q sqlite.Querier, growid string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE growid = ?)`, growid).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки покупателя %s: %w", growid, err)
	}
	return exists, nil
}

// CreateIdentity привязывает Telegram-пользователя к GrowID.
func (r *Repository) CreateIdentity(ctx context.Context, q sqlite.Querier, chatUserID int64, growid string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO user_growid (user_id, growid) VALUES (?, ?)`,
		strconv.FormatInt(chatUserID, 10), growid,
	)
	if err != nil {
		if sqlite.IsConstraint(err) {
			return fmt.Errorf("привязка user_id=%d: %w", chatUserID, common.ErrAlreadyRegistered)
		}
		return fmt.Errorf("ошибка привязки user_id=%d: %w", chatUserID, err)
	}
	return nil
}

// GetIdentity возвращает привязку. Если её нет - ошибка с common.ErrNotRegistered.
func (r *Repository) GetIdentity(ctx context.Context, q sqlite.Querier, chatUserID int64) (*Identity, error) {
	var (
		id      Identity
		rawID   string
		created sqlite.Timestamp
	)
	err := q.QueryRowContext(ctx,
		`SELECT user_id, growid, created_at FROM user_growid WHERE user_id = ?`,
		strconv.FormatInt(chatUserID, 10),
	).Scan(&rawID, &id.GrowID, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user_id=%d: %w", chatUserID, common.ErrNotRegistered)
		}
		return nil, fmt.Errorf("ошибка чтения привязки user_id=%d: %w", chatUserID, err)
	}
	id.ChatUserID, _ = strconv.ParseInt(rawID, 10, 64)
	id.CreatedAt = created.Time
	return &id, nil
}

// ChatUsersByGrowID возвращает всех Telegram-пользователей, привязанных к GrowID.
func (r *Repository) ChatUsersByGrowID(ctx context.Context, q sqlite.Querier, growid string) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM user_growid WHERE growid = ? ORDER BY created_at`, growid)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска привязок %s: %w", growid, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// IsBlacklisted проверяет чёрный список.
func (r *Repository) IsBlacklisted(ctx context.Context, q sqlite.Querier, growid string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM blacklist WHERE growid = ?)`, growid).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки чёрного списка: %w", err)
	}
	return exists, nil
}

// AddBlacklist добавляет GrowID в чёрный список. Возвращает false, если он уже там.
func (r *Repository) AddBlacklist(ctx context.Context, q sqlite.Querier, growid, addedBy string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO blacklist (growid, added_by) VALUES (?, ?)`, growid, addedBy,
	)
	if err != nil {
		return false, fmt.Errorf("ошибка добавления в чёрный список: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveBlacklist убирает GrowID из чёрного списка. Возвращает false, если его там не было.
func (r *Repository) RemoveBlacklist(ctx context.Context, q sqlite.Querier, growid string) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM blacklist WHERE growid = ?`, growid)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления из чёрного списка: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListBlacklist возвращает чёрный список, новые первыми.
func (r *Repository) ListBlacklist(ctx context.Context, q sqlite.Querier) ([]*BlacklistEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT growid, added_by, created_at FROM blacklist ORDER BY created_at DESC, growid`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения чёрного списка: %w", err)
	}
	defer rows.Close()

	var out []*BlacklistEntry
	for rows.Next() {
		var e BlacklistEntry
		var created sqlite.Timestamp
		if err := rows.Scan(&e.GrowID, &e.AddedBy, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = created.Time
		out = append(out, &e)
	}
	return out, rows.Err()
}

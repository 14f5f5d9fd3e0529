// Package admin - repository.go работает с таблицами admin_sessions, admin_login_attempts,
// bot_settings, world_info и role_permissions.
package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/db/sqlite"
)

// Repository работает с админ-таблицами.
type Repository struct{}

// NewRepository создаёт репозиторий.
func NewRepository() *Repository {
	return &Repository{}
}

// CreateSession создаёт новую сессию администратора.
func (r *Repository) CreateSession(ctx context.Context, q sqlite.Querier, session *AdminSession) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO admin_sessions (user_id, session_token, expires_at, last_activity, is_active)
		VALUES (?, ?, ?, ?, 1)
	`, session.UserID, session.SessionToken, session.ExpiresAt.Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("ошибка создания сессии: %w", err)
	}
	return nil
}

// GetActiveSession возвращает активную сессию пользователя.
func (r *Repository) GetActiveSession(ctx context.Context, q sqlite.Querier, userID int64, now time.Time) (*AdminSession, error) {
	var (
		s                     AdminSession
		authenticated         sqlite.Timestamp
		expires, lastActivity int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, session_token, authenticated_at, expires_at, last_activity, is_active
		FROM admin_sessions
		WHERE user_id = ? AND is_active = 1 AND expires_at > ?
		ORDER BY id DESC
		LIMIT 1
	`, userID, now.Unix()).Scan(
		&s.ID, &s.UserID, &s.SessionToken, &authenticated,
		&expires, &lastActivity, &s.IsActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("активная сессия user_id=%d: %w", userID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения сессии: %w", err)
	}
	s.AuthenticatedAt = authenticated.Time
	s.ExpiresAt = time.Unix(expires, 0).UTC()
	s.LastActivity = time.Unix(lastActivity, 0).UTC()
	return &s, nil
}

// DeactivateSession деактивирует сессии пользователя.
func (r *Repository) DeactivateSession(ctx context.Context, q sqlite.Querier, userID int64) error {
	_, err := q.ExecContext(ctx, `UPDATE admin_sessions SET is_active = 0 WHERE user_id = ?`, userID)
	return err
}

// UpdateActivity обновляет время последней активности.
func (r *Repository) UpdateActivity(ctx context.Context, q sqlite.Querier, userID int64, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE admin_sessions SET last_activity = ? WHERE user_id = ? AND is_active = 1`, now.Unix(), userID)
	return err
}

// ExpireSessions гасит просроченные сессии. Возвращает число погашенных.
func (r *Repository) ExpireSessions(ctx context.Context, q sqlite.Querier, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE admin_sessions SET is_active = 0 WHERE is_active = 1 AND expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LogAttempt записывает попытку входа.
func (r *Repository) LogAttempt(ctx context.Context, q sqlite.Querier, userID int64, success bool, at time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO admin_login_attempts (user_id, attempt_time, success) VALUES (?, ?, ?)`,
		userID, at.Unix(), success)
	return err
}

// GetRecentAttempts возвращает количество неудачных попыток с момента since.
func (r *Repository) GetRecentAttempts(ctx context.Context, q sqlite.Querier, userID int64, since time.Time) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM admin_login_attempts
		WHERE user_id = ? AND success = 0 AND attempt_time >= ?
	`, userID, since.Unix()).Scan(&count)
	return count, err
}

// GetSetting читает значение bot_settings. Нет ключа - ("", false).
func (r *Repository) GetSetting(ctx context.Context, q sqlite.Querier, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM bot_settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("ошибка чтения настройки %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting записывает значение bot_settings.
func (r *Repository) SetSetting(ctx context.Context, q sqlite.Querier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO bot_settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("ошибка записи настройки %s: %w", key, err)
	}
	return nil
}

// GetWorld читает world_info.
func (r *Repository) GetWorld(ctx context.Context, q sqlite.Querier) (*WorldInfo, error) {
	var (
		w       WorldInfo
		updated sqlite.Timestamp
	)
	err := q.QueryRowContext(ctx,
		`SELECT world, owner, bot, updated_at FROM world_info WHERE id = 1`,
	).Scan(&w.World, &w.Owner, &w.Bot, &updated)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения world_info: %w", err)
	}
	w.UpdatedAt = updated.Time
	return &w, nil
}

// SetWorld перезаписывает world_info.
func (r *Repository) SetWorld(ctx context.Context, q sqlite.Querier, w *WorldInfo) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO world_info (id, world, owner, bot, updated_at) VALUES (1, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			world = excluded.world, owner = excluded.owner, bot = excluded.bot,
			updated_at = CURRENT_TIMESTAMP
	`, w.World, w.Owner, w.Bot)
	if err != nil {
		return fmt.Errorf("ошибка записи world_info: %w", err)
	}
	return nil
}

// GetRolePermissions возвращает права роли ("all" или список уровней через запятую).
func (r *Repository) GetRolePermissions(ctx context.Context, q sqlite.Querier, roleID string) (string, error) {
	var perms string
	err := q.QueryRowContext(ctx, `SELECT permissions FROM role_permissions WHERE role_id = ?`, roleID).Scan(&perms)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("ошибка чтения прав роли %s: %w", roleID, err)
	}
	return perms, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration - одна версия схемы.
type Migration struct {
	Version int
	SQL     string
}

// Migrate применяет все миграции по порядку. Повторный вызов ничего не меняет.
func (d *DB) Migrate(ctx context.Context) error {
	return d.Write(ctx, func(tx *sql.Tx) error {
		return applyMigrations(ctx, tx)
	})
}

// applyMigrations выполняется и внутри обычной записи, и при восстановлении,
// когда писатель уже занят эксклюзивной операцией.
func applyMigrations(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("ошибка создания таблицы миграций: %w", err)
	}

	for _, m := range migrations {
		var exists bool
		err := q.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("ошибка проверки миграции %d: %w", m.Version, err)
		}
		if exists {
			continue
		}
		if _, err := q.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("ошибка выполнения миграции %d: %w", m.Version, err)
		}
		if _, err := q.ExecContext(ctx,
			"INSERT INTO schema_migrations (version) VALUES (?)", m.Version,
		); err != nil {
			return fmt.Errorf("ошибка записи версии миграции %d: %w", m.Version, err)
		}
	}
	return nil
}

// SQL-миграции встроены в код для упрощения деплоя.
var migrations = []Migration{
	{1, migration001Users},
	{2, migration002Store},
	{3, migration003Ledger},
	{4, migration004Admin},
}

var migration001Users = `
CREATE TABLE IF NOT EXISTS users (
    growid TEXT PRIMARY KEY,
    balance_wl INTEGER NOT NULL DEFAULT 0 CHECK (balance_wl >= 0),
    balance_dl INTEGER NOT NULL DEFAULT 0 CHECK (balance_dl >= 0),
    balance_bgl INTEGER NOT NULL DEFAULT 0 CHECK (balance_bgl >= 0),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS user_growid (
    user_id TEXT PRIMARY KEY,
    growid TEXT NOT NULL REFERENCES users(growid) ON DELETE CASCADE,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_user_growid_growid ON user_growid(growid);
CREATE TABLE IF NOT EXISTS blacklist (
    growid TEXT PRIMARY KEY,
    added_by TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

var migration002Store = `
CREATE TABLE IF NOT EXISTS products (
    code TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    price INTEGER NOT NULL CHECK (price >= 0),
    description TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS stock (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    product_code TEXT NOT NULL REFERENCES products(code) ON DELETE CASCADE,
    content TEXT NOT NULL UNIQUE CHECK (length(content) > 0),
    content_hash TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'AVAILABLE' CHECK (status IN ('AVAILABLE', 'SOLD', 'DELETED')),
    added_by TEXT NOT NULL,
    buyer_id TEXT,
    seller_id TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_stock_product_status ON stock(product_code, status, id);
CREATE INDEX IF NOT EXISTS idx_stock_buyer ON stock(buyer_id);
CREATE TRIGGER IF NOT EXISTS stock_status_transition
BEFORE UPDATE OF status ON stock
WHEN OLD.status <> 'AVAILABLE' AND NEW.status <> OLD.status
BEGIN
    SELECT RAISE(ABORT, 'stock status transition not allowed');
END;
CREATE TRIGGER IF NOT EXISTS stock_sold_immutable
BEFORE UPDATE ON stock
WHEN OLD.status = 'SOLD' AND (
    NEW.content <> OLD.content OR
    NEW.product_code <> OLD.product_code OR
    NEW.buyer_id IS NOT OLD.buyer_id OR
    NEW.seller_id IS NOT OLD.seller_id OR
    NEW.added_by <> OLD.added_by
)
BEGIN
    SELECT RAISE(ABORT, 'sold stock is immutable');
END;
`

var migration003Ledger = `
CREATE TABLE IF NOT EXISTS balance_transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    growid TEXT NOT NULL REFERENCES users(growid) ON DELETE CASCADE,
    type TEXT NOT NULL,
    details TEXT NOT NULL DEFAULT '',
    old_balance TEXT NOT NULL,
    new_balance TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_balance_transactions_growid ON balance_transactions(growid, id DESC);
CREATE TRIGGER IF NOT EXISTS balance_transactions_no_update
BEFORE UPDATE ON balance_transactions
BEGIN
    SELECT RAISE(ABORT, 'balance_transactions is append-only');
END;
CREATE TRIGGER IF NOT EXISTS balance_transactions_no_delete
BEFORE DELETE ON balance_transactions
BEGIN
    SELECT RAISE(ABORT, 'balance_transactions is append-only');
END;
`

var migration004Admin = `
CREATE TABLE IF NOT EXISTS world_info (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    world TEXT NOT NULL DEFAULT '',
    owner TEXT NOT NULL DEFAULT '',
    bot TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
INSERT OR IGNORE INTO world_info (id, world, owner, bot) VALUES (1, '', '', '');
CREATE TABLE IF NOT EXISTS bot_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS role_permissions (
    role_id TEXT PRIMARY KEY,
    permissions TEXT NOT NULL
);
INSERT OR IGNORE INTO role_permissions (role_id, permissions) VALUES ('admin', 'all');
CREATE TABLE IF NOT EXISTS admin_sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    session_token TEXT NOT NULL UNIQUE,
    authenticated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    expires_at INTEGER NOT NULL,
    last_activity INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_admin_sessions_user_id ON admin_sessions(user_id);
CREATE TABLE IF NOT EXISTS admin_login_attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    attempt_time INTEGER NOT NULL,
    success INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_admin_login_attempts_user ON admin_login_attempts(user_id, attempt_time);
`

// Package members управляет покупателями: регистрацией GrowID,
// привязкой Telegram-пользователя к GrowID и чёрным списком.
// models.go описывает структуры данных таблиц users, user_growid и blacklist.
package members

import "time"

// User - покупатель, идентифицируется GrowID.
// Создаётся при первой регистрации и никогда не удаляется (история транзакций).
type User struct {
	GrowID    string    `db:"growid"` // Регистр сохраняется как ввёл пользователь
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Identity связывает Telegram user ID ровно с одним GrowID.
// После создания не меняется.
type Identity struct {
	ChatUserID int64     `db:"user_id"`
	GrowID     string    `db:"growid"`
	CreatedAt  time.Time `db:"created_at"`
}

// BlacklistEntry - GrowID, которому запрещены покупки.
type BlacklistEntry struct {
	GrowID    string    `db:"growid"`
	AddedBy   string    `db:"added_by"`
	CreatedAt time.Time `db:"created_at"`
}

// Package admin - служебная часть магазина: режим обслуживания, данные мира,
// проверка прав, парольные сессии и админ-команды в чате.
// models.go описывает структуры сессий, попыток входа, мира и уровни прав.
package admin

import "time"

// AdminSession - активная сессия администратора.
type AdminSession struct {
	ID              int64     `db:"id"`
	UserID          int64     `db:"user_id"`
	SessionToken    string    `db:"session_token"`
	AuthenticatedAt time.Time `db:"authenticated_at"`
	ExpiresAt       time.Time `db:"expires_at"`
	LastActivity    time.Time `db:"last_activity"`
	IsActive        bool      `db:"is_active"`
}

// LoginAttempt - попытка входа (для защиты от brute-force).
type LoginAttempt struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	AttemptTime time.Time `db:"attempt_time"`
	Success     bool      `db:"success"`
}

// WorldInfo - мир Growtopia, где выдаются покупки. Одна строка с id=1.
type WorldInfo struct {
	World     string    `db:"world"`
	Owner     string    `db:"owner"`
	Bot       string    `db:"bot"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IsEmpty - мир ещё не задан.
func (w *WorldInfo) IsEmpty() bool {
	return w.World == "" && w.Owner == "" && w.Bot == ""
}

// Level - уровень прав.
type Level int

const (
	LevelView     Level = iota // просмотр витрины
	LevelPurchase              // покупки
	LevelStock                 // управление стоком
	LevelAdmin                 // балансы, товары, обслуживание
	LevelOwner                 // восстановление, перезапуск, сброс пользователя
)

func (l Level) String() string {
	switch l {
	case LevelView:
		return "VIEW"
	case LevelPurchase:
		return "PURCHASE"
	case LevelStock:
		return "STOCK"
	case LevelAdmin:
		return "ADMIN"
	case LevelOwner:
		return "OWNER"
	}
	return "UNKNOWN"
}

// SettingMaintenanceMode - ключ bot_settings с флагом обслуживания.
const SettingMaintenanceMode = "maintenance_mode"

// Значения флага обслуживания.
const (
	MaintenanceOn  = "on"
	MaintenanceOff = "off"
)

// Параметры защиты входа.
const (
	sessionTTL       = 24 * time.Hour
	maxLoginAttempts = 3
	attemptWindow    = time.Hour
	maintenanceTTL   = 30 * time.Second
)

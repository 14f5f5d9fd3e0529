// Package admin - service.go: режим обслуживания, настройки, мир,
// проверка прав и парольные сессии администратора.
package admin

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/chat"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/config"
	"serotonyl.ru/growstore-bot/internal/db/sqlite"
)

// Service управляет служебной частью магазина.
type Service struct {
	db    *sqlite.DB
	repo  *Repository
	cache *cache.Cache
	roles chat.MemberChecker

	adminID      int64
	adminRole    int64
	passwordHash string

	now func() time.Time

	mu        sync.RWMutex
	listeners []func(on bool)
}

// NewService создаёт сервис. roles может быть nil - тогда права есть только у admin_id.
func NewService(db *sqlite.DB, repo *Repository, c *cache.Cache, cfg *config.Config, roles chat.MemberChecker) *Service {
	return &Service{
		db:           db,
		repo:         repo,
		cache:        c,
		roles:        roles,
		adminID:      cfg.AdminID,
		adminRole:    cfg.AdminRoleChatID(),
		passwordHash: cfg.Env.AdminPasswordHash,
		now:          time.Now,
	}
}

// --- Режим обслуживания ---

// IsMaintenanceMode читает флаг обслуживания (кэш 30 секунд).
func (s *Service) IsMaintenanceMode(ctx context.Context) (bool, error) {
	return cache.GetOrLoad(ctx, s.cache, cache.MaintenanceModeKey, maintenanceTTL,
		func(ctx context.Context) (bool, error) {
			v, found, err := s.GetSetting(ctx, SettingMaintenanceMode)
			if err != nil || !found {
				return false, err
			}
			on, _ := strconv.ParseBool(v)
			return on, nil
		})
}

// SetMaintenanceMode включает или выключает обслуживание и уведомляет подписчиков.
func (s *Service) SetMaintenanceMode(ctx context.Context, on bool, by int64) error {
	if err := s.SetSetting(ctx, SettingMaintenanceMode, formatMaintenance(on)); err != nil {
		return err
	}
	s.cache.Delete(cache.MaintenanceModeKey)

	log.WithFields(log.Fields{"component": "admin", "on": on, "by": by}).Warn("Режим обслуживания изменён")

	s.mu.RLock()
	listeners := append([]func(bool){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(on)
	}
	return nil
}

// formatMaintenance - значение bot_settings.maintenance_mode: "on" или "off".
func formatMaintenance(on bool) string {
	if on {
		return MaintenanceOn
	}
	return MaintenanceOff
}

// parseMaintenance понимает "on"/"off" и старые "true"/"false"/"1"/"0".
func parseMaintenance(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == MaintenanceOn {
		return true
	}
	on, _ := strconv.ParseBool(v)
	return on
}

// OnMaintenanceChange подписывает fn на смену режима обслуживания.
func (s *Service) OnMaintenanceChange(fn func(on bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// --- Настройки ---

// GetSetting читает bot_settings.
func (s *Service) GetSetting(ctx context.Context, key string) (value string, found bool, err error) {
	err = s.db.Read(ctx, func(q sqlite.Querier) error {
		value, found, err = s.repo.GetSetting(ctx, q, key)
		return err
	})
	return value, found, err
}

// SetSetting записывает bot_settings.
func (s *Service) SetSetting(ctx context.Context, key, value string) error {
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		return s.repo.SetSetting(ctx, tx, key, value)
	})
}

// --- Мир ---

// GetWorld возвращает мир выдачи.
func (s *Service) GetWorld(ctx context.Context) (*WorldInfo, error) {
	var w *WorldInfo
	err := s.db.Read(ctx, func(q sqlite.Querier) error {
		var err error
		w, err = s.repo.GetWorld(ctx, q)
		return err
	})
	return w, err
}

// SetWorld задаёт мир выдачи.
func (s *Service) SetWorld(ctx context.Context, world, owner, bot string) (*WorldInfo, error) {
	w := &WorldInfo{
		World: strings.TrimSpace(world),
		Owner: strings.TrimSpace(owner),
		Bot:   strings.TrimSpace(bot),
	}
	if w.World == "" {
		return nil, common.ErrInvalidInput
	}
	if err := s.db.Write(ctx, func(tx *sql.Tx) error {
		return s.repo.SetWorld(ctx, tx, w)
	}); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"component": "admin", "world": w.World}).Info("Мир обновлён")
	return s.GetWorld(ctx)
}

// ClearWorld очищает мир выдачи.
func (s *Service) ClearWorld(ctx context.Context) error {
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		return s.repo.SetWorld(ctx, tx, &WorldInfo{})
	})
}

// --- Права ---

// CheckPermission проверяет уровень прав пользователя.
// VIEW и PURCHASE есть у всех, OWNER только у admin_id,
// остальное у admin_id или у участников админ-чата с подходящими правами роли.
func (s *Service) CheckPermission(ctx context.Context, userID int64, level Level) bool {
	logger := log.WithFields(log.Fields{
		"component": "admin",
		"user_id":   userID,
		"level":     level.String(),
	})

	if level <= LevelPurchase {
		return true
	}
	if userID == s.adminID {
		logger.Debug("Доступ разрешён: admin_id")
		return true
	}
	if level == LevelOwner {
		logger.Info("Доступ запрещён: уровень только для admin_id")
		return false
	}
	if s.adminRole == 0 || s.roles == nil {
		logger.Info("Доступ запрещён: роль администратора не настроена")
		return false
	}

	member, err := s.roles.IsChatMember(ctx, s.adminRole, userID)
	if err != nil {
		logger.WithError(err).Warn("Доступ запрещён: не удалось проверить роль")
		return false
	}
	if !member {
		logger.Info("Доступ запрещён: нет роли администратора")
		return false
	}

	var perms string
	if err := s.db.Read(ctx, func(q sqlite.Querier) error {
		var err error
		perms, err = s.repo.GetRolePermissions(ctx, q, "admin")
		return err
	}); err != nil {
		logger.WithError(err).Warn("Доступ запрещён: не удалось прочитать права роли")
		return false
	}
	if !permits(perms, level) {
		logger.WithField("permissions", perms).Info("Доступ запрещён: у роли нет уровня")
		return false
	}

	logger.Debug("Доступ разрешён: роль администратора")
	return true
}

// permits разбирает role_permissions.permissions: "all" или уровни через запятую.
func permits(perms string, level Level) bool {
	for _, p := range strings.Split(perms, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "ALL" || p == level.String() {
			return true
		}
	}
	return false
}

// --- Сессии ---

// SessionsEnabled - задан ли хеш пароля.
func (s *Service) SessionsEnabled() bool {
	return s.passwordHash != ""
}

// VerifyPassword проверяет пароль администратора с использованием Argon2id.
// Защита от brute-force: 3 неудачные попытки за час блокируют вход.
func (s *Service) VerifyPassword(ctx context.Context, userID int64, password string) error {
	if !s.SessionsEnabled() {
		return common.ErrForbidden
	}
	now := s.now()

	var attempts int
	if err := s.db.Read(ctx, func(q sqlite.Querier) error {
		var err error
		attempts, err = s.repo.GetRecentAttempts(ctx, q, userID, now.Add(-attemptWindow))
		return err
	}); err != nil {
		return err
	}
	if attempts >= maxLoginAttempts {
		log.WithField("user_id", userID).Warn("Вход заблокирован: слишком много попыток")
		return common.ErrTooManyAttempts
	}

	match := verifyArgon2id(password, s.passwordHash)

	err := s.db.Write(ctx, func(tx *sql.Tx) error {
		if err := s.repo.LogAttempt(ctx, tx, userID, match, now); err != nil {
			return err
		}
		if !match {
			return nil
		}
		// Старые сессии гасим, живёт одна
		if err := s.repo.DeactivateSession(ctx, tx, userID); err != nil {
			return err
		}
		return s.repo.CreateSession(ctx, tx, &AdminSession{
			UserID:       userID,
			SessionToken: generateSecureToken(),
			ExpiresAt:    now.Add(sessionTTL),
		})
	})
	if err != nil {
		return err
	}
	if !match {
		log.WithField("user_id", userID).Warn("Неверный пароль администратора")
		return common.ErrWrongPassword
	}

	log.WithField("user_id", userID).Info("Администратор вошёл")
	return nil
}

// HasActiveSession проверяет, есть ли у пользователя активная сессия.
func (s *Service) HasActiveSession(ctx context.Context, userID int64) bool {
	var session *AdminSession
	err := s.db.Read(ctx, func(q sqlite.Querier) error {
		var err error
		session, err = s.repo.GetActiveSession(ctx, q, userID, s.now())
		return err
	})
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		log.WithError(err).WithField("user_id", userID).Warn("Ошибка чтения сессии")
	}
	return err == nil && session != nil
}

// RequireSession - ErrSessionRequired, если пароли включены, а сессии нет.
// При наличии сессии обновляет время активности.
func (s *Service) RequireSession(ctx context.Context, userID int64) error {
	if !s.SessionsEnabled() {
		return nil
	}
	if !s.HasActiveSession(ctx, userID) {
		return common.ErrSessionRequired
	}
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		return s.repo.UpdateActivity(ctx, tx, userID, s.now())
	})
}

// Logout завершает сессии пользователя.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		return s.repo.DeactivateSession(ctx, tx, userID)
	})
}

// ExpireSessions гасит просроченные сессии. Вызывается планировщиком.
func (s *Service) ExpireSessions(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.Write(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = s.repo.ExpireSessions(ctx, tx, s.now())
		return err
	})
	if err == nil && n > 0 {
		log.WithFields(log.Fields{"component": "admin", "expired": n}).Info("Просроченные сессии закрыты")
	}
	return n, err
}

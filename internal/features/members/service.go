// Package members - service.go содержит бизнес-логику регистрации покупателей.
// Сервис связывает Telegram user ID с GrowID и ведёт чёрный список.
package members

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/db/sqlite"
)

// Привязка не меняется после создания, поэтому TTL большой.
const identityTTL = 30 * time.Minute

// Service управляет покупателями.
type Service struct {
	db    *sqlite.DB
	repo  *Repository
	cache *cache.Cache
}

// NewService создаёт сервис покупателей.
func NewService(db *sqlite.DB, repo *Repository, c *cache.Cache) *Service {
	return &Service{db: db, repo: repo, cache: c}
}

// Register привязывает Telegram-пользователя к GrowID.
// Покупатель создаётся с нулевым балансом, если его ещё нет.
// Повторная регистрация того же пользователя - common.ErrAlreadyRegistered.
// Возвращает нормализованный GrowID (регистр сохраняется).
func (s *Service) Register(ctx context.Context, chatUserID int64, rawGrowID string) (string, error) {
	growid, err := common.NormalizeGrowID(rawGrowID)
	if err != nil {
		return "", err
	}

	err = s.db.Write(ctx, func(tx *sql.Tx) error {
		existing, err := s.repo.GetIdentity(ctx, tx, chatUserID)
		if err == nil {
			return fmt.Errorf("user_id=%d уже привязан к %s: %w", chatUserID, existing.GrowID, common.ErrAlreadyRegistered)
		}
		if !errors.Is(err, common.ErrNotRegistered) {
			return err
		}
		if err := s.repo.CreateUserIfMissing(ctx, tx, growid); err != nil {
			return err
		}
		return s.repo.CreateIdentity(ctx, tx, chatUserID, growid)
	})
	if err != nil {
		return "", err
	}
	s.cache.InvalidateIdentity(chatUserID)

	log.WithFields(log.Fields{
		"user_id": chatUserID,
		"growid":  growid,
	}).Info("Покупатель зарегистрирован")
	return growid, nil
}

// Lookup возвращает GrowID, привязанный к Telegram-пользователю.
// Если привязки нет - common.ErrNotRegistered.
func (s *Service) Lookup(ctx context.Context, chatUserID int64) (string, error) {
	return cache.GetOrLoad(ctx, s.cache, cache.IdentityKey(chatUserID), identityTTL,
		func(ctx context.Context) (string, error) {
			var growid string
			err := s.db.Read(ctx, func(q sqlite.Querier) error {
				id, err := s.repo.GetIdentity(ctx, q, chatUserID)
				if err != nil {
					return err
				}
				growid = id.GrowID
				return nil
			})
			return growid, err
		})
}

// Exists проверяет, зарегистрирован ли GrowID (регистрозависимо).
func (s *Service) Exists(ctx context.Context, growid string) (bool, error) {
	var ok bool
	err := s.db.Read(ctx, func(q sqlite.Querier) error {
		var err error
		ok, err = s.repo.UserExists(ctx, q, growid)
		return err
	})
	return ok, err
}

// ChatUsers возвращает Telegram-пользователей, привязанных к GrowID.
// Нужен для уведомлений о пополнении.
func (s *Service) ChatUsers(ctx context.Context, growid string) ([]int64, error) {
	var ids []int64
	err := s.db.Read(ctx, func(q sqlite.Querier) error {
		var err error
		ids, err = s.repo.ChatUsersByGrowID(ctx, q, growid)
		return err
	})
	return ids, err
}

// IsBlacklisted проверяет чёрный список.
func (s *Service) IsBlacklisted(ctx context.Context, growid string) (bool, error) {
	var ok bool
	err := s.db.Read(ctx, func(q sqlite.Querier) error {
		var err error
		ok, err = s.repo.IsBlacklisted(ctx, q, growid)
		return err
	})
	return ok, err
}

// IsBlacklistedTx - проверка внутри транзакции покупки.
func (s *Service) IsBlacklistedTx(ctx context.Context, tx *sql.Tx, growid string) (bool, error) {
	return s.repo.IsBlacklisted(ctx, tx, growid)
}

// AddBlacklist запрещает покупки GrowID. GrowID должен быть зарегистрирован.
func (s *Service) AddBlacklist(ctx context.Context, growid, addedBy string) error {
	growid, err := common.NormalizeGrowID(growid)
	if err != nil {
		return err
	}
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		exists, err := s.repo.UserExists(ctx, tx, growid)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%s: %w", growid, common.ErrNotRegistered)
		}
		added, err := s.repo.AddBlacklist(ctx, tx, growid, addedBy)
		if err != nil {
			return err
		}
		if !added {
			return fmt.Errorf("%s уже в чёрном списке: %w", growid, common.ErrExists)
		}
		log.WithFields(log.Fields{"growid": growid, "by": addedBy}).Warn("GrowID добавлен в чёрный список")
		return nil
	})
}

// RemoveBlacklist снимает запрет.
func (s *Service) RemoveBlacklist(ctx context.Context, growid string) error {
	growid, err := common.NormalizeGrowID(growid)
	if err != nil {
		return err
	}
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		removed, err := s.repo.RemoveBlacklist(ctx, tx, growid)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%s нет в чёрном списке: %w", growid, common.ErrNotFound)
		}
		log.WithField("growid", growid).Info("GrowID убран из чёрного списка")
		return nil
	})
}

// ListBlacklist возвращает чёрный список.
func (s *Service) ListBlacklist(ctx context.Context) ([]*BlacklistEntry, error) {
	var out []*BlacklistEntry
	err := s.db.Read(ctx, func(q sqlite.Querier) error {
		var err error
		out, err = s.repo.ListBlacklist(ctx, q)
		return err
	})
	return out, err
}

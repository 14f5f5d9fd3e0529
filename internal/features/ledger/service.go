// Package ledger - service.go: изменение балансов.
// Каждое изменение баланса - одна транзакция БД, в которой обновляется
// строка users и дописывается строка balance_transactions.
//
// Порядок блокировок: сначала Lock(growid), затем писатель БД.
// Кто держит Lock, тот может смело читать баланс и планировать изменение.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/db/sqlite"
)

// Баланс показывается в меню, для расчётов он всегда читается из БД.
const balanceTTL = 30 * time.Second

// Service управляет балансами.
type Service struct {
	db      *sqlite.DB
	repo    *Repository
	cache   *cache.Cache
	intents *keyedMutex
}

// NewService создаёт сервис балансов.
func NewService(db *sqlite.DB, repo *Repository, c *cache.Cache) *Service {
	return &Service{db: db, repo: repo, cache: c, intents: newKeyedMutex()}
}

// Lock сериализует изменения баланса одного GrowID.
func (s *Service) Lock(growid string) (unlock func()) {
	return s.intents.Lock(growid)
}

// Invalidate сбрасывает кэш баланса. Вызывается после коммита.
func (s *Service) Invalidate(growid string) {
	s.cache.InvalidateBalance(growid)
}

// GetBalance возвращает баланс. Нет покупателя - common.ErrNotRegistered.
func (s *Service) GetBalance(ctx context.Context, growid string) (Balance, error) {
	return cache.GetOrLoad(ctx, s.cache, cache.BalanceKey(growid), balanceTTL,
		func(ctx context.Context) (Balance, error) {
			var b Balance
			err := s.db.Read(ctx, func(q sqlite.Querier) error {
				var err error
				b, err = s.repo.GetBalance(ctx, q, growid)
				return err
			})
			return b, err
		})
}

// GetBalanceTx читает баланс внутри транзакции, мимо кэша.
func (s *Service) GetBalanceTx(ctx context.Context, tx *sql.Tx, growid string) (Balance, error) {
	return s.repo.GetBalance(ctx, tx, growid)
}

// UpdateBalance применяет знаковую дельту. Если хотя бы одна компонента
// станет отрицательной - common.ErrInsufficientBalance, и ничего не меняется.
func (s *Service) UpdateBalance(ctx context.Context, growid string, delta Balance, txType TxType, details string) (Balance, error) {
	unlock := s.Lock(growid)
	defer unlock()

	var t *Transaction
	err := s.db.Write(ctx, func(tx *sql.Tx) error {
		var err error
		t, err = s.UpdateBalanceTx(ctx, tx, growid, delta, txType, details)
		return err
	})
	if err != nil {
		return Balance{}, err
	}
	s.Invalidate(growid)
	LogTransaction(t)
	return t.NewBalance, nil
}

// UpdateBalanceTx - UpdateBalance внутри чужой транзакции.
// Вызывающий держит Lock(growid) и после коммита вызывает Invalidate.
func (s *Service) UpdateBalanceTx(ctx context.Context, tx *sql.Tx, growid string, delta Balance, txType TxType, details string) (*Transaction, error) {
	if !txType.Valid() {
		return nil, fmt.Errorf("%w: тип транзакции %q", common.ErrInvalidInput, txType)
	}
	if strings.TrimSpace(growid) == "" {
		return nil, common.ErrInvalidGrowid
	}

	if err := delta.Bounded(); err != nil {
		return nil, err
	}

	old, err := s.repo.GetBalance(ctx, tx, growid)
	if err != nil {
		return nil, err
	}
	next := old.Add(delta)
	if err := next.Bounded(); err != nil {
		return nil, fmt.Errorf("%s: %s + %s: %w", growid, old, delta, err)
	}
	if next.IsNegative() {
		return nil, fmt.Errorf("%s: %s + %s: %w", growid, old, delta, common.ErrInsufficientBalance)
	}
	return s.apply(ctx, tx, growid, old, next, txType, details)
}

// DebitTx списывает cost WL с разменом крупных валют. Для покупок.
func (s *Service) DebitTx(ctx context.Context, tx *sql.Tx, growid string, cost int64, txType TxType, details string) (*Transaction, error) {
	old, err := s.repo.GetBalance(ctx, tx, growid)
	if err != nil {
		return nil, err
	}
	next, err := old.Debit(cost)
	if err != nil {
		return nil, fmt.Errorf("%s: списание %d WL: %w", growid, cost, err)
	}
	return s.apply(ctx, tx, growid, old, next, txType, details)
}

// DebitBase списывает сумму в WL, разменивая DL и BGL при необходимости.
func (s *Service) DebitBase(ctx context.Context, growid string, cost int64, txType TxType, details string) (Balance, error) {
	if cost <= 0 || cost > MaxBase {
		return Balance{}, common.ErrInvalidAmount
	}
	unlock := s.Lock(growid)
	defer unlock()

	var t *Transaction
	err := s.db.Write(ctx, func(tx *sql.Tx) error {
		var err error
		t, err = s.DebitTx(ctx, tx, growid, cost, txType, details)
		return err
	})
	if err != nil {
		return Balance{}, err
	}
	s.Invalidate(growid)
	LogTransaction(t)
	return t.NewBalance, nil
}

// SetBalanceAbsolute устанавливает баланс. В журнал пишется
// фактическая разница, так что сумма дельт по-прежнему равна балансу.
func (s *Service) SetBalanceAbsolute(ctx context.Context, growid string, target Balance, txType TxType, details string) (Balance, error) {
	if target.IsNegative() {
		return Balance{}, common.ErrInvalidAmount
	}
	if err := target.Bounded(); err != nil {
		return Balance{}, err
	}
	unlock := s.Lock(growid)
	defer unlock()

	var t *Transaction
	err := s.db.Write(ctx, func(tx *sql.Tx) error {
		old, err := s.repo.GetBalance(ctx, tx, growid)
		if err != nil {
			return err
		}
		t, err = s.apply(ctx, tx, growid, old, target, txType, details)
		return err
	})
	if err != nil {
		return Balance{}, err
	}
	s.Invalidate(growid)
	LogTransaction(t)
	return t.NewBalance, nil
}

// ResetBalance обнуляет баланс (ADMIN_RESET).
func (s *Service) ResetBalance(ctx context.Context, growid, details string) (Balance, error) {
	return s.SetBalanceAbsolute(ctx, growid, Balance{}, TxAdminReset, details)
}

func (s *Service) apply(ctx context.Context, tx *sql.Tx, growid string, old, next Balance, txType TxType, details string) (*Transaction, error) {
	if err := s.repo.SetBalance(ctx, tx, growid, next); err != nil {
		return nil, err
	}
	t := &Transaction{
		GrowID:     growid,
		Type:       txType,
		Details:    details,
		OldBalance: old,
		NewBalance: next,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.InsertTransaction(ctx, tx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// History - последние limit записей журнала покупателя.
func (s *Service) History(ctx context.Context, growid string, limit int) ([]*Transaction, error) {
	if growid == "" {
		return nil, common.ErrInvalidGrowid
	}
	return s.history(ctx, growid, limit)
}

// AllHistory - последние limit записей по всем покупателям.
func (s *Service) AllHistory(ctx context.Context, limit int) ([]*Transaction, error) {
	return s.history(ctx, "", limit)
}

func (s *Service) history(ctx context.Context, growid string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []*Transaction
	err := s.db.Read(ctx, func(q sqlite.Querier) error {
		var err error
		out, err = s.repo.GetTransactions(ctx, q, growid, limit)
		return err
	})
	return out, err
}

// LogTransaction пишет запись журнала в лог после коммита.
func LogTransaction(t *Transaction) {
	if t == nil {
		return
	}
	log.WithFields(log.Fields{
		"growid": t.GrowID,
		"type":   t.Type,
		"old":    t.OldBalance.String(),
		"new":    t.NewBalance.String(),
		"tx_id":  t.ID,
	}).Info("Баланс изменён")
}

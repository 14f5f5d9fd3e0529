// Package stock - service.go: операции каталога и склада.
// Все записи идут через писателя БД, после коммита сбрасывается кэш.
package stock

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

const (
	productTTL = 5 * time.Minute
	countTTL   = 30 * time.Second
)

// Service - каталог и склад.
type Service struct {
	db    *sqlite.DB
	repo  *Repository
	cache *cache.Cache
}

// NewService создаёт сервис склада.
func NewService(db *sqlite.DB, repo *Repository, c *cache.Cache) *Service {
	return &Service{db: db, repo: repo, cache: c}
}

// GetProduct возвращает товар по коду (регистр кода не важен).
func (s *Service) GetProduct(ctx context.Context, rawCode string) (*Product, error) {
	code, err := common.NormalizeProductCode(rawCode)
	if err != nil {
		return nil, err
	}
	return cache.GetOrLoad(ctx, s.cache, cache.ProductKey(code), productTTL,
		func(ctx context.Context) (*Product, error) {
			var p *Product
			err := s.db.Read(ctx, func(q sqlite.Querier) error {
				var err error
				p, err = s.repo.GetProduct(ctx, q, code)
				return err
			})
			return p, err
		})
}

// GetProductTx читает товар внутри транзакции, мимо кэша.
func (s *Service) GetProductTx(ctx context.Context, tx *sql.Tx, code string) (*Product, error) {
	return s.repo.GetProduct(ctx, tx, code)
}

// ListProducts возвращает все товары.
func (s *Service) ListProducts(ctx context.Context) ([]*Product, error) {
	return cache.GetOrLoad(ctx, s.cache, cache.ProductsAllKey, productTTL,
		func(ctx context.Context) ([]*Product, error) {
			var out []*Product
			err := s.db.Read(ctx, func(q sqlite.Querier) error {
				var err error
				out, err = s.repo.ListProducts(ctx, q)
				return err
			})
			return out, err
		})
}

// AddProduct создаёт товар. Код приводится к верхнему регистру.
func (s *Service) AddProduct(ctx context.Context, rawCode, name string, price int64, description string) (*Product, error) {
	code, err := common.NormalizeProductCode(rawCode)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: product name is empty", common.ErrInvalidInput)
	}
	if price < 0 || price > MaxPrice {
		return nil, common.ErrInvalidAmount
	}

	p := &Product{Code: code, Name: name, Price: price, Description: strings.TrimSpace(description)}
	if err := s.db.Write(ctx, func(tx *sql.Tx) error {
		return s.repo.InsertProduct(ctx, tx, p)
	}); err != nil {
		return nil, err
	}
	s.cache.InvalidateProduct(code)

	log.WithFields(log.Fields{"code": code, "price": price}).Info("Товар добавлен")
	return s.GetProduct(ctx, code)
}

// EditProduct меняет имя, цену или описание.
func (s *Service) EditProduct(ctx context.Context, rawCode string, u ProductUpdate) (*Product, error) {
	code, err := common.NormalizeProductCode(rawCode)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: product name is empty", common.ErrInvalidInput)
		}
		u.Name = &name
	}
	if u.Price != nil && (*u.Price < 0 || *u.Price > MaxPrice) {
		return nil, common.ErrInvalidAmount
	}

	if err := s.db.Write(ctx, func(tx *sql.Tx) error {
		return s.repo.UpdateProduct(ctx, tx, code, u)
	}); err != nil {
		return nil, err
	}
	s.cache.InvalidateProduct(code)
	// Availability держит копию товара
	s.cache.InvalidateStock(code)

	log.WithField("code", code).Info("Товар изменён")
	return s.GetProduct(ctx, code)
}

// DeleteProduct удаляет товар вместе со стоком.
func (s *Service) DeleteProduct(ctx context.Context, rawCode string) error {
	code, err := common.NormalizeProductCode(rawCode)
	if err != nil {
		return err
	}
	if err := s.db.Write(ctx, func(tx *sql.Tx) error {
		return s.repo.DeleteProduct(ctx, tx, code)
	}); err != nil {
		return err
	}
	s.cache.InvalidateProduct(code)
	s.cache.InvalidateStock(code)

	log.WithField("code", code).Warn("Товар удалён вместе со стоком")
	return nil
}

// CountAvailable - количество доступного стока.
func (s *Service) CountAvailable(ctx context.Context, rawCode string) (int, error) {
	code, err := common.NormalizeProductCode(rawCode)
	if err != nil {
		return 0, err
	}
	return cache.GetOrLoad(ctx, s.cache, cache.StockCountKey(code), countTTL,
		func(ctx context.Context) (int, error) {
			var n int
			err := s.db.Read(ctx, func(q sqlite.Querier) error {
				var err error
				n, err = s.repo.CountAvailable(ctx, q, code)
				return err
			})
			return n, err
		})
}

// CountAvailableTx - подсчёт внутри транзакции, мимо кэша.
func (s *Service) CountAvailableTx(ctx context.Context, tx *sql.Tx, code string) (int, error) {
	return s.repo.CountAvailable(ctx, tx, code)
}

// Availability - товар и остаток одним значением, для диалога покупки.
func (s *Service) Availability(ctx context.Context, rawCode string) (Summary, error) {
	code, err := common.NormalizeProductCode(rawCode)
	if err != nil {
		return Summary{}, err
	}
	return cache.GetOrLoad(ctx, s.cache, cache.StockAvailableKey(code), countTTL,
		func(ctx context.Context) (Summary, error) {
			var sum Summary
			err := s.db.Read(ctx, func(q sqlite.Querier) error {
				p, err := s.repo.GetProduct(ctx, q, code)
				if err != nil {
					return err
				}
				sum.Product = *p
				sum.Available, err = s.repo.CountAvailable(ctx, q, code)
				return err
			})
			return sum, err
		})
}

// Summaries - все товары с остатками, для витрины.
func (s *Service) Summaries(ctx context.Context) ([]Summary, error) {
	var out []Summary
	err := s.db.Read(ctx, func(q sqlite.Querier) error {
		var err error
		out, err = s.repo.Summaries(ctx, q)
		return err
	})
	return out, err
}

// AddStock загружает контент. Дубликаты (в том числе уже проданные) пропускаются.
func (s *Service) AddStock(ctx context.Context, rawCode string, contents []string, addedBy string) (AddResult, error) {
	code, err := common.NormalizeProductCode(rawCode)
	if err != nil {
		return AddResult{}, err
	}

	var res AddResult
	err = s.db.Write(ctx, func(tx *sql.Tx) error {
		res = AddResult{}
		if _, err := s.repo.GetProduct(ctx, tx, code); err != nil {
			return err
		}
		for _, c := range contents {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			inserted, err := s.repo.InsertItem(ctx, tx, code, c, addedBy)
			if err != nil {
				return err
			}
			if inserted {
				res.Added++
			} else {
				res.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return AddResult{}, err
	}
	s.cache.InvalidateStock(code)

	log.WithFields(log.Fields{
		"code":    code,
		"added":   res.Added,
		"skipped": res.Skipped,
		"by":      addedBy,
	}).Info("Сток загружен")
	return res, nil
}

// Claim продаёт qty единиц покупателю в отдельной транзакции.
func (s *Service) Claim(ctx context.Context, rawCode string, qty int, buyerID string) ([]*Item, error) {
	code, err := common.NormalizeProductCode(rawCode)
	if err != nil {
		return nil, err
	}
	var items []*Item
	err = s.db.Write(ctx, func(tx *sql.Tx) error {
		var err error
		items, err = s.ClaimTx(ctx, tx, code, qty, buyerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateStock(code)
	return items, nil
}

// ClaimTx переводит qty самых старых доступных единиц в SOLD.
// Если доступно меньше qty - common.ErrOutOfStock, ничего не меняется
// (вызывающий откатывает транзакцию). Кэш сбрасывает вызывающий после коммита.
func (s *Service) ClaimTx(ctx context.Context, tx *sql.Tx, code string, qty int, buyerID string) ([]*Item, error) {
	items, err := s.take(ctx, tx, code, qty, StatusSold, buyerID, "")
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		it.BuyerID = buyerID
	}
	return items, nil
}

// ReduceStock убирает qty самых старых доступных единиц (AVAILABLE→DELETED).
func (s *Service) ReduceStock(ctx context.Context, rawCode string, qty int, adminID string) ([]*Item, error) {
	code, err := common.NormalizeProductCode(rawCode)
	if err != nil {
		return nil, err
	}
	var items []*Item
	err = s.db.Write(ctx, func(tx *sql.Tx) error {
		var err error
		items, err = s.take(ctx, tx, code, qty, StatusDeleted, "", adminID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateStock(code)

	log.WithFields(log.Fields{"code": code, "qty": qty, "by": adminID}).Warn("Сток списан")
	return items, nil
}

func (s *Service) take(ctx context.Context, tx *sql.Tx, code string, qty int, status Status, buyerID, sellerID string) ([]*Item, error) {
	if qty <= 0 {
		return nil, common.ErrInvalidQty
	}
	items, err := s.repo.SelectAvailable(ctx, tx, code, qty)
	if err != nil {
		return nil, err
	}
	if len(items) < qty {
		return nil, fmt.Errorf("%s: нужно %d, доступно %d: %w", code, qty, len(items), common.ErrOutOfStock)
	}
	for _, it := range items {
		ok, err := s.repo.Transition(ctx, tx, it.ID, status, buyerID, sellerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%s: единица id=%d уже не доступна: %w", code, it.ID, common.ErrOutOfStock)
		}
		it.Status = status
	}
	return items, nil
}

// History - последние единицы товара для админа.
func (s *Service) History(ctx context.Context, rawCode string, limit int) ([]*Item, error) {
	code, err := common.NormalizeProductCode(rawCode)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	var out []*Item
	err = s.db.Read(ctx, func(q sqlite.Querier) error {
		var err error
		out, err = s.repo.History(ctx, q, code, limit)
		return err
	})
	return out, err
}

package purchase

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/db/sqlite"
	"serotonyl.ru/growstore-bot/internal/features/ledger"
	"serotonyl.ru/growstore-bot/internal/features/members"
	"serotonyl.ru/growstore-bot/internal/features/stock"
)

// Maintenance сообщает, включён ли режим обслуживания.
type Maintenance interface {
	IsMaintenanceMode(ctx context.Context) (bool, error)
}

// Observer получает чек после коммита. Ошибки наблюдателя на покупку не влияют.
type Observer interface {
	OnPurchase(ctx context.Context, r *Receipt) error
}

// ObserverFunc - функция как Observer.
type ObserverFunc func(ctx context.Context, r *Receipt) error

func (f ObserverFunc) OnPurchase(ctx context.Context, r *Receipt) error { return f(ctx, r) }

// observerTimeout - дедлайн одного уведомления.
const observerTimeout = 30 * time.Second

// Coordinator проводит покупки.
type Coordinator struct {
	db          *sqlite.DB
	members     *members.Service
	ledger      *ledger.Service
	stock       *stock.Service
	maintenance Maintenance
	cache       *cache.Cache

	mu        sync.RWMutex
	observers []Observer
	wg        sync.WaitGroup
}

// NewCoordinator создаёт координатор покупок.
func NewCoordinator(db *sqlite.DB, m *members.Service, l *ledger.Service, s *stock.Service, maint Maintenance, c *cache.Cache) *Coordinator {
	return &Coordinator{db: db, members: m, ledger: l, stock: s, maintenance: maint, cache: c}
}

// Subscribe добавляет наблюдателя покупок.
func (c *Coordinator) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Purchase покупает qty единиц товара для Telegram-пользователя.
//
// Предпроверки (регистрация, чёрный список, обслуживание, количество,
// баланс, остаток) дают быстрый понятный отказ. Окончательное решение
// принимается внутри транзакции: сток и баланс меняются вместе или никак.
func (c *Coordinator) Purchase(ctx context.Context, chatUserID int64, rawCode string, qty int) (*Receipt, error) {
	// 1. GrowID
	growid, err := c.members.Lookup(ctx, chatUserID)
	if err != nil {
		return nil, err
	}

	// 2. Чёрный список и обслуживание
	banned, err := c.members.IsBlacklisted(ctx, growid)
	if err != nil {
		return nil, err
	}
	if banned {
		return nil, fmt.Errorf("%s: %w", growid, common.ErrBlacklisted)
	}
	if on, err := c.maintenance.IsMaintenanceMode(ctx); err != nil {
		return nil, err
	} else if on {
		return nil, common.ErrMaintenance
	}

	// 3. Товар и количество
	if qty <= 0 || qty > MaxQty {
		return nil, fmt.Errorf("%w: %d", common.ErrInvalidQty, qty)
	}
	product, err := c.stock.GetProduct(ctx, rawCode)
	if err != nil {
		return nil, err
	}
	total := product.Price * int64(qty)

	// 4. Баланс
	balance, err := c.ledger.GetBalance(ctx, growid)
	if err != nil {
		return nil, err
	}
	if !balance.CanAfford(total) {
		return nil, fmt.Errorf("%s: баланс %d WL, нужно %d WL: %w",
			growid, balance.Total(), total, common.ErrInsufficientBalance)
	}

	// 5. Остаток
	available, err := c.stock.CountAvailable(ctx, product.Code)
	if err != nil {
		return nil, err
	}
	if available < qty {
		return nil, fmt.Errorf("%s: доступно %d: %w", product.Code, available, common.ErrOutOfStock)
	}

	// 6. Транзакция
	receipt, err := c.commit(ctx, chatUserID, growid, product.Code, qty)
	if err != nil {
		return nil, err
	}

	// 7. Кэш
	c.cache.InvalidateStock(receipt.Product.Code)
	c.cache.Delete(cache.ProductsAllKey)
	c.ledger.Invalidate(growid)

	log.WithFields(log.Fields{
		"growid": growid,
		"code":   receipt.Product.Code,
		"qty":    qty,
		"total":  receipt.Total,
		"items":  receipt.ItemIDs(),
		"tx_id":  receipt.TransactionID,
	}).Info("Покупка проведена")

	c.notify(ctx, receipt)

	// 8. Чек
	return receipt, nil
}

func (c *Coordinator) commit(ctx context.Context, chatUserID int64, growid, code string, qty int) (*Receipt, error) {
	unlock := c.ledger.Lock(growid)
	defer unlock()

	var receipt *Receipt
	err := c.db.Write(ctx, func(tx *sql.Tx) error {
		receipt = nil

		// Цена читается заново: админ мог её поменять после предпроверки
		product, err := c.stock.GetProductTx(ctx, tx, code)
		if err != nil {
			return err
		}
		banned, err := c.members.IsBlacklistedTx(ctx, tx, growid)
		if err != nil {
			return err
		}
		if banned {
			return fmt.Errorf("%s: %w", growid, common.ErrBlacklisted)
		}
		total := product.Price * int64(qty)

		// a. Сток
		items, err := c.stock.ClaimTx(ctx, tx, code, qty, growid)
		if err != nil {
			return err
		}

		// b. Баланс
		details := purchaseDetails(qty, code, items)
		t, err := c.ledger.DebitTx(ctx, tx, growid, total, ledger.TxPurchase, details)
		if err != nil {
			return err
		}

		receipt = &Receipt{
			ChatUserID:    chatUserID,
			GrowID:        growid,
			Product:       *product,
			Qty:           qty,
			Items:         items,
			UnitPrice:     product.Price,
			Total:         total,
			OldBalance:    t.OldBalance,
			NewBalance:    t.NewBalance,
			TransactionID: t.ID,
			At:            t.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// purchaseDetails - текст записи журнала. ID единиц позволяют проверить,
// что ни одна единица не продана дважды.
func purchaseDetails(qty int, code string, items []*stock.Item) string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = strconv.FormatInt(it.ID, 10)
	}
	return fmt.Sprintf("bought %dx%s items=%s", qty, code, strings.Join(ids, ","))
}

// notify рассылает чек наблюдателям в фоне.
func (c *Coordinator) notify(ctx context.Context, r *Receipt) {
	c.mu.RLock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.RUnlock()

	base := context.WithoutCancel(ctx)
	for _, o := range observers {
		c.wg.Add(1)
		go func(o Observer) {
			defer c.wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					log.WithField("panic", rec).Error("Паника в наблюдателе покупок")
				}
			}()
			octx, cancel := context.WithTimeout(base, observerTimeout)
			defer cancel()
			if err := o.OnPurchase(octx, r); err != nil {
				log.WithError(err).WithField("growid", r.GrowID).Warn("Наблюдатель покупок вернул ошибку")
			}
		}(o)
	}
}

// Wait дожидается фоновых уведомлений. Используется при остановке.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

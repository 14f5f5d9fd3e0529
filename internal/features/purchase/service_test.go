package purchase

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/db/sqlite"
	"serotonyl.ru/growstore-bot/internal/features/ledger"
	"serotonyl.ru/growstore-bot/internal/features/members"
	"serotonyl.ru/growstore-bot/internal/features/stock"
)

type fakeMaintenance struct{ on atomic.Bool }

func (f *fakeMaintenance) IsMaintenanceMode(context.Context) (bool, error) {
	return f.on.Load(), nil
}

type PurchaseSuite struct {
	suite.Suite
	ctx     context.Context
	db      *sqlite.DB
	members *members.Service
	ledger  *ledger.Service
	stock   *stock.Service
	maint   *fakeMaintenance
	coord   *Coordinator
}

func TestPurchaseSuite(t *testing.T) {
	suite.Run(t, new(PurchaseSuite))
}

func (s *PurchaseSuite) SetupTest() {
	s.ctx = context.Background()
	db, err := sqlite.Open(s.ctx, filepath.Join(s.T().TempDir(), "store.db"))
	s.Require().NoError(err)
	s.db = db

	c := cache.New()
	s.members = members.NewService(db, members.NewRepository(), c)
	s.ledger = ledger.NewService(db, ledger.NewRepository(), c)
	s.stock = stock.NewService(db, stock.NewRepository(), c)
	s.maint = &fakeMaintenance{}
	s.coord = NewCoordinator(db, s.members, s.ledger, s.stock, s.maint, c)
}

func (s *PurchaseSuite) TearDownTest() {
	s.coord.Wait()
	s.db.Close()
}

func (s *PurchaseSuite) user(chatID int64, growid string, b ledger.Balance) {
	_, err := s.members.Register(s.ctx, chatID, growid)
	s.Require().NoError(err)
	if !b.IsZero() {
		_, err = s.ledger.UpdateBalance(s.ctx, growid, b, ledger.TxDeposit, "seed")
		s.Require().NoError(err)
	}
}

func (s *PurchaseSuite) product(code string, price int64, contents ...string) {
	_, err := s.stock.AddProduct(s.ctx, code, "Product "+code, price, "")
	s.Require().NoError(err)
	if len(contents) > 0 {
		_, err = s.stock.AddStock(s.ctx, code, contents, "admin")
		s.Require().NoError(err)
	}
}

func (s *PurchaseSuite) soldTo(growid string) int {
	var n int
	err := s.db.Read(s.ctx, func(q sqlite.Querier) error {
		return q.QueryRowContext(s.ctx,
			`SELECT COUNT(*) FROM stock WHERE status = 'SOLD' AND buyer_id = ?`, growid).Scan(&n)
	})
	s.Require().NoError(err)
	return n
}

// S4: покупка двух единиц с баланса 2 DL.
func (s *PurchaseSuite) TestPurchaseOK() {
	s.product("ITEM", 20, "row-1", "row-2", "row-3")
	s.user(42, "TestUser", ledger.Balance{DL: 2})

	r, err := s.coord.Purchase(s.ctx, 42, "item", 2)
	s.Require().NoError(err)

	s.Equal([]string{"row-1", "row-2"}, r.Contents())
	s.Equal([]int64{1, 2}, r.ItemIDs())
	s.Equal(int64(20), r.UnitPrice)
	s.Equal(int64(40), r.Total)
	s.Equal(ledger.Balance{DL: 2}, r.OldBalance)
	s.Equal(int64(160), r.NewBalance.Total())
	s.False(r.NewBalance.IsNegative())

	b, err := s.ledger.GetBalance(s.ctx, "TestUser")
	s.Require().NoError(err)
	s.Equal(r.NewBalance, b)

	history, err := s.ledger.History(s.ctx, "TestUser", 10)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(ledger.TxPurchase, history[0].Type)
	s.Equal(ledger.Balance{DL: 2}, history[0].OldBalance)
	s.Equal(int64(160), history[0].NewBalance.Total())
	s.Contains(history[0].Details, "items=1,2")

	s.Equal(2, s.soldTo("TestUser"))
	n, err := s.stock.CountAvailable(s.ctx, "ITEM")
	s.Require().NoError(err)
	s.Equal(1, n)
}

// S5: баланса не хватает, ничего не меняется.
func (s *PurchaseSuite) TestInsufficientBalance() {
	s.product("ITEM", 20, "row-1")
	s.user(1, "PoorUser", ledger.Balance{WL: 5})

	_, err := s.coord.Purchase(s.ctx, 1, "ITEM", 1)
	s.ErrorIs(err, common.ErrInsufficientBalance)

	s.Equal(0, s.soldTo("PoorUser"))
	b, err := s.ledger.GetBalance(s.ctx, "PoorUser")
	s.Require().NoError(err)
	s.Equal(ledger.Balance{WL: 5}, b)
}

// Отказ внутри транзакции откатывает и сток, и баланс.
func (s *PurchaseSuite) TestDebitFailureRollsBackClaim() {
	s.product("ITEM", 20, "row-1")
	s.user(1, "RaceUser", ledger.Balance{WL: 5})

	_, err := s.coord.commit(s.ctx, 1, "RaceUser", "ITEM", 1)
	s.ErrorIs(err, common.ErrInsufficientBalance)

	n, err := s.stock.CountAvailable(s.ctx, "ITEM")
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(0, s.soldTo("RaceUser"))

	history, err := s.ledger.History(s.ctx, "RaceUser", 10)
	s.Require().NoError(err)
	s.Len(history, 1)
}

// S6: две покупки последней единицы одновременно.
func (s *PurchaseSuite) TestConcurrentRace() {
	s.product("ITEM", 10, "last-one")
	s.user(1, "UserOne", ledger.Balance{WL: 100})
	s.user(2, "UserTwo", ledger.Balance{WL: 100})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.coord.Purchase(s.ctx, int64(i+1), "ITEM", 1)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		s.ErrorIs(err, common.ErrOutOfStock)
	}
	s.Equal(1, ok)
	s.Equal(1, s.soldTo("UserOne")+s.soldTo("UserTwo"))

	// Проигравший ничего не потерял
	b1, _ := s.ledger.GetBalance(s.ctx, "UserOne")
	b2, _ := s.ledger.GetBalance(s.ctx, "UserTwo")
	s.Equal(int64(190), b1.Total()+b2.Total())
}

// S7: в режиме обслуживания покупки отклоняются.
func (s *PurchaseSuite) TestMaintenanceGate() {
	s.product("ITEM", 1, "row-1")
	s.user(1, "Buyer", ledger.Balance{WL: 10})
	s.maint.on.Store(true)

	_, err := s.coord.Purchase(s.ctx, 1, "ITEM", 1)
	s.ErrorIs(err, common.ErrMaintenance)
	s.Equal(0, s.soldTo("Buyer"))

	s.maint.on.Store(false)
	_, err = s.coord.Purchase(s.ctx, 1, "ITEM", 1)
	s.NoError(err)
}

func (s *PurchaseSuite) TestRejections() {
	s.product("ITEM", 1, "row-1")
	s.user(1, "Buyer", ledger.Balance{WL: 10})

	_, err := s.coord.Purchase(s.ctx, 99, "ITEM", 1)
	s.ErrorIs(err, common.ErrNotRegistered)

	_, err = s.coord.Purchase(s.ctx, 1, "ITEM", 0)
	s.ErrorIs(err, common.ErrInvalidQty)
	_, err = s.coord.Purchase(s.ctx, 1, "ITEM", 1000)
	s.ErrorIs(err, common.ErrInvalidQty)

	_, err = s.coord.Purchase(s.ctx, 1, "NOPE", 1)
	s.ErrorIs(err, common.ErrNotFound)

	_, err = s.coord.Purchase(s.ctx, 1, "ITEM", 2)
	s.ErrorIs(err, common.ErrOutOfStock)

	s.Require().NoError(s.members.AddBlacklist(s.ctx, "Buyer", "admin"))
	_, err = s.coord.Purchase(s.ctx, 1, "ITEM", 1)
	s.ErrorIs(err, common.ErrBlacklisted)
}

// Инвариант FIFO: последовательные покупки разных пользователей идут по возрастанию id.
func (s *PurchaseSuite) TestFIFOAcrossUsers() {
	s.product("ITEM", 1, "a", "b", "c")
	s.user(1, "First", ledger.Balance{WL: 10})
	s.user(2, "Second", ledger.Balance{WL: 10})

	r1, err := s.coord.Purchase(s.ctx, 1, "ITEM", 1)
	s.Require().NoError(err)
	r2, err := s.coord.Purchase(s.ctx, 2, "ITEM", 1)
	s.Require().NoError(err)
	s.Less(r1.Items[0].ID, r2.Items[0].ID)
}

func (s *PurchaseSuite) TestObserversReceiveReceipt() {
	s.product("ITEM", 1, "a")
	s.user(1, "Watcher", ledger.Balance{WL: 10})

	got := make(chan *Receipt, 2)
	s.coord.Subscribe(ObserverFunc(func(_ context.Context, r *Receipt) error {
		got <- r
		return nil
	}))
	s.coord.Subscribe(ObserverFunc(func(context.Context, *Receipt) error {
		panic("boom")
	}))

	r, err := s.coord.Purchase(s.ctx, 1, "ITEM", 1)
	s.Require().NoError(err)

	select {
	case seen := <-got:
		s.Equal(r.TransactionID, seen.TransactionID)
	case <-time.After(2 * time.Second):
		s.Fail("наблюдатель не вызван")
	}
}

func TestPurchaseDetails(t *testing.T) {
	items := []*stock.Item{{ID: 4}, {ID: 9}}
	assert.Equal(t, "bought 2xITEM items=4,9", purchaseDetails(2, "ITEM", items))
	require.Empty(t, (&Receipt{}).Contents())
}

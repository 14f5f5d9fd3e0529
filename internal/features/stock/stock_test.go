package stock

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/db/sqlite"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(db, NewRepository(), cache.New())
}

func seedProduct(t *testing.T, s *Service, code string, price int64, contents ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.AddProduct(ctx, code, "Test "+code, price, "")
	require.NoError(t, err)
	if len(contents) > 0 {
		res, err := s.AddStock(ctx, code, contents, "admin")
		require.NoError(t, err)
		require.Equal(t, len(contents), res.Added)
	}
}

func TestProductLifecycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	p, err := s.AddProduct(ctx, "item", "Magic Item", 20, "shiny")
	require.NoError(t, err)
	assert.Equal(t, "ITEM", p.Code)
	assert.Equal(t, int64(20), p.Price)

	_, err = s.AddProduct(ctx, "ITEM", "Other", 1, "")
	assert.ErrorIs(t, err, common.ErrExists)

	_, err = s.AddProduct(ctx, "x", "Too short", 1, "")
	assert.ErrorIs(t, err, common.ErrInvalidProductCode)

	price := int64(35)
	p, err = s.EditProduct(ctx, "item", ProductUpdate{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, int64(35), p.Price)
	assert.Equal(t, "Magic Item", p.Name)

	list, err := s.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(35), list[0].Price)

	require.NoError(t, s.DeleteProduct(ctx, "ITEM"))
	_, err = s.GetProduct(ctx, "ITEM")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, s.DeleteProduct(ctx, "ITEM"), common.ErrNotFound)
}

func TestPriceLimit(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.AddProduct(ctx, "HUGE", "Huge", MaxPrice+1, "")
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
	_, err = s.AddProduct(ctx, "NEG", "Negative", -1, "")
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	p, err := s.AddProduct(ctx, "TOP", "Top", MaxPrice, "")
	require.NoError(t, err)
	assert.Equal(t, MaxPrice, p.Price)

	over := MaxPrice + 1
	_, err = s.EditProduct(ctx, "TOP", ProductUpdate{Price: &over})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestAddStockSkipsDuplicates(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedProduct(t, s, "ITEM", 20, "a", "b")

	res, err := s.AddStock(ctx, "ITEM", []string{"b", "c", "c", "  ", "d"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 2, res.Skipped)

	n, err := s.CountAvailable(ctx, "item")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = s.AddStock(ctx, "NOPE", []string{"x"}, "admin")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestClaimIsFIFO(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedProduct(t, s, "ITEM", 20, "first", "second", "third")

	got, err := s.Claim(ctx, "ITEM", 1, "UserA")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Content)

	got, err = s.Claim(ctx, "ITEM", 1, "UserB")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Content)
	assert.Less(t, int64(0), got[0].ID)

	history, err := s.History(ctx, "ITEM", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, StatusAvailable, history[0].Status)
	assert.Equal(t, "UserB", history[1].BuyerID)
	assert.Equal(t, "UserA", history[2].BuyerID)
	assert.Len(t, history[2].ShortHash(), 12)
}

func TestClaimShortageChangesNothing(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedProduct(t, s, "ITEM", 20, "only")

	_, err := s.Claim(ctx, "ITEM", 2, "UserA")
	assert.ErrorIs(t, err, common.ErrOutOfStock)

	n, err := s.CountAvailable(ctx, "ITEM")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Claim(ctx, "ITEM", 0, "UserA")
	assert.ErrorIs(t, err, common.ErrInvalidQty)
}

func TestConcurrentClaimsSellEachItemOnce(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	contents := make([]string, 10)
	for i := range contents {
		contents[i] = fmt.Sprintf("code-%02d", i)
	}
	seedProduct(t, s, "ITEM", 1, contents...)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sold = map[int64]string{}
		outs int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buyer := fmt.Sprintf("U%d", i)
			items, err := s.Claim(ctx, "ITEM", 1, buyer)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, common.ErrOutOfStock)
				outs++
				return
			}
			for _, it := range items {
				_, dup := sold[it.ID]
				assert.False(t, dup, "единица %d продана дважды", it.ID)
				sold[it.ID] = buyer
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, sold, 10)
	assert.Equal(t, 5, outs)
}

func TestReduceStock(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedProduct(t, s, "ITEM", 20, "a", "b", "c")

	removed, err := s.ReduceStock(ctx, "ITEM", 2, "admin")
	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.Equal(t, StatusDeleted, removed[0].Status)

	n, err := s.CountAvailable(ctx, "ITEM")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.ReduceStock(ctx, "ITEM", 5, "admin")
	assert.ErrorIs(t, err, common.ErrOutOfStock)
}

func TestDeletedAndSoldRowsCannotComeBack(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedProduct(t, s, "ITEM", 20, "a")

	items, err := s.Claim(ctx, "ITEM", 1, "UserA")
	require.NoError(t, err)

	err = s.db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE stock SET status = 'AVAILABLE' WHERE id = ?`, items[0].ID)
		return err
	})
	assert.Error(t, err)
}

func TestSummaries(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedProduct(t, s, "AAA", 10, "x1", "x2")
	seedProduct(t, s, "BBB", 20)

	sums, err := s.Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, "AAA", sums[0].Product.Code)
	assert.Equal(t, 2, sums[0].Available)
	assert.Equal(t, 0, sums[1].Available)

	av, err := s.Availability(ctx, "aaa")
	require.NoError(t, err)
	assert.Equal(t, 2, av.Available)
	assert.Equal(t, int64(10), av.Product.Price)
}

func TestParseStockFile(t *testing.T) {
	lines, err := ParseStockFile(strings.NewReader("\xef\xbb\xbfone\r\n\n  two  \nthree"))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines)

	_, err = ParseStockFile(bytes.NewReader([]byte{0xff, 0xfe, 0x00}))
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	big := bytes.Repeat([]byte("a"), MaxStockFileSize+1)
	_, err = ParseStockFile(bytes.NewReader(big))
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestContentHash(t *testing.T) {
	h := ContentHash("secret")
	assert.Len(t, h, 64)
	assert.Equal(t, h, ContentHash("secret"))
	assert.NotEqual(t, h, ContentHash("secret2"))
}

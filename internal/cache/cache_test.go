package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache() (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New()
	c.now = clock.Now
	return c, clock
}

func TestGetSetExpire(t *testing.T) {
	c, clock := newTestCache()

	c.Set("a", 1, time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "чтение должно видеть истечение до очистки")
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, 1, c.CleanupExpired())
	assert.Equal(t, 0, c.Len())
}

func TestDeleteByPrefix(t *testing.T) {
	c, _ := newTestCache()
	c.Set(StockCountKey("ITEM"), 3, time.Minute)
	c.Set(StockAvailableKey("ITEM"), true, time.Minute)
	c.Set(StockCountKey("OTHER"), 1, time.Minute)

	assert.Equal(t, 2, c.DeleteByPrefix("stock:ITEM:"))
	_, ok := c.Get(StockCountKey("OTHER"))
	assert.True(t, ok)
}

func TestInvalidationHooks(t *testing.T) {
	c, _ := newTestCache()
	c.Set(ProductKey("ITEM"), "p", time.Minute)
	c.Set(ProductsAllKey, "all", time.Minute)
	c.Set(BalanceKey("Bob"), "b", time.Minute)
	c.Set(IdentityKey(42), "Bob", time.Minute)

	c.InvalidateProduct("ITEM")
	c.InvalidateBalance("Bob")
	c.InvalidateIdentity(42)

	assert.Equal(t, 0, c.Len())
}

func TestGetOrLoadCollapsesMisses(t *testing.T) {
	c, _ := newTestCache()
	var calls atomic.Int32
	release := make(chan struct{})

	loader := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := GetOrLoad(context.Background(), c, "k", time.Minute, loader)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 7, v)
	}

	// Следующее чтение из кэша, без loader.
	v, err := GetOrLoad(context.Background(), c, "k", time.Minute, func(context.Context) (int, error) {
		return 0, errors.New("не должен вызываться")
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestGetOrLoadErrorNotCached(t *testing.T) {
	c, _ := newTestCache()
	_, err := GetOrLoad(context.Background(), c, "k", time.Minute, func(context.Context) (string, error) {
		return "", errors.New("db down")
	})
	require.Error(t, err)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestGetOrLoadDropsValueDeletedDuringLoad(t *testing.T) {
	c, _ := newTestCache()
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan int)
	go func() {
		v, err := GetOrLoad(context.Background(), c, BalanceKey("Bob"), time.Minute, func(context.Context) (int, error) {
			close(started)
			<-release
			return 100, nil
		})
		assert.NoError(t, err)
		done <- v
	}()
	<-started

	// Запись в БД и инвалидация, пока старое значение ещё грузится
	c.InvalidateBalance("Bob")

	// Новый промах не присоединяется к устаревшей загрузке
	v, err := GetOrLoad(context.Background(), c, BalanceKey("Bob"), time.Minute, func(context.Context) (int, error) {
		return 40, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 40, v)

	close(release)
	assert.Equal(t, 100, <-done)

	cached, ok := c.Get(BalanceKey("Bob"))
	require.True(t, ok)
	assert.Equal(t, 40, cached, "устаревшая загрузка перезаписала кэш")
}

func TestGetOrLoadDropsValueAfterPrefixDelete(t *testing.T) {
	c, _ := newTestCache()
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, err := GetOrLoad(context.Background(), c, StockCountKey("ITEM"), time.Minute, func(context.Context) (int, error) {
			close(started)
			<-release
			return 3, nil
		})
		assert.NoError(t, err)
	}()
	<-started

	c.DeleteByPrefix("stock:ITEM:")
	close(release)
	<-done

	_, ok := c.Get(StockCountKey("ITEM"))
	assert.False(t, ok)
	assert.Empty(t, c.loads)
}

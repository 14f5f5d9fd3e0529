// Package cache - процессный кэш ключ→значение с TTL.
// Кэш не переживает рестарт, корректность от него не зависит:
// все данные читаются сквозь кэш из БД и явно инвалидируются при записи.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Cache хранит значения в памяти до истечения TTL.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	loads   map[string]*load // идущие загрузки GetOrLoad
	group   singleflight.Group
	now     func() time.Time
}

type entry struct {
	value     any
	expiresAt time.Time
}

// load помечается stale, если ключ удалили во время загрузки.
// Результат такой загрузки в кэш не кладётся.
type load struct {
	stale bool
}

// New создаёт пустой кэш.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		loads:   make(map[string]*load),
		now:     time.Now,
	}
}

// Get возвращает значение и true, если ключ есть и не истёк.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set сохраняет значение на ttl. Неположительный ttl - ничего не делает.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

// Delete удаляет ключи.
func (c *Cache) Delete(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
		c.invalidateLoad(k)
	}
}

// DeleteByPrefix удаляет все ключи с префиксом и возвращает их число.
func (c *Cache) DeleteByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	for k := range c.loads {
		if strings.HasPrefix(k, prefix) {
			c.invalidateLoad(k)
		}
	}
	return n
}

// invalidateLoad вызывается под c.mu. Новые промахи по ключу начнут свежую загрузку.
func (c *Cache) invalidateLoad(key string) {
	if l, ok := c.loads[key]; ok {
		l.stale = true
		delete(c.loads, key)
		c.group.Forget(key)
	}
}

func (c *Cache) startLoad(key string) *load {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := &load{}
	c.loads[key] = l
	return l
}

// finishLoad кладёт результат в кэш, если ключ не удаляли с начала загрузки.
func (c *Cache) finishLoad(key string, l *load, value any, ttl time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loads[key] == l {
		delete(c.loads, key)
	}
	if !ok || l.stale || ttl <= 0 {
		return
	}
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

// CleanupExpired удаляет истёкшие записи и возвращает их число.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	if n > 0 {
		log.WithFields(log.Fields{"component": "cache", "removed": n}).Debug("Очистка кэша")
	}
	return n
}

// Len - число записей, включая ещё не вычищенные истёкшие.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetOrLoad читает значение сквозь кэш. Одновременные промахи по одному ключу
// вызывают loader один раз. Если ключ удалили, пока loader работал,
// результат возвращается вызывающим, но не кэшируется.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, loader func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		l := c.startLoad(key)
		val, err := loader(ctx)
		c.finishLoad(key, l, val, ttl, err == nil)
		if err != nil {
			return nil, err
		}
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Run периодически вычищает истёкшие записи, пока не отменён ctx.
// Используется, если кэш не обслуживается планировщиком.
func (c *Cache) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CleanupExpired()
		}
	}
}

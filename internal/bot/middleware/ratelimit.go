package middleware

import (
	"strconv"
	"sync"
	"time"
)

// Cooldowns ограничивает частоту действий пользователя.
// Использует алгоритм скользящего окна: не больше limit действий за окно,
// окно своё для каждого действия.
type Cooldowns struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   func(action string) time.Duration
	now      func() time.Time
}

// NewCooldowns создаёт ограничитель. window возвращает окно действия,
// 0 отключает ограничение.
func NewCooldowns(limit int, window func(action string) time.Duration) *Cooldowns {
	if limit <= 0 {
		limit = 1
	}
	return &Cooldowns{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

func cooldownKey(action string, userID int64) string {
	return action + ":" + strconv.FormatInt(userID, 10)
}

// Allow фиксирует действие. Если лимит исчерпан, возвращает false
// и сколько осталось ждать.
func (c *Cooldowns) Allow(action string, userID int64) (bool, time.Duration) {
	window := c.window(action)
	if window <= 0 {
		return true, 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.Add(-window)
	key := cooldownKey(action, userID)

	var recent []time.Time
	for _, t := range c.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= c.limit {
		c.requests[key] = recent
		return false, recent[0].Add(window).Sub(now)
	}

	recent = append(recent, now)
	c.requests[key] = recent
	return true, 0
}

// Sweep выбрасывает устаревшие отметки. Окно берётся максимальное из maxWindow.
func (c *Cooldowns) Sweep(maxWindow time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-maxWindow)
	removed := 0
	for key, times := range c.requests {
		var recent []time.Time
		for _, t := range times {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
		if len(recent) == 0 {
			delete(c.requests, key)
			removed++
		} else {
			c.requests[key] = recent
		}
	}
	return removed
}

package middleware

import (
	"sync"
	"time"

	"serotonyl.ru/growstore-bot/internal/common"
)

// LockTTL - через сколько захваченная блокировка считается брошенной.
const LockTTL = 5 * time.Minute

// Locks - неповторяемые блокировки взаимодействий.
// Один пользователь обрабатывается по одному действию за раз,
// повторная доставка того же взаимодействия отклоняется.
type Locks struct {
	mu    sync.Mutex
	users map[int64]time.Time  // пользователь -> когда захвачен
	seen  map[string]time.Time // id взаимодействия -> когда получен
	ttl   time.Duration
	now   func() time.Time
}

func NewLocks() *Locks {
	return &Locks{
		users: make(map[int64]time.Time),
		seen:  make(map[string]time.Time),
		ttl:   LockTTL,
		now:   time.Now,
	}
}

// Acquire захватывает блокировку пользователя для взаимодействия interactionID.
// Возвращает common.ErrBusy для дубликата или если предыдущее действие ещё идёт.
func (l *Locks) Acquire(userID int64, interactionID string) (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if interactionID != "" {
		if at, ok := l.seen[interactionID]; ok && now.Sub(at) < l.ttl {
			return nil, common.ErrBusy
		}
	}
	if at, ok := l.users[userID]; ok && now.Sub(at) < l.ttl {
		return nil, common.ErrBusy
	}

	l.users[userID] = now
	if interactionID != "" {
		l.seen[interactionID] = now
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.users[userID].Equal(now) {
				delete(l.users, userID)
			}
		})
	}, nil
}

// Sweep удаляет просроченные записи. Вызывается планировщиком.
func (l *Locks) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.ttl)
	removed := 0
	for id, at := range l.users {
		if at.Before(cutoff) {
			delete(l.users, id)
			removed++
		}
	}
	for id, at := range l.seen {
		if at.Before(cutoff) {
			delete(l.seen, id)
			removed++
		}
	}
	return removed
}

// Len - число активных записей, для тестов и логов.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users) + len(l.seen)
}

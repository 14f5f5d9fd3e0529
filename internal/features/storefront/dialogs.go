package storefront

import (
	"sync"
	"time"
)

// dialogTTL - сколько бот ждёт ответа пользователя в личке.
const dialogTTL = 5 * time.Minute

// Состояния диалога
const (
	stateAwaitingGrowID = "awaiting_growid" // Ждём GrowID для регистрации
	stateAwaitingQty    = "awaiting_qty"    // Ждём количество, Code - выбранный товар
)

// dialog - состояние диалога с покупателем (конечный автомат).
type dialog struct {
	State     string
	Code      string
	ExpiresAt time.Time
}

// dialogs хранит диалоги в памяти. После перезапуска они теряются,
// пользователь просто нажимает кнопку ещё раз.
type dialogs struct {
	mu     sync.RWMutex
	states map[int64]*dialog
	now    func() time.Time
}

func newDialogs() *dialogs {
	return &dialogs{states: make(map[int64]*dialog), now: time.Now}
}

func (d *dialogs) get(userID int64) *dialog {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st, ok := d.states[userID]
	if !ok || d.now().After(st.ExpiresAt) {
		return nil
	}
	cp := *st
	return &cp
}

func (d *dialogs) set(userID int64, state, code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[userID] = &dialog{State: state, Code: code, ExpiresAt: d.now().Add(dialogTTL)}
}

func (d *dialogs) clear(userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, userID)
}

func (d *dialogs) sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	n := 0
	for id, st := range d.states {
		if now.After(st.ExpiresAt) {
			delete(d.states, id)
			n++
		}
	}
	return n
}

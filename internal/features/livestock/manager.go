// Package livestock держит в канале витрины одно сообщение со сводкой
// стока и кнопками магазина и периодически его перерисовывает.
package livestock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/chat"
	"serotonyl.ru/growstore-bot/internal/features/stock"
)

// SettingMessageID - ключ bot_settings с id сообщения витрины.
const SettingMessageID = "live_stock_message_id"

const (
	historyScanLimit = 50
	viewAttempts     = 3
	viewDelay        = time.Second
	callTimeout      = 30 * time.Second
)

// ErrNoView - фабрика кнопок ничего не вернула.
var ErrNoView = errors.New("view factory returned no controls")

// ViewFactory строит кнопки витрины и получает уведомления о её здоровье.
type ViewFactory interface {
	CreateView(ctx context.Context) (*chat.View, error)
	OnStatusChange(healthy bool, err error)
}

// Catalog - сводка товаров с остатками.
type Catalog interface {
	Summaries(ctx context.Context) ([]stock.Summary, error)
}

// Maintenance - флаг обслуживания.
type Maintenance interface {
	IsMaintenanceMode(ctx context.Context) (bool, error)
}

// Settings хранит id сообщения между перезапусками.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Status - состояние витрины для /readyz.
type Status struct {
	Healthy    bool   `json:"healthy"`
	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`
	MessageID  int    `json:"message_id"`
}

// Manager перерисовывает сообщение витрины.
type Manager struct {
	messenger   chat.Messenger
	chatID      int64
	catalog     Catalog
	maintenance Maintenance
	settings    Settings
	views       ViewFactory

	messageID atomic.Int64
	running   atomic.Bool
	pending   atomic.Bool

	mu         sync.Mutex
	healthy    bool
	lastErr    error
	errorCount int

	viewDelay time.Duration
	baseCtx   context.Context
}

// NewManager создаёт менеджер. views может быть nil - тогда витрина без кнопок.
func NewManager(m chat.Messenger, chatID int64, catalog Catalog, maint Maintenance, settings Settings, views ViewFactory) *Manager {
	return &Manager{
		messenger:   m,
		chatID:      chatID,
		catalog:     catalog,
		maintenance: maint,
		settings:    settings,
		views:       views,
		healthy:     true,
		viewDelay:   viewDelay,
		baseCtx:     context.Background(),
	}
}

func (m *Manager) logger() *log.Entry {
	return log.WithFields(log.Fields{"component": "livestock", "chat_id": m.chatID})
}

// Init запоминает контекст процесса для фоновых перерисовок.
func (m *Manager) Init(ctx context.Context) error {
	m.baseCtx = ctx
	return nil
}

// MessageID - текущее сообщение витрины (0, если его ещё нет).
func (m *Manager) MessageID() int {
	return int(m.messageID.Load())
}

// Restore находит сообщение витрины после перезапуска: сначала по
// сохранённому id, затем по истории канала, если мессенджер её отдаёт.
func (m *Manager) Restore(ctx context.Context) error {
	v, found, err := m.settings.GetSetting(ctx, SettingMessageID)
	if err != nil {
		return err
	}
	if found {
		if id, err := strconv.Atoi(v); err == nil && id > 0 {
			m.messageID.Store(int64(id))
			m.logger().WithField("message_id", id).Info("Сообщение витрины восстановлено из настроек")
			return nil
		}
	}

	reader, ok := m.messenger.(chat.HistoryReader)
	if !ok {
		return nil
	}
	msgs, err := reader.RecentMessages(ctx, m.chatID, historyScanLimit)
	if err != nil {
		m.logger().WithError(err).Warn("Не удалось прочитать историю канала витрины")
		return nil
	}
	self := reader.SelfID()
	for _, hm := range msgs {
		if hm.AuthorID == self && (hm.Title == StockTitle || hm.Title == MaintenanceTitle) {
			m.adopt(ctx, hm.ID)
			m.logger().WithField("message_id", hm.ID).Info("Сообщение витрины найдено в истории канала")
			return nil
		}
	}
	return nil
}

func (m *Manager) adopt(ctx context.Context, id int) {
	m.messageID.Store(int64(id))
	if err := m.settings.SetSetting(ctx, SettingMessageID, strconv.Itoa(id)); err != nil {
		m.logger().WithError(err).Warn("Не удалось сохранить id сообщения витрины")
	}
}

// Tick - плановая перерисовка. Если предыдущая ещё идёт, тик пропускается.
func (m *Manager) Tick(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		m.logger().Debug("Тик пропущен: перерисовка уже идёт")
		return
	}
	m.loop(ctx)
}

// RequestRefresh просит перерисовать витрину в фоне.
// Запросы во время перерисовки схлопываются в одну повторную.
func (m *Manager) RequestRefresh() {
	if !m.running.CompareAndSwap(false, true) {
		m.pending.Store(true)
		// цикл мог отпустить running до записи pending: тогда запускаем сами
		if !m.running.CompareAndSwap(false, true) {
			return
		}
	}
	go m.loop(m.baseCtx)
}

// loop вызывается с уже захваченным running.
func (m *Manager) loop(ctx context.Context) {
	for {
		m.pending.Store(false)
		if err := m.Refresh(ctx); err != nil {
			m.logger().WithError(err).Warn("Перерисовка витрины не удалась")
		}
		m.running.Store(false)
		if !m.pending.Load() || ctx.Err() != nil || !m.running.CompareAndSwap(false, true) {
			return
		}
	}
}

// Refresh перерисовывает витрину один раз. Без повторов: следующий тик попробует снова.
func (m *Manager) Refresh(ctx context.Context) error {
	on, err := m.maintenance.IsMaintenanceMode(ctx)
	if err != nil {
		return m.fail(fmt.Errorf("ошибка чтения режима обслуживания: %w", err))
	}
	if on {
		// Без кнопок
		if err := m.publish(ctx, chat.Message{Embed: MaintenanceEmbed()}); err != nil {
			return m.fail(err)
		}
		m.succeed()
		return nil
	}

	sums, err := m.catalog.Summaries(ctx)
	if err != nil {
		return m.fail(fmt.Errorf("ошибка чтения стока: %w", err))
	}
	msg := chat.Message{Embed: StockEmbed(sums)}

	if m.views != nil {
		view, err := m.createView(ctx)
		if err != nil {
			// Витрину без кнопок не публикуем, старое сообщение остаётся
			return m.fail(err)
		}
		msg.View = view
	}

	if err := m.publish(ctx, msg); err != nil {
		return m.fail(err)
	}
	m.succeed()
	return nil
}

func (m *Manager) createView(ctx context.Context) (*chat.View, error) {
	var lastErr error
	for attempt := 1; attempt <= viewAttempts; attempt++ {
		view, err := m.views.CreateView(ctx)
		if err == nil && view != nil {
			return view, nil
		}
		if err == nil {
			err = ErrNoView
		}
		lastErr = err
		m.logger().WithError(err).WithField("attempt", attempt).Debug("Кнопки витрины не созданы")

		if attempt < viewAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.viewDelay):
			}
		}
	}
	return nil, fmt.Errorf("кнопки витрины после %d попыток: %w", viewAttempts, lastErr)
}

// publish редактирует текущее сообщение или отправляет новое.
func (m *Manager) publish(ctx context.Context, msg chat.Message) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if id := m.MessageID(); id != 0 {
		err := m.messenger.Edit(ctx, m.chatID, id, msg)
		if err == nil {
			return nil
		}
		if !errors.Is(err, chat.ErrMessageNotFound) {
			return fmt.Errorf("ошибка редактирования витрины: %w", err)
		}
		m.logger().WithField("message_id", id).Warn("Сообщение витрины пропало, отправляем новое")
	}

	id, err := m.messenger.Send(ctx, m.chatID, msg)
	if err != nil {
		return fmt.Errorf("ошибка отправки витрины: %w", err)
	}
	m.adopt(ctx, id)
	return nil
}

func (m *Manager) fail(err error) error {
	m.mu.Lock()
	m.healthy = false
	m.lastErr = err
	m.errorCount++
	m.mu.Unlock()

	if m.views != nil {
		m.views.OnStatusChange(false, err)
	}
	return err
}

func (m *Manager) succeed() {
	m.mu.Lock()
	changed := !m.healthy
	m.healthy = true
	m.mu.Unlock()

	if changed {
		m.logger().Info("Витрина снова в порядке")
		if m.views != nil {
			m.views.OnStatusChange(true, nil)
		}
	}
}

// Status - снимок состояния.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{
		Healthy:    m.healthy,
		ErrorCount: m.errorCount,
		MessageID:  m.MessageID(),
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

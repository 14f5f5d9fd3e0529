// Package chattest - мессенджер в памяти для тестов фич.
package chattest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"serotonyl.ru/growstore-bot/internal/chat"
)

var errSendFailed = errors.New("chattest: отправка не удалась")

// Sent - отправленное или отредактированное сообщение.
type Sent struct {
	ChatID    int64
	MessageID int
	Message   chat.Message
	Edited    bool
}

// Answer - ответ на нажатие кнопки.
type Answer struct {
	CallbackID string
	Text       string
	Alert      bool
}

// Messenger записывает всё, что ему отправили.
type Messenger struct {
	mu       sync.Mutex
	nextID   int
	sent     []Sent
	answers  []Answer
	messages map[int]chat.Message

	// SendErr и EditErr, если заданы, возвращаются вместо отправки
	SendErr error
	EditErr error
	// FailSends - сколько ближайших Send вернут ошибку, даже без SendErr
	FailSends int

	Members map[int64]map[int64]bool
	Files   map[string][]byte
	History []chat.HistoryMessage
	Self    int64
}

// New создаёт пустой мессенджер.
func New() *Messenger {
	return &Messenger{
		nextID:   100,
		messages: make(map[int]chat.Message),
		Members:  make(map[int64]map[int64]bool),
		Files:    make(map[string][]byte),
		Self:     1,
	}
}

func (m *Messenger) Send(_ context.Context, chatID int64, msg chat.Message) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSends > 0 {
		m.FailSends--
		if m.SendErr != nil {
			return 0, m.SendErr
		}
		return 0, errSendFailed
	}
	if m.SendErr != nil {
		return 0, m.SendErr
	}
	m.nextID++
	m.messages[m.nextID] = msg
	m.sent = append(m.sent, Sent{ChatID: chatID, MessageID: m.nextID, Message: msg})
	return m.nextID, nil
}

func (m *Messenger) Edit(_ context.Context, chatID int64, messageID int, msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EditErr != nil {
		return m.EditErr
	}
	if _, ok := m.messages[messageID]; !ok {
		return chat.ErrMessageNotFound
	}
	m.messages[messageID] = msg
	m.sent = append(m.sent, Sent{ChatID: chatID, MessageID: messageID, Message: msg, Edited: true})
	return nil
}

func (m *Messenger) AnswerCallback(_ context.Context, callbackID, text string, alert bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, Answer{CallbackID: callbackID, Text: text, Alert: alert})
	return nil
}

func (m *Messenger) IsChatMember(_ context.Context, chatID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Members[chatID][userID], nil
}

func (m *Messenger) FetchFile(_ context.Context, fileID string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Files[fileID]
	if !ok {
		return nil, chat.ErrMessageNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Messenger) SelfID() int64 { return m.Self }

func (m *Messenger) RecentMessages(_ context.Context, _ int64, limit int) ([]chat.HistoryMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit < len(m.History) {
		return append([]chat.HistoryMessage(nil), m.History[:limit]...), nil
	}
	return append([]chat.HistoryMessage(nil), m.History...), nil
}

// AddMember делает пользователя участником чата.
func (m *Messenger) AddMember(chatID, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Members[chatID] == nil {
		m.Members[chatID] = make(map[int64]bool)
	}
	m.Members[chatID][userID] = true
}

// Seed кладёт сообщение, как будто оно уже есть в чате.
func (m *Messenger) Seed(messageID int, msg chat.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[messageID] = msg
}

// Forget удаляет сообщение, следующий Edit вернёт ErrMessageNotFound.
func (m *Messenger) Forget(messageID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, messageID)
}

// Sent возвращает копию журнала отправок.
func (m *Messenger) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

// SentTo - отправки в конкретный чат.
func (m *Messenger) SentTo(chatID int64) []Sent {
	var out []Sent
	for _, s := range m.Sent() {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

// Last - последнее сообщение в чат или нулевое значение.
func (m *Messenger) Last(chatID int64) (Sent, bool) {
	sent := m.SentTo(chatID)
	if len(sent) == 0 {
		return Sent{}, false
	}
	return sent[len(sent)-1], true
}

// Answers возвращает ответы на нажатия.
func (m *Messenger) Answers() []Answer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Answer(nil), m.answers...)
}

// Message возвращает текущее содержимое сообщения.
func (m *Messenger) Message(messageID int) (chat.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	return msg, ok
}

// Package chat описывает то, что фичам нужно от мессенджера:
// сообщение-карточку с кнопками, отправку, редактирование и ответы на нажатия.
// Конкретный мессенджер (Telegram) реализует эти интерфейсы в internal/bot/telegram.
package chat

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrMessageNotFound - редактируемое сообщение удалено или недоступно.
var ErrMessageNotFound = errors.New("message not found")

// Color - цвет карточки по результату.
type Color int

const (
	ColorNone  Color = iota
	ColorGreen       // успех
	ColorRed         // ошибка
	ColorAmber       // предупреждение, обслуживание
	ColorBlue        // информация
)

// Field - строка карточки «название: значение».
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Embed - карточка сообщения.
type Embed struct {
	Title       string
	Description string
	Color       Color
	Fields      []Field
	Footer      string
	Timestamp   time.Time
}

// AddField добавляет поле и возвращает карточку для цепочки вызовов.
func (e *Embed) AddField(name, value string, inline bool) *Embed {
	e.Fields = append(e.Fields, Field{Name: name, Value: value, Inline: inline})
	return e
}

// Button - кнопка под сообщением. Data уходит обратно в Callback.Data.
type Button struct {
	Label string
	Data  string
}

// View - набор кнопок по рядам.
type View struct {
	Rows [][]Button
}

// Buttons возвращает все кнопки подряд.
func (v *View) Buttons() []Button {
	if v == nil {
		return nil
	}
	var out []Button
	for _, row := range v.Rows {
		out = append(out, row...)
	}
	return out
}

// Message - исходящее сообщение. Text и Embed могут быть заданы вместе.
// View == nil убирает кнопки.
type Message struct {
	Text  string
	Embed *Embed
	View  *View
	// Code - блок моноширинного текста (выдача контента покупателю)
	Code string
}

// Messenger - отправка и редактирование сообщений.
type Messenger interface {
	Send(ctx context.Context, chatID int64, m Message) (messageID int, err error)
	Edit(ctx context.Context, chatID int64, messageID int, m Message) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// HistoryMessage - сообщение из истории канала.
type HistoryMessage struct {
	ID       int
	AuthorID int64
	Title    string
}

// HistoryReader - чтение последних сообщений канала. Есть не у всех мессенджеров.
type HistoryReader interface {
	SelfID() int64
	RecentMessages(ctx context.Context, chatID int64, limit int) ([]HistoryMessage, error)
}

// MemberChecker проверяет участие пользователя в чате.
type MemberChecker interface {
	IsChatMember(ctx context.Context, chatID, userID int64) (bool, error)
}

// FileFetcher скачивает вложение по его идентификатору.
type FileFetcher interface {
	FetchFile(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Document - вложение входящего сообщения.
type Document struct {
	FileID   string
	FileName string
	Size     int64
}

// Incoming - входящее текстовое сообщение.
type Incoming struct {
	ID        int
	ChatID    int64
	UserID    int64
	Username  string
	IsBot     bool
	IsPrivate bool
	Text      string
	Document  *Document
}

// Callback - нажатие кнопки.
type Callback struct {
	ID        string
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	Data      string
}

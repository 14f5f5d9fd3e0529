package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"serotonyl.ru/growstore-bot/internal/chat"
)

// Updates запускает long polling.
func (c *Client) Updates(timeoutSeconds int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSeconds
	u.AllowedUpdates = []string{"message", "channel_post", "callback_query"}
	return c.api.GetUpdatesChan(u)
}

// StopUpdates останавливает polling.
func (c *Client) StopUpdates() {
	c.api.StopReceivingUpdates()
}

// Incoming переводит сообщение Telegram во входящее сообщение бота.
// Посты каналов приходят без автора: UserID остаётся 0.
func Incoming(m *tgbotapi.Message) (chat.Incoming, bool) {
	if m == nil || m.Chat == nil {
		return chat.Incoming{}, false
	}
	in := chat.Incoming{
		ID:        m.MessageID,
		ChatID:    m.Chat.ID,
		IsPrivate: m.Chat.IsPrivate(),
		Text:      m.Text,
	}
	if in.Text == "" {
		in.Text = m.Caption
	}
	if m.From != nil {
		in.UserID = m.From.ID
		in.Username = m.From.UserName
		in.IsBot = m.From.IsBot
	}
	if m.Document != nil {
		in.Document = &chat.Document{
			FileID:   m.Document.FileID,
			FileName: m.Document.FileName,
			Size:     int64(m.Document.FileSize),
		}
	}
	if in.Text == "" && in.Document == nil {
		return chat.Incoming{}, false
	}
	return in, true
}

// Callback переводит нажатие inline-кнопки.
func Callback(q *tgbotapi.CallbackQuery) (chat.Callback, bool) {
	if q == nil || q.From == nil {
		return chat.Callback{}, false
	}
	cb := chat.Callback{
		ID:       q.ID,
		UserID:   q.From.ID,
		Username: q.From.UserName,
		Data:     q.Data,
	}
	if q.Message != nil && q.Message.Chat != nil {
		cb.ChatID = q.Message.Chat.ID
		cb.MessageID = q.Message.MessageID
	}
	return cb, true
}

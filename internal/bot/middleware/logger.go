// Package middleware содержит промежуточные обработчики: логирование,
// восстановление после паники, блокировки взаимодействий и кулдауны.
package middleware

import (
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/chat"
	"serotonyl.ru/growstore-bot/internal/common"
)

// LogMessage логирует входящее сообщение.
// Записывает: user_id, chat_id, username, текст (первые 50 символов).
func LogMessage(entry *log.Entry, in chat.Incoming) {
	fields := log.Fields{
		"user_id":  in.UserID,
		"chat_id":  in.ChatID,
		"username": in.Username,
		"text":     common.Truncate(in.Text, 50),
	}
	if in.Document != nil {
		fields["document"] = in.Document.FileName
	}
	entry.WithFields(fields).Debug("Входящее сообщение")
}

// LogCallback логирует нажатие кнопки.
func LogCallback(entry *log.Entry, cb chat.Callback) {
	entry.WithFields(log.Fields{
		"user_id":    cb.UserID,
		"chat_id":    cb.ChatID,
		"message_id": cb.MessageID,
		"data":       cb.Data,
	}).Debug("Нажатие кнопки")
}

// Package telegram реализует интерфейсы internal/chat поверх Telegram Bot API.
// Карточки рисуются HTML-разметкой, кнопки - inline-клавиатурой.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/chat"
	"serotonyl.ru/growstore-bot/internal/common"
)

// maxRetryAfter - дольше этого на 429 не ждём, отдаём ErrTransient.
const maxRetryAfter = 10 * time.Second

// Client - мессенджер Telegram.
type Client struct {
	api  *tgbotapi.BotAPI
	http *http.Client
}

// New авторизуется по токену.
func New(token string, debug bool) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	api.Debug = debug
	log.Infof("Авторизован как @%s", api.Self.UserName)
	return &Client{api: api, http: &http.Client{}}, nil
}

// API - низкоуровневый клиент для polling.
func (c *Client) API() *tgbotapi.BotAPI {
	return c.api
}

// SelfID - id бота.
func (c *Client) SelfID() int64 {
	return c.api.Self.ID
}

// Send отправляет сообщение и возвращает id первого из отправленных.
func (c *Client) Send(ctx context.Context, chatID int64, m chat.Message) (int, error) {
	parts := render(m)
	first := 0
	for i, text := range parts {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		// Кнопки под последним сообщением
		if m.View != nil && i == len(parts)-1 {
			msg.ReplyMarkup = keyboard(m.View)
		}
		sent, err := call(ctx, func() (tgbotapi.Message, error) { return c.api.Send(msg) })
		if err != nil {
			return first, fmt.Errorf("отправка в чат %d: %w", chatID, err)
		}
		if i == 0 {
			first = sent.MessageID
		}
	}
	return first, nil
}

// Edit заменяет текст и клавиатуру сообщения.
func (c *Client) Edit(ctx context.Context, chatID int64, messageID int, m chat.Message) error {
	text := render(m)[0]
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, keyboard(m.View))
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true

	_, err := call(ctx, func() (*tgbotapi.APIResponse, error) { return c.api.Request(edit) })
	switch {
	case err == nil:
		return nil
	case isAPIError(err, "message is not modified"):
		// Текст не изменился, это не ошибка
		return nil
	case isAPIError(err, "message to edit not found"), isAPIError(err, "message can't be edited"):
		return fmt.Errorf("сообщение %d: %w", messageID, chat.ErrMessageNotFound)
	}
	return fmt.Errorf("редактирование сообщения %d: %w", messageID, err)
}

// AnswerCallback отвечает на нажатие кнопки всплывающим текстом.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	cfg := tgbotapi.NewCallback(callbackID, text)
	cfg.ShowAlert = alert
	_, err := call(ctx, func() (*tgbotapi.APIResponse, error) { return c.api.Request(cfg) })
	return err
}

// IsChatMember - состоит ли пользователь в чате (member, administrator, creator, restricted).
func (c *Client) IsChatMember(ctx context.Context, chatID, userID int64) (bool, error) {
	cm, err := call(ctx, func() (tgbotapi.ChatMember, error) {
		return c.api.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
				ChatID: chatID,
				UserID: userID,
			},
		})
	})
	if err != nil {
		if isAPIError(err, "user not found") || isAPIError(err, "PARTICIPANT_ID_INVALID") {
			return false, nil
		}
		return false, fmt.Errorf("проверка участника %d в чате %d: %w", userID, chatID, err)
	}
	switch cm.Status {
	case "creator", "administrator", "member", "restricted":
		return true, nil
	}
	return false, nil
}

// FetchFile скачивает вложение.
func (c *Client) FetchFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	url, err := call(ctx, func() (string, error) { return c.api.GetFileDirectURL(fileID) })
	if err != nil {
		return nil, fmt.Errorf("ссылка на файл: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("скачивание файла: %w", common.ErrTransient)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("скачивание файла: статус %d: %w", resp.StatusCode, common.ErrTransient)
	}
	return resp.Body, nil
}

// call выполняет блокирующий вызов API с дедлайном ctx.
// Один раз повторяет запрос после 429, если Telegram просит подождать недолго.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		type result struct {
			v   T
			err error
		}
		done := make(chan result, 1)
		go func() {
			v, err := fn()
			done <- result{v, err}
		}()

		var r result
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%w: %w", common.ErrTransient, ctx.Err())
		case r = <-done:
		}
		if r.err == nil {
			return r.v, nil
		}

		var apiErr *tgbotapi.Error
		if errors.As(r.err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
			wait := time.Duration(apiErr.RetryAfter) * time.Second
			if attempt > 0 || wait > maxRetryAfter {
				return zero, fmt.Errorf("%w: %w", common.ErrTransient, r.err)
			}
			log.WithField("retry_after", wait).Warn("Telegram просит подождать")
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("%w: %w", common.ErrTransient, ctx.Err())
			case <-time.After(wait):
			}
			continue
		}
		if errors.As(r.err, &apiErr) && apiErr.Code >= 500 {
			return zero, fmt.Errorf("%w: %w", common.ErrTransient, r.err)
		}
		return zero, r.err
	}
}

func isAPIError(err error, substr string) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return strings.Contains(apiErr.Message, substr)
	}
	return strings.Contains(err.Error(), substr)
}

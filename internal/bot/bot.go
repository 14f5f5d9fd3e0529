// Package bot содержит главный модуль бота - приём обновлений и маршрутизацию.
// bot.go получает апдейты Telegram, переводит их во входящие сообщения и нажатия
// и раздаёт обработчикам: донат, диалоги витрины, админ-команды, кнопки.
package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/bot/filters"
	"serotonyl.ru/growstore-bot/internal/bot/middleware"
	"serotonyl.ru/growstore-bot/internal/bot/telegram"
	"serotonyl.ru/growstore-bot/internal/chat"
	"serotonyl.ru/growstore-bot/internal/config"
	"serotonyl.ru/growstore-bot/internal/features/admin"
	"serotonyl.ru/growstore-bot/internal/features/donation"
	"serotonyl.ru/growstore-bot/internal/features/storefront"
)

const helpText = "Use the buttons under the live stock message to register, check your balance and buy.\n" +
	"Admins: !addproduct, !addstock, !addbal, !checkbal, !maintenance, !world, !backup and more."

// Bot - главная структура бота, объединяющая все компоненты.
type Bot struct {
	cfg       *config.Config
	messenger chat.Messenger

	chatFilter *filters.ChatFilter
	admin      *admin.Handler
	store      *storefront.Handler
	donations  *donation.Listener

	parser *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// New создаёт бота.
func New(
	cfg *config.Config,
	messenger chat.Messenger,
	chatFilter *filters.ChatFilter,
	adminHandler *admin.Handler,
	store *storefront.Handler,
	donations *donation.Listener,
) *Bot {
	maxInFlight := cfg.Env.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Bot{
		cfg:        cfg,
		messenger:  messenger,
		chatFilter: chatFilter,
		admin:      adminHandler,
		store:      store,
		donations:  donations,
		parser:     NewCommandParser(),
		inflight:   make(chan struct{}, maxInFlight),
	}
}

// Start запускает polling обновлений от Telegram. Возвращается после отмены ctx
// и завершения обработчиков, которые уже работают.
func (b *Bot) Start(ctx context.Context, client *telegram.Client) {
	updates := client.Updates(b.cfg.Env.BotUpdateTimeoutSeconds)

	log.WithFields(log.Fields{
		"max_inflight": cap(b.inflight),
		"timeout_sec":  b.cfg.Env.BotUpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			client.StopUpdates()
			b.drain()
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				b.drain()
				return
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			go func(upd tgbotapi.Update) {
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// drain ждёт, пока освободятся все слоты обработки.
func (b *Bot) drain() {
	for i := 0; i < cap(b.inflight); i++ {
		b.inflight <- struct{}{}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer middleware.RecoverFromPanic("bot")

	// Запросы уже в работе доводим до конца и при остановке
	ctx = context.WithoutCancel(ctx)

	switch {
	case update.CallbackQuery != nil:
		if cb, ok := telegram.Callback(update.CallbackQuery); ok {
			b.HandleCallback(ctx, cb)
		}
	case update.Message != nil:
		if in, ok := telegram.Incoming(update.Message); ok {
			b.HandleMessage(ctx, in)
		}
	case update.ChannelPost != nil:
		if in, ok := telegram.Incoming(update.ChannelPost); ok {
			b.HandleMessage(ctx, in)
		}
	}
}

func requestLogger() *log.Entry {
	return log.WithField("request_id", uuid.NewString())
}

// HandleMessage маршрутизирует входящее сообщение.
func (b *Bot) HandleMessage(ctx context.Context, in chat.Incoming) {
	logger := requestLogger()
	middleware.LogMessage(logger, in)

	// Канал доната разбирается отдельно, в порядке поступления
	if b.donations.Handle(ctx, in) {
		return
	}

	// Владелец проходит всегда, остальные - через фильтр
	if in.UserID != b.cfg.AdminID && !b.chatFilter.CheckAccess(ctx, in) {
		return
	}

	// Ответ в открытом диалоге витрины
	if b.store.HandleMessage(ctx, in) {
		return
	}

	// Парсим команду (первая строка, остальное - тело для !addstock)
	firstLine, _, _ := strings.Cut(in.Text, "\n")
	cmd, args, isCommand := b.parser.ParseCommand(firstLine)
	if !isCommand {
		return
	}
	logger.WithFields(log.Fields{
		"cmd":  cmd,
		"args": args,
	}).Debug("parsed command")

	if b.admin.Handle(ctx, in, cmd, args) {
		return
	}

	switch cmd {
	case "start", "help":
		if in.IsPrivate {
			b.reply(ctx, in.ChatID, chat.Message{Embed: chat.Info("GrowStore", helpText)})
		}
	}
}

// HandleCallback маршрутизирует нажатие кнопки.
func (b *Bot) HandleCallback(ctx context.Context, cb chat.Callback) {
	middleware.LogCallback(requestLogger(), cb)

	if b.store.HandleCallback(ctx, cb) {
		return
	}
	// Чужая кнопка: просто гасим индикатор загрузки
	if err := b.messenger.AnswerCallback(ctx, cb.ID, "", false); err != nil {
		log.WithError(err).Debug("Ошибка ответа на неизвестную кнопку")
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, msg chat.Message) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Env.RequestTimeout)
	defer cancel()
	if _, err := b.messenger.Send(ctx, chatID, msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// CommandParser парсит команды с префиксами ! и /
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"!", "/"},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
// "/start@GrowStoreBot" понимается как "start".
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}

	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command, _, _ := strings.Cut(strings.ToLower(parts[0]), "@")
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return command, args, true
}

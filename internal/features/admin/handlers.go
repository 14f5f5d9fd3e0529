// Package admin - handlers.go разбирает админ-команды с префиксом "!"
// и отвечает карточками. Права проверяются до выполнения команды,
// команды уровня OWNER дополнительно требуют сессию, если задан пароль.
package admin

import (
	"context"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/chat"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/db/sqlite"
	"serotonyl.ru/growstore-bot/internal/features/ledger"
	"serotonyl.ru/growstore-bot/internal/features/members"
	"serotonyl.ru/growstore-bot/internal/features/stock"
)

// Deps - зависимости обработчика админ-команд.
type Deps struct {
	Service   *Service
	Members   *members.Service
	Ledger    *ledger.Service
	Stock     *stock.Service
	DB        *sqlite.DB
	Messenger chat.Messenger
	Files     chat.FileFetcher
	BackupDir string
	// Refresh просит перерисовать витрину. Может быть nil.
	Refresh func()
	// Restart запускает мягкую остановку процесса.
	Restart func()
}

// Handler обрабатывает админ-команды.
type Handler struct {
	Deps
	commands map[string]command
}

// request - одна входящая команда.
type request struct {
	in   chat.Incoming
	args []string
	// body - строки сообщения после первой (контент для addstock)
	body []string
}

func (r *request) by() string {
	return strconv.FormatInt(r.in.UserID, 10)
}

type command struct {
	level   Level
	session bool
	usage   string
	run     func(h *Handler, ctx context.Context, r *request) (*chat.Embed, error)
}

// NewHandler создаёт обработчик админ-команд.
func NewHandler(d Deps) *Handler {
	h := &Handler{Deps: d}
	h.commands = map[string]command{
		"addproduct":    {level: LevelAdmin, usage: "!addproduct <code> <price> <name...> [| description]", run: (*Handler).addProduct},
		"editproduct":   {level: LevelAdmin, usage: "!editproduct <code> <name|price|desc> <value...>", run: (*Handler).editProduct},
		"deleteproduct": {level: LevelAdmin, usage: "!deleteproduct <code>", run: (*Handler).deleteProduct},
		"addstock":      {level: LevelStock, usage: "!addstock <code> + .txt file or one item per line", run: (*Handler).addStock},
		"reducestock":   {level: LevelStock, usage: "!reducestock <code> <qty>", run: (*Handler).reduceStock},
		"stockhistory":  {level: LevelStock, usage: "!stockhistory <code> [limit]", run: (*Handler).stockHistory},
		"addbal":        {level: LevelAdmin, usage: "!addbal <growid> <amount> <WL|DL|BGL>", run: (*Handler).addBalance},
		"removebal":     {level: LevelAdmin, usage: "!removebal <growid> <amount> <WL|DL|BGL>", run: (*Handler).removeBalance},
		"checkbal":      {level: LevelAdmin, usage: "!checkbal <growid>", run: (*Handler).checkBalance},
		"resetuser":     {level: LevelOwner, session: true, usage: "!resetuser <growid>", run: (*Handler).resetUser},
		"trxhistory":    {level: LevelAdmin, usage: "!trxhistory [growid] [limit]", run: (*Handler).trxHistory},
		"maintenance":   {level: LevelAdmin, usage: "!maintenance on|off", run: (*Handler).maintenance},
		"blacklist":     {level: LevelAdmin, usage: "!blacklist add|remove <growid> or !blacklist list", run: (*Handler).blacklist},
		"backup":        {level: LevelAdmin, usage: "!backup", run: (*Handler).backup},
		"restore":       {level: LevelOwner, session: true, usage: "!restore <file>", run: (*Handler).restore},
		"world":         {level: LevelAdmin, usage: "!world add|update <name> <owner> <bot> | info | list | remove", run: (*Handler).world},
		"restart":       {level: LevelOwner, session: true, usage: "!restart", run: (*Handler).restart},
		"login":         {level: LevelAdmin, usage: "!login <password> (in private chat)", run: (*Handler).login},
		"logout":        {level: LevelAdmin, usage: "!logout", run: (*Handler).logout},
	}
	return h
}

// Handles - является ли cmd админ-командой.
func (h *Handler) Handles(cmd string) bool {
	_, ok := h.commands[cmd]
	return ok
}

// Handle выполняет админ-команду. Возвращает false, если cmd не админская.
func (h *Handler) Handle(ctx context.Context, in chat.Incoming, cmd string, args []string) bool {
	c, ok := h.commands[cmd]
	if !ok {
		return false
	}

	logger := log.WithFields(log.Fields{
		"component": "admin",
		"cmd":       cmd,
		"user_id":   in.UserID,
		"chat_id":   in.ChatID,
	})

	if !h.Service.CheckPermission(ctx, in.UserID, c.level) {
		h.reply(ctx, in.ChatID, chat.Failure("Access denied", common.ErrForbidden.Error()))
		return true
	}
	if c.session {
		if err := h.Service.RequireSession(ctx, in.UserID); err != nil {
			common.LogError(logger, err, "Команда требует сессию")
			h.reply(ctx, in.ChatID, chat.Failure("Session required", common.UserMessage(err)))
			return true
		}
	}

	r := &request{in: in, args: args}
	if lines := strings.Split(in.Text, "\n"); len(lines) > 1 {
		r.body = lines[1:]
	}

	embed, err := c.run(h, ctx, r)
	if err != nil {
		common.LogError(logger, err, "Админ-команда не выполнена")
		msg := common.UserMessage(err)
		if common.KindOf(err) == common.KindInput {
			msg += "\nUsage: " + c.usage
		}
		h.reply(ctx, in.ChatID, chat.Failure("!"+cmd+" failed", msg))
		return true
	}

	logger.Info("Админ-команда выполнена")
	if embed != nil {
		h.reply(ctx, in.ChatID, embed)
	}
	return true
}

func (h *Handler) reply(ctx context.Context, chatID int64, e *chat.Embed) {
	if _, err := h.Messenger.Send(ctx, chatID, chat.Message{Embed: e}); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки ответа на админ-команду")
	}
}

func (h *Handler) refresh() {
	if h.Refresh != nil {
		h.Refresh()
	}
}

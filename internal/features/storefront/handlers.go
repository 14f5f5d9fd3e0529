// Package storefront - кнопки витрины и диалоги покупателя в личке:
// регистрация GrowID, баланс, мир выдачи, покупка и история.
// Ошибки сервисов превращаются в карточки только здесь.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/chat"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/features/admin"
	"serotonyl.ru/growstore-bot/internal/features/ledger"
	"serotonyl.ru/growstore-bot/internal/features/members"
	"serotonyl.ru/growstore-bot/internal/features/purchase"
	"serotonyl.ru/growstore-bot/internal/features/stock"
)

// Действия кнопок. Они же ключи cooldowns.* в конфиге.
const (
	ActionRegister = "register"
	ActionBalance  = "balance"
	ActionWorld    = "world_info"
	ActionBuy      = "buy"
	ActionHistory  = "history"
	ActionSelect   = "buy_select" // выбор товара в личке
)

const (
	livePrefix   = "live:"
	buyPrefix    = "buy:"
	historyLimit = 10
	maxChoices   = 25
	callTimeout  = 30 * time.Second
)

var knownActions = map[string]bool{
	ActionRegister: true,
	ActionBalance:  true,
	ActionWorld:    true,
	ActionBuy:      true,
	ActionHistory:  true,
}

// Locker - блокировки взаимодействий.
type Locker interface {
	Acquire(userID int64, interactionID string) (release func(), err error)
}

// Limiter - кулдауны действий.
type Limiter interface {
	Allow(action string, userID int64) (bool, time.Duration)
}

// Deps - зависимости витрины.
type Deps struct {
	Members   *members.Service
	Ledger    *ledger.Service
	Stock     *stock.Service
	Purchases *purchase.Coordinator
	Admin     *admin.Service
	Messenger chat.Messenger
	Locks     Locker
	Cooldowns Limiter
	// Timeout - дедлайн одного вызова мессенджера
	Timeout time.Duration
}

// Handler обрабатывает кнопки витрины и ответы в диалогах.
type Handler struct {
	Deps
	dialogs *dialogs

	ready   atomic.Bool
	healthy atomic.Bool
}

// NewHandler создаёт обработчик. Кнопки начинают работать после Attach.
func NewHandler(d Deps) *Handler {
	if d.Timeout <= 0 {
		d.Timeout = callTimeout
	}
	h := &Handler{Deps: d, dialogs: newDialogs()}
	h.healthy.Store(true)
	return h
}

// Attach включает обработку кнопок: после перезапуска старые кнопки
// в канале снова отвечают, потому что маршрутизация идёт по префиксу данных.
func (h *Handler) Attach() {
	h.ready.Store(true)
	log.WithField("component", "storefront").Info("Кнопки витрины подключены")
}

// Ready - подключены ли кнопки.
func (h *Handler) Ready() bool {
	return h.ready.Load()
}

// StoreView - кнопки под сообщением витрины.
func StoreView() *chat.View {
	return &chat.View{Rows: [][]chat.Button{
		{{Label: "📝 Register", Data: livePrefix + ActionRegister}, {Label: "💰 Balance", Data: livePrefix + ActionBalance}},
		{{Label: "🌍 World", Data: livePrefix + ActionWorld}, {Label: "🛒 Buy", Data: livePrefix + ActionBuy}},
		{{Label: "📜 History", Data: livePrefix + ActionHistory}},
	}}
}

// CreateView отдаёт кнопки витрины. До Attach возвращает nil:
// витрина без рабочих кнопок не публикуется.
func (h *Handler) CreateView(context.Context) (*chat.View, error) {
	if !h.ready.Load() {
		return nil, nil
	}
	return StoreView(), nil
}

// OnStatusChange получает состояние витрины.
func (h *Handler) OnStatusChange(healthy bool, err error) {
	was := h.healthy.Swap(healthy)
	if was == healthy {
		return
	}
	logger := log.WithField("component", "storefront")
	if healthy {
		logger.Info("Витрина восстановилась")
		return
	}
	logger.WithError(err).Warn("Витрина перестала обновляться")
}

// SweepDialogs удаляет просроченные диалоги. Вызывается планировщиком.
func (h *Handler) SweepDialogs() int {
	return h.dialogs.sweep()
}

// parseCallback разбирает данные кнопки: "live:<action>" или "buy:<CODE>".
func parseCallback(data string) (action, code string, ok bool) {
	if a, found := strings.CutPrefix(data, livePrefix); found {
		return a, "", knownActions[a]
	}
	if c, found := strings.CutPrefix(data, buyPrefix); found && c != "" {
		return ActionSelect, c, true
	}
	return "", "", false
}

// HandleCallback обрабатывает нажатие. false - кнопка не витрины.
func (h *Handler) HandleCallback(ctx context.Context, cb chat.Callback) bool {
	action, code, ok := parseCallback(cb.Data)
	if !ok {
		return false
	}
	logger := log.WithFields(log.Fields{
		"component": "storefront",
		"action":    action,
		"user_id":   cb.UserID,
	})

	if !h.ready.Load() {
		h.answer(ctx, cb.ID, "The store is starting, try again in a moment", true)
		return true
	}

	release, err := h.Locks.Acquire(cb.UserID, "cb:"+cb.ID)
	if err != nil {
		logger.Debug("Повторное нажатие отклонено")
		h.answer(ctx, cb.ID, common.UserMessage(err), true)
		return true
	}
	defer release()

	if ok, wait := h.Cooldowns.Allow(action, cb.UserID); !ok {
		h.answer(ctx, cb.ID, fmt.Sprintf("Slow down, try again in %ds", seconds(wait)), true)
		return true
	}

	var msg chat.Message
	switch action {
	case ActionRegister:
		msg, err = h.startRegister(ctx, cb.UserID)
	case ActionBalance:
		msg, err = h.balance(ctx, cb.UserID)
	case ActionWorld:
		msg, err = h.world(ctx)
	case ActionBuy:
		msg, err = h.productList(ctx, cb.UserID)
	case ActionHistory:
		msg, err = h.history(ctx, cb.UserID)
	case ActionSelect:
		msg, err = h.selectProduct(ctx, cb.UserID, code)
	}
	if err != nil {
		common.LogError(logger, err, "Действие витрины не выполнено")
		if msg.Embed == nil {
			msg = chat.Message{Embed: chat.Failure(failureTitle(action), common.UserMessage(err))}
		}
	}

	// Ответ всегда уходит в личку
	if _, err := h.send(ctx, cb.UserID, msg); err != nil {
		logger.WithError(err).Warn("Не удалось написать покупателю в личку")
		h.answer(ctx, cb.ID, "I can't message you. Start a private chat with the bot and press the button again.", true)
		return true
	}
	text := ""
	if cb.ChatID != cb.UserID {
		text = "Check your private messages"
	}
	h.answer(ctx, cb.ID, text, false)
	return true
}

// HandleMessage принимает ответ пользователя в открытом диалоге.
// false - диалога нет, сообщение обрабатывает кто-то другой.
func (h *Handler) HandleMessage(ctx context.Context, in chat.Incoming) bool {
	if !in.IsPrivate || in.IsBot {
		return false
	}
	d := h.dialogs.get(in.UserID)
	if d == nil {
		return false
	}

	text := strings.TrimSpace(in.Text)
	if strings.EqualFold(text, "/cancel") {
		h.dialogs.clear(in.UserID)
		h.reply(ctx, in.UserID, chat.Message{Embed: chat.Info("Cancelled", "Nothing was changed")})
		return true
	}
	// Команды во время диалога идут своим путём
	if strings.HasPrefix(text, "!") || strings.HasPrefix(text, "/") {
		return false
	}

	logger := log.WithFields(log.Fields{
		"component": "storefront",
		"state":     d.State,
		"user_id":   in.UserID,
	})

	release, err := h.Locks.Acquire(in.UserID, fmt.Sprintf("msg:%d:%d", in.ChatID, in.ID))
	if err != nil {
		h.reply(ctx, in.UserID, chat.Message{Embed: chat.Warning("Please wait", common.UserMessage(err))})
		return true
	}
	defer release()

	var (
		msg   chat.Message
		title string
	)
	switch d.State {
	case stateAwaitingGrowID:
		title = "Registration failed"
		msg, err = h.submitGrowID(ctx, in.UserID, text)
	case stateAwaitingQty:
		title = "Purchase failed"
		var r *purchase.Receipt
		r, msg, err = h.submitQty(ctx, in.UserID, d.Code, text)
		if r != nil {
			h.deliverReceipt(ctx, r)
			return true
		}
	default:
		h.dialogs.clear(in.UserID)
		return false
	}

	if err != nil {
		common.LogError(logger, err, "Ответ в диалоге не принят")
		// На ошибку ввода диалог остаётся открытым, можно ответить ещё раз
		if common.KindOf(err) != common.KindInput {
			h.dialogs.clear(in.UserID)
		}
		if msg.Embed == nil {
			msg = chat.Message{Embed: chat.Failure(title, common.UserMessage(err))}
		}
	}
	h.reply(ctx, in.UserID, msg)
	return true
}

// --- Кнопки ---

func (h *Handler) startRegister(ctx context.Context, userID int64) (chat.Message, error) {
	growid, err := h.Members.Lookup(ctx, userID)
	if err == nil {
		return chat.Message{}, fmt.Errorf("%s: %w", growid, common.ErrAlreadyRegistered)
	}
	if !errors.Is(err, common.ErrNotRegistered) {
		return chat.Message{}, err
	}
	h.dialogs.set(userID, stateAwaitingGrowID, "")
	return chat.Message{Embed: chat.Info("Register",
		"Send your GrowID in this chat.\nIt is case-sensitive: type it exactly as in the game.\nSend /cancel to stop.")}, nil
}

func (h *Handler) balance(ctx context.Context, userID int64) (chat.Message, error) {
	growid, err := h.Members.Lookup(ctx, userID)
	if err != nil {
		return chat.Message{}, err
	}
	b, err := h.Ledger.GetBalance(ctx, growid)
	if err != nil {
		return chat.Message{}, err
	}
	e := chat.Info("Your balance", "")
	e.AddField("GrowID", growid, true)
	e.AddField("Balance", b.Describe(), true)
	e.AddField("Total", ledger.FormatBalance(b), true)
	return chat.Message{Embed: e}, nil
}

func (h *Handler) world(ctx context.Context) (chat.Message, error) {
	w, err := h.Admin.GetWorld(ctx)
	if err != nil {
		return chat.Message{}, err
	}
	return chat.Message{Embed: admin.WorldEmbed(w)}, nil
}

func (h *Handler) productList(ctx context.Context, userID int64) (chat.Message, error) {
	if _, err := h.Members.Lookup(ctx, userID); err != nil {
		return chat.Message{}, err
	}
	if on, err := h.Admin.IsMaintenanceMode(ctx); err != nil {
		return chat.Message{}, err
	} else if on {
		return chat.Message{}, common.ErrMaintenance
	}

	sums, err := h.Stock.Summaries(ctx)
	if err != nil {
		return chat.Message{}, err
	}
	view := &chat.View{}
	for _, s := range sums {
		if s.Available <= 0 {
			continue
		}
		if len(view.Rows) == maxChoices {
			break
		}
		label := fmt.Sprintf("%s · %s (%d left)", s.Product.Name, price(s.Product.Price), s.Available)
		view.Rows = append(view.Rows, []chat.Button{{Label: label, Data: buyPrefix + s.Product.Code}})
	}
	if len(view.Rows) == 0 {
		return chat.Message{Embed: chat.Warning("Nothing to buy", "All products are out of stock")}, nil
	}
	return chat.Message{
		Embed: chat.Info("Choose a product", "Press a product to buy it"),
		View:  view,
	}, nil
}

func (h *Handler) history(ctx context.Context, userID int64) (chat.Message, error) {
	growid, err := h.Members.Lookup(ctx, userID)
	if err != nil {
		return chat.Message{}, err
	}
	txs, err := h.Ledger.History(ctx, growid, historyLimit)
	if err != nil {
		return chat.Message{}, err
	}
	e := chat.Info("Your transactions", "")
	if len(txs) == 0 {
		e.Description = "No transactions yet"
	}
	for _, t := range txs {
		d := t.Delta().Total()
		sign := "+"
		if d < 0 {
			sign, d = "-", -d
		}
		e.AddField(
			fmt.Sprintf("#%d %s", t.ID, t.Type),
			fmt.Sprintf("%s%s WL → %s\n%s", sign, common.FormatNumber(d), ledger.FormatBalance(t.NewBalance), common.FormatDateTime(t.CreatedAt)),
			false)
	}
	return chat.Message{Embed: e}, nil
}

func (h *Handler) selectProduct(ctx context.Context, userID int64, code string) (chat.Message, error) {
	if _, err := h.Members.Lookup(ctx, userID); err != nil {
		return chat.Message{}, err
	}
	sum, err := h.Stock.Availability(ctx, code)
	if err != nil {
		return chat.Message{}, err
	}
	if sum.Available <= 0 {
		return chat.Message{}, fmt.Errorf("%s: %w", sum.Product.Code, common.ErrOutOfStock)
	}
	h.dialogs.set(userID, stateAwaitingQty, sum.Product.Code)

	e := chat.Info("Buy "+sum.Product.Name, "Send the quantity you want to buy.\nSend /cancel to stop.")
	e.AddField("Price", price(sum.Product.Price)+" each", true)
	e.AddField("Available", strconv.Itoa(sum.Available), true)
	e.AddField("Allowed", fmt.Sprintf("1-%d", maxQty(sum.Available)), true)
	if sum.Product.Description != "" {
		e.AddField("Description", sum.Product.Description, false)
	}
	return chat.Message{Embed: e}, nil
}

// --- Ответы в диалоге ---

func (h *Handler) submitGrowID(ctx context.Context, userID int64, text string) (chat.Message, error) {
	growid, err := h.Members.Register(ctx, userID, text)
	if err != nil {
		return chat.Message{}, err
	}
	h.dialogs.clear(userID)

	e := chat.Success("Registration complete", "You can now buy from the store")
	e.AddField("GrowID", growid, true)
	return chat.Message{Embed: e}, nil
}

// submitQty покупает товар. Чек возвращается отдельно: его отправкой занимается deliverReceipt.
func (h *Handler) submitQty(ctx context.Context, userID int64, code, text string) (*purchase.Receipt, chat.Message, error) {
	qty, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return nil, chat.Message{}, fmt.Errorf("%w: send a whole number", common.ErrInvalidQty)
	}

	// Верхняя граница по текущему остатку
	sum, err := h.Stock.Availability(ctx, code)
	if err != nil {
		return nil, chat.Message{}, err
	}
	if sum.Available <= 0 {
		return nil, chat.Message{}, fmt.Errorf("%s: %w", code, common.ErrOutOfStock)
	}
	if limit := maxQty(sum.Available); qty < 1 || qty > limit {
		return nil, chat.Message{Embed: chat.Failure("Invalid quantity",
			fmt.Sprintf("Send a number from 1 to %d", limit))}, fmt.Errorf("%w: %d", common.ErrInvalidQty, qty)
	}

	r, err := h.Purchases.Purchase(ctx, userID, code, qty)
	if err != nil {
		if errors.Is(err, common.ErrInsufficientBalance) {
			return nil, h.insufficient(ctx, userID, sum.Product, qty), err
		}
		return nil, chat.Message{}, err
	}
	h.dialogs.clear(userID)
	return r, chat.Message{}, nil
}

func (h *Handler) insufficient(ctx context.Context, userID int64, p stock.Product, qty int) chat.Message {
	e := chat.Failure("Purchase failed", common.ErrInsufficientBalance.Error())
	e.AddField("Cost", fmt.Sprintf("%d × %s = %s", qty, price(p.Price), price(p.Price*int64(qty))), false)
	if growid, err := h.Members.Lookup(ctx, userID); err == nil {
		if b, err := h.Ledger.GetBalance(ctx, growid); err == nil {
			e.AddField("Your balance", ledger.FormatBalance(b), false)
		}
	}
	return chat.Message{Embed: e}
}

// deliverReceipt отправляет чек уже оплаченной покупки. При ошибке одна повторная попытка,
// недоставленный чек пишется в лог для ручной выдачи.
func (h *Handler) deliverReceipt(ctx context.Context, r *purchase.Receipt) {
	msg := receiptMessage(r)
	_, err := h.send(ctx, r.ChatUserID, msg)
	if err == nil {
		return
	}
	logger := log.WithFields(log.Fields{
		"component":      "storefront",
		"user_id":        r.ChatUserID,
		"growid":         r.GrowID,
		"product":        r.Product.Code,
		"transaction_id": r.TransactionID,
		"item_ids":       itemIDs(r),
	})
	logger.WithError(err).Warn("Чек не отправлен, повторяем")

	if _, err = h.send(ctx, r.ChatUserID, msg); err != nil {
		logger.WithError(err).Error("Покупка оплачена, но чек не доставлен: выдайте товар вручную")
	}
}

func itemIDs(r *purchase.Receipt) []int64 {
	ids := make([]int64, 0, len(r.Items))
	for _, it := range r.Items {
		ids = append(ids, it.ID)
	}
	return ids
}

func receiptMessage(r *purchase.Receipt) chat.Message {
	e := chat.Success("Purchase complete", fmt.Sprintf("You bought %d × %s", r.Qty, r.Product.Name))
	e.AddField("Product", r.Product.Name+" ("+r.Product.Code+")", true)
	e.AddField("Quantity", strconv.Itoa(r.Qty), true)
	e.AddField("Cost", fmt.Sprintf("%d × %s = %s", r.Qty, price(r.UnitPrice), price(r.Total)), false)
	e.AddField("Balance", ledger.FormatBalance(r.OldBalance)+" → "+ledger.FormatBalance(r.NewBalance), false)
	e.Footer = fmt.Sprintf("Transaction #%d", r.TransactionID)
	return chat.Message{Embed: e, Code: strings.Join(r.Contents(), "\n")}
}

// --- Утилиты ---

func maxQty(available int) int {
	return min(available, purchase.MaxQty)
}

func price(wl int64) string {
	return common.FormatNumber(wl) + " WL"
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func failureTitle(action string) string {
	switch action {
	case ActionRegister:
		return "Registration failed"
	case ActionBuy, ActionSelect:
		return "Purchase failed"
	}
	return "Request failed"
}

func (h *Handler) send(ctx context.Context, chatID int64, msg chat.Message) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()
	return h.Messenger.Send(ctx, chatID, msg)
}

func (h *Handler) reply(ctx context.Context, chatID int64, msg chat.Message) {
	if _, err := h.send(ctx, chatID, msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки ответа покупателю")
	}
}

func (h *Handler) answer(ctx context.Context, callbackID, text string, alert bool) {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()
	if err := h.Messenger.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		log.WithError(err).Warn("Ошибка ответа на нажатие кнопки")
	}
}

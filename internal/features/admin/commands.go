package admin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"serotonyl.ru/growstore-bot/internal/chat"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/db/sqlite"
	"serotonyl.ru/growstore-bot/internal/features/ledger"
	"serotonyl.ru/growstore-bot/internal/features/stock"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

func usageErr(format string, a ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{common.ErrInvalidInput}, a...)...)
}

func parsePositive(s string, err error) (int64, error) {
	n, perr := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if perr != nil || n <= 0 {
		return 0, err
	}
	return n, nil
}

func parseLimit(args []string, i int) (int, error) {
	if len(args) <= i {
		return defaultHistoryLimit, nil
	}
	n, err := parsePositive(args[i], common.ErrInvalidQty)
	if err != nil {
		return 0, err
	}
	return int(min(n, maxHistoryLimit)), nil
}

// --- Товары ---

func (h *Handler) addProduct(ctx context.Context, r *request) (*chat.Embed, error) {
	if len(r.args) < 3 {
		return nil, usageErr("code, price and name are required")
	}
	price, err := strconv.ParseInt(r.args[1], 10, 64)
	if err != nil || price < 0 {
		return nil, common.ErrInvalidAmount
	}
	name, desc, _ := strings.Cut(strings.Join(r.args[2:], " "), "|")

	p, err := h.Stock.AddProduct(ctx, r.args[0], name, price, desc)
	if err != nil {
		return nil, err
	}
	h.refresh()

	e := chat.Success("Product added", fmt.Sprintf("%s (%s)", p.Name, p.Code))
	e.AddField("Price", common.FormatNumber(p.Price)+" WL", true)
	if p.Description != "" {
		e.AddField("Description", p.Description, false)
	}
	return e, nil
}

func (h *Handler) editProduct(ctx context.Context, r *request) (*chat.Embed, error) {
	if len(r.args) < 3 {
		return nil, usageErr("code, field and value are required")
	}
	value := strings.Join(r.args[2:], " ")

	var u stock.ProductUpdate
	switch strings.ToLower(r.args[1]) {
	case "name":
		u.Name = &value
	case "price":
		price, err := strconv.ParseInt(value, 10, 64)
		if err != nil || price < 0 {
			return nil, common.ErrInvalidAmount
		}
		u.Price = &price
	case "desc", "description":
		if value == "-" {
			value = ""
		}
		u.Description = &value
	default:
		return nil, usageErr("unknown field %q", r.args[1])
	}

	p, err := h.Stock.EditProduct(ctx, r.args[0], u)
	if err != nil {
		return nil, err
	}
	h.refresh()

	e := chat.Success("Product updated", fmt.Sprintf("%s (%s)", p.Name, p.Code))
	e.AddField("Price", common.FormatNumber(p.Price)+" WL", true)
	if p.Description != "" {
		e.AddField("Description", p.Description, false)
	}
	return e, nil
}

func (h *Handler) deleteProduct(ctx context.Context, r *request) (*chat.Embed, error) {
	if len(r.args) < 1 {
		return nil, usageErr("code is required")
	}
	if err := h.Stock.DeleteProduct(ctx, r.args[0]); err != nil {
		return nil, err
	}
	h.refresh()
	return chat.Warning("Product deleted", strings.ToUpper(r.args[0])+" and all its stock were removed"), nil
}

// --- Сток ---

func (h *Handler) addStock(ctx context.Context, r *request) (*chat.Embed, error) {
	if len(r.args) < 1 {
		return nil, usageErr("code is required")
	}

	var contents []string
	switch {
	case r.in.Document != nil:
		lines, err := h.readStockFile(ctx, r.in.Document)
		if err != nil {
			return nil, err
		}
		contents = lines
	case len(r.body) > 0:
		contents = stock.ParseStockLines(strings.Join(r.body, "\n"))
	default:
		return nil, usageErr("attach a .txt file or put one item per line after the command")
	}
	if len(contents) == 0 {
		return nil, usageErr("no stock lines found")
	}

	res, err := h.Stock.AddStock(ctx, r.args[0], contents, r.by())
	if err != nil {
		return nil, err
	}
	h.refresh()

	e := chat.Success("Stock added", strings.ToUpper(r.args[0]))
	e.AddField("Added", strconv.Itoa(res.Added), true)
	e.AddField("Skipped duplicates", strconv.Itoa(res.Skipped), true)
	return e, nil
}

func (h *Handler) readStockFile(ctx context.Context, doc *chat.Document) ([]string, error) {
	if doc.Size > stock.MaxStockFileSize {
		return nil, usageErr("file is larger than %d MB", stock.MaxStockFileSize>>20)
	}
	if h.Files == nil {
		return nil, usageErr("file uploads are not supported here")
	}
	rc, err := h.Files.FetchFile(ctx, doc.FileID)
	if err != nil {
		return nil, fmt.Errorf("не удалось скачать %s: %w", doc.FileName, err)
	}
	defer rc.Close()
	return stock.ParseStockFile(rc)
}

func (h *Handler) reduceStock(ctx context.Context, r *request) (*chat.Embed, error) {
	if len(r.args) < 2 {
		return nil, usageErr("code and qty are required")
	}
	qty, err := parsePositive(r.args[1], common.ErrInvalidQty)
	if err != nil {
		return nil, err
	}
	removed, err := h.Stock.ReduceStock(ctx, r.args[0], int(qty), r.by())
	if err != nil {
		return nil, err
	}
	h.refresh()

	hashes := make([]string, len(removed))
	for i, it := range removed {
		hashes[i] = fmt.Sprintf("#%d %s", it.ID, it.ShortHash())
	}
	e := chat.Warning("Stock reduced", fmt.Sprintf("%d item(s) of %s removed", len(removed), strings.ToUpper(r.args[0])))
	e.AddField("Items", common.Truncate(strings.Join(hashes, "\n"), 900), false)
	return e, nil
}

func (h *Handler) stockHistory(ctx context.Context, r *request) (*chat.Embed, error) {
	if len(r.args) < 1 {
		return nil, usageErr("code is required")
	}
	limit, err := parseLimit(r.args, 1)
	if err != nil {
		return nil, err
	}
	items, err := h.Stock.History(ctx, r.args[0], limit)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return chat.Info("Stock history", "No stock for "+strings.ToUpper(r.args[0])), nil
	}

	var sb strings.Builder
	for _, it := range items {
		fmt.Fprintf(&sb, "#%d %s %s", it.ID, it.Status, it.ShortHash())
		if it.BuyerID != "" {
			fmt.Fprintf(&sb, " → %s", it.BuyerID)
		}
		fmt.Fprintf(&sb, " (%s)\n", common.FormatDateTime(it.UpdatedAt))
	}
	return chat.Info("Stock history: "+items[0].ProductCode, sb.String()), nil
}

// --- Балансы ---

func (h *Handler) parseAmount(r *request) (growid string, amount int64, unit ledger.Unit, err error) {
	if len(r.args) < 3 {
		return "", 0, 0, usageErr("growid, amount and currency are required")
	}
	growid, err = common.NormalizeGrowID(r.args[0])
	if err != nil {
		return "", 0, 0, err
	}
	amount, err = parsePositive(r.args[1], common.ErrInvalidAmount)
	if err != nil {
		return "", 0, 0, err
	}
	unit, err = ledger.ParseUnit(strings.Join(r.args[2:], " "))
	if err != nil {
		return "", 0, 0, err
	}
	if _, err := unit.CheckedAmount(amount); err != nil {
		return "", 0, 0, err
	}
	return growid, amount, unit, nil
}

func (h *Handler) addBalance(ctx context.Context, r *request) (*chat.Embed, error) {
	growid, amount, unit, err := h.parseAmount(r)
	if err != nil {
		return nil, err
	}
	details := fmt.Sprintf("admin %s added %d %s", r.by(), amount, unit)
	b, err := h.Ledger.UpdateBalance(ctx, growid, unit.Amount(amount), ledger.TxAdminAdd, details)
	if err != nil {
		return nil, err
	}

	e := chat.Success("Balance added", fmt.Sprintf("+%s %s to %s", common.FormatNumber(amount), unit, growid))
	e.AddField("New balance", b.Describe(), true)
	e.AddField("Total", ledger.FormatBalance(b), true)
	return e, nil
}

func (h *Handler) removeBalance(ctx context.Context, r *request) (*chat.Embed, error) {
	growid, amount, unit, err := h.parseAmount(r)
	if err != nil {
		return nil, err
	}
	details := fmt.Sprintf("admin %s removed %d %s", r.by(), amount, unit)
	// Списание в WL с разменом: у пользователя может не быть нужной валюты
	b, err := h.Ledger.DebitBase(ctx, growid, unit.Base(amount), ledger.TxAdminRemove, details)
	if err != nil {
		return nil, err
	}

	e := chat.Success("Balance removed", fmt.Sprintf("-%s %s from %s", common.FormatNumber(amount), unit, growid))
	e.AddField("New balance", b.Describe(), true)
	e.AddField("Total", ledger.FormatBalance(b), true)
	return e, nil
}

func (h *Handler) checkBalance(ctx context.Context, r *request) (*chat.Embed, error) {
	if len(r.args) < 1 {
		return nil, usageErr("growid is required")
	}
	growid, err := common.NormalizeGrowID(r.args[0])
	if err != nil {
		return nil, err
	}
	b, err := h.Ledger.GetBalance(ctx, growid)
	if err != nil {
		return nil, err
	}
	banned, err := h.Members.IsBlacklisted(ctx, growid)
	if err != nil {
		return nil, err
	}
	users, err := h.Members.ChatUsers(ctx, growid)
	if err != nil {
		return nil, err
	}

	e := chat.Info("Balance of "+growid, b.Describe())
	e.AddField("Total", ledger.FormatBalance(b), true)
	e.AddField("Blacklisted", strconv.FormatBool(banned), true)
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = strconv.FormatInt(u, 10)
	}
	if len(ids) > 0 {
		e.AddField("Chat users", strings.Join(ids, ", "), false)
	}
	return e, nil
}

func (h *Handler) resetUser(ctx context.Context, r *request) (*chat.Embed, error) {
	if len(r.args) < 1 {
		return nil, usageErr("growid is required")
	}
	growid, err := common.NormalizeGrowID(r.args[0])
	if err != nil {
		return nil, err
	}
	if _, err := h.Ledger.ResetBalance(ctx, growid, "reset by admin "+r.by()); err != nil {
		return nil, err
	}
	return chat.Warning("User reset", growid+" balance is now 0"), nil
}

func (h *Handler) trxHistory(ctx context.Context, r *request) (*chat.Embed, error) {
	var (
		txs   []*ledger.Transaction
		title = "Latest transactions"
		err   error
	)
	limitAt := 1
	if len(r.args) > 0 {
		if _, perr := strconv.Atoi(r.args[0]); perr == nil {
			// !trxhistory 20 - все пользователи
			limitAt = 0
		}
	}
	limit, err := parseLimit(r.args, limitAt)
	if err != nil {
		return nil, err
	}

	if len(r.args) == 0 || limitAt == 0 {
		txs, err = h.Ledger.AllHistory(ctx, limit)
	} else {
		var growid string
		growid, err = common.NormalizeGrowID(r.args[0])
		if err != nil {
			return nil, err
		}
		title = "Transactions of " + growid
		txs, err = h.Ledger.History(ctx, growid, limit)
	}
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return chat.Info(title, "No transactions"), nil
	}
	return chat.Info(title, formatTransactions(txs)), nil
}

func formatTransactions(txs []*ledger.Transaction) string {
	var sb strings.Builder
	for _, t := range txs {
		d := t.Delta().Total()
		sign := "+"
		if d < 0 {
			sign = "-"
			d = -d
		}
		fmt.Fprintf(&sb, "#%d %s %s %s %s%s WL → %s\n",
			t.ID, common.FormatDateTime(t.CreatedAt), t.GrowID, t.Type,
			sign, common.FormatNumber(d), ledger.FormatBalance(t.NewBalance))
		if t.Details != "" {
			fmt.Fprintf(&sb, "   %s\n", common.Truncate(t.Details, 80))
		}
	}
	return sb.String()
}

// --- Обслуживание и чёрный список ---

func (h *Handler) maintenance(ctx context.Context, r *request) (*chat.Embed, error) {
	if len(r.args) < 1 {
		on, err := h.Service.IsMaintenanceMode(ctx)
		if err != nil {
			return nil, err
		}
		return chat.Info("Maintenance", "Maintenance mode is "+onOff(on)), nil
	}
	var on bool
	switch strings.ToLower(r.args[0]) {
	case "on":
		on = true
	case "off":
	default:
		return nil, usageErr("expected on or off")
	}
	if err := h.Service.SetMaintenanceMode(ctx, on, r.in.UserID); err != nil {
		return nil, err
	}
	h.refresh()
	if on {
		return chat.Warning("Maintenance", "Maintenance mode is ON, purchases are disabled"), nil
	}
	return chat.Success("Maintenance", "Maintenance mode is OFF, the store is open"), nil
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func (h *Handler) blacklist(ctx context.Context, r *request) (*chat.Embed, error) {
	if len(r.args) < 1 {
		return nil, usageErr("expected add, remove or list")
	}
	action := strings.ToLower(r.args[0])
	if action == "list" {
		entries, err := h.Members.ListBlacklist(ctx)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return chat.Info("Blacklist", "The blacklist is empty"), nil
		}
		var sb strings.Builder
		for _, e := range entries {
			fmt.Fprintf(&sb, "%s (by %s, %s)\n", e.GrowID, e.AddedBy, common.FormatDateTime(e.CreatedAt))
		}
		return chat.Info("Blacklist", sb.String()), nil
	}

	if len(r.args) < 2 {
		return nil, usageErr("growid is required")
	}
	growid := r.args[1]
	switch action {
	case "add":
		if err := h.Members.AddBlacklist(ctx, growid, r.by()); err != nil {
			return nil, err
		}
		return chat.Warning("Blacklist", growid+" can no longer buy"), nil
	case "remove":
		if err := h.Members.RemoveBlacklist(ctx, growid); err != nil {
			return nil, err
		}
		return chat.Success("Blacklist", growid+" was removed from the blacklist"), nil
	}
	return nil, usageErr("expected add, remove or list")
}

// --- База ---

func (h *Handler) backup(ctx context.Context, r *request) (*chat.Embed, error) {
	path, err := h.DB.Backup(ctx, h.BackupDir)
	if err != nil {
		return nil, err
	}
	e := chat.Success("Backup created", filepath.Base(path))
	if info, err := os.Stat(path); err == nil {
		e.AddField("Size", common.FormatNumber(info.Size())+" bytes", true)
	}
	return e, nil
}

func (h *Handler) restore(ctx context.Context, r *request) (*chat.Embed, error) {
	if len(r.args) < 1 {
		names, err := sqlite.ListBackups(h.BackupDir)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return chat.Info("Backups", "No backups yet, use !backup"), nil
		}
		return chat.Info("Backups", strings.Join(names, "\n")+"\n\nUse !restore <file>"), nil
	}

	// Только имя файла из каталога бэкапов
	name := filepath.Base(r.args[0])
	if err := h.DB.Restore(ctx, filepath.Join(h.BackupDir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("бэкап %s: %w", name, common.ErrNotFound)
		}
		return nil, err
	}
	// После подмены базы кэш содержит чужие данные
	h.Service.cache.DeleteByPrefix("")
	h.refresh()
	return chat.Warning("Database restored", "Restored from "+name), nil
}

// --- Мир ---

func (h *Handler) world(ctx context.Context, r *request) (*chat.Embed, error) {
	action := "info"
	if len(r.args) > 0 {
		action = strings.ToLower(r.args[0])
	}
	switch action {
	case "add", "update":
		if len(r.args) < 4 {
			return nil, usageErr("world name, owner and bot are required")
		}
		w, err := h.Service.SetWorld(ctx, r.args[1], r.args[2], r.args[3])
		if err != nil {
			return nil, err
		}
		h.refresh()
		return worldEmbed(chat.Success("World updated", ""), w), nil
	case "info", "list":
		w, err := h.Service.GetWorld(ctx)
		if err != nil {
			return nil, err
		}
		if w.IsEmpty() {
			return chat.Info("World", "No world is set"), nil
		}
		return worldEmbed(chat.Info("World", ""), w), nil
	case "remove":
		if err := h.Service.ClearWorld(ctx); err != nil {
			return nil, err
		}
		h.refresh()
		return chat.Warning("World", "World info removed"), nil
	}
	return nil, usageErr("unknown action %q", action)
}

// WorldEmbed - карточка мира выдачи (нужна и витрине).
func WorldEmbed(w *WorldInfo) *chat.Embed {
	if w == nil || w.IsEmpty() {
		return chat.Info("World", "Delivery world is not set yet")
	}
	return worldEmbed(chat.Info("World", "Items are delivered in this world"), w)
}

func worldEmbed(e *chat.Embed, w *WorldInfo) *chat.Embed {
	e.AddField("World", w.World, true)
	e.AddField("Owner", w.Owner, true)
	e.AddField("Bot", w.Bot, true)
	return e
}

// --- Процесс и сессии ---

func (h *Handler) restart(ctx context.Context, r *request) (*chat.Embed, error) {
	if h.Restart == nil {
		return nil, usageErr("restart is not available")
	}
	// Ответ уходит до остановки
	h.reply(ctx, r.in.ChatID, chat.Warning("Restart", "Shutting down gracefully, the supervisor will start me again"))
	go func() {
		time.Sleep(time.Second)
		h.Restart()
	}()
	return nil, nil
}

func (h *Handler) login(ctx context.Context, r *request) (*chat.Embed, error) {
	if !r.in.IsPrivate {
		return nil, usageErr("use !login in a private chat with the bot")
	}
	if len(r.args) < 1 {
		return nil, usageErr("password is required")
	}
	if err := h.Service.VerifyPassword(ctx, r.in.UserID, strings.Join(r.args, " ")); err != nil {
		return nil, err
	}
	return chat.Success("Logged in", fmt.Sprintf("Admin session is active for %s", sessionTTL)), nil
}

func (h *Handler) logout(ctx context.Context, r *request) (*chat.Embed, error) {
	if err := h.Service.Logout(ctx, r.in.UserID); err != nil {
		return nil, err
	}
	return chat.Info("Logged out", "Admin session closed"), nil
}

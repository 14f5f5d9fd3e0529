package livestock

import (
	"fmt"
	"time"

	"serotonyl.ru/growstore-bot/internal/chat"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/features/stock"
)

// Заголовки сообщения витрины. По ним сообщение находится в истории канала.
const (
	StockTitle       = "🛒 Live Stock"
	MaintenanceTitle = "🛠 Store Maintenance"
)

// maxProducts - сколько товаров помещается в карточку.
const maxProducts = 25

// StockEmbed - сводка товаров с остатками.
func StockEmbed(sums []stock.Summary) *chat.Embed {
	e := &chat.Embed{
		Title:     StockTitle,
		Color:     chat.ColorBlue,
		Footer:    "Use the buttons below to register, check your balance and buy",
		Timestamp: time.Now(),
	}
	if len(sums) == 0 {
		e.Description = "No products yet"
		return e
	}

	shown := sums
	if len(shown) > maxProducts {
		shown = shown[:maxProducts]
		e.Description = fmt.Sprintf("Showing %d of %d products", maxProducts, len(sums))
	}
	for _, s := range shown {
		e.AddField(
			fmt.Sprintf("%s %s (%s)", statusEmoji(s.Available), s.Product.Name, s.Product.Code),
			fmt.Sprintf("Price: %s WL\nStock: %s", common.FormatNumber(s.Product.Price), common.FormatNumber(int64(s.Available))),
			true,
		)
	}
	return e
}

func statusEmoji(available int) string {
	switch {
	case available == 0:
		return "🔴"
	case available < 10:
		return "🟡"
	}
	return "🟢"
}

// MaintenanceEmbed - карточка режима обслуживания.
func MaintenanceEmbed() *chat.Embed {
	return &chat.Embed{
		Title:       MaintenanceTitle,
		Description: "The store is under maintenance. Purchases are paused, please come back later.",
		Color:       chat.ColorAmber,
		Timestamp:   time.Now(),
	}
}

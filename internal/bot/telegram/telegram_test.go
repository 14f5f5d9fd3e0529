package telegram

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/growstore-bot/internal/chat"
)

func TestRenderEmbed(t *testing.T) {
	e := chat.Success("Purchase <done>", "You bought 2 × Item")
	e.AddField("Total", "40 WL", true)
	e.AddField("Items", "a\nb", false)
	e.Footer = "Transaction #7"

	got := renderEmbed(e)
	assert.Equal(t,
		"🟢 <b>Purchase &lt;done&gt;</b>\nYou bought 2 × Item\n\n<b>Total</b>: 40 WL\n<b>Items</b>\na\nb\n\n<i>Transaction #7</i>",
		got)
	assert.Empty(t, renderEmbed(nil))
}

func TestRenderCodeBlock(t *testing.T) {
	parts := render(chat.Message{Embed: chat.Info("Done", ""), Code: "x<y>"})
	require.Len(t, parts, 1)
	assert.True(t, strings.HasSuffix(parts[0], "<pre>x&lt;y&gt;</pre>"))
	assert.True(t, strings.HasPrefix(parts[0], "🔵 <b>Done</b>"))
}

func TestRenderSplitsLongCode(t *testing.T) {
	lines := make([]string, 400)
	for i := range lines {
		lines[i] = strings.Repeat("z", 30)
	}
	parts := render(chat.Message{Text: "hello", Code: strings.Join(lines, "\n")})
	require.Greater(t, len(parts), 2)
	assert.Equal(t, "hello", parts[0])

	var total int
	for _, p := range parts[1:] {
		assert.LessOrEqual(t, len([]rune(p)), maxMessageRunes+16)
		total += strings.Count(p, strings.Repeat("z", 30))
	}
	assert.Equal(t, 400, total, "ни одна строка не потеряна")
}

func TestSplitLongLine(t *testing.T) {
	chunks := splitLines(strings.Repeat("a", 150), 64)
	assert.Equal(t, []string{strings.Repeat("a", 64), strings.Repeat("a", 64), strings.Repeat("a", 22)}, chunks)
	assert.Equal(t, []string{""}, splitLines("", 100))
}

func TestKeyboard(t *testing.T) {
	kb := keyboard(&chat.View{Rows: [][]chat.Button{{{Label: "Buy", Data: "live:buy"}}, {}}})
	require.Len(t, kb.InlineKeyboard, 1)
	require.NotNil(t, kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "live:buy", *kb.InlineKeyboard[0][0].CallbackData)

	// nil убирает клавиатуру, но разметка не пустая
	assert.NotNil(t, keyboard(nil).InlineKeyboard)
	assert.Empty(t, keyboard(nil).InlineKeyboard)
}

func TestIncoming(t *testing.T) {
	in, ok := Incoming(&tgbotapi.Message{
		MessageID: 5,
		Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
		From:      &tgbotapi.User{ID: 42, UserName: "buyer"},
		Caption:   "!addstock ITEM",
		Document:  &tgbotapi.Document{FileID: "f1", FileName: "stock.txt", FileSize: 10},
	})
	require.True(t, ok)
	assert.True(t, in.IsPrivate)
	assert.Equal(t, "!addstock ITEM", in.Text)
	assert.Equal(t, int64(10), in.Document.Size)

	post, ok := Incoming(&tgbotapi.Message{Chat: &tgbotapi.Chat{ID: -100, Type: "channel"}, Text: "GrowID: A"})
	require.True(t, ok)
	assert.Zero(t, post.UserID)

	_, ok = Incoming(&tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}})
	assert.False(t, ok)
}

func TestCallback(t *testing.T) {
	cb, ok := Callback(&tgbotapi.CallbackQuery{
		ID:      "q1",
		From:    &tgbotapi.User{ID: 7},
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: -100}},
		Data:    "live:balance",
	})
	require.True(t, ok)
	assert.Equal(t, chat.Callback{ID: "q1", UserID: 7, ChatID: -100, MessageID: 9, Data: "live:balance"}, cb)

	_, ok = Callback(&tgbotapi.CallbackQuery{ID: "q2"})
	assert.False(t, ok)
}

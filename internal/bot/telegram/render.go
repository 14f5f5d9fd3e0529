package telegram

import (
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"serotonyl.ru/growstore-bot/internal/chat"
)

// Лимит Telegram на текст сообщения - 4096 символов, оставляем запас под разметку.
const maxMessageRunes = 4000

var colorMarkers = map[chat.Color]string{
	chat.ColorGreen: "🟢",
	chat.ColorRed:   "🔴",
	chat.ColorAmber: "🟡",
	chat.ColorBlue:  "🔵",
}

// renderEmbed превращает карточку в HTML.
func renderEmbed(e *chat.Embed) string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	if e.Title != "" {
		if m, ok := colorMarkers[e.Color]; ok {
			sb.WriteString(m + " ")
		}
		sb.WriteString("<b>" + html.EscapeString(e.Title) + "</b>\n")
	}
	if e.Description != "" {
		sb.WriteString(html.EscapeString(e.Description) + "\n")
	}
	if len(e.Fields) > 0 {
		sb.WriteString("\n")
	}
	for _, f := range e.Fields {
		name := "<b>" + html.EscapeString(f.Name) + "</b>"
		value := html.EscapeString(f.Value)
		if strings.Contains(f.Value, "\n") {
			sb.WriteString(name + "\n" + value + "\n")
			continue
		}
		sb.WriteString(name + ": " + value + "\n")
	}
	if e.Footer != "" {
		sb.WriteString("\n<i>" + html.EscapeString(e.Footer) + "</i>\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// render собирает текст сообщения. Длинный блок кода уходит
// отдельными сообщениями, первое содержит текст и карточку.
func render(m chat.Message) []string {
	var head []string
	if m.Text != "" {
		head = append(head, html.EscapeString(m.Text))
	}
	if e := renderEmbed(m.Embed); e != "" {
		head = append(head, e)
	}
	first := strings.Join(head, "\n\n")

	if m.Code == "" {
		return []string{truncate(first)}
	}

	chunks := splitLines(m.Code, maxMessageRunes-len([]rune(first))-32)
	if len(chunks) == 1 {
		return []string{joinNonEmpty(first, pre(chunks[0]))}
	}
	// Не влезло: код отдельными сообщениями
	out := []string{truncate(first)}
	for _, c := range splitLines(m.Code, maxMessageRunes-32) {
		out = append(out, pre(c))
	}
	return out
}

func pre(s string) string {
	return "<pre>" + html.EscapeString(s) + "</pre>"
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n\n" + b
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxMessageRunes {
		return s
	}
	return string(r[:maxMessageRunes]) + "…"
}

// splitLines режет текст по строкам на куски не длиннее limit рун.
// Строку длиннее лимита режет посередине.
func splitLines(s string, limit int) []string {
	if limit < 64 {
		limit = 64
	}
	var (
		out []string
		cur []rune
	)
	for _, line := range strings.Split(s, "\n") {
		lr := []rune(line)
		for len(lr) > limit {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = nil
			}
			out = append(out, string(lr[:limit]))
			lr = lr[limit:]
		}
		if len(cur) > 0 && len(cur)+1+len(lr) > limit {
			out = append(out, string(cur))
			cur = nil
		}
		if len(cur) > 0 {
			cur = append(cur, '\n')
		}
		cur = append(cur, lr...)
	}
	if len(cur) > 0 || len(out) == 0 {
		out = append(out, string(cur))
	}
	return out
}

// keyboard - inline-клавиатура из кнопок. nil-view убирает клавиатуру.
func keyboard(v *chat.View) tgbotapi.InlineKeyboardMarkup {
	markup := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	if v == nil {
		return markup
	}
	for _, row := range v.Rows {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		if len(buttons) > 0 {
			markup.InlineKeyboard = append(markup.InlineKeyboard, buttons)
		}
	}
	return markup
}

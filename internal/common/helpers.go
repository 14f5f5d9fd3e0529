// Package common содержит общие утилиты, используемые во всём проекте:
// валидацию идентификаторов, форматирование чисел и дат.
package common

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	growidPattern      = regexp.MustCompile(`^[A-Za-z0-9_]{3,30}$`)
	productCodePattern = regexp.MustCompile(`^[A-Za-z0-9_]{2,10}$`)
)

// NormalizeGrowID обрезает пробелы и проверяет формат.
// Регистр НЕ меняется: поиск по GrowID регистрозависимый.
func NormalizeGrowID(raw string) (string, error) {
	growid := strings.TrimSpace(raw)
	if !growidPattern.MatchString(growid) {
		return "", ErrInvalidGrowid
	}
	return growid, nil
}

// NormalizeProductCode обрезает пробелы, проверяет формат и приводит к верхнему регистру.
func NormalizeProductCode(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if !productCodePattern.MatchString(code) {
		return "", ErrInvalidProductCode
	}
	return strings.ToUpper(code), nil
}

// FormatNumber форматирует число с разделителями тысяч.
// Пример: FormatNumber(2350) → "2,350"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%s,%03d", FormatNumber(n/1000), n%1000)
}

// FormatDateTime форматирует время для истории транзакций (UTC).
func FormatDateTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}

// Truncate обрезает строку до n рун и добавляет многоточие.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

package stock

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"serotonyl.ru/growstore-bot/internal/common"
)

// MaxStockFileSize - лимит загружаемого файла стока.
const MaxStockFileSize = 5 << 20

// ParseStockFile читает файл стока: UTF-8, одна единица на строку.
// Пустые строки пропускаются, пробелы по краям обрезаются.
func ParseStockFile(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxStockFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла стока: %w", err)
	}
	if len(data) > MaxStockFileSize {
		return nil, fmt.Errorf("%w: stock file is larger than 5 MB", common.ErrInvalidInput)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: stock file must be UTF-8 text", common.ErrInvalidInput)
	}
	return ParseStockLines(string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))), nil
}

// ParseStockLines разбивает текст на строки стока.
func ParseStockLines(text string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), MaxStockFileSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

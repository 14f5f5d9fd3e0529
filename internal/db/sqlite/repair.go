package sqlite

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/common"
)

// CheckIntegrity выполняет PRAGMA integrity_check.
func (d *DB) CheckIntegrity(ctx context.Context) error {
	var problems []string
	err := d.Read(ctx, func(q Querier) error {
		problems = problems[:0]
		rows, err := q.QueryContext(ctx, "PRAGMA integrity_check")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var line string
			if err := rows.Scan(&line); err != nil {
				return err
			}
			problems = append(problems, line)
		}
		return rows.Err()
	})
	if err != nil {
		// База не читается совсем - это тоже повреждение
		return fmt.Errorf("%w: %v", common.ErrIntegrity, err)
	}
	if len(problems) == 1 && problems[0] == "ok" {
		return nil
	}
	return fmt.Errorf("%w: %s", common.ErrIntegrity, strings.Join(problems, "; "))
}

// RepairReport - итог восстановления.
type RepairReport struct {
	CorruptedCopy string
	DumpFile      string
	Restored      int
	Failed        int
}

// Repair пересоздаёт базу из дампа повреждённого файла:
//  1. копирует файл в <path>.corrupted.<время>
//  2. построчно выгружает каждую таблицу в текстовый дамп (что получится)
//  3. создаёт схему заново
//  4. проигрывает INSERT-ы из дампа, неудачные только логирует
//  5. продолжает работу с тем, что удалось спасти
func (d *DB) Repair(ctx context.Context) error {
	_, err := d.RepairWithReport(ctx)
	return err
}

// RepairWithReport - Repair с отчётом для админ-команд и тестов.
func (d *DB) RepairWithReport(ctx context.Context) (*RepairReport, error) {
	var report *RepairReport
	err := d.exclusive(ctx, func(ctx context.Context) error {
		var err error
		report, err = d.repairLocked(ctx)
		return err
	})
	return report, err
}

func (d *DB) repairLocked(ctx context.Context) (*RepairReport, error) {
	ts := time.Now().UTC().Format("20060102T150405")
	report := &RepairReport{
		CorruptedCopy: d.path + ".corrupted." + ts,
		DumpFile:      d.path + ".dump." + ts + ".sql",
	}
	logger := d.logger.WithField("corrupted_copy", report.CorruptedCopy)

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			logger.WithError(err).Warn("Ошибка закрытия соединений перед восстановлением")
		}
		d.conn = nil
	}

	// 1. Копия повреждённого файла вместе с WAL
	if err := copyFile(d.path, report.CorruptedCopy); err != nil {
		return nil, fmt.Errorf("%w: не удалось скопировать повреждённый файл: %v", common.ErrFatal, err)
	}
	if _, err := os.Stat(d.path + "-wal"); err == nil {
		if err := copyFile(d.path+"-wal", report.CorruptedCopy+"-wal"); err != nil {
			logger.WithError(err).Warn("Не удалось скопировать WAL")
		}
	}

	// 2. Дамп того, что читается
	if err := dumpDatabase(ctx, report.CorruptedCopy, report.DumpFile); err != nil {
		logger.WithError(err).Error("Дамп повреждённой базы не удался, схема будет пустой")
	}

	// 3. Новая схема
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(d.path + suffix); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: не удалось удалить %s: %v", common.ErrFatal, d.path+suffix, err)
		}
	}
	conn, err := connect(ctx, d.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrFatal, err)
	}
	if err := applyMigrations(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: схема не создана: %v", common.ErrFatal, err)
	}

	// 4. Проигрываем данные
	report.Restored, report.Failed = replayDump(ctx, conn, report.DumpFile, logger)

	// 5. Продолжаем работу
	d.conn = conn
	logger.WithFields(log.Fields{
		"restored": report.Restored,
		"failed":   report.Failed,
	}).Warn("База данных восстановлена из дампа")
	return report, nil
}

// dumpDatabase выгружает все таблицы как INSERT-ы, по одному на строку файла.
func dumpDatabase(ctx context.Context, srcPath, dumpPath string) error {
	src, err := sql.Open("sqlite", "file:"+srcPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dumpPath)
	if err != nil {
		return err
	}
	defer out.Close()
	w := bufio.NewWriter(out)
	defer w.Flush()

	rows, err := src.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name <> 'schema_migrations'
	`)
	if err != nil {
		return fmt.Errorf("sqlite_master не читается: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	rows.Close()
	sort.Strings(tables)

	for _, table := range tables {
		n, err := dumpTable(ctx, src, table, w)
		entry := log.WithFields(log.Fields{"component": "sqlite", "table": table, "rows": n})
		if err != nil {
			entry.WithError(err).Error("Таблица выгружена частично")
			continue
		}
		entry.Info("Таблица выгружена")
	}
	return nil
}

func dumpTable(ctx context.Context, src *sql.DB, table string, w io.Writer) (int, error) {
	rows, err := src.QueryContext(ctx, "SELECT * FROM "+quoteIdent(table))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}
	quotedCols := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i] = quoteIdent(c)
	}
	prefix := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (", quoteIdent(table), strings.Join(quotedCols, ", "))

	n := 0
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, err
		}
		literals := make([]string, len(values))
		for i, v := range values {
			literals[i] = sqlLiteral(v)
		}
		if _, err := io.WriteString(w, prefix+strings.Join(literals, ", ")+");\n"); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

// replayDump выполняет INSERT-ы из дампа. Внешние ключи на время проигрывания выключены:
// порядок таблиц в дампе алфавитный, а не по зависимостям.
func replayDump(ctx context.Context, conn *sql.DB, dumpPath string, logger *log.Entry) (restored, failed int) {
	f, err := os.Open(dumpPath)
	if err != nil {
		logger.WithError(err).Error("Дамп не открывается, данные не восстановлены")
		return 0, 0
	}
	defer f.Close()

	c, err := conn.Conn(ctx)
	if err != nil {
		logger.WithError(err).Error("Нет соединения для проигрывания дампа")
		return 0, 0
	}
	defer c.Close()

	if _, err := c.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		logger.WithError(err).Warn("Не удалось выключить внешние ключи")
	}
	defer c.ExecContext(ctx, "PRAGMA foreign_keys = ON")

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		stmt := strings.TrimSpace(scanner.Text())
		if stmt == "" {
			continue
		}
		if _, err := c.ExecContext(ctx, stmt); err != nil {
			failed++
			logger.WithError(err).WithField("statement", common.Truncate(stmt, 120)).
				Error("Строка не восстановлена")
			continue
		}
		restored++
	}
	if err := scanner.Err(); err != nil {
		logger.WithError(err).Error("Ошибка чтения дампа")
	}
	return restored, failed
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// sqlLiteral кодирует значение так, чтобы оно помещалось в одну строку дампа.
func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case time.Time:
		return quoteLiteral(x.UTC().Format("2006-01-02 15:04:05"))
	case []byte:
		return "X'" + hex.EncodeToString(x) + "'"
	case string:
		if isPrintableLine(x) {
			return quoteLiteral(x)
		}
		return "CAST(X'" + hex.EncodeToString([]byte(x)) + "' AS TEXT)"
	}
	return quoteLiteral(fmt.Sprint(v))
}

func isPrintableLine(s string) bool {
	for _, r := range s {
		if r == '\n' || r == '\r' || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

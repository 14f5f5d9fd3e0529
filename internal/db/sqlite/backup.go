package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const backupPrefix = "store-"

// Backup делает консистентную копию базы через VACUUM INTO и возвращает путь к ней.
func (d *DB) Backup(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("не удалось создать каталог бэкапов: %w", err)
	}
	name := filepath.Join(dir, backupPrefix+time.Now().UTC().Format("20060102T150405.000")+".db")

	err := d.Read(ctx, func(q Querier) error {
		_, err := q.ExecContext(ctx, "VACUUM INTO "+quoteLiteral(name))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("ошибка бэкапа: %w", err)
	}

	d.logger.WithField("backup", name).Info("Бэкап базы создан")
	return name, nil
}

// ListBackups возвращает файлы бэкапов, новые первыми.
func ListBackups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), ".db") {
			names = append(names, e.Name())
		}
	}
	// Имя содержит время, сортировка строк = сортировка по времени
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// PruneBackups оставляет keep последних бэкапов.
func PruneBackups(dir string, keep int) (int, error) {
	names, err := ListBackups(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i, name := range names {
		if i < keep {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			log.WithError(err).WithField("backup", name).Warn("Не удалось удалить старый бэкап")
			continue
		}
		removed++
	}
	return removed, nil
}

// Restore заменяет текущую базу файлом бэкапа.
// Бэкап сначала проверяется на целостность, текущая база сохраняется
// рядом как <path>.pre-restore.<время>.
func (d *DB) Restore(ctx context.Context, backupPath string) error {
	if err := verifyFile(ctx, backupPath); err != nil {
		return err
	}

	return d.exclusive(ctx, func(ctx context.Context) error {
		if d.conn != nil {
			// Закрытие последнего соединения делает checkpoint WAL в основной файл
			if err := d.conn.Close(); err != nil {
				d.logger.WithError(err).Warn("Ошибка закрытия соединений перед восстановлением")
			}
			d.conn = nil
		}

		safety := d.path + ".pre-restore." + time.Now().UTC().Format("20060102T150405")
		if err := copyFile(d.path, safety); err != nil {
			d.logger.WithError(err).Warn("Не удалось сохранить текущую базу перед восстановлением")
		}
		for _, suffix := range []string{"-wal", "-shm"} {
			if err := os.Remove(d.path + suffix); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("не удалось удалить %s: %w", d.path+suffix, err)
			}
		}

		copyErr := copyFile(backupPath, d.path)

		// Переоткрываемся в любом случае, иначе бот останется без базы
		conn, err := connect(ctx, d.path)
		if err != nil {
			return fmt.Errorf("не удалось открыть базу после восстановления: %w", err)
		}
		if err := applyMigrations(ctx, conn); err != nil {
			conn.Close()
			return fmt.Errorf("ошибка миграций после восстановления: %w", err)
		}
		d.conn = conn

		if copyErr != nil {
			return fmt.Errorf("не удалось скопировать бэкап: %w", copyErr)
		}
		d.logger.WithFields(log.Fields{"backup": backupPath, "previous": safety}).Warn("База восстановлена из бэкапа")
		return nil
	})
}

func verifyFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("бэкап недоступен: %w", err)
	}
	conn, err := connect(ctx, path)
	if err != nil {
		return err
	}
	check := newDB(conn, path, DefaultRetry)
	defer check.Close()
	return check.CheckIntegrity(ctx)
}

// Package sqlite управляет встроенной базой данных SQLite.
//
// Вся запись идёт через одну горутину-писателя: Write отправляет функцию
// по каналу и ждёт результат. Чтение выполняется параллельно через пул
// database/sql с короткими повторами на SQLITE_BUSY.
//
// Соединения настраиваются так:
//   - busy_timeout 5 секунд
//   - журнал WAL
//   - synchronous NORMAL
//   - внешние ключи включены
//   - транзакции записи начинаются с BEGIN IMMEDIATE
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // драйвер "sqlite"
)

// ErrClosed - база уже закрыта.
var ErrClosed = errors.New("база данных закрыта")

// Querier - общий интерфейс *sql.DB и *sql.Tx для репозиториев.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RetryPolicy задаёт повторы при SQLITE_BUSY.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration // первая пауза, дальше удваивается
}

// DefaultRetry - до 3 попыток, 50мс → 100мс.
var DefaultRetry = RetryPolicy{Attempts: 3, Backoff: 50 * time.Millisecond}

// DB - шлюз к базе данных.
type DB struct {
	path  string
	retry RetryPolicy

	// mu защищает conn: чтения держат RLock, подмена файла (repair/restore) - Lock
	mu   sync.RWMutex
	conn *sql.DB

	writes    chan writeRequest
	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	logger *log.Entry
}

type writeRequest struct {
	ctx context.Context
	// tx выполняется внутри транзакции
	tx func(*sql.Tx) error
	// exclusive выполняется без транзакции с эксклюзивным доступом к соединению
	exclusive func(ctx context.Context) error
	result    chan error
}

// Open открывает (или создаёт) файл базы, проверяет целостность,
// при необходимости чинит её и применяет схему.
func Open(ctx context.Context, path string) (*DB, error) {
	d, err := open(ctx, path, DefaultRetry)
	if err != nil {
		return nil, err
	}

	if err := d.CheckIntegrity(ctx); err != nil {
		d.logger.WithError(err).Error("Проверка целостности не пройдена, запускаем восстановление")
		if rerr := d.Repair(ctx); rerr != nil {
			d.Close()
			return nil, fmt.Errorf("восстановление базы не удалось: %w", rerr)
		}
	}

	if err := d.Migrate(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	d.logger.Info("База данных готова")
	return d, nil
}

func open(ctx context.Context, path string, retry RetryPolicy) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("не удалось создать каталог базы %s: %w", dir, err)
		}
	}

	conn, err := connect(ctx, path)
	if err != nil {
		return nil, err
	}

	d := newDB(conn, path, retry)
	return d, nil
}

// newDB оборачивает готовое соединение и запускает писателя.
func newDB(conn *sql.DB, path string, retry RetryPolicy) *DB {
	d := &DB{
		path:    path,
		retry:   retry,
		conn:    conn,
		writes:  make(chan writeRequest),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  log.WithFields(log.Fields{"component": "sqlite", "path": path}),
	}
	go d.writer()
	return d
}

func connect(ctx context.Context, path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия %s: %w", path, err)
	}
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("база данных недоступна: %w", err)
	}
	return conn, nil
}

// DSN собирает строку подключения с прагмами.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Path - путь к файлу базы.
func (d *DB) Path() string { return d.path }

// Close останавливает писателя и закрывает соединения.
func (d *DB) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.stop)
		<-d.stopped

		d.mu.Lock()
		defer d.mu.Unlock()
		if d.conn != nil {
			err = d.conn.Close()
			d.conn = nil
		}
		d.logger.Info("База данных закрыта")
	})
	return err
}

// Ping проверяет доступность базы.
func (d *DB) Ping(ctx context.Context) error {
	return d.Read(ctx, func(q Querier) error {
		var one int
		return q.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	})
}

// Read выполняет fn на пуле соединений, повторяя при SQLITE_BUSY.
func (d *DB) Read(ctx context.Context, fn func(q Querier) error) error {
	return d.withRetry(ctx, func() error {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.conn == nil {
			return ErrClosed
		}
		return fn(d.conn)
	})
}

// Write выполняет fn в транзакции на горутине-писателе.
// fn не должен вызывать Write (дедлок) и не должен иметь внешних
// побочных эффектов: при SQLITE_BUSY транзакция откатывается и повторяется.
func (d *DB) Write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return d.submit(ctx, writeRequest{ctx: ctx, tx: fn})
}

// exclusive выполняет fn на писателе, когда никто не читает.
func (d *DB) exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	return d.submit(ctx, writeRequest{ctx: ctx, exclusive: fn})
}

func (d *DB) submit(ctx context.Context, req writeRequest) error {
	req.result = make(chan error, 1)
	select {
	case d.writes <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stop:
		return ErrClosed
	}
	// Писатель всегда отвечает на принятый запрос.
	return <-req.result
}

// writer - единственная горутина, которая пишет в базу.
func (d *DB) writer() {
	defer close(d.stopped)
	for {
		select {
		case <-d.stop:
			return
		case req := <-d.writes:
			req.result <- d.execWrite(req)
		}
	}
}

func (d *DB) execWrite(req writeRequest) error {
	// Запрос отменили, пока он ждал очереди
	if err := req.ctx.Err(); err != nil {
		return err
	}

	if req.exclusive != nil {
		d.mu.Lock()
		defer d.mu.Unlock()
		return req.exclusive(req.ctx)
	}

	return d.withRetry(req.ctx, func() error {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.conn == nil {
			return ErrClosed
		}
		return runTx(req.ctx, d.conn, req.tx)
	})
}

func runTx(ctx context.Context, conn *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	// Откатываем транзакцию, если что-то пошло не так
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

func (d *DB) withRetry(ctx context.Context, fn func() error) error {
	attempts := d.retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := d.retry.Backoff

	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !IsBusy(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		d.logger.WithFields(log.Fields{"attempt": i + 1, "backoff": backoff}).
			WithError(err).Debug("База занята, повторяем")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("база занята после %d попыток: %w", attempts, errors.Join(ErrBusy, err))
}

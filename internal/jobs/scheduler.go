// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: перерисовка витрины, чистка кэша,
// блокировок и диалогов, ночной бэкап базы.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron *cron.Cron

	mu    sync.RWMutex
	ctx   context.Context
	names []string
}

// NewScheduler создаёт планировщик с московским часовым поясом.
// Задача, которая ещё выполняется, следующий запуск пропускает.
func NewScheduler() *Scheduler {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		log.WithError(err).Warn("Не удалось загрузить Europe/Moscow, используем UTC+3")
		loc = time.FixedZone("MSK", 3*60*60)
	}

	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	return &Scheduler{cron: c, ctx: context.Background()}
}

// Add регистрирует задачу по расписанию в формате cron ("@every 1m", "0 4 * * *").
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context) error) error {
	if _, err := s.cron.AddFunc(spec, s.job(name, fn)); err != nil {
		return fmt.Errorf("задача %s: некорректное расписание %q: %w", name, spec, err)
	}
	s.mu.Lock()
	s.names = append(s.names, name)
	s.mu.Unlock()
	return nil
}

// Every - Add с интервалом.
func (s *Scheduler) Every(name string, every time.Duration, fn func(ctx context.Context) error) error {
	return s.Add(name, "@every "+every.String(), fn)
}

func (s *Scheduler) job(name string, fn func(ctx context.Context) error) func() {
	return func() {
		s.mu.RLock()
		ctx := s.ctx
		s.mu.RUnlock()
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		logger := log.WithFields(log.Fields{"component": "cron", "job": name})
		if err := fn(ctx); err != nil {
			logger.WithError(err).Error("[CRON] Задача завершилась с ошибкой")
			return
		}
		logger.WithField("took", time.Since(start).Round(time.Millisecond)).Debug("[CRON] Задача выполнена")
	}
}

// Jobs - имена зарегистрированных задач.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.names...)
}

// Start запускает все фоновые задачи. ctx передаётся в каждую задачу.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	log.WithField("jobs", s.Jobs()).Info("Планировщик задач запущен (Europe/Moscow)")
}

// Stop останавливает планировщик и ждёт задачи, которые уже идут.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

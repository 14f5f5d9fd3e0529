// Package loader запускает модули магазина по стадиям.
// Модули одной стадии стартуют параллельно, следующая стадия ждёт,
// пока все модули предыдущей доложат о готовности.
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Module - одна единица запуска. ctx в Init живёт только до конца стадии:
// фоновые горутины модуля должны брать контекст процесса.
type Module struct {
	Name string
	Init func(ctx context.Context) error
}

// Loader хранит стадии и список готовых модулей.
type Loader struct {
	stages [][]Module

	mu    sync.Mutex
	ready []string
}

func New() *Loader {
	return &Loader{}
}

// Stage добавляет стадию. Пустые стадии игнорируются.
func (l *Loader) Stage(mods ...Module) *Loader {
	if len(mods) > 0 {
		l.stages = append(l.stages, mods)
	}
	return l
}

// Run проходит стадии по порядку и останавливается на первой неудачной.
// Модули следующих стадий в этом случае не запускаются.
func (l *Loader) Run(ctx context.Context) error {
	for i, stage := range l.stages {
		g, gctx := errgroup.WithContext(ctx)
		for _, m := range stage {
			g.Go(func() error {
				start := time.Now()
				if err := m.Init(gctx); err != nil {
					return fmt.Errorf("модуль %s: %w", m.Name, err)
				}
				l.markReady(m.Name)
				log.WithFields(log.Fields{
					"component": "loader",
					"module":    m.Name,
					"stage":     i + 1,
					"took":      time.Since(start).Round(time.Millisecond),
				}).Info("Модуль готов")
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			log.WithError(err).WithField("stage", i+1).Error("Запуск остановлен")
			return fmt.Errorf("стадия %d: %w", i+1, err)
		}
	}
	return nil
}

func (l *Loader) markReady(name string) {
	l.mu.Lock()
	l.ready = append(l.ready, name)
	l.mu.Unlock()
}

// Ready - модули, успевшие запуститься, в порядке готовности.
func (l *Loader) Ready() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ready...)
}

package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trace struct {
	mu    sync.Mutex
	order []string
}

func (t *trace) module(name string) Module {
	return Module{Name: name, Init: func(context.Context) error {
		t.mu.Lock()
		t.order = append(t.order, name)
		t.mu.Unlock()
		return nil
	}}
}

func (t *trace) index(name string) int {
	for i, n := range t.order {
		if n == name {
			return i
		}
	}
	return -1
}

func TestStagesRunInOrder(t *testing.T) {
	tr := &trace{}
	l := New().
		Stage(tr.module("database")).
		Stage(tr.module("members"), tr.module("stock")).
		Stage(tr.module("admin")).
		Stage(tr.module("purchase")).
		Stage(tr.module("livestock")).
		Stage(tr.module("storefront"), tr.module("donation"))

	require.NoError(t, l.Run(context.Background()))
	require.Len(t, tr.order, 7)

	assert.Equal(t, 0, tr.index("database"))
	assert.Less(t, tr.index("members"), tr.index("admin"))
	assert.Less(t, tr.index("stock"), tr.index("admin"))
	assert.Less(t, tr.index("admin"), tr.index("purchase"))
	assert.Less(t, tr.index("purchase"), tr.index("livestock"))
	assert.Less(t, tr.index("livestock"), tr.index("storefront"))
	assert.Less(t, tr.index("livestock"), tr.index("donation"))
	assert.ElementsMatch(t, tr.order, l.Ready())
}

func TestStageMembersRunInParallel(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	both := make(chan struct{})
	go func() {
		started.Wait()
		close(both)
	}()

	// Каждый модуль ждёт, пока стартует второй: последовательный запуск зависнет
	wait := func(context.Context) error {
		started.Done()
		select {
		case <-both:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("модули стадии запущены последовательно")
		}
	}

	l := New().Stage(Module{Name: "a", Init: wait}, Module{Name: "b", Init: wait})
	require.NoError(t, l.Run(context.Background()))
}

func TestStopsAtFirstFailingStage(t *testing.T) {
	boom := errors.New("нет соединения")
	var later atomic.Bool

	l := New().
		Stage(Module{Name: "database", Init: func(context.Context) error { return nil }}).
		Stage(Module{Name: "stock", Init: func(context.Context) error { return boom }}).
		Stage(Module{Name: "purchase", Init: func(context.Context) error {
			later.Store(true)
			return nil
		}})

	err := l.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "стадия 2")
	assert.Contains(t, err.Error(), "stock")
	assert.False(t, later.Load())
	assert.Equal(t, []string{"database"}, l.Ready())
}

func TestFailureCancelsSiblings(t *testing.T) {
	boom := errors.New("сломалось")
	cancelled := make(chan struct{})

	l := New().Stage(
		Module{Name: "bad", Init: func(context.Context) error { return boom }},
		Module{Name: "slow", Init: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				close(cancelled)
				return ctx.Err()
			case <-time.After(2 * time.Second):
				return nil
			}
		}},
	)

	require.ErrorIs(t, l.Run(context.Background()), boom)
	select {
	case <-cancelled:
	default:
		t.Fatal("соседний модуль не получил отмену")
	}
}

func TestEmptyLoader(t *testing.T) {
	l := New().Stage()
	assert.NoError(t, l.Run(context.Background()))
	assert.Empty(t, l.Ready())
}

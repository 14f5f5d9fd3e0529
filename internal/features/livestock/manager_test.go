package livestock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/growstore-bot/internal/chat"
	"serotonyl.ru/growstore-bot/internal/chat/chattest"
	"serotonyl.ru/growstore-bot/internal/features/stock"
)

const liveChat int64 = -1002

type fakeCatalog struct {
	mu    sync.Mutex
	sums  []stock.Summary
	err   error
	calls atomic.Int32
	block chan struct{}
	seen  atomic.Int64
}

func (f *fakeCatalog) Summaries(context.Context) ([]stock.Summary, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sums) > 0 {
		f.seen.Store(int64(f.sums[0].Available))
	}
	return f.sums, f.err
}

func (f *fakeCatalog) setAvailable(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sums = []stock.Summary{{Product: stock.Product{Code: "ITEM", Name: "Item", Price: 20}, Available: n}}
}

type fakeMaintenance struct{ on atomic.Bool }

func (f *fakeMaintenance) IsMaintenanceMode(context.Context) (bool, error) { return f.on.Load(), nil }

type memSettings struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *memSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memSettings) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

type fakeViews struct {
	failFirst int
	calls     atomic.Int32
	mu        sync.Mutex
	statuses  []bool
}

func (f *fakeViews) CreateView(context.Context) (*chat.View, error) {
	n := int(f.calls.Add(1))
	if n <= f.failFirst {
		return nil, nil
	}
	return &chat.View{Rows: [][]chat.Button{{{Label: "Buy", Data: "live:buy"}}}}, nil
}

func (f *fakeViews) OnStatusChange(healthy bool, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, healthy)
}

type fixture struct {
	m        *Manager
	chat     *chattest.Messenger
	catalog  *fakeCatalog
	maint    *fakeMaintenance
	settings *memSettings
	views    *fakeViews
}

func newFixture(views *fakeViews) *fixture {
	f := &fixture{
		chat: chattest.New(),
		catalog: &fakeCatalog{sums: []stock.Summary{
			{Product: stock.Product{Code: "ITEM", Name: "Item", Price: 20}, Available: 3},
			{Product: stock.Product{Code: "NONE", Name: "Empty", Price: 5}, Available: 0},
		}},
		maint:    &fakeMaintenance{},
		settings: &memSettings{data: map[string]string{}},
		views:    views,
	}
	var vf ViewFactory
	if views != nil {
		vf = views
	}
	f.m = NewManager(f.chat, liveChat, f.catalog, f.maint, f.settings, vf)
	f.m.viewDelay = time.Millisecond
	return f
}

func TestRefreshPostsThenEdits(t *testing.T) {
	f := newFixture(&fakeViews{})
	ctx := context.Background()

	require.NoError(t, f.m.Refresh(ctx))
	id := f.m.MessageID()
	require.NotZero(t, id)
	stored, _, _ := f.settings.GetSetting(ctx, SettingMessageID)
	assert.Equal(t, fmt.Sprint(id), stored)

	msg, ok := f.chat.Message(id)
	require.True(t, ok)
	assert.Equal(t, StockTitle, msg.Embed.Title)
	assert.Len(t, msg.Embed.Fields, 2)
	assert.Contains(t, msg.Embed.Fields[1].Name, "🔴")
	assert.NotNil(t, msg.View)

	require.NoError(t, f.m.Refresh(ctx))
	assert.Equal(t, id, f.m.MessageID())
	sent := f.chat.SentTo(liveChat)
	require.Len(t, sent, 2)
	assert.True(t, sent[1].Edited)
}

func TestMaintenanceRemovesControls(t *testing.T) {
	f := newFixture(&fakeViews{})
	ctx := context.Background()
	require.NoError(t, f.m.Refresh(ctx))

	f.maint.on.Store(true)
	require.NoError(t, f.m.Refresh(ctx))

	msg, _ := f.chat.Message(f.m.MessageID())
	assert.Equal(t, MaintenanceTitle, msg.Embed.Title)
	assert.Nil(t, msg.View)
	assert.Equal(t, chat.ColorAmber, msg.Embed.Color)
}

func TestNilViewKeepsOldMessage(t *testing.T) {
	f := newFixture(&fakeViews{failFirst: 100})
	ctx := context.Background()

	err := f.m.Refresh(ctx)
	require.ErrorIs(t, err, ErrNoView)
	assert.Equal(t, int32(viewAttempts), f.views.calls.Load())
	assert.Empty(t, f.chat.SentTo(liveChat), "без кнопок витрина не публикуется")

	st := f.m.Status()
	assert.False(t, st.Healthy)
	assert.Equal(t, 1, st.ErrorCount)
	assert.NotEmpty(t, st.LastError)
}

func TestViewRetriedThenRecovered(t *testing.T) {
	f := newFixture(&fakeViews{failFirst: 2})
	ctx := context.Background()

	require.NoError(t, f.m.Refresh(ctx))
	assert.Equal(t, int32(3), f.views.calls.Load())
	assert.True(t, f.m.Status().Healthy)
}

func TestStatusChangeNotifications(t *testing.T) {
	views := &fakeViews{failFirst: 3}
	f := newFixture(views)
	ctx := context.Background()

	assert.Error(t, f.m.Refresh(ctx))
	assert.NoError(t, f.m.Refresh(ctx))

	views.mu.Lock()
	defer views.mu.Unlock()
	assert.Equal(t, []bool{false, true}, views.statuses)
}

func TestNoFactoryRendersWithoutControls(t *testing.T) {
	f := newFixture(nil)
	require.NoError(t, f.m.Refresh(context.Background()))
	msg, _ := f.chat.Message(f.m.MessageID())
	assert.Nil(t, msg.View)
	assert.Equal(t, StockTitle, msg.Embed.Title)
}

func TestDeletedMessageIsReposted(t *testing.T) {
	f := newFixture(&fakeViews{})
	ctx := context.Background()
	require.NoError(t, f.m.Refresh(ctx))
	old := f.m.MessageID()

	f.chat.Forget(old)
	require.NoError(t, f.m.Refresh(ctx))
	assert.NotEqual(t, old, f.m.MessageID())
}

func TestEditErrorIsRecorded(t *testing.T) {
	f := newFixture(&fakeViews{})
	ctx := context.Background()
	require.NoError(t, f.m.Refresh(ctx))

	f.chat.EditErr = errors.New("flood wait")
	assert.Error(t, f.m.Refresh(ctx))
	assert.Equal(t, 1, f.m.Status().ErrorCount)
}

func TestRestoreFromSettings(t *testing.T) {
	f := newFixture(&fakeViews{})
	ctx := context.Background()
	f.chat.Seed(555, chat.Message{Embed: StockEmbed(nil)})
	require.NoError(t, f.settings.SetSetting(ctx, SettingMessageID, "555"))

	require.NoError(t, f.m.Restore(ctx))
	assert.Equal(t, 555, f.m.MessageID())

	require.NoError(t, f.m.Refresh(ctx))
	assert.Equal(t, 555, f.m.MessageID(), "после рестарта редактируется старое сообщение")
}

func TestRestoreFromHistory(t *testing.T) {
	f := newFixture(&fakeViews{})
	ctx := context.Background()
	f.chat.History = []chat.HistoryMessage{
		{ID: 10, AuthorID: 777, Title: StockTitle},
		{ID: 9, AuthorID: f.chat.Self, Title: "something else"},
		{ID: 8, AuthorID: f.chat.Self, Title: StockTitle},
	}

	require.NoError(t, f.m.Restore(ctx))
	assert.Equal(t, 8, f.m.MessageID())
	stored, found, _ := f.settings.GetSetting(ctx, SettingMessageID)
	assert.True(t, found)
	assert.Equal(t, "8", stored)
}

func TestTickSkippedWhileRunning(t *testing.T) {
	f := newFixture(nil)
	f.catalog.block = make(chan struct{})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		f.m.Tick(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return f.catalog.calls.Load() == 1 }, time.Second, time.Millisecond)

	// Второй тик во время первого пропускается
	f.m.Tick(ctx)
	assert.Equal(t, int32(1), f.catalog.calls.Load())

	close(f.catalog.block)
	<-done
}

func TestRequestRefreshCoalesces(t *testing.T) {
	f := newFixture(nil)
	f.catalog.block = make(chan struct{})
	require.NoError(t, f.m.Init(context.Background()))

	f.m.RequestRefresh()
	require.Eventually(t, func() bool { return f.catalog.calls.Load() == 1 }, time.Second, time.Millisecond)
	for i := 0; i < 5; i++ {
		f.m.RequestRefresh()
	}
	close(f.catalog.block)

	// Пять запросов во время перерисовки дают одну повторную
	require.Eventually(t, func() bool { return !f.m.running.Load() && f.catalog.calls.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), f.catalog.calls.Load())
}

func TestRequestRefreshNeverLosesLastRequest(t *testing.T) {
	f := newFixture(nil)
	require.NoError(t, f.m.Init(context.Background()))

	// Запрос, пришедший в момент выхода цикла, должен дать ещё одну перерисовку
	const rounds = 500
	for i := 1; i <= rounds; i++ {
		f.catalog.setAvailable(i)
		f.m.RequestRefresh()
	}

	require.Eventually(t, func() bool {
		return !f.m.running.Load() && f.catalog.seen.Load() == rounds
	}, 2*time.Second, time.Millisecond)
}

func TestRequestRefreshFromManyGoroutines(t *testing.T) {
	f := newFixture(nil)
	require.NoError(t, f.m.Init(context.Background()))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				f.m.RequestRefresh()
			}
		}()
	}
	wg.Wait()

	f.catalog.setAvailable(7)
	f.m.RequestRefresh()
	require.Eventually(t, func() bool {
		return !f.m.running.Load() && f.catalog.seen.Load() == 7
	}, 2*time.Second, time.Millisecond)
}

func TestStockEmbedLimit(t *testing.T) {
	sums := make([]stock.Summary, 30)
	for i := range sums {
		sums[i] = stock.Summary{Product: stock.Product{Code: fmt.Sprintf("P%02d", i), Name: "x"}, Available: i}
	}
	e := StockEmbed(sums)
	assert.Len(t, e.Fields, maxProducts)
	assert.Contains(t, e.Description, "25 of 30")
	assert.Contains(t, e.Fields[0].Name, "🔴")
	assert.Contains(t, e.Fields[5].Name, "🟡")
	assert.Contains(t, e.Fields[20].Name, "🟢")
}

package filters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/chat"
	"serotonyl.ru/growstore-bot/internal/chat/chattest"
)

const (
	guild     int64 = -1001
	adminChat int64 = -1002
)

func TestCheckAccess(t *testing.T) {
	ctx := context.Background()
	m := chattest.New()
	m.AddMember(guild, 10)
	f := NewChatFilter(guild, []int64{adminChat, 0}, m, m, cache.New())

	assert.True(t, f.CheckAccess(ctx, chat.Incoming{ChatID: guild, UserID: 5}))
	assert.True(t, f.CheckAccess(ctx, chat.Incoming{ChatID: adminChat, UserID: 5}))
	assert.False(t, f.CheckAccess(ctx, chat.Incoming{ChatID: -7777, UserID: 5}), "чужая группа")
	assert.False(t, f.CheckAccess(ctx, chat.Incoming{ChatID: guild, UserID: 6, IsBot: true}))

	assert.True(t, f.CheckAccess(ctx, chat.Incoming{ChatID: 10, UserID: 10, IsPrivate: true}))
	assert.Empty(t, m.SentTo(10))

	assert.False(t, f.CheckAccess(ctx, chat.Incoming{ChatID: 11, UserID: 11, IsPrivate: true}))
	last, ok := m.Last(11)
	assert.True(t, ok)
	assert.Equal(t, "Access denied", last.Message.Embed.Title)
}

func TestMembershipIsCached(t *testing.T) {
	ctx := context.Background()
	m := chattest.New()
	m.AddMember(guild, 10)
	f := NewChatFilter(guild, nil, m, m, cache.New())

	in := chat.Incoming{ChatID: 10, UserID: 10, IsPrivate: true}
	assert.True(t, f.CheckAccess(ctx, in))

	// Вышел из чата, но результат ещё в кэше
	m.Members[guild][10] = false
	assert.True(t, f.CheckAccess(ctx, in))
}

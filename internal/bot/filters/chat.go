// Package filters решает, с какими чатами бот вообще разговаривает.
package filters

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/chat"
)

// memberTTL - сколько помним результат проверки участия в основном чате.
const memberTTL = 10 * time.Minute

// ChatFilter пропускает служебные чаты магазина и личку участников основного чата.
type ChatFilter struct {
	guildID   int64
	allowed   map[int64]bool
	members   chat.MemberChecker
	messenger chat.Messenger
	cache     *cache.Cache
}

// NewChatFilter создаёт фильтр. allowed - чаты, где команды принимаются от всех
// (основной чат, админ-чат, каналы витрины и журналов).
func NewChatFilter(guildID int64, allowed []int64, members chat.MemberChecker, messenger chat.Messenger, c *cache.Cache) *ChatFilter {
	f := &ChatFilter{
		guildID:   guildID,
		allowed:   make(map[int64]bool),
		members:   members,
		messenger: messenger,
		cache:     c,
	}
	for _, id := range append(allowed, guildID) {
		if id != 0 {
			f.allowed[id] = true
		}
	}
	return f
}

func (f *ChatFilter) CheckAccess(ctx context.Context, in chat.Incoming) bool {
	logger := log.WithFields(log.Fields{
		"component": "ChatFilter",
		"chat_id":   in.ChatID,
		"user_id":   in.UserID,
		"guild_id":  f.guildID,
	})

	if in.IsBot {
		logger.Debug("deny: bot author")
		return false
	}

	// 1) Разрешённые чаты
	if f.allowed[in.ChatID] {
		logger.Debug("allow: store chat")
		return true
	}

	// 2) Личка: только участники основного чата
	if in.IsPrivate {
		if in.UserID == 0 {
			logger.Warn("deny: private message without author")
			return false
		}
		isMember, err := cache.GetOrLoad(ctx, f.cache, cache.MemberKey(f.guildID, in.UserID), memberTTL,
			func(ctx context.Context) (bool, error) {
				return f.members.IsChatMember(ctx, f.guildID, in.UserID)
			})
		if err != nil {
			logger.WithError(err).Error("member check failed (telegram GetChatMember)")
			return false
		}
		if isMember {
			logger.Debug("allow: private (guild member)")
			return true
		}

		logger.Info("deny: private (not a guild member)")
		msg := chat.Message{Embed: chat.Failure("Access denied", "The bot only works for members of the store chat")}
		if _, err := f.messenger.Send(ctx, in.ChatID, msg); err != nil {
			logger.WithError(err).Warn("failed to send deny message")
		}
		return false
	}

	// 3) Остальные чаты игнорируем
	logger.Info("deny: not a store chat and not private")
	return false
}

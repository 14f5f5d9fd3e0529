package admin

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/chat/chattest"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/config"
	"serotonyl.ru/growstore-bot/internal/db/sqlite"
)

const (
	ownerID    int64 = 42
	roleChatID int64 = -900
	roleUserID int64 = 7
	strangerID int64 = 99
)

const testPassword = "correct horse"

func newTestService(t *testing.T, passwordHash string) (*Service, *chattest.Messenger) {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m := chattest.New()
	m.AddMember(roleChatID, roleUserID)

	cfg := &config.Config{
		AdminID: ownerID,
		Roles:   map[string]int64{"admin": roleChatID},
		Env:     config.Env{AdminPasswordHash: passwordHash},
	}
	return NewService(db, NewRepository(), cache.New(), cfg, m), m
}

func TestMaintenanceMode(t *testing.T) {
	s, _ := newTestService(t, "")
	ctx := context.Background()

	on, err := s.IsMaintenanceMode(ctx)
	require.NoError(t, err)
	assert.False(t, on)

	var notified atomic.Int32
	s.OnMaintenanceChange(func(on bool) {
		if on {
			notified.Add(1)
		}
	})

	require.NoError(t, s.SetMaintenanceMode(ctx, true, ownerID))
	on, err = s.IsMaintenanceMode(ctx)
	require.NoError(t, err)
	assert.True(t, on, "кэш должен сбрасываться при записи")
	assert.Equal(t, int32(1), notified.Load())

	require.NoError(t, s.SetMaintenanceMode(ctx, false, ownerID))
	on, err = s.IsMaintenanceMode(ctx)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestMaintenanceStoredAsOnOff(t *testing.T) {
	s, _ := newTestService(t, "")
	ctx := context.Background()

	require.NoError(t, s.SetMaintenanceMode(ctx, true, ownerID))
	v, _, err := s.GetSetting(ctx, SettingMaintenanceMode)
	require.NoError(t, err)
	assert.Equal(t, "on", v)

	require.NoError(t, s.SetMaintenanceMode(ctx, false, ownerID))
	v, _, err = s.GetSetting(ctx, SettingMaintenanceMode)
	require.NoError(t, err)
	assert.Equal(t, "off", v)
}

func TestMaintenanceReadsSeededValue(t *testing.T) {
	cases := map[string]bool{"on": true, "ON": true, "off": false, "true": true, "false": false, "": false}
	for stored, want := range cases {
		t.Run(stored, func(t *testing.T) {
			s, _ := newTestService(t, "")
			ctx := context.Background()
			require.NoError(t, s.SetSetting(ctx, SettingMaintenanceMode, stored))

			on, err := s.IsMaintenanceMode(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, on)
		})
	}
}

const settingTestKey = "live_stock_message_id"

func TestSettings(t *testing.T) {
	s, _ := newTestService(t, "")
	ctx := context.Background()

	_, found, err := s.GetSetting(ctx, settingTestKey)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetSetting(ctx, settingTestKey, "123"))
	require.NoError(t, s.SetSetting(ctx, settingTestKey, "456"))
	v, found, err := s.GetSetting(ctx, settingTestKey)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "456", v)
}

func TestWorld(t *testing.T) {
	s, _ := newTestService(t, "")
	ctx := context.Background()

	w, err := s.GetWorld(ctx)
	require.NoError(t, err)
	assert.True(t, w.IsEmpty())

	w, err = s.SetWorld(ctx, " BUYWORLD ", "Owner1", "Bot1")
	require.NoError(t, err)
	assert.Equal(t, "BUYWORLD", w.World)
	assert.Equal(t, "Bot1", w.Bot)

	_, err = s.SetWorld(ctx, "", "a", "b")
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	require.NoError(t, s.ClearWorld(ctx))
	w, err = s.GetWorld(ctx)
	require.NoError(t, err)
	assert.True(t, w.IsEmpty())
}

func TestCheckPermission(t *testing.T) {
	s, _ := newTestService(t, "")
	ctx := context.Background()

	cases := []struct {
		name  string
		user  int64
		level Level
		want  bool
	}{
		{"everyone views", strangerID, LevelView, true},
		{"everyone buys", strangerID, LevelPurchase, true},
		{"stranger no stock", strangerID, LevelStock, false},
		{"stranger no admin", strangerID, LevelAdmin, false},
		{"owner admin", ownerID, LevelAdmin, true},
		{"owner owner", ownerID, LevelOwner, true},
		{"role stock", roleUserID, LevelStock, true},
		{"role admin", roleUserID, LevelAdmin, true},
		{"role not owner", roleUserID, LevelOwner, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.CheckPermission(ctx, tc.user, tc.level))
		})
	}
}

func TestPermits(t *testing.T) {
	assert.True(t, permits("all", LevelOwner))
	assert.True(t, permits("STOCK, admin", LevelAdmin))
	assert.False(t, permits("STOCK", LevelAdmin))
	assert.False(t, permits("", LevelStock))
}

func TestSessionsDisabledWithoutHash(t *testing.T) {
	s, _ := newTestService(t, "")
	ctx := context.Background()

	assert.False(t, s.SessionsEnabled())
	assert.NoError(t, s.RequireSession(ctx, ownerID))
	assert.ErrorIs(t, s.VerifyPassword(ctx, ownerID, "x"), common.ErrForbidden)
}

func TestLoginFlow(t *testing.T) {
	hash, err := HashPassword(testPassword)
	require.NoError(t, err)
	s, _ := newTestService(t, hash)
	ctx := context.Background()

	assert.ErrorIs(t, s.RequireSession(ctx, ownerID), common.ErrSessionRequired)

	assert.ErrorIs(t, s.VerifyPassword(ctx, ownerID, "wrong"), common.ErrWrongPassword)
	assert.False(t, s.HasActiveSession(ctx, ownerID))

	require.NoError(t, s.VerifyPassword(ctx, ownerID, testPassword))
	assert.True(t, s.HasActiveSession(ctx, ownerID))
	assert.NoError(t, s.RequireSession(ctx, ownerID))

	require.NoError(t, s.Logout(ctx, ownerID))
	assert.False(t, s.HasActiveSession(ctx, ownerID))
}

func TestLoginLockout(t *testing.T) {
	hash, err := HashPassword(testPassword)
	require.NoError(t, err)
	s, _ := newTestService(t, hash)
	ctx := context.Background()

	for i := 0; i < maxLoginAttempts; i++ {
		assert.ErrorIs(t, s.VerifyPassword(ctx, ownerID, "wrong"), common.ErrWrongPassword)
	}
	// Даже верный пароль не принимается до конца окна
	assert.ErrorIs(t, s.VerifyPassword(ctx, ownerID, testPassword), common.ErrTooManyAttempts)

	s.now = func() time.Time { return time.Now().Add(attemptWindow + time.Minute) }
	assert.NoError(t, s.VerifyPassword(ctx, ownerID, testPassword))
}

func TestExpireSessions(t *testing.T) {
	hash, err := HashPassword(testPassword)
	require.NoError(t, err)
	s, _ := newTestService(t, hash)
	ctx := context.Background()

	require.NoError(t, s.VerifyPassword(ctx, ownerID, testPassword))

	n, err := s.ExpireSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	s.now = func() time.Time { return time.Now().Add(sessionTTL + time.Minute) }
	assert.False(t, s.HasActiveSession(ctx, ownerID))
	n, err = s.ExpireSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestVerifyArgon2id(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)
	assert.True(t, verifyArgon2id("secret", hash))
	assert.False(t, verifyArgon2id("Secret", hash))
	assert.False(t, verifyArgon2id("secret", "not-a-hash"))
	assert.NotEqual(t, generateSecureToken(), generateSecureToken())
}

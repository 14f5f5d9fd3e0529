package admin

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/chat"
	"serotonyl.ru/growstore-bot/internal/chat/chattest"
	"serotonyl.ru/growstore-bot/internal/config"
	"serotonyl.ru/growstore-bot/internal/db/sqlite"
	"serotonyl.ru/growstore-bot/internal/features/ledger"
	"serotonyl.ru/growstore-bot/internal/features/members"
	"serotonyl.ru/growstore-bot/internal/features/stock"
)

const adminChat int64 = -500

type HandlerSuite struct {
	suite.Suite
	ctx       context.Context
	db        *sqlite.DB
	messenger *chattest.Messenger
	service   *Service
	members   *members.Service
	ledger    *ledger.Service
	stock     *stock.Service
	handler   *Handler
	refreshes atomic.Int32
	restarts  atomic.Int32
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.setup("")
}

func (s *HandlerSuite) setup(passwordHash string) {
	s.ctx = context.Background()
	dir := s.T().TempDir()
	db, err := sqlite.Open(s.ctx, filepath.Join(dir, "store.db"))
	s.Require().NoError(err)
	s.T().Cleanup(func() { db.Close() })
	s.db = db

	s.messenger = chattest.New()
	s.messenger.AddMember(roleChatID, roleUserID)

	c := cache.New()
	cfg := &config.Config{
		AdminID: ownerID,
		Roles:   map[string]int64{"admin": roleChatID},
		Env:     config.Env{AdminPasswordHash: passwordHash},
	}
	s.service = NewService(db, NewRepository(), c, cfg, s.messenger)
	s.members = members.NewService(db, members.NewRepository(), c)
	s.ledger = ledger.NewService(db, ledger.NewRepository(), c)
	s.stock = stock.NewService(db, stock.NewRepository(), c)

	s.refreshes.Store(0)
	s.restarts.Store(0)
	s.handler = NewHandler(Deps{
		Service:   s.service,
		Members:   s.members,
		Ledger:    s.ledger,
		Stock:     s.stock,
		DB:        db,
		Messenger: s.messenger,
		Files:     s.messenger,
		BackupDir: filepath.Join(dir, "backups"),
		Refresh:   func() { s.refreshes.Add(1) },
		Restart:   func() { s.restarts.Add(1) },
	})
}

// run выполняет команду от имени userID и возвращает карточку ответа.
func (s *HandlerSuite) run(userID int64, text string) *chat.Embed {
	return s.runIn(chat.Incoming{ChatID: adminChat, UserID: userID, Text: text})
}

func (s *HandlerSuite) runIn(in chat.Incoming) *chat.Embed {
	first := strings.SplitN(in.Text, "\n", 2)[0]
	fields := strings.Fields(strings.TrimPrefix(in.Text, "!"))
	cmd := strings.ToLower(strings.Fields(strings.TrimPrefix(first, "!"))[0])

	s.Require().True(s.handler.Handle(s.ctx, in, cmd, fields[1:]))
	last, ok := s.messenger.Last(in.ChatID)
	s.Require().True(ok, "нет ответа на %q", in.Text)
	return last.Message.Embed
}

func (s *HandlerSuite) TestUnknownCommandNotHandled() {
	s.False(s.handler.Handle(s.ctx, chat.Incoming{ChatID: adminChat, UserID: ownerID}, "buy", nil))
	s.False(s.handler.Handles("balance"))
	s.True(s.handler.Handles("addbal"))
}

func (s *HandlerSuite) TestForbiddenForStrangers() {
	e := s.run(strangerID, "!addproduct ITEM 20 Thing")
	s.Equal(chat.ColorRed, e.Color)
	s.Equal("Access denied", e.Title)

	_, err := s.stock.GetProduct(s.ctx, "ITEM")
	s.Error(err)
}

func (s *HandlerSuite) TestRoleMemberCannotRunOwnerCommands() {
	e := s.run(roleUserID, "!addproduct ITEM 20 Thing")
	s.Equal(chat.ColorGreen, e.Color)

	e = s.run(roleUserID, "!restart")
	s.Equal("Access denied", e.Title)
	s.Zero(s.restarts.Load())
}

func (s *HandlerSuite) TestProductCommands() {
	e := s.run(ownerID, "!addproduct item 20 Magic Item | shiny thing")
	s.Equal(chat.ColorGreen, e.Color)
	s.Contains(e.Description, "Magic Item (ITEM)")

	p, err := s.stock.GetProduct(s.ctx, "ITEM")
	s.Require().NoError(err)
	s.Equal("shiny thing", p.Description)

	e = s.run(ownerID, "!editproduct ITEM price 35")
	s.Equal(chat.ColorGreen, e.Color)
	p, err = s.stock.GetProduct(s.ctx, "ITEM")
	s.Require().NoError(err)
	s.Equal(int64(35), p.Price)

	e = s.run(ownerID, "!editproduct ITEM colour red")
	s.Equal(chat.ColorRed, e.Color)
	s.Contains(e.Description, "Usage:")

	e = s.run(ownerID, "!addproduct ITEM 1 Duplicate")
	s.Equal(chat.ColorRed, e.Color)

	e = s.run(ownerID, "!deleteproduct item")
	s.Equal(chat.ColorAmber, e.Color)
	_, err = s.stock.GetProduct(s.ctx, "ITEM")
	s.Error(err)

	s.GreaterOrEqual(s.refreshes.Load(), int32(3))
}

func (s *HandlerSuite) TestAddStockFromLines() {
	s.run(ownerID, "!addproduct ITEM 20 Thing")

	e := s.run(ownerID, "!addstock ITEM\ncode-1\ncode-2\n\ncode-1")
	s.Equal(chat.ColorGreen, e.Color)
	s.Equal("2", e.Fields[0].Value)
	s.Equal("1", e.Fields[1].Value)

	n, err := s.stock.CountAvailable(s.ctx, "ITEM")
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *HandlerSuite) TestAddStockFromDocument() {
	s.run(ownerID, "!addproduct ITEM 20 Thing")
	s.messenger.Files["file-1"] = []byte("a\r\nb\nc\n")

	e := s.runIn(chat.Incoming{
		ChatID:   adminChat,
		UserID:   roleUserID,
		Text:     "!addstock ITEM",
		Document: &chat.Document{FileID: "file-1", FileName: "stock.txt", Size: 8},
	})
	s.Equal(chat.ColorGreen, e.Color)

	n, err := s.stock.CountAvailable(s.ctx, "ITEM")
	s.Require().NoError(err)
	s.Equal(3, n)

	e = s.run(ownerID, "!addstock ITEM")
	s.Equal(chat.ColorRed, e.Color)
}

func (s *HandlerSuite) TestReduceAndStockHistory() {
	s.run(ownerID, "!addproduct ITEM 20 Thing")
	s.run(ownerID, "!addstock ITEM\na\nb\nc")

	e := s.run(ownerID, "!reducestock ITEM 2")
	s.Equal(chat.ColorAmber, e.Color)

	e = s.run(ownerID, "!stockhistory ITEM")
	s.Equal(chat.ColorBlue, e.Color)
	s.Contains(e.Description, "DELETED")
	s.Contains(e.Description, "AVAILABLE")
	// Сам контент в списке не показывается
	s.NotContains(e.Description, "\na ")

	e = s.run(ownerID, "!reducestock ITEM 5")
	s.Equal(chat.ColorRed, e.Color)
}

func (s *HandlerSuite) TestBalanceCommands() {
	_, err := s.members.Register(s.ctx, 1, "Buyer")
	s.Require().NoError(err)

	e := s.run(ownerID, "!addbal Buyer 2 DL")
	s.Equal(chat.ColorGreen, e.Color)

	e = s.run(ownerID, "!removebal Buyer 50 WL")
	s.Equal(chat.ColorGreen, e.Color)

	b, err := s.ledger.GetBalance(s.ctx, "Buyer")
	s.Require().NoError(err)
	s.Equal(int64(150), b.Total())

	e = s.run(ownerID, "!removebal Buyer 1 BGL")
	s.Equal(chat.ColorRed, e.Color)

	e = s.run(ownerID, "!checkbal Buyer")
	s.Equal(chat.ColorBlue, e.Color)
	s.Equal("150 WL", e.Fields[0].Value)

	e = s.run(ownerID, "!addbal Nobody 1 WL")
	s.Equal(chat.ColorRed, e.Color)

	e = s.run(ownerID, "!addbal Buyer -5 WL")
	s.Equal(chat.ColorRed, e.Color)

	e = s.run(ownerID, "!trxhistory Buyer")
	s.Contains(e.Description, "ADMIN_ADD")
	s.Contains(e.Description, "ADMIN_REMOVE")

	e = s.run(ownerID, "!trxhistory 5")
	s.Equal("Latest transactions", e.Title)

	e = s.run(ownerID, "!resetuser Buyer")
	s.Equal(chat.ColorAmber, e.Color)
	b, err = s.ledger.GetBalance(s.ctx, "Buyer")
	s.Require().NoError(err)
	s.True(b.IsZero())
}

func (s *HandlerSuite) TestAddBalanceRejectsHugeAmounts() {
	_, err := s.members.Register(s.ctx, 1, "Whale")
	s.Require().NoError(err)

	e := s.run(ownerID, "!addbal Whale 1000000000000000 BGL")
	s.Equal(chat.ColorRed, e.Color)
	e = s.run(ownerID, "!addbal Whale 9223372036854775807 WL")
	s.Equal(chat.ColorRed, e.Color)

	b, err := s.ledger.GetBalance(s.ctx, "Whale")
	s.Require().NoError(err)
	s.True(b.IsZero())
}

func (s *HandlerSuite) TestMaintenanceCommand() {
	e := s.run(ownerID, "!maintenance on")
	s.Equal(chat.ColorAmber, e.Color)
	on, err := s.service.IsMaintenanceMode(s.ctx)
	s.Require().NoError(err)
	s.True(on)
	stored, _, err := s.service.GetSetting(s.ctx, SettingMaintenanceMode)
	s.Require().NoError(err)
	s.Equal(MaintenanceOn, stored)

	// Админ-команды работают и при обслуживании
	e = s.run(ownerID, "!addproduct ITEM 20 Thing")
	s.Equal(chat.ColorGreen, e.Color)

	e = s.run(ownerID, "!maintenance")
	s.Contains(e.Description, "ON")

	e = s.run(ownerID, "!maintenance off")
	s.Equal(chat.ColorGreen, e.Color)

	e = s.run(ownerID, "!maintenance maybe")
	s.Equal(chat.ColorRed, e.Color)
}

func (s *HandlerSuite) TestBlacklistCommand() {
	_, err := s.members.Register(s.ctx, 1, "Cheater")
	s.Require().NoError(err)

	e := s.run(ownerID, "!blacklist add Cheater")
	s.Equal(chat.ColorAmber, e.Color)
	banned, err := s.members.IsBlacklisted(s.ctx, "Cheater")
	s.Require().NoError(err)
	s.True(banned)

	e = s.run(ownerID, "!blacklist list")
	s.Contains(e.Description, "Cheater")

	e = s.run(ownerID, "!blacklist remove Cheater")
	s.Equal(chat.ColorGreen, e.Color)

	e = s.run(ownerID, "!blacklist remove Cheater")
	s.Equal(chat.ColorRed, e.Color)
}

func (s *HandlerSuite) TestWorldCommand() {
	e := s.run(ownerID, "!world info")
	s.Contains(e.Description, "No world")

	e = s.run(ownerID, "!world add BUYWORLD Owner1 Bot1")
	s.Equal(chat.ColorGreen, e.Color)

	e = s.run(ownerID, "!world list")
	s.Equal("BUYWORLD", e.Fields[0].Value)

	e = s.run(ownerID, "!world remove")
	s.Equal(chat.ColorAmber, e.Color)

	e = s.run(ownerID, "!world add OnlyName")
	s.Equal(chat.ColorRed, e.Color)
}

func (s *HandlerSuite) TestBackupAndRestore() {
	s.run(ownerID, "!addproduct ITEM 20 Thing")

	e := s.run(ownerID, "!backup")
	s.Require().Equal(chat.ColorGreen, e.Color)
	name := e.Description

	s.run(ownerID, "!deleteproduct ITEM")

	e = s.run(ownerID, "!restore")
	s.Contains(e.Description, name)

	e = s.run(ownerID, "!restore "+name)
	s.Equal(chat.ColorAmber, e.Color)

	p, err := s.stock.GetProduct(s.ctx, "ITEM")
	s.Require().NoError(err)
	s.Equal("Thing", p.Name)

	e = s.run(ownerID, "!restore missing.db")
	s.Equal(chat.ColorRed, e.Color)
}

func (s *HandlerSuite) TestOwnerCommandsNeedSession() {
	hash, err := HashPassword(testPassword)
	s.Require().NoError(err)
	s.setup(hash)

	_, err = s.members.Register(s.ctx, 1, "Buyer")
	s.Require().NoError(err)

	e := s.run(ownerID, "!resetuser Buyer")
	s.Equal("Session required", e.Title)

	// Вход только в личке
	e = s.run(ownerID, "!login "+testPassword)
	s.Equal(chat.ColorRed, e.Color)

	e = s.runIn(chat.Incoming{ChatID: ownerID, UserID: ownerID, IsPrivate: true, Text: "!login wrong"})
	s.Equal(chat.ColorRed, e.Color)

	e = s.runIn(chat.Incoming{ChatID: ownerID, UserID: ownerID, IsPrivate: true, Text: "!login " + testPassword})
	s.Equal(chat.ColorGreen, e.Color)

	e = s.run(ownerID, "!resetuser Buyer")
	s.Equal(chat.ColorAmber, e.Color)
}

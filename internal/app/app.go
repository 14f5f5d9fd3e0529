// Package app инициализирует все компоненты приложения.
// app.go - точка сборки: поднимает модули магазина по стадиям загрузчика,
// связывает наблюдателей покупок и витрину, собирает бота и планировщик.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/bot"
	"serotonyl.ru/growstore-bot/internal/bot/filters"
	"serotonyl.ru/growstore-bot/internal/bot/middleware"
	"serotonyl.ru/growstore-bot/internal/bot/telegram"
	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/config"
	"serotonyl.ru/growstore-bot/internal/db/sqlite"
	"serotonyl.ru/growstore-bot/internal/features/admin"
	"serotonyl.ru/growstore-bot/internal/features/donation"
	"serotonyl.ru/growstore-bot/internal/features/ledger"
	"serotonyl.ru/growstore-bot/internal/features/livestock"
	"serotonyl.ru/growstore-bot/internal/features/members"
	"serotonyl.ru/growstore-bot/internal/features/purchase"
	"serotonyl.ru/growstore-bot/internal/features/stock"
	"serotonyl.ru/growstore-bot/internal/features/storefront"
	"serotonyl.ru/growstore-bot/internal/health"
	"serotonyl.ru/growstore-bot/internal/jobs"
	"serotonyl.ru/growstore-bot/internal/loader"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
	// Ночной бэкап в 04:00 по Москве
	backupSpec = "0 4 * * *"
)

// Кулдауны кнопок витрины, если в config.json не задано иное.
var defaultCooldowns = map[string]time.Duration{
	storefront.ActionRegister: 10 * time.Second,
	storefront.ActionBalance:  3 * time.Second,
	storefront.ActionWorld:    3 * time.Second,
	storefront.ActionBuy:      3 * time.Second,
	storefront.ActionSelect:   2 * time.Second,
	storefront.ActionHistory:  10 * time.Second,
}

// App содержит все компоненты приложения.
type App struct {
	cfg *config.Config

	Client *telegram.Client
	DB     *sqlite.DB
	Cache  *cache.Cache

	Members   *members.Service
	Ledger    *ledger.Service
	Stock     *stock.Service
	Admin     *admin.Service
	Purchases *purchase.Coordinator
	Live      *livestock.Manager
	Store     *storefront.Handler
	Donations *donation.Listener

	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	Health    *health.Server

	locks     *middleware.Locks
	cooldowns *middleware.Cooldowns

	// ctx процесса: отменяется сигналом или командой !restart
	ctx        context.Context
	cancel     context.CancelFunc
	restarting atomic.Bool
}

// New создаёт и инициализирует приложение.
// Модули поднимаются стадиями: база → участники, баланс, сток → админка →
// покупки → витрина → кнопки и донат.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	client, err := telegram.New(cfg.Token, cfg.Env.AppEnv == "development")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a := &App{
		cfg:    cfg,
		Client: client,
		Cache:  cache.New(),
		locks:  middleware.NewLocks(),
		ctx:    runCtx,
		cancel: cancel,
	}
	a.cooldowns = middleware.NewCooldowns(1, a.cooldown)

	l := loader.New().
		Stage(loader.Module{Name: "database", Init: a.initDatabase}).
		Stage(
			loader.Module{Name: "members", Init: a.initMembers},
			loader.Module{Name: "ledger", Init: a.initLedger},
			loader.Module{Name: "stock", Init: a.initStock},
		).
		Stage(loader.Module{Name: "admin", Init: a.initAdmin}).
		Stage(loader.Module{Name: "purchase", Init: a.initPurchase}).
		Stage(loader.Module{Name: "livestock", Init: a.initLiveStock}).
		Stage(
			loader.Module{Name: "storefront", Init: a.initStorefront},
			loader.Module{Name: "donation", Init: a.initDonation},
		)

	if err := l.Run(runCtx); err != nil {
		cancel()
		if a.DB != nil {
			a.DB.Close()
		}
		return nil, err
	}

	a.assemble()
	if err := a.schedule(); err != nil {
		cancel()
		a.DB.Close()
		return nil, err
	}
	return a, nil
}

// === Стадии загрузки ===

func (a *App) initDatabase(ctx context.Context) error {
	db, err := sqlite.Open(ctx, a.cfg.Env.DBPath)
	if err != nil {
		return fmt.Errorf("ошибка открытия БД: %w", err)
	}
	a.DB = db
	return db.Ping(ctx)
}

func (a *App) initMembers(context.Context) error {
	a.Members = members.NewService(a.DB, members.NewRepository(), a.Cache)
	return nil
}

func (a *App) initLedger(context.Context) error {
	a.Ledger = ledger.NewService(a.DB, ledger.NewRepository(), a.Cache)
	return nil
}

func (a *App) initStock(ctx context.Context) error {
	a.Stock = stock.NewService(a.DB, stock.NewRepository(), a.Cache)
	// Прогреваем кэш сводки
	_, err := a.Stock.Summaries(ctx)
	return err
}

func (a *App) initAdmin(ctx context.Context) error {
	a.Admin = admin.NewService(a.DB, admin.NewRepository(), a.Cache, a.cfg, a.Client)
	_, err := a.Admin.IsMaintenanceMode(ctx)
	return err
}

func (a *App) initPurchase(context.Context) error {
	a.Purchases = purchase.NewCoordinator(a.DB, a.Members, a.Ledger, a.Stock, a.Admin, a.Cache)
	return nil
}

// initLiveStock создаёт обработчик кнопок (пока не подключённый) и менеджер
// витрины, затем находит сообщение витрины, оставшееся с прошлого запуска.
func (a *App) initLiveStock(ctx context.Context) error {
	a.Store = storefront.NewHandler(storefront.Deps{
		Members:   a.Members,
		Ledger:    a.Ledger,
		Stock:     a.Stock,
		Purchases: a.Purchases,
		Admin:     a.Admin,
		Messenger: a.Client,
		Locks:     a.locks,
		Cooldowns: a.cooldowns,
		Timeout:   a.cfg.Env.RequestTimeout,
	})
	a.Live = livestock.NewManager(a.Client, a.cfg.LiveStockChatID, a.Stock, a.Admin, a.Admin, a.Store)
	if err := a.Live.Init(a.ctx); err != nil {
		return err
	}
	a.Admin.OnMaintenanceChange(func(bool) { a.Live.RequestRefresh() })
	return a.Live.Restore(ctx)
}

func (a *App) initStorefront(context.Context) error {
	a.Purchases.Subscribe(storefront.NewAudit(a.Client, a.cfg.PurchaseLogChatID, a.cfg.BuyHistoryChatID))
	a.Purchases.Subscribe(purchase.ObserverFunc(func(context.Context, *purchase.Receipt) error {
		a.Live.RequestRefresh()
		return nil
	}))
	a.Store.Attach()
	return nil
}

func (a *App) initDonation(context.Context) error {
	a.Donations = donation.NewListener(a.Members, a.Ledger, a.Client, a.cfg.DonationLogChatID)
	return a.Donations.Init(a.ctx)
}

// === Сборка ===

func (a *App) assemble() {
	adminHandler := admin.NewHandler(admin.Deps{
		Service:   a.Admin,
		Members:   a.Members,
		Ledger:    a.Ledger,
		Stock:     a.Stock,
		DB:        a.DB,
		Messenger: a.Client,
		Files:     a.Client,
		BackupDir: a.cfg.Env.BackupDir,
		Refresh:   a.Live.RequestRefresh,
		Restart:   a.Restart,
	})

	allowed := []int64{
		a.cfg.LiveStockChatID,
		a.cfg.PurchaseLogChatID,
		a.cfg.BuyHistoryChatID,
		a.cfg.AdminRoleChatID(),
	}
	for _, id := range a.cfg.Channels {
		allowed = append(allowed, id)
	}
	chatFilter := filters.NewChatFilter(a.cfg.GuildID, allowed, a.Client, a.Client, a.Cache)

	a.Bot = bot.New(a.cfg, a.Client, chatFilter, adminHandler, a.Store, a.Donations)
	a.Scheduler = jobs.NewScheduler()
	if a.cfg.Env.HealthAddr != "" {
		a.Health = health.NewServer(a.cfg.Env.HealthAddr, health.NewRouter(a.DB, a.Live))
	}
}

func (a *App) schedule() error {
	env := a.cfg.Env
	return errors.Join(
		a.Scheduler.Every("livestock", env.LiveStockInterval, func(ctx context.Context) error {
			a.Live.Tick(ctx)
			return nil
		}),
		a.Scheduler.Every("sweep", sweepInterval, a.sweep),
		a.Scheduler.Add("backup", backupSpec, a.backup),
		a.Scheduler.Add("admin_sessions", "@hourly", func(ctx context.Context) error {
			_, err := a.Admin.ExpireSessions(ctx)
			return err
		}),
	)
}

func (a *App) sweep(context.Context) error {
	log.WithFields(log.Fields{
		"cache":     a.Cache.CleanupExpired(),
		"locks":     a.locks.Sweep(),
		"cooldowns": a.cooldowns.Sweep(a.maxCooldown()),
		"dialogs":   a.Store.SweepDialogs(),
	}).Debug("[CRON] Очистка завершена")
	return nil
}

func (a *App) backup(ctx context.Context) error {
	path, err := a.DB.Backup(ctx, a.cfg.Env.BackupDir)
	if err != nil {
		return err
	}
	removed, err := sqlite.PruneBackups(a.cfg.Env.BackupDir, a.cfg.Env.BackupKeep)
	log.WithFields(log.Fields{"path": path, "pruned": removed}).Info("Ночной бэкап создан")
	return err
}

func (a *App) cooldown(action string) time.Duration {
	return a.cfg.Cooldown(action, defaultCooldowns[action])
}

func (a *App) maxCooldown() time.Duration {
	var longest time.Duration
	for action := range defaultCooldowns {
		longest = max(longest, a.cooldown(action))
	}
	for action := range a.cfg.Cooldowns {
		longest = max(longest, a.cooldown(action))
	}
	return longest
}

// === Жизненный цикл ===

// Run запускает фоновые задачи и бота. Блокируется до остановки процесса,
// затем дожидается начатых покупок и зачислений и закрывает базу.
func (a *App) Run() {
	a.Scheduler.Start(a.ctx)
	if a.Health != nil {
		a.Health.Start()
	}
	// Первая отрисовка, не дожидаясь тика
	a.Live.RequestRefresh()

	log.Info("=== Бот готов к работе ===")
	a.Bot.Start(a.ctx, a.Client)
	a.shutdown()
}

// Stop отменяет контекст процесса.
func (a *App) Stop() {
	a.cancel()
}

// Restart останавливает процесс мягко: перезапуск делает супервизор.
func (a *App) Restart() {
	log.Warn("Запрошен перезапуск")
	a.restarting.Store(true)
	a.cancel()
}

// Restarting - остановка вызвана командой !restart.
func (a *App) Restarting() bool {
	return a.restarting.Load()
}

func (a *App) shutdown() {
	a.Scheduler.Stop()

	if a.Health != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.Health.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Health-сервер не остановился вовремя")
		}
		cancel()
	}

	a.Purchases.Wait()
	a.Donations.Wait()

	if err := a.DB.Close(); err != nil {
		log.WithError(err).Error("Ошибка закрытия БД")
	}
}

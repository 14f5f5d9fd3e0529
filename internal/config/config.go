// Package config загружает конфигурацию бота.
// Основные ключи (токен, чаты, админ) читаются из JSON-файла,
// настройки процесса и переопределение токена - из переменных окружения через envconfig.
// Перед этим подхватывается .env (godotenv), если он есть.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram (config.json) ---
	Token string `json:"token" validate:"required"`
	// Основной групповой чат магазина
	GuildID int64 `json:"guild_id" validate:"required"`
	// Владелец бота, всегда имеет все права
	AdminID int64 `json:"admin_id" validate:"required"`

	LiveStockChatID   int64 `json:"id_live_stock" validate:"required"`
	PurchaseLogChatID int64 `json:"id_log_purch" validate:"required"`
	DonationLogChatID int64 `json:"id_donation_log" validate:"required"`
	BuyHistoryChatID  int64 `json:"id_history_buy" validate:"required"`

	Roles     map[string]int64 `json:"roles"`
	Channels  map[string]int64 `json:"channels"`
	Cooldowns map[string]int   `json:"cooldowns"`

	Env Env `json:"-"`
}

// Env - настройки процесса из переменных окружения.
type Env struct {
	ConfigPath string `envconfig:"CONFIG_PATH" default:"config.json"`
	// Переопределяет token из config.json
	Token string `envconfig:"BOT_TOKEN"`

	// --- Database ---
	DBPath    string `envconfig:"DB_PATH" default:"data/store.db"`
	BackupDir string `envconfig:"BACKUP_DIR" default:"backups"`
	// Сколько ночных бэкапов хранить
	BackupKeep int `envconfig:"BACKUP_KEEP" default:"7"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`

	// --- Bot runtime ---
	BotMaxInflight          int           `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	BotUpdateTimeoutSeconds int           `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`
	RequestTimeout          time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	LiveStockInterval       time.Duration `envconfig:"LIVE_STOCK_INTERVAL" default:"5m"`

	// --- Health ---
	HealthAddr string `envconfig:"HEALTH_ADDR" default:":8081"`

	// --- Admin ---
	// Argon2id-хеш пароля для !login. Пустой - сессии не требуются.
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH"`
}

// AdminRoleChatID возвращает чат, участие в котором даёт роль администратора.
func (c *Config) AdminRoleChatID() int64 {
	return c.Roles["admin"]
}

// Cooldown возвращает кулдаун действия или def, если он не настроен.
func (c *Config) Cooldown(action string, def time.Duration) time.Duration {
	if sec, ok := c.Cooldowns[action]; ok && sec >= 0 {
		return time.Duration(sec) * time.Second
	}
	return def
}

// Validate проверяет обязательные ключи и диапазоны.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("не заданы обязательные ключи: %w", err)
	}
	if c.Env.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.Env.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.Env.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT должен быть > 0")
	}
	if c.Env.LiveStockInterval < time.Second {
		return fmt.Errorf("LIVE_STOCK_INTERVAL слишком маленький")
	}
	for action, sec := range c.Cooldowns {
		if sec < 0 {
			return fmt.Errorf("cooldowns.%s не может быть отрицательным", action)
		}
	}
	return nil
}

// Load читает .env, переменные окружения и JSON-файл конфигурации.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("не удалось прочитать .env: %w", err)
	}

	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("не удалось загрузить переменные окружения: %w", err)
	}

	data, err := os.ReadFile(env.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать %s: %w", env.ConfigPath, err)
	}
	return Parse(data, env)
}

// Parse разбирает JSON-конфигурацию и применяет переопределения окружения.
func Parse(data []byte, env Env) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("некорректный JSON конфигурации: %w", err)
	}
	cfg.Env = env
	if env.Token != "" {
		cfg.Token = env.Token
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

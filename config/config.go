package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Tracking TrackingConfig
	Realtime RealtimeConfig
	Server   ServerConfig
	Telegram TelegramConfig
	Kafka    KafkaConfig
}

type AppConfig struct {
	Env         string
	Lang        string // status labels: "it" or "en"
	AutoMigrate bool
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
}

type TrackingConfig struct {
	DataDir      string // badger directory for the local persistent store
	CookieFile   string // primary identity tier
	PollInterval time.Duration
	IdentityTTL  time.Duration
}

type RealtimeConfig struct {
	Enabled bool
	Topic   string // NOTIFY channel written by the orders trigger
}

type ServerConfig struct {
	Host string
	Port int
}

type TelegramConfig struct {
	Token  string // bot used for status toasts; empty disables
	ChatID int64
}

type KafkaConfig struct {
	Brokers     []string // empty disables status events
	StatusTopic string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", defaultDataDir())
	cfg := &Config{
		App: AppConfig{
			Env:         getEnv("APP_ENV", "development"),
			Lang:        getEnv("LANG_CODE", "it"),
			AutoMigrate: getEnvAsBool("AUTO_MIGRATE", false),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "storefront"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 5),
		},
		Tracking: TrackingConfig{
			DataDir:      filepath.Join(dataDir, "store"),
			CookieFile:   getEnv("COOKIE_FILE", filepath.Join(dataDir, "cookies.json")),
			PollInterval: getEnvAsDuration("POLL_INTERVAL", 30*time.Second),
			IdentityTTL:  time.Duration(getEnvAsInt("IDENTITY_TTL_DAYS", 30)) * 24 * time.Hour,
		},
		Realtime: RealtimeConfig{
			Enabled: getEnvAsBool("REALTIME_ENABLED", true),
			Topic:   getEnv("REALTIME_TOPIC", "order_updates"),
		},
		Server: ServerConfig{
			Host: getEnv("HTTP_HOST", "127.0.0.1"),
			Port: getEnvAsInt("HTTP_PORT", 8787),
		},
		Telegram: TelegramConfig{
			Token:  getEnv("TELEGRAM_TOKEN", ""),
			ChatID: getEnvAsInt64("TELEGRAM_CHAT_ID", 0),
		},
		Kafka: KafkaConfig{
			Brokers:     splitAndTrim(getEnv("KAFKA_BROKERS", "")),
			StatusTopic: getEnv("KAFKA_STATUS_TOPIC", "order-status"),
		},
	}

	return cfg, cfg.validate()
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (c *Config) validate() error {
	if c.DB.Host == "" || c.DB.User == "" || c.DB.Database == "" {
		return fmt.Errorf("database config is incomplete")
	}
	if c.Tracking.PollInterval < time.Second {
		return fmt.Errorf("POLL_INTERVAL must be at least 1s, got %s", c.Tracking.PollInterval)
	}
	if c.Tracking.IdentityTTL <= 0 {
		return fmt.Errorf("IDENTITY_TTL_DAYS must be positive")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("HTTP_PORT is invalid")
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set")
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "order-tracker")
	}
	return ".order-tracker"
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if i, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return i
	}
	return def
}

func getEnvAsInt64(key string, def int64) int64 {
	if i, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil {
		return i
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	v := getEnv(key, "")
	switch {
	case v == "":
		return def
	case v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes"):
		return true
	default:
		return false
	}
}

// getEnvAsDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvAsDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if s, err := strconv.Atoi(v); err == nil {
		return time.Duration(s) * time.Second
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if val := strings.TrimSpace(p); val != "" {
			out = append(out, val)
		}
	}
	return out
}

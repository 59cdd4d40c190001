package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage drivers
const (
	DriverSQLite     = "sqlite"
	DriverClickHouse = "clickhouse"
)

// Config holds the application configuration
type Config struct {
	TelegramToken string
	CatalogToken  string
	AdminID       int64

	// Backup schedule
	BackupSchedule     string
	BackupTimezone     string
	BackupRecipientID  int64 // defaults to AdminID; 0 disables the scheduled backup
	BackupStatePath    string
	BackupMisfireGrace time.Duration

	DownloadDir string

	// Subscription gate; disabled when ChannelUsername is empty
	ChannelUsername string
	ChannelLink     string

	// Bot mode configuration
	WebhookMode bool   // If true, use webhook mode; if false, use polling mode
	WebhookURL  string // URL for webhook (required if WebhookMode is true)
	Port        string

	// Storage
	DBDriver   string
	SQLitePath string

	// ClickHouse configuration
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	UseMockDB bool

	LogLevel  string
	LogFormat string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}

	// Telegram Bot Token (required)
	config.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if config.TelegramToken == "" {
		config.TelegramToken = os.Getenv("BOT_TOKEN")
	}
	if config.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	config.CatalogToken = os.Getenv("YM_TOKEN")

	if s := strings.TrimSpace(os.Getenv("ADMIN_ID")); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_ID: %s", s)
		}
		config.AdminID = id
	}

	// Backup configuration
	config.BackupSchedule = envOr("BACKUP_SCHEDULE", "0 9 * * 1")
	config.BackupTimezone = envOr("BACKUP_TIMEZONE", "UTC")
	config.BackupStatePath = envOr("BACKUP_STATE_PATH", "data/backup_state.json")

	config.BackupRecipientID = config.AdminID
	if s := strings.TrimSpace(os.Getenv("BACKUP_RECIPIENT_ID")); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKUP_RECIPIENT_ID: %s", s)
		}
		config.BackupRecipientID = id
	}

	config.BackupMisfireGrace = time.Hour
	if s := os.Getenv("BACKUP_MISFIRE_GRACE"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid BACKUP_MISFIRE_GRACE: %s", s)
		}
		config.BackupMisfireGrace = d
	}

	config.DownloadDir = envOr("DOWNLOAD_DIR", os.TempDir())

	config.ChannelUsername = os.Getenv("CHANNEL_USERNAME")
	config.ChannelLink = os.Getenv("CHANNEL_LINK")
	if config.ChannelUsername != "" && config.ChannelLink == "" {
		config.ChannelLink = "https://t.me/" + strings.TrimPrefix(config.ChannelUsername, "@")
	}

	// Bot mode configuration
	config.WebhookMode = os.Getenv("WEBHOOK_MODE") == "true"
	if config.WebhookMode {
		config.WebhookURL = os.Getenv("WEBHOOK_URL")
		if config.WebhookURL == "" {
			return nil, fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is true")
		}
	}
	config.Port = envOr("PORT", "8080")

	config.LogLevel = envOr("LOG_LEVEL", "info")
	config.LogFormat = envOr("LOG_FORMAT", "json")

	// Use Mock DB (default: false)
	config.UseMockDB = os.Getenv("USE_MOCK_DB") == "true"
	if config.UseMockDB {
		return config, nil
	}

	config.DBDriver = envOr("DB_DRIVER", DriverSQLite)
	switch config.DBDriver {
	case DriverSQLite:
		config.SQLitePath = envOr("SQLITE_PATH", "data/bot_database.db")
	case DriverClickHouse:
		if err := loadClickHouse(config); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER: %s", config.DBDriver)
	}

	return config, nil
}

func loadClickHouse(config *Config) error {
	config.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
	if config.ClickHouseHost == "" {
		return fmt.Errorf("CLICKHOUSE_HOST is required when DB_DRIVER is clickhouse")
	}

	portStr := os.Getenv("CLICKHOUSE_PORT")
	if portStr == "" {
		config.ClickHousePort = 9000 // Default ClickHouse native port
	} else {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid CLICKHOUSE_PORT: %w", err)
		}
		config.ClickHousePort = port
	}

	config.ClickHouseDatabase = envOr("CLICKHOUSE_DATABASE", "default")
	config.ClickHouseUser = envOr("CLICKHOUSE_USER", "default")
	config.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
	config.ClickHouseUseTLS = os.Getenv("CLICKHOUSE_USE_TLS") == "true"
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

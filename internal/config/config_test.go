package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TELEGRAM_BOT_TOKEN", "BOT_TOKEN", "YM_TOKEN", "ADMIN_ID",
		"BACKUP_SCHEDULE", "BACKUP_TIMEZONE", "BACKUP_RECIPIENT_ID", "BACKUP_STATE_PATH", "BACKUP_MISFIRE_GRACE",
		"DOWNLOAD_DIR", "CHANNEL_USERNAME", "CHANNEL_LINK", "WEBHOOK_MODE", "WEBHOOK_URL", "PORT",
		"DB_DRIVER", "SQLITE_PATH", "CLICKHOUSE_HOST", "CLICKHOUSE_PORT", "USE_MOCK_DB",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("ADMIN_ID", "123")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "token", cfg.TelegramToken)
	assert.Equal(t, int64(123), cfg.AdminID)
	assert.Equal(t, int64(123), cfg.BackupRecipientID)
	assert.Equal(t, "0 9 * * 1", cfg.BackupSchedule)
	assert.Equal(t, "UTC", cfg.BackupTimezone)
	assert.Equal(t, time.Hour, cfg.BackupMisfireGrace)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "data/bot_database.db", cfg.SQLitePath)
	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.WebhookMode)
	assert.Empty(t, cfg.ChannelUsername)
}

func TestLoadFromEnv_TokenAlias(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "legacy")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "legacy", cfg.TelegramToken)
	assert.Equal(t, int64(0), cfg.BackupRecipientID)
}

func TestLoadFromEnv_Errors(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing token", env: map[string]string{}},
		{name: "bad admin id", env: map[string]string{"TELEGRAM_BOT_TOKEN": "t", "ADMIN_ID": "abc"}},
		{name: "bad recipient", env: map[string]string{"TELEGRAM_BOT_TOKEN": "t", "BACKUP_RECIPIENT_ID": "x"}},
		{name: "bad grace", env: map[string]string{"TELEGRAM_BOT_TOKEN": "t", "BACKUP_MISFIRE_GRACE": "soon"}},
		{name: "webhook without url", env: map[string]string{"TELEGRAM_BOT_TOKEN": "t", "WEBHOOK_MODE": "true"}},
		{name: "unknown driver", env: map[string]string{"TELEGRAM_BOT_TOKEN": "t", "DB_DRIVER": "mongo"}},
		{name: "clickhouse without host", env: map[string]string{"TELEGRAM_BOT_TOKEN": "t", "DB_DRIVER": "clickhouse"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadFromEnv_BackupAndChannel(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "t")
	t.Setenv("ADMIN_ID", "1")
	t.Setenv("BACKUP_RECIPIENT_ID", "-100500")
	t.Setenv("BACKUP_TIMEZONE", "Europe/Moscow")
	t.Setenv("BACKUP_MISFIRE_GRACE", "30m")
	t.Setenv("CHANNEL_USERNAME", "@music")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, int64(-100500), cfg.BackupRecipientID)
	assert.Equal(t, "Europe/Moscow", cfg.BackupTimezone)
	assert.Equal(t, 30*time.Minute, cfg.BackupMisfireGrace)
	assert.Equal(t, "https://t.me/music", cfg.ChannelLink)
}

func TestLoadFromEnv_ClickHouse(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "t")
	t.Setenv("DB_DRIVER", "clickhouse")
	t.Setenv("CLICKHOUSE_HOST", "ch")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "ch", cfg.ClickHouseHost)
	assert.Equal(t, 9000, cfg.ClickHousePort)
	assert.Equal(t, "default", cfg.ClickHouseDatabase)
	assert.Equal(t, "default", cfg.ClickHouseUser)
}

func TestLoadFromEnv_MockSkipsStorage(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "t")
	t.Setenv("USE_MOCK_DB", "true")
	t.Setenv("DB_DRIVER", "mongo")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.UseMockDB)
}

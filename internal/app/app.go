package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"ymbot/internal/backup"
	"ymbot/internal/bot"
	"ymbot/internal/catalog"
	"ymbot/internal/config"
	"ymbot/internal/metrics"
	"ymbot/internal/restore"
	"ymbot/internal/scheduler"
	"ymbot/internal/storage"
	"ymbot/internal/storage/ch"
	"ymbot/internal/storage/sqlite"
	"ymbot/internal/storage/stubs"
)

// App represents the application
type App struct {
	config  *config.Config
	logger  *zap.Logger
	db      storage.Storage
	guard   *backup.Guard
	api     *tgbotapi.BotAPI
	bot     *bot.Bot
	trigger *scheduler.Trigger
	server  *http.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	if envErr != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	app := &App{config: cfg, logger: logger}
	logger.Info("Starting Yandex Music bot...")

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initBot(); err != nil {
		return nil, err
	}
	app.initScheduler()
	app.initHTTPServer()

	return app, nil
}

// initDatabase opens the configured row store and applies its schema
func (a *App) initDatabase() error {
	var db storage.Storage

	switch {
	case a.config.UseMockDB:
		a.logger.Info("Using mock database")
		db = stubs.NewMockDB()
	case a.config.DBDriver == config.DriverClickHouse:
		a.logger.Info("Connecting to ClickHouse",
			zap.String("host", a.config.ClickHouseHost),
			zap.Int("port", a.config.ClickHousePort),
			zap.String("database", a.config.ClickHouseDatabase),
			zap.String("user", a.config.ClickHouseUser),
			zap.Bool("tls", a.config.ClickHouseUseTLS),
		)
		clickhouseDB, err := ch.NewClickHouseDB(
			a.config.ClickHouseHost,
			a.config.ClickHousePort,
			a.config.ClickHouseDatabase,
			a.config.ClickHouseUser,
			a.config.ClickHousePassword,
			a.config.ClickHouseUseTLS,
		)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		db = clickhouseDB
	default:
		a.logger.Info("Opening SQLite database", zap.String("path", a.config.SQLitePath))
		sqliteDB, err := sqlite.NewSQLiteDB(a.config.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open SQLite: %w", err)
		}
		db = sqliteDB
	}

	if err := db.Initialize(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")

	a.db = db
	return nil
}

// initBot connects to Telegram and builds the dispatcher
func (a *App) initBot() error {
	api, err := bot.NewAPI(a.config.TelegramToken, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if a.config.CatalogToken == "" {
		a.logger.Warn("YM_TOKEN is not set, catalog requests are anonymous")
	}
	music := catalog.NewClient(catalog.Config{Token: a.config.CatalogToken}, a.logger.Named("catalog"))

	a.api = api
	a.guard = &backup.Guard{}
	restorer := restore.NewManager(a.db, a.guard, a.logger.Named("restore"))
	a.bot = bot.NewBot(api, a.db, music, restorer, bot.Options{
		AdminID:         a.config.AdminID,
		ChannelUsername: a.config.ChannelUsername,
		ChannelLink:     a.config.ChannelLink,
		DownloadDir:     a.config.DownloadDir,
	}, a.logger.Named("bot"))

	a.logger.Info("Bot created successfully", zap.Int64("admin_id", a.config.AdminID))
	return nil
}

// initScheduler sets up the weekly backup; it stays off without a recipient
func (a *App) initScheduler() {
	if a.config.BackupRecipientID == 0 {
		a.logger.Warn("Scheduled backup disabled: neither BACKUP_RECIPIENT_ID nor ADMIN_ID is set")
		return
	}

	a.trigger = scheduler.New(scheduler.Config{
		Schedule:     a.config.BackupSchedule,
		Timezone:     a.config.BackupTimezone,
		MisfireGrace: a.config.BackupMisfireGrace,
		StatePath:    a.config.BackupStatePath,
	}, a.backupJob("schedule"), a.logger.Named("scheduler"))

	a.logger.Info("Scheduled backup enabled",
		zap.String("schedule", a.config.BackupSchedule),
		zap.String("timezone", a.config.BackupTimezone),
		zap.Int64("recipient", a.config.BackupRecipientID),
		zap.Time("next", a.trigger.Next(time.Now())),
	)
}

// backupJob exports and delivers a backup to the configured recipient
func (a *App) backupJob(trigger string) scheduler.Job {
	job := scheduler.ExportJob(a.db, a.guard, a.bot, a.config.BackupRecipientID, a.logger.Named("backup"))
	return func(ctx context.Context, due time.Time) error {
		start := time.Now()
		err := job(ctx, due)
		metrics.RecordBackup(trigger, time.Since(start), err)
		return err
	}
}

func (a *App) initHTTPServer() {
	mode := "polling"
	var webhook http.HandlerFunc
	if a.config.WebhookMode {
		mode = "webhook"
		webhook = a.bot.WebhookHandler()
	}

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      newRouter(mode, webhook),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Run starts all services and blocks until SIGINT or SIGTERM
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := suture.New("ymbot", suture.Spec{
		EventHook: supervisorEvents(a.logger.Named("supervisor")),
		Timeout:   10 * time.Second,
	})

	root.Add(a.bot)
	if a.config.WebhookMode {
		if err := bot.SetupWebhook(a.api, a.config.WebhookURL, a.logger); err != nil {
			return fmt.Errorf("failed to setup webhook: %w", err)
		}
		a.logger.Info("Webhook configured. Updates arrive at /telegram-webhook")
	} else {
		root.Add(bot.NewPoller(a.api, a.bot, a.logger))
	}

	a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
	root.Add(&httpService{server: a.server, shutdownTimeout: 5 * time.Second})

	if a.trigger != nil {
		root.Add(a.trigger)
	}

	err := root.Serve(ctx)
	a.logger.Info("Shutting down...")
	if shutdownErr := a.Shutdown(); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// BackupOnce runs a single export and delivery, then closes the store
func (a *App) BackupOnce(ctx context.Context) error {
	defer func() {
		if err := a.Shutdown(); err != nil {
			a.logger.Warn("Shutdown failed", zap.Error(err))
		}
	}()

	if a.config.BackupRecipientID == 0 {
		return errors.New("BACKUP_RECIPIENT_ID or ADMIN_ID is required for a backup")
	}

	a.logger.Info("Running one-off backup", zap.Int64("recipient", a.config.BackupRecipientID))
	if err := a.backupJob("once")(ctx, time.Now()); err != nil {
		a.logger.Error("Backup failed", zap.Error(err))
		return err
	}
	a.logger.Info("Backup completed")
	return nil
}

// Shutdown releases the store and flushes the logger
func (a *App) Shutdown() error {
	defer func() { _ = a.logger.Sync() }()

	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		return err
	}
	a.logger.Info("Shutdown complete")
	return nil
}

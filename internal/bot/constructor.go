package bot

import (
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ymbot/internal/restore"
	"ymbot/internal/storage"
)

// NewAPI connects to the Telegram Bot API
func NewAPI(token string, logger *zap.Logger) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))
	return api, nil
}

// NewBot creates a new Telegram bot
func NewBot(api Transport, db storage.Storage, music Catalog, restorer *restore.Manager, opts Options, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SendInterval <= 0 {
		opts.SendInterval = 1500 * time.Millisecond
	}
	if opts.BotUsername == "" {
		if botAPI, ok := api.(*tgbotapi.BotAPI); ok {
			opts.BotUsername = botAPI.Self.UserName
		}
	}
	if restorer == nil {
		restorer = restore.NewManager(db, nil, logger)
	}

	return &Bot{
		api:     api,
		db:      db,
		catalog: music,
		restore: restorer,
		opts:    opts,
		logger:  logger,
		files:   &http.Client{Timeout: 2 * time.Minute},
		updates: make(chan tgbotapi.Update, 100),
		lanes:   make(map[int64]*lane),
	}
}

package bot

import (
	"context"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ymbot/internal/catalog"
	"ymbot/internal/restore"
	"ymbot/internal/storage"
)

// Transport is the subset of the Telegram Bot API the bot uses
type Transport interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Catalog resolves and downloads music
type Catalog interface {
	Track(ctx context.Context, ref string) (catalog.Track, error)
	AlbumWithTracks(ctx context.Context, id string) (catalog.Album, error)
	Download(ctx context.Context, trackID, path string) error
}

// Options configures the bot behaviour
type Options struct {
	AdminID int64

	// Subscription gate; disabled when ChannelUsername is empty
	ChannelUsername string
	ChannelLink     string

	DownloadDir string
	// BotUsername is used in audio captions
	BotUsername string
	// SendInterval spaces consecutive sends of album tracks and broadcasts
	SendInterval time.Duration
}

// Bot represents the Telegram bot wrapper
type Bot struct {
	api     Transport
	db      storage.Storage
	catalog Catalog
	restore *restore.Manager
	opts    Options
	logger  *zap.Logger

	files *http.Client

	updates chan tgbotapi.Update
	wg      sync.WaitGroup

	lanesMu sync.Mutex
	lanes   map[int64]*lane
}

package bot

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// String names the dispatcher for the supervisor
func (b *Bot) String() string {
	return "bot-dispatcher"
}

// Serve dispatches queued updates until ctx is cancelled. Updates from the
// same user are handled in arrival order; different users run concurrently.
func (b *Bot) Serve(ctx context.Context) error {
	b.logger.Info("Bot dispatcher started. Waiting for updates...")
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-b.updates:
			b.dispatch(ctx, update)
		}
	}
}

// lane holds the pending updates of one user
type lane struct {
	queue []tgbotapi.Update
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	userID := updateUserID(update)

	b.lanesMu.Lock()
	defer b.lanesMu.Unlock()

	if l, ok := b.lanes[userID]; ok {
		l.queue = append(l.queue, update)
		return
	}
	l := &lane{queue: []tgbotapi.Update{update}}
	b.lanes[userID] = l

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.drain(ctx, userID, l)
	}()
}

func (b *Bot) drain(ctx context.Context, userID int64, l *lane) {
	for {
		b.lanesMu.Lock()
		if len(l.queue) == 0 {
			delete(b.lanes, userID)
			b.lanesMu.Unlock()
			return
		}
		update := l.queue[0]
		l.queue = l.queue[1:]
		b.lanesMu.Unlock()

		b.HandleUpdate(ctx, update)
	}
}

// Enqueue queues an update without blocking; false means the queue is full
func (b *Bot) Enqueue(update tgbotapi.Update) bool {
	select {
	case b.updates <- update:
		return true
	default:
		return false
	}
}

func updateUserID(update tgbotapi.Update) int64 {
	if u := update.SentFrom(); u != nil {
		return u.ID
	}
	return 0
}

// Poller feeds updates from long polling into the bot
type Poller struct {
	api    *tgbotapi.BotAPI
	bot    *Bot
	logger *zap.Logger
}

// NewPoller creates a long-polling update source
func NewPoller(api *tgbotapi.BotAPI, bot *Bot, logger *zap.Logger) *Poller {
	return &Poller{api: api, bot: bot, logger: logger}
}

// String names the poller for the supervisor
func (p *Poller) String() string {
	return "bot-poller"
}

// Serve polls Telegram until ctx is cancelled
func (p *Poller) Serve(ctx context.Context) error {
	p.logger.Info("Starting bot in polling mode")

	// Remove webhook (if any was set previously)
	if _, err := p.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		p.logger.Warn("Failed to delete webhook", zap.Error(err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := p.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			p.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return errors.New("updates channel closed")
			}
			select {
			case p.bot.updates <- update:
			case <-ctx.Done():
				p.api.StopReceivingUpdates()
				return ctx.Err()
			}
		}
	}
}

// SetupWebhook registers webhookURL with Telegram
func SetupWebhook(api *tgbotapi.BotAPI, webhookURL string, logger *zap.Logger) error {
	logger.Info("Setting up webhook", zap.String("webhook_url", webhookURL))

	webhookConfig, err := tgbotapi.NewWebhook(webhookURL + "/telegram-webhook")
	if err != nil {
		return err
	}
	webhookConfig.MaxConnections = 40

	if _, err := api.Request(webhookConfig); err != nil {
		logger.Error("Failed to set webhook", zap.Error(err), zap.String("webhook_url", webhookURL))
		return err
	}

	// Get webhook info to verify
	info, err := api.GetWebhookInfo()
	if err != nil {
		logger.Warn("Failed to get webhook info", zap.Error(err))
	} else {
		logger.Info("Webhook set successfully",
			zap.String("url", info.URL),
			zap.Int("pending_updates", info.PendingUpdateCount),
		)
	}
	return nil
}

// WebhookHandler accepts updates pushed by Telegram
func (b *Bot) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			b.logger.Warn("Error decoding webhook update", zap.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// Telegram retries when the queue is full
		if !b.Enqueue(update) {
			b.logger.Warn("Update queue full, asking Telegram to retry", zap.Int("update_id", update.UpdateID))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

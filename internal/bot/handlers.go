package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ymbot/internal/catalog"
	"ymbot/internal/metrics"
	"ymbot/internal/models"
)

// HandleUpdate processes a single update
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil && update.Message.From != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

// handleMessage processes a single message
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.Inc()
			b.logger.Error("Recovered from panic in handleMessage",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			b.sendText(message.Chat.ID, "Произошла ошибка при обработке запроса. Попробуйте ещё раз.")
		}
	}()

	user := b.registerUser(ctx, message.From)
	isAdmin := b.isAdmin(user)

	// Restore documents bypass the subscription gate
	if message.Document != nil && isAdmin && b.restore.Accepts(message.From.ID) {
		metrics.UpdatesReceived.WithLabelValues("document").Inc()
		b.handleRestoreDocument(ctx, message)
		return
	}

	if message.IsCommand() {
		metrics.UpdatesReceived.WithLabelValues("command").Inc()
		b.handleCommand(ctx, message, isAdmin)
		return
	}

	if !b.ensureSubscribed(ctx, message.From.ID, message.Chat.ID) {
		return
	}

	if catalog.IsMusicLink(message.Text) {
		metrics.UpdatesReceived.WithLabelValues("link").Inc()
		b.handleMusicLink(ctx, message)
		return
	}

	metrics.UpdatesReceived.WithLabelValues("text").Inc()
	b.handleUnknown(message)
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message, isAdmin bool) {
	command := message.Command()

	switch command {
	case "admin", "backup", "restore", "broadcast", "make_admin", "stats":
		if !isAdmin {
			b.logger.Warn("Unauthorized admin command attempt",
				zap.Int64("user_id", message.From.ID),
				zap.String("username", message.From.UserName),
				zap.String("command", command),
			)
			b.sendText(message.Chat.ID, "⛔ Эта команда доступна только администраторам.")
			return
		}
	default:
		if !b.ensureSubscribed(ctx, message.From.ID, message.Chat.ID) {
			return
		}
	}

	switch command {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "mystats":
		b.handleMyStats(ctx, message)
	case "admin":
		b.handleAdmin(message)
	case "backup":
		b.handleBackup(ctx, message)
	case "restore":
		b.handleRestoreStart(ctx, message)
	case "broadcast":
		b.handleBroadcast(ctx, message)
	case "make_admin":
		b.handleMakeAdmin(ctx, message)
	case "stats":
		b.handleStats(ctx, message)
	default:
		b.sendText(message.Chat.ID, "Неизвестная команда. Используйте /help, чтобы увидеть список команд.")
	}
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	// Recover from panics
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.Inc()
			b.logger.Error("Recovered from panic in handleCallbackQuery",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	metrics.UpdatesReceived.WithLabelValues("callback").Inc()
	b.registerUser(ctx, query.From)

	data := query.Data
	switch {
	case data == callbackCheckSub:
		b.handleCheckSubscription(ctx, query)
	case strings.HasPrefix(data, callbackRestoreSkip):
		b.handleRestoreSkip(ctx, query, strings.TrimPrefix(data, callbackRestoreSkip))
	default:
		b.answerCallback(query.ID, "", false)
	}
}

// registerUser upserts the sender; failures are logged and the handler goes on
func (b *Bot) registerUser(ctx context.Context, from *tgbotapi.User) models.User {
	user, created, err := b.db.UpsertUser(ctx, models.UserInfo{
		ID:        from.ID,
		Username:  from.UserName,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	}, b.opts.AdminID)
	if err != nil {
		b.logger.Error("Failed to register user", zap.Int64("user_id", from.ID), zap.Error(err))
		return models.User{ID: from.ID}
	}
	if created {
		b.logger.Info("New user registered",
			zap.Int64("user_id", from.ID),
			zap.String("username", from.UserName),
			zap.Bool("is_admin", user.IsAdmin),
		)
	}
	return user
}

func (b *Bot) isAdmin(user models.User) bool {
	return user.IsAdmin || (b.opts.AdminID != 0 && user.ID == b.opts.AdminID)
}

func (b *Bot) handleUnknown(message *tgbotapi.Message) {
	text := fmt.Sprintf("🤔 Я не понимаю это сообщение. Пожалуйста, отправьте мне ссылку на трек Яндекс.Музыки.\n\n"+
		"Например: %s\n\n"+
		"Для получения справки используйте команду /help", exampleTrackInAlbum)
	b.sendText(message.Chat.ID, text)
}

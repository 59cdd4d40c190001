package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	exampleTrackInAlbum = "https://music.yandex.ru/album/123456/track/7890123"
	exampleTrack        = "https://music.yandex.ru/track/7890123"
	exampleAlbum        = "https://music.yandex.ru/album/123456"
)

// handleStart shows the welcome message
func (b *Bot) handleStart(message *tgbotapi.Message) {
	text := fmt.Sprintf(`👋 Привет! Я бот для скачивания музыки с Яндекс.Музыки.

Просто отправь мне ссылку на трек или альбом, и я пришлю тебе аудиофайлы.

Примеры поддерживаемых ссылок:
• %s
• %s
• %s`, exampleTrackInAlbum, exampleTrack, exampleAlbum)

	b.sendText(message.Chat.ID, text)
}

// handleHelp explains how to use the bot
func (b *Bot) handleHelp(message *tgbotapi.Message) {
	text := `🔍 Как пользоваться ботом:

1. Найдите трек или альбом на Яндекс.Музыке
2. Скопируйте ссылку
3. Отправьте ссылку мне
4. Дождитесь загрузки аудиофайла

/mystats - сколько треков вы скачали

⚠️ Примечание: некоторые треки могут быть недоступны для скачивания из-за ограничений правообладателей.`

	b.sendText(message.Chat.ID, text)
}

// handleAdmin lists the administrator commands
func (b *Bot) handleAdmin(message *tgbotapi.Message) {
	text := `🛠 Команды администратора:

/backup - создать резервную копию и прислать её сюда
/restore - восстановить базу из резервной копии
/broadcast <текст> - отправить сообщение всем пользователям
/make_admin <id> - назначить пользователя администратором
/stats - статистика пользователей и скачиваний`

	if s, ok := b.restore.Registry().Get(message.From.ID); ok {
		text += fmt.Sprintf("\n\n♻️ Идёт восстановление (шаг: %s)", stepTitle(s.Step.Table()))
	}
	b.sendText(message.Chat.ID, text)
}

// handleStats shows global statistics and the caller's own downloads
func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message) {
	stats, err := b.db.GetStats(ctx, time.Now().AddDate(0, 0, -7))
	if err != nil {
		b.logger.Error("Failed to load statistics", zap.Error(err))
		b.sendText(message.Chat.ID, "❌ Не удалось получить статистику.")
		return
	}

	own, err := b.db.CountUserDownloads(ctx, message.From.ID)
	if err != nil {
		b.logger.Warn("Failed to count user downloads", zap.Int64("user_id", message.From.ID), zap.Error(err))
	}

	text := fmt.Sprintf(`📊 Статистика бота

👥 Всего пользователей: %d
🟢 Активных за 7 дней: %d
🎵 Всего скачиваний: %d
📥 Ваших скачиваний: %d`, stats.TotalUsers, stats.ActiveUsersWeek, stats.TotalDownloads, own)

	b.sendText(message.Chat.ID, text)
}

// handleMyStats shows the caller's download count
func (b *Bot) handleMyStats(ctx context.Context, message *tgbotapi.Message) {
	count, err := b.db.CountUserDownloads(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to count user downloads", zap.Int64("user_id", message.From.ID), zap.Error(err))
		b.sendText(message.Chat.ID, "❌ Не удалось получить статистику.")
		return
	}

	text := fmt.Sprintf("📥 Вы скачали треков: %d", count)
	if user, err := b.db.GetUser(ctx, message.From.ID); err == nil && user != nil && !user.RegisteredAt.IsZero() {
		text += "\n📅 С нами с " + user.RegisteredAt.Format("02.01.2006")
	}
	b.sendText(message.Chat.ID, text)
}

// handleMakeAdmin grants the admin flag to an existing user
func (b *Bot) handleMakeAdmin(ctx context.Context, message *tgbotapi.Message) {
	arg := strings.TrimSpace(message.CommandArguments())
	if arg == "" {
		b.sendText(message.Chat.ID, "Использование: /make_admin <id пользователя>")
		return
	}
	userID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		b.sendText(message.Chat.ID, "❌ ID пользователя должен быть числом.")
		return
	}

	found, err := b.db.SetAdmin(ctx, userID, true)
	if err != nil {
		b.logger.Error("Failed to grant admin", zap.Int64("target_id", userID), zap.Error(err))
		b.sendText(message.Chat.ID, "❌ Не удалось обновить пользователя.")
		return
	}
	if !found {
		b.sendText(message.Chat.ID, fmt.Sprintf("❌ Пользователь %d не найден. Он должен хотя бы раз написать боту.", userID))
		return
	}

	b.logger.Info("Admin granted", zap.Int64("target_id", userID), zap.Int64("granted_by", message.From.ID))
	b.sendText(message.Chat.ID, fmt.Sprintf("✅ Пользователь %d назначен администратором.", userID))
}

// handleBroadcast sends the command text to every registered user
func (b *Bot) handleBroadcast(ctx context.Context, message *tgbotapi.Message) {
	text := strings.TrimSpace(message.CommandArguments())
	if text == "" {
		b.sendText(message.Chat.ID, "Использование: /broadcast <текст сообщения>")
		return
	}

	users, err := b.db.ListUsers(ctx)
	if err != nil {
		b.logger.Error("Failed to list users for broadcast", zap.Error(err))
		b.sendText(message.Chat.ID, "❌ Не удалось получить список пользователей.")
		return
	}

	status := b.sendText(message.Chat.ID, fmt.Sprintf("📣 Рассылка для %d пользователей...", len(users)))

	pacer := b.newPacer()
	sent, failed := 0, 0
	for _, u := range users {
		if err := pacer.Wait(ctx); err != nil {
			break
		}
		if _, err := b.api.Send(tgbotapi.NewMessage(u.ID, text)); err != nil {
			failed++
			b.logger.Warn("Broadcast delivery failed", zap.Int64("user_id", u.ID), zap.Error(err))
			continue
		}
		sent++
	}

	b.logger.Info("Broadcast finished", zap.Int("sent", sent), zap.Int("failed", failed))
	summary := fmt.Sprintf("📣 Рассылка завершена.\n✅ Доставлено: %d\n❌ Ошибок: %d", sent, failed)
	if status.MessageID != 0 {
		b.editText(message.Chat.ID, status.MessageID, summary)
	} else {
		b.sendText(message.Chat.ID, summary)
	}
}

// newPacer spaces consecutive sends by SendInterval
func (b *Bot) newPacer() *rate.Limiter {
	return rate.NewLimiter(rate.Every(b.opts.SendInterval), 1)
}

package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ymbot/internal/backup"
	"ymbot/internal/metrics"
	"ymbot/internal/scheduler"
)

// handleBackup exports the store and sends both documents to the caller
func (b *Bot) handleBackup(ctx context.Context, message *tgbotapi.Message) {
	status := b.sendText(message.Chat.ID, "⏳ Создаю резервную копию...")

	if err := b.deliverExport(ctx, message.Chat.ID, "📦 Резервная копия", "manual"); err != nil {
		b.logger.Error("Manual backup failed", zap.Int64("user_id", message.From.ID), zap.Error(err))
		b.editText(message.Chat.ID, status.MessageID, "❌ Не удалось создать резервную копию.")
		return
	}
	b.editText(message.Chat.ID, status.MessageID, "✅ Резервная копия создана.")
}

// deliverExport runs a full export and sends it to chatID in restore order.
// The exported files are removed on every path.
func (b *Bot) deliverExport(ctx context.Context, chatID int64, heading, trigger string) (err error) {
	start := time.Now()
	defer func() { metrics.RecordBackup(trigger, time.Since(start), err) }()

	files, err := b.restore.Guard().Export(ctx, b.db, "")
	if err != nil {
		return fmt.Errorf("failed to export backup: %w", err)
	}
	defer backup.Cleanup(files, b.logger)

	for _, table := range backup.Tables {
		f := files[table]
		caption := fmt.Sprintf("%s\nТаблица: %s\nЗаписей: %d", heading, tableTitle(table), f.Count)
		if err := b.SendDocument(ctx, chatID, f.Path, caption); err != nil {
			return fmt.Errorf("failed to send %s backup: %w", table, err)
		}
	}
	return nil
}

func tableTitle(table string) string {
	if title, ok := scheduler.TableTitles[table]; ok {
		return title
	}
	return table
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ymbot/internal/backup"
	"ymbot/internal/metrics"
	"ymbot/internal/models"
	"ymbot/internal/restore"
)

// handleRestoreStart sends a safety backup and opens a restore session
func (b *Bot) handleRestoreStart(ctx context.Context, message *tgbotapi.Message) {
	adminID, chatID := message.From.ID, message.Chat.ID

	if s, ok := b.restore.Registry().Get(adminID); ok {
		b.sendText(chatID, fmt.Sprintf("♻️ Восстановление уже идёт (шаг: %s). Отправьте файл или нажмите «Пропустить».",
			stepTitle(s.Step.Table())))
		return
	}

	status := b.sendText(chatID, "⏳ Создаю страховочную копию перед восстановлением...")

	s, err := b.restore.Start(ctx, adminID, chatID, func(ctx context.Context) error {
		return b.deliverExport(ctx, chatID, "🛟 Страховочная копия перед восстановлением", "restore")
	})
	switch {
	case errors.Is(err, restore.ErrSessionExists):
		b.editText(chatID, status.MessageID, "♻️ Восстановление уже идёт.")
		return
	case err != nil:
		b.logger.Error("Failed to start restore", zap.Int64("admin_id", adminID), zap.Error(err))
		b.editText(chatID, status.MessageID, "❌ Не удалось создать страховочную копию. Восстановление отменено.")
		return
	}

	metrics.RestoreSessionsActive.Set(float64(b.restore.Registry().Active()))
	b.editText(chatID, status.MessageID, "✅ Страховочная копия отправлена выше.")
	b.sendStepPrompt(s)
}

// sendStepPrompt asks for the document of the session's current step
func (b *Bot) sendStepPrompt(s restore.Session) {
	table := s.Step.Table()
	if table == "" {
		return
	}

	number := 1
	if table == models.TableDownloads {
		number = 2
	}
	text := fmt.Sprintf("♻️ Восстановление базы данных\n\nШаг %d из 2: отправьте файл %s_backup_*.json "+
		"(таблица «%s») или нажмите «Пропустить».", number, table, tableTitle(table))

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⏭ Пропустить", callbackRestoreSkip+table),
		),
	)
	msg := b.sendWithKeyboard(s.ChatID, text, keyboard)
	b.restore.SetPrompt(s.AdminID, msg.MessageID)
}

// handleRestoreDocument applies an uploaded backup document to the current step
func (b *Bot) handleRestoreDocument(ctx context.Context, message *tgbotapi.Message) {
	adminID, chatID := message.From.ID, message.Chat.ID

	s, ok := b.restore.Registry().Get(adminID)
	if !ok {
		b.sendText(chatID, "Нет активного восстановления. Используйте /restore.")
		return
	}

	path := filepath.Join(s.Dir, uuid.NewString()+".json")
	if err := b.fetchFile(ctx, message.Document.FileID, path); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			b.logger.Debug("Failed to remove partial upload", zap.String("path", path), zap.Error(rmErr))
		}
		b.logger.Error("Failed to fetch restore document",
			zap.Int64("admin_id", adminID),
			zap.String("file_name", message.Document.FileName),
			zap.Error(err),
		)
		b.sendText(chatID, "❌ Не удалось загрузить файл. Попробуйте отправить его ещё раз.")
		return
	}

	res, err := b.restore.SubmitFile(ctx, adminID, path)
	if err != nil {
		b.reportRestoreError(chatID, res, err)
		return
	}
	b.reportStep(res)
}

// handleRestoreSkip skips the step named by the pressed button
func (b *Bot) handleRestoreSkip(ctx context.Context, query *tgbotapi.CallbackQuery, table string) {
	res, err := b.restore.Skip(ctx, query.From.ID, table)
	switch {
	case errors.Is(err, restore.ErrNoSession):
		b.answerCallback(query.ID, "Нет активного восстановления.", true)
		return
	case errors.Is(err, restore.ErrWrongStep):
		b.answerCallback(query.ID, "Этот шаг уже пройден.", true)
		return
	case errors.Is(err, restore.ErrBusy):
		b.answerCallback(query.ID, "Файл ещё обрабатывается, подождите.", true)
		return
	case err != nil:
		b.logger.Error("Failed to skip restore step", zap.Int64("admin_id", query.From.ID), zap.Error(err))
		b.answerCallback(query.ID, "Ошибка. Попробуйте ещё раз.", true)
		return
	}

	b.answerCallback(query.ID, "Пропущено", false)
	b.reportStep(res)
}

// reportStep edits the previous prompt to the step outcome, then prompts for
// the next step or sends the final summary
func (b *Bot) reportStep(res restore.Result) {
	s := res.Session

	outcome := restore.Outcome{Restored: res.Restored, Skipped: res.Skipped}
	if res.Skipped {
		metrics.RecordRestoreStep(res.Table, "skipped")
	} else {
		metrics.RecordRestoreStep(res.Table, "restored")
	}
	b.editText(s.ChatID, s.PromptMessageID, outcomeLine(res.Table, outcome))

	if !res.Completed {
		b.sendStepPrompt(s)
		return
	}

	metrics.RestoreSessionsActive.Set(float64(b.restore.Registry().Active()))
	done, ok := s.Step.(restore.Done)
	if !ok {
		return
	}
	b.sendText(s.ChatID, fmt.Sprintf("🏁 Восстановление завершено\n\n%s\n%s",
		outcomeLine(models.TableUsers, done.Users),
		outcomeLine(models.TableDownloads, done.Downloads),
	))
}

func (b *Bot) reportRestoreError(chatID int64, res restore.Result, err error) {
	var storeErr *backup.StoreError

	switch {
	case errors.Is(err, restore.ErrNoSession):
		b.sendText(chatID, "Нет активного восстановления. Используйте /restore.")
	case errors.Is(err, restore.ErrBusy):
		b.sendText(chatID, "⏳ Предыдущий файл ещё обрабатывается, подождите.")
	case errors.Is(err, restore.ErrWrongStep):
		b.sendText(chatID, "Этот шаг уже пройден.")
	case errors.Is(err, backup.ErrValidation):
		metrics.RecordRestoreStep(res.Table, "invalid")
		b.sendText(chatID, fmt.Sprintf("❌ Файл не прошёл проверку: %v\n\n"+
			"Отправьте корректный файл для таблицы «%s» или нажмите «Пропустить».", err, tableTitle(res.Table)))
	case errors.As(err, &storeErr):
		metrics.RecordRestoreStep(res.Table, "failed")
		b.sendText(chatID, fmt.Sprintf("❌ Ошибка базы данных при восстановлении таблицы «%s»: %v\n\n"+
			"Шаг не завершён, отправьте файл ещё раз.", tableTitle(res.Table), storeErr.Err))
	default:
		metrics.RecordRestoreStep(res.Table, "failed")
		b.sendText(chatID, fmt.Sprintf("❌ Ошибка при восстановлении: %v", err))
	}
}

func outcomeLine(table string, o restore.Outcome) string {
	if o.Skipped {
		return fmt.Sprintf("⏭ %s: пропущено", tableTitle(table))
	}
	return fmt.Sprintf("✅ %s: восстановлено записей: %d", tableTitle(table), o.Restored)
}

func stepTitle(table string) string {
	if table == "" {
		return "завершение"
	}
	return tableTitle(table)
}

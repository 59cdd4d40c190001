package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ymbot/internal/backup"
	"ymbot/internal/models"
)

// DocumentSender delivers a file to a chat
type DocumentSender interface {
	SendDocument(ctx context.Context, chatID int64, path, caption string) error
}

// TableTitles are the human-readable table names used in captions
var TableTitles = map[string]string{
	models.TableUsers:     "Пользователи",
	models.TableDownloads: "Скачивания",
}

// Caption builds the message attached to a scheduled backup document
func Caption(table string, count int) string {
	title, ok := TableTitles[table]
	if !ok {
		title = table
	}
	return fmt.Sprintf("📦 Еженедельный резервный бэкап\nТаблица: %s\nЗаписей: %d", title, count)
}

// ExportJob exports the store through guard and sends both documents to
// recipient. The exported files are removed afterwards whether delivery
// succeeded or not.
func ExportJob(src backup.Source, guard *backup.Guard, sender DocumentSender, recipient int64, logger *zap.Logger) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = &backup.Guard{}
	}
	return func(ctx context.Context, due time.Time) error {
		files, err := guard.Export(ctx, src, "")
		if err != nil {
			return fmt.Errorf("failed to export backup: %w", err)
		}
		defer backup.Cleanup(files, logger)

		for _, table := range backup.Tables {
			f := files[table]
			if err := sender.SendDocument(ctx, recipient, f.Path, Caption(table, f.Count)); err != nil {
				return fmt.Errorf("failed to send %s backup: %w", table, err)
			}
		}

		logger.Info("Backup delivered",
			zap.Int64("recipient", recipient),
			zap.Int("users", files[models.TableUsers].Count),
			zap.Int("downloads", files[models.TableDownloads].Count),
		)
		return nil
	}
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ymbot/internal/catalog"
	"ymbot/internal/metrics"
)

const (
	unknownTitle     = "Неизвестный трек"
	unknownPerformer = "Неизвестный исполнитель"
)

// handleMusicLink routes a catalog link to the track or album flow
func (b *Bot) handleMusicLink(ctx context.Context, message *tgbotapi.Message) {
	link, err := catalog.ParseURL(message.Text)
	if err != nil {
		b.logger.Info("Unsupported music link", zap.Int64("user_id", message.From.ID), zap.String("text", message.Text))
		b.sendText(message.Chat.ID, "❌ Не удалось распознать ссылку. Отправьте ссылку на трек или альбом, например:\n"+exampleTrackInAlbum)
		return
	}

	b.logger.Info("Processing music link",
		zap.Int64("user_id", message.From.ID),
		zap.String("kind", link.Kind.String()),
		zap.String("track_id", link.TrackID),
		zap.String("album_id", link.AlbumID),
	)

	if link.Kind == catalog.KindAlbum {
		b.handleAlbum(ctx, message, link)
		return
	}
	b.handleTrack(ctx, message, link)
}

func (b *Bot) handleTrack(ctx context.Context, message *tgbotapi.Message, link catalog.Link) {
	chatID := message.Chat.ID
	status := b.sendText(chatID, "🔍 Ищу трек по ссылке...")
	start := time.Now()

	track, err := b.catalog.Track(ctx, link.TrackRef())
	if err == nil && !track.Available {
		err = catalog.ErrUnavailable
	}
	if err == nil {
		b.editText(chatID, status.MessageID, "⏳ Скачиваю трек...")
		err = b.deliverTrack(ctx, chatID, message.From.ID, track)
	}
	metrics.RecordDownload("track", time.Since(start), err)

	if err != nil {
		b.logger.Warn("Track download failed",
			zap.Int64("user_id", message.From.ID),
			zap.String("track", link.TrackRef()),
			zap.Error(err),
		)
		b.editText(chatID, status.MessageID, failureText("трек", err))
		return
	}
	b.deleteMessage(chatID, status.MessageID)
}

func (b *Bot) handleAlbum(ctx context.Context, message *tgbotapi.Message, link catalog.Link) {
	chatID := message.Chat.ID
	status := b.sendText(chatID, "🔍 Ищу альбом по ссылке...")
	start := time.Now()

	album, err := b.catalog.AlbumWithTracks(ctx, link.AlbumID)
	if err == nil && len(album.Tracks()) == 0 {
		err = catalog.ErrUnavailable
	}
	if err != nil {
		metrics.RecordDownload("album", time.Since(start), err)
		b.logger.Warn("Album lookup failed",
			zap.Int64("user_id", message.From.ID),
			zap.String("album_id", link.AlbumID),
			zap.Error(err),
		)
		b.editText(chatID, status.MessageID, failureText("альбом", err))
		return
	}

	tracks := album.Tracks()
	b.editText(chatID, status.MessageID, fmt.Sprintf("💿 %s - %s\n📂 Треков: %d\n\n📤 Отправляю треки... Это может занять некоторое время.",
		orDefault(album.Performer(), unknownPerformer), album.Title, len(tracks)))

	pacer := b.newPacer()
	sent := 0
	for i, t := range tracks {
		if err := pacer.Wait(ctx); err != nil {
			break
		}
		if !t.Available {
			b.sendText(chatID, fmt.Sprintf("⚠️ Трек %d недоступен: %s", i+1, orDefault(t.Title, unknownTitle)))
			continue
		}
		if err := b.deliverTrack(ctx, chatID, message.From.ID, t); err != nil {
			b.logger.Warn("Album track failed",
				zap.String("album_id", link.AlbumID),
				zap.String("track_id", string(t.ID)),
				zap.Int("position", i+1),
				zap.Error(err),
			)
			b.sendText(chatID, fmt.Sprintf("⚠️ Не удалось отправить трек %d: %s", i+1, orDefault(t.Title, unknownTitle)))
			continue
		}
		sent++
	}

	var result error
	if sent == 0 {
		result = catalog.ErrUnavailable
	}
	metrics.RecordDownload("album", time.Since(start), result)

	if sent == len(tracks) {
		b.sendText(chatID, fmt.Sprintf("✅ Все %d треков успешно отправлены!", sent))
	} else {
		b.sendText(chatID, fmt.Sprintf("⚠️ Отправлено %d из %d треков.\nНекоторые треки не удалось отправить из-за ошибок.", sent, len(tracks)))
	}
	b.deleteMessage(chatID, status.MessageID)
}

// deliverTrack downloads one track, sends it as audio and records the download.
// The local file is removed on every path.
func (b *Bot) deliverTrack(ctx context.Context, chatID, userID int64, track catalog.Track) error {
	title := orDefault(track.Title, unknownTitle)
	performer := orDefault(track.Performer(), unknownPerformer)

	name := fmt.Sprintf("%s - %s_%s.mp3", catalog.SafeFileName(performer), catalog.SafeFileName(title), uuid.NewString()[:8])
	path := filepath.Join(b.opts.DownloadDir, name)
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			b.logger.Warn("Failed to remove downloaded track", zap.String("path", path), zap.Error(err))
		}
	}()

	if err := b.catalog.Download(ctx, string(track.ID), path); err != nil {
		return err
	}
	if err := b.sendAudio(chatID, path, title, performer); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}

	if err := b.db.AddDownload(ctx, userID, title, performer); err != nil {
		b.logger.Error("Failed to record download", zap.Int64("user_id", userID), zap.Error(err))
	}
	return nil
}

// failureText explains a failed track or album request; what names the object
func failureText(what string, err error) string {
	if errors.Is(err, catalog.ErrNotFound) || errors.Is(err, catalog.ErrUnavailable) {
		return fmt.Sprintf("❌ Не удалось скачать %s. Возможные причины:\n\n"+
			"• Недоступно для скачивания\n"+
			"• Ссылка некорректна\n"+
			"Попробуйте другую ссылку или повторите попытку позже.", what)
	}
	return fmt.Sprintf("❌ Произошла ошибка при обработке запроса: %v\n\n"+
		"Пожалуйста, проверьте ссылку и попробуйте снова.", err)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// sendMessage sends a prepared message; the zero Message is returned on failure
func (b *Bot) sendMessage(msg tgbotapi.MessageConfig) tgbotapi.Message {
	sent, err := b.api.Send(msg)
	if err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
	}
	return sent
}

func (b *Bot) sendText(chatID int64, text string) tgbotapi.Message {
	return b.sendMessage(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) sendWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) tgbotapi.Message {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	return b.sendMessage(msg)
}

// editText replaces the text of a message and drops its inline keyboard
func (b *Bot) editText(chatID int64, messageID int, text string) {
	if messageID == 0 {
		return
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := b.api.Request(edit); err != nil {
		b.logger.Warn("Failed to edit message",
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", messageID),
			zap.Error(err),
		)
	}
}

func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.logger.Debug("Failed to delete message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) answerCallback(queryID, text string, alert bool) {
	callback := tgbotapi.NewCallback(queryID, text)
	callback.ShowAlert = alert
	if _, err := b.api.Request(callback); err != nil {
		b.logger.Debug("Failed to answer callback", zap.Error(err))
	}
}

// SendDocument uploads a local file to chatID
func (b *Bot) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = caption
	if _, err := b.api.Send(doc); err != nil {
		return fmt.Errorf("failed to send document: %w", err)
	}
	return nil
}

func (b *Bot) sendAudio(chatID int64, path, title, performer string) error {
	audio := tgbotapi.NewAudio(chatID, tgbotapi.FilePath(path))
	audio.Title = title
	audio.Performer = performer
	audio.Caption = audioCaption(performer, title, b.opts.BotUsername)
	_, err := b.api.Send(audio)
	return err
}

func audioCaption(performer, title, botUsername string) string {
	caption := fmt.Sprintf("🎵 %s - %s", performer, title)
	if botUsername != "" {
		caption += "\n\n🛠Сделано с помощью @" + botUsername
	}
	return caption
}

// fetchFile downloads a Telegram file into path
func (b *Bot) fetchFile(ctx context.Context, fileID, path string) error {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return fmt.Errorf("failed to resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := b.files.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("failed to save file: %w", err)
	}
	return f.Close()
}

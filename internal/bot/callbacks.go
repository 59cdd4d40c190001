package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	callbackCheckSub    = "check_sub"
	callbackRestoreSkip = "restore_skip:"
)

// subscribedStatuses are chat member statuses that pass the subscription gate
var subscribedStatuses = map[string]bool{
	"member":        true,
	"administrator": true,
	"creator":       true,
}

// isSubscribed reports whether userID is a member of the configured channel.
// Lookup errors count as not subscribed.
func (b *Bot) isSubscribed(ctx context.Context, userID int64) bool {
	if b.opts.ChannelUsername == "" {
		return true
	}

	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			SuperGroupUsername: b.opts.ChannelUsername,
			UserID:             userID,
		},
	})
	if err != nil {
		b.logger.Error("Failed to check channel subscription",
			zap.Int64("user_id", userID),
			zap.String("channel", b.opts.ChannelUsername),
			zap.Error(err),
		)
		return false
	}
	return subscribedStatuses[member.Status]
}

// ensureSubscribed sends the subscription prompt when the user is not subscribed
func (b *Bot) ensureSubscribed(ctx context.Context, userID, chatID int64) bool {
	if b.isSubscribed(ctx, userID) {
		return true
	}
	b.sendSubscriptionPrompt(chatID)
	return false
}

func (b *Bot) sendSubscriptionPrompt(chatID int64) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("✅ Подписаться на канал", b.opts.ChannelLink),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Проверить подписку", callbackCheckSub),
		),
	)
	text := fmt.Sprintf("Для использования бота, пожалуйста, подпишитесь на наш канал: %s\n\n"+
		"После подписки нажмите кнопку 'Проверить подписку'.", b.opts.ChannelLink)
	b.sendWithKeyboard(chatID, text, keyboard)
}

// handleCheckSubscription re-checks the subscription after the user pressed the button
func (b *Bot) handleCheckSubscription(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if !b.isSubscribed(ctx, query.From.ID) {
		b.answerCallback(query.ID, "Вы все еще не подписаны. Пожалуйста, подпишитесь и попробуйте снова.", true)
		return
	}

	if query.Message != nil {
		b.editText(query.Message.Chat.ID, query.Message.MessageID,
			"🎉 Спасибо за подписку! Теперь вы можете пользоваться ботом.\n"+
				"Отправьте мне ссылку на трек или используйте команду /start.")
	}
	b.answerCallback(query.ID, "", false)
}

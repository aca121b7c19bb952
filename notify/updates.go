package notify

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// GetUpdates long-polls for messages after offset, waiting up to wait.
func (t *Telegram) GetUpdates(ctx context.Context, offset int, wait time.Duration) ([]tgbotapi.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := tgbotapi.NewUpdate(offset)
	u.Timeout = int(wait.Seconds())
	u.AllowedUpdates = []string{"message"}
	return t.bot.GetUpdates(u)
}

// ReplyWithChatID answers every incoming message with the id of its chat
// until ctx is canceled. It is used once, to discover the ids to configure.
func (t *Telegram) ReplyWithChatID(ctx context.Context, wait time.Duration) error {
	offset := 0
	for {
		updates, err := t.GetUpdates(ctx, offset, wait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("polling updates failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil || u.Message.Chat == nil {
				continue
			}
			chatID := strconv.FormatInt(u.Message.Chat.ID, 10)
			slog.Info("chat id requested",
				slog.String("chat_id", chatID),
				slog.String("type", u.Message.Chat.Type),
			)
			if err := t.SendText(ctx, []string{chatID}, "Chat ID: "+chatID); err != nil {
				slog.Warn("reply failed", slog.String("chat_id", chatID), slog.Any("error", err))
			}
		}
	}
}

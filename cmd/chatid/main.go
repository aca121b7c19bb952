// Command chatid answers every message sent to the bot with the chat id,
// which is what TELEGRAM_CHAT_IDS expects.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/otodombot/config"
	"github.com/aluiziolira/otodombot/notify"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg, err := config.Load("")
	if err != nil {
		slog.Error("loading configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.TelegramToken == "" {
		slog.Error("TELEGRAM_TOKEN is not set")
		os.Exit(1)
	}

	bot, err := notify.NewTelegram(cfg.TelegramToken)
	if err != nil {
		slog.Error("creating telegram client", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("send any message to the bot to get its chat id", slog.String("bot", "@"+bot.Username()))
	if err := bot.ReplyWithChatID(ctx, 30*time.Second); err != nil {
		slog.Error("polling stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier sends alerts through the Telegram Bot API.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID string
	log    *slog.Logger
}

// NewTelegramNotifier authenticates the bot (getMe) and targets chatID, which
// is either a numeric chat id or an "@channel" username.
func NewTelegramNotifier(botToken, chatID string) (*TelegramNotifier, error) {
	return newTelegramNotifier(botToken, chatID, tgbotapi.APIEndpoint)
}

func newTelegramNotifier(botToken, chatID, endpoint string) (*TelegramNotifier, error) {
	if botToken == "" || chatID == "" {
		return nil, fmt.Errorf("telegram: bot token and chat id are required")
	}
	client := &http.Client{Timeout: 10 * time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(botToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		log:    slog.With("component", "telegram", "bot", bot.Self.UserName),
	}, nil
}

// Send posts the alert as a MarkdownV2 message. The Bot API client has no
// context support, so ctx is only checked before sending.
func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}
	text := fmt.Sprintf("%s *%s*\n\n%s", emoji,
		tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, alert.Title),
		tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, alert.Message))

	var msg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(t.chatID, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(id, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(t.chatID, text)
	}
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	t.log.Debug("sent alert", "title", alert.Title)
	return nil
}

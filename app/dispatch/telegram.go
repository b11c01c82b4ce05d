package dispatch

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotSender is the subset of tgbotapi.BotAPI used for delivery.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramTransport struct {
	bot BotSender
}

var _ Transport = (*TelegramTransport)(nil)

func NewTelegramTransport(token string) (*TelegramTransport, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramTransport{bot: api}, nil
}

func NewTelegramTransportWithBot(bot BotSender) *TelegramTransport {
	return &TelegramTransport{bot: bot}
}

func (t *TelegramTransport) Name() string {
	return TransportTelegram
}

func (t *TelegramTransport) Send(ctx context.Context, n Notification) error {
	if n.ChatID == 0 {
		return fmt.Errorf("telegram chat id is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.ChatID, FormatTelegramText(n))
	msg.DisableWebPagePreview = n.URL == ""
	msg.DisableNotification = n.Priority <= PriorityLow

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// FormatTelegramText renders a plain-text message: title, body and link.
func FormatTelegramText(n Notification) string {
	var b strings.Builder
	if n.Priority >= PriorityHigh {
		b.WriteString(strings.Repeat("!", n.Priority-PriorityDefault))
		b.WriteString(" ")
	}
	b.WriteString(n.Title)
	if n.Message != "" && n.Message != n.Title {
		b.WriteString("\n\n")
		b.WriteString(n.Message)
	}
	if n.URL != "" {
		b.WriteString("\n\n")
		b.WriteString(n.URL)
	}
	return b.String()
}

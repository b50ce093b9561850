package alert

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramChannel delivers alerts through a real bot session instead of the
// teacher's hand-rolled net/http POST to the Bot API: the library already
// owns retry/parse-mode/rate-limit handling that the raw HTTP version in
// the teacher repo reimplements by hand.
type TelegramChannel struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramChannel dials the bot once at startup, the same place the
// teacher constructs its http.Client. A bad token fails fast here rather
// than on the first alert send.
func NewTelegramChannel(botToken, chatID string) (*TelegramChannel, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("alert: telegram bot init: %w", err)
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("alert: telegram chat id %q: %w", chatID, err)
	}
	return &TelegramChannel{bot: bot, chatID: id}, nil
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Send(ctx context.Context, payload Payload) error {
	icon := "ℹ️"
	switch payload.Level {
	case LevelWarning:
		icon = "⚠️"
	case LevelError:
		icon = "❌"
	case LevelCritical:
		icon = "\U0001f6a8"
	}

	text := fmt.Sprintf("%s *[%s] %s*\n\n%s", icon, payload.Level, payload.Title, payload.Message)
	for k, v := range payload.Fields {
		text += fmt.Sprintf("\n- *%s*: %s", k, v)
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := t.bot.Send(msg)
		done <- result{err: err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-done:
		return r.err
	}
}

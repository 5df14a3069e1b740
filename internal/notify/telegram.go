package notify

import (
	"context"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"assistant/internal/storage"
	logx "assistant/pkg/logx"
)

// TelegramSender delivers messages through the Telegram Bot API.
type TelegramSender struct {
	bot *tele.Bot
	log logx.Logger
}

type TelegramConfig struct {
	Token       string
	PollTimeout time.Duration
}

func NewTelegramSender(cfg TelegramConfig, log logx.Logger) (*TelegramSender, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, log: log}, nil
}

func (t *TelegramSender) Name() string        { return "telegram" }
func (t *TelegramSender) DisplayName() string { return "Telegram" }

func (t *TelegramSender) Available(u storage.User) bool {
	return strings.TrimSpace(u.TelegramChatID) != ""
}

func (t *TelegramSender) Send(ctx context.Context, u storage.User, text string) bool {
	chatID, err := strconv.ParseInt(strings.TrimSpace(u.TelegramChatID), 10, 64)
	if err != nil {
		t.log.Warn("telegram chat id is not numeric", logx.String("chat_id", u.TelegramChatID))
		return false
	}
	if _, err := t.bot.Send(tele.ChatID(chatID), text, tele.ModeHTML); err != nil {
		t.log.Warn("telegram send failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return false
	}
	t.log.Debug("telegram message sent", logx.Int64("chat_id", chatID))
	return true
}

// internal/infra/telegram/notifier.go
package telegram

import (
	"fmt"
	"time"

	"gopkg.in/telebot.v3"

	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/session"
)

// Notifier delivers bot notifications to a single Telegram chat using the
// gopkg.in/telebot.v3 library. It implements notify.Notifier.
type Notifier struct {
	bot  *telebot.Bot
	chat telebot.ChatID
}

// NewNotifier builds the bot client and verifies the token against the
// Telegram API. The bot is used for sending only; no poller is started.
func NewNotifier(token string, chatID int64) (*Notifier, error) {
	bot, err := telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return &Notifier{bot: bot, chat: telebot.ChatID(chatID)}, nil
}

// Notify sends a titled text message to the configured chat.
func (n *Notifier) Notify(title, message string) error {
	text := fmt.Sprintf("%s\n\n%s", title, message)
	if _, err := n.bot.Send(n.chat, text); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

// NotifyBooking announces a successful reservation for one slot.
func (n *Notifier) NotifyBooking(accountName string, cat session.Category, date, timeRange string) error {
	text := fmt.Sprintf("[%s] Reserved a %s slot!\n\n%s\n  -> %s", accountName, cat, date, timeRange)
	if _, err := n.bot.Send(n.chat, text); err != nil {
		return fmt.Errorf("sending booking notification: %w", err)
	}
	return nil
}

package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	sectionsense "github.com/jacobmichels/Section-Sense-Go"
	"github.com/jacobmichels/Section-Sense-Go/config"
	"github.com/rs/zerolog/log"
)

var _ sectionsense.Messenger = Telegram{}

// Telegram delivers messages to the chat whose id is the account id
type Telegram struct {
	bot *tgbotapi.BotAPI
}

func NewTelegram(cfg config.Telegram) (Telegram, error) {
	return NewTelegramWithClient(cfg, &http.Client{})
}

// NewTelegramWithClient verifies the token against the bot API using a copy of client.
// cfg.Timeout applies when client has no timeout of its own.
func NewTelegramWithClient(cfg config.Telegram, client *http.Client) (Telegram, error) {
	c := *client
	if c.Timeout == 0 {
		c.Timeout = cfg.Timeout
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, &c)
	if err != nil {
		return Telegram{}, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug

	log.Info().Str("module", "notifier").Str("bot", bot.Self.UserName).Msg("telegram bot authorized")

	return Telegram{bot}, nil
}

func (t Telegram) Send(ctx context.Context, id string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chatID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("account id %q is not a telegram chat id: %w", id, err)
	}

	message := tgbotapi.MessageConfig{
		BaseChat: tgbotapi.BaseChat{
			ChatID: chatID,
		},
		Text:                  text,
		ParseMode:             tgbotapi.ModeMarkdown,
		DisableWebPagePreview: true,
	}

	// bot.Send takes no context, an abandoned request ends on the client timeout
	errChan := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(message)
		errChan <- err
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("failed to send telegram message: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("abandoned telegram message: %w", ctx.Err())
	}
}

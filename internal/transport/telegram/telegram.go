// Package telegram adapts the messaging transport behind a small
// send-only surface. Update handling (chat commands, account linking)
// lives in a separate service and is not part of this worker.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"deliverybot/internal/config"
)

type Adapter struct {
	bot       *tele.Bot
	webAppURL string
	log       zerolog.Logger
}

func New(cfg config.TelegramConfig, log zerolog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token: cfg.Token,
		// Send-only bot: no poller. The HTTP client timeout is the only
		// thing bounding a send, so keep it short.
		Client: &http.Client{Timeout: cfg.SendTimeout.OrDefault(10 * time.Second)},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{bot: b, webAppURL: cfg.WebAppURL, log: log}, nil
}

// SendPhoto delivers an image with an HTML caption and, when buttonText
// is set, an inline keyboard opening the web app. Fire-and-forget: the
// caller decides what a failure means.
func (a *Adapter) SendPhoto(ctx context.Context, chatID int64, path, caption, buttonText string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	photo := &tele.Photo{File: tele.FromDisk(path), Caption: caption}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
	if a.webAppURL != "" && buttonText != "" {
		rm := &tele.ReplyMarkup{}
		rm.Inline(rm.Row(rm.WebApp(buttonText, &tele.WebApp{URL: a.webAppURL})))
		opts.ReplyMarkup = rm
	}

	_, err := a.bot.Send(tele.ChatID(chatID), photo, opts)
	return err
}

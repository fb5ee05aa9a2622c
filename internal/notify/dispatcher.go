// Package notify fans a rendered delivery note out to every resolved
// recipient. Delivery is at-most-once: transport failures are logged and
// dropped, never retried, never fatal to the owning cycle.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"deliverybot/internal/config"
	"deliverybot/internal/domain"
	"deliverybot/internal/render"
)

// Sender is the transport surface the dispatcher needs.
type Sender interface {
	SendPhoto(ctx context.Context, chatID int64, path, caption, buttonText string) error
}

type Dispatcher struct {
	sender  Sender
	limiter *rate.Limiter
	timeout time.Duration
	log     zerolog.Logger
}

func New(sender Sender, cfg config.TelegramConfig, log zerolog.Logger) *Dispatcher {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	return &Dispatcher{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		timeout: cfg.SendTimeout.OrDefault(10 * time.Second),
		log:     log,
	}
}

// SetRate re-applies the send rate on config reload.
func (d *Dispatcher) SetRate(perSec int) {
	if perSec <= 0 {
		perSec = 5
	}
	d.limiter.SetLimit(rate.Limit(perSec))
	d.limiter.SetBurst(perSec)
}

// Caption builds the notification text. Shared by every recipient of a
// document; only the button text varies by role.
func Caption(doc domain.Document) string {
	return fmt.Sprintf(
		"📦 <b>New delivery received</b>\n\n№ %s\nAmount: %s %s\nManager: %s\n\nTap below to review 👇",
		doc.DocNum, render.Amount(doc.TotalAmount), doc.Currency, doc.SalesManager,
	)
}

// ButtonText picks the web-app affordance label. Role changes display
// text only, never control flow.
func ButtonText(role string) string {
	if role == domain.RoleApprover {
		return "✅ Review & approve"
	}
	return "📦 View deliveries"
}

// FanOut sends the same rendered image to each recipient independently
// and reports how many attempts failed. A failed send never aborts the
// remaining recipients.
func (d *Dispatcher) FanOut(ctx context.Context, doc domain.Document, recipients []domain.Recipient, img render.RenderedImage) (sent, failed int) {
	caption := Caption(doc)
	for _, r := range recipients {
		if err := d.send(ctx, r, img, caption); err != nil {
			failed++
			d.log.Warn().Err(err).
				Int64("chat_id", r.TelegramID).
				Str("doc_num", doc.DocNum).
				Msg("notification send failed; dropped")
			continue
		}
		sent++
	}
	return sent, failed
}

func (d *Dispatcher) send(ctx context.Context, r domain.Recipient, img render.RenderedImage, caption string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.sender.SendPhoto(sctx, r.TelegramID, img.Path, caption, ButtonText(r.Role))
}

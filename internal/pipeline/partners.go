package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"deliverybot/internal/domain"
)

// PartnerSource lists business partners from the source system.
type PartnerSource interface {
	Partners(ctx context.Context) (map[string]domain.Partner, error)
}

// PartnerStore is the account-link surface of the local store.
type PartnerStore interface {
	VerifiedUsers(ctx context.Context) ([]domain.UserLink, error)
	ApplyPartnerLink(ctx context.Context, u domain.UserLink) error
}

// PartnerSync refreshes account/counterpart links. The source system is
// authoritative: a phone-verified account matching a valid partner by
// normalized phone becomes active with that partner's card code; anyone
// else is deactivated.
type PartnerSync struct {
	src   PartnerSource
	store PartnerStore
	log   zerolog.Logger
}

func NewPartnerSync(src PartnerSource, store PartnerStore, log zerolog.Logger) *PartnerSync {
	return &PartnerSync{src: src, store: store, log: log}
}

func (p *PartnerSync) Run(ctx context.Context) error {
	partners, err := p.src.Partners(ctx)
	if err != nil {
		return fmt.Errorf("load partners: %w", err)
	}

	byPhone := make(map[string]domain.Partner, len(partners))
	for _, bp := range partners {
		if ph := normalizePhone(bp.Phone); ph != "" {
			byPhone[ph] = bp
		}
	}

	users, err := p.store.VerifiedUsers(ctx)
	if err != nil {
		return fmt.Errorf("load verified users: %w", err)
	}

	var linked, dropped int
	for _, u := range users {
		bp, ok := byPhone[normalizePhone(u.PhoneNumber)]
		if ok && bp.Valid {
			u.CardCode = bp.CardCode
			u.CardName = bp.CardName
			u.Active = true
			linked++
		} else {
			u.Active = false
			dropped++
		}
		if err := p.store.ApplyPartnerLink(ctx, u); err != nil {
			p.log.Error().Err(err).Int64("telegram_id", u.TelegramID).Msg("partner link update failed")
		}
	}

	p.log.Info().
		Int("partners", len(partners)).
		Int("linked", linked).
		Int("deactivated", dropped).
		Msg("partner sync finished")
	return nil
}

// normalizePhone strips the separators people type into phone fields so
// "+998 90 123-45-67" and "998901234567" compare equal.
func normalizePhone(s string) string {
	return strings.NewReplacer(" ", "", "-", "", "+", "", "(", "", ")", "").Replace(s)
}

package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"deliverybot/internal/store"
)

// ApprovalWriter flips the approval flag on the source system.
type ApprovalWriter interface {
	ApproveDelivery(ctx context.Context, docEntry int64) error
}

type ApprovalStore interface {
	PendingApprovals(ctx context.Context) ([]store.ApprovalRef, error)
	MarkApprovalSynced(ctx context.Context, docEntry int64) error
}

// ApprovalSync writes locally approved deliveries back upstream.
// sap_synced is only set after the source confirms, so a failed write
// is simply retried next period.
type ApprovalSync struct {
	writer ApprovalWriter
	store  ApprovalStore
	log    zerolog.Logger
}

func NewApprovalSync(writer ApprovalWriter, st ApprovalStore, log zerolog.Logger) *ApprovalSync {
	return &ApprovalSync{writer: writer, store: st, log: log}
}

func (a *ApprovalSync) Run(ctx context.Context) error {
	pending, err := a.store.PendingApprovals(ctx)
	if err != nil {
		return fmt.Errorf("load pending approvals: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	var synced int
	for _, ref := range pending {
		if err := a.writer.ApproveDelivery(ctx, ref.DocEntry); err != nil {
			a.log.Warn().Err(err).Str("doc_num", ref.DocNum).Msg("approval write-back failed; will retry")
			continue
		}
		if err := a.store.MarkApprovalSynced(ctx, ref.DocEntry); err != nil {
			a.log.Error().Err(err).Str("doc_num", ref.DocNum).Msg("approval synced state not recorded")
			continue
		}
		synced++
		a.log.Info().Str("doc_num", ref.DocNum).Msg("approval written back")
	}

	a.log.Info().Int("pending", len(pending)).Int("synced", synced).Msg("approval sync finished")
	return nil
}

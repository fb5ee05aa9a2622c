package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"deliverybot/internal/domain"
)

// OrderPusher creates one sales order upstream and returns the
// source-assigned (doc entry, doc number).
type OrderPusher interface {
	CreateOrder(ctx context.Context, o domain.Order) (docEntry int64, docNum string, err error)
}

type OrderStore interface {
	NewOrders(ctx context.Context) ([]domain.Order, error)
	MarkOrderSynced(ctx context.Context, orderID, sapDocEntry int64, sapDocNum string) error
	MarkOrderFailed(ctx context.Context, orderID int64, msg string) error
}

// OrderSync pushes locally created orders upstream. Each order moves to
// synced or error independently; a rejected order records its error
// text and never blocks the rest of the batch.
type OrderSync struct {
	pusher OrderPusher
	store  OrderStore
	log    zerolog.Logger
}

func NewOrderSync(pusher OrderPusher, store OrderStore, log zerolog.Logger) *OrderSync {
	return &OrderSync{pusher: pusher, store: store, log: log}
}

func (o *OrderSync) Run(ctx context.Context) error {
	orders, err := o.store.NewOrders(ctx)
	if err != nil {
		return fmt.Errorf("load new orders: %w", err)
	}
	if len(orders) == 0 {
		return nil
	}

	var pushed, failed int
	for _, ord := range orders {
		docEntry, docNum, err := o.pusher.CreateOrder(ctx, ord)
		if err != nil {
			failed++
			o.log.Warn().Err(err).Int64("order_id", ord.ID).Msg("order push rejected")
			if err := o.store.MarkOrderFailed(ctx, ord.ID, err.Error()); err != nil {
				o.log.Error().Err(err).Int64("order_id", ord.ID).Msg("order error state not recorded")
			}
			continue
		}
		pushed++
		if err := o.store.MarkOrderSynced(ctx, ord.ID, docEntry, docNum); err != nil {
			o.log.Error().Err(err).Int64("order_id", ord.ID).Msg("order synced state not recorded")
		}
	}

	o.log.Info().Int("pushed", pushed).Int("failed", failed).Msg("order sync finished")
	return nil
}

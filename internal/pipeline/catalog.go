package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"deliverybot/internal/domain"
)

// CatalogSource fetches the current sales item list from the source.
type CatalogSource interface {
	Items(ctx context.Context) ([]domain.Item, error)
}

type CatalogStore interface {
	UpsertItem(ctx context.Context, it domain.Item) error
}

// CatalogSync mirrors the source item list into the local catalog.
// Upserts are independent: one bad row is logged and skipped.
type CatalogSync struct {
	src   CatalogSource
	store CatalogStore
	log   zerolog.Logger
}

func NewCatalogSync(src CatalogSource, store CatalogStore, log zerolog.Logger) *CatalogSync {
	return &CatalogSync{src: src, store: store, log: log}
}

func (c *CatalogSync) Run(ctx context.Context) error {
	items, err := c.src.Items(ctx)
	if err != nil {
		return fmt.Errorf("fetch items: %w", err)
	}

	var failed int
	for _, it := range items {
		if err := c.store.UpsertItem(ctx, it); err != nil {
			failed++
			c.log.Error().Err(err).Str("item_code", it.ItemCode).Msg("item upsert failed")
		}
	}

	c.log.Info().Int("items", len(items)).Int("failed", failed).Msg("catalog sync finished")
	return nil
}

// Package pipeline holds the periodic sync pipelines: the delivery
// import/notify cycle and its siblings (partner links, item catalog,
// outbound orders, approval write-back). Each pipeline is strictly
// sequential within itself; pipelines share nothing but the store.
package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"deliverybot/internal/domain"
	"deliverybot/internal/render"
)

// Extractor pulls ordered flat rows for external ids past the cursor.
type Extractor interface {
	Extract(ctx context.Context, cursor int64) ([]domain.FlatRow, error)
}

// DeliveryStore is the persistence surface the delivery cycle uses.
type DeliveryStore interface {
	MaxDocEntry(ctx context.Context) (int64, error)
	InsertDelivery(ctx context.Context, doc domain.Document) (bool, error)
	RecipientsByCardCode(ctx context.Context, cardCode string) ([]domain.Recipient, error)
}

type Renderer interface {
	Render(doc domain.Document) (render.RenderedImage, error)
}

type Dispatcher interface {
	FanOut(ctx context.Context, doc domain.Document, recipients []domain.Recipient, img render.RenderedImage) (sent, failed int)
}

type cycleState string

const (
	stateIdle       cycleState = "idle"
	stateExtracting cycleState = "extracting"
	stateGrouping   cycleState = "grouping"
	statePersisting cycleState = "persisting_and_notifying"
)

// Coordinator runs one delivery sync cycle: extract past the cursor,
// group, persist each document in its own transaction, and notify the
// recipients of every document that was actually inserted.
type Coordinator struct {
	extractor  Extractor
	store      DeliveryStore
	renderer   Renderer
	dispatcher Dispatcher
	log        zerolog.Logger
}

func NewCoordinator(extractor Extractor, store DeliveryStore, renderer Renderer, dispatcher Dispatcher, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		extractor:  extractor,
		store:      store,
		renderer:   renderer,
		dispatcher: dispatcher,
		log:        log,
	}
}

func (c *Coordinator) step(s cycleState) {
	c.log.Debug().Str("state", string(s)).Msg("cycle state")
}

// RunCycle executes one full cycle. The returned error is the
// cycle-level kind only (cursor read or extraction); per-document
// failures are logged and contained so siblings keep flowing.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	defer c.step(stateIdle)

	c.step(stateExtracting)
	// The cursor is computed fresh every cycle, so a failed cycle
	// re-extracts exactly the documents that never committed.
	cursor, err := c.store.MaxDocEntry(ctx)
	if err != nil {
		return &ExtractError{Err: err}
	}
	rows, err := c.extractor.Extract(ctx, cursor)
	if err != nil {
		return &ExtractError{Err: err}
	}
	if len(rows) == 0 {
		c.log.Debug().Int64("cursor", cursor).Msg("no new delivery rows")
		return nil
	}

	c.step(stateGrouping)
	docs := domain.Group(rows)

	c.step(statePersisting)
	var inserted, skipped int
	for _, doc := range docs {
		ok, err := c.store.InsertDelivery(ctx, doc)
		if err != nil {
			// Per-document transaction: this one is retried on a future
			// cycle, siblings already committed stay committed.
			c.log.Error().Err(&PersistError{DocEntry: doc.DocEntry, Err: err}).
				Str("doc_num", doc.DocNum).Msg("delivery persist failed")
			continue
		}
		if !ok {
			skipped++
			continue
		}
		inserted++
		c.notifyDocument(ctx, doc)
	}

	c.log.Info().
		Int64("cursor", cursor).
		Int("rows", len(rows)).
		Int("documents", len(docs)).
		Int("inserted", inserted).
		Int("skipped", skipped).
		Msg("delivery sync cycle finished")
	return nil
}

// notifyDocument renders once and reuses the image across all of the
// document's recipients. Render or resolution failures skip this
// document's notifications only; the document itself stays persisted
// and is never re-notified; delivery is at most once.
func (c *Coordinator) notifyDocument(ctx context.Context, doc domain.Document) {
	recipients, err := c.store.RecipientsByCardCode(ctx, doc.CardCode)
	if err != nil {
		c.log.Error().Err(err).Str("card_code", doc.CardCode).
			Str("doc_num", doc.DocNum).Msg("recipient resolution failed; skipping notifications")
		return
	}
	if len(recipients) == 0 {
		c.log.Debug().Str("card_code", doc.CardCode).
			Str("doc_num", doc.DocNum).Msg("no active recipients")
		return
	}

	img, err := c.renderer.Render(doc)
	if err != nil {
		c.log.Error().Err(&RenderError{DocEntry: doc.DocEntry, Err: err}).
			Str("doc_num", doc.DocNum).Msg("render failed; skipping notifications")
		return
	}

	sent, failed := c.dispatcher.FanOut(ctx, doc, recipients, img)
	c.log.Info().
		Str("doc_num", doc.DocNum).
		Int("recipients", len(recipients)).
		Int("sent", sent).
		Int("failed", failed).
		Msg("delivery notifications dispatched")
}

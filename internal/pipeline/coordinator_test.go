package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"deliverybot/internal/domain"
	"deliverybot/internal/render"
)

// ---- fakes ----

type fakeExtractor struct {
	rows []domain.FlatRow
	err  error
	// ignoreCursor simulates a source whose snapshot overlaps ids the
	// store already knows (the idempotency path).
	ignoreCursor bool

	calls   int
	cursors []int64
}

func (f *fakeExtractor) Extract(ctx context.Context, cursor int64) ([]domain.FlatRow, error) {
	f.calls++
	f.cursors = append(f.cursors, cursor)
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.FlatRow
	for _, r := range f.rows {
		if f.ignoreCursor || r.DocEntry > cursor {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeStore struct {
	docs       map[int64]domain.Document
	recipients map[string][]domain.Recipient
	failInsert map[int64]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:       map[int64]domain.Document{},
		recipients: map[string][]domain.Recipient{},
		failInsert: map[int64]error{},
	}
}

func (f *fakeStore) MaxDocEntry(ctx context.Context) (int64, error) {
	var maxEntry int64
	for e := range f.docs {
		if e > maxEntry {
			maxEntry = e
		}
	}
	return maxEntry, nil
}

func (f *fakeStore) InsertDelivery(ctx context.Context, doc domain.Document) (bool, error) {
	if err := f.failInsert[doc.DocEntry]; err != nil {
		return false, err
	}
	if _, ok := f.docs[doc.DocEntry]; ok {
		return false, nil
	}
	f.docs[doc.DocEntry] = doc
	return true, nil
}

func (f *fakeStore) RecipientsByCardCode(ctx context.Context, code string) ([]domain.Recipient, error) {
	return f.recipients[code], nil
}

type fakeRenderer struct {
	renders int
	err     error
}

func (f *fakeRenderer) Render(doc domain.Document) (render.RenderedImage, error) {
	if f.err != nil {
		return render.RenderedImage{}, f.err
	}
	f.renders++
	return render.RenderedImage{Path: fmt.Sprintf("/img/delivery_%s.png", doc.DocNum), Width: 1000, Height: 620}, nil
}

type fanOutCall struct {
	docEntry int64
	count    int
	path     string
}

type fakeDispatcher struct {
	calls []fanOutCall
}

func (f *fakeDispatcher) FanOut(ctx context.Context, doc domain.Document, rcpts []domain.Recipient, img render.RenderedImage) (int, int) {
	f.calls = append(f.calls, fanOutCall{docEntry: doc.DocEntry, count: len(rcpts), path: img.Path})
	return len(rcpts), 0
}

func rowsFor(entry int64, lines int) []domain.FlatRow {
	out := make([]domain.FlatRow, 0, lines)
	for i := 0; i < lines; i++ {
		out = append(out, domain.FlatRow{
			DocEntry: entry,
			DocNum:   fmt.Sprintf("%d", entry),
			CardCode: "C0001",
			LineNum:  i,
			ItemName: "Widget",
		})
	}
	return out
}

func newTestCoordinator(ex Extractor, st DeliveryStore, r Renderer, d Dispatcher) *Coordinator {
	return NewCoordinator(ex, st, r, d, zerolog.Nop())
}

// ---- tests ----

func TestCycleFanOutReusesOneRender(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.recipients["C0001"] = []domain.Recipient{
		{TelegramID: 1, Role: domain.RoleApprover},
		{TelegramID: 2, Role: domain.RoleViewer},
		{TelegramID: 3, Role: domain.RoleViewer},
	}
	ex := &fakeExtractor{rows: rowsFor(100, 2)}
	rn := &fakeRenderer{}
	dp := &fakeDispatcher{}

	if err := newTestCoordinator(ex, st, rn, dp).RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rn.renders != 1 {
		t.Fatalf("render is per-document: got %d renders, want 1", rn.renders)
	}
	if len(dp.calls) != 1 || dp.calls[0].count != 3 {
		t.Fatalf("expected one fan-out to 3 recipients, got %+v", dp.calls)
	}
}

func TestCycleZeroRecipientsSkipsRender(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	ex := &fakeExtractor{rows: rowsFor(100, 1)}
	rn := &fakeRenderer{}
	dp := &fakeDispatcher{}

	if err := newTestCoordinator(ex, st, rn, dp).RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rn.renders != 0 || len(dp.calls) != 0 {
		t.Fatalf("no recipients must mean no render and no sends: renders=%d calls=%d", rn.renders, len(dp.calls))
	}
	if _, ok := st.docs[100]; !ok {
		t.Fatal("document must still persist without recipients")
	}
}

func TestCycleCursorAdvancesAcrossCycles(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	ex := &fakeExtractor{rows: rowsFor(100, 1)}
	co := newTestCoordinator(ex, st, &fakeRenderer{}, &fakeDispatcher{})

	if err := co.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	ex.rows = append(ex.rows, rowsFor(105, 1)...)
	if err := co.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := co.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 1; i < len(ex.cursors); i++ {
		if ex.cursors[i] < ex.cursors[i-1] {
			t.Fatalf("cursor regressed: %v", ex.cursors)
		}
	}
	if ex.cursors[1] != 100 || ex.cursors[2] != 105 {
		t.Fatalf("cursor should track max persisted id, got %v", ex.cursors)
	}
	if len(st.docs) != 2 {
		t.Fatalf("expected 2 persisted documents, got %d", len(st.docs))
	}
}

func TestCycleExtractionErrorLeavesStoreUntouched(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	ex := &fakeExtractor{err: errors.New("connection refused")}
	err := newTestCoordinator(ex, st, &fakeRenderer{}, &fakeDispatcher{}).RunCycle(context.Background())

	var extractErr *ExtractError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected ExtractError, got %v", err)
	}
	if len(st.docs) != 0 {
		t.Fatal("failed extraction must not persist anything")
	}
}

func TestCyclePersistFailureDoesNotBlockSiblings(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.failInsert[101] = errors.New("disk full")
	st.recipients["C0001"] = []domain.Recipient{{TelegramID: 1}}

	rows := append(rowsFor(100, 1), rowsFor(101, 1)...)
	rows = append(rows, rowsFor(102, 1)...)
	ex := &fakeExtractor{rows: rows}
	dp := &fakeDispatcher{}

	if err := newTestCoordinator(ex, st, &fakeRenderer{}, dp).RunCycle(context.Background()); err != nil {
		t.Fatalf("per-document failure must not fail the cycle: %v", err)
	}
	if _, ok := st.docs[100]; !ok {
		t.Fatal("doc 100 should have persisted")
	}
	if _, ok := st.docs[102]; !ok {
		t.Fatal("doc 102 should have persisted despite 101 failing")
	}
	if len(dp.calls) != 2 {
		t.Fatalf("expected notifications for the 2 persisted docs, got %d", len(dp.calls))
	}
}

func TestCycleRenderFailureSkipsOnlyThatDocument(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.recipients["C0001"] = []domain.Recipient{{TelegramID: 1}}
	ex := &fakeExtractor{rows: append(rowsFor(100, 1), rowsFor(101, 1)...)}
	rn := &fakeRenderer{err: errors.New("font table corrupt")}
	dp := &fakeDispatcher{}

	if err := newTestCoordinator(ex, st, rn, dp).RunCycle(context.Background()); err != nil {
		t.Fatalf("render failure must not fail the cycle: %v", err)
	}
	if len(dp.calls) != 0 {
		t.Fatal("a failed render must never reach the transport")
	}
	if len(st.docs) != 2 {
		t.Fatalf("both documents must persist regardless of rendering, got %d", len(st.docs))
	}
}

func TestCycleReimportIsSkippedNotDuplicated(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.recipients["C0001"] = []domain.Recipient{{TelegramID: 1}}
	ex := &fakeExtractor{rows: rowsFor(100, 1), ignoreCursor: true}
	dp := &fakeDispatcher{}
	co := newTestCoordinator(ex, st, &fakeRenderer{}, dp)

	if err := co.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Same rows extracted again: the insert must be a silent skip.
	if err := co.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(dp.calls) != 1 {
		t.Fatalf("skipped documents must not be re-notified, got %d fan-outs", len(dp.calls))
	}
}

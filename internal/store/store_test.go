package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"deliverybot/internal/config"
	"deliverybot/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.StorageConfig{Path: filepath.Join(t.TempDir(), "test.db")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleDoc(entry int64) domain.Document {
	return domain.Document{
		DocEntry:    entry,
		DocNum:      "10001",
		CardCode:    "C0001",
		CardName:    "Customer A",
		DocDate:     "2026-08-30",
		TotalAmount: 53,
		Currency:    "UZS",
		Lines: []domain.LineItem{
			{LineNum: 0, ItemCode: "A1", ItemName: "Widget", Quantity: 10, Price: 5, LineTotal: 50},
			{LineNum: 1, ItemCode: "B2", ItemName: "Bolt", Quantity: 1, Price: 3, LineTotal: 3},
		},
	}
}

func TestInsertDeliveryIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	inserted, err := s.InsertDelivery(ctx, sampleDoc(100))
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should report inserted")
	}

	again := sampleDoc(100)
	again.Remarks = "different header, still skipped"
	inserted, err = s.InsertDelivery(ctx, again)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Fatal("second insert must be skipped, not repeated")
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM deliveries`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one stored delivery, got %d", n)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM delivery_lines`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 stored lines, got %d", n)
	}
}

func TestMaxDocEntryCursor(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	cur, err := s.MaxDocEntry(ctx)
	if err != nil {
		t.Fatalf("MaxDocEntry empty: %v", err)
	}
	if cur != 0 {
		t.Fatalf("empty store cursor = %d, want 0", cur)
	}

	for _, entry := range []int64{100, 105, 103} {
		d := sampleDoc(entry)
		if _, err := s.InsertDelivery(ctx, d); err != nil {
			t.Fatalf("insert %d: %v", entry, err)
		}
		next, err := s.MaxDocEntry(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if next < cur {
			t.Fatalf("cursor went backwards: %d -> %d", cur, next)
		}
		cur = next
	}
	if cur != 105 {
		t.Fatalf("cursor = %d, want 105", cur)
	}
}

func TestRecipientsByCardCodeFiltersInactive(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	seed := `INSERT INTO telegram_users(telegram_id, card_code, role, is_active, phone_verified)
	         VALUES (?,?,?,?,1)`
	for _, u := range []struct {
		id     int64
		code   string
		role   string
		active int
	}{
		{1, "C0001", domain.RoleApprover, 1},
		{2, "C0001", domain.RoleViewer, 1},
		{3, "C0001", domain.RoleViewer, 0}, // inactive
		{4, "C0002", domain.RoleApprover, 1},
	} {
		if _, err := s.db.Exec(seed, u.id, u.code, u.role, u.active); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.RecipientsByCardCode(ctx, "C0001")
	if err != nil {
		t.Fatalf("RecipientsByCardCode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 active recipients, got %d", len(got))
	}
	for _, r := range got {
		if r.CardCode != "C0001" {
			t.Fatalf("unexpected card code %q", r.CardCode)
		}
	}

	none, err := s.RecipientsByCardCode(ctx, "C9999")
	if err != nil {
		t.Fatalf("unknown card code should not error: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected zero recipients, got %d", len(none))
	}
}

func TestUpsertItemKeepsLatest(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertItem(ctx, domain.Item{ItemCode: "A1", ItemName: "Widget", Price: 100, Currency: "UZS"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertItem(ctx, domain.Item{ItemCode: "A1", ItemName: "Widget v2", Stock: 4, Price: 120, Currency: "UZS"}); err != nil {
		t.Fatal(err)
	}

	it, err := s.Item(ctx, "A1")
	if err != nil {
		t.Fatal(err)
	}
	if it.Price != 120 || it.ItemName != "Widget v2" || it.Stock != 4 {
		t.Fatalf("upsert did not keep latest values: %+v", it)
	}
}

func TestApprovalQueue(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertDelivery(ctx, sampleDoc(200)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`UPDATE deliveries SET approved = 1 WHERE doc_entry = 200`); err != nil {
		t.Fatal(err)
	}

	pend, err := s.PendingApprovals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pend) != 1 || pend[0].DocEntry != 200 {
		t.Fatalf("unexpected pending approvals: %+v", pend)
	}

	if err := s.MarkApprovalSynced(ctx, 200); err != nil {
		t.Fatal(err)
	}
	pend, err = s.PendingApprovals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pend) != 0 {
		t.Fatalf("approval not cleared: %+v", pend)
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.db.Exec(`INSERT INTO orders(card_code, status, created_at) VALUES('C0001','new',datetime('now'))`)
	if err != nil {
		t.Fatal(err)
	}
	orderID, _ := res.LastInsertId()
	if _, err := s.db.Exec(`INSERT INTO order_lines(order_id, item_code, quantity) VALUES(?, 'A1', 3)`, orderID); err != nil {
		t.Fatal(err)
	}

	orders, err := s.NewOrders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || len(orders[0].Lines) != 1 {
		t.Fatalf("unexpected new orders: %+v", orders)
	}

	if err := s.MarkOrderSynced(ctx, orderID, 777, "S777"); err != nil {
		t.Fatal(err)
	}
	orders, err = s.NewOrders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 0 {
		t.Fatalf("synced order still listed as new: %+v", orders)
	}
}

func TestMarkOrderFailedTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.db.Exec(`INSERT INTO orders(card_code, status, created_at) VALUES('C0001','new',datetime('now'))`)
	if err != nil {
		t.Fatal(err)
	}
	orderID, _ := res.LastInsertId()

	// 249 ASCII bytes followed by a two-byte rune straddling the 250
	// byte limit; a byte-wise cut would leave invalid UTF-8.
	msg := strings.Repeat("a", 249) + "é" + " and more detail"
	if err := s.MarkOrderFailed(ctx, orderID, msg); err != nil {
		t.Fatal(err)
	}

	var stored string
	if err := s.db.QueryRow(`SELECT sap_error FROM orders WHERE id = ?`, orderID).Scan(&stored); err != nil {
		t.Fatal(err)
	}
	if len(stored) > 250 {
		t.Fatalf("sap_error is %d bytes, want <= 250", len(stored))
	}
	if !utf8.ValidString(stored) {
		t.Fatalf("sap_error is not valid UTF-8: %q", stored)
	}
	if stored != strings.Repeat("a", 249) {
		t.Fatalf("unexpected truncation point: %d bytes", len(stored))
	}
}

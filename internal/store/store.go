// Package store is the durable side of the sync pipelines: an embedded
// SQLite database holding imported deliveries, linked telegram accounts,
// the item catalog and outbound orders.
//
// Deliveries are insert-only from the pipeline's perspective; the approval
// flag is flipped by the external CRUD surface and only read here.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"deliverybot/internal/config"
	"deliverybot/internal/domain"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// ApprovalRef identifies a locally approved delivery awaiting write-back.
type ApprovalRef struct {
	DocEntry int64
	DocNum   string
}

type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

func Open(cfg config.StorageConfig, log zerolog.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if bt := cfg.BusyTimeout.Std(); bt > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", bt.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// MaxDocEntry returns the extraction cursor: the highest external id
// among persisted deliveries, zero when none exist. Computed fresh each
// cycle so the extraction range narrows as documents commit.
func (s *Store) MaxDocEntry(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(doc_entry), 0) FROM deliveries`).Scan(&v)
	return v, err
}

// InsertDelivery stores one document: header row plus all lines in a
// single transaction. Returns (false, nil) when the doc_entry is already
// known; re-importing is a guaranteed no-op even if header fields differ.
func (s *Store) InsertDelivery(ctx context.Context, doc domain.Document) (inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO deliveries(doc_entry, doc_num, card_code, card_name, doc_date, sales_manager, remarks, total_amount, currency, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(doc_entry) DO NOTHING`,
		doc.DocEntry, doc.DocNum, doc.CardCode, nullStr(doc.CardName), doc.DocDate,
		nullStr(doc.SalesManager), nullStr(doc.Remarks), doc.TotalAmount, doc.Currency,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		_ = tx.Rollback()
		return false, nil
	}

	for _, l := range doc.Lines {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO delivery_lines(doc_entry, line_num, item_code, item_name, quantity, price, line_total)
			 VALUES(?,?,?,?,?,?,?)`,
			doc.DocEntry, l.LineNum, l.ItemCode, l.ItemName, l.Quantity, l.Price, l.LineTotal,
		); err != nil {
			return false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// RecipientsByCardCode resolves active accounts linked to a counterpart.
// Activation implies the phone was verified and matched by the partner
// sync, so is_active is the only filter. Zero matches is a valid, silent
// outcome.
func (s *Store) RecipientsByCardCode(ctx context.Context, cardCode string) ([]domain.Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT telegram_id, card_code, role FROM telegram_users
		 WHERE card_code = ? AND is_active = 1`, cardCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		if err := rows.Scan(&r.TelegramID, &r.CardCode, &r.Role); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// VerifiedUsers lists accounts eligible for partner matching.
func (s *Store) VerifiedUsers(ctx context.Context) ([]domain.UserLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT telegram_id, COALESCE(phone_number,''), card_code, COALESCE(card_name,''), is_active, phone_verified
		 FROM telegram_users WHERE phone_verified = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UserLink
	for rows.Next() {
		var u domain.UserLink
		if err := rows.Scan(&u.TelegramID, &u.PhoneNumber, &u.CardCode, &u.CardName, &u.Active, &u.PhoneVerified); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ApplyPartnerLink writes the outcome of one partner match.
func (s *Store) ApplyPartnerLink(ctx context.Context, u domain.UserLink) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE telegram_users
		 SET card_code = ?, card_name = ?, is_active = ?, last_partner_sync = ?
		 WHERE telegram_id = ?`,
		u.CardCode, nullStr(u.CardName), u.Active,
		time.Now().UTC().Format(time.RFC3339), u.TelegramID)
	return err
}

// UpsertItem keeps the local catalog in step with the source price list.
func (s *Store) UpsertItem(ctx context.Context, it domain.Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items(item_code, item_name, stock, price, currency, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(item_code) DO UPDATE SET
		   item_name = excluded.item_name,
		   stock     = excluded.stock,
		   price     = excluded.price,
		   currency  = excluded.currency,
		   updated_at = excluded.updated_at`,
		it.ItemCode, it.ItemName, it.Stock, it.Price, it.Currency,
		time.Now().UTC().Format(time.RFC3339))
	return err
}

// Item returns one catalog entry (used by tests and the CRUD surface).
func (s *Store) Item(ctx context.Context, code string) (domain.Item, error) {
	var it domain.Item
	err := s.db.QueryRowContext(ctx,
		`SELECT item_code, item_name, stock, price, currency FROM items WHERE item_code = ?`, code).
		Scan(&it.ItemCode, &it.ItemName, &it.Stock, &it.Price, &it.Currency)
	return it, err
}

// PendingApprovals lists deliveries approved locally but not yet written
// back to the source system.
func (s *Store) PendingApprovals(ctx context.Context) ([]ApprovalRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_entry, doc_num FROM deliveries WHERE approved = 1 AND sap_synced = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ApprovalRef
	for rows.Next() {
		var a ApprovalRef
		if err := rows.Scan(&a.DocEntry, &a.DocNum); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) MarkApprovalSynced(ctx context.Context, docEntry int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET sap_synced = 1 WHERE doc_entry = ?`, docEntry)
	return err
}

// NewOrders lists outbound orders not yet pushed upstream, lines included.
func (s *Store) NewOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, card_code, status, created_at FROM orders WHERE status = ? ORDER BY id`,
		domain.OrderStatusNew)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		var created string
		if err := rows.Scan(&o.ID, &o.CardCode, &o.Status, &created); err != nil {
			return nil, err
		}
		o.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		lines, err := s.orderLines(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Lines = lines
	}
	return out, nil
}

func (s *Store) orderLines(ctx context.Context, orderID int64) ([]domain.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_code, quantity FROM order_lines WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OrderLine
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ItemCode, &l.Quantity); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) MarkOrderSynced(ctx context.Context, orderID, sapDocEntry int64, sapDocNum string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, sap_doc_entry = ?, sap_doc_num = ?, sap_error = NULL WHERE id = ?`,
		domain.OrderStatusSynced, sapDocEntry, sapDocNum, orderID)
	return err
}

// MarkOrderFailed records the rejection text, truncated to 250 bytes on
// a rune boundary so sap_error stays valid UTF-8.
func (s *Store) MarkOrderFailed(ctx context.Context, orderID int64, msg string) error {
	if len(msg) > 250 {
		cut := 250
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, sap_error = ? WHERE id = ?`,
		domain.OrderStatusError, msg, orderID)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

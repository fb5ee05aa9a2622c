// Package hana reads delivery rows and business partners from the SAP
// Business One HANA database. Read-only: the worker never writes to the
// source system through this path.
package hana

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/SAP/go-hdb/driver"
	"github.com/rs/zerolog"

	"deliverybot/internal/config"
	"deliverybot/internal/domain"
)

type Extractor struct {
	db      *sql.DB
	schema  string
	timeout time.Duration
	log     zerolog.Logger
}

func Open(cfg config.HanaConfig, log zerolog.Logger) (*Extractor, error) {
	port := cfg.Port
	if port == 0 {
		port = 30015
	}
	dsn := url.URL{
		Scheme: "hdb",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
	}
	db, err := sql.Open("hdb", dsn.String())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Extractor{
		db:      db,
		schema:  cfg.CompanyDB,
		timeout: cfg.Timeout.OrDefault(30 * time.Second),
		log:     log,
	}, nil
}

func (e *Extractor) Close() error { return e.db.Close() }

// Extract returns every delivery line with DocEntry greater than the
// cursor, ordered by (DocEntry, LineNum). One snapshot query, so a
// document's lines are returned all-or-nothing; an empty result is not
// an error.
func (e *Extractor) Extract(ctx context.Context, cursor int64) ([]domain.FlatRow, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	q := fmt.Sprintf(`
		SELECT
			T0."DocEntry", T0."DocNum", T0."CardCode", T0."CardName",
			TO_VARCHAR(T0."DocDate", 'YYYY-MM-DD'),
			T1."SlpName", T0."Comments", T0."DocTotal", T0."DocCur",
			T2."LineNum", T2."ItemCode", T2."Dscription",
			T2."Quantity", T2."Price", T2."LineTotal"
		FROM %[1]s."ODLN" T0
		JOIN %[1]s."OSLP" T1 ON T1."SlpCode" = T0."SlpCode"
		JOIN %[1]s."DLN1" T2 ON T2."DocEntry" = T0."DocEntry"
		WHERE T0."DocEntry" > ?
		ORDER BY T0."DocEntry", T2."LineNum"`,
		quoteIdent(e.schema))

	rows, err := e.db.QueryContext(ctx, q, cursor)
	if err != nil {
		return nil, fmt.Errorf("hana delivery query: %w", err)
	}
	defer rows.Close()

	var out []domain.FlatRow
	for rows.Next() {
		var (
			r        domain.FlatRow
			docNum   int64
			slpName  sql.NullString
			comments sql.NullString
			docCur   sql.NullString
		)
		if err := rows.Scan(
			&r.DocEntry, &docNum, &r.CardCode, &r.CardName, &r.DocDate,
			&slpName, &comments, &r.TotalAmount, &docCur,
			&r.LineNum, &r.ItemCode, &r.ItemName,
			&r.Quantity, &r.Price, &r.LineTotal,
		); err != nil {
			return nil, fmt.Errorf("hana delivery scan: %w", err)
		}
		r.DocNum = strconv.FormatInt(docNum, 10)
		r.SalesManager = slpName.String
		r.Remarks = comments.String
		r.Currency = docCur.String
		if r.Currency == "" {
			r.Currency = "UZS"
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hana delivery rows: %w", err)
	}
	return out, nil
}

// Partners returns customer business partners keyed by card code.
// Phone falls back Cellular -> Phone1 -> Phone2.
func (e *Extractor) Partners(ctx context.Context) (map[string]domain.Partner, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	q := fmt.Sprintf(`
		SELECT
			"CardCode", "CardName",
			COALESCE(NULLIF("Cellular", ''), NULLIF("Phone1", ''), "Phone2"),
			"validFor"
		FROM %s."OCRD"
		WHERE "CardType" = 'C'`,
		quoteIdent(e.schema))

	rows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("hana partner query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Partner)
	for rows.Next() {
		var (
			p     domain.Partner
			phone sql.NullString
			valid sql.NullString
		)
		if err := rows.Scan(&p.CardCode, &p.CardName, &phone, &valid); err != nil {
			return nil, fmt.Errorf("hana partner scan: %w", err)
		}
		p.Phone = phone.String
		p.Valid = valid.String == "Y"
		out[p.CardCode] = p
	}
	return out, rows.Err()
}

// quoteIdent wraps the company schema in double quotes, doubling any
// embedded quote. Schema names come from config, not user input, but the
// query is assembled by string, so be strict anyway.
func quoteIdent(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, s[i])
	}
	return string(append(out, '"'))
}

// Package domain holds the record types shared by the sync pipelines.
//
// FlatRow and Document are transient: rebuilt from the source on every
// cycle and discarded after persistence. Rows carry the delivery header
// columns repeated on every line, exactly as the source join returns them.
package domain

import "time"

// FlatRow is one delivery line as returned by the source query
// (header columns duplicated per line).
type FlatRow struct {
	DocEntry     int64
	DocNum       string
	CardCode     string
	CardName     string
	DocDate      string
	SalesManager string
	Remarks      string
	TotalAmount  float64
	Currency     string

	LineNum   int
	ItemCode  string
	ItemName  string
	Quantity  float64
	Price     float64
	LineTotal float64
}

// LineItem is one line of a grouped delivery document.
type LineItem struct {
	LineNum   int
	ItemCode  string
	ItemName  string
	Quantity  float64
	Price     float64
	LineTotal float64
}

// Document is a delivery note: header snapshot plus ordered lines.
// DocEntry is the source-assigned id and the persistence dedup key;
// it never changes once the document is stored.
type Document struct {
	DocEntry     int64
	DocNum       string
	CardCode     string
	CardName     string
	DocDate      string
	SalesManager string
	Remarks      string
	TotalAmount  float64
	Currency     string
	Lines        []LineItem
}

// LineSum returns the sum of line totals. Kept separate from TotalAmount,
// which is whatever the source header claims.
func (d Document) LineSum() float64 {
	var sum float64
	for _, l := range d.Lines {
		sum += l.LineTotal
	}
	return sum
}

// Recipient roles. Role only changes display text, never control flow.
const (
	RoleApprover = "approver"
	RoleViewer   = "viewer"
)

// Recipient is an active account linked to a counterpart, as resolved
// from the account directory. Read-only here.
type Recipient struct {
	TelegramID int64
	CardCode   string
	Role       string
}

// UserLink is the mutable account/counterpart linkage maintained by the
// partner sync pipeline.
type UserLink struct {
	TelegramID    int64
	PhoneNumber   string
	CardCode      string
	CardName      string
	Active        bool
	PhoneVerified bool
}

// Partner is a business partner record from the source system.
type Partner struct {
	CardCode string
	CardName string
	Phone    string
	Valid    bool
}

// Item is a catalog entry kept in step with the source price list.
type Item struct {
	ItemCode string
	ItemName string
	Stock    float64
	Price    float64
	Currency string
}

// Order statuses as moved by the outbound order pipeline.
const (
	OrderStatusNew    = "new"
	OrderStatusSynced = "synced"
	OrderStatusError  = "error"
)

// Order is a locally created sales order waiting to be pushed upstream.
type Order struct {
	ID          int64
	CardCode    string
	Status      string
	SapDocEntry int64
	SapDocNum   string
	SapError    string
	CreatedAt   time.Time
	Lines       []OrderLine
}

// OrderLine is one item of an outbound order.
type OrderLine struct {
	ItemCode string
	Quantity float64
}

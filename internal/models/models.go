package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sync statuses for a locally captured sale
const (
	SyncStatusPending = "pending"
	SyncStatusSynced  = "synced"
	SyncStatusFailed  = "failed"
)

// Payment methods accepted at the register
const (
	PaymentMethodCash     = "cash"
	PaymentMethodCard     = "card"
	PaymentMethodQRIS     = "qris"
	PaymentMethodTransfer = "transfer"
)

// MoneyEpsilon bounds acceptable drift between the submitted total and the
// sum of line totals.
var MoneyEpsilon = decimal.NewFromFloat(0.01)

// Sale is the authoritative local record of one completed checkout. Rows are
// never deleted; only the sync fields (status, ledger_entry_id, retry_count,
// last_error) move after creation.
type Sale struct {
	ID             int64           `db:"id" json:"id"`
	SaleNumber     string          `db:"sale_number" json:"sale_number"`
	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	TaxAmount      decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	TenderedAmount decimal.Decimal `db:"tendered_amount" json:"tendered_amount"`
	ChangeAmount   decimal.Decimal `db:"change_amount" json:"change_amount"`
	PaymentMethod  string          `db:"payment_method" json:"payment_method"`
	CustomerName   *string         `db:"customer_name" json:"customer_name,omitempty"`
	Notes          *string         `db:"notes" json:"notes,omitempty"`
	Cashier        string          `db:"cashier" json:"cashier"`
	Status         string          `db:"status" json:"status"`
	LedgerEntryID  *string         `db:"ledger_entry_id" json:"ledger_entry_id,omitempty"`
	RetryCount     int             `db:"retry_count" json:"retry_count"`
	LastError      *string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`

	Items []SaleItem `db:"-" json:"items,omitempty"`
}

// SaleItem is one line of a sale. SKU and name are snapshots taken at sale
// time and never follow later catalog changes.
type SaleItem struct {
	ID        int64           `db:"id" json:"id"`
	SaleID    int64           `db:"sale_id" json:"sale_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	SKU       string          `db:"sku" json:"sku"`
	Name      string          `db:"name" json:"name"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Discount  decimal.Decimal `db:"discount" json:"discount"`
	Tax       decimal.Decimal `db:"tax" json:"tax"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
}

// SaleFilter narrows and pages sale listings. Date bounds apply to created_at.
type SaleFilter struct {
	Status    string
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	Limit     int
}

// PageSize returns the page size, defaulted and capped
func (f SaleFilter) PageSize() int {
	if f.Limit <= 0 {
		return 20
	}
	if f.Limit > 100 {
		return 100
	}
	return f.Limit
}

// PageNumber returns the 1-based page number
func (f SaleFilter) PageNumber() int {
	if f.Page < 1 {
		return 1
	}
	return f.Page
}

// Offset returns the row offset for the requested page
func (f SaleFilter) Offset() int {
	return (f.PageNumber() - 1) * f.PageSize()
}

// SalePage is one page of a sale listing. Items are not loaded here; the
// single-sale lookup returns the full aggregate.
type SalePage struct {
	Sales []Sale `json:"sales"`
	Total int64  `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

// ValidPaymentMethod reports whether m is a payment method the register accepts
func ValidPaymentMethod(m string) bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodQRIS, PaymentMethodTransfer:
		return true
	}
	return false
}

// ValidSyncStatus reports whether s is a recognized sync status
func ValidSyncStatus(s string) bool {
	switch s {
	case SyncStatusPending, SyncStatusSynced, SyncStatusFailed:
		return true
	}
	return false
}

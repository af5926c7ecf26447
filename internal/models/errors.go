package models

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	// ErrNotFound is returned when a sale does not exist locally.
	ErrNotFound = errors.New("sale not found")

	// ErrUnknownProduct is returned when the inventory service does not know
	// a product referenced by a sale line.
	ErrUnknownProduct = errors.New("unknown product")

	// ErrInsufficientStock is returned when a line cannot be covered by
	// stock on hand.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInventoryUnavailable is returned when the inventory service cannot
	// be reached at all.
	ErrInventoryUnavailable = errors.New("inventory service unavailable")
)

// ValidationError rejects a checkout request before anything is persisted
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError signals that a sale number is already recorded, or that the
// requested transition is not allowed in the sale's current sync state.
type ConflictError struct {
	SaleNumber string
	Reason     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sale %s: %s", e.SaleNumber, e.Reason)
}

// StoreError wraps a local persistence failure. Checkout treats it as fatal:
// without local durability there is nothing left to sync later.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// TransientSyncError marks a ledger failure worth retrying: timeouts,
// connection errors, throttling and 5xx responses. Never surfaced to the
// cashier.
type TransientSyncError struct {
	StatusCode int // zero when the request never reached the ledger
	Err        error
}

func (e *TransientSyncError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient ledger failure (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient ledger failure: %v", e.Err)
}

func (e *TransientSyncError) Unwrap() error { return e.Err }

// TerminalSyncError marks a ledger rejection that retrying cannot fix.
// A sale carrying one needs human attention before any further attempt.
type TerminalSyncError struct {
	StatusCode int
	Reason     string
}

func (e *TerminalSyncError) Error() string {
	return fmt.Sprintf("ledger rejected sale (status %d): %s", e.StatusCode, e.Reason)
}

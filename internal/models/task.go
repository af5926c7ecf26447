package models

import "time"

// SyncTask asks a sync worker to project one sale into the ledger. It
// deliberately carries no sale data: workers re-read the row at processing
// time, so a task can never act on a stale snapshot of the sale.
type SyncTask struct {
	SaleNumber string    `json:"sale_number"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewSyncTask builds a first-attempt task for a sale
func NewSyncTask(saleNumber string) SyncTask {
	return SyncTask{
		SaleNumber: saleNumber,
		EnqueuedAt: time.Now().UTC(),
	}
}

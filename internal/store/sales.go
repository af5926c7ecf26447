package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sales-sync-service/internal/models"

	"github.com/lib/pq"
)

// CreateSale inserts a sale and its items in a single transaction. A
// duplicate sale number yields a ConflictError; any other driver failure
// is wrapped in a StoreError.
func (s *Store) CreateSale(ctx context.Context, sale *models.Sale) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &models.StoreError{Op: "begin create sale", Err: err}
	}
	defer tx.Rollback()

	query := `
		INSERT INTO pos.sales (
			sale_number, subtotal, tax_amount, discount_amount, total_amount,
			tendered_amount, change_amount, payment_method,
			customer_name, notes, cashier, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, retry_count, created_at, updated_at`

	err = tx.GetContext(ctx, sale, query,
		sale.SaleNumber, sale.Subtotal, sale.TaxAmount, sale.DiscountAmount, sale.TotalAmount,
		sale.TenderedAmount, sale.ChangeAmount, sale.PaymentMethod,
		sale.CustomerName, sale.Notes, sale.Cashier, sale.Status)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return &models.ConflictError{SaleNumber: sale.SaleNumber, Reason: "already recorded"}
		}
		return &models.StoreError{Op: "insert sale", Err: err}
	}

	itemQuery := `
		INSERT INTO pos.sale_items (sale_id, product_id, sku, name, quantity, unit_price, discount, tax, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	for i := range sale.Items {
		item := &sale.Items[i]
		item.SaleID = sale.ID
		if err := tx.GetContext(ctx, &item.ID, itemQuery,
			item.SaleID, item.ProductID, item.SKU, item.Name,
			item.Quantity, item.UnitPrice, item.Discount, item.Tax, item.LineTotal); err != nil {
			return &models.StoreError{Op: "insert sale item", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &models.StoreError{Op: "commit create sale", Err: err}
	}
	return nil
}

// GetSale retrieves a sale with its items by sale number
func (s *Store) GetSale(ctx context.Context, saleNumber string) (*models.Sale, error) {
	var sale models.Sale
	err := s.db.GetContext(ctx, &sale, "SELECT * FROM pos.sales WHERE sale_number = $1", saleNumber)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.StoreError{Op: "get sale", Err: err}
	}

	items := []models.SaleItem{}
	err = s.db.SelectContext(ctx, &items,
		"SELECT * FROM pos.sale_items WHERE sale_id = $1 ORDER BY id", sale.ID)
	if err != nil {
		return nil, &models.StoreError{Op: "get sale items", Err: err}
	}
	sale.Items = items

	return &sale, nil
}

// ListSales retrieves one page of sales matching the filter, newest first.
// Items are not loaded; GetSale returns the full aggregate.
func (s *Store) ListSales(ctx context.Context, filter models.SaleFilter) (*models.SalePage, error) {
	var conds []string
	var args []interface{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM pos.sales"+where, args...); err != nil {
		return nil, &models.StoreError{Op: "count sales", Err: err}
	}

	sales := []models.Sale{}
	query := fmt.Sprintf("SELECT * FROM pos.sales%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d",
		where, filter.PageSize(), filter.Offset())
	if err := s.db.SelectContext(ctx, &sales, query, args...); err != nil {
		return nil, &models.StoreError{Op: "list sales", Err: err}
	}

	return &models.SalePage{
		Sales: sales,
		Total: total,
		Page:  filter.PageNumber(),
		Limit: filter.PageSize(),
	}, nil
}

// syncStateUpdate describes one transition applied by updateSyncState
type syncStateUpdate struct {
	status        string
	ledgerEntryID *string // NULL except when moving to synced
	lastError     *string // ignored when keepError is set
	keepError     bool
	retryCount    *int   // nil keeps the current count
	fromStatus    string // optional: require this current status
}

// updateSyncState is the single enforcement point for every sync-state
// transition. The guard makes synced final: once a row is synced no update
// from this path can touch it again. When no row moves, the current row is
// returned so callers can tell a late no-op from a missing sale.
func (s *Store) updateSyncState(ctx context.Context, saleNumber string, upd syncStateUpdate) (*models.Sale, error) {
	query := `
		UPDATE pos.sales
		SET status = $2,
		    ledger_entry_id = $3,
		    last_error = CASE WHEN $4 THEN last_error ELSE $5 END,
		    retry_count = COALESCE($6, retry_count),
		    updated_at = NOW()
		WHERE sale_number = $1
		  AND status <> 'synced'
		  AND ($7 = '' OR status = $7)
		RETURNING *`

	var sale models.Sale
	err := s.db.GetContext(ctx, &sale, query,
		saleNumber, upd.status, upd.ledgerEntryID, upd.keepError, upd.lastError, upd.retryCount, upd.fromStatus)
	if err == nil {
		return &sale, nil
	}
	if err != sql.ErrNoRows {
		return nil, &models.StoreError{Op: "update sync state", Err: err}
	}

	var current models.Sale
	err = s.db.GetContext(ctx, &current, "SELECT * FROM pos.sales WHERE sale_number = $1", saleNumber)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.StoreError{Op: "reread sale", Err: err}
	}
	return &current, nil
}

// MarkSynced records a successful ledger projection and clears the
// diagnostic error. A late call against an already synced sale is a no-op
// that returns the row as it stands.
func (s *Store) MarkSynced(ctx context.Context, saleNumber, ledgerEntryID string) (*models.Sale, error) {
	return s.updateSyncState(ctx, saleNumber, syncStateUpdate{
		status:        models.SyncStatusSynced,
		ledgerEntryID: &ledgerEntryID,
	})
}

// MarkFailed parks a sale in the failed state with the given retry count
// and diagnostic reason
func (s *Store) MarkFailed(ctx context.Context, saleNumber, reason string, retryCount int) (*models.Sale, error) {
	return s.updateSyncState(ctx, saleNumber, syncStateUpdate{
		status:     models.SyncStatusFailed,
		lastError:  &reason,
		retryCount: &retryCount,
	})
}

// RequeuePending flips a failed sale back to pending, keeping last_error as
// a diagnostic. This is the sweeper's transition; nothing else moves a sale
// out of failed except ResetForResync.
func (s *Store) RequeuePending(ctx context.Context, saleNumber string) (*models.Sale, error) {
	return s.updateSyncState(ctx, saleNumber, syncStateUpdate{
		status:     models.SyncStatusPending,
		keepError:  true,
		fromStatus: models.SyncStatusFailed,
	})
}

// ResetForResync is the back-office lever: failed → pending with a fresh
// retry budget. Pending and synced sales come back unchanged.
func (s *Store) ResetForResync(ctx context.Context, saleNumber string) (*models.Sale, error) {
	zero := 0
	return s.updateSyncState(ctx, saleNumber, syncStateUpdate{
		status:     models.SyncStatusPending,
		retryCount: &zero,
		fromStatus: models.SyncStatusFailed,
	})
}

// IncrementRetry bumps the retry counter after a transient failure and
// returns the new count. Only pending sales are counted; anything else
// reports ErrNotFound.
func (s *Store) IncrementRetry(ctx context.Context, saleNumber, reason string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`UPDATE pos.sales
		 SET retry_count = retry_count + 1, last_error = $2, updated_at = NOW()
		 WHERE sale_number = $1 AND status = 'pending'
		 RETURNING retry_count`,
		saleNumber, reason)
	if err == sql.ErrNoRows {
		return 0, models.ErrNotFound
	}
	if err != nil {
		return 0, &models.StoreError{Op: "increment retry", Err: err}
	}
	return count, nil
}

// ListStuck finds sales the queue has lost track of: pending rows older
// than the threshold, and failed rows that still have retry budget.
func (s *Store) ListStuck(ctx context.Context, pendingOlderThan time.Duration, maxRetries, limit int) ([]models.Sale, error) {
	sales := []models.Sale{}
	err := s.db.SelectContext(ctx, &sales,
		`SELECT * FROM pos.sales
		 WHERE (status = 'pending' AND created_at < NOW() - make_interval(secs => $1))
		    OR (status = 'failed' AND retry_count < $2)
		 ORDER BY created_at ASC
		 LIMIT $3`,
		pendingOlderThan.Seconds(), maxRetries, limit)
	if err != nil {
		return nil, &models.StoreError{Op: "list stuck sales", Err: err}
	}
	return sales, nil
}

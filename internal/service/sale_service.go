package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sales-sync-service/internal/models"
	"sales-sync-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SaleStore defines the persistence methods checkout and queries need.
// Satisfied by *store.Store; narrow interface for testability.
type SaleStore interface {
	CreateSale(ctx context.Context, sale *models.Sale) error
	GetSale(ctx context.Context, saleNumber string) (*models.Sale, error)
	ListSales(ctx context.Context, filter models.SaleFilter) (*models.SalePage, error)
	ResetForResync(ctx context.Context, saleNumber string) (*models.Sale, error)
}

// StockAdjuster defines the inventory calls checkout needs.
// Satisfied by *InventoryClient.
type StockAdjuster interface {
	DecrementStock(ctx context.Context, productID int64, sku string, quantity int, reference string) error
	ReleaseStock(ctx context.Context, productID int64, sku string, quantity int, reference string) error
}

// TaskQueue is the publish side of the sync queue.
// Satisfied by the broker.Queue drivers.
type TaskQueue interface {
	Publish(ctx context.Context, saleNumber string) error
}

// SaleService handles sale capture, lookup and resync
type SaleService struct {
	store     SaleStore
	inventory StockAdjuster
	queue     TaskQueue
	logger    *zap.Logger
}

// NewSaleService creates a new sale service
func NewSaleService(store SaleStore, inventory StockAdjuster, queue TaskQueue) *SaleService {
	return &SaleService{
		store:     store,
		inventory: inventory,
		queue:     queue,
		logger:    util.GetLogger(),
	}
}

// CreateSaleRequest is the checkout payload from the register
type CreateSaleRequest struct {
	SaleNumber     string            `json:"sale_number"`
	Items          []SaleItemRequest `json:"items" binding:"required,min=1"`
	Subtotal       decimal.Decimal   `json:"subtotal"`
	TaxAmount      decimal.Decimal   `json:"tax_amount"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
	TenderedAmount decimal.Decimal   `json:"tendered_amount"`
	PaymentMethod  string            `json:"payment_method" binding:"required"`
	CustomerName   string            `json:"customer_name"`
	Notes          string            `json:"notes"`
	Cashier        string            `json:"cashier" binding:"required"`
}

// SaleItemRequest is one line of a checkout request
type SaleItemRequest struct {
	ProductID int64           `json:"product_id" binding:"required"`
	SKU       string          `json:"sku" binding:"required"`
	Name      string          `json:"name" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	Tax       decimal.Decimal `json:"tax"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// CreateSale captures a completed checkout: stock is decremented first, the
// sale is written locally in pending, and a sync task is enqueued. Enqueue
// failure does not fail the checkout; the sweeper finds the sale later.
func (s *SaleService) CreateSale(ctx context.Context, req *CreateSaleRequest) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.CreateSale")
	defer span.End()

	if err := s.validate(req); err != nil {
		util.SalesRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	saleNumber := req.SaleNumber
	if saleNumber == "" {
		saleNumber = NewSaleNumber(time.Now())
	}

	if err := s.decrementStock(ctx, saleNumber, req.Items); err != nil {
		util.SalesRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	sale := buildSale(req, saleNumber)
	if err := s.store.CreateSale(ctx, sale); err != nil {
		s.releaseStock(ctx, saleNumber, req.Items, len(req.Items))
		util.SalesRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	util.SalesRecordedTotal.Inc()
	s.logger.Info("Sale recorded",
		zap.String("sale_number", sale.SaleNumber),
		zap.String("payment_method", sale.PaymentMethod),
		zap.String("total", sale.TotalAmount.String()))

	if err := s.queue.Publish(ctx, sale.SaleNumber); err != nil {
		util.QueuePublishFailuresTotal.Inc()
		s.logger.Warn("Failed to enqueue sync task, sweeper will pick it up",
			zap.String("sale_number", sale.SaleNumber),
			zap.Error(err))
	}

	return sale, nil
}

// GetSale retrieves a sale with its items
func (s *SaleService) GetSale(ctx context.Context, saleNumber string) (*models.Sale, error) {
	return s.store.GetSale(ctx, saleNumber)
}

// ListSales retrieves one page of sales
func (s *SaleService) ListSales(ctx context.Context, filter models.SaleFilter) (*models.SalePage, error) {
	if filter.Status != "" && !models.ValidSyncStatus(filter.Status) {
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", filter.Status)}
	}
	return s.store.ListSales(ctx, filter)
}

// ResyncSale resets a failed sale's retry budget and puts it back on the
// queue. Synced sales are refused: their ledger entry already exists.
func (s *SaleService) ResyncSale(ctx context.Context, saleNumber string) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.ResyncSale")
	defer span.End()

	sale, err := s.store.ResetForResync(ctx, saleNumber)
	if err != nil {
		return nil, err
	}
	if sale.Status == models.SyncStatusSynced {
		return nil, &models.ConflictError{SaleNumber: saleNumber, Reason: "already synced"}
	}

	if err := s.queue.Publish(ctx, saleNumber); err != nil {
		util.QueuePublishFailuresTotal.Inc()
		s.logger.Warn("Failed to enqueue resync task, sweeper will pick it up",
			zap.String("sale_number", saleNumber),
			zap.Error(err))
	}

	s.logger.Info("Sale queued for resync", zap.String("sale_number", saleNumber))
	return sale, nil
}

func (s *SaleService) validate(req *CreateSaleRequest) error {
	if len(req.Items) == 0 {
		return &models.ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	if !models.ValidPaymentMethod(req.PaymentMethod) {
		return &models.ValidationError{Field: "payment_method", Reason: fmt.Sprintf("unknown method %q", req.PaymentMethod)}
	}
	if req.Cashier == "" {
		return &models.ValidationError{Field: "cashier", Reason: "cashier is required"}
	}
	if req.Subtotal.IsNegative() || req.TaxAmount.IsNegative() || req.DiscountAmount.IsNegative() ||
		req.TotalAmount.IsNegative() || req.TenderedAmount.IsNegative() {
		return &models.ValidationError{Field: "amounts", Reason: "must not be negative"}
	}

	lineSum := decimal.Zero
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return &models.ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be positive"}
		}
		if item.UnitPrice.IsNegative() || item.Discount.IsNegative() || item.Tax.IsNegative() || item.LineTotal.IsNegative() {
			return &models.ValidationError{Field: fmt.Sprintf("items[%d]", i), Reason: "amounts must not be negative"}
		}
		lineSum = lineSum.Add(item.LineTotal)
	}

	if lineSum.Sub(req.TotalAmount).Abs().GreaterThan(models.MoneyEpsilon) {
		return &models.ValidationError{
			Field:  "total_amount",
			Reason: fmt.Sprintf("line totals sum to %s but total is %s", lineSum, req.TotalAmount),
		}
	}

	if !req.TenderedAmount.IsZero() && req.TenderedAmount.LessThan(req.TotalAmount) {
		return &models.ValidationError{Field: "tendered_amount", Reason: "must cover the total"}
	}

	return nil
}

// decrementStock takes stock for every line, rolling back the lines already
// taken when any line fails. The sale is never persisted on failure.
func (s *SaleService) decrementStock(ctx context.Context, saleNumber string, items []SaleItemRequest) error {
	for i, item := range items {
		err := s.inventory.DecrementStock(ctx, item.ProductID, item.SKU, item.Quantity, saleNumber)
		if err == nil {
			continue
		}
		s.releaseStock(ctx, saleNumber, items, i)
		if errors.Is(err, models.ErrUnknownProduct) {
			return &models.ValidationError{Field: fmt.Sprintf("items[%d].product_id", i), Reason: "unknown product"}
		}
		return err
	}
	return nil
}

// releaseStock compensates the first n decremented lines
func (s *SaleService) releaseStock(ctx context.Context, saleNumber string, items []SaleItemRequest, n int) {
	for _, item := range items[:n] {
		if err := s.inventory.ReleaseStock(ctx, item.ProductID, item.SKU, item.Quantity, saleNumber); err != nil {
			s.logger.Error("Failed to compensate stock decrement",
				zap.String("sale_number", saleNumber),
				zap.String("sku", item.SKU),
				zap.Error(err))
		}
	}
}

func buildSale(req *CreateSaleRequest, saleNumber string) *models.Sale {
	tendered := req.TenderedAmount
	if tendered.IsZero() {
		// Exact tender: card, QRIS and transfer payments carry no cash.
		tendered = req.TotalAmount
	}

	sale := &models.Sale{
		SaleNumber:     saleNumber,
		Subtotal:       req.Subtotal,
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		TotalAmount:    req.TotalAmount,
		TenderedAmount: tendered,
		ChangeAmount:   tendered.Sub(req.TotalAmount),
		PaymentMethod:  req.PaymentMethod,
		Cashier:        req.Cashier,
		Status:         models.SyncStatusPending,
	}
	if req.CustomerName != "" {
		sale.CustomerName = &req.CustomerName
	}
	if req.Notes != "" {
		sale.Notes = &req.Notes
	}

	sale.Items = make([]models.SaleItem, 0, len(req.Items))
	for _, item := range req.Items {
		sale.Items = append(sale.Items, models.SaleItem{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Discount:  item.Discount,
			Tax:       item.Tax,
			LineTotal: item.LineTotal,
		})
	}
	return sale
}

// NewSaleNumber builds a register-unique sale number from the local date
// and eight hex characters of a fresh UUID.
func NewSaleNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:8]
	return fmt.Sprintf("POS-%s-%s", now.Format("20060102"), suffix)
}

func rejectReason(err error) string {
	var validationErr *models.ValidationError
	var conflictErr *models.ConflictError
	switch {
	case errors.As(err, &validationErr):
		return "invalid_request"
	case errors.As(err, &conflictErr):
		return "duplicate_number"
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrInventoryUnavailable):
		return "inventory_unavailable"
	default:
		return "store_error"
	}
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sales-sync-service/internal/models"
	"sales-sync-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerClient posts captured sales to the central ledger service. The sale
// number doubles as the idempotency key, so reposting an already projected
// sale yields the original entry id instead of a second ledger entry.
type LedgerClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewLedgerClient creates a ledger client
func NewLedgerClient(baseURL string, timeout time.Duration) *LedgerClient {
	return &LedgerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: util.GetLogger(),
	}
}

type ledgerLine struct {
	ProductID int64           `json:"product_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	Tax       decimal.Decimal `json:"tax"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type ledgerTotals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

type ledgerEntryRequest struct {
	SaleNumber     string       `json:"sale_number"`
	Lines          []ledgerLine `json:"lines"`
	Totals         ledgerTotals `json:"totals"`
	IdempotencyKey string       `json:"idempotency_key"`
}

type ledgerEntryResponse struct {
	LedgerEntryID string `json:"ledger_entry_id"`
}

// PostSale projects one sale into the ledger and returns the ledger entry
// id. Failures are classified: TransientSyncError is worth retrying,
// TerminalSyncError is not.
func (c *LedgerClient) PostSale(ctx context.Context, sale *models.Sale) (string, error) {
	ctx, span := util.StartSpan(ctx, "LedgerClient.PostSale")
	defer span.End()

	start := time.Now()
	defer func() {
		util.LedgerPostLatency.Observe(time.Since(start).Seconds())
	}()

	entry := ledgerEntryRequest{
		SaleNumber: sale.SaleNumber,
		Lines:      make([]ledgerLine, 0, len(sale.Items)),
		Totals: ledgerTotals{
			Subtotal: sale.Subtotal,
			Tax:      sale.TaxAmount,
			Discount: sale.DiscountAmount,
			Total:    sale.TotalAmount,
		},
		IdempotencyKey: sale.SaleNumber,
	}
	for _, item := range sale.Items {
		entry.Lines = append(entry.Lines, ledgerLine{
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

	data, err := json.Marshal(entry)
	if err != nil {
		return "", &models.TerminalSyncError{Reason: fmt.Sprintf("marshal ledger entry: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sales-entries", bytes.NewBuffer(data))
	if err != nil {
		return "", &models.TerminalSyncError{Reason: fmt.Sprintf("build ledger request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", sale.SaleNumber)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &models.TransientSyncError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &models.TransientSyncError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var result ledgerEntryResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return "", &models.TransientSyncError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unmarshal ledger response: %w", err)}
		}
		if result.LedgerEntryID == "" {
			return "", &models.TransientSyncError{StatusCode: resp.StatusCode, Err: errors.New("ledger returned empty entry id")}
		}
		return result.LedgerEntryID, nil
	}

	if transientStatus(resp.StatusCode) {
		c.logger.Warn("Ledger post failed, will retry",
			zap.String("sale_number", sale.SaleNumber),
			zap.Int("status", resp.StatusCode))
		return "", &models.TransientSyncError{StatusCode: resp.StatusCode, Err: fmt.Errorf("ledger returned status %d", resp.StatusCode)}
	}

	c.logger.Error("Ledger rejected sale",
		zap.String("sale_number", sale.SaleNumber),
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", body))
	return "", &models.TerminalSyncError{StatusCode: resp.StatusCode, Reason: strings.TrimSpace(string(body))}
}

// transientStatus reports whether a ledger status code is worth retrying.
// Everything 5xx is, plus the three 4xx codes that signal pressure rather
// than rejection.
func transientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

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

	"go.uber.org/zap"
)

// InventoryClient adjusts stock at the inventory service. Every call carries
// the sale number as reference so stock movements stay traceable to sales.
type InventoryClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewInventoryClient creates an inventory client
func NewInventoryClient(baseURL string, timeout time.Duration) *InventoryClient {
	return &InventoryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: util.GetLogger(),
	}
}

type stockAdjustRequest struct {
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	Reference string `json:"reference"`
}

// DecrementStock takes quantity units of a product out of stock
func (ic *InventoryClient) DecrementStock(ctx context.Context, productID int64, sku string, quantity int, reference string) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.DecrementStock")
	defer span.End()

	start := time.Now()
	defer func() {
		util.InventoryDecrementLatency.Observe(time.Since(start).Seconds())
	}()

	err := ic.post(ctx, "/api/v1/stock/decrement", stockAdjustRequest{
		ProductID: productID,
		SKU:       sku,
		Quantity:  quantity,
		Reference: reference,
	})
	if err != nil {
		util.InventoryFailuresTotal.WithLabelValues(inventoryFailureReason(err)).Inc()
	}
	return err
}

// ReleaseStock puts quantity units back, compensating a decrement whose
// sale did not go through
func (ic *InventoryClient) ReleaseStock(ctx context.Context, productID int64, sku string, quantity int, reference string) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.ReleaseStock")
	defer span.End()

	err := ic.post(ctx, "/api/v1/stock/release", stockAdjustRequest{
		ProductID: productID,
		SKU:       sku,
		Quantity:  quantity,
		Reference: reference,
	})
	if err != nil {
		util.InventoryFailuresTotal.WithLabelValues("release_failed").Inc()
		ic.logger.Error("Failed to release stock",
			zap.Int64("product_id", productID),
			zap.String("sku", sku),
			zap.String("reference", reference),
			zap.Error(err))
	}
	return err
}

func (ic *InventoryClient) post(ctx context.Context, path string, body stockAdjustRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal stock request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ic.baseURL+path, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("build stock request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ic.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInventoryUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", models.ErrInventoryUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return models.ErrUnknownProduct
	case resp.StatusCode == http.StatusConflict:
		return models.ErrInsufficientStock
	default:
		return fmt.Errorf("%w: inventory returned status %d: %s",
			models.ErrInventoryUnavailable, resp.StatusCode, string(respBody))
	}
}

func inventoryFailureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrUnknownProduct):
		return "unknown_product"
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	default:
		return "unreachable"
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sales-sync-service/internal/models"
	"sales-sync-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubStore struct {
	sales map[string]*models.Sale
}

func newStubStore() *stubStore {
	return &stubStore{sales: make(map[string]*models.Sale)}
}

func (s *stubStore) CreateSale(_ context.Context, sale *models.Sale) error {
	if _, ok := s.sales[sale.SaleNumber]; ok {
		return &models.ConflictError{SaleNumber: sale.SaleNumber, Reason: "already recorded"}
	}
	sale.ID = int64(len(s.sales) + 1)
	sale.CreatedAt = time.Now()
	s.sales[sale.SaleNumber] = sale
	return nil
}

func (s *stubStore) GetSale(_ context.Context, saleNumber string) (*models.Sale, error) {
	sale, ok := s.sales[saleNumber]
	if !ok {
		return nil, models.ErrNotFound
	}
	return sale, nil
}

func (s *stubStore) ListSales(_ context.Context, filter models.SaleFilter) (*models.SalePage, error) {
	page := &models.SalePage{Page: filter.PageNumber(), Limit: filter.PageSize()}
	for _, sale := range s.sales {
		if filter.Status == "" || sale.Status == filter.Status {
			page.Sales = append(page.Sales, *sale)
			page.Total++
		}
	}
	return page, nil
}

func (s *stubStore) ResetForResync(_ context.Context, saleNumber string) (*models.Sale, error) {
	sale, ok := s.sales[saleNumber]
	if !ok {
		return nil, models.ErrNotFound
	}
	if sale.Status == models.SyncStatusFailed {
		sale.Status = models.SyncStatusPending
		sale.RetryCount = 0
		sale.LastError = nil
	}
	copied := *sale
	return &copied, nil
}

type stubInventory struct {
	decrementErr error
	released     int
}

func (s *stubInventory) DecrementStock(_ context.Context, _ int64, _ string, _ int, _ string) error {
	return s.decrementErr
}

func (s *stubInventory) ReleaseStock(_ context.Context, _ int64, _ string, _ int, _ string) error {
	s.released++
	return nil
}

type stubQueue struct {
	published []string
}

func (s *stubQueue) Publish(_ context.Context, saleNumber string) error {
	s.published = append(s.published, saleNumber)
	return nil
}

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error { return p.err }

type fixture struct {
	router    *gin.Engine
	store     *stubStore
	inventory *stubInventory
	queue     *stubQueue
}

func newFixture() *fixture {
	f := &fixture{
		store:     newStubStore(),
		inventory: &stubInventory{},
		queue:     &stubQueue{},
	}
	svc := service.NewSaleService(f.store, f.inventory, f.queue)
	f.router = gin.New()
	NewHandler(svc, stubPinger{}).SetupRoutes(f.router)
	return f
}

func (f *fixture) perform(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			panic(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func validSalePayload() *service.CreateSaleRequest {
	return &service.CreateSaleRequest{
		Items: []service.SaleItemRequest{
			{ProductID: 1, SKU: "COF-250", Name: "Coffee 250g", Quantity: 2, UnitPrice: decimal.NewFromFloat(10.00), Discount: decimal.NewFromFloat(1.00), Tax: decimal.NewFromFloat(1.90), LineTotal: decimal.NewFromFloat(20.90)},
			{ProductID: 2, SKU: "MUG-STD", Name: "Mug", Quantity: 1, UnitPrice: decimal.NewFromFloat(5.00), Tax: decimal.NewFromFloat(0.50), LineTotal: decimal.NewFromFloat(5.50)},
		},
		Subtotal:       decimal.NewFromFloat(25.00),
		TaxAmount:      decimal.NewFromFloat(2.40),
		DiscountAmount: decimal.NewFromFloat(1.00),
		TotalAmount:    decimal.NewFromFloat(26.40),
		TenderedAmount: decimal.NewFromFloat(30.00),
		PaymentMethod:  models.PaymentMethodCash,
		Cashier:        "cashier-1",
	}
}

func TestCreateSaleEndpoint(t *testing.T) {
	f := newFixture()

	w := f.perform(http.MethodPost, "/local/sales", validSalePayload())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var sale models.Sale
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sale))
	assert.Regexp(t, `^POS-\d{8}-[0-9A-F]{8}$`, sale.SaleNumber)
	assert.Equal(t, models.SyncStatusPending, sale.Status)
	assert.True(t, sale.ChangeAmount.Equal(decimal.NewFromFloat(3.60)))
	assert.Len(t, sale.Items, 2)

	assert.Equal(t, []string{sale.SaleNumber}, f.queue.published)
}

func TestCreateSaleEndpointMalformedBody(t *testing.T) {
	f := newFixture()

	req := httptest.NewRequest(http.MethodPost, "/local/sales", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSaleEndpointMissingItems(t *testing.T) {
	f := newFixture()

	payload := validSalePayload()
	payload.Items = nil

	w := f.perform(http.MethodPost, "/local/sales", payload)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSaleEndpointUnknownPaymentMethod(t *testing.T) {
	f := newFixture()

	payload := validSalePayload()
	payload.PaymentMethod = "cheque"

	w := f.perform(http.MethodPost, "/local/sales", payload)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "payment_method")
}

func TestCreateSaleEndpointDuplicateNumber(t *testing.T) {
	f := newFixture()

	payload := validSalePayload()
	payload.SaleNumber = "POS-20240315-AB12CD34"

	w := f.perform(http.MethodPost, "/local/sales", payload)
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.perform(http.MethodPost, "/local/sales", payload)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "POS-20240315-AB12CD34")
}

func TestCreateSaleEndpointTakesIdempotencyKeyHeader(t *testing.T) {
	f := newFixture()

	data, err := json.Marshal(validSalePayload())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/local/sales", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "POS-20240315-CAFED00D")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var sale models.Sale
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sale))
	assert.Equal(t, "POS-20240315-CAFED00D", sale.SaleNumber)
}

func TestCreateSaleEndpointInsufficientStock(t *testing.T) {
	f := newFixture()
	f.inventory.decrementErr = models.ErrInsufficientStock

	w := f.perform(http.MethodPost, "/local/sales", validSalePayload())
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCreateSaleEndpointInventoryDown(t *testing.T) {
	f := newFixture()
	f.inventory.decrementErr = errors.Join(models.ErrInventoryUnavailable, errors.New("connection refused"))

	w := f.perform(http.MethodPost, "/local/sales", validSalePayload())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetSaleEndpoint(t *testing.T) {
	f := newFixture()

	payload := validSalePayload()
	payload.SaleNumber = "POS-20240315-AB12CD34"
	w := f.perform(http.MethodPost, "/local/sales", payload)
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.perform(http.MethodGet, "/local/sales/POS-20240315-AB12CD34", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var sale models.Sale
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sale))
	assert.Equal(t, "POS-20240315-AB12CD34", sale.SaleNumber)
	assert.Len(t, sale.Items, 2)
}

func TestGetSaleEndpointNotFound(t *testing.T) {
	f := newFixture()

	w := f.perform(http.MethodGet, "/local/sales/POS-20240315-MISSING0", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSalesEndpoint(t *testing.T) {
	f := newFixture()

	entryID := "LE-001"
	f.store.sales["POS-20240315-00000001"] = &models.Sale{SaleNumber: "POS-20240315-00000001", Status: models.SyncStatusSynced, LedgerEntryID: &entryID}
	f.store.sales["POS-20240315-00000002"] = &models.Sale{SaleNumber: "POS-20240315-00000002", Status: models.SyncStatusPending}

	w := f.perform(http.MethodGet, "/local/sales?status=synced&page=1&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page models.SalePage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Sales, 1)
	assert.Equal(t, "POS-20240315-00000001", page.Sales[0].SaleNumber)
}

func TestListSalesEndpointAcceptsBareDates(t *testing.T) {
	f := newFixture()

	w := f.perform(http.MethodGet, "/local/sales?start_date=2024-03-01&end_date=2024-03-15", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.perform(http.MethodGet, "/local/sales?start_date=2024-03-01T08:00:00Z", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListSalesEndpointRejectsBadInput(t *testing.T) {
	f := newFixture()

	w := f.perform(http.MethodGet, "/local/sales?page=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.perform(http.MethodGet, "/local/sales?end_date=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.perform(http.MethodGet, "/local/sales?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResyncEndpoint(t *testing.T) {
	f := newFixture()

	reason := "ledger rejected sale"
	f.store.sales["POS-20240315-FA110001"] = &models.Sale{
		SaleNumber: "POS-20240315-FA110001",
		Status:     models.SyncStatusFailed,
		RetryCount: 5,
		LastError:  &reason,
	}

	w := f.perform(http.MethodPost, "/local/sales/POS-20240315-FA110001/resync", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var sale models.Sale
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sale))
	assert.Equal(t, models.SyncStatusPending, sale.Status)
	assert.Equal(t, []string{"POS-20240315-FA110001"}, f.queue.published)
}

func TestResyncEndpointAlreadySynced(t *testing.T) {
	f := newFixture()

	entryID := "LE-001"
	f.store.sales["POS-20240315-DONE0001"] = &models.Sale{
		SaleNumber:    "POS-20240315-DONE0001",
		Status:        models.SyncStatusSynced,
		LedgerEntryID: &entryID,
	}

	w := f.perform(http.MethodPost, "/local/sales/POS-20240315-DONE0001/resync", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResyncEndpointNotFound(t *testing.T) {
	f := newFixture()

	w := f.perform(http.MethodPost, "/local/sales/POS-20240315-MISSING0/resync", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture()

	w := f.perform(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.perform(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessFailsWhenDatabaseIsDown(t *testing.T) {
	svc := service.NewSaleService(newStubStore(), &stubInventory{}, &stubQueue{})
	router := gin.New()
	NewHandler(svc, stubPinger{err: errors.New("connection refused")}).SetupRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

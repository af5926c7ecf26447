package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sales-sync-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecrementStockSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/stock/decrement", r.URL.Path)

		var body stockAdjustRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(42), body.ProductID)
		assert.Equal(t, "COF-250", body.SKU)
		assert.Equal(t, 3, body.Quantity)
		assert.Equal(t, "POS-20240315-AB12CD34", body.Reference)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewInventoryClient(server.URL, 5*time.Second)
	err := client.DecrementStock(context.Background(), 42, "COF-250", 3, "POS-20240315-AB12CD34")
	assert.NoError(t, err)
}

func TestDecrementStockUnknownProduct(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewInventoryClient(server.URL, 5*time.Second)
	err := client.DecrementStock(context.Background(), 42, "GHOST-SKU", 1, "POS-20240315-AB12CD34")
	assert.ErrorIs(t, err, models.ErrUnknownProduct)
}

func TestDecrementStockInsufficient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	client := NewInventoryClient(server.URL, 5*time.Second)
	err := client.DecrementStock(context.Background(), 42, "COF-250", 999, "POS-20240315-AB12CD34")
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
}

func TestDecrementStockServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewInventoryClient(server.URL, 5*time.Second)
	err := client.DecrementStock(context.Background(), 42, "COF-250", 1, "POS-20240315-AB12CD34")
	assert.ErrorIs(t, err, models.ErrInventoryUnavailable)
}

func TestDecrementStockUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewInventoryClient(server.URL, time.Second)
	err := client.DecrementStock(context.Background(), 42, "COF-250", 1, "POS-20240315-AB12CD34")
	assert.ErrorIs(t, err, models.ErrInventoryUnavailable)
}

func TestReleaseStock(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewInventoryClient(server.URL, 5*time.Second)
	err := client.ReleaseStock(context.Background(), 42, "COF-250", 3, "POS-20240315-AB12CD34")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/stock/release", path)
}

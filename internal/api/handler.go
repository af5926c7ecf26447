package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"sales-sync-service/internal/models"
	"sales-sync-service/internal/service"
	"sales-sync-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether the local database is reachable.
// Satisfied by *store.Store; narrow interface for testability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	saleService *service.SaleService
	db          Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(saleService *service.SaleService, db Pinger) *Handler {
	return &Handler{
		saleService: saleService,
		db:          db,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	local := router.Group("/local")
	{
		local.POST("/sales", h.createSale)
		local.GET("/sales", h.listSales)
		local.GET("/sales/:sale_number", h.getSale)
		local.POST("/sales/:sale_number/resync", h.resyncSale)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when the local database answers. Sales
// cannot be captured without it, so this gates traffic.
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createSale handles sale capture from the register
func (h *Handler) createSale(c *gin.Context) {
	var req service.CreateSaleRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.SaleNumber == "" {
		req.SaleNumber = c.GetHeader("Idempotency-Key")
	}

	sale, err := h.saleService.CreateSale(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sale)
}

// listSales handles paged sale listings
func (h *Handler) listSales(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}

	startDate, err := parseDateParam(c.Query("start_date"), false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start_date", "details": err.Error()})
		return
	}
	endDate, err := parseDateParam(c.Query("end_date"), true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end_date", "details": err.Error()})
		return
	}

	filter := models.SaleFilter{
		Status:    c.Query("status"),
		StartDate: startDate,
		EndDate:   endDate,
		Page:      page,
		Limit:     limit,
	}

	result, err := h.saleService.ListSales(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// getSale handles single sale lookup by sale number
func (h *Handler) getSale(c *gin.Context) {
	sale, err := h.saleService.GetSale(c.Request.Context(), c.Param("sale_number"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sale)
}

// resyncSale puts a failed sale back on the sync queue
func (h *Handler) resyncSale(c *gin.Context) {
	sale, err := h.saleService.ResyncSale(c.Request.Context(), c.Param("sale_number"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, sale)
}

// parseDateParam accepts RFC3339 timestamps or bare dates. A bare end date is
// widened to the last instant of that day so the bound stays inclusive.
func parseDateParam(value string, endOfDay bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return &ts, nil
	}
	ts, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		ts = ts.Add(24*time.Hour - time.Nanosecond)
	}
	return &ts, nil
}

// writeError maps service errors onto HTTP statuses
func writeError(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	var conflictErr *models.ConflictError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid sale",
			"field":   validationErr.Field,
			"details": validationErr.Reason,
		})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":       conflictErr.Reason,
			"sale_number": conflictErr.SaleNumber,
		})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Sale not found",
		})
	case errors.Is(err, models.ErrInsufficientStock):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Insufficient stock",
			"details": err.Error(),
		})
	case errors.Is(err, models.ErrInventoryUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Inventory service unavailable",
			"details": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to process sale",
			"details": err.Error(),
		})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

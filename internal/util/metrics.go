package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SalesRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_recorded_total",
		Help: "Total number of sales captured locally",
	})

	SalesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_rejected_total",
		Help: "Total number of checkout requests rejected",
	}, []string{"reason"})

	SalesSyncedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_synced_total",
		Help: "Total number of sales projected into the ledger",
	})

	SyncFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_failures_total",
		Help: "Total number of failed sync attempts",
	}, []string{"reason"})

	SyncRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_retries_total",
		Help: "Total number of sync attempts scheduled for retry",
	})

	LedgerPostLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_post_latency_seconds",
		Help:    "Latency of ledger entry posting",
		Buckets: prometheus.DefBuckets,
	})

	InventoryDecrementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_decrement_latency_seconds",
		Help:    "Latency of inventory decrement calls",
		Buckets: prometheus.DefBuckets,
	})

	InventoryFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_failures_total",
		Help: "Total number of failed inventory calls",
	}, []string{"reason"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_queue_depth",
		Help: "Number of sync tasks waiting in the queue",
	})

	QueuePublishFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_queue_publish_failures_total",
		Help: "Total number of sync tasks that could not be enqueued",
	})

	SweeperRequeuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeper_requeued_total",
		Help: "Total number of stuck sales re-enqueued by the sweeper",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

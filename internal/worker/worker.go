package worker

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"sales-sync-service/config"
	"sales-sync-service/internal/broker"
	"sales-sync-service/internal/lock"
	"sales-sync-service/internal/models"
	"sales-sync-service/internal/util"

	"go.uber.org/zap"
)

// SyncStore defines the persistence methods the worker needs.
// Satisfied by *store.Store; narrow interface for testability.
type SyncStore interface {
	GetSale(ctx context.Context, saleNumber string) (*models.Sale, error)
	MarkSynced(ctx context.Context, saleNumber, ledgerEntryID string) (*models.Sale, error)
	MarkFailed(ctx context.Context, saleNumber, reason string, retryCount int) (*models.Sale, error)
	IncrementRetry(ctx context.Context, saleNumber, reason string) (int, error)
}

// LedgerPoster projects sales into the ledger.
// Satisfied by *service.LedgerClient.
type LedgerPoster interface {
	PostSale(ctx context.Context, sale *models.Sale) (string, error)
}

// SyncWorker drains the sync queue and projects pending sales into the
// ledger. The queue only carries sale numbers: each task re-reads the
// authoritative row, so duplicate deliveries and stale tasks collapse into
// no-ops.
type SyncWorker struct {
	queue  broker.Queue
	store  SyncStore
	ledger LedgerPoster
	locker lock.Locker
	cfg    config.SyncConfig
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewSyncWorker creates a new sync worker pool
func NewSyncWorker(queue broker.Queue, store SyncStore, ledger LedgerPoster, locker lock.Locker, cfg config.SyncConfig) *SyncWorker {
	return &SyncWorker{
		queue:  queue,
		store:  store,
		ledger: ledger,
		locker: locker,
		cfg:    cfg,
		logger: util.GetLogger(),
	}
}

// Start launches the worker goroutines. They stop when ctx is cancelled or
// the queue closes.
func (w *SyncWorker) Start(ctx context.Context) {
	log.Printf("Starting %d sync workers...", w.cfg.Workers)

	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
}

// Stop waits for in-flight tasks to finish
func (w *SyncWorker) Stop() {
	log.Println("Stopping sync workers...")
	w.wg.Wait()
}

func (w *SyncWorker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		delivery, err := w.queue.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, broker.ErrQueueClosed) {
				return
			}
			w.logger.Error("Failed to consume sync task", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		w.process(ctx, delivery)
	}
}

// process runs one task to a settled delivery. A task that has started is
// detached from shutdown: interrupting a ledger post halfway is the one
// thing the retry machinery cannot distinguish from a real failure.
func (w *SyncWorker) process(ctx context.Context, delivery broker.Delivery) {
	task := delivery.Task()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.TaskTimeout)
	defer cancel()

	ctx, span := util.StartSpan(ctx, "SyncWorker.process")
	defer span.End()

	acquired, err := w.locker.Acquire(ctx, task.SaleNumber, w.cfg.LockTTL)
	if err != nil {
		w.logger.Warn("Sale lock unavailable",
			zap.String("sale_number", task.SaleNumber),
			zap.Error(err))
		w.nack(ctx, delivery)
		return
	}
	if !acquired {
		// Another worker is on this sale; try again after the nack delay.
		w.nack(ctx, delivery)
		return
	}
	defer func() {
		rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer rcancel()
		if err := w.locker.Release(rctx, task.SaleNumber); err != nil {
			w.logger.Warn("Failed to release sale lock",
				zap.String("sale_number", task.SaleNumber),
				zap.Error(err))
		}
	}()

	sale, err := w.store.GetSale(ctx, task.SaleNumber)
	if errors.Is(err, models.ErrNotFound) {
		w.logger.Warn("Sync task references unknown sale",
			zap.String("sale_number", task.SaleNumber))
		w.ack(ctx, delivery)
		return
	}
	if err != nil {
		w.logger.Error("Failed to load sale for sync",
			zap.String("sale_number", task.SaleNumber),
			zap.Error(err))
		w.nack(ctx, delivery)
		return
	}

	if sale.Status != models.SyncStatusPending {
		w.logger.Info("Skipping sale not pending sync",
			zap.String("sale_number", sale.SaleNumber),
			zap.String("status", sale.Status))
		w.ack(ctx, delivery)
		return
	}

	entryID, err := w.ledger.PostSale(ctx, sale)
	if err == nil {
		w.finishSynced(ctx, delivery, sale, entryID)
		return
	}

	var terminal *models.TerminalSyncError
	if errors.As(err, &terminal) {
		w.finishTerminal(ctx, delivery, sale, terminal)
		return
	}

	w.retryTransient(ctx, delivery, sale, err)
}

func (w *SyncWorker) finishSynced(ctx context.Context, delivery broker.Delivery, sale *models.Sale, entryID string) {
	if _, err := w.store.MarkSynced(ctx, sale.SaleNumber, entryID); err != nil {
		// Safe to redeliver: the ledger post is idempotent and returns the
		// same entry id next time.
		w.logger.Error("Failed to mark sale synced",
			zap.String("sale_number", sale.SaleNumber),
			zap.Error(err))
		w.nack(ctx, delivery)
		return
	}

	util.SalesSyncedTotal.Inc()
	w.logger.Info("Sale synced to ledger",
		zap.String("sale_number", sale.SaleNumber),
		zap.String("ledger_entry_id", entryID),
		zap.Int("retry_count", sale.RetryCount))
	w.ack(ctx, delivery)
}

// finishTerminal parks a sale the ledger rejected. The whole retry budget is
// written so the sweeper leaves the sale alone until someone resyncs it.
func (w *SyncWorker) finishTerminal(ctx context.Context, delivery broker.Delivery, sale *models.Sale, terminal *models.TerminalSyncError) {
	if _, err := w.store.MarkFailed(ctx, sale.SaleNumber, terminal.Error(), w.cfg.MaxRetries); err != nil {
		w.logger.Error("Failed to park rejected sale",
			zap.String("sale_number", sale.SaleNumber),
			zap.Error(err))
		w.nack(ctx, delivery)
		return
	}

	util.SyncFailuresTotal.WithLabelValues("terminal").Inc()
	w.logger.Error("Ledger rejected sale, parked for manual resync",
		zap.String("sale_number", sale.SaleNumber),
		zap.Int("status", terminal.StatusCode),
		zap.String("reason", terminal.Reason))
	w.ack(ctx, delivery)
}

func (w *SyncWorker) retryTransient(ctx context.Context, delivery broker.Delivery, sale *models.Sale, cause error) {
	count, err := w.store.IncrementRetry(ctx, sale.SaleNumber, cause.Error())
	if errors.Is(err, models.ErrNotFound) {
		// The sale moved out of pending under us; nothing left to do.
		w.ack(ctx, delivery)
		return
	}
	if err != nil {
		w.logger.Error("Failed to record retry",
			zap.String("sale_number", sale.SaleNumber),
			zap.Error(err))
		w.nack(ctx, delivery)
		return
	}

	if count >= w.cfg.MaxRetries {
		if _, err := w.store.MarkFailed(ctx, sale.SaleNumber, cause.Error(), count); err != nil {
			w.logger.Error("Failed to park exhausted sale",
				zap.String("sale_number", sale.SaleNumber),
				zap.Error(err))
			w.nack(ctx, delivery)
			return
		}
		util.SyncFailuresTotal.WithLabelValues("exhausted").Inc()
		w.logger.Error("Sale failed after exhausting retries",
			zap.String("sale_number", sale.SaleNumber),
			zap.Int("retry_count", count),
			zap.Error(cause))
		w.ack(ctx, delivery)
		return
	}

	delay := w.backoffDelay(count)
	util.SyncRetriesTotal.Inc()
	w.logger.Warn("Transient sync failure, retrying",
		zap.String("sale_number", sale.SaleNumber),
		zap.Int("retry_count", count),
		zap.Duration("delay", delay),
		zap.Error(cause))

	// Ack before scheduling: if the timer is lost to a crash the sweeper
	// re-discovers the pending sale.
	w.ack(ctx, delivery)

	saleNumber := sale.SaleNumber
	time.AfterFunc(delay, func() {
		if err := w.queue.Publish(context.Background(), saleNumber); err != nil {
			w.logger.Warn("Failed to republish sync task, sweeper will pick it up",
				zap.String("sale_number", saleNumber),
				zap.Error(err))
		}
	})
}

// backoffDelay returns the delay before retry n: the base doubled per
// earlier retry, capped, plus proportional jitter.
func (w *SyncWorker) backoffDelay(retry int) time.Duration {
	d := w.cfg.BackoffBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= w.cfg.BackoffCap {
			break
		}
	}
	if d > w.cfg.BackoffCap {
		d = w.cfg.BackoffCap
	}
	if w.cfg.Jitter > 0 {
		d += time.Duration(rand.Float64() * w.cfg.Jitter * float64(d))
	}
	return d
}

func (w *SyncWorker) ack(ctx context.Context, delivery broker.Delivery) {
	if err := delivery.Ack(ctx); err != nil {
		w.logger.Warn("Failed to ack delivery",
			zap.String("sale_number", delivery.Task().SaleNumber),
			zap.Error(err))
	}
}

func (w *SyncWorker) nack(ctx context.Context, delivery broker.Delivery) {
	if err := delivery.Nack(ctx); err != nil {
		w.logger.Warn("Failed to nack delivery",
			zap.String("sale_number", delivery.Task().SaleNumber),
			zap.Error(err))
	}
}

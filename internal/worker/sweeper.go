package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"sales-sync-service/config"
	"sales-sync-service/internal/models"
	"sales-sync-service/internal/util"

	"go.uber.org/zap"
)

// SweepStore defines the persistence methods the sweeper needs.
// Satisfied by *store.Store.
type SweepStore interface {
	ListStuck(ctx context.Context, pendingOlderThan time.Duration, maxRetries, limit int) ([]models.Sale, error)
	RequeuePending(ctx context.Context, saleNumber string) (*models.Sale, error)
}

// TaskPublisher is the publish side of the sync queue.
// Satisfied by the broker.Queue drivers.
type TaskPublisher interface {
	Publish(ctx context.Context, saleNumber string) error
}

// Sweeper is the reconciliation backstop. It periodically re-enqueues sales
// the queue lost track of: pending rows whose task died with the process,
// and failed rows that still have retry budget. Without it, a lost task
// would leave a sale pending forever.
type Sweeper struct {
	store      SweepStore
	queue      TaskPublisher
	cfg        config.ReconcileConfig
	maxRetries int
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewSweeper creates a new reconciliation sweeper
func NewSweeper(store SweepStore, queue TaskPublisher, cfg config.ReconcileConfig, maxRetries int) *Sweeper {
	return &Sweeper{
		store:      store,
		queue:      queue,
		cfg:        cfg,
		maxRetries: maxRetries,
		logger:     util.GetLogger(),
	}
}

// Start launches the sweeper loop. The first pass runs immediately so a
// restart rebuilds the backlog without waiting a full interval.
func (s *Sweeper) Start(ctx context.Context) {
	log.Printf("Starting reconciliation sweeper (interval %s)...", s.cfg.Interval)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop waits for the current pass to finish
func (s *Sweeper) Stop() {
	log.Println("Stopping reconciliation sweeper...")
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep re-enqueues one batch of stuck sales. Errors are logged and the
// pass moves on; the next tick gets another chance.
func (s *Sweeper) sweep(ctx context.Context) {
	stuck, err := s.store.ListStuck(ctx, s.cfg.PendingAfter, s.maxRetries, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("Sweeper failed to list stuck sales", zap.Error(err))
		return
	}
	if len(stuck) == 0 {
		return
	}

	requeued := 0
	for _, sale := range stuck {
		if err := s.requeue(ctx, sale); err != nil {
			s.logger.Warn("Sweeper failed to requeue sale",
				zap.String("sale_number", sale.SaleNumber),
				zap.String("status", sale.Status),
				zap.Error(err))
			continue
		}
		requeued++
	}

	util.SweeperRequeuedTotal.Add(float64(requeued))
	s.logger.Info("Sweeper pass finished",
		zap.Int("stuck", len(stuck)),
		zap.Int("requeued", requeued))
}

// requeue flips a failed sale back to pending before publishing. Pending
// sales only need a fresh task.
func (s *Sweeper) requeue(ctx context.Context, sale models.Sale) error {
	if sale.Status == models.SyncStatusFailed {
		if _, err := s.store.RequeuePending(ctx, sale.SaleNumber); err != nil {
			return err
		}
	}
	return s.queue.Publish(ctx, sale.SaleNumber)
}

package broker

import (
	"context"
	"encoding/json"
	"errors"

	"sales-sync-service/internal/models"
)

// Queue errors
var (
	ErrQueueFull   = errors.New("sync queue is full")
	ErrQueueClosed = errors.New("sync queue is closed")
)

// Queue carries sale numbers from checkout to the sync workers. Delivery is
// at-least-once: consumers must tolerate duplicates. Publish never blocks
// the caller; a driver that cannot accept a task reports ErrQueueFull and
// leaves recovery to the sweeper.
type Queue interface {
	Publish(ctx context.Context, saleNumber string) error
	Consume(ctx context.Context) (Delivery, error)
	Close() error
}

// Delivery hands one task to a worker. Exactly one of Ack or Nack settles
// it: Ack means the task is done and must not come back, Nack asks the
// driver to redeliver it after a short delay. Repeated calls after the
// first settle are no-ops.
type Delivery interface {
	Task() models.SyncTask
	Ack(ctx context.Context) error
	Nack(ctx context.Context) error
}

func encodeTask(task models.SyncTask) ([]byte, error) {
	return json.Marshal(task)
}

func decodeTask(data []byte) (models.SyncTask, error) {
	var task models.SyncTask
	err := json.Unmarshal(data, &task)
	return task, err
}

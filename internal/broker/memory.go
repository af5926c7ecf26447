package broker

import (
	"context"
	"log"
	"sync"
	"time"

	"sales-sync-service/internal/models"
	"sales-sync-service/internal/util"
)

// MemoryQueue is a bounded in-process queue and the default driver for a
// single-register deployment. Losing it on crash is acceptable: the sale
// store holds every pending sale and the sweeper rebuilds the backlog.
type MemoryQueue struct {
	mu      sync.Mutex
	tasks   chan models.SyncTask
	tracked map[string]struct{} // sale numbers queued or in flight
	closed  bool
	done    chan struct{}

	nackDelay time.Duration
}

// NewMemoryQueue creates a queue holding at most capacity tasks
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		tasks:     make(chan models.SyncTask, capacity),
		tracked:   make(map[string]struct{}),
		done:      make(chan struct{}),
		nackDelay: 500 * time.Millisecond,
	}
}

// Publish enqueues a task for the sale without blocking. A sale already
// queued or in flight is not enqueued again.
func (q *MemoryQueue) Publish(ctx context.Context, saleNumber string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, ok := q.tracked[saleNumber]; ok {
		return nil
	}

	select {
	case q.tasks <- models.NewSyncTask(saleNumber):
		q.tracked[saleNumber] = struct{}{}
		util.QueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Consume blocks until a task is available, the context ends, or the queue
// is closed. The sale stays tracked until the delivery is acked, so a
// duplicate Publish during processing is still collapsed.
func (q *MemoryQueue) Consume(ctx context.Context) (Delivery, error) {
	select {
	case <-q.done:
		return nil, ErrQueueClosed
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, ErrQueueClosed
	case task := <-q.tasks:
		util.QueueDepth.Dec()
		return &memoryDelivery{q: q, task: task}, nil
	}
}

// Depth reports the number of waiting tasks
func (q *MemoryQueue) Depth() int {
	return len(q.tasks)
}

// Close stops the queue; further Publish and Consume calls report
// ErrQueueClosed. Buffered tasks are dropped and resurface via the sweeper.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}

func (q *MemoryQueue) settle(saleNumber string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.tracked, saleNumber)
}

// requeue puts a nacked task back on the channel. When the queue is closed
// or full the task is dropped from tracking so a later Publish can pick the
// sale up again.
func (q *MemoryQueue) requeue(task models.SyncTask) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		delete(q.tracked, task.SaleNumber)
		return
	}

	task.Attempt++
	select {
	case q.tasks <- task:
		util.QueueDepth.Inc()
	default:
		delete(q.tracked, task.SaleNumber)
		log.Printf("Sync queue full, dropping redelivery for sale %s", task.SaleNumber)
	}
}

type memoryDelivery struct {
	q    *MemoryQueue
	task models.SyncTask
	once sync.Once
}

func (d *memoryDelivery) Task() models.SyncTask { return d.task }

func (d *memoryDelivery) Ack(ctx context.Context) error {
	d.once.Do(func() { d.q.settle(d.task.SaleNumber) })
	return nil
}

func (d *memoryDelivery) Nack(ctx context.Context) error {
	d.once.Do(func() {
		task := d.task
		time.AfterFunc(d.q.nackDelay, func() { d.q.requeue(task) })
	})
	return nil
}

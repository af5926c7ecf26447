package broker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"sales-sync-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// KafkaQueue is the durable queue driver for multi-register deployments.
// Tasks are keyed by sale number so retries of one sale stay on one
// partition, and offsets are committed only after a delivery is settled.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

// NewKafkaQueue creates a Kafka-backed queue
func NewKafkaQueue(brokers []string, topic, groupID string) *KafkaQueue {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	return &KafkaQueue{writer: writer, reader: reader}
}

// Publish writes a fresh task for the sale to the topic
func (q *KafkaQueue) Publish(ctx context.Context, saleNumber string) error {
	return q.publishTask(ctx, models.NewSyncTask(saleNumber))
}

func (q *KafkaQueue) publishTask(ctx context.Context, task models.SyncTask) error {
	data, err := encodeTask(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(task.SaleNumber),
		Value: data,
		Time:  time.Now(),
	}

	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

// Consume fetches the next task from the consumer group. Malformed messages
// are committed and skipped so a bad payload cannot wedge the partition.
func (q *KafkaQueue) Consume(ctx context.Context) (Delivery, error) {
	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			return nil, err
		}

		task, err := decodeTask(msg.Value)
		if err != nil {
			log.Printf("Dropping malformed task at offset %d: %v", msg.Offset, err)
			if cerr := q.reader.CommitMessages(ctx, msg); cerr != nil {
				log.Printf("Error committing malformed message: %v", cerr)
			}
			continue
		}

		return &kafkaDelivery{q: q, task: task, msg: msg}, nil
	}
}

// Close closes the producer and consumer
func (q *KafkaQueue) Close() error {
	werr := q.writer.Close()
	rerr := q.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

type kafkaDelivery struct {
	q    *KafkaQueue
	task models.SyncTask
	msg  kafka.Message
	once sync.Once
	err  error
}

func (d *kafkaDelivery) Task() models.SyncTask { return d.task }

func (d *kafkaDelivery) Ack(ctx context.Context) error {
	d.once.Do(func() {
		d.err = d.q.reader.CommitMessages(ctx, d.msg)
	})
	return d.err
}

// Nack republishes the task with a bumped attempt count, then commits the
// original offset. If the republish fails the offset stays uncommitted and
// Kafka redelivers the original message.
func (d *kafkaDelivery) Nack(ctx context.Context) error {
	d.once.Do(func() {
		task := d.task
		task.Attempt++
		if err := d.q.publishTask(ctx, task); err != nil {
			log.Printf("Failed to requeue task for sale %s: %v", task.SaleNumber, err)
			d.err = err
			return
		}
		d.err = d.q.reader.CommitMessages(ctx, d.msg)
	})
	return d.err
}

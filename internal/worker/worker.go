// Package worker drains usage-accounting events from the queue and
// applies them to the key store
package worker

import (
	"context"
	"encoding/json"
	"log"

	"github.com/ferrywell/cutout/internal/model"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
)

// UsageRepo - the single store operation the worker needs
type UsageRepo interface {
	AddKeyUsage(ctx context.Context, keyID uuid.UUID, n int64) error
}

type Worker struct {
	repo     UsageRepo
	queue    <-chan kafkago.Message
	consumer *wbfkafka.Consumer
}

func NewWorkerInstance(repo UsageRepo, q <-chan kafkago.Message, cons *wbfkafka.Consumer) *Worker {
	return &Worker{repo: repo, queue: q, consumer: cons}
}

func (w *Worker) StartWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-w.queue:
			if !ok {
				log.Println("Queue channel closed, stopping worker...")
				return
			}

			if w.apply(ctx, msg.Value) {
				w.commit(ctx, msg)
			}
		}
	}
}

// apply processes one usage event and reports whether the message should
// be committed. Poison messages are committed (redelivery won't fix
// them); store failures are not, so the event comes back later.
func (w *Worker) apply(ctx context.Context, value []byte) bool {
	var ev model.UsageEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		log.Printf("Dropping unreadable usage event: %v", err)
		return true
	}

	if err := w.repo.AddKeyUsage(ctx, ev.KeyID, 1); err != nil {
		log.Printf("Failed to apply usage for key %q: %v", ev.KeyID, err)
		return false
	}

	return true
}

func (w *Worker) commit(ctx context.Context, msg kafkago.Message) {
	if err := w.consumer.Commit(ctx, msg); err != nil {
		log.Printf("Failed to commit queue-message: %v", err)
	}
}

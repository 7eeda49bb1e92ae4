package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"studymate/internal/model"
	"studymate/internal/platform/logger"
)

type TurnStore interface {
	Create(ctx context.Context, turn *model.ChatTurn) error
}

type HistoryDropper interface {
	Delete(ctx context.Context, ownerID, documentID string) error
}

// TurnPersistWorker consumes queued chat turns and writes them with GORM.
// Undecodable or unwritable messages are nacked without requeue.
type TurnPersistWorker struct {
	conn      *amqp.Connection
	store     TurnStore
	history   HistoryDropper
	queueName string
	log       *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTurnPersistWorker(conn *amqp.Connection, store TurnStore, history HistoryDropper, queueName string, log *logger.Logger) *TurnPersistWorker {
	return &TurnPersistWorker{
		conn:      conn,
		store:     store,
		history:   history,
		queueName: queueName,
		log:       log.With("worker", "turn_persist", "queue", queueName),
	}
}

func (w *TurnPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}
	// one unacked delivery at a time keeps turns in publish order
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.log.Warn("delivery channel closed")
					return
				}
				if err := w.handle(workerCtx, d.Body); err != nil {
					w.log.Error("persist chat turn failed", "err", err)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	w.log.Info("worker started")
	return nil
}

func (w *TurnPersistWorker) handle(ctx context.Context, body []byte) error {
	var turn model.ChatTurn
	if err := json.Unmarshal(body, &turn); err != nil {
		return fmt.Errorf("decode turn failed: %w", err)
	}
	if turn.OwnerID == "" || turn.DocumentID == "" {
		return fmt.Errorf("turn without owner or document")
	}
	turn.ID = 0
	if err := w.store.Create(ctx, &turn); err != nil {
		return err
	}
	if w.history != nil {
		if err := w.history.Delete(ctx, turn.OwnerID, turn.DocumentID); err != nil {
			w.log.Warn("drop cached history failed", "owner_id", turn.OwnerID, "err", err)
		}
	}
	return nil
}

func (w *TurnPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

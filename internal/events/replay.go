package events

import (
	"context"

	"github.com/richardliu001/order-service/internal/model"
	"go.uber.org/zap"
)

// OutboxStore is the outbox side used by Replay.
type OutboxStore interface {
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
}

// Replay publishes up to limit outboxed events in insertion order and marks
// the delivered ones processed. It returns how many were delivered.
func Replay(ctx context.Context, store OutboxStore, pub Publisher, limit int, log *zap.SugaredLogger) (int, error) {
	evts, err := store.PollOutbox(ctx, limit)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, evt := range evts {
		if err := pub.Publish(ctx, evt.Topic, evt.Key, []byte(evt.Payload)); err != nil {
			log.Errorw("replay publish", "id", evt.ID, "topic", evt.Topic, "error", err)
			continue
		}
		if err := store.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			log.Errorw("mark processed", "id", evt.ID, "error", err)
			continue
		}
		sent++
		log.Infow("event replayed", "id", evt.ID, "topic", evt.Topic, "type", evt.EventType)
	}
	return sent, nil
}

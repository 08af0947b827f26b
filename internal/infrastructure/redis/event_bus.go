package redis

import (
	"context"
	"encoding/json"
	"go-lookflow/internal/domain"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type RedisEventBus struct {
	client      *redis.Client
	stepChannel string
	runChannel  string
	logger      *slog.Logger
}

func NewRedisEventBus(client *redis.Client, logger *slog.Logger) *RedisEventBus {
	return &RedisEventBus{
		client:      client,
		stepChannel: "lookflow:events:step",
		runChannel:  "lookflow:events:run",
		logger:      logger,
	}
}

// PublishStepFinished broadcasts a step outcome
func (b *RedisEventBus) PublishStepFinished(ctx context.Context, event domain.StepFinishedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return b.client.Publish(ctx, b.stepChannel, payload).Err()
}

// PublishRunFinished broadcasts a run reaching completed or failed
func (b *RedisEventBus) PublishRunFinished(ctx context.Context, event domain.RunFinishedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return b.client.Publish(ctx, b.runChannel, payload).Err()
}

// SubscribeToRunEvents opens a continuous stream for the Coordinator
func (b *RedisEventBus) SubscribeToRunEvents(ctx context.Context) (<-chan domain.RunFinishedEvent, error) {
	pubsub := b.client.Subscribe(ctx, b.runChannel)
	// Wait for the subscription to be confirmed before returning
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	msgChan := make(chan domain.RunFinishedEvent)

	// Forward redis messages to the Go channel until ctx is done
	go func() {
		defer close(msgChan)
		defer pubsub.Close()
		for msg := range pubsub.Channel() {
			var event domain.RunFinishedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("dropping malformed run event", "error", err)
				continue
			}
			select {
			case msgChan <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = pubsub.Close()
	}()

	return msgChan, nil
}

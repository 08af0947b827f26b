package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const runQueueKey = "lookflow:runs:pending"

// RunQueue is a FIFO list of run ids.
type RunQueue struct {
	client    *redis.Client
	queueName string
	// How long one BLPOP blocks before Pop re-checks ctx
	pollTimeout time.Duration
}

func NewRunQueue(client *redis.Client) *RunQueue {
	return &RunQueue{
		client:      client,
		queueName:   runQueueKey,
		pollTimeout: 5 * time.Second,
	}
}

// Push adds a run id to the end of the list
func (q *RunQueue) Push(ctx context.Context, runID string) error {
	return q.client.RPush(ctx, q.queueName, runID).Err()
}

// Pop waits for a run id and removes it from the front of the list
func (q *RunQueue) Pop(ctx context.Context) (string, error) {
	for {
		result, err := q.client.BLPop(ctx, q.pollTimeout, q.queueName).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if err != nil {
			return "", err
		}
		// BLPop returns a slice: [QueueName, Element]
		return result[1], nil
	}
}

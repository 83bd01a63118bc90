// Package queue implements the Redis-backed verification job queue.
//
// Delivery is at-least-once: Dequeue atomically moves the payload from
// the pending list to an in-flight list (RPOPLPUSH), and Complete
// removes it after processing. A crash mid-processing leaves the
// payload in the in-flight list for a recovery sweeper.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/labelproof/labelproof/pkg/models"
)

const (
	pendingKey    = "label_verify:jobs"
	processingKey = "label_verify:processing"
)

// Queue is a FIFO job queue on Redis lists.
type Queue struct {
	client *redis.Client
}

// New parses a Redis URL and builds the queue.
func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Queue{client: redis.NewClient(opts)}, nil
}

// NewFromClient wraps an existing Redis client; used by tests.
func NewFromClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Enqueue pushes a job payload onto the pending list.
func (q *Queue) Enqueue(ctx context.Context, job *models.QueuedJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal queued job: %w", err)
	}
	if err := q.client.LPush(ctx, pendingKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Dequeue atomically moves the oldest payload to the in-flight list
// and returns it. Returns (nil, nil) when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*models.QueuedJob, error) {
	payload, err := q.client.RPopLPush(ctx, pendingKey, processingKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	var job models.QueuedJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("decode queued job: %w", err)
	}
	return &job, nil
}

// Complete removes one copy of the payload from the in-flight list.
// The payload must serialize byte-identically to the dequeued copy.
func (q *Queue) Complete(ctx context.Context, job *models.QueuedJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal queued job: %w", err)
	}
	if err := q.client.LRem(ctx, processingKey, 1, payload).Err(); err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	return nil
}

// Depth returns the number of pending jobs.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.client.LLen(ctx, pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

// InFlight returns the number of jobs currently being processed.
func (q *Queue) InFlight(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, processingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("in-flight depth: %w", err)
	}
	return n, nil
}

// Health pings Redis.
func (q *Queue) Health(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

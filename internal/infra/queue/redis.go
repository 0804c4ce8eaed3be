package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"schoolpay/internal/domain"
)

// RedisInstructionQueue implements the instruction queue on Redis lists.
type RedisInstructionQueue struct {
	client *redis.Client
	key    string
}

// NewRedisInstructionQueue creates a queue on the given key.
func NewRedisInstructionQueue(client *redis.Client, key string) *RedisInstructionQueue {
	return &RedisInstructionQueue{client: client, key: key}
}

// Enqueue publishes a job.
func (q *RedisInstructionQueue) Enqueue(ctx context.Context, job domain.InstructionJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Pop blocks until a job is available.
func (q *RedisInstructionQueue) Pop(ctx context.Context) (domain.InstructionJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.InstructionJob{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.InstructionJob{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.InstructionJob{}, err
		}
		if len(res) != 2 {
			return domain.InstructionJob{}, errors.New("redis queue: unexpected response")
		}
		var job domain.InstructionJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.InstructionJob{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}

var _ domain.InstructionQueue = (*RedisInstructionQueue)(nil)

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"moviesbot/internal/domain"
)

// redisQueue — очередь на базе Redis lists для окружений без RabbitMQ.
// Подтверждение с success=false возвращает задачу в хвост списка.
type redisQueue struct {
	client *redis.Client
	key    string
}

func (q *redisQueue) push(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

func (q *redisQueue) pop(ctx context.Context) ([]byte, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return nil, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, nil, err
		}
		if len(res) != 2 {
			return nil, nil, errors.New("redis queue: unexpected response")
		}
		payload := []byte(res[1])
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.LPush(context.Background(), q.key, payload).Err()
		}
		return payload, ack, nil
	}
}

// RedisProcessQueue реализует domain.ProcessQueue на Redis lists.
type RedisProcessQueue struct {
	q *redisQueue
}

var _ domain.ProcessQueue = (*RedisProcessQueue)(nil)

// NewRedisProcessQueue создаёт очередь по указанному ключу.
func NewRedisProcessQueue(client *redis.Client, key string) *RedisProcessQueue {
	return &RedisProcessQueue{q: &redisQueue{client: client, key: key}}
}

// Enqueue публикует задачу в очередь.
func (p *RedisProcessQueue) Enqueue(ctx context.Context, job domain.ProcessJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return p.q.push(ctx, payload)
}

// Receive блокирующе читает задачу из очереди.
func (p *RedisProcessQueue) Receive(ctx context.Context) (domain.ProcessJob, domain.AckFunc, error) {
	payload, ack, err := p.q.pop(ctx)
	if err != nil {
		return domain.ProcessJob{}, nil, err
	}
	var job domain.ProcessJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return domain.ProcessJob{}, nil, fmt.Errorf("decode job: %w", err)
	}
	return job, ack, nil
}

// RedisReviewQueue реализует domain.ReviewQueue на Redis lists.
type RedisReviewQueue struct {
	q *redisQueue
}

var _ domain.ReviewQueue = (*RedisReviewQueue)(nil)

// NewRedisReviewQueue создаёт очередь по указанному ключу.
func NewRedisReviewQueue(client *redis.Client, key string) *RedisReviewQueue {
	return &RedisReviewQueue{q: &redisQueue{client: client, key: key}}
}

// Enqueue публикует задачу в очередь.
func (p *RedisReviewQueue) Enqueue(ctx context.Context, job domain.ReviewJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return p.q.push(ctx, payload)
}

// Receive блокирующе читает задачу из очереди.
func (p *RedisReviewQueue) Receive(ctx context.Context) (domain.ReviewJob, domain.AckFunc, error) {
	payload, ack, err := p.q.pop(ctx)
	if err != nil {
		return domain.ReviewJob{}, nil, err
	}
	var job domain.ReviewJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return domain.ReviewJob{}, nil, fmt.Errorf("decode job: %w", err)
	}
	return job, ack, nil
}

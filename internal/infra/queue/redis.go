package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/infra/metrics"
)

// RedisActionQueue публикует действия участников в Redis list.
type RedisActionQueue struct {
	client *redis.Client
	key    string
}

// NewRedisActionQueue создаёт очередь по указанному ключу.
func NewRedisActionQueue(client *redis.Client, key string) *RedisActionQueue {
	return &RedisActionQueue{client: client, key: key}
}

// LogAction реализует domain.ActionLog.
func (q *RedisActionQueue) LogAction(ctx context.Context, action domain.Action) error {
	payload, err := encodeAction(action)
	if err != nil {
		return err
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push action: %w", err)
	}
	return nil
}

// Pop блокирующе читает действие из очереди.
func (q *RedisActionQueue) Pop(ctx context.Context) (domain.Action, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Action{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.Action{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.Action{}, err
		}
		if len(res) != 2 {
			return domain.Action{}, errors.New("redis queue: unexpected response")
		}
		return decodeAction([]byte(res[1]))
	}
}

// Close ничего не делает: клиентом владеет вызывающий код.
func (q *RedisActionQueue) Close() error { return nil }

package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tg-inviter-bot/internal/infra/metrics"
)

// releaseScript удаляет ключ только если он всё ещё принадлежит владельцу.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis реализует domain.Locker через SET NX с TTL.
// Блокировки общие для всех экземпляров бота и планировщика.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis создаёт блокировщик.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "inviter:lock:"
	}
	return &Redis{client: client, prefix: prefix}
}

// Acquire пытается захватить ключ. Освобождение не снимает чужую блокировку,
// если наша уже истекла и ключ захватил другой владелец.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	fullKey := r.prefix + key
	token := uuid.NewString()

	start := time.Now()
	ok, err := r.client.SetNX(ctx, fullKey, token, ttl).Result()
	metrics.ObserveNetworkRequest("redis", "lock_acquire", "SETNX", start, err)
	if err != nil {
		return nil, false, fmt.Errorf("захват блокировки %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			start := time.Now()
			err := releaseScript.Run(ctx, r.client, []string{fullKey}, token).Err()
			metrics.ObserveNetworkRequest("redis", "lock_release", "EVAL", start, err)
		})
	}
	return release, true, nil
}

// Ping проверяет соединение.
func (r *Redis) Ping(ctx context.Context) error {
	start := time.Now()
	err := r.client.Ping(ctx).Err()
	metrics.ObserveNetworkRequest("redis", "ping", "PING", start, err)
	return err
}

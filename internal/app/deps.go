package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-inviter-bot/internal/adapters/repo"
	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/infra/config"
	"tg-inviter-bot/internal/infra/lock"
	"tg-inviter-bot/internal/infra/queue"
)

// Варианты ACTIONS_SINK.
const (
	SinkStore    = "store"
	SinkRedis    = "redis"
	SinkRabbitMQ = "rabbitmq"
)

// ActionSource читает действия из брокера.
type ActionSource interface {
	Pop(ctx context.Context) (domain.Action, error)
	Close() error
}

// Deps: общие зависимости бинарников.
type Deps struct {
	Store   repo.Store
	Redis   *redis.Client
	Locker  domain.Locker
	Actions domain.ActionLog
	// Source: брокер действий, nil если действия пишутся только в хранилище.
	Source ActionSource

	redisLock *lock.Redis
	closers   []func() error
}

// Build подключает хранилище, Redis и журнал действий по конфигу.
func Build(ctx context.Context, cfg config.AppConfig, log zerolog.Logger) (*Deps, error) {
	store, err := repo.Open(ctx, repo.Options{
		Driver:     cfg.Storage.Driver,
		PGDSN:      cfg.Storage.PGDSN,
		SQLitePath: cfg.Storage.SQLitePath,
		Timeout:    cfg.Storage.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("хранилище: %w", err)
	}
	d := &Deps{Store: store, Actions: store}
	d.closers = append(d.closers, store.Close)

	if cfg.RedisAddr != "" {
		d.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		d.closers = append(d.closers, d.Redis.Close)
		d.redisLock = lock.NewRedis(d.Redis, "")
		if err := d.redisLock.Ping(ctx); err != nil {
			d.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		d.Locker = d.redisLock
	} else {
		log.Warn().Msg("app: REDIS_ADDR не задан, блокировки действуют только внутри процесса")
		d.Locker = lock.NewMemory()
	}

	switch sink := strings.ToLower(strings.TrimSpace(cfg.Actions.Sink)); sink {
	case SinkStore, "":
	case SinkRedis:
		if d.Redis == nil {
			d.Close()
			return nil, errors.New("ACTIONS_SINK=redis требует REDIS_ADDR")
		}
		q := queue.NewRedisActionQueue(d.Redis, cfg.Actions.Queue)
		d.Source = q
		d.Actions = queue.Tee{store, q}
	case SinkRabbitMQ:
		q, err := queue.NewRabbitActionQueue(cfg.Actions.RabbitURL, cfg.Actions.Queue)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		d.closers = append(d.closers, q.Close)
		d.Source = q
		d.Actions = queue.Tee{store, q}
	default:
		d.Close()
		return nil, fmt.Errorf("неизвестный ACTIONS_SINK %q", sink)
	}
	return d, nil
}

// Ping проверяет хранилище. Используется в /healthz.
func (d *Deps) Ping(ctx context.Context) error {
	return d.Store.Ping(ctx)
}

// PingRedis проверяет Redis, если он подключён.
func (d *Deps) PingRedis(ctx context.Context) error {
	if d.redisLock == nil {
		return nil
	}
	return d.redisLock.Ping(ctx)
}

// Close освобождает ресурсы в обратном порядке.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

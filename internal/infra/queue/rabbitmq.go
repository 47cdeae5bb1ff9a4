package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/infra/metrics"
)

const defaultPollInterval = time.Second

// RabbitActionQueue публикует действия участников в durable-очередь RabbitMQ.
type RabbitActionQueue struct {
	mu           sync.Mutex
	conn         *amqp.Connection
	ch           *amqp.Channel
	queue        string
	pollInterval time.Duration
}

// NewRabbitActionQueue подключается к брокеру и объявляет очередь.
func NewRabbitActionQueue(amqpURL, queue string) (*RabbitActionQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	start := time.Now()
	conn, err := amqp.Dial(amqpURL)
	metrics.ObserveNetworkRequest("rabbitmq", "dial", queue, start, err)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitActionQueue{conn: conn, ch: ch, queue: queue, pollInterval: defaultPollInterval}, nil
}

// LogAction реализует domain.ActionLog.
func (q *RabbitActionQueue) LogAction(ctx context.Context, action domain.Action) error {
	payload, err := encodeAction(action)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    action.ID,
		Timestamp:    action.OccurredAt,
		Type:         string(action.Type),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish action: %w", err)
	}
	return nil
}

// Pop читает действие из очереди, опрашивая её с интервалом.
func (q *RabbitActionQueue) Pop(ctx context.Context) (domain.Action, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Action{}, err
		}
		q.mu.Lock()
		start := time.Now()
		msg, ok, err := q.ch.Get(q.queue, true)
		metrics.ObserveNetworkRequest("rabbitmq", "get", q.queue, start, err)
		q.mu.Unlock()
		if err != nil {
			return domain.Action{}, fmt.Errorf("get message: %w", err)
		}
		if !ok {
			select {
			case <-ctx.Done():
				return domain.Action{}, ctx.Err()
			case <-time.After(q.pollInterval):
			}
			continue
		}
		return decodeAction(msg.Body)
	}
}

// Close закрывает канал и соединение.
func (q *RabbitActionQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return errors.Join(q.ch.Close(), q.conn.Close())
}

package lock

import (
	"context"
	"sync"
	"time"
)

// Memory: блокировки в памяти процесса. Подходит для одного экземпляра и тестов.
type Memory struct {
	mu    sync.Mutex
	held  map[string]held
	now   func() time.Time
	token uint64
}

type held struct {
	token     uint64
	expiresAt time.Time
}

// NewMemory создаёт блокировщик в памяти.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]held), now: time.Now}
}

// Acquire захватывает ключ, если он свободен или его время жизни истекло.
func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if h, ok := m.held[key]; ok && (ttl <= 0 || now.Before(h.expiresAt)) {
		return nil, false, nil
	}
	m.token++
	token := m.token
	m.held[key] = held{token: token, expiresAt: now.Add(ttl)}

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if h, ok := m.held[key]; ok && h.token == token {
				delete(m.held, key)
			}
		})
	}
	return release, true, nil
}

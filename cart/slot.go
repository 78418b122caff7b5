package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	_ Slot = (*MemorySlot)(nil)
	_ Slot = (*RedisSlot)(nil)
)

// Slot is the durable location a Store hydrates from and persists to.
type Slot interface {
	// Load returns the raw snapshot, or nil when the slot has never been written.
	Load(ctx context.Context) ([]byte, error)

	// Save overwrites the slot with data.
	Save(ctx context.Context, data []byte) error
}

// MemorySlot keeps the snapshot in process memory.
type MemorySlot struct {
	mu   sync.RWMutex
	data []byte
}

func NewMemorySlot() *MemorySlot {
	return new(MemorySlot)
}

func (m *MemorySlot) Load(_ context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		return nil, nil
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

func (m *MemorySlot) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make([]byte, len(data))
	copy(m.data, data)
	return nil
}

// RedisSlot stores one session's snapshot under a single Redis key.
type RedisSlot struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// NewRedisSlot returns a slot at "<prefix>:<sessionID>". A zero ttl keeps the
// key forever; otherwise every Save refreshes the expiry.
func NewRedisSlot(client redis.Cmdable, prefix, sessionID string, ttl time.Duration) *RedisSlot {
	return &RedisSlot{
		client: client,
		key:    fmt.Sprintf("%s:%s", prefix, sessionID),
		ttl:    ttl,
	}
}

// Key returns the Redis key backing the slot.
func (r *RedisSlot) Key() string {
	return r.key
}

func (r *RedisSlot) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	return data, nil
}

func (r *RedisSlot) Save(ctx context.Context, data []byte) error {
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

package cart

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrInvalidSession = errors.New("session id is required")

// SlotFunc returns the slot backing one session's cart.
type SlotFunc func(sessionID string) Slot

// RedisSlots keeps every session under "<prefix>:<sessionID>" with ttl.
func RedisSlots(client redis.Cmdable, prefix string, ttl time.Duration) SlotFunc {
	return func(sessionID string) Slot {
		return NewRedisSlot(client, prefix, sessionID, ttl)
	}
}

// Sessions opens the cart of each client session with the same options.
type Sessions struct {
	slots  SlotFunc
	opts   []Option
	logger *zap.Logger
}

func NewSessions(slots SlotFunc, logger *zap.Logger, opts ...Option) *Sessions {
	return &Sessions{
		slots:  slots,
		opts:   opts,
		logger: logger,
	}
}

// Open returns the hydrated cart of sessionID. As with Open, the store is
// usable when the error wraps ErrPersistenceUnavailable.
func (s *Sessions) Open(ctx context.Context, sessionID string) (*Store, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}
	return Open(ctx, s.slots(sessionID), s.logger.With(zap.String("session_id", sessionID)), s.opts...)
}

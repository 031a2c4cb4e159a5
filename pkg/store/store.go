package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key, field, or record does not exist
var ErrNotFound = errors.New("not found")

// Message is a single pub/sub delivery
type Message struct {
	Channel string
	Payload string
}

// Subscription is a live pub/sub stream over one or more channels
type Subscription interface {
	// Messages returns the delivery channel. It is closed when the
	// subscription is closed or the underlying connection is lost.
	Messages() <-chan Message
	Close() error
}

// Store is the shared state store all control plane components talk to.
// Keys carry an optional TTL; a zero TTL means no expiry.
type Store interface {
	// Key/value
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)

	// Hash records
	SetHash(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	GetHash(ctx context.Context, key string) (map[string]string, error)
	GetHashField(ctx context.Context, key, field string) (string, error)

	// Sorted sets (score-ordered indexes: timelines, delay queues, DLQ)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRemove(ctx context.Context, key string, members ...string) error
	ZRemoveByScore(ctx context.Context, key string, min, max float64) error
	ZCard(ctx context.Context, key string) (int64, error)

	// Lists (dispatch lanes, replay buffers)
	LPush(ctx context.Context, key string, values ...string) error
	RPop(ctx context.Context, key string) (string, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LLen(ctx context.Context, key string) (int64, error)

	// Pub/sub
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	// Liveness
	Ping(ctx context.Context) error
	Close() error
}

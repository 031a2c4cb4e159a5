package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKV(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "short", "v", 10*time.Millisecond))
	v, err := s.Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	time.Sleep(20 * time.Millisecond)
	_, err = s.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryHash(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	require.NoError(t, s.SetHash(ctx, "h", map[string]string{"a": "1", "b": "2"}, 0))
	require.NoError(t, s.SetHash(ctx, "h", map[string]string{"b": "3"}, 0))

	h, err := s.GetHash(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "3"}, h)

	v, err := s.GetHashField(ctx, "h", "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	_, err = s.GetHashField(ctx, "h", "z")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetHash(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySortedSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	require.NoError(t, s.ZAdd(ctx, "z", 3, "c"))
	require.NoError(t, s.ZAdd(ctx, "z", 1, "a"))
	require.NoError(t, s.ZAdd(ctx, "z", 2, "b"))

	members, err := s.ZRangeByScore(ctx, "z", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, members)

	members, err = s.ZRangeByScore(ctx, "z", 2, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, members)

	require.NoError(t, s.ZRemove(ctx, "z", "b"))
	n, err := s.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, s.ZRemoveByScore(ctx, "z", 0, 1))
	members, err = s.ZRangeByScore(ctx, "z", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, members)
}

func TestMemoryList(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	require.NoError(t, s.LPush(ctx, "l", "first"))
	require.NoError(t, s.LPush(ctx, "l", "second"))
	require.NoError(t, s.LPush(ctx, "l", "third"))

	// LPush prepends: newest at index 0
	vals, err := s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second", "first"}, vals)

	// RPop takes the oldest
	v, err := s.RPop(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	require.NoError(t, s.LTrim(ctx, "l", 0, 0))
	n, err := s.LLen(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.RPop(ctx, "empty")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryKeysPattern(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "active_tasks:1", "a", 0))
	require.NoError(t, s.Set(ctx, "active_tasks:2", "b", 0))
	require.NoError(t, s.Set(ctx, "completed_tasks:1", "c", 0))
	require.NoError(t, s.SetHash(ctx, "active_tasks:3", map[string]string{"x": "y"}, 0))

	keys, err := s.Keys(ctx, "active_tasks:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"active_tasks:1", "active_tasks:2", "active_tasks:3"}, keys)
}

func TestMemoryIncr(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	n, err := s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryPubSub(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	sub, err := s.Subscribe(ctx, "tasks", "agents")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Publish(ctx, "tasks", "payload-1"))
	require.NoError(t, s.Publish(ctx, "metrics", "ignored"))
	require.NoError(t, s.Publish(ctx, "agents", "payload-2"))

	var got []Message
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case msg := <-sub.Messages():
			got = append(got, msg)
		case <-timeout:
			t.Fatal("timed out waiting for messages")
		}
	}

	assert.Equal(t, "tasks", got[0].Channel)
	assert.Equal(t, "payload-1", got[0].Payload)
	assert.Equal(t, "agents", got[1].Channel)
	assert.Equal(t, "payload-2", got[1].Payload)

	// Nothing extra delivered
	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMemorySubscriptionClose(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	sub, err := s.Subscribe(ctx, "tasks")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close()) // idempotent

	_, open := <-sub.Messages()
	assert.False(t, open)

	// Publishing after close must not panic
	assert.NoError(t, s.Publish(ctx, "tasks", "late"))
}

package store

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// memStore is an in-process Store used by tests and single-binary dev mode.
// Semantics track the Redis implementation: lazy key expiry, LPush prepends,
// sorted sets ordered by score, fan-out pub/sub with per-subscriber buffers.
type memStore struct {
	mu       sync.RWMutex
	values   map[string]string
	hashes   map[string]map[string]string
	zsets    map[string]map[string]float64
	lists    map[string][]string
	expiry   map[string]time.Time
	counters map[string]int64

	subMu  sync.RWMutex
	subs   map[*memSubscription]struct{}
	closed bool
}

// NewMemory creates an empty in-memory store
func NewMemory() Store {
	return &memStore{
		values:   make(map[string]string),
		hashes:   make(map[string]map[string]string),
		zsets:    make(map[string]map[string]float64),
		lists:    make(map[string][]string),
		expiry:   make(map[string]time.Time),
		counters: make(map[string]int64),
		subs:     make(map[*memSubscription]struct{}),
	}
}

// expired reports and reaps a lapsed key. Caller must hold mu.
func (s *memStore) expired(key string) bool {
	deadline, ok := s.expiry[key]
	if !ok || time.Now().Before(deadline) {
		return false
	}
	delete(s.values, key)
	delete(s.hashes, key)
	delete(s.zsets, key)
	delete(s.lists, key)
	delete(s.counters, key)
	delete(s.expiry, key)
	return true
}

func (s *memStore) setTTL(key string, ttl time.Duration) {
	if ttl > 0 {
		s.expiry[key] = time.Now().Add(ttl)
	} else {
		delete(s.expiry, key)
	}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return "", ErrNotFound
	}
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	if n, ok := s.counters[key]; ok {
		return strconv.FormatInt(n, 10), nil
	}
	return "", ErrNotFound
}

func (s *memStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.setTTL(key, ttl)
	return nil
}

func (s *memStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
		delete(s.hashes, key)
		delete(s.zsets, key)
		delete(s.lists, key)
		delete(s.counters, key)
		delete(s.expiry, key)
	}
	return nil
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return false, nil
	}
	if _, ok := s.values[key]; ok {
		return true, nil
	}
	if _, ok := s.hashes[key]; ok {
		return true, nil
	}
	if _, ok := s.zsets[key]; ok {
		return true, nil
	}
	if _, ok := s.lists[key]; ok {
		return true, nil
	}
	if _, ok := s.counters[key]; ok {
		return true, nil
	}
	return false, nil
}

func (s *memStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	collect := func(key string) {
		if s.expired(key) {
			return
		}
		if ok, _ := filepath.Match(pattern, key); ok {
			seen[key] = struct{}{}
		}
	}
	for key := range s.values {
		collect(key)
	}
	for key := range s.hashes {
		collect(key)
	}
	for key := range s.zsets {
		collect(key)
	}
	for key := range s.lists {
		collect(key)
	}
	for key := range s.counters {
		collect(key)
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setTTL(key, ttl)
	return nil
}

func (s *memStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired(key)
	s.counters[key]++
	return s.counters[key], nil
}

func (s *memStore) SetHash(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired(key)
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	if ttl > 0 {
		s.setTTL(key, ttl)
	}
	return nil
}

func (s *memStore) GetHash(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return nil, ErrNotFound
	}
	h, ok := s.hashes[key]
	if !ok || len(h) == 0 {
		return nil, ErrNotFound
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) GetHashField(_ context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return "", ErrNotFound
	}
	h, ok := s.hashes[key]
	if !ok {
		return "", ErrNotFound
	}
	v, ok := h[field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *memStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired(key)
	z, ok := s.zsets[key]
	if !ok {
		z = make(map[string]float64)
		s.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (s *memStore) ZRangeByScore(_ context.Context, key string, min, max float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return nil, nil
	}
	z := s.zsets[key]

	type entry struct {
		member string
		score  float64
	}
	var entries []entry
	for m, sc := range z {
		if sc >= min && sc <= max {
			entries = append(entries, entry{m, sc})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score < entries[j].score
		}
		return entries[i].member < entries[j].member
	})

	members := make([]string, len(entries))
	for i, e := range entries {
		members[i] = e.member
	}
	return members, nil
}

func (s *memStore) ZRemove(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z := s.zsets[key]
	for _, m := range members {
		delete(z, m)
	}
	return nil
}

func (s *memStore) ZRemoveByScore(_ context.Context, key string, min, max float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z := s.zsets[key]
	for m, sc := range z {
		if sc >= min && sc <= max {
			delete(z, m)
		}
	}
	return nil
}

func (s *memStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return 0, nil
	}
	return int64(len(s.zsets[key])), nil
}

func (s *memStore) LPush(_ context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired(key)
	list := s.lists[key]
	// LPush prepends, newest first
	for _, v := range values {
		list = append([]string{v}, list...)
	}
	s.lists[key] = list
	return nil
}

func (s *memStore) RPop(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return "", ErrNotFound
	}
	list := s.lists[key]
	if len(list) == 0 {
		return "", ErrNotFound
	}
	v := list[len(list)-1]
	s.lists[key] = list[:len(list)-1]
	return v, nil
}

func (s *memStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return nil, nil
	}
	list := s.lists[key]
	n := int64(len(list))
	if n == 0 {
		return nil, nil
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (s *memStore) LTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	n := int64(len(list))
	if n == 0 {
		return nil
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		s.lists[key] = nil
		return nil
	}
	s.lists[key] = list[start : stop+1]
	return nil
}

func (s *memStore) LLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return 0, nil
	}
	return int64(len(s.lists[key])), nil
}

func (s *memStore) Publish(_ context.Context, channel, payload string) error {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	msg := Message{Channel: channel, Payload: payload}
	for sub := range s.subs {
		if !sub.wants(channel) {
			continue
		}
		select {
		case sub.msgCh <- msg:
		default:
			// Subscriber buffer full, skip
		}
	}
	return nil
}

func (s *memStore) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	sub := &memSubscription{
		store:    s,
		channels: make(map[string]struct{}, len(channels)),
		msgCh:    make(chan Message, 100),
	}
	for _, ch := range channels {
		sub.channels[ch] = struct{}{}
	}
	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()
	return sub, nil
}

func (s *memStore) Ping(_ context.Context) error {
	return nil
}

func (s *memStore) Close() error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for sub := range s.subs {
		close(sub.msgCh)
		delete(s.subs, sub)
	}
	return nil
}

type memSubscription struct {
	store    *memStore
	channels map[string]struct{}
	msgCh    chan Message
	once     sync.Once
}

func (s *memSubscription) wants(channel string) bool {
	_, ok := s.channels[channel]
	return ok
}

func (s *memSubscription) Messages() <-chan Message {
	return s.msgCh
}

func (s *memSubscription) Close() error {
	s.once.Do(func() {
		s.store.subMu.Lock()
		if _, ok := s.store.subs[s]; ok {
			delete(s.store.subs, s)
			close(s.msgCh)
		}
		s.store.subMu.Unlock()
	})
	return nil
}

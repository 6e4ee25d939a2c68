package storage

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store with the same semantics as the redis
// implementation. It backs single-node deployments and every test.
type MemoryStore struct {
	mu      sync.Mutex
	strings map[string]memoryValue
	zsets   map[string]memoryZSet
}

type memoryValue struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

type memoryZSet struct {
	members   map[string]float64
	expiresAt time.Time
}

func (v memoryValue) expired(now time.Time) bool {
	return !v.expiresAt.IsZero() && now.After(v.expiresAt)
}

func (z memoryZSet) expired(now time.Time) bool {
	return !z.expiresAt.IsZero() && now.After(z.expiresAt)
}

// NewMemoryStore creates an empty in-memory coordination store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]memoryValue),
		zsets:   make(map[string]memoryZSet),
	}
}

func (s *MemoryStore) getValue(key string) (memoryValue, bool) {
	v, ok := s.strings[key]
	if !ok || v.expired(time.Now()) {
		delete(s.strings, key)
		return memoryValue{}, false
	}
	return v, true
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.getValue(key)
	if !ok {
		return "", ErrNotFound
	}
	return v.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = memoryValue{value: value, expiresAt: expiry(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.getValue(key); ok {
		return false, nil
	}
	s.strings[key] = memoryValue{value: value, expiresAt: expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.strings, key)
		delete(s.zsets, key)
	}
	return nil
}

func (s *MemoryStore) DeletePattern(_ context.Context, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.strings {
		if ok, _ := path.Match(pattern, key); ok {
			delete(s.strings, key)
		}
	}
	for key := range s.zsets {
		if ok, _ := path.Match(pattern, key); ok {
			delete(s.zsets, key)
		}
	}
	return nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.getValue(key); ok {
		v.expiresAt = expiry(ttl)
		s.strings[key] = v
	}
	if z, ok := s.zsets[key]; ok && !z.expired(time.Now()) {
		z.expiresAt = expiry(ttl)
		s.zsets[key] = z
	}
	return nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.getValue(key)
	if !ok {
		return -2 * time.Second, nil
	}
	if v.expiresAt.IsZero() {
		return -1 * time.Second, nil
	}
	return time.Until(v.expiresAt), nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.getValue(key)
	if !ok {
		s.strings[key] = memoryValue{value: "1"}
		return 1, nil
	}
	n, err := strconv.ParseInt(v.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value at %q is not an integer: %w", key, err)
	}
	n++
	v.value = strconv.FormatInt(n, 10)
	s.strings[key] = v
	return n, nil
}

func (s *MemoryStore) zset(key string) memoryZSet {
	z, ok := s.zsets[key]
	if !ok || z.expired(time.Now()) {
		z = memoryZSet{members: make(map[string]float64)}
		s.zsets[key] = z
	}
	return z
}

func (s *MemoryStore) ZAdd(_ context.Context, key, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z := s.zset(key)
	z.members[member] = score
	s.zsets[key] = z
	return nil
}

func (s *MemoryStore) ZRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z := s.zset(key)
	for _, m := range members {
		delete(z.members, m)
	}
	return nil
}

func (s *MemoryStore) ZCount(_ context.Context, key string, min, max float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z := s.zset(key)
	var count int64
	for _, score := range z.members {
		if score >= min && score <= max {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ZRemRangeByScore(_ context.Context, key string, min, max float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z := s.zset(key)
	for m, score := range z.members {
		if score >= min && score <= max {
			delete(z.members, m)
		}
	}
	return nil
}

func (s *MemoryStore) Lock(ctx context.Context, key string, ttl, wait time.Duration) (func(context.Context), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, _ := s.SetNX(ctx, key, token, ttl)
		if ok {
			release := func(context.Context) {
				s.mu.Lock()
				defer s.mu.Unlock()
				if v, held := s.getValue(key); held && v.value == token {
					delete(s.strings, key)
				}
			}
			return release, nil
		}

		if time.Now().Add(DefaultLockBackoff).After(deadline) {
			return nil, fmt.Errorf("lock %q: %w", key, ErrLockContended)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(DefaultLockBackoff):
		}
	}
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

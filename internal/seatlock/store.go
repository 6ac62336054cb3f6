package seatlock

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	pkgredis "github.com/prohmpiriya/cinehub-booking/pkg/redis"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/release_locks.lua
var releaseLocksScript string

const scriptReleaseLocks = "release_locks"

// Lock is the value stored under a seat lock key
type Lock struct {
	UserID    string    `json:"user_id"`
	LockID    string    `json:"lock_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Holder identifies whose locks a release may delete. Empty fields match anything.
type Holder struct {
	UserID string
	LockID string
}

func (h Holder) matches(l *Lock) bool {
	return (h.UserID == "" || h.UserID == l.UserID) && (h.LockID == "" || h.LockID == l.LockID)
}

// Key returns the lock key of a seat
func Key(showtimeID, seatID string) string {
	return fmt.Sprintf("seatlock:%s:%s", showtimeID, seatID)
}

// Store is an expiring compare-and-set map of seat locks
type Store interface {
	// Acquire sets key to lock only if key is absent
	Acquire(ctx context.Context, key string, lock Lock, ttl time.Duration) (bool, error)
	// Inspect returns the live lock at key and its remaining TTL, or nil when absent
	Inspect(ctx context.Context, key string) (*Lock, time.Duration, error)
	// Release deletes the keys still held by holder and returns how many were deleted
	Release(ctx context.Context, keys []string, holder Holder) (int, error)
}

// RedisClient is the subset of *pkgredis.Client the Redis store uses
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
	EvalWithFallback(ctx context.Context, name, script string, keys []string, args ...interface{}) *redis.Cmd
	LoadScript(ctx context.Context, name, script string) (*pkgredis.ScriptInfo, error)
}

// RedisStore keeps locks as JSON strings with a native TTL
type RedisStore struct {
	client RedisClient
}

// NewRedisStore creates a new RedisStore
func NewRedisStore(client RedisClient) *RedisStore {
	return &RedisStore{client: client}
}

// LoadScripts preloads the release script
func (s *RedisStore) LoadScripts(ctx context.Context) error {
	if _, err := s.client.LoadScript(ctx, scriptReleaseLocks, releaseLocksScript); err != nil {
		return fmt.Errorf("failed to load script %s: %w", scriptReleaseLocks, err)
	}
	return nil
}

// Acquire runs SET key value NX PX ttl
func (s *RedisStore) Acquire(ctx context.Context, key string, lock Lock, ttl time.Duration) (bool, error) {
	value, err := json.Marshal(lock)
	if err != nil {
		return false, fmt.Errorf("failed to marshal lock: %w", err)
	}
	ok, err := s.client.SetNX(ctx, key, string(value), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire %s: %w", key, err)
	}
	return ok, nil
}

// Inspect reads the lock and its PTTL
func (s *RedisStore) Inspect(ctx context.Context, key string) (*Lock, time.Duration, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", key, err)
	}

	var lock Lock
	if err := json.Unmarshal([]byte(raw), &lock); err != nil {
		return nil, 0, fmt.Errorf("corrupt lock at %s: %w", key, err)
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read ttl of %s: %w", key, err)
	}
	// -2: key expired between GET and PTTL
	if ttl == -2 {
		return nil, 0, nil
	}
	if ttl < 0 {
		ttl = 0
	}
	return &lock, ttl, nil
}

// Release deletes keys atomically through the holder-checked script
func (s *RedisStore) Release(ctx context.Context, keys []string, holder Holder) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.EvalWithFallback(ctx, scriptReleaseLocks, releaseLocksScript, keys, holder.UserID, holder.LockID).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to execute %s script: %w", scriptReleaseLocks, err)
	}
	return n, nil
}

type memoryEntry struct {
	lock      Lock
	expiresAt time.Time
}

// MemoryStore is an in-process Store with an injectable clock
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates a MemoryStore. A nil clock means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{entries: make(map[string]memoryEntry), now: now}
}

func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// Acquire sets key if absent or expired
func (s *MemoryStore) Acquire(ctx context.Context, key string, lock Lock, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{lock: lock, expiresAt: s.now().Add(ttl)}
	return true, nil
}

// Inspect returns the live lock at key
func (s *MemoryStore) Inspect(ctx context.Context, key string) (*Lock, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil, 0, nil
	}
	lock := e.lock
	return &lock, e.expiresAt.Sub(s.now()), nil
}

// Release deletes the live keys that match holder
func (s *MemoryStore) Release(ctx context.Context, keys []string, holder Holder) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for _, key := range keys {
		e, ok := s.live(key)
		if !ok || !holder.matches(&e.lock) {
			continue
		}
		delete(s.entries, key)
		released++
	}
	return released, nil
}

// Keys lists live keys in sorted order
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		if _, ok := s.live(k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

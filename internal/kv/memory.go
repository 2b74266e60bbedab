package kv

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store used in tests and as the single-node fallback
// when no Redis address is configured. Expiry is evaluated lazily on access.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		clock:   time.Now,
	}
}

// NewMemoryWithClock creates an in-memory store with an injected clock.
func NewMemoryWithClock(clock func() time.Time) *Memory {
	store := NewMemory()
	if clock != nil {
		store.clock = clock
	}
	return store
}

func (m *Memory) now() time.Time {
	return m.clock()
}

// live returns the entry for key if present and unexpired, pruning it otherwise.
// Callers must hold m.mu.
func (m *Memory) live(key string) (memoryEntry, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

// SetIfAbsent writes key=value with ttl only when the key is absent.
func (m *Memory) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: m.expiry(ttl)}
	return true, nil
}

// Set writes key=value unconditionally with ttl.
func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{value: value, expiresAt: m.expiry(ttl)}
	return nil
}

// Get returns the value for key or ErrNotFound.
func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(key)
	if !ok {
		return "", ErrNotFound
	}
	return entry.value, nil
}

// ConsumeIfEquals atomically swaps a matching value for the replacement,
// carrying the remaining TTL forward unchanged.
func (m *Memory) ConsumeIfEquals(ctx context.Context, key, expect, replacement string) (ConsumeResult, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(key)
	if !ok {
		return ConsumeMissing, nil
	}
	if entry.value != expect {
		return ConsumeMismatch, nil
	}
	m.entries[key] = memoryEntry{value: replacement, expiresAt: entry.expiresAt}
	return ConsumeOK, nil
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

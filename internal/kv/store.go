// Package kv provides the shared key-value store the engine processes
// coordinate through: control flags, bot parameters, trend data, and the
// per-instrument spread ring buffers.
//
// Two backends implement the same Store interface: an in-process map for
// single-binary runs and tests, and Redis when the processes are split. The
// engine behaves identically on either.
package kv

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Get and HGet when the key or field is absent.
var ErrNotFound = errors.New("kv: not found")

// Store is the coordination surface shared by the aggregator, the quoting
// engines and the hedge executor.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetTTL writes a key that expires after ttl.
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// ListAppendTrim appends value to the list at key and trims the list to
	// its most recent bound entries, atomically per key.
	ListAppendTrim(ctx context.Context, key, value string, bound int) error
	// ListLastN returns up to n most recent entries, oldest first.
	ListLastN(ctx context.Context, key string, n int) ([]string, error)
	ListLen(ctx context.Context, key string) (int, error)

	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key, field, value string) error

	Close() error
}

// Open selects a backend: Redis when addr is non-empty, in-process otherwise.
func Open(addr string, db int) Store {
	if addr == "" {
		return NewMemoryStore()
	}
	return NewRedisStore(addr, db)
}

// MemoryStore is the in-process backend. TTLs are checked lazily on read.
type MemoryStore struct {
	mu      sync.RWMutex
	strings map[string]memEntry
	lists   map[string][]string
	hashes  map[string]map[string]string
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]memEntry),
		lists:   make(map[string][]string),
		hashes:  make(map[string]map[string]string),
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	e, ok := m.strings[key]
	m.mu.RUnlock()
	if !ok || e.expired() {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (e memEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	m.strings[key] = memEntry{value: value}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	m.strings[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.strings, key)
	delete(m.lists, key)
	delete(m.hashes, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.strings[key]; ok && !e.expired() {
		return true, nil
	}
	if _, ok := m.lists[key]; ok {
		return true, nil
	}
	if _, ok := m.hashes[key]; ok {
		return true, nil
	}
	return false, nil
}

func (m *MemoryStore) ListAppendTrim(ctx context.Context, key, value string, bound int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := append(m.lists[key], value)
	if bound > 0 && len(l) > bound {
		l = l[len(l)-bound:]
	}
	m.lists[key] = l
	return nil
}

func (m *MemoryStore) ListLastN(ctx context.Context, key string, n int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l := m.lists[key]
	if n > len(l) {
		n = len(l)
	}
	out := make([]string, n)
	copy(out, l[len(l)-n:])
	return out, nil
}

func (m *MemoryStore) ListLen(ctx context.Context, key string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.lists[key]), nil
}

func (m *MemoryStore) HGet(ctx context.Context, key, field string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hashes[key]
	if !ok {
		return "", ErrNotFound
	}
	v, ok := h[field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) HSet(ctx context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)

package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Seen set.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewMemory creates a set whose entries expire after ttl and starts the
// background sweep.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Memory{
		entries:         make(map[string]time.Time),
		ttl:             ttl,
		now:             time.Now,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	go m.cleanup()
	return m
}

func (m *Memory) Known(_ context.Context, ids []string) (map[string]struct{}, error) {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	known := make(map[string]struct{})
	for _, id := range ids {
		if exp, ok := m.entries[id]; ok && now.Before(exp) {
			known[id] = struct{}{}
		}
	}
	return known, nil
}

func (m *Memory) Mark(_ context.Context, ids []string) error {
	exp := m.now().Add(m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		m.entries[id] = exp
	}
	return nil
}

// Len is the number of entries, expired ones included until the next sweep.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close stops the background sweep.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stopCleanup) })
	return nil
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.removeExpired()
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *Memory) removeExpired() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, id)
		}
	}
}

package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryMarkAndKnown(t *testing.T) {
	m := NewMemory(time.Minute)
	defer m.Close()
	ctx := context.Background()

	if err := m.Mark(ctx, []string{"A1", "A2"}); err != nil {
		t.Fatalf("mark: %v", err)
	}
	known, err := m.Known(ctx, []string{"A1", "A3"})
	if err != nil {
		t.Fatalf("known: %v", err)
	}
	if _, ok := known["A1"]; !ok || len(known) != 1 {
		t.Fatalf("expected only A1 known, got %v", known)
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory(time.Minute)
	defer m.Close()
	ctx := context.Background()

	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }
	_ = m.Mark(ctx, []string{"A1"})

	now = now.Add(2 * time.Minute)
	known, _ := m.Known(ctx, []string{"A1"})
	if len(known) != 0 {
		t.Fatalf("expected A1 to expire, got %v", known)
	}

	m.removeExpired()
	if m.Len() != 0 {
		t.Fatalf("expected sweep to drop expired entries, have %d", m.Len())
	}
}

func TestMemoryCloseTwice(t *testing.T) {
	m := NewMemory(0)
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestNop(t *testing.T) {
	var s Seen = Nop{}
	_ = s.Mark(context.Background(), []string{"A1"})
	known, err := s.Known(context.Background(), []string{"A1"})
	if err != nil || len(known) != 0 {
		t.Fatalf("expected nop to remember nothing, got %v err=%v", known, err)
	}
}

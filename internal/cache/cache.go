// Package cache remembers auction ids that are already stored so a cycle can
// skip decoding them again.
package cache

import (
	"context"
	"time"
)

// Seen is a set of auction ids with a per-entry lifetime. Implementations
// are safe for concurrent use.
type Seen interface {
	// Known returns the subset of ids currently in the set.
	Known(ctx context.Context, ids []string) (map[string]struct{}, error)
	// Mark adds ids to the set for the configured lifetime.
	Mark(ctx context.Context, ids []string) error
	Close() error
}

// DefaultTTL covers the window in which the ended-auctions feed repeats an id.
const DefaultTTL = 6 * time.Hour

// Nop never remembers anything.
type Nop struct{}

func (Nop) Known(context.Context, []string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}
func (Nop) Mark(context.Context, []string) error { return nil }
func (Nop) Close() error                         { return nil }

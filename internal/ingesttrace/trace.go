// Package ingesttrace counts what happened to the auctions of one cycle.
package ingesttrace

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stage represents a pipeline stage used for tracking auction processing.
type Stage string

const (
	StageSeenFromUpstream Stage = "seen_from_upstream"
	StageAlreadyKnown     Stage = "already_known"
	StageProcessed        Stage = "processed"
	StageDecodeFailed     Stage = "decode_failed"
	StageWrittenToDB      Stage = "written_to_db"
	StageDuplicate        Stage = "duplicate"

	StageDroppedPrefix = "dropped_"
)

// StageDropped creates a Stage for a dropped auction with the given reason.
func StageDropped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageDroppedPrefix, reason))
}

// CycleTrace captures the counters of one fetch/process/save cycle.
type CycleTrace struct {
	ID      string
	Started time.Time

	mu       sync.Mutex
	counters map[Stage]int64
}

// NewCycleTrace starts a trace for a cycle that fetched seen auctions.
func NewCycleTrace(seen int) *CycleTrace {
	t := &CycleTrace{
		ID:       uuid.NewString(),
		Started:  time.Now(),
		counters: make(map[Stage]int64),
	}
	t.counters[StageSeenFromUpstream] = int64(seen)
	return t
}

// IncCounter increments the counter for the provided stage and returns the updated value.
func (t *CycleTrace) IncCounter(stage Stage) int64 {
	return t.AddCounter(stage, 1)
}

// AddCounter adds n to the counter for stage and returns the updated value.
func (t *CycleTrace) AddCounter(stage Stage, n int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters[stage] += n
	return t.counters[stage]
}

// Counter returns the current value for stage.
func (t *CycleTrace) Counter(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[stage]
}

// Dropped sums every dropped_* counter.
func (t *CycleTrace) Dropped() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var n int64
	for stage, count := range t.counters {
		if strings.HasPrefix(string(stage), StageDroppedPrefix) {
			n += count
		}
	}
	return n
}

// LogSummary writes the one-line cycle summary.
func (t *CycleTrace) LogSummary(log *zap.Logger, msg string, lastUpdated int64) {
	if log == nil {
		return
	}

	log.Info(msg,
		zap.String("cycle_id", t.ID),
		zap.Int64("fetched", t.Counter(StageSeenFromUpstream)),
		zap.Int64("known", t.Counter(StageAlreadyKnown)),
		zap.Int64("processed", t.Counter(StageProcessed)),
		zap.Int64("saved", t.Counter(StageWrittenToDB)),
		zap.Int64("duplicates", t.Counter(StageDuplicate)),
		zap.Int64("dropped", t.Dropped()),
		zap.Int64("decode_failed", t.Counter(StageDecodeFailed)),
		zap.Int64("last_updated", lastUpdated),
		zap.Duration("took", time.Since(t.Started)),
	)
}

// Snapshot copies the counters.
func (t *CycleTrace) Snapshot() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		out[stage] = count
	}
	return out
}

// Package harvester runs the fetch, process and save cycle on a fixed
// interval until shutdown.
package harvester

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/skyblock-auctions/internal/cache"
	"github.com/you/skyblock-auctions/internal/core"
	"github.com/you/skyblock-auctions/internal/hypixel"
	"github.com/you/skyblock-auctions/internal/ingest"
	"github.com/you/skyblock-auctions/internal/ingesttrace"
	"github.com/you/skyblock-auctions/internal/sink"
)

// DefaultInterval is the sleep between cycles, after success or failure.
const DefaultInterval = 60 * time.Second

type State int32

const (
	Idle State = iota
	Fetching
	Processing
	Saving
	Sleeping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Processing:
		return "processing"
	case Saving:
		return "saving"
	case Sleeping:
		return "sleeping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Fetcher interface {
	Fetch(ctx context.Context) (hypixel.Page, error)
}

type Store interface {
	Insert(ctx context.Context, recs []core.AuctionRecord) (sink.Outcome, error)
	KnownIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
}

type Options struct {
	Interval      time.Duration
	DecodeWorkers int
	Seen          cache.Seen
	Metrics       *Metrics
	Logger        *zap.Logger
}

// Report summarizes one cycle.
type Report struct {
	CycleID      string        `json:"cycle_id"`
	Fetched      int64         `json:"fetched"`
	Known        int64         `json:"known"`
	Processed    int64         `json:"processed"`
	Saved        int64         `json:"saved"`
	Duplicates   int64         `json:"duplicates"`
	Dropped      int64         `json:"dropped"`
	DecodeFailed int64         `json:"decode_failed"`
	Failed       int64         `json:"failed"`
	LastUpdated  int64         `json:"last_updated"`
	Took         time.Duration `json:"took"`
}

type Harvester struct {
	fetcher  Fetcher
	store    Store
	proc     *ingest.Processor
	seen     cache.Seen
	interval time.Duration
	workers  int
	metrics  *Metrics
	log      *zap.Logger

	state   atomic.Int32
	trigger chan struct{}

	mu      sync.Mutex
	last    Report
	lastErr error
	lastAt  time.Time
}

func New(fetcher Fetcher, store Store, opts Options) *Harvester {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.DecodeWorkers < 1 {
		opts.DecodeWorkers = 1
	}
	if opts.Seen == nil {
		opts.Seen = cache.Nop{}
	}
	return &Harvester{
		fetcher:  fetcher,
		store:    store,
		proc:     ingest.NewProcessor(log),
		seen:     opts.Seen,
		interval: opts.Interval,
		workers:  opts.DecodeWorkers,
		metrics:  opts.Metrics,
		log:      log,
		trigger:  make(chan struct{}, 1),
	}
}

// Run cycles until ctx is done. Shutdown is checked before each cycle and
// during the sleep; a cycle already running is allowed to finish.
func (h *Harvester) Run(ctx context.Context) error {
	h.log.Info("harvester started", zap.Duration("interval", h.interval), zap.Int("decode_workers", h.workers))
	for {
		if ctx.Err() != nil {
			h.setState(Stopped)
			h.log.Info("harvester stopped")
			return nil
		}
		h.runCycle(ctx)

		h.setState(Sleeping)
		if !h.sleep(ctx) {
			h.setState(Stopped)
			h.log.Info("harvester stopped")
			return nil
		}
	}
}

// Trigger asks a sleeping loop to start the next cycle now. It reports false
// when a request is already pending.
func (h *Harvester) Trigger() bool {
	select {
	case h.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (h *Harvester) State() State { return State(h.state.Load()) }

// Status describes the loop for the admin endpoint.
type Status struct {
	State     string    `json:"state"`
	Last      *Report   `json:"last_cycle,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	LastAt    time.Time `json:"last_cycle_at,omitempty"`
}

func (h *Harvester) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Status{State: h.State().String()}
	if h.lastAt.IsZero() {
		return st
	}
	last := h.last
	st.Last = &last
	st.LastAt = h.lastAt
	if h.lastErr != nil {
		st.LastError = h.lastErr.Error()
	}
	return st
}

func (h *Harvester) setState(s State) {
	h.state.Store(int32(s))
	h.metrics.SetState(s)
}

func (h *Harvester) sleep(ctx context.Context) bool {
	timer := time.NewTimer(h.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-h.trigger:
		h.log.Info("cycle triggered")
		return true
	}
}

func (h *Harvester) runCycle(ctx context.Context) {
	cycleCtx := context.WithoutCancel(ctx)
	started := time.Now()

	var (
		report Report
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("cycle panicked: %v", r)
				h.metrics.ObserveCycle("panic", time.Since(started))
				h.log.Error("cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		report, err = h.RunOnce(cycleCtx)
		if err != nil {
			h.metrics.ObserveCycle("error", time.Since(started))
			h.log.Error("cycle failed",
				zap.String("kind", core.Kind(err)),
				zap.Error(err),
			)
			return
		}
		h.metrics.ObserveCycle("ok", time.Since(started))
	}()

	h.mu.Lock()
	h.last, h.lastErr, h.lastAt = report, err, time.Now()
	h.mu.Unlock()
}

// RunOnce executes exactly one cycle. Record-level failures are counted in
// the report; only fetch and transaction failures are returned.
func (h *Harvester) RunOnce(ctx context.Context) (Report, error) {
	h.setState(Fetching)
	page, err := h.fetcher.Fetch(ctx)
	if err != nil {
		return Report{}, errors.Wrap(err, "fetch")
	}

	trace := ingesttrace.NewCycleTrace(page.Fetched())
	h.metrics.ObserveFetch(page.Fetched(), page.LastUpdated)
	if page.Fetched() == 0 {
		h.log.Info("no auctions fetched", zap.Int64("last_updated", page.LastUpdated))
		return h.report(trace, page.LastUpdated, 0), nil
	}
	for _, rej := range page.Rejected {
		h.log.Warn("skipping unreadable auction entry",
			zap.Int("index", rej.Index),
			zap.String("auction_id", rej.AuctionID),
			zap.Error(rej.Err),
		)
	}
	if len(page.Rejected) > 0 {
		trace.AddCounter(ingesttrace.StageDropped("malformed_entry"), int64(len(page.Rejected)))
	}

	fresh := h.skipKnown(ctx, page.Auctions, trace)

	h.setState(Processing)
	results, err := h.proc.ProcessAll(ctx, fresh, h.workers)
	if err != nil {
		return h.report(trace, page.LastUpdated, 0), errors.Wrap(err, "process")
	}
	batch := ingest.Collect(results)
	trace.AddCounter(ingesttrace.StageProcessed, int64(len(batch.Records)))
	trace.AddCounter(ingesttrace.StageDecodeFailed, int64(batch.DecodeFailed))
	if batch.Dropped > 0 {
		trace.AddCounter(ingesttrace.StageDropped("missing_auction_id"), int64(batch.Dropped))
	}

	h.setState(Saving)
	out, err := h.store.Insert(ctx, batch.Records)
	if err != nil {
		return h.report(trace, page.LastUpdated, 0), errors.Wrap(err, "save")
	}
	trace.AddCounter(ingesttrace.StageWrittenToDB, int64(len(out.Saved)))
	trace.AddCounter(ingesttrace.StageDuplicate, int64(len(out.Duplicates)))
	if err := h.seen.Mark(ctx, out.Stored()); err != nil {
		h.log.Warn("mark seen auctions", zap.Error(err))
	}

	report := h.report(trace, page.LastUpdated, out.Failed)
	h.metrics.ObserveReport(report)
	trace.LogSummary(h.log, "cycle complete", page.LastUpdated)
	return report, nil
}

// skipKnown removes auctions the store already holds. The seen cache only
// nominates candidates: an id is skipped when the store confirms it, so a
// stale or foreign cache never hides a row the store lacks. Ids the cache has
// not seen go straight to the insert, which skips existing rows itself.
func (h *Harvester) skipKnown(ctx context.Context, raws []core.RawAuction, trace *ingesttrace.CycleTrace) []core.RawAuction {
	ids := make([]string, 0, len(raws))
	for _, raw := range raws {
		if raw.AuctionID != "" {
			ids = append(ids, raw.AuctionID)
		}
	}
	if len(ids) == 0 {
		return raws
	}

	hinted, err := h.seen.Known(ctx, ids)
	if err != nil {
		h.log.Warn("seen cache lookup failed", zap.Error(err))
		return raws
	}
	if len(hinted) == 0 {
		return raws
	}

	candidates := make([]string, 0, len(hinted))
	for id := range hinted {
		candidates = append(candidates, id)
	}
	known, err := h.store.KnownIDs(ctx, candidates)
	if err != nil {
		h.log.Warn("stored id lookup failed", zap.Error(err))
		return raws
	}
	if stale := len(candidates) - len(known); stale > 0 {
		h.log.Info("seen cache named ids the store does not hold",
			zap.Int("stale", stale), zap.Int("confirmed", len(known)))
	}
	if len(known) == 0 {
		return raws
	}

	fresh := make([]core.RawAuction, 0, len(raws))
	for _, raw := range raws {
		if _, ok := known[raw.AuctionID]; ok && raw.AuctionID != "" {
			trace.IncCounter(ingesttrace.StageAlreadyKnown)
			continue
		}
		fresh = append(fresh, raw)
	}
	return fresh
}

func (h *Harvester) report(trace *ingesttrace.CycleTrace, lastUpdated int64, failed int) Report {
	return Report{
		CycleID:      trace.ID,
		Fetched:      trace.Counter(ingesttrace.StageSeenFromUpstream),
		Known:        trace.Counter(ingesttrace.StageAlreadyKnown),
		Processed:    trace.Counter(ingesttrace.StageProcessed),
		Saved:        trace.Counter(ingesttrace.StageWrittenToDB),
		Duplicates:   trace.Counter(ingesttrace.StageDuplicate),
		Dropped:      trace.Dropped(),
		DecodeFailed: trace.Counter(ingesttrace.StageDecodeFailed),
		Failed:       int64(failed),
		LastUpdated:  lastUpdated,
		Took:         time.Since(trace.Started),
	}
}

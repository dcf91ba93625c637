// Package ingest maps raw auctions to storable records.
package ingest

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/skyblock-auctions/internal/core"
	"github.com/you/skyblock-auctions/internal/item"
)

// Result is the outcome for one raw auction. Record is nil when the auction
// was dropped; Err may be set alongside a non-nil Record when the item payload
// failed to decode and the auction was kept without attributes.
type Result struct {
	Record *core.AuctionRecord
	Err    error
}

// Dropped reports whether the auction produced no record.
func (r Result) Dropped() bool { return r.Record == nil }

// Processor performs no I/O besides logging.
type Processor struct {
	log *zap.Logger
}

func NewProcessor(log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{log: log}
}

// Process builds the record for raw.
func (p *Processor) Process(raw core.RawAuction) Result {
	if raw.AuctionID == "" {
		p.log.Warn("auction missing auction_id")
		return Result{Err: &core.ValidationError{Field: "auction_id"}}
	}

	rec := &core.AuctionRecord{
		AuctionID:  raw.AuctionID,
		Price:      raw.Price,
		Timestamp:  raw.Timestamp,
		Bin:        raw.Bin,
		Attributes: map[string]any{},
	}

	it, err := item.Decode(raw.ItemBytes, p.log)
	if err != nil {
		p.log.Warn("failed to decode item",
			zap.String("auction_id", raw.AuctionID),
			zap.Error(err),
		)
		return Result{Record: rec, Err: errors.Wrapf(err, "auction %s", raw.AuctionID)}
	}
	rec.ItemID = it.ID
	rec.Attributes = it.Attributes
	return Result{Record: rec}
}

// ProcessAll runs Process over raws with at most workers decodes in flight.
// Results are index-aligned with raws.
func (p *Processor) ProcessAll(ctx context.Context, raws []core.RawAuction, workers int) ([]Result, error) {
	results := make([]Result, len(raws))
	if workers <= 1 {
		for i, raw := range raws {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = p.Process(raw)
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range raws {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = p.Process(raws[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Batch is the single-threaded aggregation of a cycle's results.
type Batch struct {
	Records      []core.AuctionRecord
	Dropped      int
	DecodeFailed int
}

// Collect keeps the records of results in order and counts the failures.
func Collect(results []Result) Batch {
	b := Batch{Records: make([]core.AuctionRecord, 0, len(results))}
	for _, r := range results {
		if r.Dropped() {
			b.Dropped++
			continue
		}
		if r.Err != nil {
			b.DecodeFailed++
		}
		b.Records = append(b.Records, *r.Record)
	}
	return b
}

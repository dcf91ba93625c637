package sink

import (
	"context"

	"github.com/you/skyblock-auctions/internal/core"
)

type broadcaster interface {
	Broadcast(core.AuctionRecord)
}

// WithBroadcast pushes every newly inserted record to live stream clients.
// Duplicates are never broadcast.
type WithBroadcast struct {
	*Store
	api broadcaster
}

func WithAPI(base *Store, api broadcaster) *WithBroadcast {
	return &WithBroadcast{Store: base, api: api}
}

func (w *WithBroadcast) Insert(ctx context.Context, recs []core.AuctionRecord) (Outcome, error) {
	out, err := w.Store.Insert(ctx, recs)
	if err != nil {
		return out, err
	}
	if w.api != nil {
		for _, rec := range out.Saved {
			w.api.Broadcast(rec)
		}
	}
	return out, nil
}

func (w *WithBroadcast) Save(ctx context.Context, recs []core.AuctionRecord) (int, error) {
	out, err := w.Insert(ctx, recs)
	return len(out.Saved), err
}

package core

// RawAuction is one entry of the upstream ended-auctions list. Missing JSON
// fields decode to their zero values, which double as the row defaults.
type RawAuction struct {
	AuctionID string  `json:"auction_id"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // epoch millis
	Bin       bool    `json:"bin"`
	ItemBytes string  `json:"item_bytes"` // base64 binary tag tree
}

// AuctionRecord is the unified row written to the auctions table.
type AuctionRecord struct {
	AuctionID  string         `json:"auction_id"`
	Price      float64        `json:"price"`
	Timestamp  int64          `json:"timestamp"`
	Bin        bool           `json:"bin"`
	ItemID     *string        `json:"id,omitempty"` // nil when the item carried no id
	Attributes map[string]any `json:"item_attributes"`
}

// ItemIDOr returns the item id or def when absent.
func (r AuctionRecord) ItemIDOr(def string) string {
	if r.ItemID == nil {
		return def
	}
	return *r.ItemID
}

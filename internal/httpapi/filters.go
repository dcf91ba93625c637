package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/you/skyblock-auctions/internal/core"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// DefaultSort is the column used when sort_by is absent or unknown.
const DefaultSort = "timestamp"

// SortColumns are the auctions columns a listing may be ordered by.
var SortColumns = []string{"auction_id", "price", "timestamp", "bin", "id", "item_attributes"}

// Order is the direction of a listing.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Filters captures the parsed query parameters of an auction listing.
type Filters struct {
	SortBy string
	Order  Order
	Limit  int
	// ItemID restricts results to one item id when set.
	ItemID string
}

// ParseFilters parses query parameters into a Filters struct. A limit that is
// not a number falls back to the default; an unknown sort column falls back
// to DefaultSort.
func ParseFilters(values url.Values) (Filters, error) {
	f := Filters{
		SortBy: DefaultSort,
		Order:  OrderAsc,
		Limit:  defaultLimit,
	}

	if raw := values.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			if n > maxLimit {
				n = maxLimit
			}
			f.Limit = n
		}
	}

	if raw := values.Get("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "asc":
			f.Order = OrderAsc
		case "desc":
			f.Order = OrderDesc
		default:
			return Filters{}, errors.New("order must be asc or desc")
		}
	}

	if raw := strings.TrimSpace(values.Get("sort_by")); raw != "" && isSortColumn(raw) {
		f.SortBy = raw
	}

	f.ItemID = strings.TrimSpace(values.Get("id"))
	return f, nil
}

// FiltersFromRequest parses filters from an HTTP request.
func FiltersFromRequest(r *http.Request) (Filters, error) {
	return ParseFilters(r.URL.Query())
}

func isSortColumn(name string) bool {
	for _, c := range SortColumns {
		if c == name {
			return true
		}
	}
	return false
}

// Matches reports whether a newly saved record belongs to a stream opened
// with these filters.
func (f Filters) Matches(rec core.AuctionRecord) bool {
	if f.ItemID == "" {
		return true
	}
	return rec.ItemID != nil && *rec.ItemID == f.ItemID
}

// CloneForStream returns a copy of the filters adjusted for streaming transports.
func (f Filters) CloneForStream() Filters {
	f.Limit = 0
	return f
}

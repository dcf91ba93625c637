package httpapi

import (
	"net/url"
	"testing"

	"github.com/you/skyblock-auctions/internal/core"
)

func TestParseFilters(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  Filters
	}{
		{"defaults", "", Filters{SortBy: "timestamp", Order: OrderAsc, Limit: 100}},
		{"explicit", "sort_by=price&order=DESC&limit=5", Filters{SortBy: "price", Order: OrderDesc, Limit: 5}},
		{"unknown sort falls back", "sort_by=nope", Filters{SortBy: "timestamp", Order: OrderAsc, Limit: 100}},
		{"non numeric limit", "limit=ten", Filters{SortBy: "timestamp", Order: OrderAsc, Limit: 100}},
		{"zero limit", "limit=0", Filters{SortBy: "timestamp", Order: OrderAsc, Limit: 100}},
		{"limit capped", "limit=50000", Filters{SortBy: "timestamp", Order: OrderAsc, Limit: 1000}},
		{"item id", "id=+HYPERION+", Filters{SortBy: "timestamp", Order: OrderAsc, Limit: 100, ItemID: "HYPERION"}},
		{"sort by promoted id", "sort_by=id", Filters{SortBy: "id", Order: OrderAsc, Limit: 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			values, err := url.ParseQuery(tc.query)
			if err != nil {
				t.Fatalf("parse query: %v", err)
			}
			got, err := ParseFilters(values)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestParseFiltersRejectsOrder(t *testing.T) {
	if _, err := ParseFilters(url.Values{"order": {"sideways"}}); err == nil {
		t.Fatal("expected error for invalid order")
	}
}

func TestFiltersMatches(t *testing.T) {
	id := "HYPERION"
	rec := core.AuctionRecord{AuctionID: "A1", ItemID: &id}
	if !(Filters{}).Matches(rec) {
		t.Fatal("empty filters should match everything")
	}
	if !(Filters{ItemID: "HYPERION"}).Matches(rec) {
		t.Fatal("expected item match")
	}
	if (Filters{ItemID: "HYPERION"}).Matches(core.AuctionRecord{AuctionID: "A2"}) {
		t.Fatal("record without id must not match an item filter")
	}
	if got := (Filters{Limit: 10, ItemID: "X"}).CloneForStream(); got.Limit != 0 || got.ItemID != "X" {
		t.Fatalf("unexpected stream filters %+v", got)
	}
}

package hypixel

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/you/skyblock-auctions/internal/core"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestFetchParsesEnvelope(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("API-Key")
		_, _ = io.WriteString(w, `{"success":true,"lastUpdated":2000,"auctions":[
			{"auction_id":"A1","price":100,"timestamp":1000,"bin":false,"item_bytes":"H4sI"},
			{"auction_id":"A2","bin":true}
		]}`)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, func() string { return " secret " })
	page, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotKey != "secret" {
		t.Fatalf("expected trimmed key header, got %q", gotKey)
	}
	if page.LastUpdated != 2000 {
		t.Fatalf("expected lastUpdated 2000, got %d", page.LastUpdated)
	}
	if len(page.Auctions) != 2 {
		t.Fatalf("expected 2 auctions, got %d", len(page.Auctions))
	}
	first := page.Auctions[0]
	if first.AuctionID != "A1" || first.Price != 100 || first.Timestamp != 1000 || first.Bin || first.ItemBytes != "H4sI" {
		t.Fatalf("unexpected first auction %+v", first)
	}
	second := page.Auctions[1]
	if second.Price != 0 || second.Timestamp != 0 || !second.Bin {
		t.Fatalf("expected defaults for missing fields, got %+v", second)
	}
}

func TestFetchWithoutKeyOmitsHeader(t *testing.T) {
	c := New("http://upstream.test/feed", time.Second, nil)
	c.HTTP = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if _, ok := r.Header["Api-Key"]; ok {
			t.Fatalf("unexpected API-Key header")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"auctions":[]}`)),
			Header:     make(http.Header),
		}, nil
	})}
	fixed := time.UnixMilli(123456)
	c.now = func() time.Time { return fixed }

	page, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page.LastUpdated != 123456 {
		t.Fatalf("expected lastUpdated to default to now, got %d", page.LastUpdated)
	}
	if len(page.Auctions) != 0 {
		t.Fatalf("expected no auctions, got %d", len(page.Auctions))
	}
}

func TestFetchNetworkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second, nil).Fetch(context.Background())
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if ne.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", ne.StatusCode)
	}
	if !errors.Is(err, core.ErrNetwork) {
		t.Fatalf("expected core.ErrNetwork")
	}

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	_, err = New(slow.URL, 50*time.Millisecond, nil).Fetch(context.Background())
	if !errors.Is(err, core.ErrNetwork) {
		t.Fatalf("expected timeout to be a network error, got %v", err)
	}
}

func TestFetchProtocolErrors(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		cause string
	}{
		{name: "not json", body: "<html>"},
		{name: "unsuccessful", body: `{"success":false,"cause":"Invalid API key"}`, cause: "Invalid API key"},
		{name: "wrong shape", body: `{"success":true,"auctions":{}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL, time.Second, nil).Fetch(context.Background())
			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ProtocolError, got %v", err)
			}
			if !errors.Is(err, core.ErrProtocol) {
				t.Fatalf("expected core.ErrProtocol")
			}
			if pe.Cause != tc.cause {
				t.Fatalf("expected cause %q, got %q", tc.cause, pe.Cause)
			}
		})
	}
}

func TestFetchKeepsPageWhenOneEntryIsMistyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"auctions":[
			{"auction_id":"A1","price":100,"timestamp":1000,"bin":true},
			{"auction_id":"A2","price":[250]},
			"garbage",
			{"auction_id":"A4","price":"250","timestamp":1.5e3,"bin":"false"}
		]}`)
	}))
	defer srv.Close()

	page, err := New(srv.URL, time.Second, nil).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page.Fetched() != 4 || len(page.Auctions) != 2 || len(page.Rejected) != 2 {
		t.Fatalf("unexpected split: auctions=%d rejected=%d", len(page.Auctions), len(page.Rejected))
	}
	if rej := page.Rejected[0]; rej.Index != 1 || rej.AuctionID != "A2" || !errors.Is(rej.Err, core.ErrValidation) {
		t.Fatalf("unexpected rejection %+v", rej)
	}
	if got := page.Auctions[1]; got.AuctionID != "A4" || got.Price != 250 || got.Timestamp != 1500 || got.Bin {
		t.Fatalf("unexpected coerced auction %+v", got)
	}
}

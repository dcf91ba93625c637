// Package hypixel fetches the ended-auctions feed.
package hypixel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/you/skyblock-auctions/internal/core"
)

const (
	DefaultURL     = "https://api.hypixel.net/v2/skyblock/auctions_ended"
	DefaultTimeout = 30 * time.Second

	maxBodyBytes = 64 << 20
	keyHeader    = "API-Key"
)

// Page is one successful response of the feed. Entries that could not be
// read are listed in Rejected instead of failing the page.
type Page struct {
	Auctions    []core.RawAuction
	Rejected    []Rejected
	LastUpdated int64
}

// Rejected is a feed entry that did not decode. AuctionID is set when the
// entry carried a readable one.
type Rejected struct {
	Index     int
	AuctionID string
	Err       error
}

// Fetched counts every entry of the page, readable or not.
func (p Page) Fetched() int { return len(p.Auctions) + len(p.Rejected) }

// NetworkError covers transport failures, timeouts and non-2xx statuses.
// StatusCode is zero when no response arrived.
type NetworkError struct {
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("hypixel: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("hypixel: %v", e.Err)
}

func (e *NetworkError) Unwrap() error        { return e.Err }
func (e *NetworkError) Is(target error) bool { return target == core.ErrNetwork }

// ProtocolError reports a body that is not a valid envelope or an envelope
// with success=false. Cause holds the upstream's explanation when present.
type ProtocolError struct {
	Cause string
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hypixel: malformed response: %v", e.Err)
	}
	cause := e.Cause
	if cause == "" {
		cause = "Unknown error"
	}
	return "hypixel: API returned error: " + cause
}

func (e *ProtocolError) Unwrap() error        { return e.Err }
func (e *ProtocolError) Is(target error) bool { return target == core.ErrProtocol }

type envelope struct {
	Success     *bool             `json:"success"`
	Cause       string            `json:"cause"`
	Auctions    []json.RawMessage `json:"auctions"`
	LastUpdated *int64            `json:"lastUpdated"`
}

// Client calls the feed. The zero value is not usable; build it with New.
type Client struct {
	URL string
	// Key is consulted on every request so rotated keys apply immediately.
	Key     func() string
	HTTP    *http.Client
	Limiter *rate.Limiter

	now func() time.Time
}

// New returns a client for url with the given request timeout.
func New(url string, timeout time.Duration, key func() string) *Client {
	if strings.TrimSpace(url) == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		URL:  url,
		Key:  key,
		HTTP: &http.Client{Timeout: timeout},
		now:  time.Now,
	}
}

// Fetch performs one GET of the feed.
func (c *Client) Fetch(ctx context.Context) (Page, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return Page{}, &NetworkError{Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return Page{}, &NetworkError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.Key != nil {
		if key := strings.TrimSpace(c.Key()); key != "" {
			req.Header.Set(keyHeader, key)
		}
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Page{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Page{}, &NetworkError{
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(body))),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return Page{}, &NetworkError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(body) > maxBodyBytes {
		return Page{}, &ProtocolError{Err: fmt.Errorf("body exceeds %d bytes", maxBodyBytes)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Page{}, &ProtocolError{Err: err}
	}
	if env.Success != nil && !*env.Success {
		return Page{}, &ProtocolError{Cause: env.Cause}
	}

	page := decodeEntries(env.Auctions)
	if env.LastUpdated != nil {
		page.LastUpdated = *env.LastUpdated
	} else {
		page.LastUpdated = c.clock().UnixMilli()
	}
	return page, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: DefaultTimeout}
}

func (c *Client) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func decodeEntries(entries []json.RawMessage) Page {
	page := Page{Auctions: make([]core.RawAuction, 0, len(entries))}
	for i, entry := range entries {
		var raw core.RawAuction
		if err := json.Unmarshal(entry, &raw); err != nil {
			var id struct {
				AuctionID string `json:"auction_id"`
			}
			_ = json.Unmarshal(entry, &id)
			page.Rejected = append(page.Rejected, Rejected{Index: i, AuctionID: id.AuctionID, Err: err})
			continue
		}
		page.Auctions = append(page.Auctions, raw)
	}
	return page
}

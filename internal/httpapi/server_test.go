package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/you/skyblock-auctions/internal/core"
)

type memStore struct {
	mu      sync.Mutex
	records []core.AuctionRecord
	pingErr error
}

func (m *memStore) CountAuctions(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records)), nil
}

func (m *memStore) ListAuctions(_ context.Context, f Filters) ([]core.AuctionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []core.AuctionRecord{}
	for _, rec := range m.records {
		if f.Matches(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		less := out[i].Timestamp < out[j].Timestamp
		if f.SortBy == "price" {
			less = out[i].Price < out[j].Price
		}
		if f.Order == OrderDesc {
			return !less
		}
		return less
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) GetAuction(_ context.Context, id string) (core.AuctionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.AuctionID == id {
			return rec, true, nil
		}
	}
	return core.AuctionRecord{}, false, nil
}

func (m *memStore) Ping() error { return m.pingErr }

func strPtr(s string) *string { return &s }

func seededStore() *memStore {
	return &memStore{records: []core.AuctionRecord{
		{AuctionID: "A1", Price: 300, Timestamp: 1, ItemID: strPtr("HYPERION"), Attributes: map[string]any{"count": 1.0}},
		{AuctionID: "A2", Price: 100, Timestamp: 2, ItemID: strPtr("PET_OCELOT"), Attributes: map[string]any{}},
		{AuctionID: "A3", Price: 200, Timestamp: 3, Attributes: map[string]any{}},
	}}
}

func get(t *testing.T, h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestListAuctions(t *testing.T) {
	srv := New(seededStore(), Options{})
	rec := get(t, srv.Handler(), "/auctions?sort_by=price&order=desc&limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var body struct {
		TotalCount int64            `json:"total_count"`
		Auctions   []map[string]any `json:"auctions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TotalCount != 3 || len(body.Auctions) != 2 {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Auctions[0]["auction_id"] != "A1" || body.Auctions[1]["auction_id"] != "A3" {
		t.Fatalf("unexpected order %+v", body.Auctions)
	}
	if _, ok := body.Auctions[1]["id"]; ok {
		t.Fatalf("absent id must be omitted: %+v", body.Auctions[1])
	}
	if _, ok := body.Auctions[0]["item_attributes"].(map[string]any); !ok {
		t.Fatalf("item_attributes should be an object: %+v", body.Auctions[0])
	}
}

func TestListAuctionsBadOrder(t *testing.T) {
	srv := New(seededStore(), Options{})
	rec := get(t, srv.Handler(), "/auctions?order=up", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetAuction(t *testing.T) {
	srv := New(seededStore(), Options{})

	rec := get(t, srv.Handler(), "/auction/A2", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":"PET_OCELOT"`) {
		t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body)
	}

	rec = get(t, srv.Handler(), "/auction/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"error":"Not found"}` {
		t.Fatalf("unexpected body %q", rec.Body)
	}
}

func TestAuctionsByItemID(t *testing.T) {
	srv := New(seededStore(), Options{})
	rec := get(t, srv.Handler(), "/auctions/by_id/HYPERION?limit=10", nil)
	var rows []core.AuctionRecord
	if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].AuctionID != "A1" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestGzipResponse(t *testing.T) {
	srv := New(seededStore(), Options{})
	rec := get(t, srv.Handler(), "/auctions", http.Header{"Accept-Encoding": {"gzip"}})
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, headers %v", rec.Header())
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip: %v", err)
	}
	if !strings.Contains(string(data), `"total_count":3`) {
		t.Fatalf("unexpected payload %s", data)
	}
}

func TestHealthzReportsStore(t *testing.T) {
	store := seededStore()
	srv := New(store, Options{})
	if rec := get(t, srv.Handler(), "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	store.pingErr = errors.New("closed")
	if rec := get(t, srv.Handler(), "/healthz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	srv := New(seededStore(), Options{RateRPS: 1, RateBurst: 1})
	if rec := get(t, srv.Handler(), "/auctions", nil); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	if rec := get(t, srv.Handler(), "/auctions", nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	metrics := get(t, srv.Handler(), "/metrics", http.Header{"X-Forwarded-For": {"10.0.0.9"}})
	if !strings.Contains(metrics.Body.String(), "auctions_http_rate_limited_total 1") {
		t.Fatalf("expected rate limit metric, got:\n%s", metrics.Body)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := New(seededStore(), Options{CORSOrigins: []string{"https://ah.example"}})
	req := httptest.NewRequest(http.MethodOptions, "/auctions", nil)
	req.Header.Set("Origin", "https://ah.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ah.example" {
		t.Fatalf("expected allowed origin, got %q (status %d)", got, rec.Code)
	}
}

func TestInfo(t *testing.T) {
	srv := New(seededStore(), Options{Build: BuildInfo{Version: "1.2.3", BuiltAt: time.Unix(0, 0)}})
	rec := get(t, srv.Handler(), "/info", nil)
	var info struct {
		Version   string         `json:"version"`
		BuiltAt   string         `json:"built_at"`
		Go        string         `json:"go"`
		Auctions  *int64         `json:"auctions"`
		Streaming map[string]int `json:"stream_subscribers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Version != "1.2.3" || info.BuiltAt != "1970-01-01T00:00:00Z" || info.Go == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Auctions == nil || *info.Auctions != 3 {
		t.Fatalf("expected 3 auctions in info, got %v", info.Auctions)
	}
	if info.Streaming["sse"] != 0 || info.Streaming["ws"] != 0 {
		t.Fatalf("expected no subscribers, got %v", info.Streaming)
	}
}

func TestQueryMetricsPerRoute(t *testing.T) {
	srv := New(seededStore(), Options{})
	h := srv.Handler()
	get(t, h, "/auctions?limit=2", nil)
	get(t, h, "/auction/A1", nil)
	get(t, h, "/auction/missing", nil)
	get(t, h, "/auctions/by_id/HYPERION", nil)

	body := get(t, h, "/metrics", nil).Body.String()
	for _, want := range []string{
		`auctions_http_query_duration_seconds_count{query="count"} 1`,
		`auctions_http_query_duration_seconds_count{query="list"} 1`,
		`auctions_http_query_duration_seconds_count{query="get"} 2`,
		`auctions_http_query_duration_seconds_count{query="by_item"} 1`,
		`auctions_http_auctions_served_total{route="/auctions"} 2`,
		`auctions_http_auctions_served_total{route="/auction/{auction_id}"} 1`,
		`auctions_http_auctions_served_total{route="/auctions/by_id/{item_id}"} 1`,
		`auctions_http_auction_not_found_total 1`,
		`auctions_http_requests_total{method="GET",route="/auction/{auction_id}",status="404"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in metrics:\n%s", want, body)
		}
	}
}

func TestRateLimitRetryAfterPerClient(t *testing.T) {
	srv := New(seededStore(), Options{RateRPS: 1, RateBurst: 1})
	h := srv.Handler()
	first := http.Header{"X-Real-Ip": {"10.0.0.1"}}
	if rec := get(t, h, "/auctions", first); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec := get(t, h, "/auctions", first)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected 429 with Retry-After 1, got %d %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	if rec := get(t, h, "/auctions", http.Header{"X-Real-Ip": {"10.0.0.2"}}); rec.Code != http.StatusOK {
		t.Fatalf("other client should not be limited, got %d", rec.Code)
	}
}

func TestStreamSSE(t *testing.T) {
	srv := New(seededStore(), Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream?id=HYPERION", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	if line, _ := reader.ReadString('\n'); line != ":ok\n" {
		t.Fatalf("expected :ok preamble, got %q", line)
	}

	srv.Broadcast(core.AuctionRecord{AuctionID: "skip", ItemID: strPtr("OTHER")})
	srv.Broadcast(core.AuctionRecord{AuctionID: "B1", ItemID: strPtr("HYPERION")})

	var event []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "id:") || strings.HasPrefix(line, "data:") {
			event = append(event, strings.TrimSpace(line))
			if strings.HasPrefix(line, "data:") {
				break
			}
		}
	}
	if event[0] != "event: auction" || event[1] != "id: B1" || !strings.Contains(event[2], `"auction_id":"B1"`) {
		t.Fatalf("unexpected event %q", event)
	}
}

func TestStreamWebSocket(t *testing.T) {
	srv := New(seededStore(), Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	// The subscription is registered after the handshake; keep publishing
	// until the client sees a record.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				srv.Broadcast(core.AuctionRecord{AuctionID: "W1", Price: 5})
			}
		}
	}()

	var got core.AuctionRecord
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.AuctionID != "W1" || got.Price != 5 {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestShutdownRejectsNewStreams(t *testing.T) {
	srv := New(seededStore(), Options{})
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	rec := get(t, srv.Handler(), "/stream", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after shutdown, got %d", rec.Code)
	}
	srv.Broadcast(core.AuctionRecord{AuctionID: "late"})
}

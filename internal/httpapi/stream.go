package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/you/skyblock-auctions/internal/core"
)

const (
	clientBuffer  = 256
	pingInterval  = 20 * time.Second
	wsWriteTimout = 5 * time.Second
)

type subscriber struct {
	ch        chan core.AuctionRecord
	filters   Filters
	transport string
}

type hub struct {
	metrics *Metrics

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
}

func newHub(m *Metrics) *hub {
	return &hub{metrics: m, clients: make(map[*subscriber]struct{})}
}

// subscribe registers a client. It returns nil once the hub is closed.
func (h *hub) subscribe(transport string, filters Filters) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	sub := &subscriber{
		ch:        make(chan core.AuctionRecord, clientBuffer),
		filters:   filters.CloneForStream(),
		transport: transport,
	}
	h.clients[sub] = struct{}{}
	return sub
}

func (h *hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[sub]; ok {
		delete(h.clients, sub)
		close(sub.ch)
	}
}

func (h *hub) broadcast(rec core.AuctionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.clients {
		if !sub.filters.Matches(rec) {
			continue
		}
		select {
		case sub.ch <- rec:
		default:
			h.metrics.ObserveStreamEvent(sub.transport, false)
		}
	}
}

// counts reports the connected subscribers per transport.
func (h *hub) counts() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := map[string]int{"sse": 0, "ws": 0}
	for sub := range h.clients {
		out[sub.transport]++
	}
	return out
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.clients {
		delete(h.clients, sub)
		close(sub.ch)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	sub := s.hub.subscribe("sse", filters)
	if sub == nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.hub.unsubscribe(sub)
	s.metrics.AddSubscribers("sse", 1)
	defer s.metrics.AddSubscribers("sse", -1)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case rec, ok := <-sub.ch:
			if !ok {
				return
			}
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: auction\nid: %s\ndata: %s\n\n", rec.AuctionID, data)
			flusher.Flush()
			s.metrics.ObserveStreamEvent("sse", true)
		}
	}
}

// originPatterns turns CORS origins into the host patterns the WebSocket
// handshake checks.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.opts.CORSOrigins),
	})
	if err != nil {
		s.log.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sub := s.hub.subscribe("ws", filters)
	if sub == nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.hub.unsubscribe(sub)
	s.metrics.AddSubscribers("ws", 1)
	defer s.metrics.AddSubscribers("ws", -1)

	// Client frames are ignored; reading only detects the close.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, wsWriteTimout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case rec, ok := <-sub.ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimout)
			err := wsjson.Write(wctx, conn, rec)
			cancel()
			if err != nil {
				s.log.Debug("websocket write failed", zap.Error(err))
				return
			}
			s.metrics.ObserveStreamEvent("ws", true)
		}
	}
}

// Package httpapi serves the stored auctions read-only over HTTP and streams
// newly saved ones to SSE and WebSocket clients.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/you/skyblock-auctions/internal/core"
)

// Store is the read side of the auctions table.
type Store interface {
	CountAuctions(ctx context.Context) (int64, error)
	ListAuctions(ctx context.Context, filters Filters) ([]core.AuctionRecord, error)
	GetAuction(ctx context.Context, auctionID string) (core.AuctionRecord, bool, error)
	Ping() error
}

type Options struct {
	Addr        string
	CORSOrigins []string
	RateRPS     int
	RateBurst   int
	Build       BuildInfo
	// Registry receives the API collectors and is served on /metrics. A
	// private registry is created when nil.
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

type Server struct {
	httpServer *http.Server
	store      Store
	opts       Options
	metrics    *Metrics
	limiter    *clientLimits
	hub        *hub
	log        *zap.Logger
	started    time.Time
}

func New(store Store, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	metrics := newMetrics(opts.Registry)
	srv := &Server{
		store:   store,
		opts:    opts,
		metrics: metrics,
		limiter: newClientLimits(opts.RateRPS, opts.RateBurst),
		hub:     newHub(metrics),
		log:     log.With(zap.String("component", "httpapi")),
		started: time.Now(),
	}

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Use(s.rateLimit)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/info", s.handleInfo)
	r.Handle("/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(newCompressor().Handler)
		r.Get("/auctions", s.handleAuctions)
		r.Get("/auction/{auction_id}", s.handleAuction)
		r.Get("/auctions/by_id/{item_id}", s.handleByItemID)
	})

	r.Get("/stream", s.handleStream)
	r.Get("/ws", s.handleWS)
	return r
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if err := s.store.Ping(); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type listResponse struct {
	TotalCount int64                `json:"total_count"`
	Auctions   []core.AuctionRecord `json:"auctions"`
}

func (s *Server) handleAuctions(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	// total_count is table-wide, so the listing is too.
	filters.ItemID = ""

	var (
		total int64
		rows  []core.AuctionRecord
	)
	if err := s.query(queryCount, func() (err error) {
		total, err = s.store.CountAuctions(r.Context())
		return err
	}); err != nil {
		s.queryFailed(w, queryCount, err)
		return
	}
	if err := s.query(queryList, func() (err error) {
		rows, err = s.store.ListAuctions(r.Context(), filters)
		return err
	}); err != nil {
		s.queryFailed(w, queryList, err)
		return
	}
	s.metrics.AddRowsServed("/auctions", len(rows))
	writeJSON(w, http.StatusOK, listResponse{TotalCount: total, Auctions: rows})
}

func (s *Server) handleAuction(w http.ResponseWriter, r *http.Request) {
	var (
		rec core.AuctionRecord
		ok  bool
	)
	if err := s.query(queryGet, func() (err error) {
		rec, ok, err = s.store.GetAuction(r.Context(), chi.URLParam(r, "auction_id"))
		return err
	}); err != nil {
		s.queryFailed(w, queryGet, err)
		return
	}
	if !ok {
		s.metrics.IncNotFound()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		return
	}
	s.metrics.AddRowsServed("/auction/{auction_id}", 1)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleByItemID(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	filters.ItemID = chi.URLParam(r, "item_id")

	var rows []core.AuctionRecord
	if err := s.query(queryByItem, func() (err error) {
		rows, err = s.store.ListAuctions(r.Context(), filters)
		return err
	}); err != nil {
		s.queryFailed(w, queryByItem, err)
		return
	}
	s.metrics.AddRowsServed("/auctions/by_id/{item_id}", len(rows))
	writeJSON(w, http.StatusOK, rows)
}

// query times fn as the named store query.
func (s *Server) query(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.ObserveQuery(name, time.Since(start), err)
	return err
}

func (s *Server) queryFailed(w http.ResponseWriter, query string, err error) {
	s.log.Error("query failed", zap.String("query", query), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": query + " error"})
}

// Broadcast forwards a newly saved record to the stream clients whose
// filters match it.
func (s *Server) Broadcast(rec core.AuctionRecord) {
	s.hub.broadcast(rec)
}

func (s *Server) Start() error {
	s.log.Info("http api listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.close()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

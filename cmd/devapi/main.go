// Command devapi serves a fake ended-auctions endpoint from a YAML fixture so
// the harvester can run without upstream access.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/you/skyblock-auctions/internal/core"
	"github.com/you/skyblock-auctions/internal/logging"
)

type envelope struct {
	Success     bool              `json:"success"`
	Cause       string            `json:"cause,omitempty"`
	Auctions    []core.RawAuction `json:"auctions"`
	LastUpdated int64             `json:"lastUpdated"`
}

type server struct {
	fx         fixture
	rotate     bool
	failEvery  int64
	requireKey string
	log        *zap.Logger

	requests atomic.Int64
	mu       sync.Mutex
	ids      map[int]string
	now      func() time.Time
}

func main() {
	var (
		addr       string
		path       string
		rotate     bool
		failEvery  int64
		requireKey string
	)

	flag.StringVar(&addr, "addr", ":8766", "HTTP listen address")
	flag.StringVar(&path, "fixture", "", "YAML fixture; a built-in sample is served when empty")
	flag.BoolVar(&rotate, "rotate", false, "Generate new auction ids on every request")
	flag.Int64Var(&failEvery, "fail-every", 0, "Answer every Nth request with HTTP 500")
	flag.StringVar(&requireKey, "require-key", "", "Reject requests whose API-Key header differs")
	flag.Parse()

	log, closeLog, err := logging.New("info", "console", "")
	if err != nil {
		panic(err)
	}
	defer closeLog()

	fx, err := loadFixture(path)
	if err != nil {
		log.Fatal("load fixture", zap.Error(err))
	}

	srv := newServer(fx, log)
	srv.rotate = rotate
	srv.failEvery = failEvery
	srv.requireKey = requireKey

	log.Info("devapi listening", zap.String("addr", addr), zap.Int("auctions", len(fx.Auctions)))
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		log.Fatal("listen", zap.Error(err))
	}
}

func newServer(fx fixture, log *zap.Logger) *server {
	return &server{fx: fx, log: log, ids: make(map[int]string), now: time.Now}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/skyblock/auctions_ended", s.handleEnded)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (s *server) handleEnded(w http.ResponseWriter, r *http.Request) {
	n := s.requests.Add(1)
	if s.failEvery > 0 && n%s.failEvery == 0 {
		s.log.Info("injecting failure", zap.Int64("request", n))
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}
	if s.requireKey != "" && r.Header.Get("API-Key") != s.requireKey {
		writeEnvelope(w, http.StatusForbidden, envelope{Success: false, Cause: "Invalid API key"})
		return
	}

	s.mu.Lock()
	auctions, last, err := s.fx.page(s.now(), s.rotate, s.ids)
	s.mu.Unlock()
	if err != nil {
		s.log.Error("render fixture", zap.Error(err))
		writeEnvelope(w, http.StatusOK, envelope{Success: false, Cause: err.Error()})
		return
	}
	writeEnvelope(w, http.StatusOK, envelope{Success: true, Auctions: auctions, LastUpdated: last})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	if env.Auctions == nil {
		env.Auctions = []core.RawAuction{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

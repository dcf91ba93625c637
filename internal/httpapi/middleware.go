package httpapi

import (
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// observe records the route pattern, status, size and latency of every
// request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		dur := time.Since(start)
		s.metrics.ObserveRequest(route, r.Method, status, dur, ww.BytesWritten())
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.String("client", clientKey(r)),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("encoding", ww.Header().Get("Content-Encoding")),
			zap.Duration("took", dur),
		)
	})
}

// rateLimit answers 429 with the wait, in whole seconds, until the client's
// next token.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wait, ok := s.limiter.admit(clientKey(r), time.Now())
		if !ok {
			s.metrics.IncRateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// newCompressor gzips JSON query responses with the klauspost encoder.
func newCompressor() *middleware.Compressor {
	c := middleware.NewCompressor(gzip.DefaultCompression, "application/json")
	c.SetEncoder("gzip", func(w io.Writer, level int) io.Writer {
		gw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil
		}
		return gw
	})
	return c
}

// clientKey is the address the limiter buckets by. RealIP has already moved
// a trusted proxy header into RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimits holds one token bucket per client. Buckets idle longer than
// idleAfter are swept at most once per idleAfter.
type clientLimits struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rps       rate.Limit
	burst     int
	idleAfter time.Duration
	swept     time.Time
}

// newClientLimits returns nil, which admits everything, when either bound
// is not positive.
func newClientLimits(rps, burst int) *clientLimits {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &clientLimits{
		buckets:   make(map[string]*bucket),
		rps:       rate.Limit(rps),
		burst:     burst,
		idleAfter: 5 * time.Minute,
	}
}

// admit takes a token for key. When none is available it reports how long
// until one is.
func (l *clientLimits) admit(key string, now time.Time) (time.Duration, bool) {
	if l == nil {
		return 0, true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > l.idleAfter {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.idleAfter {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	res := b.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return delay, false
	}
	return 0, true
}

package httpapi

import (
	"context"
	"net/http"
	"runtime"
	"time"
)

// BuildInfo describes the compiled binary.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

// Describer is implemented by stores that can name their SQL dialect.
type Describer interface {
	Driver() string
}

type infoResponse struct {
	Version   string         `json:"version"`
	Revision  string         `json:"rev,omitempty"`
	BuiltAt   string         `json:"built_at,omitempty"`
	Go        string         `json:"go"`
	Store     string         `json:"store,omitempty"`
	Auctions  *int64         `json:"auctions,omitempty"`
	Uptime    string         `json:"uptime"`
	Streaming map[string]int `json:"stream_subscribers"`
}

// handleInfo reports the build, the backing store with its row count, and
// the live stream fan-out. A failing count is left out rather than failing
// the request.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	resp := infoResponse{
		Version:   s.opts.Build.Version,
		Revision:  s.opts.Build.Revision,
		Go:        runtime.Version(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Streaming: s.hub.counts(),
	}
	if !s.opts.Build.BuiltAt.IsZero() {
		resp.BuiltAt = s.opts.Build.BuiltAt.UTC().Format(time.RFC3339)
	}
	if d, ok := s.store.(Describer); ok {
		resp.Store = d.Driver()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	var total int64
	err := s.query(queryCount, func() (err error) {
		total, err = s.store.CountAuctions(ctx)
		return err
	})
	if err == nil {
		resp.Auctions = &total
	}
	writeJSON(w, http.StatusOK, resp)
}

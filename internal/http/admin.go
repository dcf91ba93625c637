// Package httpadmin serves the operator endpoints of the harvester.
package httpadmin

import (
	"encoding/json"
	"net/http"

	"github.com/you/skyblock-auctions/internal/harvester"
)

type KeyReloader interface {
	// ReloadKey rereads the credential and returns it redacted.
	ReloadKey() (redacted string, err error)
}

type Loop interface {
	Trigger() bool
	Status() harvester.Status
}

type Server struct {
	keys KeyReloader
	loop Loop
}

// New builds the admin server. Either collaborator may be nil; its routes
// then answer 503.
func New(keys KeyReloader, loop Loop) *Server { return &Server{keys: keys, loop: loop} }

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/admin/apikey/reload", s.handleReload)
	mux.HandleFunc("/admin/cycle", s.handleCycle)
	mux.HandleFunc("/admin/status", s.handleStatus)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.keys == nil {
		http.Error(w, "api key file not configured", http.StatusServiceUnavailable)
		return
	}
	key, err := s.keys.ReloadKey()
	if err != nil {
		http.Error(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "reloaded": true, "key": key})
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.loop == nil {
		http.Error(w, "harvester not running", http.StatusServiceUnavailable)
		return
	}
	status := "queued"
	if !s.loop.Trigger() {
		status = "pending"
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.loop == nil {
		http.Error(w, "harvester not running", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.loop.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package status serves the node's progress and Prometheus metrics over
// plain HTTP.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Klingon-tech/klingnet-staker/internal/log"
)

// Response is the body of GET /status.
type Response struct {
	LastScannedBlock uint64 `json:"lastScannedBlock"`
}

// Server is the status listener.
type Server struct {
	addr   string
	server *http.Server
	ln     net.Listener

	mu     sync.RWMutex
	source func() uint64 // nil until the worker exists
}

// New creates a status server. Metrics are served from gatherer; a nil
// gatherer disables /metrics.
func New(addr string, gatherer prometheus.Gatherer) *Server {
	s := &Server{addr: addr}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	if gatherer != nil {
		mux.Handle("/metrics", getOnly(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetSource publishes the worker's progress. Until called, /status
// reports block 0.
func (s *Server) SetSource(fn func() uint64) {
	s.mu.Lock()
	s.source = fn
	s.mu.Unlock()
}

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("status listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Status.Error().Err(err).Msg("Status server error")
		}
	}()

	log.Status.Info().Str("addr", s.Addr()).Msg("Status listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var resp Response
	s.mu.RLock()
	if s.source != nil {
		resp.LastScannedBlock = s.source()
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func getOnly(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.ServeHTTP(w, r)
	})
}

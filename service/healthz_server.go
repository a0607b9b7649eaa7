package service

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

// HealthzServer answers /healthz while the tester is up. Once a run has
// started it also reports the run ID.
type HealthzServer struct {
	mu     sync.Mutex
	ctx    context.Context
	server *http.Server
	runID  atomic.Value
}

func (h *HealthzServer) Start(ctx context.Context, addr string) error {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	server := &http.Server{
		Handler: c.Handler(hdlr),
		Addr:    addr,
	}
	h.mu.Lock()
	h.server = server
	h.ctx = ctx
	h.mu.Unlock()
	return server.ListenAndServe()
}

func (h *HealthzServer) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(h.ctx)
}

// SetRunID records the run in progress
func (h *HealthzServer) SetRunID(runID string) {
	h.runID.Store(runID)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	log.Debug("Received health check request", "path", r.URL.Path)
	body := "OK"
	if runID, ok := h.runID.Load().(string); ok && runID != "" {
		body += " " + runID
	}
	w.Write([]byte(body)) //nolint:errcheck
}

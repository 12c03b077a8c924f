// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package statusserver exposes a read-only HTTP surface over the four
// engines' metrics and health, the observational boundary a deployment's
// monitoring stack polls.
package statusserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/julienschmidt/httprouter"
)

// Snapshot is the JSON body served at /status. Each field holds whatever
// metrics struct the corresponding engine produces; this package stays
// decoupled from bundleengine/optimizer/bridge/state by taking them as
// interface{} rather than importing those packages.
type Snapshot struct {
	Bundle    interface{} `json:"bundle,omitempty"`
	Optimizer interface{} `json:"optimizer,omitempty"`
	Bridge    interface{} `json:"bridge,omitempty"`
	State     interface{} `json:"state,omitempty"`
}

// SnapshotFunc produces the current Snapshot on demand.
type SnapshotFunc func() Snapshot

// Server serves /status (a JSON snapshot of all engines) and /healthz
// (a trivial liveness probe) over github.com/julienschmidt/httprouter.
type Server struct {
	httpServer *http.Server
	snapshot   SnapshotFunc
}

// New builds a Server bound to addr. snapshot is called fresh on every
// /status request.
func New(addr string, snapshot SnapshotFunc) *Server {
	s := &Server{snapshot: snapshot}

	router := httprouter.New()
	router.GET("/status", s.handleStatus)
	router.GET("/healthz", s.handleHealthz)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snap := s.snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		log.Error("statusserver: failed to encode status snapshot", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Start begins serving in the background. Call Shutdown to stop it.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("statusserver: listen failed", "err", err)
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Package api is the thin programmatic API of spec.md §6: an HTTP surface
// exposing the same verbs as the CLI (start/save/resume/list/pause,
// shutdown variants, workflow triggers) plus a websocket progress stream,
// deliberately without dashboards or process-monitoring endpoints. Grounded
// on internal/server's gorilla/mux routing and internal/server/hub.go's
// websocket fan-out, heavily trimmed.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/orchestrator-core/orchestrator/internal/contextmgr"
	"github.com/orchestrator-core/orchestrator/internal/events"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
	"github.com/orchestrator-core/orchestrator/internal/verify"
	"github.com/orchestrator-core/orchestrator/internal/workflow"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the programmatic API's HTTP surface.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *hub

	st       *store.Store
	cm       *contextmgr.Manager
	wf       *workflow.Engine
	verifier *verify.Verifier
	cfg      []types.WorkflowDefinition

	ShutdownChan chan struct{}
}

// New wires a Server over the already-constructed core components.
func New(addr string, st *store.Store, cm *contextmgr.Manager, bus *events.Bus, wf *workflow.Engine, verifier *verify.Verifier, workflows []types.WorkflowDefinition) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		hub:          newHub(bus),
		st:           st,
		cm:           cm,
		wf:           wf,
		verifier:     verifier,
		cfg:          workflows,
		ShutdownChan: make(chan struct{}),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	go s.hub.run()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router.PathPrefix("/api/v1").Subrouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/contexts", s.handleStart).Methods("POST")
	r.HandleFunc("/contexts", s.handleList).Methods("GET")
	r.HandleFunc("/contexts/{id}", s.handleGetContext).Methods("GET")
	r.HandleFunc("/contexts/{id}/save", s.handleSave).Methods("POST")
	r.HandleFunc("/contexts/{id}/resume", s.handleResume).Methods("POST")
	r.HandleFunc("/contexts/{id}/pause", s.handlePause).Methods("POST")
	r.HandleFunc("/contexts/{id}/tangent", s.handlePushTangent).Methods("POST")
	r.HandleFunc("/contexts/{id}/tangent", s.handlePopTangent).Methods("DELETE")
	r.HandleFunc("/contexts/{id}/upgrade", s.handleUpgrade).Methods("POST")
	r.HandleFunc("/workflows/{name}/run", s.handleRunWorkflow).Methods("POST")
	r.HandleFunc("/verify/{task_id}", s.handleVerifyTask).Methods("POST")
	r.HandleFunc("/verify/batch", s.handleVerifyBatch).Methods("POST")
	r.HandleFunc("/shutdown", s.handleShutdown).Methods("POST")
	r.HandleFunc("/ws/{id}", s.handleWebsocket).Methods("GET")
}

// Start begins serving and blocks until the server stops (ListenAndServe
// contract); callers typically run it in a goroutine.
func (s *Server) Start() error {
	log.Printf("[API] listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down within timeout.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if oe, ok := err.(*types.OrchestratorError); ok {
		switch oe.Kind {
		case types.ErrAuthMissing, types.ErrConfigInvalid:
			status = http.StatusBadRequest
		case types.ErrConflictDetected:
			status = http.StatusConflict
		case types.ErrExternalRejected, types.ErrExternalTimeout:
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

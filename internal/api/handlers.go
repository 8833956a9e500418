package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRequest struct {
	Scope types.Scope `json:"scope"`
	Goal  string      `json:"goal"`
	Budget int        `json:"token_budget"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrConfigInvalid, "invalid request body: "+err.Error()))
		return
	}
	if req.Budget <= 0 {
		req.Budget = 8000
	}
	ctx, err := s.cm.Create(req.Scope, req.Goal, req.Budget)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ctx)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := store.ListContextsFilter{Scope: types.Scope(r.URL.Query().Get("scope"))}
	contexts, err := s.st.ListContexts(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contexts)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx, err := s.st.GetContext(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctx)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.cm.Save(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx, err := s.cm.Resume(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctx)
}

// handlePause saves the context's current state and confirms; the runtime
// has no separate "paused" context state — pausing means a resumable save
// per spec.md §4.2's save/resume contract.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.cm.Save(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

type tangentRequest struct {
	Goal   string `json:"goal"`
	Budget int    `json:"token_budget"`
}

func (s *Server) handlePushTangent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req tangentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrConfigInvalid, "invalid request body: "+err.Error()))
		return
	}
	if req.Budget <= 0 {
		req.Budget = 2000
	}
	tangent, err := s.cm.PushTangent(id, req.Goal, req.Budget)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tangent)
}

func (s *Server) handlePopTangent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.cm.PopTangent(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "popped"})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.cm.Upgrade(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "upgraded"})
}

type runWorkflowRequest struct {
	ContextID string                 `json:"context_id"`
	SessionID string                 `json:"session_id"`
	Input     map[string]interface{} `json:"input"`
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var def *types.WorkflowDefinition
	for i := range s.cfg {
		if s.cfg[i].Name == name {
			def = &s.cfg[i]
			break
		}
	}
	if def == nil {
		writeError(w, types.NewError(types.ErrConfigInvalid, "no workflow registered with name "+name))
		return
	}

	var req runWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrConfigInvalid, "invalid request body: "+err.Error()))
		return
	}
	if req.Input == nil {
		req.Input = map[string]interface{}{}
	}

	session, err := s.wf.Run(r.Context(), *def, req.ContextID, req.SessionID, req.Input)
	if err != nil {
		writeJSON(w, http.StatusOK, session) // workflow failures are reported, not 5xx'd
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type verifyRequest struct {
	ClaimedStatus types.TaskStatus `json:"claimed_status"`
	AgentID       string           `json:"agent_id"`
	SessionID     string           `json:"session_id"`
	ContextID     string           `json:"context_id"`
}

func (s *Server) handleVerifyTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrConfigInvalid, "invalid request body: "+err.Error()))
		return
	}
	record, err := s.verifier.VerifyTask(r.Context(), taskID, req.ClaimedStatus, req.AgentID, req.SessionID, req.ContextID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type verifyBatchRequest struct {
	Document  string `json:"document"`
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	ContextID string `json:"context_id"`
}

func (s *Server) handleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	var req verifyBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrConfigInvalid, "invalid request body: "+err.Error()))
		return
	}
	report, err := s.verifier.VerifyProgressDocument(r.Context(), req.Document, req.AgentID, req.SessionID, req.ContextID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleShutdown signals ShutdownChan; the daemon's main loop is
// responsible for interpreting variant (emergency/quick/regular) and
// performing the actual teardown, matching spec.md §6's CLI shutdown
// variants being adapters over one programmatic verb.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	variant := r.URL.Query().Get("variant")
	if variant == "" {
		variant = "regular"
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutdown-requested", "variant": variant})
	close(s.ShutdownChan)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, websocketBufferSize), contextID: id}
	s.hub.register <- c
	go c.writeLoop()
	c.readLoop(s.hub)
}

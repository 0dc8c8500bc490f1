package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xpert-ai/agentgraph/graph"
	"github.com/xpert-ai/agentgraph/runtime/checkpoint"
	"github.com/xpert-ai/agentgraph/runtime/ids"
)

// createThreadRequest is the POST /threads body (spec §6: "echoes thread_id,
// sets if_exists ∈ {raise, do_nothing}").
type createThreadRequest struct {
	ThreadID string         `json:"thread_id,omitempty"`
	IfExists string         `json:"if_exists,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type threadResponse struct {
	ThreadID  string         `json:"thread_id"`
	State     string         `json:"state"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func toThreadResponse(rec ThreadRecord) threadResponse {
	return threadResponse{
		ThreadID:  rec.ID,
		State:     string(rec.State),
		Metadata:  rec.Metadata,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.IfExists == "" {
		req.IfExists = "raise"
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = ids.NewThreadID()
	}

	now := time.Now().UTC()
	rec := ThreadRecord{
		Thread: graph.Thread{
			ID:        threadID,
			State:     graph.ThreadOpen,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Metadata: req.Metadata,
	}

	created, err := s.deps.Threads.Create(r.Context(), rec, req.IfExists)
	if err != nil {
		if err == ErrExists {
			writeError(w, http.StatusConflict, "thread already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toThreadResponse(created))
}

type searchThreadsRequest struct {
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleSearchThreads(w http.ResponseWriter, r *http.Request) {
	var req searchThreadsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	recs, err := s.deps.Threads.Search(r.Context(), req.Metadata)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]threadResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toThreadResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	rec, err := s.deps.Threads.Get(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, toThreadResponse(rec))
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if err := s.deps.Threads.Delete(r.Context(), threadID); err != nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	// Delete is async-accepted (spec §6): the caller gets 202 immediately.
	// Only the thread record is removed; checkpoints and ledger rows are
	// left in place.
	w.WriteHeader(http.StatusAccepted)
}

type threadStateResponse struct {
	Values           map[string]any `json:"values"`
	Checkpoint       string         `json:"checkpoint"`
	ParentCheckpoint string         `json:"parent_checkpoint,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

func (s *Server) handleGetThreadState(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if _, err := s.deps.Threads.Get(r.Context(), threadID); err != nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	checkpointID := r.URL.Query().Get("checkpoint_id")
	tuple, err := s.deps.Checkpointer.GetTuple(r.Context(), threadID, checkpoint.RootNamespace, checkpointID)
	if err != nil {
		if err == checkpoint.ErrNotFound {
			writeJSON(w, http.StatusOK, threadStateResponse{Values: map[string]any{}})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := threadStateResponse{
		Values:    tuple.Checkpoint.Values,
		Checkpoint: tuple.Checkpoint.ID,
		Metadata:  tuple.Checkpoint.Metadata,
		CreatedAt: tuple.Checkpoint.Created,
	}
	if tuple.ParentConfig != nil {
		resp.ParentCheckpoint = tuple.ParentConfig.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if r.ContentLength == 0 {
		return true
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

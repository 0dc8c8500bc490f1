package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type assistantResponse struct {
	AssistantID string `json:"assistant_id"`
	GraphID     string `json:"graph_id"`
	Slug        string `json:"slug,omitempty"`
	Version     string `json:"version,omitempty"`
	EntryAgent  string `json:"entry_agent"`
}

func toAssistantResponse(rec AssistantRecord) assistantResponse {
	return assistantResponse{
		AssistantID: rec.Xpert.ID,
		GraphID:     rec.Xpert.ID,
		Slug:        rec.Xpert.Slug,
		Version:     rec.Xpert.Version,
		EntryAgent:  rec.EntryAgent,
	}
}

func (s *Server) handleGetAssistant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assistantID")
	rec, err := s.deps.Assistants.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "assistant not found")
		return
	}
	writeJSON(w, http.StatusOK, toAssistantResponse(rec))
}

type searchAssistantsRequest struct {
	GraphID  string         `json:"graph_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleSearchAssistants(w http.ResponseWriter, r *http.Request) {
	var req searchAssistantsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	recs, err := s.deps.Assistants.Search(r.Context(), req.GraphID, req.Metadata)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]assistantResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toAssistantResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

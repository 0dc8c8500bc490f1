package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type storeItemRequest struct {
	Namespace []string       `json:"namespace"`
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
}

func (s *Server) handlePutStoreItem(w http.ResponseWriter, r *http.Request) {
	var req storeItemRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if err := s.deps.Memory.Put(r.Context(), req.Namespace, req.Key, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetStoreItem(w http.ResponseWriter, r *http.Request) {
	namespace := splitNamespace(chi.URLParam(r, "namespace"))
	key := chi.URLParam(r, "key")

	value, ok, err := s.deps.Memory.Get(r.Context(), namespace, key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespace": namespace, "key": key, "value": value})
}

func (s *Server) handleDeleteStoreItem(w http.ResponseWriter, r *http.Request) {
	namespace := splitNamespace(chi.URLParam(r, "namespace"))
	key := chi.URLParam(r, "key")
	if err := s.deps.Memory.Delete(r.Context(), namespace, key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchStoreItemsRequest struct {
	Namespace []string `json:"namespace"`
	Query     string   `json:"query,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

func (s *Server) handleSearchStoreItems(w http.ResponseWriter, r *http.Request) {
	var req searchStoreItemsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	items, err := s.deps.Memory.Search(r.Context(), req.Namespace, req.Query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"namespace":  item.Namespace,
			"key":        item.Key,
			"value":      item.Value,
			"updated_at": item.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// splitNamespace decodes the path-segment form of a namespace. The path form
// separates parts with ".", while NewMemoryStore joins them with "/"
// internally.
func splitNamespace(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ".")
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nikhilbhutani/documind/internal/rag"
)

type QueryHandler struct {
	pipeline rag.Pipeline
}

func NewQueryHandler(p rag.Pipeline) *QueryHandler {
	return &QueryHandler{pipeline: p}
}

func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req rag.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Question == "" {
		badRequest(w, "Question is required")
		return
	}

	resp, err := h.pipeline.Answer(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *QueryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req rag.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Question == "" {
		badRequest(w, "Question is required")
		return
	}

	results, err := h.pipeline.Search(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

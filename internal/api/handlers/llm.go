package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/documind/internal/llm"
)

type ModelsHandler struct {
	gateway llm.Gateway
}

func NewModelsHandler(gw llm.Gateway) *ModelsHandler {
	return &ModelsHandler{gateway: gw}
}

// List reports the chat models of every configured provider.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	models := h.gateway.ListModels()
	writeJSON(w, http.StatusOK, map[string]any{"models": models, "count": len(models)})
}

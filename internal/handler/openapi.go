package handler

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/dugong-app/dugong/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI 3.1 document for the API. The document
// does not change at runtime, so it is encoded once.
type OpenAPIHandler struct {
	baseURL string
	version string

	once sync.Once
	body []byte
	err  error
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(baseURL, version string) *OpenAPIHandler {
	return &OpenAPIHandler{baseURL: baseURL, version: version}
}

// ServeSpec writes the document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		h.body, h.err = json.Marshal(openapi.Generate(h.baseURL, h.version))
	})
	if h.err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate OpenAPI spec: "+h.err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(h.body)
}

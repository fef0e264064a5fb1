package handler

import (
	"context"
	"net/http"

	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/openapi"
)

// ModelLister lists model definitions.
type ModelLister interface {
	List(ctx context.Context) ([]model.ModelDefinition, error)
}

// OpenAPIHandler serves an OpenAPI 3.1 document generated from the current
// model definitions on every request, so newly created models appear
// without a restart.
type OpenAPIHandler struct {
	models  ModelLister
	version string
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(models ModelLister, version string) *OpenAPIHandler {
	return &OpenAPIHandler{models: models, version: version}
}

// ServeSpec writes the document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	defs, err := h.models.List(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	writeJSON(w, http.StatusOK, openapi.Generate(defs, "", h.version, scheme+"://"+r.Host))
}

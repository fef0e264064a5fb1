package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/basin/internal/data"
	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/server/middleware"
)

const filterPrefix = "filter_"

// DataHandler serves the generic record API under /data/{table}.
type DataHandler struct {
	svc *data.Service
}

// NewDataHandler creates a new DataHandler.
func NewDataHandler(svc *data.Service) *DataHandler {
	return &DataHandler{svc: svc}
}

// List returns one page of records.
// GET /data/{table}
func (h *DataHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := data.ListParams{
		Page:    queryInt(r, "page", 1),
		PerPage: queryInt(r, "per_page", 0),
		Sort:    q.Get("sort"),
		Search:  q.Get("search"),
		Include: data.ParseInclude(q.Get("include")),
		Filters: map[string]string{},
	}
	for key, vals := range q {
		if name, ok := strings.CutPrefix(key, filterPrefix); ok && name != "" && len(vals) > 0 {
			params.Filters[name] = vals[0]
		}
	}

	res, err := h.svc.List(r.Context(), middleware.GetPrincipal(r.Context()), chi.URLParam(r, "table"), params)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Get returns one record.
// GET /data/{table}/{id}
func (h *DataHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), middleware.GetPrincipal(r.Context()),
		chi.URLParam(r, "table"), chi.URLParam(r, "id"), data.ParseInclude(r.URL.Query().Get("include")))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ItemResponse{Data: rec})
}

// Create inserts a record.
// POST /data/{table}
func (h *DataHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input map[string]any
	if err := readJSON(r, &input); err != nil {
		writeAppError(w, err)
		return
	}
	rec, err := h.svc.Create(r.Context(), middleware.GetPrincipal(r.Context()), chi.URLParam(r, "table"), input)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, model.ItemResponse{Data: rec})
}

// Update applies the supplied fields to a record. PUT and PATCH share it.
// PUT|PATCH /data/{table}/{id}
func (h *DataHandler) Update(w http.ResponseWriter, r *http.Request) {
	var input map[string]any
	if err := readJSON(r, &input); err != nil {
		writeAppError(w, err)
		return
	}
	rec, err := h.svc.Update(r.Context(), middleware.GetPrincipal(r.Context()),
		chi.URLParam(r, "table"), chi.URLParam(r, "id"), input)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ItemResponse{Data: rec})
}

// Delete removes a record.
// DELETE /data/{table}/{id}
func (h *DataHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Delete(r.Context(), middleware.GetPrincipal(r.Context()), chi.URLParam(r, "table"), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Record deleted."})
}

// Schema describes the model behind the table.
// GET /data/{table}/schema
func (h *DataHandler) Schema(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Schema(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ItemResponse{Data: s})
}

package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/config"
	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/service"
)

// SystemHandler serves the metadata API: admins, models and their fields
// and relationships, API keys, webhooks and analytics.
type SystemHandler struct {
	store    *config.Store
	authSvc  *service.AuthService
	models   *service.ModelService
	webhooks *service.WebhookService
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(store *config.Store, authSvc *service.AuthService, models *service.ModelService, webhooks *service.WebhookService) *SystemHandler {
	return &SystemHandler{
		store:    store,
		authSvc:  authSvc,
		models:   models,
		webhooks: webhooks,
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	AdminID   int64  `json:"admin_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Login authenticates an admin user and returns a JWT session token.
// POST /api/v1/system/admin/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		v := &apperr.Validation{}
		if req.Email == "" {
			v.Add("email", "The email field is required.")
		}
		if req.Password == "" {
			v.Add("password", "The password field is required.")
		}
		writeAppError(w, v.Err())
		return
	}

	token, admin, err := h.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.authSvc.TTL().Seconds()),
		AdminID:   admin.ID,
		Email:     admin.Email,
		Name:      admin.Name,
	})
}

// Logout invalidates the current session. Since JWTs are stateless, this is
// a no-op on the server side. Clients should discard their token.
// DELETE /api/v1/system/admin/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ---------------------------------------------------------------------------
// Admin management
// ---------------------------------------------------------------------------

// ListAdmins returns all admin accounts.
// GET /api/v1/system/admin
func (h *SystemHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	if admins == nil {
		admins = []model.Admin{}
	}
	writeJSON(w, http.StatusOK, model.ItemResponse{Data: admins})
}

// CreateAdmin creates a new admin account.
// POST /api/v1/system/admin
func (h *SystemHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var in service.AdminInput
	if err := readJSON(r, &in); err != nil {
		writeAppError(w, err)
		return
	}
	admin, err := h.authSvc.CreateAdmin(r.Context(), in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, model.ItemResponse{Data: admin})
}

// ---------------------------------------------------------------------------
// Models
// ---------------------------------------------------------------------------

// modelResponse pairs a definition with the sync outcome that followed
// its last change.
type modelResponse struct {
	Data *model.ModelDefinition `json:"data"`
	Sync any                    `json:"sync,omitempty"`
}

// ListModels returns every model definition.
// GET /api/v1/system/model
func (h *SystemHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	defs, err := h.models.List(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	if defs == nil {
		defs = []model.ModelDefinition{}
	}
	writeJSON(w, http.StatusOK, model.ItemResponse{Data: defs})
}

// CreateModel stores a model and creates its table.
// POST /api/v1/system/model
func (h *SystemHandler) CreateModel(w http.ResponseWriter, r *http.Request) {
	def := service.NewModel()
	if err := readJSON(r, def); err != nil {
		writeAppError(w, err)
		return
	}
	res, err := h.models.Create(r.Context(), def)
	if err != nil {
		writeAppError(w, err)
		return
	}
	h.writeModel(w, r, http.StatusCreated, def.TableName, res)
}

// GetModel returns one model definition.
// GET /api/v1/system/model/{table}
func (h *SystemHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	def, err := h.models.Get(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, modelResponse{Data: def})
}

// UpdateModel rewrites a model's attributes. Fields and relationships have
// their own endpoints and are ignored here.
// PUT /api/v1/system/model/{table}
func (h *SystemHandler) UpdateModel(w http.ResponseWriter, r *http.Request) {
	current, err := h.models.Get(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	def := *current
	if err := readJSON(r, &def); err != nil {
		writeAppError(w, err)
		return
	}
	def.ID = current.ID
	res, err := h.models.Update(r.Context(), &def)
	if err != nil {
		writeAppError(w, err)
		return
	}
	h.writeModel(w, r, http.StatusOK, def.TableName, res)
}

// DeleteModel drops a model's table and definition.
// DELETE /api/v1/system/model/{table}
func (h *SystemHandler) DeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := h.models.Delete(r.Context(), chi.URLParam(r, "table")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Model deleted."})
}

// SyncModel reconciles a model's table with its definition.
// POST /api/v1/system/model/{table}/sync
func (h *SystemHandler) SyncModel(w http.ResponseWriter, r *http.Request) {
	res, err := h.models.Sync(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ItemResponse{Data: res})
}

// ModelDrift reports differences between a definition and its live table.
// GET /api/v1/system/model/{table}/drift
func (h *SystemHandler) ModelDrift(w http.ResponseWriter, r *http.Request) {
	report, err := h.models.Drift(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ItemResponse{Data: report})
}

// AddField appends a field and adds its column.
// POST /api/v1/system/model/{table}/field
func (h *SystemHandler) AddField(w http.ResponseWriter, r *http.Request) {
	var f model.FieldDefinition
	if err := readJSON(r, &f); err != nil {
		writeAppError(w, err)
		return
	}
	table := chi.URLParam(r, "table")
	res, err := h.models.AddField(r.Context(), table, &f)
	if err != nil {
		writeAppError(w, err)
		return
	}
	h.writeModel(w, r, http.StatusCreated, table, res)
}

// UpdateField changes a field's attributes.
// PUT /api/v1/system/model/{table}/field/{field}
func (h *SystemHandler) UpdateField(w http.ResponseWriter, r *http.Request) {
	var f model.FieldDefinition
	if err := readJSON(r, &f); err != nil {
		writeAppError(w, err)
		return
	}
	out, err := h.models.UpdateField(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "field"), &f)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ItemResponse{Data: out})
}

// DeleteField removes a field from the definition. Its column is kept.
// DELETE /api/v1/system/model/{table}/field/{field}
func (h *SystemHandler) DeleteField(w http.ResponseWriter, r *http.Request) {
	if err := h.models.DeleteField(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "field")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Field deleted."})
}

// AddRelationship declares a relationship on a model.
// POST /api/v1/system/model/{table}/relationship
func (h *SystemHandler) AddRelationship(w http.ResponseWriter, r *http.Request) {
	var rel model.RelationshipDefinition
	if err := readJSON(r, &rel); err != nil {
		writeAppError(w, err)
		return
	}
	table := chi.URLParam(r, "table")
	if err := h.models.AddRelationship(r.Context(), table, &rel); err != nil {
		writeAppError(w, err)
		return
	}
	h.writeModel(w, r, http.StatusCreated, table, nil)
}

// DeleteRelationship removes a relationship by name.
// DELETE /api/v1/system/model/{table}/relationship/{name}
func (h *SystemHandler) DeleteRelationship(w http.ResponseWriter, r *http.Request) {
	if err := h.models.DeleteRelationship(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "name")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Relationship deleted."})
}

// writeModel reloads table and writes it with the sync outcome.
func (h *SystemHandler) writeModel(w http.ResponseWriter, r *http.Request, status int, table string, sync any) {
	def, err := h.models.Get(r.Context(), table)
	if err != nil {
		writeAppError(w, err)
		return
	}
	resp := modelResponse{Data: def}
	if sync != nil {
		resp.Sync = sync
	}
	writeJSON(w, status, resp)
}

// ---------------------------------------------------------------------------
// API Key management
// ---------------------------------------------------------------------------

// keyView is an API key as the metadata API shows it, with scope names
// instead of the stored mask.
type keyView struct {
	*model.APIKey
	Scopes []string `json:"scopes"`
}

func viewKey(k *model.APIKey) keyView {
	return keyView{APIKey: k, Scopes: k.Scopes.Names()}
}

// createAPIKeyResponse includes the plaintext key (shown once only).
type createAPIKeyResponse struct {
	keyView
	APIKey string `json:"api_key"`
}

// ListAPIKeys returns all configured API keys (without exposing the actual key).
// GET /api/v1/system/api-key
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	out := make([]keyView, len(keys))
	for i := range keys {
		out[i] = viewKey(&keys[i])
	}
	writeJSON(w, http.StatusOK, model.ItemResponse{Data: out})
}

// CreateAPIKey issues a new API key. The plaintext key appears only in this
// response.
// POST /api/v1/system/api-key
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var in service.KeyInput
	if err := readJSON(r, &in); err != nil {
		writeAppError(w, err)
		return
	}
	token, key, err := h.authSvc.CreateAPIKey(r.Context(), in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, model.ItemResponse{Data: createAPIKeyResponse{keyView: viewKey(key), APIKey: token}})
}

// GetAPIKey returns one API key.
// GET /api/v1/system/api-key/{keyId}
func (h *SystemHandler) GetAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "keyId"), "API key")
	if err != nil {
		writeAppError(w, err)
		return
	}
	key, err := h.store.GetAPIKey(r.Context(), id)
	if err != nil {
		writeAppError(w, storeNotFound(err, "API key not found."))
		return
	}
	writeJSON(w, http.StatusOK, model.ItemResponse{Data: viewKey(key)})
}

// UpdateAPIKey changes a key's name, scopes, table allow-list, limit,
// expiry or active flag.
// PUT /api/v1/system/api-key/{keyId}
func (h *SystemHandler) UpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "keyId"), "API key")
	if err != nil {
		writeAppError(w, err)
		return
	}
	var in service.KeyInput
	if err := readJSON(r, &in); err != nil {
		writeAppError(w, err)
		return
	}
	key, err := h.authSvc.UpdateAPIKey(r.Context(), id, in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ItemResponse{Data: viewKey(key)})
}

// RevokeAPIKey deactivates an API key. Revoked keys stay listed.
// DELETE /api/v1/system/api-key/{keyId}
func (h *SystemHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "keyId"), "API key")
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.store.RevokeAPIKey(r.Context(), id); err != nil {
		writeAppError(w, storeNotFound(err, "API key not found."))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "API key revoked."})
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

// ListWebhooks returns every webhook.
// GET /api/v1/system/webhook
func (h *SystemHandler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.webhooks.List(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	if hooks == nil {
		hooks = []model.Webhook{}
	}
	writeJSON(w, http.StatusOK, model.ItemResponse{Data: hooks})
}

// CreateWebhook registers a webhook after checking its URL is reachable
// without touching internal networks.
// POST /api/v1/system/webhook
func (h *SystemHandler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var in service.WebhookInput
	if err := readJSON(r, &in); err != nil {
		writeAppError(w, err)
		return
	}
	hook, err := h.webhooks.Create(r.Context(), in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, model.ItemResponse{Data: hook})
}

// GetWebhook returns one webhook.
// GET /api/v1/system/webhook/{id}
func (h *SystemHandler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"), "Webhook")
	if err != nil {
		writeAppError(w, err)
		return
	}
	hook, err := h.webhooks.Get(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ItemResponse{Data: hook})
}

// UpdateWebhook replaces a webhook's settings. An omitted secret keeps the
// current one.
// PUT /api/v1/system/webhook/{id}
func (h *SystemHandler) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"), "Webhook")
	if err != nil {
		writeAppError(w, err)
		return
	}
	var in service.WebhookInput
	if err := readJSON(r, &in); err != nil {
		writeAppError(w, err)
		return
	}
	hook, err := h.webhooks.Update(r.Context(), id, in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ItemResponse{Data: hook})
}

// DeleteWebhook removes a webhook.
// DELETE /api/v1/system/webhook/{id}
func (h *SystemHandler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"), "Webhook")
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.webhooks.Delete(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Webhook deleted."})
}

// TestWebhook sends a ping delivery and reports how it went.
// POST /api/v1/system/webhook/{id}/test
func (h *SystemHandler) TestWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"), "Webhook")
	if err != nil {
		writeAppError(w, err)
		return
	}
	res, err := h.webhooks.Test(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     res.Success,
		"delivery_id": res.DeliveryID,
		"status_code": res.StatusCode,
		"duration_ms": res.Duration.Milliseconds(),
		"error":       res.Error,
	})
}

// ---------------------------------------------------------------------------
// Analytics
// ---------------------------------------------------------------------------

// Analytics returns recent data API requests and a per-table summary.
// GET /api/v1/system/analytics?table=&limit=&hours=
func (h *SystemHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	limit := min(max(queryInt(r, "limit", 100), 1), 1000)
	hours := max(queryInt(r, "hours", 24), 1)

	entries, err := h.store.ListAnalytics(r.Context(), r.URL.Query().Get("table"), limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	summary, err := h.store.SummarizeAnalytics(r.Context(), time.Now().UTC().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if entries == nil {
		entries = []model.AnalyticsEntry{}
	}
	if summary == nil {
		summary = []model.AnalyticsSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries, "summary": summary})
}

func storeNotFound(err error, msg string) error {
	if errors.Is(err, config.ErrNotFound) {
		return apperr.NotFound(msg)
	}
	return err
}

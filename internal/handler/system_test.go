package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/webhook"
)

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAdmin(t)

	rr := env.do(t, "POST", "/api/v1/system/admin/session", toJSON(t, map[string]string{
		"email":    "Admin@Example.com ",
		"password": testPassword,
	}))
	assertStatus(t, rr, http.StatusOK)

	var resp loginResponse
	decodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("expected a session token")
	}
	if resp.AdminID != admin.ID || resp.TokenType != "bearer" || resp.ExpiresIn != 3600 {
		t.Errorf("response = %+v", resp)
	}

	p, err := env.authSvc.ValidateJWT(context.Background(), resp.Token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if !p.IsAdmin || p.AdminID != admin.ID {
		t.Errorf("principal = %+v", p)
	}
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	tests := []struct {
		name   string
		body   io.Reader
		status int
		code   string
	}{
		{"wrong password", toJSON(t, map[string]string{"email": "admin@example.com", "password": "nope-nope"}), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown email", toJSON(t, map[string]string{"email": "ghost@example.com", "password": testPassword}), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"missing fields", toJSON(t, map[string]string{}), http.StatusUnprocessableEntity, ""},
		{"malformed body", strings.NewReader("{"), http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/v1/system/admin/session", tt.body)
			assertStatus(t, rr, tt.status)
			if tt.code == "" {
				var v model.ValidationResponse
				decodeJSON(t, rr, &v)
				if len(v.Errors["email"]) == 0 || len(v.Errors["password"]) == 0 {
					t.Errorf("errors = %v", v.Errors)
				}
				return
			}
			var e model.ErrorResponse
			decodeJSON(t, rr, &e)
			if e.Success || e.ErrorCode != tt.code {
				t.Errorf("error = %+v, want code %s", e, tt.code)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	assertStatus(t, env.do(t, "DELETE", "/api/v1/system/admin/session", nil), http.StatusOK)
}

// ---------------------------------------------------------------------------
// Admins
// ---------------------------------------------------------------------------

func TestAdminCRUD(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	rr := env.do(t, "POST", "/api/v1/system/admin", toJSON(t, map[string]string{
		"email": "second@example.com", "name": "Second", "password": "anotherpassword",
	}))
	assertStatus(t, rr, http.StatusCreated)
	if strings.Contains(rr.Body.String(), "password") {
		t.Errorf("password hash leaked: %s", rr.Body.String())
	}

	rr = env.do(t, "POST", "/api/v1/system/admin", toJSON(t, map[string]string{
		"email": "second@example.com", "password": "anotherpassword",
	}))
	assertStatus(t, rr, http.StatusUnprocessableEntity)

	rr = env.do(t, "POST", "/api/v1/system/admin", toJSON(t, map[string]string{
		"email": "not-an-email", "password": "short",
	}))
	assertStatus(t, rr, http.StatusUnprocessableEntity)
	var v model.ValidationResponse
	decodeJSON(t, rr, &v)
	if len(v.Errors["email"]) == 0 || len(v.Errors["password"]) == 0 {
		t.Errorf("errors = %v", v.Errors)
	}

	rr = env.do(t, "GET", "/api/v1/system/admin", nil)
	assertStatus(t, rr, http.StatusOK)
	var list struct {
		Data []model.Admin `json:"data"`
	}
	decodeJSON(t, rr, &list)
	if len(list.Data) != 2 {
		t.Errorf("admins = %d, want 2", len(list.Data))
	}
}

// ---------------------------------------------------------------------------
// Models, fields and relationships
// ---------------------------------------------------------------------------

type modelEnvelope struct {
	Data struct {
		ID            int64                          `json:"id"`
		TableName     string                         `json:"table_name"`
		DisplayName   string                         `json:"display_name"`
		APIEnabled    bool                           `json:"api_enabled"`
		ListRule      string                         `json:"list_rule"`
		HasSoftDelete bool                           `json:"has_soft_deletes"`
		Fields        []model.FieldDefinition        `json:"fields"`
		Relationships []model.RelationshipDefinition `json:"relationships"`
	} `json:"data"`
	Sync *struct {
		Created      bool     `json:"created"`
		ColumnsAdded []string `json:"columns_added"`
	} `json:"sync"`
}

func TestModelCRUD(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/system/model", toJSON(t, map[string]any{
		"name":       "Post",
		"table_name": "posts",
		"list_rule":  "true",
		"fields": []map[string]any{
			{"name": "title", "type": "string", "required": true, "searchable": true},
			{"name": "status", "type": "enum", "options": []string{"draft", "published"}},
		},
	}))
	assertStatus(t, rr, http.StatusCreated)
	var created modelEnvelope
	decodeJSON(t, rr, &created)
	if created.Sync == nil || !created.Sync.Created {
		t.Fatalf("expected table to be created, got %+v", created.Sync)
	}
	if !created.Data.APIEnabled || created.Data.DisplayName != "Post" || len(created.Data.Fields) != 2 {
		t.Errorf("model = %+v", created.Data)
	}

	// Duplicate table names are rejected.
	rr = env.do(t, "POST", "/api/v1/system/model", toJSON(t, map[string]any{"name": "Post2", "table_name": "posts"}))
	assertStatus(t, rr, http.StatusUnprocessableEntity)

	// Enum without options fails validation.
	rr = env.do(t, "POST", "/api/v1/system/model", toJSON(t, map[string]any{
		"name": "Bad", "table_name": "bad",
		"fields": []map[string]any{{"name": "state", "type": "enum"}},
	}))
	assertStatus(t, rr, http.StatusUnprocessableEntity)

	rr = env.do(t, "GET", "/api/v1/system/model/posts", nil)
	assertStatus(t, rr, http.StatusOK)

	assertStatus(t, env.do(t, "GET", "/api/v1/system/model/ghosts", nil), http.StatusNotFound)

	// Update keeps fields and adds the soft-delete column.
	rr = env.do(t, "PUT", "/api/v1/system/model/posts", toJSON(t, map[string]any{
		"has_soft_deletes": true,
		"fields":           []any{},
	}))
	assertStatus(t, rr, http.StatusOK)
	var updated modelEnvelope
	decodeJSON(t, rr, &updated)
	if !updated.Data.HasSoftDelete || len(updated.Data.Fields) != 2 || updated.Data.ListRule != "true" {
		t.Errorf("updated = %+v", updated.Data)
	}
	if updated.Sync == nil || !containsString(updated.Sync.ColumnsAdded, "deleted_at") {
		t.Errorf("sync = %+v, want deleted_at added", updated.Sync)
	}

	rr = env.do(t, "PUT", "/api/v1/system/model/posts", toJSON(t, map[string]any{"table_name": "renamed"}))
	assertStatus(t, rr, http.StatusUnprocessableEntity)

	rr = env.do(t, "GET", "/api/v1/system/model", nil)
	assertStatus(t, rr, http.StatusOK)
	var list struct {
		Data []model.ModelDefinition `json:"data"`
	}
	decodeJSON(t, rr, &list)
	if len(list.Data) != 1 {
		t.Errorf("models = %d, want 1", len(list.Data))
	}

	assertStatus(t, env.do(t, "DELETE", "/api/v1/system/model/posts", nil), http.StatusOK)
	assertStatus(t, env.do(t, "GET", "/api/v1/system/model/posts", nil), http.StatusNotFound)
}

func TestFieldLifecycleAndDrift(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "POST", "/api/v1/system/model", toJSON(t, map[string]any{
		"name": "Task", "table_name": "tasks",
		"fields": []map[string]any{{"name": "title", "type": "string"}},
	}))
	assertStatus(t, rr, http.StatusCreated)

	rr = env.do(t, "POST", "/api/v1/system/model/tasks/field", toJSON(t, map[string]any{
		"name": "priority", "type": "integer", "default_value": "3",
	}))
	assertStatus(t, rr, http.StatusCreated)
	var added modelEnvelope
	decodeJSON(t, rr, &added)
	if added.Sync == nil || !containsString(added.Sync.ColumnsAdded, "priority") {
		t.Errorf("sync = %+v, want priority added", added.Sync)
	}

	rr = env.do(t, "POST", "/api/v1/system/model/tasks/field", toJSON(t, map[string]any{"name": "priority", "type": "integer"}))
	assertStatus(t, rr, http.StatusUnprocessableEntity)

	// A synced field keeps its type.
	rr = env.do(t, "PUT", "/api/v1/system/model/tasks/field/priority", toJSON(t, map[string]any{"name": "priority", "type": "string"}))
	assertStatus(t, rr, http.StatusUnprocessableEntity)

	rr = env.do(t, "PUT", "/api/v1/system/model/tasks/field/priority", toJSON(t, map[string]any{
		"name": "priority", "type": "integer", "filterable": true, "sortable": true,
	}))
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "GET", "/api/v1/system/model/tasks/drift", nil)
	assertStatus(t, rr, http.StatusOK)
	var drift struct {
		Data struct {
			HasDrift       bool `json:"has_drift"`
			UnmanagedCount int  `json:"unmanaged_count"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &drift)
	if drift.Data.HasDrift {
		t.Errorf("fresh table reports drift: %+v", drift.Data)
	}

	// Removing a field leaves its column behind as unmanaged.
	assertStatus(t, env.do(t, "DELETE", "/api/v1/system/model/tasks/field/priority", nil), http.StatusOK)
	assertStatus(t, env.do(t, "DELETE", "/api/v1/system/model/tasks/field/priority", nil), http.StatusNotFound)

	rr = env.do(t, "GET", "/api/v1/system/model/tasks/drift", nil)
	decodeJSON(t, rr, &drift)
	if !drift.Data.HasDrift || drift.Data.UnmanagedCount != 1 {
		t.Errorf("drift = %+v, want one unmanaged column", drift.Data)
	}

	rr = env.do(t, "POST", "/api/v1/system/model/tasks/sync", nil)
	assertStatus(t, rr, http.StatusOK)
	var synced struct {
		Data struct {
			Created bool `json:"created"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &synced)
	if synced.Data.Created {
		t.Error("resync should not recreate the table")
	}
}

func TestRelationshipCRUD(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []map[string]any{
		{"name": "Author", "table_name": "authors", "fields": []map[string]any{{"name": "name", "type": "string"}}},
		{"name": "Book", "table_name": "books", "fields": []map[string]any{
			{"name": "title", "type": "string"},
			{"name": "author_id", "type": "integer"},
		}},
	} {
		assertStatus(t, env.do(t, "POST", "/api/v1/system/model", toJSON(t, body)), http.StatusCreated)
	}

	rr := env.do(t, "POST", "/api/v1/system/model/books/relationship", toJSON(t, map[string]any{
		"name": "author", "related_model": "authors", "kind": "belongsTo",
	}))
	assertStatus(t, rr, http.StatusCreated)
	var env1 modelEnvelope
	decodeJSON(t, rr, &env1)
	if len(env1.Data.Relationships) != 1 || env1.Data.Relationships[0].Name != "author" {
		t.Errorf("relationships = %+v", env1.Data.Relationships)
	}

	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown related model", map[string]any{"name": "publisher", "related_model": "publishers", "kind": "belongsTo"}},
		{"bad kind", map[string]any{"name": "editor", "related_model": "authors", "kind": "owns"}},
		{"pivot required", map[string]any{"name": "tags", "related_model": "authors", "kind": "belongsToMany"}},
		{"duplicate", map[string]any{"name": "author", "related_model": "authors", "kind": "belongsTo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/v1/system/model/books/relationship", toJSON(t, tt.body))
			assertStatus(t, rr, http.StatusUnprocessableEntity)
		})
	}

	assertStatus(t, env.do(t, "DELETE", "/api/v1/system/model/books/relationship/author", nil), http.StatusOK)
	assertStatus(t, env.do(t, "DELETE", "/api/v1/system/model/books/relationship/author", nil), http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

func TestAPIKeyCRUD(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/system/api-key", toJSON(t, map[string]any{
		"name":           "frontend",
		"scopes":         []string{"read", "write"},
		"allowed_tables": []string{"posts"},
		"rate_limit":     30,
	}))
	assertStatus(t, rr, http.StatusCreated)
	var created struct {
		Data struct {
			ID        int64    `json:"id"`
			APIKey    string   `json:"api_key"`
			KeyPrefix string   `json:"key_prefix"`
			Scopes    []string `json:"scopes"`
			Type      string   `json:"type"`
		} `json:"data"`
	}
	body := rr.Body.String()
	decodeJSON(t, rr, &created)
	if created.Data.APIKey == "" || !strings.HasPrefix(created.Data.APIKey, created.Data.KeyPrefix) {
		t.Fatalf("created = %+v", created.Data)
	}
	if strings.Join(created.Data.Scopes, ",") != "read,write" || created.Data.Type != model.KeyTypePublic {
		t.Errorf("created = %+v", created.Data)
	}
	for _, secret := range []string{"token_hash", "lookup_hash", "salt"} {
		if strings.Contains(body, secret) {
			t.Errorf("response exposes %s: %s", secret, body)
		}
	}

	// The plaintext key works and is never shown again.
	if _, err := env.authSvc.ValidateAPIKey(context.Background(), created.Data.APIKey); err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	path := "/api/v1/system/api-key/" + itoa(created.Data.ID)
	rr = env.do(t, "GET", path, nil)
	assertStatus(t, rr, http.StatusOK)
	if strings.Contains(rr.Body.String(), created.Data.APIKey) {
		t.Error("plaintext key returned by GET")
	}

	rr = env.do(t, "PUT", path, toJSON(t, map[string]any{"name": "frontend", "scopes": []string{"read"}}))
	assertStatus(t, rr, http.StatusOK)
	var updated struct {
		Data struct {
			Scopes []string `json:"scopes"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &updated)
	if strings.Join(updated.Data.Scopes, ",") != "read" {
		t.Errorf("scopes = %v", updated.Data.Scopes)
	}

	rr = env.do(t, "POST", "/api/v1/system/api-key", toJSON(t, map[string]any{"scopes": []string{"admin"}}))
	assertStatus(t, rr, http.StatusUnprocessableEntity)

	assertStatus(t, env.do(t, "DELETE", path, nil), http.StatusOK)
	if _, err := env.authSvc.ValidateAPIKey(context.Background(), created.Data.APIKey); err == nil {
		t.Error("revoked key still validates")
	}

	rr = env.do(t, "GET", "/api/v1/system/api-key", nil)
	assertStatus(t, rr, http.StatusOK)
	var list struct {
		Data []struct {
			IsActive bool `json:"is_active"`
		} `json:"data"`
	}
	decodeJSON(t, rr, &list)
	if len(list.Data) != 1 || list.Data[0].IsActive {
		t.Errorf("list = %+v, want one revoked key", list.Data)
	}

	assertStatus(t, env.do(t, "GET", "/api/v1/system/api-key/999", nil), http.StatusNotFound)
	assertStatus(t, env.do(t, "DELETE", "/api/v1/system/api-key/abc", nil), http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

func seedNotes(t *testing.T, env *testEnv) {
	t.Helper()
	rr := env.do(t, "POST", "/api/v1/system/model", toJSON(t, map[string]any{
		"name": "Note", "table_name": "notes",
		"fields": []map[string]any{{"name": "body", "type": "text"}},
	}))
	assertStatus(t, rr, http.StatusCreated)
}

func TestWebhookCRUDAndPing(t *testing.T) {
	env := newTestEnv(t)
	seedNotes(t, env)

	var (
		mu      sync.Mutex
		payload webhook.Payload
		sig     string
		body    []byte
	)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		sig = r.Header.Get(webhook.SignatureHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	rr := env.do(t, "POST", "/api/v1/system/webhook", toJSON(t, map[string]any{
		"table":  "notes",
		"url":    receiver.URL + "/hook",
		"secret": "s3cret",
		"events": []string{"created", "deleted"},
	}))
	assertStatus(t, rr, http.StatusCreated)
	if strings.Contains(rr.Body.String(), "s3cret") {
		t.Errorf("secret leaked: %s", rr.Body.String())
	}
	var created struct {
		Data model.Webhook `json:"data"`
	}
	decodeJSON(t, rr, &created)
	path := "/api/v1/system/webhook/" + itoa(created.Data.ID)

	rr = env.do(t, "POST", path+"/test", nil)
	assertStatus(t, rr, http.StatusOK)
	var ping struct {
		Success    bool   `json:"success"`
		StatusCode int    `json:"status_code"`
		DeliveryID string `json:"delivery_id"`
	}
	decodeJSON(t, rr, &ping)
	if !ping.Success || ping.StatusCode != http.StatusNoContent || ping.DeliveryID == "" {
		t.Errorf("ping = %+v", ping)
	}
	mu.Lock()
	if payload.Event != model.EventPing || payload.Table != "notes" {
		t.Errorf("payload = %+v", payload)
	}
	if !webhook.Verify("s3cret", body, sig) {
		t.Errorf("signature %q does not verify", sig)
	}
	mu.Unlock()

	// The ping leaves the delivery counters alone.
	rr = env.do(t, "GET", path, nil)
	var got struct {
		Data model.Webhook `json:"data"`
	}
	decodeJSON(t, rr, &got)
	if got.Data.LastTriggeredAt != nil || got.Data.FailureCount != 0 {
		t.Errorf("ping touched counters: %+v", got.Data)
	}

	// Omitting the secret on update keeps it.
	rr = env.do(t, "PUT", path, toJSON(t, map[string]any{
		"table": "notes", "url": receiver.URL + "/v2", "events": []string{"updated"},
	}))
	assertStatus(t, rr, http.StatusOK)
	hook, err := env.webhooks.Get(context.Background(), created.Data.ID)
	if err != nil {
		t.Fatal(err)
	}
	if hook.Secret != "s3cret" || hook.URL != receiver.URL+"/v2" {
		t.Errorf("hook = %+v", hook)
	}

	rr = env.do(t, "GET", "/api/v1/system/webhook", nil)
	var list struct {
		Data []model.Webhook `json:"data"`
	}
	decodeJSON(t, rr, &list)
	if len(list.Data) != 1 {
		t.Errorf("webhooks = %d, want 1", len(list.Data))
	}

	assertStatus(t, env.do(t, "DELETE", path, nil), http.StatusOK)
	assertStatus(t, env.do(t, "GET", path, nil), http.StatusNotFound)
	assertStatus(t, env.do(t, "POST", path+"/test", nil), http.StatusNotFound)
}

func TestWebhookValidation(t *testing.T) {
	env := newTestEnvWith(t, webhook.Options{})
	seedNotes(t, env)

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"metadata address", map[string]any{"table": "notes", "url": "http://169.254.169.254/latest", "events": []string{"created"}}, "url"},
		{"loopback", map[string]any{"table": "notes", "url": "http://127.0.0.1:8080/", "events": []string{"created"}}, "url"},
		{"localhost name", map[string]any{"table": "notes", "url": "http://localhost/", "events": []string{"created"}}, "url"},
		{"bad scheme", map[string]any{"table": "notes", "url": "ftp://93.184.216.34/", "events": []string{"created"}}, "url"},
		{"unknown table", map[string]any{"table": "ghosts", "url": "http://93.184.216.34/", "events": []string{"created"}}, "table"},
		{"bad event", map[string]any{"table": "notes", "url": "http://93.184.216.34/", "events": []string{"exploded"}}, "events[0]"},
		{"bad condition", map[string]any{"table": "notes", "url": "http://93.184.216.34/", "events": []string{"created"}, "condition": "record.body =="}, "condition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/v1/system/webhook", toJSON(t, tt.body))
			assertStatus(t, rr, http.StatusUnprocessableEntity)
			var v model.ValidationResponse
			decodeJSON(t, rr, &v)
			if len(v.Errors[tt.field]) == 0 {
				t.Errorf("errors = %v, want one on %s", v.Errors, tt.field)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Analytics
// ---------------------------------------------------------------------------

func TestAnalytics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for i, status := range []int{200, 200, 500} {
		entry := &model.AnalyticsEntry{
			TableName:  "posts",
			Method:     "GET",
			StatusCode: status,
			DurationMs: int64(10 * (i + 1)),
			ClientIP:   "10.0.0.1",
			CreatedAt:  now,
		}
		if err := env.store.RecordAnalytics(ctx, entry); err != nil {
			t.Fatalf("RecordAnalytics: %v", err)
		}
	}
	if err := env.store.RecordAnalytics(ctx, &model.AnalyticsEntry{TableName: "tags", Method: "POST", StatusCode: 201, CreatedAt: now}); err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, "GET", "/api/v1/system/analytics?table=posts&limit=2", nil)
	assertStatus(t, rr, http.StatusOK)
	var resp struct {
		Data    []model.AnalyticsEntry   `json:"data"`
		Summary []model.AnalyticsSummary `json:"summary"`
	}
	decodeJSON(t, rr, &resp)
	if len(resp.Data) != 2 {
		t.Errorf("entries = %d, want 2", len(resp.Data))
	}
	for _, e := range resp.Data {
		if e.TableName != "posts" {
			t.Errorf("entry for %s leaked through table filter", e.TableName)
		}
	}
	var posts *model.AnalyticsSummary
	for i := range resp.Summary {
		if resp.Summary[i].TableName == "posts" {
			posts = &resp.Summary[i]
		}
	}
	if posts == nil || posts.Requests != 3 || posts.Errors != 1 {
		t.Errorf("summary = %+v", resp.Summary)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

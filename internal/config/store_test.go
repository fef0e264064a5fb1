package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/faucetdb/basin/internal/fieldtype"
	"github.com/faucetdb/basin/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func productsModel() *model.ModelDefinition {
	return &model.ModelDefinition{
		Name:          "Product",
		TableName:     "products",
		HasTimestamps: true,
		APIEnabled:    true,
		IsActive:      true,
		ListRule:      "true",
		ViewRule:      "true",
		CreateRule:    "auth.id != null",
		Settings:      map[string]any{"color": "blue"},
		Fields: []model.FieldDefinition{
			{Name: "name", Type: fieldtype.String, Required: true, Searchable: true, Validation: []string{"max:100"}},
			{Name: "price", Type: fieldtype.Float, Required: true, Sortable: true},
			{Name: "status", Type: fieldtype.Enum, Options: []string{"draft", "live"}},
		},
		Relationships: []model.RelationshipDefinition{
			{Name: "reviews", Kind: model.HasMany, RelatedModel: "reviews", ForeignKey: "product_id", LocalKey: "id"},
		},
	}
}

func TestModelCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := productsModel()
	if err := s.CreateModel(ctx, m); err != nil {
		t.Fatalf("CreateModel: %v", err)
	}
	if m.ID == 0 || m.Fields[0].ID == 0 || m.Relationships[0].ID == 0 {
		t.Fatal("expected IDs to be populated after create")
	}

	got, err := s.GetModelByTable(ctx, "products")
	if err != nil {
		t.Fatalf("GetModelByTable: %v", err)
	}
	if len(got.Fields) != 3 {
		t.Fatalf("got %d fields, want 3", len(got.Fields))
	}
	if got.Fields[0].Name != "name" || got.Fields[2].Position != 3 {
		t.Errorf("fields out of order: %+v", got.Fields)
	}
	if got.Fields[2].Options[1] != "live" {
		t.Errorf("options = %v", got.Fields[2].Options)
	}
	if got.Fields[0].Validation[0] != "max:100" {
		t.Errorf("validation = %v", got.Fields[0].Validation)
	}
	if got.Settings["color"] != "blue" {
		t.Errorf("settings = %v", got.Settings)
	}
	if got.Relationships[0].ForeignKey != "product_id" {
		t.Errorf("relationship = %+v", got.Relationships[0])
	}

	got.DisplayName = "Products"
	got.ListRule = "auth.id != null"
	if err := s.UpdateModel(ctx, got); err != nil {
		t.Fatalf("UpdateModel: %v", err)
	}
	again, _ := s.GetModel(ctx, m.ID)
	if again.DisplayName != "Products" || again.ListRule != "auth.id != null" {
		t.Errorf("update not persisted: %+v", again)
	}

	list, err := s.ListModels(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListModels = %d, %v", len(list), err)
	}

	if err := s.DeleteModel(ctx, m.ID); err != nil {
		t.Fatalf("DeleteModel: %v", err)
	}
	if _, err := s.GetModel(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetModel after delete = %v, want ErrNotFound", err)
	}
	fields, _ := s.ListFields(ctx, m.ID)
	if len(fields) != 0 {
		t.Errorf("fields should cascade delete, got %d", len(fields))
	}
}

func TestDuplicateTableRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateModel(ctx, productsModel()); err != nil {
		t.Fatalf("CreateModel: %v", err)
	}
	if err := s.CreateModel(ctx, productsModel()); err == nil {
		t.Fatal("expected unique violation on duplicate table name")
	}
}

func TestFieldLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := productsModel()
	if err := s.CreateModel(ctx, m); err != nil {
		t.Fatalf("CreateModel: %v", err)
	}

	f := &model.FieldDefinition{ModelID: m.ID, Name: "sku", Type: fieldtype.String, Unique: true}
	if err := s.AddField(ctx, f); err != nil {
		t.Fatalf("AddField: %v", err)
	}
	if f.Position != 4 {
		t.Errorf("Position = %d, want 4", f.Position)
	}

	now := time.Now()
	if err := s.MarkFieldsSynced(ctx, m.ID, []string{"name", "sku"}, now); err != nil {
		t.Fatalf("MarkFieldsSynced: %v", err)
	}
	fields, _ := s.ListFields(ctx, m.ID)
	synced := map[string]bool{}
	for _, f := range fields {
		synced[f.Name] = f.SyncedAt != nil
	}
	if !synced["name"] || !synced["sku"] || synced["price"] {
		t.Errorf("synced = %v", synced)
	}

	f.Hidden = true
	if err := s.UpdateField(ctx, f); err != nil {
		t.Fatalf("UpdateField: %v", err)
	}
	if err := s.DeleteField(ctx, m.ID, "sku"); err != nil {
		t.Fatalf("DeleteField: %v", err)
	}
	if err := s.DeleteField(ctx, m.ID, "sku"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteField = %v, want ErrNotFound", err)
	}
}

func TestAPIKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner := int64(42)
	key := &model.APIKey{
		Name:       "mobile",
		OwnerID:    &owner,
		KeyPrefix:  "bsn_abcdefgh",
		LookupHash: HashAPIKey("bsn_abcdefgh123"),
		TokenHash:  "th",
		Salt:       "salt",
		Type:       model.KeyTypePublic,
		Scopes:     model.ScopeRead,
		RateLimit:  10,
		IsActive:   true,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := s.GetAPIKeyByLookupHash(ctx, HashAPIKey("bsn_abcdefgh123"))
	if err != nil {
		t.Fatalf("GetAPIKeyByLookupHash: %v", err)
	}
	if got.OwnerID == nil || *got.OwnerID != 42 {
		t.Errorf("OwnerID = %v", got.OwnerID)
	}
	if got.AllowedTables != nil {
		t.Errorf("AllowedTables = %v, want nil", got.AllowedTables)
	}

	got.AllowedTables = []string{"products"}
	got.Scopes = model.ScopeAll
	if err := s.UpdateAPIKey(ctx, got); err != nil {
		t.Fatalf("UpdateAPIKey: %v", err)
	}
	again, _ := s.GetAPIKey(ctx, key.ID)
	if len(again.AllowedTables) != 1 || again.Scopes != model.ScopeAll {
		t.Errorf("update not persisted: %+v", again)
	}

	if err := s.UpdateAPIKeyLastUsed(ctx, key.ID); err != nil {
		t.Fatalf("UpdateAPIKeyLastUsed: %v", err)
	}
	if err := s.RevokeAPIKeyByPrefix(ctx, "bsn_abcdefgh"); err != nil {
		t.Fatalf("RevokeAPIKeyByPrefix: %v", err)
	}
	revoked, _ := s.GetAPIKey(ctx, key.ID)
	if revoked.IsActive || revoked.LastUsedAt == nil {
		t.Errorf("revoked = %+v", revoked)
	}

	if _, err := s.GetAPIKeyByLookupHash(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing key = %v, want ErrNotFound", err)
	}
}

func TestWebhookDelivery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := productsModel()
	if err := s.CreateModel(ctx, m); err != nil {
		t.Fatalf("CreateModel: %v", err)
	}

	w := &model.Webhook{
		ModelID:  m.ID,
		URL:      "https://hooks.example.com/x",
		Secret:   "s3cret",
		Events:   []string{model.EventCreated},
		Headers:  map[string]string{"X-Team": "core"},
		IsActive: true,
	}
	if err := s.CreateWebhook(ctx, w); err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}

	if err := s.RecordWebhookDelivery(ctx, w.ID, false, time.Now()); err != nil {
		t.Fatalf("RecordWebhookDelivery: %v", err)
	}
	if err := s.RecordWebhookDelivery(ctx, w.ID, true, time.Now()); err != nil {
		t.Fatalf("RecordWebhookDelivery: %v", err)
	}

	active, err := s.ListActiveWebhooks(ctx, m.ID)
	if err != nil || len(active) != 1 {
		t.Fatalf("ListActiveWebhooks = %d, %v", len(active), err)
	}
	got := active[0]
	if got.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", got.FailureCount)
	}
	if got.LastTriggeredAt == nil {
		t.Error("LastTriggeredAt should be set")
	}
	if got.Headers["X-Team"] != "core" || got.Secret != "s3cret" {
		t.Errorf("webhook = %+v", got)
	}

	if err := s.DeleteModel(ctx, m.ID); err != nil {
		t.Fatalf("DeleteModel: %v", err)
	}
	if _, err := s.GetWebhook(ctx, w.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("webhook should cascade delete, got %v", err)
	}
}

func TestAnalytics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, code := range []int{200, 200, 404} {
		if err := s.RecordAnalytics(ctx, &model.AnalyticsEntry{
			TableName: "products", Method: "GET", StatusCode: code, DurationMs: 4, ClientIP: "10.0.0.1",
		}); err != nil {
			t.Fatalf("RecordAnalytics: %v", err)
		}
	}
	entries, err := s.ListAnalytics(ctx, "products", 10)
	if err != nil || len(entries) != 3 {
		t.Fatalf("ListAnalytics = %d, %v", len(entries), err)
	}
	sum, err := s.SummarizeAnalytics(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("SummarizeAnalytics: %v", err)
	}
	if len(sum) != 1 || sum[0].Requests != 3 || sum[0].Errors != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestAdminAndSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	has, _ := s.HasAnyAdmin(ctx)
	if has {
		t.Fatal("fresh store should have no admin")
	}
	a := &model.Admin{Email: "ops@example.com", PasswordHash: "x", IsActive: true}
	if err := s.CreateAdmin(ctx, a); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if err := s.UpdateAdminLastLogin(ctx, a.ID); err != nil {
		t.Fatalf("UpdateAdminLastLogin: %v", err)
	}
	got, err := s.GetAdminByEmail(ctx, "ops@example.com")
	if err != nil || got.LastLoginAt == nil {
		t.Fatalf("GetAdminByEmail = %+v, %v", got, err)
	}

	if _, err := s.GetSetting(ctx, "auth.jwt_secret"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSetting = %v, want ErrNotFound", err)
	}
	if err := s.SetSetting(ctx, "auth.jwt_secret", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting(ctx, "auth.jwt_secret", "b"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.GetSetting(ctx, "auth.jwt_secret"); v != "b" {
		t.Errorf("setting = %q, want b", v)
	}
}

func TestEnsureSecret(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.EnsureSecret(ctx, "auth.jwt_secret")
	if err != nil || !created || len(first) != 64 {
		t.Fatalf("EnsureSecret = %q, %v, %v", first, created, err)
	}
	again, created, err := s.EnsureSecret(ctx, "auth.jwt_secret")
	if err != nil || created || again != first {
		t.Errorf("second EnsureSecret = %q, %v, %v; want stored %q", again, created, err, first)
	}
	other, _, _ := s.EnsureSecret(ctx, "webhooks.signing_salt")
	if other == first {
		t.Error("distinct keys share a secret")
	}
}

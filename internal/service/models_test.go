package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/config"
	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/connector/sqlite"
	"github.com/faucetdb/basin/internal/fieldtype"
	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/schema"
)

func newTestModels(t *testing.T) (*ModelService, *config.Store, connector.Connector) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	conn := sqlite.New()
	if err := conn.Connect(connector.ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { conn.Disconnect() })

	return NewModelService(store, schema.New(conn, logger), logger), store, conn
}

func productsModel() *model.ModelDefinition {
	def := NewModel()
	def.Name = "product"
	def.TableName = "products"
	def.ListRule = "true"
	def.ViewRule = "true"
	def.Fields = []model.FieldDefinition{
		{Name: "name", Type: fieldtype.String, Required: true},
		{Name: "price", Type: fieldtype.Float, Validation: []string{"min:0"}},
		{Name: "status", Type: fieldtype.Enum, Options: []string{"draft", "live"}, DefaultValue: "draft"},
	}
	return def
}

func TestCreateSyncsAndMarksFields(t *testing.T) {
	svc, _, conn := newTestModels(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, productsModel())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !res.Created {
		t.Error("table not created")
	}
	if ok, _ := conn.TableExists(ctx, "products"); !ok {
		t.Fatal("products table missing")
	}

	def, err := svc.Get(ctx, "products")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, f := range def.Fields {
		if f.SyncedAt == nil {
			t.Errorf("field %s not marked synced", f.Name)
		}
	}

	_, err = svc.Create(ctx, productsModel())
	assertCode(t, err, apperr.CodeValidation)
}

func TestValidateDefinition(t *testing.T) {
	svc, _, _ := newTestModels(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		edit  func(*model.ModelDefinition)
		field string
	}{
		{"bad table", func(d *model.ModelDefinition) { d.TableName = "Products" }, "table_name"},
		{"bad rule", func(d *model.ModelDefinition) { d.ListRule = "auth.role == 'admin'" }, "list_rule"},
		{"reserved field", func(d *model.ModelDefinition) { d.Fields[0].Name = "created_at" }, "fields.0.name"},
		{"duplicate field", func(d *model.ModelDefinition) { d.Fields[1].Name = "name" }, "fields.1.name"},
		{"unknown type", func(d *model.ModelDefinition) { d.Fields[0].Type = "money" }, "fields.0.type"},
		{"enum without options", func(d *model.ModelDefinition) { d.Fields[2].Options = nil; d.Fields[2].DefaultValue = "" }, "fields.2.options"},
		{"unknown validation", func(d *model.ModelDefinition) { d.Fields[1].Validation = []string{"positive"} }, "fields.1.validation"},
		{"bad default", func(d *model.ModelDefinition) { d.Fields[1].DefaultValue = "cheap" }, "fields.1.default_value"},
		{"missing related", func(d *model.ModelDefinition) {
			d.Relationships = []model.RelationshipDefinition{{Name: "vendor", RelatedModel: "vendors", Kind: model.BelongsTo}}
		}, "relationships.0.related_model"},
		{"pivot required", func(d *model.ModelDefinition) {
			d.Relationships = []model.RelationshipDefinition{{Name: "tags", RelatedModel: "products", Kind: model.BelongsToMany}}
		}, "relationships.0.pivot_table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := productsModel()
			tt.edit(def)
			err := svc.Validate(ctx, def)
			e, ok := apperr.As(err)
			if !ok || e.Code != apperr.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, ok := e.Fields[tt.field]; !ok {
				t.Errorf("no error for %s: %v", tt.field, e.Fields)
			}
		})
	}

	if err := svc.Validate(ctx, productsModel()); err != nil {
		t.Errorf("valid definition rejected: %v", err)
	}
}

func TestFieldLifecycle(t *testing.T) {
	svc, _, conn := newTestModels(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, productsModel()); err != nil {
		t.Fatal(err)
	}

	res, err := svc.AddField(ctx, "products", &model.FieldDefinition{Name: "sku", Type: fieldtype.String, Unique: true})
	if err != nil {
		t.Fatalf("AddField: %v", err)
	}
	if len(res.ColumnsAdded) != 1 || res.ColumnsAdded[0] != "sku" {
		t.Errorf("ColumnsAdded = %v", res.ColumnsAdded)
	}
	cols, _ := conn.LiveColumns(ctx, "products")
	found := false
	for _, c := range cols {
		found = found || c.Name == "sku"
	}
	if !found {
		t.Error("sku column not added")
	}

	_, err = svc.UpdateField(ctx, "products", "sku", &model.FieldDefinition{Name: "code", Type: fieldtype.String})
	assertCode(t, err, apperr.CodeValidation)
	_, err = svc.UpdateField(ctx, "products", "sku", &model.FieldDefinition{Name: "sku", Type: fieldtype.Integer})
	assertCode(t, err, apperr.CodeValidation)

	f, err := svc.UpdateField(ctx, "products", "sku", &model.FieldDefinition{Name: "sku", Type: fieldtype.String, Searchable: true})
	if err != nil {
		t.Fatalf("UpdateField: %v", err)
	}
	if !f.Searchable || f.SyncedAt == nil {
		t.Errorf("updated field = %+v", f)
	}

	if err := svc.DeleteField(ctx, "products", "sku"); err != nil {
		t.Fatalf("DeleteField: %v", err)
	}
	report, err := svc.Drift(ctx, "products")
	if err != nil {
		t.Fatal(err)
	}
	if report.UnmanagedCount != 1 {
		t.Errorf("UnmanagedCount = %d, want 1 (the kept sku column)", report.UnmanagedCount)
	}
}

func TestDeleteDropsTable(t *testing.T) {
	svc, store, conn := newTestModels(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, productsModel()); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, "products"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := conn.TableExists(ctx, "products"); ok {
		t.Error("table still exists")
	}
	if _, err := store.GetModelByTable(ctx, "products"); err != config.ErrNotFound {
		t.Errorf("definition still present: %v", err)
	}
	err := svc.Delete(ctx, "products")
	assertCode(t, err, apperr.CodeNotFound)
}

func TestApplyUpsertsAndLinks(t *testing.T) {
	svc, _, _ := newTestModels(t)
	ctx := context.Background()

	authors := NewModel()
	authors.Name, authors.TableName = "author", "authors"
	authors.Fields = []model.FieldDefinition{{Name: "name", Type: fieldtype.String}}
	authors.Relationships = []model.RelationshipDefinition{
		{Name: "books", RelatedModel: "books", Kind: model.HasMany, ForeignKey: "author_id"},
	}
	books := NewModel()
	books.Name, books.TableName = "book", "books"
	books.Fields = []model.FieldDefinition{
		{Name: "title", Type: fieldtype.String},
		{Name: "author_id", Type: fieldtype.Integer, Indexed: true},
	}

	results, err := svc.Apply(ctx, []model.ModelDefinition{*authors, *books})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !results[0].Created || !results[1].Created {
		t.Errorf("results = %+v", results)
	}
	if len(results[0].RelationsDone) != 1 {
		t.Errorf("relationships added = %v", results[0].RelationsDone)
	}

	// Second apply adds a field and is otherwise a no-op.
	books.Fields = append(books.Fields, model.FieldDefinition{Name: "isbn", Type: fieldtype.String})
	books.HasSoftDeletes = true
	results, err = svc.Apply(ctx, []model.ModelDefinition{*authors, *books})
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if results[1].Created || len(results[1].FieldsAdded) != 1 || results[1].FieldsAdded[0] != "isbn" {
		t.Errorf("second apply = %+v", results[1])
	}
	if len(results[0].RelationsDone) != 0 {
		t.Errorf("relationship re-added: %v", results[0].RelationsDone)
	}
	def, _ := svc.Get(ctx, "books")
	if !def.HasSoftDeletes {
		t.Error("model attributes not updated")
	}
}

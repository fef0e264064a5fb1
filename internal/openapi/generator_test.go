package openapi

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/faucetdb/basin/internal/fieldtype"
	"github.com/faucetdb/basin/internal/model"
)

func testModels() []model.ModelDefinition {
	return []model.ModelDefinition{
		{
			Name: "product", TableName: "products", IsActive: true, APIEnabled: true, HasTimestamps: true,
			Fields: []model.FieldDefinition{
				{Name: "name", Type: fieldtype.String, Required: true, Filterable: true},
				{Name: "price", Type: fieldtype.Float},
				{Name: "status", Type: fieldtype.Enum, Options: []string{"draft", "live"}, Required: true, DefaultValue: "draft"},
				{Name: "secret_code", Type: fieldtype.String, Hidden: true, Filterable: true},
				{Name: "released_on", Type: fieldtype.Date},
			},
			Relationships: []model.RelationshipDefinition{{Name: "reviews", RelatedModel: "reviews", Kind: model.HasMany}},
		},
		{Name: "draft", TableName: "drafts", IsActive: true, APIEnabled: false},
		{Name: "old", TableName: "old_things", IsActive: false, APIEnabled: true},
	}
}

func TestGenerateSkipsUnservedModels(t *testing.T) {
	doc := Generate(testModels(), "", "", "http://localhost:8080")

	if doc.OpenAPI != "3.1.0" || doc.Info.Title != "Basin API" {
		t.Errorf("header = %s %q", doc.OpenAPI, doc.Info.Title)
	}
	for _, p := range []string{"/data/products", "/data/products/{id}", "/data/products/schema"} {
		if doc.Paths.Value(p) == nil {
			t.Errorf("missing path %s", p)
		}
	}
	for _, p := range []string{"/data/drafts", "/data/old_things"} {
		if doc.Paths.Value(p) != nil {
			t.Errorf("unexpected path %s", p)
		}
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://localhost:8080" {
		t.Errorf("servers = %v", doc.Servers)
	}
}

func TestRecordSchema(t *testing.T) {
	doc := Generate(testModels(), "", "", "")
	rec := doc.Components.Schemas["Products"].Value

	if _, ok := rec.Properties["secret_code"]; ok {
		t.Error("hidden field exposed in record schema")
	}
	for _, name := range []string{"id", "name", "price", "created_at", "updated_at", "reviews"} {
		if _, ok := rec.Properties[name]; !ok {
			t.Errorf("record schema missing %s", name)
		}
	}
	if !rec.Properties["id"].Value.ReadOnly {
		t.Error("id should be read-only")
	}
	if got := rec.Properties["released_on"].Value.Format; got != "date" {
		t.Errorf("date format = %q", got)
	}
	if got := rec.Properties["reviews"].Value.Type.Slice(); !slices.Equal(got, []string{"array"}) {
		t.Errorf("hasMany include type = %v", got)
	}
	if enum := rec.Properties["status"].Value.Enum; len(enum) != 2 {
		t.Errorf("enum = %v", enum)
	}
}

func TestInputSchemaRequired(t *testing.T) {
	doc := Generate(testModels(), "", "", "")
	create := doc.Components.Schemas["ProductsInput"].Value
	if !slices.Equal(create.Required, []string{"name"}) {
		t.Errorf("required = %v, want [name] (status has a default)", create.Required)
	}
	if update := doc.Components.Schemas["ProductsUpdate"].Value; len(update.Required) != 0 {
		t.Errorf("update required = %v", update.Required)
	}
}

func TestListParameters(t *testing.T) {
	doc := Generate(testModels(), "", "", "")
	op := doc.Paths.Value("/data/products").Get
	var names []string
	for _, p := range op.Parameters {
		names = append(names, p.Value.Name)
	}
	for _, want := range []string{"page", "per_page", "sort", "search", "include", "filter_name"} {
		if !slices.Contains(names, want) {
			t.Errorf("missing parameter %s in %v", want, names)
		}
	}
	if slices.Contains(names, "filter_secret_code") {
		t.Error("hidden field offered as a filter")
	}
	if op.Responses.Value("422") == nil || op.Responses.Value("429") == nil {
		t.Error("missing 422 or 429 responses")
	}
}

func TestGenerateMarshals(t *testing.T) {
	doc := Generate(testModels(), "Shop", "2.0.0", "")
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	info := out["info"].(map[string]any)
	if info["title"] != "Shop" || info["version"] != "2.0.0" {
		t.Errorf("info = %v", info)
	}
}

func TestSchemaName(t *testing.T) {
	tests := map[string]string{
		"products":    "Products",
		"order_items": "OrderItems",
		"a_b_c":       "ABC",
	}
	for in, want := range tests {
		if got := schemaName(in); got != want {
			t.Errorf("schemaName(%q) = %q, want %q", in, got, want)
		}
	}
}

package schema

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/connector/sqlite"
	"github.com/faucetdb/basin/internal/fieldtype"
	"github.com/faucetdb/basin/internal/model"
)

func newTestSync(t *testing.T) (*Synchronizer, connector.Connector) {
	t.Helper()
	conn := sqlite.New()
	if err := conn.Connect(connector.ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { conn.Disconnect() })
	return New(conn, slog.New(slog.NewTextHandler(io.Discard, nil))), conn
}

func productsDef() *model.ModelDefinition {
	return &model.ModelDefinition{
		Name:          "Product",
		TableName:     "products",
		HasTimestamps: true,
		Fields: []model.FieldDefinition{
			{Name: "name", Type: fieldtype.String, Required: true},
			{Name: "sku", Type: fieldtype.String, Unique: true},
			{Name: "price", Type: fieldtype.Decimal, Indexed: true},
			{Name: "in_stock", Type: fieldtype.Boolean},
		},
	}
}

func liveNames(t *testing.T, conn connector.Connector, table string) []string {
	t.Helper()
	cols, err := conn.LiveColumns(context.Background(), table)
	if err != nil {
		t.Fatalf("LiveColumns: %v", err)
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func TestSyncCreatesTable(t *testing.T) {
	s, conn := newTestSync(t)
	ctx := context.Background()

	res, err := s.Sync(ctx, productsDef())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !res.Created {
		t.Error("expected Created")
	}
	want := []string{"id", "name", "sku", "price", "in_stock", "created_at", "updated_at"}
	if got := liveNames(t, conn, "products"); !slices.Equal(got, want) {
		t.Errorf("columns = %v, want %v", got, want)
	}

	// Boolean fields default to false without an explicit default.
	if _, err := conn.DB().ExecContext(ctx, `INSERT INTO products (name) VALUES ('bolt')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var inStock bool
	if err := conn.DB().GetContext(ctx, &inStock, `SELECT in_stock FROM products`); err != nil {
		t.Fatalf("select: %v", err)
	}
	if inStock {
		t.Error("in_stock should default to false")
	}

	// Unique index is enforced.
	conn.DB().ExecContext(ctx, `UPDATE products SET sku = 'A1'`)
	if _, err := conn.DB().ExecContext(ctx, `INSERT INTO products (name, sku) VALUES ('nut', 'A1')`); err == nil {
		t.Error("expected unique violation on sku")
	}
}

func TestSyncIsAdditiveAndIdempotent(t *testing.T) {
	s, conn := newTestSync(t)
	ctx := context.Background()
	def := productsDef()

	if _, err := s.Sync(ctx, def); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	res, err := s.Sync(ctx, def)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if res.Created || len(res.ColumnsAdded) != 0 || len(res.Errors) != 0 {
		t.Errorf("second Sync changed something: %+v", res)
	}

	// A required field added later is still added as nullable.
	def.Fields = append(def.Fields, model.FieldDefinition{Name: "weight", Type: fieldtype.Float, Required: true})
	def.HasSoftDeletes = true
	res, err = s.Sync(ctx, def)
	if err != nil {
		t.Fatalf("third Sync: %v", err)
	}
	if !slices.Equal(res.ColumnsAdded, []string{"weight", "deleted_at"}) {
		t.Errorf("ColumnsAdded = %v", res.ColumnsAdded)
	}
	if _, err := conn.DB().ExecContext(ctx, `INSERT INTO products (name) VALUES ('washer')`); err != nil {
		t.Errorf("insert without weight should succeed: %v", err)
	}

	// Removing a field never drops its column.
	def.Fields = def.Fields[:1]
	if _, err := s.Sync(ctx, def); err != nil {
		t.Fatalf("fourth Sync: %v", err)
	}
	if got := liveNames(t, conn, "products"); !slices.Contains(got, "weight") {
		t.Errorf("weight column was dropped: %v", got)
	}
}

func TestSyncRejectsInvalidIdentifiers(t *testing.T) {
	s, _ := newTestSync(t)
	tests := []struct {
		name string
		def  *model.ModelDefinition
	}{
		{"table", &model.ModelDefinition{TableName: "Bad-Name"}},
		{"field", &model.ModelDefinition{TableName: "ok", Fields: []model.FieldDefinition{{Name: "select", Type: fieldtype.String}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Sync(context.Background(), tt.def)
			if !apperr.IsKind(err, apperr.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDropAndDrift(t *testing.T) {
	s, conn := newTestSync(t)
	ctx := context.Background()
	def := productsDef()

	report, err := s.Drift(ctx, def)
	if err != nil {
		t.Fatalf("Drift: %v", err)
	}
	if !report.TableMissing || !report.HasDrift {
		t.Errorf("expected missing table drift, got %+v", report)
	}

	if _, err := s.Sync(ctx, def); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	conn.DB().ExecContext(ctx, `ALTER TABLE products ADD COLUMN legacy TEXT`)
	def.Fields = append(def.Fields, model.FieldDefinition{Name: "color", Type: fieldtype.String})

	report, err = s.Drift(ctx, def)
	if err != nil {
		t.Fatalf("Drift: %v", err)
	}
	if report.MissingCount != 1 || report.UnmanagedCount != 1 {
		t.Fatalf("report = %+v", report)
	}
	for _, item := range report.Items {
		switch item.Category {
		case "column_missing":
			if item.ColumnName != "color" || item.Type != DriftAdditive {
				t.Errorf("unexpected missing item %+v", item)
			}
		case "column_unmanaged":
			if item.ColumnName != "legacy" || item.Type != DriftUnmanaged {
				t.Errorf("unexpected unmanaged item %+v", item)
			}
		}
	}

	if err := s.Drop(ctx, def); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	exists, _ := conn.TableExists(ctx, "products")
	if exists {
		t.Error("table still exists after Drop")
	}
	// Dropping again is not an error.
	if err := s.Drop(ctx, def); err != nil {
		t.Errorf("second Drop: %v", err)
	}
}

func TestConcurrentSync(t *testing.T) {
	s, _ := newTestSync(t)
	var wg sync.WaitGroup
	created := make(chan bool, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Sync(context.Background(), productsDef())
			if err != nil {
				t.Errorf("Sync: %v", err)
				return
			}
			created <- res.Created
		}()
	}
	wg.Wait()
	close(created)
	n := 0
	for c := range created {
		if c {
			n++
		}
	}
	if n != 1 {
		t.Errorf("table created %d times, want 1", n)
	}
}

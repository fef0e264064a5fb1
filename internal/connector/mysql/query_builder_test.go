package mysql

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/fieldtype"
)

// newTestConnector creates a MySQLConnector with no database connection,
// suitable for testing query building methods.
func newTestConnector() *MySQLConnector {
	return &MySQLConnector{schemaName: "testdb"}
}

func TestBuildSelect(t *testing.T) {
	c := newTestConnector()
	sql, args, err := c.BuildSelect(context.Background(), connector.SelectRequest{
		Table:      "posts",
		Fields:     []string{"id", "title"},
		Filter:     "`published` = ?",
		FilterArgs: []any{true},
		Order:      "`id` DESC",
		Limit:      10,
		Offset:     20,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT `id`, `title` FROM `posts` WHERE `published` = ? ORDER BY `id` DESC LIMIT ? OFFSET ?"
	if sql != want {
		t.Errorf("SQL mismatch\n  got:  %s\n  want: %s", sql, want)
	}
	if !reflect.DeepEqual(args, []any{true, 10, 20}) {
		t.Errorf("args = %v", args)
	}
}

// TestBuildInsertNoReturning verifies that MySQL INSERT does NOT include
// RETURNING (unlike PostgreSQL).
func TestBuildInsertNoReturning(t *testing.T) {
	c := newTestConnector()
	ctx := context.Background()

	sql, _, err := c.BuildInsert(ctx, connector.InsertRequest{
		Table:  "users",
		Record: map[string]any{"name": "test"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(sql, "RETURNING") {
		t.Errorf("MySQL INSERT should not contain RETURNING, got: %s", sql)
	}
	if sql != "INSERT INTO `users` (`name`) VALUES (?)" {
		t.Errorf("insert = %s", sql)
	}

	sql, _, _ = c.BuildInsert(ctx, connector.InsertRequest{Table: "users"})
	if sql != "INSERT INTO `users` () VALUES ()" {
		t.Errorf("empty insert = %s", sql)
	}
}

func TestBuildUpdate(t *testing.T) {
	c := newTestConnector()
	sql, args, err := c.BuildUpdate(context.Background(), connector.UpdateRequest{
		Table: "users", Record: map[string]any{"b": 2, "a": 1}, ID: int64(4),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sql != "UPDATE `users` SET `a` = ?, `b` = ? WHERE `id` = ?" {
		t.Errorf("update = %s", sql)
	}
	if !reflect.DeepEqual(args, []any{1, 2, int64(4)}) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildCreateTable(t *testing.T) {
	c := newTestConnector()
	def := "'{}'"
	stmts, err := c.BuildCreateTable(connector.TableDef{
		Name: "docs",
		Columns: []connector.ColumnDef{
			{Name: "slug", Kind: fieldtype.KindString, Unique: true},
			{Name: "body", Kind: fieldtype.KindText, Nullable: true, Indexed: true},
			{Name: "meta", Kind: fieldtype.KindJSON, Nullable: true, Default: &def},
			{Name: "ref", Kind: fieldtype.KindUUID, Nullable: true},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"`id` BIGINT AUTO_INCREMENT PRIMARY KEY",
		"`slug` VARCHAR(255) NOT NULL",
		"`body` LONGTEXT",
		"`ref` CHAR(36)",
	} {
		if !strings.Contains(stmts[0], want) {
			t.Errorf("CREATE TABLE missing %q:\n%s", want, stmts[0])
		}
	}
	if strings.Contains(stmts[0], "DEFAULT '{}'") {
		t.Error("JSON columns must not carry a literal default")
	}
	if stmts[2] != "CREATE INDEX `docs_body_index` ON `docs` (`body`(191))" {
		t.Errorf("text index = %s", stmts[2])
	}
}

func TestMySQLDialect(t *testing.T) {
	c := newTestConnector()

	if got := c.QuoteIdentifier("my`table"); got != "`my``table`" {
		t.Errorf("QuoteIdentifier = %s", got)
	}
	for _, idx := range []int{1, 2, 100} {
		if got := c.ParameterPlaceholder(idx); got != "?" {
			t.Errorf("ParameterPlaceholder(%d) = %s, want ?", idx, got)
		}
	}
	if c.SupportsReturning() || c.SupportsTransactionalDDL() {
		t.Error("MySQL supports neither RETURNING nor transactional DDL")
	}
	if c.ColumnType(fieldtype.KindBoolean) != "TINYINT(1)" {
		t.Errorf("boolean type = %s", c.ColumnType(fieldtype.KindBoolean))
	}
	if c.DriverName() != "mysql" {
		t.Errorf("DriverName = %s", c.DriverName())
	}
}

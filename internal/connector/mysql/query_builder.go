package mysql

import (
	"context"
	"fmt"
	"strings"

	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/fieldtype"
)

// BuildSelect constructs a SELECT query from the given request.
// MySQL uses backtick quoting and ? placeholders.
func (c *MySQLConnector) BuildSelect(_ context.Context, req connector.SelectRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}

	var b strings.Builder
	args := append([]any(nil), req.FilterArgs...)

	b.WriteString("SELECT ")
	if len(req.Fields) > 0 {
		quoted := make([]string, len(req.Fields))
		for i, f := range req.Fields {
			quoted[i] = c.QuoteIdentifier(f)
		}
		b.WriteString(strings.Join(quoted, ", "))
	} else {
		b.WriteString("*")
	}

	b.WriteString(" FROM ")
	b.WriteString(c.QualifiedTable(req.Table))

	if req.Filter != "" {
		b.WriteString(" WHERE ")
		b.WriteString(req.Filter)
	}
	if req.Order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(req.Order)
	}
	if req.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, req.Limit)
	}
	if req.Offset > 0 {
		if req.Limit <= 0 {
			// MySQL has no OFFSET without LIMIT.
			b.WriteString(" LIMIT 18446744073709551615")
		}
		b.WriteString(" OFFSET ?")
		args = append(args, req.Offset)
	}

	return b.String(), args, nil
}

// BuildInsert constructs a single-row INSERT. MySQL has no RETURNING; the
// caller reads LastInsertId and selects the row.
func (c *MySQLConnector) BuildInsert(_ context.Context, req connector.InsertRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	if len(req.Record) == 0 {
		return "INSERT INTO " + c.QualifiedTable(req.Table) + " () VALUES ()", nil, nil
	}

	columns := connector.SortedColumns(req.Record)
	args := make([]any, 0, len(columns))
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = c.QuoteIdentifier(col)
		placeholders[i] = "?"
		args = append(args, req.Record[col])
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		c.QualifiedTable(req.Table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	return stmt, args, nil
}

// BuildUpdate constructs an UPDATE of one row by primary key.
func (c *MySQLConnector) BuildUpdate(_ context.Context, req connector.UpdateRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	if len(req.Record) == 0 {
		return "", nil, fmt.Errorf("at least one field to update is required")
	}
	if req.ID == nil {
		return "", nil, fmt.Errorf("id required for update (refusing to update all rows)")
	}

	columns := connector.SortedColumns(req.Record)
	args := make([]any, 0, len(columns)+1)
	sets := make([]string, len(columns))
	for i, col := range columns {
		sets[i] = c.QuoteIdentifier(col) + " = ?"
		args = append(args, req.Record[col])
	}
	args = append(args, req.ID)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		c.QualifiedTable(req.Table), strings.Join(sets, ", "), c.QuoteIdentifier("id"))
	return stmt, args, nil
}

// BuildDelete constructs a DELETE of one row by primary key.
func (c *MySQLConnector) BuildDelete(_ context.Context, req connector.DeleteRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	if req.ID == nil {
		return "", nil, fmt.Errorf("id required for delete (refusing to delete all rows)")
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", c.QualifiedTable(req.Table), c.QuoteIdentifier("id"))
	return stmt, []any{req.ID}, nil
}

// BuildCount constructs a SELECT COUNT(*) query with optional filtering.
func (c *MySQLConnector) BuildCount(_ context.Context, req connector.CountRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	stmt := "SELECT COUNT(*) FROM " + c.QualifiedTable(req.Table)
	if req.Filter != "" {
		stmt += " WHERE " + req.Filter
	}
	return stmt, req.FilterArgs, nil
}

// BuildCreateTable returns the CREATE TABLE statement followed by one
// CREATE INDEX per unique or indexed column.
func (c *MySQLConnector) BuildCreateTable(def connector.TableDef) ([]string, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("table name is required")
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(c.QualifiedTable(def.Name))
	b.WriteString(" (\n  ")
	b.WriteString(c.QuoteIdentifier("id"))
	b.WriteString(" BIGINT AUTO_INCREMENT PRIMARY KEY")
	for _, col := range def.Columns {
		b.WriteString(",\n  ")
		b.WriteString(c.columnSQL(col))
	}
	b.WriteString("\n) DEFAULT CHARSET=utf8mb4")

	stmts := []string{b.String()}
	for _, col := range def.Columns {
		stmts = append(stmts, c.indexSQL(def.Name, col)...)
	}
	return stmts, nil
}

// BuildAddColumn returns ALTER TABLE ADD COLUMN plus any index statements.
func (c *MySQLConnector) BuildAddColumn(table string, col connector.ColumnDef) ([]string, error) {
	if table == "" || col.Name == "" {
		return nil, fmt.Errorf("table and column name are required")
	}
	stmts := []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", c.QualifiedTable(table), c.columnSQL(col))}
	return append(stmts, c.indexSQL(table, col)...), nil
}

// BuildDropTable returns a DROP TABLE IF EXISTS statement.
func (c *MySQLConnector) BuildDropTable(table string) string {
	return "DROP TABLE IF EXISTS " + c.QualifiedTable(table)
}

func (c *MySQLConnector) columnSQL(col connector.ColumnDef) string {
	s := c.QuoteIdentifier(col.Name) + " " + c.ColumnType(col.Kind)
	if !col.Nullable {
		s += " NOT NULL"
	}
	// LONGTEXT and JSON columns cannot carry a literal DEFAULT.
	if col.Default != nil && col.Kind != fieldtype.KindText && col.Kind != fieldtype.KindJSON {
		s += " DEFAULT " + *col.Default
	}
	return s
}

func (c *MySQLConnector) indexSQL(table string, col connector.ColumnDef) []string {
	// LONGTEXT needs a prefix length to be indexed.
	target := c.QuoteIdentifier(col.Name)
	if c.ColumnType(col.Kind) == "LONGTEXT" {
		target += "(191)"
	}
	switch {
	case col.Unique:
		return []string{fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
			c.QuoteIdentifier(connector.IndexName(table, col.Name, true)), c.QualifiedTable(table), target)}
	case col.Indexed:
		return []string{fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
			c.QuoteIdentifier(connector.IndexName(table, col.Name, false)), c.QualifiedTable(table), target)}
	}
	return nil
}

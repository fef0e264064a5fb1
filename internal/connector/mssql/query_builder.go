package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/fieldtype"
)

// BuildSelect constructs a SELECT query from the given request using
// OFFSET/FETCH NEXT pagination. Filter placeholders occupy @p1..@pn.
func (c *MSSQLConnector) BuildSelect(_ context.Context, req connector.SelectRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}

	var b strings.Builder
	args := append([]any(nil), req.FilterArgs...)
	paramIdx := len(args) + 1

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

	// SQL Server requires ORDER BY for OFFSET/FETCH NEXT.
	if req.Order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(req.Order)
	} else if req.Offset > 0 || req.Limit > 0 {
		b.WriteString(" ORDER BY (SELECT NULL)")
	}

	if req.Offset > 0 || req.Limit > 0 {
		fmt.Fprintf(&b, " OFFSET @p%d ROWS", paramIdx)
		args = append(args, req.Offset)
		paramIdx++

		if req.Limit > 0 {
			fmt.Fprintf(&b, " FETCH NEXT @p%d ROWS ONLY", paramIdx)
			args = append(args, req.Limit)
		}
	}

	return b.String(), args, nil
}

// BuildInsert constructs a single-row INSERT with OUTPUT INSERTED.*.
func (c *MSSQLConnector) BuildInsert(_ context.Context, req connector.InsertRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	if len(req.Record) == 0 {
		return "INSERT INTO " + c.QualifiedTable(req.Table) + " OUTPUT INSERTED.* DEFAULT VALUES", nil, nil
	}

	columns := connector.SortedColumns(req.Record)
	args := make([]any, 0, len(columns))
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = c.QuoteIdentifier(col)
		placeholders[i] = fmt.Sprintf("@p%d", i+1)
		args = append(args, req.Record[col])
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) OUTPUT INSERTED.* VALUES (%s)",
		c.QualifiedTable(req.Table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	return stmt, args, nil
}

// BuildUpdate constructs an UPDATE of one row by primary key.
func (c *MSSQLConnector) BuildUpdate(_ context.Context, req connector.UpdateRequest) (string, []any, error) {
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
		sets[i] = fmt.Sprintf("%s = @p%d", c.QuoteIdentifier(col), i+1)
		args = append(args, req.Record[col])
	}
	args = append(args, req.ID)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = @p%d",
		c.QualifiedTable(req.Table), strings.Join(sets, ", "), c.QuoteIdentifier("id"), len(args))
	return stmt, args, nil
}

// BuildDelete constructs a DELETE of one row by primary key.
func (c *MSSQLConnector) BuildDelete(_ context.Context, req connector.DeleteRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	if req.ID == nil {
		return "", nil, fmt.Errorf("id required for delete (refusing to delete all rows)")
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = @p1", c.QualifiedTable(req.Table), c.QuoteIdentifier("id"))
	return stmt, []any{req.ID}, nil
}

// BuildCount constructs a SELECT COUNT(*) query with optional filtering.
func (c *MSSQLConnector) BuildCount(_ context.Context, req connector.CountRequest) (string, []any, error) {
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
func (c *MSSQLConnector) BuildCreateTable(def connector.TableDef) ([]string, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("table name is required")
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(c.QualifiedTable(def.Name))
	b.WriteString(" (\n  ")
	b.WriteString(c.QuoteIdentifier("id"))
	b.WriteString(" BIGINT IDENTITY(1,1) PRIMARY KEY")
	for _, col := range def.Columns {
		b.WriteString(",\n  ")
		b.WriteString(c.columnSQL(col))
	}
	b.WriteString("\n)")

	stmts := []string{b.String()}
	for _, col := range def.Columns {
		stmts = append(stmts, c.indexSQL(def.Name, col)...)
	}
	return stmts, nil
}

// BuildAddColumn returns ALTER TABLE ADD plus any index statements.
func (c *MSSQLConnector) BuildAddColumn(table string, col connector.ColumnDef) ([]string, error) {
	if table == "" || col.Name == "" {
		return nil, fmt.Errorf("table and column name are required")
	}
	stmts := []string{fmt.Sprintf("ALTER TABLE %s ADD %s", c.QualifiedTable(table), c.columnSQL(col))}
	return append(stmts, c.indexSQL(table, col)...), nil
}

// BuildDropTable returns a DROP TABLE IF EXISTS statement (SQL Server 2016+).
func (c *MSSQLConnector) BuildDropTable(table string) string {
	return "DROP TABLE IF EXISTS " + c.QualifiedTable(table)
}

func (c *MSSQLConnector) columnSQL(col connector.ColumnDef) string {
	s := c.QuoteIdentifier(col.Name) + " " + c.ColumnType(col.Kind)
	if col.Nullable {
		s += " NULL"
	} else {
		s += " NOT NULL"
	}
	if col.Default != nil {
		s += " DEFAULT " + *col.Default
	}
	return s
}

// indexSQL filters unique indexes to non-NULL rows: SQL Server otherwise
// treats NULLs as equal and allows only one.
func (c *MSSQLConnector) indexSQL(table string, col connector.ColumnDef) []string {
	if col.Kind == fieldtype.KindText || col.Kind == fieldtype.KindJSON {
		// NVARCHAR(MAX) columns cannot be index keys.
		return nil
	}
	switch {
	case col.Unique:
		stmt := fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
			c.QuoteIdentifier(connector.IndexName(table, col.Name, true)), c.QualifiedTable(table), c.QuoteIdentifier(col.Name))
		if col.Nullable {
			stmt += " WHERE " + c.QuoteIdentifier(col.Name) + " IS NOT NULL"
		}
		return []string{stmt}
	case col.Indexed:
		return []string{fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
			c.QuoteIdentifier(connector.IndexName(table, col.Name, false)), c.QualifiedTable(table), c.QuoteIdentifier(col.Name))}
	}
	return nil
}

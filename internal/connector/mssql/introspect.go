package mssql

import (
	"context"
	"fmt"

	"github.com/faucetdb/basin/internal/model"
)

// columnRow holds the result of querying INFORMATION_SCHEMA.COLUMNS.
type columnRow struct {
	ColumnName string `db:"COLUMN_NAME"`
	DataType   string `db:"DATA_TYPE"`
	IsNullable string `db:"IS_NULLABLE"`
	Position   int    `db:"ORDINAL_POSITION"`
	IsPK       int    `db:"IS_PK"`
}

// TableExists reports whether the table exists in the configured schema.
func (c *MSSQLConnector) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := c.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2`, c.schemaName, table)
	if err != nil {
		return false, fmt.Errorf("check table %q: %w", table, err)
	}
	return n > 0, nil
}

// LiveColumns returns the physical columns of a table in ordinal order.
func (c *MSSQLConnector) LiveColumns(ctx context.Context, table string) ([]model.Column, error) {
	const query = `SELECT
			c.COLUMN_NAME,
			c.DATA_TYPE,
			c.IS_NULLABLE,
			c.ORDINAL_POSITION,
			CASE WHEN EXISTS (
				SELECT 1 FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
				JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
					ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
					AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
				WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
					AND tc.TABLE_SCHEMA = c.TABLE_SCHEMA
					AND tc.TABLE_NAME = c.TABLE_NAME
					AND kcu.COLUMN_NAME = c.COLUMN_NAME
			) THEN 1 ELSE 0 END AS IS_PK
		FROM INFORMATION_SCHEMA.COLUMNS c
		WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
		ORDER BY c.ORDINAL_POSITION`

	var rows []columnRow
	if err := c.db.SelectContext(ctx, &rows, query, c.schemaName, table); err != nil {
		return nil, fmt.Errorf("columns for %q: %w", table, err)
	}

	cols := make([]model.Column, 0, len(rows))
	for _, r := range rows {
		cols = append(cols, model.Column{
			Name:         r.ColumnName,
			Position:     r.Position,
			Type:         r.DataType,
			Nullable:     r.IsNullable == "YES",
			IsPrimaryKey: r.IsPK == 1,
		})
	}
	return cols, nil
}

// GetTableNames returns the base tables in the configured schema.
func (c *MSSQLConnector) GetTableNames(ctx context.Context) ([]string, error) {
	var names []string
	err := c.db.SelectContext(ctx, &names, `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1 AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`, c.schemaName)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

package mysql

import (
	"context"
	"fmt"

	"github.com/faucetdb/basin/internal/model"
)

// columnRow holds the result of querying information_schema.columns.
type columnRow struct {
	ColumnName string `db:"COLUMN_NAME"`
	ColumnType string `db:"COLUMN_TYPE"`
	IsNullable string `db:"IS_NULLABLE"`
	Position   int    `db:"ORDINAL_POSITION"`
	ColumnKey  string `db:"COLUMN_KEY"`
}

// TableExists reports whether the table exists in the current database.
func (c *MySQLConnector) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := c.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`, c.schemaName, table)
	if err != nil {
		return false, fmt.Errorf("check table %q: %w", table, err)
	}
	return n > 0, nil
}

// LiveColumns returns the physical columns of a table in ordinal order.
func (c *MySQLConnector) LiveColumns(ctx context.Context, table string) ([]model.Column, error) {
	const query = `SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, ORDINAL_POSITION, COLUMN_KEY
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`

	var rows []columnRow
	if err := c.db.SelectContext(ctx, &rows, query, c.schemaName, table); err != nil {
		return nil, fmt.Errorf("columns for %q: %w", table, err)
	}

	cols := make([]model.Column, 0, len(rows))
	for _, r := range rows {
		cols = append(cols, model.Column{
			Name:         r.ColumnName,
			Position:     r.Position,
			Type:         r.ColumnType,
			Nullable:     r.IsNullable == "YES",
			IsPrimaryKey: r.ColumnKey == "PRI",
		})
	}
	return cols, nil
}

// GetTableNames returns the base tables in the current database.
func (c *MySQLConnector) GetTableNames(ctx context.Context) ([]string, error) {
	var names []string
	err := c.db.SelectContext(ctx, &names, `SELECT TABLE_NAME FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`, c.schemaName)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

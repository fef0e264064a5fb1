package postgres

import (
	"context"
	"fmt"

	"github.com/faucetdb/basin/internal/model"
)

// columnRow holds the result of querying information_schema.columns.
type columnRow struct {
	ColumnName string `db:"column_name"`
	DataType   string `db:"data_type"`
	IsNullable string `db:"is_nullable"`
	Position   int    `db:"ordinal_position"`
	IsPK       bool   `db:"is_pk"`
}

// TableExists reports whether the table exists in the configured schema.
func (c *PostgresConnector) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := c.db.GetContext(ctx, &exists, `SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`, c.schemaName, table)
	if err != nil {
		return false, fmt.Errorf("check table %q: %w", table, err)
	}
	return exists, nil
}

// LiveColumns returns the physical columns of a table in ordinal order.
func (c *PostgresConnector) LiveColumns(ctx context.Context, table string) ([]model.Column, error) {
	const query = `SELECT
			c.column_name,
			c.data_type,
			c.is_nullable,
			c.ordinal_position,
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND kcu.column_name = c.column_name
			) AS is_pk
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

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
			IsPrimaryKey: r.IsPK,
		})
	}
	return cols, nil
}

// GetTableNames returns the base tables in the configured schema.
func (c *PostgresConnector) GetTableNames(ctx context.Context) ([]string, error) {
	var names []string
	err := c.db.SelectContext(ctx, &names, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, c.schemaName)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

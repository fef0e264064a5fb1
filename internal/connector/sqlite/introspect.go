package sqlite

import (
	"context"
	"fmt"

	"github.com/faucetdb/basin/internal/model"
)

// tableInfoRow holds a row from PRAGMA table_info().
type tableInfoRow struct {
	CID     int     `db:"cid"`
	Name    string  `db:"name"`
	Type    string  `db:"type"`
	NotNull int     `db:"notnull"`
	Default *string `db:"dflt_value"`
	PK      int     `db:"pk"`
}

// TableExists reports whether a table with the given name exists.
func (c *SQLiteConnector) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := c.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	if err != nil {
		return false, fmt.Errorf("check table %q: %w", table, err)
	}
	return n > 0, nil
}

// LiveColumns returns the physical columns of a table in ordinal order.
func (c *SQLiteConnector) LiveColumns(ctx context.Context, table string) ([]model.Column, error) {
	var rows []tableInfoRow
	query := fmt.Sprintf("PRAGMA table_info(%s)", c.QuoteIdentifier(table))
	if err := c.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("table_info for %q: %w", table, err)
	}

	cols := make([]model.Column, 0, len(rows))
	for _, r := range rows {
		cols = append(cols, model.Column{
			Name:         r.Name,
			Position:     r.CID + 1,
			Type:         r.Type,
			Nullable:     r.NotNull == 0 && r.PK == 0,
			IsPrimaryKey: r.PK > 0,
		})
	}
	return cols, nil
}

// GetTableNames returns the user table names in the database.
func (c *SQLiteConnector) GetTableNames(ctx context.Context) ([]string, error) {
	var names []string
	err := c.db.SelectContext(ctx, &names,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

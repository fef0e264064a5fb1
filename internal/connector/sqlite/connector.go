package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/fieldtype"
)

// SQLiteConnector implements connector.Connector for SQLite databases.
type SQLiteConnector struct {
	db *sqlx.DB
}

// New creates a new SQLiteConnector.
func New() connector.Connector {
	return &SQLiteConnector{}
}

// Connect opens the SQLite database file specified in the DSN. The DSN is a
// file path or ":memory:"; query parameters like ?_journal_mode=WAL are
// passed through. Times are written in SQLite's own text format so they sort
// and compare as strings.
func (c *SQLiteConnector) Connect(cfg connector.ConnectionConfig) error {
	dsn := cfg.DSN
	if !strings.Contains(dsn, "_time_format=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("sqlite connect: %w", err)
	}

	// An in-memory database exists per connection.
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 && !strings.Contains(dsn, ":memory:") {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	c.db = db
	return nil
}

// BeginTx starts a new database transaction with the given options.
func (c *SQLiteConnector) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return c.db.BeginTxx(ctx, opts)
}

// Disconnect closes the database connection.
func (c *SQLiteConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *SQLiteConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *SQLiteConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQLite.
func (c *SQLiteConnector) DriverName() string { return "sqlite" }

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double quotes to prevent SQL injection.
func (c *SQLiteConnector) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedTable returns the quoted table name. SQLite has no schemas.
func (c *SQLiteConnector) QualifiedTable(table string) string {
	return c.QuoteIdentifier(table)
}

// ColumnType maps a storage kind to a SQLite column type.
func (c *SQLiteConnector) ColumnType(kind fieldtype.Kind) string {
	switch kind {
	case fieldtype.KindInteger:
		return "INTEGER"
	case fieldtype.KindFloat:
		return "REAL"
	case fieldtype.KindDecimal:
		return "NUMERIC"
	case fieldtype.KindBoolean:
		return "BOOLEAN"
	case fieldtype.KindDate:
		return "DATE"
	case fieldtype.KindDateTime:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// BoolLiteral renders a boolean as SQLite's 0/1.
func (c *SQLiteConnector) BoolLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// LikeOperator returns LIKE, which is case-insensitive for ASCII in SQLite.
func (c *SQLiteConnector) LikeOperator() string { return "LIKE" }

// SupportsReturning indicates that SQLite supports RETURNING clauses (3.35+).
func (c *SQLiteConnector) SupportsReturning() bool { return true }

// SupportsTransactionalDDL indicates that SQLite can roll back DDL.
func (c *SQLiteConnector) SupportsTransactionalDDL() bool { return true }

// ParameterPlaceholder returns a SQLite-style positional parameter
// placeholder (?). SQLite ignores the index.
func (c *SQLiteConnector) ParameterPlaceholder(_ int) string {
	return "?"
}

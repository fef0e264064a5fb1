package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/fieldtype"
)

// PostgresConnector implements connector.Connector for PostgreSQL databases.
type PostgresConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new PostgresConnector with default settings.
func New() connector.Connector {
	return &PostgresConnector{schemaName: "public"}
}

// Connect establishes a connection to the PostgreSQL database using the
// provided configuration. It configures connection pool settings and stores
// the schema that model tables live in.
func (c *PostgresConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if cfg.SchemaName != "" {
		c.schemaName = cfg.SchemaName
	}

	c.db = db
	return nil
}

// BeginTx starts a new database transaction with the given options.
func (c *PostgresConnector) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return c.db.BeginTxx(ctx, opts)
}

// Disconnect closes the database connection pool.
func (c *PostgresConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *PostgresConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *PostgresConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for PostgreSQL.
func (c *PostgresConnector) DriverName() string { return "postgres" }

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double quotes to prevent SQL injection.
func (c *PostgresConnector) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedTable returns the schema-qualified, quoted table name.
func (c *PostgresConnector) QualifiedTable(table string) string {
	return c.QuoteIdentifier(c.schemaName) + "." + c.QuoteIdentifier(table)
}

// ColumnType maps a storage kind to a PostgreSQL column type.
func (c *PostgresConnector) ColumnType(kind fieldtype.Kind) string {
	switch kind {
	case fieldtype.KindString:
		return "VARCHAR(255)"
	case fieldtype.KindInteger:
		return "BIGINT"
	case fieldtype.KindFloat:
		return "DOUBLE PRECISION"
	case fieldtype.KindDecimal:
		return "NUMERIC(20,6)"
	case fieldtype.KindBoolean:
		return "BOOLEAN"
	case fieldtype.KindDate:
		return "DATE"
	case fieldtype.KindDateTime:
		return "TIMESTAMPTZ"
	case fieldtype.KindTime:
		return "TIME"
	case fieldtype.KindJSON:
		return "JSONB"
	case fieldtype.KindUUID:
		return "UUID"
	default:
		return "TEXT"
	}
}

// BoolLiteral renders a boolean as TRUE or FALSE.
func (c *PostgresConnector) BoolLiteral(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

// LikeOperator returns ILIKE for case-insensitive search.
func (c *PostgresConnector) LikeOperator() string { return "ILIKE" }

// SupportsReturning indicates that PostgreSQL supports RETURNING clauses.
func (c *PostgresConnector) SupportsReturning() bool { return true }

// SupportsTransactionalDDL indicates that PostgreSQL can roll back DDL.
func (c *PostgresConnector) SupportsTransactionalDDL() bool { return true }

// ParameterPlaceholder returns a PostgreSQL-style numbered parameter
// placeholder (e.g., $1, $2, $3).
func (c *PostgresConnector) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

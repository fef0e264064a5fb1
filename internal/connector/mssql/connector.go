package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/fieldtype"
)

// MSSQLConnector implements connector.Connector for SQL Server databases.
type MSSQLConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new MSSQLConnector with default settings.
func New() connector.Connector {
	return &MSSQLConnector{schemaName: "dbo"}
}

// Connect establishes a connection to the SQL Server database using the
// provided configuration. It configures connection pool settings and stores
// the schema that model tables live in.
func (c *MSSQLConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("sqlserver", cfg.DSN)
	if err != nil {
		return fmt.Errorf("mssql connect: %w", err)
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
func (c *MSSQLConnector) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return c.db.BeginTxx(ctx, opts)
}

// Disconnect closes the database connection pool.
func (c *MSSQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MSSQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MSSQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQL Server.
func (c *MSSQLConnector) DriverName() string { return "mssql" }

// QuoteIdentifier wraps a SQL identifier in brackets, escaping any
// embedded closing brackets to prevent SQL injection.
func (c *MSSQLConnector) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// QualifiedTable returns the schema-qualified, bracketed table name.
func (c *MSSQLConnector) QualifiedTable(table string) string {
	return c.QuoteIdentifier(c.schemaName) + "." + c.QuoteIdentifier(table)
}

// ColumnType maps a storage kind to a SQL Server column type.
func (c *MSSQLConnector) ColumnType(kind fieldtype.Kind) string {
	switch kind {
	case fieldtype.KindString:
		return "NVARCHAR(255)"
	case fieldtype.KindInteger:
		return "BIGINT"
	case fieldtype.KindFloat:
		return "FLOAT"
	case fieldtype.KindDecimal:
		return "DECIMAL(20,6)"
	case fieldtype.KindBoolean:
		return "BIT"
	case fieldtype.KindDate:
		return "DATE"
	case fieldtype.KindDateTime:
		return "DATETIME2"
	case fieldtype.KindTime:
		return "TIME"
	case fieldtype.KindUUID:
		return "UNIQUEIDENTIFIER"
	default:
		return "NVARCHAR(MAX)"
	}
}

// BoolLiteral renders a boolean as a BIT literal.
func (c *MSSQLConnector) BoolLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// LikeOperator returns LIKE; default collations are case-insensitive.
func (c *MSSQLConnector) LikeOperator() string { return "LIKE" }

// SupportsReturning reports true: inserts use OUTPUT INSERTED.*, which
// returns the new row like RETURNING does.
func (c *MSSQLConnector) SupportsReturning() bool { return true }

// SupportsTransactionalDDL indicates that SQL Server can roll back DDL.
func (c *MSSQLConnector) SupportsTransactionalDDL() bool { return true }

// ParameterPlaceholder returns a SQL Server-style numbered parameter
// placeholder (e.g., @p1, @p2, @p3).
func (c *MSSQLConnector) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

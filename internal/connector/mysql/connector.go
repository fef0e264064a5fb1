package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/fieldtype"
)

// MySQLConnector implements connector.Connector for MySQL databases.
type MySQLConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new MySQLConnector with default settings.
func New() connector.Connector {
	return &MySQLConnector{}
}

// Connect establishes a connection to the MySQL database using the provided
// configuration. The schema name defaults to the DSN's current database.
func (c *MySQLConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("mysql", cfg.DSN)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
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
	if c.schemaName == "" {
		var dbName string
		if err := db.Get(&dbName, "SELECT DATABASE()"); err == nil && dbName != "" {
			c.schemaName = dbName
		}
	}

	c.db = db
	return nil
}

// BeginTx starts a new database transaction with the given options.
func (c *MySQLConnector) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return c.db.BeginTxx(ctx, opts)
}

// Disconnect closes the database connection pool.
func (c *MySQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MySQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MySQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for MySQL.
func (c *MySQLConnector) DriverName() string { return "mysql" }

// QuoteIdentifier wraps a SQL identifier in backticks, escaping any
// embedded backticks to prevent SQL injection.
func (c *MySQLConnector) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QualifiedTable returns the quoted table name in the connection's database.
func (c *MySQLConnector) QualifiedTable(table string) string {
	return c.QuoteIdentifier(table)
}

// ColumnType maps a storage kind to a MySQL column type.
func (c *MySQLConnector) ColumnType(kind fieldtype.Kind) string {
	switch kind {
	case fieldtype.KindString:
		return "VARCHAR(255)"
	case fieldtype.KindInteger:
		return "BIGINT"
	case fieldtype.KindFloat:
		return "DOUBLE"
	case fieldtype.KindDecimal:
		return "DECIMAL(20,6)"
	case fieldtype.KindBoolean:
		return "TINYINT(1)"
	case fieldtype.KindDate:
		return "DATE"
	case fieldtype.KindDateTime:
		return "DATETIME"
	case fieldtype.KindTime:
		return "TIME"
	case fieldtype.KindJSON:
		return "JSON"
	case fieldtype.KindUUID:
		return "CHAR(36)"
	default:
		return "LONGTEXT"
	}
}

// BoolLiteral renders a boolean as 1 or 0.
func (c *MySQLConnector) BoolLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// LikeOperator returns LIKE; the default collations compare case-insensitively.
func (c *MySQLConnector) LikeOperator() string { return "LIKE" }

// SupportsReturning indicates that MySQL does NOT support RETURNING clauses.
func (c *MySQLConnector) SupportsReturning() bool { return false }

// SupportsTransactionalDDL is false: MySQL commits implicitly on DDL.
func (c *MySQLConnector) SupportsTransactionalDDL() bool { return false }

// ParameterPlaceholder returns a MySQL-style positional parameter
// placeholder (?). MySQL ignores the index.
func (c *MySQLConnector) ParameterPlaceholder(_ int) string {
	return "?"
}

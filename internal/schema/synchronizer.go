// Package schema keeps physical tables in step with model definitions. Sync
// is additive only: it creates missing tables and adds missing columns, and
// never drops or retypes anything.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/fieldtype"
	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/query"
)

// SyncResult reports what a Sync call changed.
type SyncResult struct {
	Table        string   `json:"table"`
	Created      bool     `json:"created"`
	ColumnsAdded []string `json:"columns_added"`
	// Errors holds one message per column that could not be added.
	Errors []string `json:"errors,omitempty"`
}

// Synchronizer issues DDL against a single backing store.
type Synchronizer struct {
	conn   connector.Connector
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Synchronizer for conn.
func New(conn connector.Connector, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{conn: conn, logger: logger, locks: make(map[string]*sync.Mutex)}
}

func (s *Synchronizer) lock(table string) func() {
	s.mu.Lock()
	l, ok := s.locks[table]
	if !ok {
		l = &sync.Mutex{}
		s.locks[table] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Sync creates def's table if it is missing, otherwise adds whichever
// managed columns the live table lacks.
func (s *Synchronizer) Sync(ctx context.Context, def *model.ModelDefinition) (*SyncResult, error) {
	if err := query.ValidateIdentifier(def.TableName); err != nil {
		return nil, apperr.FieldError("table_name", err.Error())
	}
	columns, err := s.columnDefs(def)
	if err != nil {
		return nil, err
	}

	defer s.lock(def.TableName)()

	exists, err := s.conn.TableExists(ctx, def.TableName)
	if err != nil {
		return nil, apperr.SchemaSync("check table "+def.TableName, err)
	}

	result := &SyncResult{Table: def.TableName, ColumnsAdded: []string{}}
	if !exists {
		if err := s.create(ctx, def.TableName, columns); err != nil {
			return nil, apperr.SchemaSync("create table "+def.TableName, err)
		}
		result.Created = true
		for _, c := range columns {
			result.ColumnsAdded = append(result.ColumnsAdded, c.Name)
		}
		s.logger.Info("table created", "table", def.TableName, "columns", len(columns))
		return result, nil
	}

	live, err := s.conn.LiveColumns(ctx, def.TableName)
	if err != nil {
		return nil, apperr.SchemaSync("read columns of "+def.TableName, err)
	}
	have := make(map[string]bool, len(live))
	for _, c := range live {
		have[c.Name] = true
	}

	for _, c := range columns {
		if have[c.Name] {
			continue
		}
		// Existing rows have no value for the new column.
		c.Nullable = true
		if err := s.addColumn(ctx, def.TableName, c); err != nil {
			s.logger.Error("add column failed", "table", def.TableName, "column", c.Name, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", c.Name, err))
			continue
		}
		result.ColumnsAdded = append(result.ColumnsAdded, c.Name)
	}
	if len(result.ColumnsAdded) > 0 {
		s.logger.Info("columns added", "table", def.TableName, "columns", result.ColumnsAdded)
	}
	return result, nil
}

// Drop removes def's table. It is irreversible.
func (s *Synchronizer) Drop(ctx context.Context, def *model.ModelDefinition) error {
	if err := query.ValidateIdentifier(def.TableName); err != nil {
		return apperr.FieldError("table_name", err.Error())
	}
	defer s.lock(def.TableName)()

	if _, err := s.conn.DB().ExecContext(ctx, s.conn.BuildDropTable(def.TableName)); err != nil {
		return apperr.SchemaSync("drop table "+def.TableName, err)
	}
	s.logger.Warn("table dropped", "table", def.TableName)
	return nil
}

func (s *Synchronizer) create(ctx context.Context, table string, columns []connector.ColumnDef) error {
	stmts, err := s.conn.BuildCreateTable(connector.TableDef{Name: table, Columns: columns})
	if err != nil {
		return err
	}
	return s.execBatch(ctx, stmts)
}

func (s *Synchronizer) addColumn(ctx context.Context, table string, col connector.ColumnDef) error {
	stmts, err := s.conn.BuildAddColumn(table, col)
	if err != nil {
		return err
	}
	return s.execBatch(ctx, stmts)
}

// execBatch runs stmts in one transaction when the dialect can roll back
// DDL, and sequentially otherwise.
func (s *Synchronizer) execBatch(ctx context.Context, stmts []string) error {
	if !s.conn.SupportsTransactionalDDL() {
		for _, stmt := range stmts {
			if _, err := s.conn.DB().ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec %q: %w", stmt, err)
			}
		}
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin ddl transaction: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return tx.Commit()
}

// columnDefs lists the managed columns of def in creation order, excluding
// the implicit id primary key.
func (s *Synchronizer) columnDefs(def *model.ModelDefinition) ([]connector.ColumnDef, error) {
	cols := make([]connector.ColumnDef, 0, len(def.Fields)+3)
	for _, f := range def.Fields {
		if err := query.ValidateIdentifier(f.Name); err != nil {
			return nil, apperr.FieldError("fields."+f.Name, err.Error())
		}
		col := connector.ColumnDef{
			Name:     f.Name,
			Kind:     f.Type.Kind(),
			Nullable: !f.Required,
			Unique:   f.Unique,
			Indexed:  f.Indexed,
		}
		dv, err := fieldtype.DefaultValue(f.Type, f.DefaultValue, f.Options)
		if err != nil {
			return nil, apperr.FieldError("fields."+f.Name+".default_value", err.Error())
		}
		if lit, ok := connector.Literal(s.conn, dv); ok {
			col.Default = &lit
		}
		cols = append(cols, col)
	}
	if def.HasTimestamps {
		cols = append(cols,
			connector.ColumnDef{Name: "created_at", Kind: fieldtype.KindDateTime, Nullable: true},
			connector.ColumnDef{Name: "updated_at", Kind: fieldtype.KindDateTime, Nullable: true},
		)
	}
	if def.HasSoftDeletes {
		cols = append(cols, connector.ColumnDef{Name: "deleted_at", Kind: fieldtype.KindDateTime, Nullable: true, Indexed: true})
	}
	return cols, nil
}

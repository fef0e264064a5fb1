// Package data implements the generic data API over model-backed tables:
// listing with pagination, search, filters and includes, and the single
// record operations, each gated by the model's access rules.
package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/config"
	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/query"
	"github.com/faucetdb/basin/internal/rule"
	"github.com/faucetdb/basin/internal/validate"
)

// Models resolves model definitions by table name.
type Models interface {
	GetModelByTable(ctx context.Context, table string) (*model.ModelDefinition, error)
}

// Notifier receives committed changes. Implementations must not block.
type Notifier interface {
	Notify(def *model.ModelDefinition, event string, record map[string]any)
}

// Options tunes list behaviour.
type Options struct {
	DefaultPerPage int
	MaxPerPage     int
}

// DefaultOptions returns the stock page sizes.
func DefaultOptions() Options {
	return Options{DefaultPerPage: 15, MaxPerPage: 100}
}

// Service executes data API operations against one backing store.
type Service struct {
	conn      connector.Connector
	models    Models
	validator *validate.Validator
	notifier  Notifier
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
}

// New creates a Service. notifier may be nil.
func New(conn connector.Connector, models Models, v *validate.Validator, notifier Notifier, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if v == nil {
		v = validate.New()
	}
	if opts.DefaultPerPage <= 0 {
		opts.DefaultPerPage = DefaultOptions().DefaultPerPage
	}
	if opts.MaxPerPage <= 0 {
		opts.MaxPerPage = DefaultOptions().MaxPerPage
	}
	return &Service{
		conn:      conn,
		models:    models,
		validator: v,
		notifier:  notifier,
		logger:    logger,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Connector returns the backing store connector.
func (s *Service) Connector() connector.Connector { return s.conn }

// Model returns the definition served at table. Unknown, inactive and
// API-disabled models are all reported as TABLE_NOT_FOUND.
func (s *Service) Model(ctx context.Context, table string) (*model.ModelDefinition, error) {
	if query.ValidateIdentifier(table) != nil {
		return nil, apperr.TableNotFound(table)
	}
	def, err := s.models.GetModelByTable(ctx, table)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, apperr.TableNotFound(table)
		}
		return nil, fmt.Errorf("load model %s: %w", table, err)
	}
	if !def.Serving() {
		return nil, apperr.TableNotFound(table)
	}
	return def, nil
}

func anonymous(p *model.Principal) *model.Principal {
	if p == nil {
		return &model.Principal{}
	}
	return p
}

// parseID converts a path id to the primary key type. Non-numeric ids can
// never match a row.
func parseID(table, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.RecordNotFound(table, raw)
	}
	return id, nil
}

// fetch loads one raw row by id. Soft-deleted rows are invisible.
func (s *Service) fetch(ctx context.Context, q sqlx.QueryerContext, def *model.ModelDefinition, id int64) (map[string]any, error) {
	w := s.where().Eq("id", id)
	if def.HasSoftDeletes {
		w.IsNull("deleted_at")
	}
	filter, args := w.SQL()
	stmt, args, err := s.conn.BuildSelect(ctx, connector.SelectRequest{Table: def.TableName, Filter: filter, FilterArgs: args, Limit: 1})
	if err != nil {
		return nil, err
	}
	row := map[string]any{}
	if err := q.QueryRowxContext(ctx, stmt, args...).MapScan(row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.RecordNotFound(def.TableName, id)
		}
		return nil, fmt.Errorf("select from %s: %w", def.TableName, err)
	}
	return row, nil
}

func (s *Service) where() *query.Where {
	return query.NewWhere(s.conn.QuoteIdentifier, s.conn.ParameterPlaceholder)
}

func (s *Service) notify(def *model.ModelDefinition, event string, record map[string]any) {
	if s.notifier != nil {
		s.notifier.Notify(def, event, record)
	}
}

// allow applies op's rule to p and record.
func allow(def *model.ModelDefinition, op model.Operation, p *model.Principal, record map[string]any) error {
	if !permits(def, rule.MustParse(def.RuleFor(op)), p, record) {
		return apperr.AccessDenied(string(op), def.TableName)
	}
	return nil
}

// permits is rule.Allow with the owner column resolved against def. An
// owner rule naming a column the table does not have denies everyone but
// administrators.
func permits(def *model.ModelDefinition, r rule.Rule, p *model.Principal, record map[string]any) bool {
	if r.Kind == rule.OwnerEquals && (p == nil || !p.IsAdmin) && !hasColumn(def, r.Column) {
		return false
	}
	return rule.Allow(r, p, record)
}

// hasColumn reports whether def's table carries col.
func hasColumn(def *model.ModelDefinition, col string) bool {
	return def.Field(col) != nil || slices.Contains(model.ReservedColumns, col)
}

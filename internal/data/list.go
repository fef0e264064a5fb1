package data

import (
	"context"
	"fmt"
	"strings"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/fieldtype"
	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/query"
	"github.com/faucetdb/basin/internal/rule"
)

// ListParams are the list query parameters after HTTP decoding.
type ListParams struct {
	Page    int
	PerPage int
	Sort    string
	Search  string
	// Filters maps a field name to its raw filter_<field> value.
	Filters map[string]string
	Include []string
}

// List returns one page of visible records.
func (s *Service) List(ctx context.Context, p *model.Principal, table string, params ListParams) (*model.ListResponse, error) {
	p = anonymous(p)
	def, err := s.Model(ctx, table)
	if err != nil {
		return nil, err
	}

	w, err := s.listScope(def, p)
	if err != nil {
		return nil, err
	}
	if err := s.applyQuery(def, w, params); err != nil {
		return nil, err
	}
	order, err := sortOrder(def, params.Sort)
	if err != nil {
		return nil, err
	}

	page := max(params.Page, 1)
	perPage := params.PerPage
	if perPage <= 0 {
		perPage = s.opts.DefaultPerPage
	}
	perPage = min(perPage, s.opts.MaxPerPage)

	filter, args := w.SQL()
	db := s.conn.DB()

	countSQL, countArgs, err := s.conn.BuildCount(ctx, connector.CountRequest{Table: def.TableName, Filter: filter, FilterArgs: args})
	if err != nil {
		return nil, err
	}
	var total int64
	if err := db.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return nil, fmt.Errorf("count %s: %w", def.TableName, err)
	}

	stmt, selArgs, err := s.conn.BuildSelect(ctx, connector.SelectRequest{
		Table:      def.TableName,
		Filter:     filter,
		FilterArgs: args,
		Order:      query.BuildOrderSQL([]query.OrderClause{order}, s.conn.QuoteIdentifier),
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	})
	if err != nil {
		return nil, err
	}
	raw, err := s.queryRows(ctx, stmt, selArgs)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", def.TableName, err)
	}

	data := make([]map[string]any, len(raw))
	for i, row := range raw {
		data[i] = render(def, row)
	}
	if err := s.include(ctx, p, def, raw, data, params.Include); err != nil {
		return nil, err
	}

	lastPage := int((total + int64(perPage) - 1) / int64(perPage))
	return &model.ListResponse{
		Data: data,
		Meta: model.PageMeta{CurrentPage: page, LastPage: max(lastPage, 1), PerPage: perPage, Total: total},
	}, nil
}

// listScope starts a list query with the conditions every list of def
// carries for p: the soft-delete exclusion and the owner row filter.
func (s *Service) listScope(def *model.ModelDefinition, p *model.Principal) (*query.Where, error) {
	w := s.where()
	if def.HasSoftDeletes {
		w.IsNull("deleted_at")
	}
	r := rule.MustParse(def.ListRule)
	if r.Kind == rule.OwnerEquals && !p.IsAdmin {
		col, id, ok := rule.RowFilter(r, p)
		if !ok || !hasColumn(def, col) {
			return nil, apperr.AccessDenied(string(model.OpList), def.TableName)
		}
		w.Eq(col, id)
		return w, nil
	}
	if !rule.Allow(r, p, nil) {
		return nil, apperr.AccessDenied(string(model.OpList), def.TableName)
	}
	return w, nil
}

// applyQuery adds search and filter_<field> conditions.
func (s *Service) applyQuery(def *model.ModelDefinition, w *query.Where, params ListParams) error {
	if term := strings.TrimSpace(params.Search); term != "" {
		var cols []string
		for _, f := range def.Fields {
			if f.Searchable && !f.Hidden && f.Type.Textual() {
				cols = append(cols, f.Name)
			}
		}
		w.AnyLike(s.conn.LikeOperator(), cols, term)
	}

	var verr apperr.Validation
	for _, name := range sortedKeys(params.Filters) {
		f := def.Field(name)
		if f == nil || !f.Filterable || f.Hidden {
			continue
		}
		raw := params.Filters[name]
		if raw == "null" {
			w.IsNull(f.Name)
			continue
		}
		v, err := fieldtype.Coerce(f.Type, raw, f.Options)
		if err != nil {
			verr.Add("filter_"+f.Name, fmt.Sprintf("The filter_%s value is invalid.", f.Name))
			continue
		}
		if v == nil {
			w.IsNull(f.Name)
			continue
		}
		w.Eq(f.Name, v)
	}
	return verr.Err()
}

// sortOrder resolves the sort parameter. Only id and sortable, visible
// fields may be sorted on.
func sortOrder(def *model.ModelDefinition, sort string) (query.OrderClause, error) {
	if strings.TrimSpace(sort) == "" {
		return query.OrderClause{Column: "id", Direction: "ASC"}, nil
	}
	oc, err := query.ParseSort(sort)
	if err != nil {
		return oc, apperr.FieldError("sort", "The sort field is invalid.")
	}
	if oc.Column == "id" {
		return oc, nil
	}
	f := def.Field(oc.Column)
	if f == nil || !f.Sortable || f.Hidden {
		return oc, apperr.FieldError("sort", fmt.Sprintf("The field %s is not sortable.", oc.Column))
	}
	return oc, nil
}

func (s *Service) queryRows(ctx context.Context, stmt string, args []any) ([]map[string]any, error) {
	rows, err := s.conn.DB().QueryxContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]map[string]any, 0)
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

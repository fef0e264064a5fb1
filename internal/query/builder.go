package query

import (
	"fmt"
	"strings"
)

// OrderClause represents a single column ordering directive.
type OrderClause struct {
	Column    string // Validated column name.
	Direction string // "ASC" or "DESC".
}

// String returns the SQL fragment for this order clause, e.g. "created_at DESC".
func (o OrderClause) String() string {
	return o.Column + " " + o.Direction
}

// ParseSort parses a list sort parameter: "field" sorts ascending and
// "-field" descending. The column is validated but not checked against a
// model; callers decide which columns are sortable.
func ParseSort(sort string) (OrderClause, error) {
	sort = strings.TrimSpace(sort)
	dir := "ASC"
	if strings.HasPrefix(sort, "-") {
		dir = "DESC"
		sort = sort[1:]
	}
	if err := ValidateIdentifier(sort); err != nil {
		return OrderClause{}, fmt.Errorf("invalid sort field: %w", err)
	}
	return OrderClause{Column: sort, Direction: dir}, nil
}

// BuildOrderSQL builds an ORDER BY list from order clauses, applying the
// given quote function to column names. The ORDER BY keyword is left to the
// statement builder.
func BuildOrderSQL(clauses []OrderClause, quoteFn func(string) string) string {
	if len(clauses) == 0 {
		return ""
	}
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = quoteFn(c.Column) + " " + c.Direction
	}
	return strings.Join(parts, ", ")
}

// Where accumulates AND-joined conditions with dialect placeholders numbered
// in the order they are added.
type Where struct {
	quote func(string) string
	ph    func(int) string
	parts []string
	args  []any
}

// NewWhere returns an empty condition set using the dialect's identifier
// quoting and placeholder functions.
func NewWhere(quote func(string) string, ph func(int) string) *Where {
	return &Where{quote: quote, ph: ph}
}

func (w *Where) next(v any) string {
	w.args = append(w.args, v)
	return w.ph(len(w.args))
}

// Eq adds column = value.
func (w *Where) Eq(column string, value any) *Where {
	w.parts = append(w.parts, w.quote(column)+" = "+w.next(value))
	return w
}

// Ne adds column <> value.
func (w *Where) Ne(column string, value any) *Where {
	w.parts = append(w.parts, w.quote(column)+" <> "+w.next(value))
	return w
}

// IsNull adds column IS NULL.
func (w *Where) IsNull(column string) *Where {
	w.parts = append(w.parts, w.quote(column)+" IS NULL")
	return w
}

// In adds column IN (values...). An empty list matches nothing.
func (w *Where) In(column string, values []any) *Where {
	if len(values) == 0 {
		w.parts = append(w.parts, "1 = 0")
		return w
	}
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = w.next(v)
	}
	w.parts = append(w.parts, w.quote(column)+" IN ("+strings.Join(phs, ", ")+")")
	return w
}

// AnyLike adds (c1 op %term% OR c2 op %term% ...). Wildcards in term match
// literally. It is a no-op when columns is empty.
func (w *Where) AnyLike(op string, columns []string, term string) *Where {
	if len(columns) == 0 {
		return w
	}
	pattern := "%" + likeEscaper.Replace(term) + "%"
	ors := make([]string, len(columns))
	for i, col := range columns {
		ors[i] = w.quote(col) + " " + op + " " + w.next(pattern) + " ESCAPE '" + LikeEscape + "'"
	}
	w.parts = append(w.parts, "("+strings.Join(ors, " OR ")+")")
	return w
}

// LikeEscape is the LIKE escape character. A backslash would need doubling
// inside MySQL string literals; '!' reads the same in every dialect.
const LikeEscape = "!"

// likeEscaper covers the SQL wildcards plus SQL Server's bracket class.
var likeEscaper = strings.NewReplacer(
	LikeEscape, LikeEscape+LikeEscape,
	"%", LikeEscape+"%",
	"_", LikeEscape+"_",
	"[", LikeEscape+"[",
)

// SQL returns the AND-joined fragment and its arguments.
func (w *Where) SQL() (string, []any) {
	return strings.Join(w.parts, " AND "), w.args
}

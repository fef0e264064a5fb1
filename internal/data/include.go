package data

import (
	"context"
	"fmt"
	"strings"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/query"
)

// ParseInclude splits an include parameter into relation names.
func ParseInclude(raw string) []string {
	var out []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// RelationKeys returns the effective key columns of rel, filling in the
// conventional defaults: hasOne/hasMany and belongsToMany point at
// <owner>_id, belongsTo at <related>_id, and local keys default to id.
func RelationKeys(owner string, rel *model.RelationshipDefinition) (foreignKey, localKey, relatedPivotKey string) {
	foreignKey, localKey, relatedPivotKey = rel.ForeignKey, rel.LocalKey, rel.RelatedPivotKey
	if localKey == "" {
		localKey = "id"
	}
	if foreignKey == "" {
		if rel.Kind == model.BelongsTo {
			foreignKey = rel.RelatedModel + "_id"
		} else {
			foreignKey = owner + "_id"
		}
	}
	if relatedPivotKey == "" && rel.Kind == model.BelongsToMany {
		relatedPivotKey = rel.RelatedModel + "_id"
	}
	return foreignKey, localKey, relatedPivotKey
}

// relationIdentifiers lists the names rel interpolates into SQL.
func relationIdentifiers(owner string, rel *model.RelationshipDefinition) []string {
	fk, lk, rpk := RelationKeys(owner, rel)
	names := []string{rel.RelatedModel, fk, lk}
	if rel.Kind == model.BelongsToMany {
		names = append(names, rel.PivotTable, rpk)
	}
	return names
}

// include embeds the named relations into out, which is parallel to raw.
// Unknown relation names are ignored, as are relations whose related model
// is not being served, and so are relations naming an invalid identifier.
// A related list rule the principal fails embeds
// nothing rather than failing the parent request.
func (s *Service) include(ctx context.Context, p *model.Principal, def *model.ModelDefinition, raw, out []map[string]any, names []string) error {
	if len(raw) == 0 {
		return nil
	}
	for _, name := range names {
		rel := def.Relationship(name)
		if rel == nil {
			continue
		}
		if err := query.ValidateIdentifiers(relationIdentifiers(def.TableName, rel)); err != nil {
			s.logger.Warn("relation skipped", "table", def.TableName, "relation", name, "error", err)
			continue
		}
		related, err := s.Model(ctx, rel.RelatedModel)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				continue
			}
			return err
		}
		if err := s.includeOne(ctx, p, def, related, rel, raw, out); err != nil {
			if apperr.IsKind(err, apperr.KindAuthorization) {
				continue
			}
			return fmt.Errorf("include %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) includeOne(ctx context.Context, p *model.Principal, def, related *model.ModelDefinition, rel *model.RelationshipDefinition, raw, out []map[string]any) error {
	fk, lk, rpk := RelationKeys(def.TableName, rel)

	switch rel.Kind {
	case model.HasMany, model.HasOne:
		groups, err := s.relatedBy(ctx, p, related, fk, collect(raw, lk))
		if err != nil {
			return err
		}
		for i, row := range raw {
			k, _ := keyString(row[lk])
			attach(out[i], rel, groups[k])
		}

	case model.BelongsTo:
		groups, err := s.relatedBy(ctx, p, related, lk, collect(raw, fk))
		if err != nil {
			return err
		}
		for i, row := range raw {
			k, ok := keyString(row[fk])
			if !ok {
				out[i][rel.Name] = nil
				continue
			}
			attach(out[i], rel, groups[k])
		}

	case model.BelongsToMany:
		parentKeys := collect(raw, lk)
		w := s.where().In(fk, parentKeys)
		filter, args := w.SQL()
		stmt, args, err := s.conn.BuildSelect(ctx, connector.SelectRequest{
			Table: rel.PivotTable, Fields: []string{fk, rpk}, Filter: filter, FilterArgs: args,
		})
		if err != nil {
			return err
		}
		pivots, err := s.queryRows(ctx, stmt, args)
		if err != nil {
			return err
		}
		links := make(map[string][]string)
		var relatedIDs []any
		seen := make(map[string]bool)
		for _, pv := range pivots {
			pk, ok1 := keyString(pv[fk])
			rk, ok2 := keyString(pv[rpk])
			if !ok1 || !ok2 {
				continue
			}
			links[pk] = append(links[pk], rk)
			if !seen[rk] {
				seen[rk] = true
				relatedIDs = append(relatedIDs, pv[rpk])
			}
		}
		byID, err := s.relatedBy(ctx, p, related, "id", relatedIDs)
		if err != nil {
			return err
		}
		for i, row := range raw {
			k, _ := keyString(row[lk])
			items := make([]map[string]any, 0, len(links[k]))
			for _, rk := range links[k] {
				items = append(items, byID[rk]...)
			}
			out[i][rel.Name] = items
		}
	}
	return nil
}

// relatedBy loads the visible rows of related whose column matches one of
// keys, grouped by the normalised key.
func (s *Service) relatedBy(ctx context.Context, p *model.Principal, related *model.ModelDefinition, column string, keys []any) (map[string][]map[string]any, error) {
	groups := make(map[string][]map[string]any)
	if len(keys) == 0 {
		return groups, nil
	}
	w, err := s.listScope(related, p)
	if err != nil {
		return nil, err
	}
	w.In(column, keys)
	filter, args := w.SQL()
	stmt, args, err := s.conn.BuildSelect(ctx, connector.SelectRequest{
		Table:      related.TableName,
		Filter:     filter,
		FilterArgs: args,
		Order:      s.conn.QuoteIdentifier("id") + " ASC",
	})
	if err != nil {
		return nil, err
	}
	rows, err := s.queryRows(ctx, stmt, args)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		k, ok := keyString(row[column])
		if !ok {
			continue
		}
		groups[k] = append(groups[k], render(related, row))
	}
	return groups, nil
}

// collect returns the distinct non-null values of column across rows.
func collect(rows []map[string]any, column string) []any {
	seen := make(map[string]bool, len(rows))
	var out []any
	for _, row := range rows {
		k, ok := keyString(row[column])
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, row[column])
	}
	return out
}

func attach(dst map[string]any, rel *model.RelationshipDefinition, items []map[string]any) {
	switch rel.Kind {
	case model.HasMany:
		if items == nil {
			items = []map[string]any{}
		}
		dst[rel.Name] = items
	default:
		if len(items) == 0 {
			dst[rel.Name] = nil
			return
		}
		dst[rel.Name] = items[0]
	}
}

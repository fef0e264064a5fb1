package data

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/fieldtype"
	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/rule"
)

// Get returns one visible record.
func (s *Service) Get(ctx context.Context, p *model.Principal, table, rawID string, include []string) (map[string]any, error) {
	p = anonymous(p)
	def, err := s.Model(ctx, table)
	if err != nil {
		return nil, err
	}
	id, err := parseID(def.TableName, rawID)
	if err != nil {
		return nil, err
	}
	row, err := s.fetch(ctx, s.conn.DB(), def, id)
	if err != nil {
		return nil, err
	}
	if err := allow(def, model.OpView, p, row); err != nil {
		return nil, err
	}
	out := render(def, row)
	if err := s.include(ctx, p, def, []map[string]any{row}, []map[string]any{out}, include); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts a record and returns it as stored.
func (s *Service) Create(ctx context.Context, p *model.Principal, table string, input map[string]any) (map[string]any, error) {
	p = anonymous(p)
	def, err := s.Model(ctx, table)
	if err != nil {
		return nil, err
	}

	r := rule.MustParse(def.CreateRule)
	if r.Kind == rule.OwnerEquals && p.UserID != nil && def.Field(r.Column) != nil && input[r.Column] == nil {
		input = maps.Clone(input)
		if input == nil {
			input = map[string]any{}
		}
		input[r.Column] = *p.UserID
	}

	values, verr := s.prepare(def, input, true, nil)
	// Only declared fields can establish ownership.
	subject := make(map[string]any, len(input))
	for k, v := range input {
		if def.Field(k) != nil {
			subject[k] = v
		}
	}
	maps.Copy(subject, values)
	if !permits(def, r, p, subject) {
		return nil, apperr.AccessDenied(string(model.OpCreate), def.TableName)
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	if def.HasTimestamps {
		now := s.now()
		values["created_at"] = now
		values["updated_at"] = now
	}

	var row map[string]any
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.checkUnique(ctx, tx, def, values, 0); err != nil {
			return err
		}
		row, err = s.insert(ctx, tx, def, values)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := render(def, row)
	s.notify(def, model.EventCreated, out)
	return out, nil
}

// Update applies the supplied fields to an existing record.
func (s *Service) Update(ctx context.Context, p *model.Principal, table, rawID string, input map[string]any) (map[string]any, error) {
	p = anonymous(p)
	def, err := s.Model(ctx, table)
	if err != nil {
		return nil, err
	}
	id, err := parseID(def.TableName, rawID)
	if err != nil {
		return nil, err
	}
	existing, err := s.fetch(ctx, s.conn.DB(), def, id)
	if err != nil {
		return nil, err
	}

	r := rule.MustParse(def.UpdateRule)
	if !permits(def, r, p, existing) {
		return nil, apperr.AccessDenied(string(model.OpUpdate), def.TableName)
	}

	values, verr := s.prepare(def, input, false, render(def, existing))
	if r.Kind == rule.OwnerEquals && !p.IsAdmin {
		if v, ok := values[r.Column]; ok && !rule.SameID(v, *p.UserID) {
			return nil, apperr.Authorization(apperr.CodeAccessDenied, "You may not transfer ownership of this record.")
		}
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return render(def, existing), nil
	}
	if def.HasTimestamps {
		values["updated_at"] = s.now()
	}

	var row map[string]any
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.checkUnique(ctx, tx, def, values, id); err != nil {
			return err
		}
		stmt, args, err := s.conn.BuildUpdate(ctx, connector.UpdateRequest{Table: def.TableName, Record: values, ID: id})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("update %s: %w", def.TableName, err)
		}
		row, err = s.fetch(ctx, tx, def, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := render(def, row)
	s.notify(def, model.EventUpdated, out)
	return out, nil
}

// Delete removes a record, or marks it deleted on soft-delete models.
func (s *Service) Delete(ctx context.Context, p *model.Principal, table, rawID string) error {
	p = anonymous(p)
	def, err := s.Model(ctx, table)
	if err != nil {
		return err
	}
	id, err := parseID(def.TableName, rawID)
	if err != nil {
		return err
	}
	existing, err := s.fetch(ctx, s.conn.DB(), def, id)
	if err != nil {
		return err
	}
	if err := allow(def, model.OpDelete, p, existing); err != nil {
		return err
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		var stmt string
		var args []any
		var err error
		if def.HasSoftDeletes {
			stmt, args, err = s.conn.BuildUpdate(ctx, connector.UpdateRequest{
				Table:  def.TableName,
				Record: map[string]any{"deleted_at": s.now()},
				ID:     id,
			})
		} else {
			stmt, args, err = s.conn.BuildDelete(ctx, connector.DeleteRequest{Table: def.TableName, ID: id})
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("delete from %s: %w", def.TableName, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(def, model.EventDeleted, map[string]any{"id": id})
	return nil
}

// prepare checks presence, coerces supplied values and runs field rules.
// On create every required field must be present; on update only supplied
// fields are checked. base is the current record seen by expr rules.
func (s *Service) prepare(def *model.ModelDefinition, input map[string]any, create bool, base map[string]any) (map[string]any, *apperr.Validation) {
	var verr apperr.Validation
	values := make(map[string]any)

	for _, f := range def.Fields {
		raw, present := input[f.Name]
		if f.Required {
			missing := create && !present && strings.TrimSpace(f.DefaultValue) == ""
			if missing || (present && blank(raw)) {
				verr.Add(f.Name, fmt.Sprintf("The %s field is required.", f.Name))
				continue
			}
		}
		if !present {
			continue
		}
		v, err := fieldtype.Coerce(f.Type, raw, f.Options)
		if err != nil {
			verr.Add(f.Name, coerceMessage(f.Name, err))
			continue
		}
		values[f.Name] = v
	}

	record := maps.Clone(base)
	if record == nil {
		record = make(map[string]any, len(values))
	}
	maps.Copy(record, values)
	for _, name := range sortedKeys(values) {
		f := def.Field(name)
		for _, msg := range s.validator.Field(f, values[name], record) {
			verr.Add(name, msg)
		}
	}
	return values, &verr
}

func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func coerceMessage(field string, err error) string {
	reason := strings.TrimPrefix(err.Error(), fieldtype.ErrInvalidValue.Error()+": ")
	return fmt.Sprintf("The %s field %s.", field, reason)
}

// checkUnique reports values that collide with another row on a unique
// field, so the caller gets a field-keyed 422 instead of a constraint error.
func (s *Service) checkUnique(ctx context.Context, tx *sqlx.Tx, def *model.ModelDefinition, values map[string]any, excludeID int64) error {
	var verr apperr.Validation
	for _, f := range def.Fields {
		v, ok := values[f.Name]
		if !f.Unique || !ok || v == nil {
			continue
		}
		w := s.where().Eq(f.Name, v)
		if excludeID > 0 {
			w.Ne("id", excludeID)
		}
		filter, args := w.SQL()
		stmt, args, err := s.conn.BuildCount(ctx, connector.CountRequest{Table: def.TableName, Filter: filter, FilterArgs: args})
		if err != nil {
			return err
		}
		var n int64
		if err := tx.GetContext(ctx, &n, stmt, args...); err != nil {
			return fmt.Errorf("check unique %s.%s: %w", def.TableName, f.Name, err)
		}
		if n > 0 {
			verr.Add(f.Name, fmt.Sprintf("The %s has already been taken.", f.Name))
		}
	}
	return verr.Err()
}

// insert writes values and reads the new row back, through RETURNING where
// the dialect has it and by last insert id otherwise.
func (s *Service) insert(ctx context.Context, tx *sqlx.Tx, def *model.ModelDefinition, values map[string]any) (map[string]any, error) {
	stmt, args, err := s.conn.BuildInsert(ctx, connector.InsertRequest{Table: def.TableName, Record: values})
	if err != nil {
		return nil, err
	}
	if s.conn.SupportsReturning() {
		row := map[string]any{}
		if err := tx.QueryRowxContext(ctx, stmt, args...).MapScan(row); err != nil {
			return nil, fmt.Errorf("insert into %s: %w", def.TableName, err)
		}
		return row, nil
	}
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", def.TableName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", def.TableName, err)
	}
	return s.fetch(ctx, tx, def, id)
}

// inTx runs fn in a transaction, committing only if fn succeeds.
func (s *Service) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/config"
	"github.com/faucetdb/basin/internal/data"
	"github.com/faucetdb/basin/internal/fieldtype"
	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/query"
	"github.com/faucetdb/basin/internal/rule"
	"github.com/faucetdb/basin/internal/schema"
	"github.com/faucetdb/basin/internal/validate"
)

// ModelService manages model definitions and keeps their tables in sync.
type ModelService struct {
	store     *config.Store
	sync      *schema.Synchronizer
	validator *validate.Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewModelService creates a ModelService.
func NewModelService(store *config.Store, sync *schema.Synchronizer, logger *slog.Logger) *ModelService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelService{
		store:     store,
		sync:      sync,
		validator: validate.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NewModel returns a definition with the defaults a freshly posted model
// gets: active, served, timestamped, and admin-only on every operation.
func NewModel() *model.ModelDefinition {
	return &model.ModelDefinition{
		HasTimestamps: true,
		APIEnabled:    true,
		IsActive:      true,
		Settings:      map[string]any{},
	}
}

// List returns every model definition.
func (s *ModelService) List(ctx context.Context) ([]model.ModelDefinition, error) {
	return s.store.ListModels(ctx)
}

// Get returns the model backing table.
func (s *ModelService) Get(ctx context.Context, table string) (*model.ModelDefinition, error) {
	def, err := s.store.GetModelByTable(ctx, table)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("Model '%s' not found.", table))
		}
		return nil, err
	}
	return def, nil
}

// Create validates and stores def, then creates its table.
func (s *ModelService) Create(ctx context.Context, def *model.ModelDefinition) (*schema.SyncResult, error) {
	if err := s.Validate(ctx, def); err != nil {
		return nil, err
	}
	if _, err := s.store.GetModelByTable(ctx, def.TableName); err == nil {
		return nil, apperr.FieldError("table_name", "The table name has already been taken.")
	}
	if def.DisplayName == "" {
		def.DisplayName = def.Name
	}
	if err := s.store.CreateModel(ctx, def); err != nil {
		return nil, err
	}
	s.logger.Info("model created", "table", def.TableName, "fields", len(def.Fields))
	return s.syncDef(ctx, def)
}

// Update rewrites the model-level attributes of def. The table name and
// the field set are not changed here. Enabling timestamps or soft deletes
// adds their columns.
func (s *ModelService) Update(ctx context.Context, def *model.ModelDefinition) (*schema.SyncResult, error) {
	current, err := s.store.GetModel(ctx, def.ID)
	if err != nil {
		return nil, notFound(err, "Model not found.")
	}
	if def.TableName != current.TableName {
		return nil, apperr.FieldError("table_name", "The table name cannot be changed.")
	}
	def.Fields = current.Fields
	def.Relationships = current.Relationships
	if err := s.Validate(ctx, def); err != nil {
		return nil, err
	}
	if err := s.store.UpdateModel(ctx, def); err != nil {
		return nil, err
	}
	return s.syncDef(ctx, def)
}

// Delete drops the model's table and removes its definition along with its
// fields, relationships and webhooks.
func (s *ModelService) Delete(ctx context.Context, table string) error {
	def, err := s.Get(ctx, table)
	if err != nil {
		return err
	}
	if err := s.sync.Drop(ctx, def); err != nil {
		return err
	}
	return s.store.DeleteModel(ctx, def.ID)
}

// Sync brings table's physical schema up to date.
func (s *ModelService) Sync(ctx context.Context, table string) (*schema.SyncResult, error) {
	def, err := s.Get(ctx, table)
	if err != nil {
		return nil, err
	}
	return s.syncDef(ctx, def)
}

// Drift compares table's definition with its live schema.
func (s *ModelService) Drift(ctx context.Context, table string) (*schema.DriftReport, error) {
	def, err := s.Get(ctx, table)
	if err != nil {
		return nil, err
	}
	return s.sync.Drift(ctx, def)
}

func (s *ModelService) syncDef(ctx context.Context, def *model.ModelDefinition) (*schema.SyncResult, error) {
	res, err := s.sync.Sync(ctx, def)
	if err != nil {
		return nil, err
	}
	failed := make(map[string]bool, len(res.Errors))
	for _, e := range res.Errors {
		name, _, _ := strings.Cut(e, ":")
		failed[name] = true
	}
	var names []string
	for _, f := range def.Fields {
		if f.SyncedAt == nil && !failed[f.Name] {
			names = append(names, f.Name)
		}
	}
	if err := s.store.MarkFieldsSynced(ctx, def.ID, names, s.now()); err != nil {
		return nil, err
	}
	return res, nil
}

// AddField appends f to table's model and adds its column.
func (s *ModelService) AddField(ctx context.Context, table string, f *model.FieldDefinition) (*schema.SyncResult, error) {
	def, err := s.Get(ctx, table)
	if err != nil {
		return nil, err
	}
	if def.Field(f.Name) != nil {
		return nil, apperr.FieldError("name", fmt.Sprintf("The field %s already exists.", f.Name))
	}
	var v apperr.Validation
	s.checkField(&v, "", f)
	if err := v.Err(); err != nil {
		return nil, err
	}

	f.ModelID = def.ID
	f.SyncedAt = nil
	if err := s.store.AddField(ctx, f); err != nil {
		return nil, err
	}
	def.Fields = append(def.Fields, *f)
	return s.syncDef(ctx, def)
}

// UpdateField replaces the attributes of the named field. Once a field has
// been synced its name and type are fixed.
func (s *ModelService) UpdateField(ctx context.Context, table, name string, f *model.FieldDefinition) (*model.FieldDefinition, error) {
	def, err := s.Get(ctx, table)
	if err != nil {
		return nil, err
	}
	current := def.Field(name)
	if current == nil {
		return nil, apperr.NotFound(fmt.Sprintf("Field '%s' not found on %s.", name, table))
	}
	if current.SyncedAt != nil {
		if f.Name != current.Name {
			return nil, apperr.FieldError("name", "The name of a synced field cannot be changed.")
		}
		if f.Type != current.Type {
			return nil, apperr.FieldError("type", "The type of a synced field cannot be changed.")
		}
	}
	if f.Name != name && def.Field(f.Name) != nil {
		return nil, apperr.FieldError("name", fmt.Sprintf("The field %s already exists.", f.Name))
	}
	var v apperr.Validation
	s.checkField(&v, "", f)
	if err := v.Err(); err != nil {
		return nil, err
	}

	f.ID = current.ID
	f.ModelID = def.ID
	f.SyncedAt = current.SyncedAt
	if f.Position == 0 {
		f.Position = current.Position
	}
	if err := s.store.UpdateField(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteField removes a field definition. Its column is left in place and
// shows up as unmanaged in the drift report.
func (s *ModelService) DeleteField(ctx context.Context, table, name string) error {
	def, err := s.Get(ctx, table)
	if err != nil {
		return err
	}
	if err := s.store.DeleteField(ctx, def.ID, name); err != nil {
		return notFound(err, fmt.Sprintf("Field '%s' not found on %s.", name, table))
	}
	return nil
}

// AddRelationship validates and stores r on table's model.
func (s *ModelService) AddRelationship(ctx context.Context, table string, r *model.RelationshipDefinition) error {
	def, err := s.Get(ctx, table)
	if err != nil {
		return err
	}
	if def.Relationship(r.Name) != nil {
		return apperr.FieldError("name", fmt.Sprintf("The relationship %s already exists.", r.Name))
	}
	var v apperr.Validation
	s.checkRelationship(ctx, &v, "", def.TableName, r)
	if err := v.Err(); err != nil {
		return err
	}
	r.ModelID = def.ID
	return s.store.AddRelationship(ctx, r)
}

// DeleteRelationship removes a relationship by name.
func (s *ModelService) DeleteRelationship(ctx context.Context, table, name string) error {
	def, err := s.Get(ctx, table)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRelationship(ctx, def.ID, name); err != nil {
		return notFound(err, fmt.Sprintf("Relationship '%s' not found on %s.", name, table))
	}
	return nil
}

// ApplyResult reports what Apply did for one model.
type ApplyResult struct {
	Table         string             `json:"table"`
	Created       bool               `json:"created"`
	FieldsAdded   []string           `json:"fields_added"`
	RelationsDone []string           `json:"relationships_added"`
	Sync          *schema.SyncResult `json:"sync,omitempty"`
}

// Apply upserts defs: new models are created, existing ones get their
// attributes updated and missing fields and relationships added. Nothing
// is removed. Relationships are applied after every model exists so that
// models in one batch may refer to each other.
func (s *ModelService) Apply(ctx context.Context, defs []model.ModelDefinition) ([]ApplyResult, error) {
	results := make([]ApplyResult, len(defs))
	rels := make([][]model.RelationshipDefinition, len(defs))

	for i := range defs {
		def := &defs[i]
		results[i].Table = def.TableName
		rels[i] = def.Relationships
		def.Relationships = nil

		current, err := s.store.GetModelByTable(ctx, def.TableName)
		switch {
		case errors.Is(err, config.ErrNotFound):
			if _, err := s.Create(ctx, def); err != nil {
				return results, fmt.Errorf("create %s: %w", def.TableName, err)
			}
			results[i].Created = true
			for _, f := range def.Fields {
				results[i].FieldsAdded = append(results[i].FieldsAdded, f.Name)
			}
		case err != nil:
			return results, err
		default:
			if err := s.applyExisting(ctx, current, def, &results[i]); err != nil {
				return results, fmt.Errorf("update %s: %w", def.TableName, err)
			}
		}
	}

	for i := range defs {
		for j := range rels[i] {
			r := rels[i][j]
			current, err := s.Get(ctx, defs[i].TableName)
			if err != nil {
				return results, err
			}
			if current.Relationship(r.Name) != nil {
				continue
			}
			if err := s.AddRelationship(ctx, defs[i].TableName, &r); err != nil {
				return results, fmt.Errorf("relationship %s.%s: %w", defs[i].TableName, r.Name, err)
			}
			results[i].RelationsDone = append(results[i].RelationsDone, r.Name)
		}
		res, err := s.Sync(ctx, defs[i].TableName)
		if err != nil {
			return results, err
		}
		results[i].Sync = res
	}
	return results, nil
}

func (s *ModelService) applyExisting(ctx context.Context, current, def *model.ModelDefinition, out *ApplyResult) error {
	updated := *current
	updated.Name = def.Name
	updated.DisplayName = def.DisplayName
	updated.HasTimestamps = def.HasTimestamps
	updated.HasSoftDeletes = def.HasSoftDeletes
	updated.APIEnabled = def.APIEnabled
	updated.ListRule, updated.ViewRule = def.ListRule, def.ViewRule
	updated.CreateRule, updated.UpdateRule, updated.DeleteRule = def.CreateRule, def.UpdateRule, def.DeleteRule
	if def.Settings != nil {
		updated.Settings = def.Settings
	}
	if _, err := s.Update(ctx, &updated); err != nil {
		return err
	}

	for i := range def.Fields {
		f := def.Fields[i]
		existing := current.Field(f.Name)
		if existing == nil {
			f.Position = 0
			if _, err := s.AddField(ctx, def.TableName, &f); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
			out.FieldsAdded = append(out.FieldsAdded, f.Name)
			continue
		}
		f.Position = existing.Position
		if _, err := s.UpdateField(ctx, def.TableName, f.Name, &f); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return nil
}

// Validate checks a whole definition and reports every problem at once.
func (s *ModelService) Validate(ctx context.Context, def *model.ModelDefinition) error {
	if err := s.validator.Struct(def); err != nil {
		return err
	}
	var v apperr.Validation
	if err := query.ValidateIdentifier(def.TableName); err != nil {
		v.Add("table_name", err.Error())
	}
	for _, r := range []struct {
		key, src string
	}{
		{"list_rule", def.ListRule},
		{"view_rule", def.ViewRule},
		{"create_rule", def.CreateRule},
		{"update_rule", def.UpdateRule},
		{"delete_rule", def.DeleteRule},
	} {
		if _, err := rule.Parse(r.src); err != nil {
			v.Add(r.key, err.Error())
		}
	}

	seen := make(map[string]bool, len(def.Fields))
	for i := range def.Fields {
		f := &def.Fields[i]
		prefix := fmt.Sprintf("fields.%d.", i)
		if seen[f.Name] {
			v.Add(prefix+"name", fmt.Sprintf("The field %s is declared more than once.", f.Name))
		}
		seen[f.Name] = true
		s.checkField(&v, prefix, f)
	}

	names := make(map[string]bool, len(def.Relationships))
	for i := range def.Relationships {
		r := &def.Relationships[i]
		prefix := fmt.Sprintf("relationships.%d.", i)
		if names[r.Name] {
			v.Add(prefix+"name", fmt.Sprintf("The relationship %s is declared more than once.", r.Name))
		}
		names[r.Name] = true
		s.checkRelationship(ctx, &v, prefix, def.TableName, r)
	}
	return v.Err()
}

func (s *ModelService) checkField(v *apperr.Validation, prefix string, f *model.FieldDefinition) {
	if err := query.ValidateIdentifier(f.Name); err != nil {
		v.Add(prefix+"name", err.Error())
	} else if slices.Contains(model.ReservedColumns, f.Name) {
		v.Add(prefix+"name", fmt.Sprintf("The field name %s is reserved.", f.Name))
	}
	if !f.Type.Valid() {
		v.Add(prefix+"type", fmt.Sprintf("The type %q is not supported.", f.Type))
		return
	}
	if f.Type.RequiresOptions() && len(f.Options) == 0 {
		v.Add(prefix+"options", fmt.Sprintf("The options field is required for %s fields.", f.Type))
	}
	if err := validate.CheckRules(f.Validation); err != nil {
		v.Add(prefix+"validation", err.Error())
	}
	if f.DefaultValue != "" {
		if _, err := fieldtype.DefaultValue(f.Type, f.DefaultValue, f.Options); err != nil {
			v.Add(prefix+"default_value", fmt.Sprintf("The default value is not a valid %s.", f.Type))
		}
	}
}

func (s *ModelService) checkRelationship(ctx context.Context, v *apperr.Validation, prefix, owner string, r *model.RelationshipDefinition) {
	if err := s.validator.Struct(r); err != nil {
		if e, ok := apperr.As(err); ok {
			for k, msgs := range e.Fields {
				for _, m := range msgs {
					v.Add(prefix+k, m)
				}
			}
			return
		}
	}
	if err := query.ValidateIdentifier(r.Name); err != nil {
		v.Add(prefix+"name", err.Error())
	}
	if r.Kind == model.BelongsToMany {
		if r.PivotTable == "" {
			v.Add(prefix+"pivot_table", "The pivot table field is required for belongsToMany.")
		} else if err := query.ValidateIdentifier(r.PivotTable); err != nil {
			v.Add(prefix+"pivot_table", err.Error())
		}
	}
	fk, lk, rpk := data.RelationKeys(owner, r)
	for key, col := range map[string]string{"foreign_key": fk, "local_key": lk, "related_pivot_key": rpk} {
		if col == "" {
			continue
		}
		if err := query.ValidateIdentifier(col); err != nil {
			v.Add(prefix+key, err.Error())
		}
	}

	if r.RelatedModel == owner {
		return
	}
	related, err := s.store.GetModelByTable(ctx, r.RelatedModel)
	if err != nil || !related.IsActive {
		v.Add(prefix+"related_model", fmt.Sprintf("The related model %s does not exist or is inactive.", r.RelatedModel))
	}
}

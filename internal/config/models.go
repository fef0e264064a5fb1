package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/basin/internal/fieldtype"
	"github.com/faucetdb/basin/internal/model"
)

// ---------------------------------------------------------------------------
// Model definitions
// ---------------------------------------------------------------------------

type modelRow struct {
	ID             int64     `db:"id"`
	Name           string    `db:"name"`
	TableName      string    `db:"table_name"`
	DisplayName    string    `db:"display_name"`
	HasTimestamps  bool      `db:"has_timestamps"`
	HasSoftDeletes bool      `db:"has_soft_deletes"`
	APIEnabled     bool      `db:"api_enabled"`
	IsActive       bool      `db:"is_active"`
	ListRule       string    `db:"list_rule"`
	ViewRule       string    `db:"view_rule"`
	CreateRule     string    `db:"create_rule"`
	UpdateRule     string    `db:"update_rule"`
	DeleteRule     string    `db:"delete_rule"`
	SettingsJSON   string    `db:"settings_json"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func modelRowFromModel(m *model.ModelDefinition) (modelRow, error) {
	settings := m.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	b, err := json.Marshal(settings)
	if err != nil {
		return modelRow{}, fmt.Errorf("marshal settings: %w", err)
	}
	return modelRow{
		ID:             m.ID,
		Name:           m.Name,
		TableName:      m.TableName,
		DisplayName:    m.DisplayName,
		HasTimestamps:  m.HasTimestamps,
		HasSoftDeletes: m.HasSoftDeletes,
		APIEnabled:     m.APIEnabled,
		IsActive:       m.IsActive,
		ListRule:       m.ListRule,
		ViewRule:       m.ViewRule,
		CreateRule:     m.CreateRule,
		UpdateRule:     m.UpdateRule,
		DeleteRule:     m.DeleteRule,
		SettingsJSON:   string(b),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

func (r modelRow) toModel() (model.ModelDefinition, error) {
	m := model.ModelDefinition{
		ID:             r.ID,
		Name:           r.Name,
		TableName:      r.TableName,
		DisplayName:    r.DisplayName,
		HasTimestamps:  r.HasTimestamps,
		HasSoftDeletes: r.HasSoftDeletes,
		APIEnabled:     r.APIEnabled,
		IsActive:       r.IsActive,
		ListRule:       r.ListRule,
		ViewRule:       r.ViewRule,
		CreateRule:     r.CreateRule,
		UpdateRule:     r.UpdateRule,
		DeleteRule:     r.DeleteRule,
		Settings:       map[string]any{},
		Fields:         []model.FieldDefinition{},
		Relationships:  []model.RelationshipDefinition{},
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.SettingsJSON != "" {
		if err := json.Unmarshal([]byte(r.SettingsJSON), &m.Settings); err != nil {
			return model.ModelDefinition{}, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	return m, nil
}

// CreateModel inserts a model definition together with its fields and
// relationships in one transaction. IDs and timestamps are populated.
func (s *Store) CreateModel(ctx context.Context, m *model.ModelDefinition) error {
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	row, err := modelRowFromModel(m)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const q = `INSERT INTO models
		(name, table_name, display_name, has_timestamps, has_soft_deletes, api_enabled, is_active,
		 list_rule, view_rule, create_rule, update_rule, delete_rule, settings_json, created_at, updated_at)
		VALUES
		(:name, :table_name, :display_name, :has_timestamps, :has_soft_deletes, :api_enabled, :is_active,
		 :list_rule, :view_rule, :create_rule, :update_rule, :delete_rule, :settings_json, :created_at, :updated_at)`

	result, err := tx.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert model: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get model id: %w", err)
	}
	m.ID = id

	for i := range m.Fields {
		m.Fields[i].ModelID = id
		if m.Fields[i].Position == 0 {
			m.Fields[i].Position = i + 1
		}
		if err := insertField(ctx, tx, &m.Fields[i]); err != nil {
			return err
		}
	}
	for i := range m.Relationships {
		m.Relationships[i].ModelID = id
		if err := insertRelationship(ctx, tx, &m.Relationships[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetModel returns a model definition by ID with fields and relationships.
func (s *Store) GetModel(ctx context.Context, id int64) (*model.ModelDefinition, error) {
	return s.getModel(ctx, "id = ?", id)
}

// GetModelByTable returns a model definition by its physical table name.
func (s *Store) GetModelByTable(ctx context.Context, table string) (*model.ModelDefinition, error) {
	return s.getModel(ctx, "table_name = ?", table)
}

func (s *Store) getModel(ctx context.Context, where string, arg any) (*model.ModelDefinition, error) {
	var row modelRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM models WHERE "+where, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get model: %w", err)
	}
	m, err := row.toModel()
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) loadChildren(ctx context.Context, m *model.ModelDefinition) error {
	fields, err := s.ListFields(ctx, m.ID)
	if err != nil {
		return err
	}
	m.Fields = fields
	rels, err := s.ListRelationships(ctx, m.ID)
	if err != nil {
		return err
	}
	m.Relationships = rels
	return nil
}

// ListModels returns all model definitions ordered by table name.
func (s *Store) ListModels(ctx context.Context) ([]model.ModelDefinition, error) {
	var rows []modelRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM models ORDER BY table_name"); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	out := make([]model.ModelDefinition, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		if err := s.loadChildren(ctx, &m); err != nil {
			return nil, fmt.Errorf("load model %s: %w", m.TableName, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// UpdateModel updates the model row. The table name is immutable; fields and
// relationships are managed separately.
func (s *Store) UpdateModel(ctx context.Context, m *model.ModelDefinition) error {
	m.UpdatedAt = time.Now().UTC()
	row, err := modelRowFromModel(m)
	if err != nil {
		return err
	}
	const q = `UPDATE models SET
		name = :name, display_name = :display_name, has_timestamps = :has_timestamps,
		has_soft_deletes = :has_soft_deletes, api_enabled = :api_enabled, is_active = :is_active,
		list_rule = :list_rule, view_rule = :view_rule, create_rule = :create_rule,
		update_rule = :update_rule, delete_rule = :delete_rule, settings_json = :settings_json,
		updated_at = :updated_at
		WHERE id = :id`
	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("update model: %w", err)
	}
	return rowsAffected(result, "update model")
}

// DeleteModel removes a model definition. Fields, relationships and webhooks
// are cascade deleted by foreign keys.
func (s *Store) DeleteModel(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM models WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	return rowsAffected(result, "delete model")
}

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

type fieldRow struct {
	ID             int64      `db:"id"`
	ModelID        int64      `db:"model_id"`
	Name           string     `db:"name"`
	DisplayName    string     `db:"display_name"`
	Type           string     `db:"type"`
	Position       int        `db:"position"`
	Required       bool       `db:"required"`
	IsUnique       bool       `db:"is_unique"`
	Indexed        bool       `db:"indexed"`
	Searchable     bool       `db:"searchable"`
	Filterable     bool       `db:"filterable"`
	Sortable       bool       `db:"sortable"`
	Hidden         bool       `db:"hidden"`
	DefaultValue   string     `db:"default_value"`
	ValidationJSON string     `db:"validation_json"`
	OptionsJSON    string     `db:"options_json"`
	SyncedAt       *time.Time `db:"synced_at"`
}

func fieldRowFromModel(f *model.FieldDefinition) (fieldRow, error) {
	validation, err := json.Marshal(nonNil(f.Validation))
	if err != nil {
		return fieldRow{}, fmt.Errorf("marshal validation: %w", err)
	}
	options, err := json.Marshal(nonNil(f.Options))
	if err != nil {
		return fieldRow{}, fmt.Errorf("marshal options: %w", err)
	}
	return fieldRow{
		ID:             f.ID,
		ModelID:        f.ModelID,
		Name:           f.Name,
		DisplayName:    f.DisplayName,
		Type:           string(f.Type),
		Position:       f.Position,
		Required:       f.Required,
		IsUnique:       f.Unique,
		Indexed:        f.Indexed,
		Searchable:     f.Searchable,
		Filterable:     f.Filterable,
		Sortable:       f.Sortable,
		Hidden:         f.Hidden,
		DefaultValue:   f.DefaultValue,
		ValidationJSON: string(validation),
		OptionsJSON:    string(options),
		SyncedAt:       f.SyncedAt,
	}, nil
}

func (r fieldRow) toModel() (model.FieldDefinition, error) {
	f := model.FieldDefinition{
		ID:           r.ID,
		ModelID:      r.ModelID,
		Name:         r.Name,
		DisplayName:  r.DisplayName,
		Type:         fieldtype.Type(r.Type),
		Position:     r.Position,
		Required:     r.Required,
		Unique:       r.IsUnique,
		Indexed:      r.Indexed,
		Searchable:   r.Searchable,
		Filterable:   r.Filterable,
		Sortable:     r.Sortable,
		Hidden:       r.Hidden,
		DefaultValue: r.DefaultValue,
		SyncedAt:     r.SyncedAt,
	}
	if err := json.Unmarshal([]byte(r.ValidationJSON), &f.Validation); err != nil {
		return model.FieldDefinition{}, fmt.Errorf("unmarshal validation: %w", err)
	}
	if err := json.Unmarshal([]byte(r.OptionsJSON), &f.Options); err != nil {
		return model.FieldDefinition{}, fmt.Errorf("unmarshal options: %w", err)
	}
	f.Validation = nonNil(f.Validation)
	f.Options = nonNil(f.Options)
	return f, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func insertField(ctx context.Context, tx *sqlx.Tx, f *model.FieldDefinition) error {
	row, err := fieldRowFromModel(f)
	if err != nil {
		return err
	}
	const q = `INSERT INTO model_fields
		(model_id, name, display_name, type, position, required, is_unique, indexed, searchable,
		 filterable, sortable, hidden, default_value, validation_json, options_json, synced_at)
		VALUES
		(:model_id, :name, :display_name, :type, :position, :required, :is_unique, :indexed, :searchable,
		 :filterable, :sortable, :hidden, :default_value, :validation_json, :options_json, :synced_at)`
	result, err := tx.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert field %s: %w", f.Name, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get field id: %w", err)
	}
	f.ID = id
	return nil
}

// ListFields returns a model's fields in position order.
func (s *Store) ListFields(ctx context.Context, modelID int64) ([]model.FieldDefinition, error) {
	var rows []fieldRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM model_fields WHERE model_id = ? ORDER BY position, id", modelID); err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	out := make([]model.FieldDefinition, 0, len(rows))
	for _, r := range rows {
		f, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// AddField appends a field to a model. Position defaults to the end.
func (s *Store) AddField(ctx context.Context, f *model.FieldDefinition) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if f.Position == 0 {
		var maxPos sql.NullInt64
		if err := tx.GetContext(ctx, &maxPos,
			"SELECT MAX(position) FROM model_fields WHERE model_id = ?", f.ModelID); err != nil {
			return fmt.Errorf("max field position: %w", err)
		}
		f.Position = int(maxPos.Int64) + 1
	}
	if err := insertField(ctx, tx, f); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateField rewrites a field's attributes by ID.
func (s *Store) UpdateField(ctx context.Context, f *model.FieldDefinition) error {
	row, err := fieldRowFromModel(f)
	if err != nil {
		return err
	}
	const q = `UPDATE model_fields SET
		name = :name, display_name = :display_name, type = :type, position = :position,
		required = :required, is_unique = :is_unique, indexed = :indexed, searchable = :searchable,
		filterable = :filterable, sortable = :sortable, hidden = :hidden, default_value = :default_value,
		validation_json = :validation_json, options_json = :options_json
		WHERE id = :id`
	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("update field: %w", err)
	}
	return rowsAffected(result, "update field")
}

// DeleteField removes a field definition. The physical column is left alone.
func (s *Store) DeleteField(ctx context.Context, modelID int64, name string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM model_fields WHERE model_id = ? AND name = ?", modelID, name)
	if err != nil {
		return fmt.Errorf("delete field: %w", err)
	}
	return rowsAffected(result, "delete field")
}

// MarkFieldsSynced stamps synced_at on the named fields that lack it.
func (s *Store) MarkFieldsSynced(ctx context.Context, modelID int64, names []string, at time.Time) error {
	if len(names) == 0 {
		return nil
	}
	q, args, err := sqlx.In(
		"UPDATE model_fields SET synced_at = ? WHERE model_id = ? AND synced_at IS NULL AND name IN (?)",
		at.UTC(), modelID, names)
	if err != nil {
		return fmt.Errorf("build mark synced: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...); err != nil {
		return fmt.Errorf("mark fields synced: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Relationships
// ---------------------------------------------------------------------------

func insertRelationship(ctx context.Context, tx *sqlx.Tx, r *model.RelationshipDefinition) error {
	const q = `INSERT INTO model_relationships
		(model_id, name, related_model, kind, foreign_key, local_key, pivot_table, related_pivot_key)
		VALUES
		(:model_id, :name, :related_model, :kind, :foreign_key, :local_key, :pivot_table, :related_pivot_key)`
	result, err := tx.NamedExecContext(ctx, q, r)
	if err != nil {
		return fmt.Errorf("insert relationship %s: %w", r.Name, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get relationship id: %w", err)
	}
	r.ID = id
	return nil
}

// ListRelationships returns a model's relationships.
func (s *Store) ListRelationships(ctx context.Context, modelID int64) ([]model.RelationshipDefinition, error) {
	var rels []model.RelationshipDefinition
	if err := s.db.SelectContext(ctx, &rels,
		"SELECT * FROM model_relationships WHERE model_id = ? ORDER BY name", modelID); err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	if rels == nil {
		rels = []model.RelationshipDefinition{}
	}
	return rels, nil
}

// AddRelationship inserts a relationship definition.
func (s *Store) AddRelationship(ctx context.Context, r *model.RelationshipDefinition) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := insertRelationship(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteRelationship removes a relationship by name.
func (s *Store) DeleteRelationship(ctx context.Context, modelID int64, name string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM model_relationships WHERE model_id = ? AND name = ?", modelID, name)
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	return rowsAffected(result, "delete relationship")
}

package model

import (
	"time"

	"github.com/faucetdb/basin/internal/fieldtype"
)

// ReservedColumns are managed by the engine and may not be declared as fields.
var ReservedColumns = []string{"id", "created_at", "updated_at", "deleted_at"}

// ModelDefinition describes a user-defined data model and the physical table
// that backs it. The five rule strings gate the corresponding data API
// operations.
type ModelDefinition struct {
	ID             int64                    `json:"id" db:"id"`
	Name           string                   `json:"name" db:"name" validate:"required,max=100"`
	TableName      string                   `json:"table_name" db:"table_name" validate:"required,max=64"`
	DisplayName    string                   `json:"display_name" db:"display_name"`
	HasTimestamps  bool                     `json:"has_timestamps" db:"has_timestamps"`
	HasSoftDeletes bool                     `json:"has_soft_deletes" db:"has_soft_deletes"`
	APIEnabled     bool                     `json:"api_enabled" db:"api_enabled"`
	IsActive       bool                     `json:"is_active" db:"is_active"`
	ListRule       string                   `json:"list_rule" db:"list_rule"`
	ViewRule       string                   `json:"view_rule" db:"view_rule"`
	CreateRule     string                   `json:"create_rule" db:"create_rule"`
	UpdateRule     string                   `json:"update_rule" db:"update_rule"`
	DeleteRule     string                   `json:"delete_rule" db:"delete_rule"`
	Settings       map[string]any           `json:"settings"`
	Fields         []FieldDefinition        `json:"fields"`
	Relationships  []RelationshipDefinition `json:"relationships"`
	CreatedAt      time.Time                `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at" db:"updated_at"`
}

// Field returns the named field definition, or nil.
func (m *ModelDefinition) Field(name string) *FieldDefinition {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i]
		}
	}
	return nil
}

// Relationship returns the named relationship, or nil.
func (m *ModelDefinition) Relationship(name string) *RelationshipDefinition {
	for i := range m.Relationships {
		if m.Relationships[i].Name == name {
			return &m.Relationships[i]
		}
	}
	return nil
}

// RuleFor returns the rule string consulted by an operation.
func (m *ModelDefinition) RuleFor(op Operation) string {
	switch op {
	case OpList:
		return m.ListRule
	case OpView:
		return m.ViewRule
	case OpCreate:
		return m.CreateRule
	case OpUpdate:
		return m.UpdateRule
	case OpDelete:
		return m.DeleteRule
	}
	return ""
}

// Serving reports whether the model is exposed on the data API.
func (m *ModelDefinition) Serving() bool {
	return m.IsActive && m.APIEnabled
}

// Operation is a data API operation that consults exactly one rule.
type Operation string

const (
	OpList   Operation = "list"
	OpView   Operation = "view"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// FieldDefinition is one declared column of a model.
type FieldDefinition struct {
	ID           int64          `json:"id" db:"id"`
	ModelID      int64          `json:"model_id" db:"model_id"`
	Name         string         `json:"name" db:"name" validate:"required,max=64"`
	DisplayName  string         `json:"display_name" db:"display_name"`
	Type         fieldtype.Type `json:"type" db:"type" validate:"required"`
	Position     int            `json:"position" db:"position"`
	Required     bool           `json:"required" db:"required"`
	Unique       bool           `json:"unique" db:"is_unique"`
	Indexed      bool           `json:"indexed" db:"indexed"`
	Searchable   bool           `json:"searchable" db:"searchable"`
	Filterable   bool           `json:"filterable" db:"filterable"`
	Sortable     bool           `json:"sortable" db:"sortable"`
	Hidden       bool           `json:"hidden" db:"hidden"`
	DefaultValue string         `json:"default_value" db:"default_value"`
	Validation   []string       `json:"validation"`
	Options      []string       `json:"options"`
	SyncedAt     *time.Time     `json:"synced_at,omitempty" db:"synced_at"`
}

// Relationship kinds.
const (
	HasOne        = "hasOne"
	HasMany       = "hasMany"
	BelongsTo     = "belongsTo"
	BelongsToMany = "belongsToMany"
)

// RelationshipDefinition links a model to another model for includes.
type RelationshipDefinition struct {
	ID              int64  `json:"id" db:"id"`
	ModelID         int64  `json:"model_id" db:"model_id"`
	Name            string `json:"name" db:"name" validate:"required,max=64"`
	RelatedModel    string `json:"related_model" db:"related_model" validate:"required"`
	Kind            string `json:"kind" db:"kind" validate:"required,oneof=hasOne hasMany belongsTo belongsToMany"`
	ForeignKey      string `json:"foreign_key" db:"foreign_key"`
	LocalKey        string `json:"local_key" db:"local_key"`
	PivotTable      string `json:"pivot_table,omitempty" db:"pivot_table"`
	RelatedPivotKey string `json:"related_pivot_key,omitempty" db:"related_pivot_key"`
}

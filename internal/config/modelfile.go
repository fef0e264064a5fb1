package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/faucetdb/basin/internal/fieldtype"
	"github.com/faucetdb/basin/internal/model"
)

// ModelFile is a declarative set of model definitions applied with
// `basin model apply -f`.
type ModelFile struct {
	Models []ModelYAML `yaml:"models"`
}

// ModelYAML is one model in a ModelFile.
type ModelYAML struct {
	Name          string             `yaml:"name"`
	Table         string             `yaml:"table"`
	DisplayName   string             `yaml:"display_name"`
	Timestamps    *bool              `yaml:"timestamps"`
	SoftDeletes   bool               `yaml:"soft_deletes"`
	APIEnabled    *bool              `yaml:"api_enabled"`
	Rules         RulesYAML          `yaml:"rules"`
	Settings      map[string]any     `yaml:"settings"`
	Fields        []FieldYAML        `yaml:"fields"`
	Relationships []RelationshipYAML `yaml:"relationships"`
}

// RulesYAML holds the five operation rules.
type RulesYAML struct {
	List   string `yaml:"list"`
	View   string `yaml:"view"`
	Create string `yaml:"create"`
	Update string `yaml:"update"`
	Delete string `yaml:"delete"`
}

// FieldYAML is one field of a ModelYAML.
type FieldYAML struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Type        string   `yaml:"type"`
	Required    bool     `yaml:"required"`
	Unique      bool     `yaml:"unique"`
	Indexed     bool     `yaml:"indexed"`
	Searchable  bool     `yaml:"searchable"`
	Filterable  bool     `yaml:"filterable"`
	Sortable    bool     `yaml:"sortable"`
	Hidden      bool     `yaml:"hidden"`
	Default     string   `yaml:"default"`
	Validation  []string `yaml:"validation"`
	Options     []string `yaml:"options"`
}

// RelationshipYAML is one relationship of a ModelYAML.
type RelationshipYAML struct {
	Name            string `yaml:"name"`
	Kind            string `yaml:"kind"`
	Related         string `yaml:"related"`
	ForeignKey      string `yaml:"foreign_key"`
	LocalKey        string `yaml:"local_key"`
	PivotTable      string `yaml:"pivot_table"`
	RelatedPivotKey string `yaml:"related_pivot_key"`
}

// LoadModelFile parses a model definition file. Definitions are returned
// unvalidated; the model service validates them on save.
func LoadModelFile(path string) ([]model.ModelDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	var f ModelFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse model file: %w", err)
	}
	out := make([]model.ModelDefinition, 0, len(f.Models))
	for _, m := range f.Models {
		out = append(out, m.toModel())
	}
	return out, nil
}

func (m ModelYAML) toModel() model.ModelDefinition {
	def := model.ModelDefinition{
		Name:           m.Name,
		TableName:      m.Table,
		DisplayName:    m.DisplayName,
		HasTimestamps:  m.Timestamps == nil || *m.Timestamps,
		HasSoftDeletes: m.SoftDeletes,
		APIEnabled:     m.APIEnabled == nil || *m.APIEnabled,
		IsActive:       true,
		ListRule:       m.Rules.List,
		ViewRule:       m.Rules.View,
		CreateRule:     m.Rules.Create,
		UpdateRule:     m.Rules.Update,
		DeleteRule:     m.Rules.Delete,
		Settings:       m.Settings,
	}
	if def.TableName == "" {
		def.TableName = m.Name
	}
	for i, f := range m.Fields {
		def.Fields = append(def.Fields, model.FieldDefinition{
			Name:         f.Name,
			DisplayName:  f.DisplayName,
			Type:         fieldtype.Type(f.Type),
			Position:     i + 1,
			Required:     f.Required,
			Unique:       f.Unique,
			Indexed:      f.Indexed,
			Searchable:   f.Searchable,
			Filterable:   f.Filterable,
			Sortable:     f.Sortable,
			Hidden:       f.Hidden,
			DefaultValue: f.Default,
			Validation:   f.Validation,
			Options:      f.Options,
		})
	}
	for _, r := range m.Relationships {
		def.Relationships = append(def.Relationships, model.RelationshipDefinition{
			Name:            r.Name,
			Kind:            r.Kind,
			RelatedModel:    r.Related,
			ForeignKey:      r.ForeignKey,
			LocalKey:        r.LocalKey,
			PivotTable:      r.PivotTable,
			RelatedPivotKey: r.RelatedPivotKey,
		})
	}
	return def
}

package data

import (
	"context"

	"github.com/faucetdb/basin/internal/model"
)

// ModelSchema describes a served model to API clients.
type ModelSchema struct {
	Name           string                         `json:"name"`
	Table          string                         `json:"table"`
	DisplayName    string                         `json:"display_name"`
	HasTimestamps  bool                           `json:"has_timestamps"`
	HasSoftDeletes bool                           `json:"has_soft_deletes"`
	Fields         []model.FieldDefinition        `json:"fields"`
	Relationships  []model.RelationshipDefinition `json:"relationships"`
	Endpoints      map[string]string              `json:"endpoints"`
}

// Schema returns the public description of table. Hidden fields are left out.
func (s *Service) Schema(ctx context.Context, table string) (*ModelSchema, error) {
	def, err := s.Model(ctx, table)
	if err != nil {
		return nil, err
	}
	out := &ModelSchema{
		Name:           def.Name,
		Table:          def.TableName,
		DisplayName:    def.DisplayName,
		HasTimestamps:  def.HasTimestamps,
		HasSoftDeletes: def.HasSoftDeletes,
		Fields:         make([]model.FieldDefinition, 0, len(def.Fields)),
		Relationships:  def.Relationships,
		Endpoints:      Endpoints(def.TableName),
	}
	if out.Relationships == nil {
		out.Relationships = []model.RelationshipDefinition{}
	}
	for _, f := range def.Fields {
		if !f.Hidden {
			out.Fields = append(out.Fields, f)
		}
	}
	return out, nil
}

// Endpoints maps each data operation on table to its route.
func Endpoints(table string) map[string]string {
	base := "/data/" + table
	return map[string]string{
		"list":   "GET " + base,
		"create": "POST " + base,
		"show":   "GET " + base + "/{id}",
		"update": "PUT|PATCH " + base + "/{id}",
		"delete": "DELETE " + base + "/{id}",
		"schema": "GET " + base + "/schema",
	}
}

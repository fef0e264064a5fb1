package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/model"
)

// DriftType classifies a difference between a definition and its table.
type DriftType string

const (
	// DriftAdditive is fixable by Sync.
	DriftAdditive DriftType = "additive"
	// DriftUnmanaged is a live column no definition describes. Sync leaves it alone.
	DriftUnmanaged DriftType = "unmanaged"
)

// DriftItem describes a single difference.
type DriftItem struct {
	Type        DriftType `json:"type"`
	Category    string    `json:"category"` // "table_missing", "column_missing", "column_unmanaged"
	TableName   string    `json:"table_name"`
	ColumnName  string    `json:"column_name,omitempty"`
	Value       string    `json:"value,omitempty"`
	Description string    `json:"description"`
}

// DriftReport summarizes the differences for one model.
type DriftReport struct {
	TableName      string      `json:"table_name"`
	HasDrift       bool        `json:"has_drift"`
	TableMissing   bool        `json:"table_missing"`
	MissingCount   int         `json:"missing_count"`
	UnmanagedCount int         `json:"unmanaged_count"`
	Items          []DriftItem `json:"items"`
	CheckedAt      time.Time   `json:"checked_at"`
}

// Drift compares def with the live table without changing anything.
func (s *Synchronizer) Drift(ctx context.Context, def *model.ModelDefinition) (*DriftReport, error) {
	columns, err := s.columnDefs(def)
	if err != nil {
		return nil, err
	}
	report := &DriftReport{TableName: def.TableName, Items: []DriftItem{}, CheckedAt: time.Now().UTC()}

	exists, err := s.conn.TableExists(ctx, def.TableName)
	if err != nil {
		return nil, apperr.SchemaSync("check table "+def.TableName, err)
	}
	if !exists {
		report.TableMissing = true
		report.HasDrift = true
		report.Items = append(report.Items, DriftItem{
			Type:        DriftAdditive,
			Category:    "table_missing",
			TableName:   def.TableName,
			Description: fmt.Sprintf("Table %q does not exist", def.TableName),
		})
		report.MissingCount = 1
		return report, nil
	}

	live, err := s.conn.LiveColumns(ctx, def.TableName)
	if err != nil {
		return nil, apperr.SchemaSync("read columns of "+def.TableName, err)
	}
	liveByName := make(map[string]model.Column, len(live))
	for _, c := range live {
		liveByName[c.Name] = c
	}
	managed := map[string]bool{"id": true}

	for _, c := range columns {
		managed[c.Name] = true
		if _, ok := liveByName[c.Name]; ok {
			continue
		}
		report.Items = append(report.Items, DriftItem{
			Type:        DriftAdditive,
			Category:    "column_missing",
			TableName:   def.TableName,
			ColumnName:  c.Name,
			Value:       s.conn.ColumnType(c.Kind),
			Description: fmt.Sprintf("Column %q is defined but missing from table %q", c.Name, def.TableName),
		})
		report.MissingCount++
	}

	for _, c := range live {
		if managed[c.Name] {
			continue
		}
		report.Items = append(report.Items, DriftItem{
			Type:        DriftUnmanaged,
			Category:    "column_unmanaged",
			TableName:   def.TableName,
			ColumnName:  c.Name,
			Value:       c.Type,
			Description: fmt.Sprintf("Column %q exists in table %q but has no field definition", c.Name, def.TableName),
		})
		report.UnmanagedCount++
	}

	report.HasDrift = len(report.Items) > 0
	return report, nil
}

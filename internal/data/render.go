package data

import (
	"fmt"
	"maps"
	"slices"

	"github.com/faucetdb/basin/internal/fieldtype"
	"github.com/faucetdb/basin/internal/model"
)

// render converts a scanned row into its wire form: declared fields are
// normalised by type, hidden fields and unmanaged columns are dropped.
func render(def *model.ModelDefinition, row map[string]any) map[string]any {
	out := make(map[string]any, len(def.Fields)+4)
	out["id"] = fieldtype.FromStorage(fieldtype.Integer, row["id"])
	for _, f := range def.Fields {
		if f.Hidden {
			continue
		}
		out[f.Name] = fieldtype.FromStorage(f.Type, row[f.Name])
	}
	if def.HasTimestamps {
		out["created_at"] = fieldtype.FromStorage(fieldtype.DateTime, row["created_at"])
		out["updated_at"] = fieldtype.FromStorage(fieldtype.DateTime, row["updated_at"])
	}
	if def.HasSoftDeletes {
		out["deleted_at"] = fieldtype.FromStorage(fieldtype.DateTime, row["deleted_at"])
	}
	return out
}

// keyString normalises a key column value so values scanned from
// different columns compare equal.
func keyString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case []byte:
		return string(x), true
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprint(int64(x)), true
		}
	}
	return fmt.Sprint(v), true
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

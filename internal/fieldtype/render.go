package fieldtype

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FromStorage converts a value scanned from the backing store into its
// canonical wire form. Drivers disagree on representations (sqlite returns
// booleans as int64, mysql returns text as []byte, postgres returns dates as
// time.Time), so every kind normalizes here.
func FromStorage(t Type, v any) any {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		if t.Kind() == KindUUID && len(b) == 16 {
			if id, err := uuid.FromBytes(b); err == nil {
				return id.String()
			}
		}
		v = string(b)
	}

	switch t.Kind() {
	case KindInteger:
		switch x := v.(type) {
		case int64:
			return x
		case int32:
			return int64(x)
		case int:
			return int64(x)
		case float64:
			return int64(x)
		case string:
			if n, err := strconv.ParseInt(x, 10, 64); err == nil {
				return n
			}
		}
	case KindFloat, KindDecimal:
		switch x := v.(type) {
		case float64:
			return x
		case float32:
			return float64(x)
		case int64:
			return float64(x)
		case string:
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return f
			}
		}
	case KindBoolean:
		switch x := v.(type) {
		case bool:
			return x
		case int64:
			return x != 0
		case int:
			return x != 0
		case string:
			if b, err := coerceBoolean(x, nil); err == nil {
				return b
			}
		}
	case KindDate:
		switch x := v.(type) {
		case time.Time:
			return x.Format(DateLayout)
		case string:
			if tm, err := parseTemporal(x); err == nil {
				return tm.Format(DateLayout)
			}
		}
	case KindDateTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC().Format(DateTimeLayout)
		case string:
			if tm, err := parseTemporal(x); err == nil {
				return tm.UTC().Format(DateTimeLayout)
			}
		}
	case KindTime:
		switch x := v.(type) {
		case time.Time:
			return x.Format(TimeLayout)
		case string:
			if tm, err := coerceTime(x, nil); err == nil {
				return tm
			}
		}
	case KindJSON:
		if s, ok := v.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
	case KindUUID:
		if s, ok := v.(string); ok {
			if id, err := uuid.Parse(s); err == nil {
				return id.String()
			}
		}
	}
	return v
}

// DefaultValue parses a field's configured default into a storage value.
// An empty default yields nil, except for booleans which default to false.
func DefaultValue(t Type, raw string, options []string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if t.Kind() == KindBoolean {
			return false, nil
		}
		return nil, nil
	}
	return Coerce(t, raw, options)
}

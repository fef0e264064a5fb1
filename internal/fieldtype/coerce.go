package fieldtype

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/faucetdb/basin/internal/query"
)

// Canonical layouts for temporal values on the wire.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = time.RFC3339
	TimeLayout     = "15:04:05"
)

// ErrInvalidValue is wrapped by every coercion failure.
var ErrInvalidValue = errors.New("invalid value")

type coerceFunc func(v any, options []string) (any, error)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidValue, fmt.Sprintf(format, args...))
}

// Coerce converts a decoded JSON value into the storage-native value for t.
// A nil input, or an empty string for a non-textual type, coerces to nil.
func Coerce(t Type, v any, options []string) (any, error) {
	s, ok := specs[t]
	if !ok {
		return nil, invalid("unknown field type %q", t)
	}
	if v == nil {
		return nil, nil
	}
	if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" && !t.Textual() {
		return nil, nil
	}
	return s.coerce(v, options)
}

// MaxStringLength is the character limit of KindString columns, which every
// dialect stores as a 255-character VARCHAR.
const MaxStringLength = 255

func coerceString(v any, _ []string) (any, error) {
	return textValue(v, MaxStringLength)
}

func coerceText(v any, _ []string) (any, error) {
	return textValue(v, 0)
}

func textValue(v any, maxLen int) (any, error) {
	var s string
	switch x := v.(type) {
	case string:
		s = strings.TrimSpace(x)
	case json.Number:
		s = x.String()
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(x)
	case int, int64, int32:
		s = fmt.Sprint(x)
	default:
		return nil, invalid("must be a string")
	}
	s, err := query.SanitizeStringValue(s, maxLen)
	if err != nil {
		return nil, invalid("may not be greater than %d characters", maxLen)
	}
	return s, nil
}

func coerceOption(v any, options []string) (any, error) {
	s, err := coerceString(v, nil)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(options, s.(string)) {
		return nil, invalid("must be one of: %s", strings.Join(options, ", "))
	}
	return s, nil
}

func coerceInteger(v any, _ []string) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return nil, invalid("must be an integer")
		}
		if x > math.MaxInt64 || x < math.MinInt64 {
			return nil, invalid("integer out of range")
		}
		return int64(x), nil
	case json.Number:
		return parseInteger(x.String())
	case string:
		return parseInteger(strings.TrimSpace(x))
	}
	return nil, invalid("must be an integer")
}

func parseInteger(s string) (any, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, invalid("must be an integer")
	}
	return n, nil
}

func coerceFloat(v any, _ []string) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return parseFloat(x.String())
	case string:
		return parseFloat(strings.TrimSpace(x))
	}
	return nil, invalid("must be a number")
}

func parseFloat(s string) (any, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, invalid("must be a number")
	}
	return f, nil
}

func coerceBoolean(v any, _ []string) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case float64:
		switch x {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	case int:
		switch x {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	case int64:
		switch x {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	case json.Number:
		return coerceBoolean(x.String(), nil)
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true":
			return true, nil
		case "0", "false":
			return false, nil
		}
	}
	return nil, invalid("must be true or false")
}

func coerceDate(v any, _ []string) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, invalid("must be a date (YYYY-MM-DD)")
	}
	t, err := parseTemporal(strings.TrimSpace(s))
	if err != nil {
		return nil, invalid("must be a date (YYYY-MM-DD)")
	}
	return t.Format(DateLayout), nil
}

// Datetimes are handed to drivers as time.Time in UTC so each dialect can
// encode them natively.
func coerceDateTime(v any, _ []string) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, invalid("must be an RFC 3339 datetime")
	}
	t, err := parseTemporal(strings.TrimSpace(s))
	if err != nil {
		return nil, invalid("must be an RFC 3339 datetime")
	}
	return t.UTC(), nil
}

func coerceTime(v any, _ []string) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, invalid("must be a time (HH:MM:SS)")
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{TimeLayout, "15:04", "15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(TimeLayout), nil
		}
	}
	return nil, invalid("must be a time (HH:MM:SS)")
}

var temporalLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	DateLayout,
}

func parseTemporal(s string) (time.Time, error) {
	for _, layout := range temporalLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalid("unrecognised temporal value %q", s)
}

// JSON values are stored as their serialized text.
func coerceJSON(v any, _ []string) (any, error) {
	if s, ok := v.(string); ok {
		if !json.Valid([]byte(s)) {
			return nil, invalid("must be valid JSON")
		}
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, invalid("must be valid JSON")
	}
	return string(b), nil
}

func coerceArray(v any, _ []string) (any, error) {
	if s, ok := v.(string); ok {
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err != nil {
			return nil, invalid("must be an array")
		}
		v = arr
	}
	if rv := reflect.ValueOf(v); rv.Kind() != reflect.Slice {
		return nil, invalid("must be an array")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, invalid("must be an array")
	}
	return string(b), nil
}

func coerceUUID(v any, _ []string) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, invalid("must be a UUID")
	}
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, invalid("must be a UUID")
	}
	return id.String(), nil
}

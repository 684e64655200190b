package generic

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Narrow coerces a loosely typed numeric into the canonical representation
// of t: float64 for DOUBLE and int64 for LONG. Every other combination,
// including nil, is returned unchanged. Narrow never fails.
func Narrow(t Type, v any) any {
	if v == nil {
		return nil
	}
	switch t {
	case Double:
		if f, ok := asFloat(v); ok {
			return f
		}
	case Long:
		if i, ok := asInt(v); ok {
			return i
		}
	}
	return v
}

// Parse converts a string literal into the canonical value of t.
func Parse(s string, t Type) (any, error) {
	switch t {
	case Double:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, coercionError(s, t, err)
		}
		return f, nil
	case Long:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, coercionError(s, t, err)
		}
		return i, nil
	case Date:
		d, err := time.Parse(DateLayout, strings.TrimSpace(s))
		if err != nil {
			return nil, coercionError(s, t, err)
		}
		return d.UTC(), nil
	case Boolean:
		switch {
		case strings.EqualFold(s, "true"):
			return true, nil
		case strings.EqualFold(s, "false"):
			return false, nil
		}
		return nil, coercionError(s, t, nil)
	default:
		return s, nil
	}
}

// dateLayouts are tried in order when a driver hands back a DATE as text.
var dateLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FromDriver converts a raw value scanned from a driver into the canonical
// representation of t. On failure the unconverted value is returned along
// with the error, so callers can keep it and carry on.
func FromDriver(t Type, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}

	switch t {
	case String, Geometry:
		switch v := raw.(type) {
		case string:
			return v, nil
		case time.Time:
			return v.UTC().Format(DateLayout), nil
		case fmt.Stringer:
			return v.String(), nil
		}
		if f, ok := asFloat(raw); ok {
			if i, ok := raw.(int64); ok {
				return strconv.FormatInt(i, 10), nil
			}
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
		if b, ok := raw.(bool); ok {
			return strconv.FormatBool(b), nil
		}
		return fmt.Sprint(raw), nil

	case Double:
		if s, ok := raw.(string); ok {
			v, err := Parse(s, Double)
			if err != nil {
				return raw, err
			}
			return v, nil
		}
		if f, ok := asFloat(raw); ok {
			return f, nil
		}

	case Long:
		if s, ok := raw.(string); ok {
			s = strings.TrimSpace(s)
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return raw, coercionError(raw, t, err)
			}
			return int64(f), nil
		}
		if i, ok := asInt(raw); ok {
			return i, nil
		}

	case Date:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case string:
			for _, layout := range dateLayouts {
				if d, err := time.Parse(layout, v); err == nil {
					return d, nil
				}
			}
			return raw, coercionError(raw, t, errors.New("unrecognized date layout"))
		}

	case Boolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return raw, coercionError(raw, t, err)
			}
			return b, nil
		}
		if i, ok := asInt(raw); ok {
			return i != 0, nil
		}
	}
	return raw, coercionError(raw, t, nil)
}

// NullValue returns a typed null suitable as a driver argument for t.
// Drivers that need a parameter type for NULL (SQL Server, Oracle) pick it
// from the sql.Null* wrapper.
func NullValue(t Type) any {
	switch t {
	case Double:
		return sql.NullFloat64{}
	case Long:
		return sql.NullInt64{}
	case Date:
		return sql.NullTime{}
	case Boolean:
		return sql.NullBool{}
	default:
		return sql.NullString{}
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		return int64(f), err == nil
	}
	return 0, false
}

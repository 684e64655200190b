package generic

import (
	"encoding/json"
	"fmt"
	"time"
)

// Value is a nullable datum tagged with its generic type. Non-null payloads
// hold the canonical representation of the type (string, float64, int64,
// time.Time, bool, or WKT string for GEOMETRY) whenever narrowing succeeded;
// otherwise the driver's own value is kept as-is.
type Value struct {
	typ Type
	val any
}

// NewValue tags v with t, narrowing it on the way in.
func NewValue(t Type, v any) Value {
	if inner, ok := v.(Value); ok {
		v = inner.val
	}
	return Value{typ: t, val: Narrow(t, v)}
}

// Null returns the null value of t.
func Null(t Type) Value {
	return Value{typ: t}
}

func (v Value) Type() Type     { return v.typ }
func (v Value) IsNull() bool   { return v.val == nil }
func (v Value) Interface() any { return v.val }

// Arg returns the value in a form suitable as a database/sql argument.
func (v Value) Arg() any {
	if v.val == nil {
		return NullValue(v.typ)
	}
	return v.val
}

func (v Value) AsString() (string, bool) {
	s, ok := v.val.(string)
	return s, ok
}

func (v Value) AsDouble() (float64, bool) {
	f, ok := v.val.(float64)
	return f, ok
}

func (v Value) AsLong() (int64, bool) {
	i, ok := v.val.(int64)
	return i, ok
}

func (v Value) AsDate() (time.Time, bool) {
	d, ok := v.val.(time.Time)
	return d, ok
}

func (v Value) AsBool() (bool, bool) {
	b, ok := v.val.(bool)
	return b, ok
}

func (v Value) String() string {
	switch x := v.val.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return x.UTC().Format(DateLayout)
	default:
		return fmt.Sprint(x)
	}
}

// MarshalJSON renders null as JSON null and DATE values with DateLayout.
func (v Value) MarshalJSON() ([]byte, error) {
	switch x := v.val.(type) {
	case nil:
		return []byte("null"), nil
	case time.Time:
		return json.Marshal(x.UTC().Format(DateLayout))
	default:
		return json.Marshal(x)
	}
}

// Coerce builds a Value of type t from caller input. Strings are parsed
// with Parse for non-text types; anything else is narrowed.
func Coerce(t Type, v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(t), nil
	case Value:
		return Coerce(t, x.val)
	case string:
		if t == String || t == Geometry {
			return Value{typ: t, val: x}, nil
		}
		parsed, err := Parse(x, t)
		if err != nil {
			return Value{}, err
		}
		return Value{typ: t, val: parsed}, nil
	}
	return NewValue(t, v), nil
}

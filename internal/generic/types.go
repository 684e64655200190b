// Package generic implements the engine's database-independent type system:
// six generic types, the values they carry, and the coercions between driver
// values, string literals and canonical Go representations.
package generic

import (
	"fmt"
	"strings"
)

// Type is one of the six generic types every driver type resolves to.
// The zero value is String, which is also the fallback for unknown driver
// types.
type Type int

const (
	String Type = iota
	Double
	Long
	Date
	Boolean
	Geometry
)

// DateLayout is the fixed ISO-8601 layout, with milliseconds, used for DATE
// literals and for DATE values rendered as text.
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

var typeNames = [...]string{
	String:   "STRING",
	Double:   "DOUBLE",
	Long:     "LONG",
	Date:     "DATE",
	Boolean:  "BOOLEAN",
	Geometry: "GEOMETRY",
}

// Types returns all generic types in declaration order.
func Types() []Type {
	return []Type{String, Double, Long, Date, Boolean, Geometry}
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// ParseType maps a declared type name to a Type. Names are matched
// case-insensitively; "Number" is an alias of DOUBLE and "Integer" of LONG.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "string", "":
		return String, nil
	case "number", "double":
		return Double, nil
	case "long", "integer":
		return Long, nil
	case "date":
		return Date, nil
	case "boolean":
		return Boolean, nil
	case "geometry":
		return Geometry, nil
	}
	return String, fmt.Errorf("unknown generic type %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(t.String())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so declared types can be
// read straight from YAML and JSON definitions.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

package generic

import "strings"

// Resolver maps between a dialect's driver type names and generic types.
type Resolver interface {
	// Resolve returns the generic type for a driver-reported type name,
	// falling back to String.
	Resolve(driverType string) Type
	// DriverType returns the dialect's SQL type name for t.
	DriverType(t Type) string
}

// TypeMap is a Resolver backed by lookup tables. Keys of ToGeneric must be
// lowercase.
type TypeMap struct {
	ToGeneric map[string]Type
	ToDriver  map[Type]string
}

// Resolve normalizes name before lookup: it is lowercased, then tried as-is,
// without any "(n,m)" modifier, and finally by its first word
// ("timestamp with time zone" -> "timestamp").
func (m TypeMap) Resolve(name string) Type {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return String
	}
	if t, ok := m.ToGeneric[key]; ok {
		return t
	}
	if i := strings.IndexByte(key, '('); i > 0 {
		base := strings.TrimSpace(key[:i])
		if t, ok := m.ToGeneric[base]; ok {
			return t
		}
		key = base
	}
	if i := strings.IndexByte(key, ' '); i > 0 {
		if t, ok := m.ToGeneric[key[:i]]; ok {
			return t
		}
	}
	return String
}

func (m TypeMap) DriverType(t Type) string {
	if name, ok := m.ToDriver[t]; ok {
		return name
	}
	return m.ToDriver[String]
}

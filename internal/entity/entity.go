// Package entity describes the named units the engine reads from and writes
// to: their clause, expected fields, parameters, writable tables and roles.
package entity

import (
	"fmt"
	"strings"

	"github.com/faucetdb/cistern/internal/generic"
)

// Reference is the target of a foreign key.
type Reference struct {
	Table  string `json:"table" yaml:"table"`
	Column string `json:"column" yaml:"column"`
}

// Field is one expected column of an entity.
type Field struct {
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	OriginalName string       `json:"original_name,omitempty"`
	Table        string       `json:"table,omitempty"`
	Type         generic.Type `json:"type"`
	Nullable     bool         `json:"nullable"`
	PrimaryKey   bool         `json:"key"`
	Reference    *Reference   `json:"reference,omitempty"`
}

// Column is the database column the field is written to.
func (f Field) Column() string {
	if f.OriginalName != "" {
		return f.OriginalName
	}
	return f.Name
}

// Clone returns a copy that shares nothing with f.
func (f Field) Clone() Field {
	if f.Reference != nil {
		ref := *f.Reference
		f.Reference = &ref
	}
	return f
}

// Mode is the direction of a parameter.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeIn
	ModeOut
	ModeInOut
)

var modeNames = map[Mode]string{
	ModeUnknown: "unknown",
	ModeIn:      "in",
	ModeOut:     "out",
	ModeInOut:   "inout",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "in", "out", "inout" (or "in_out"), ignoring case. An
// empty string is ModeIn.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "in":
		return ModeIn, nil
	case "out":
		return ModeOut, nil
	case "inout", "in_out":
		return ModeInOut, nil
	case "unknown":
		return ModeUnknown, nil
	}
	return ModeUnknown, fmt.Errorf("unknown parameter mode %q", s)
}

// Returns reports whether the parameter receives a value after execution.
func (m Mode) Returns() bool { return m == ModeOut || m == ModeInOut }

// Parameter is a named input or output of an entity clause. Value is
// mutable; every invocation works on its own clone.
type Parameter struct {
	Name        string
	Mode        Mode
	Type        generic.Type
	Description string
	Value       generic.Value
}

// Clone returns a copy of p.
func (p *Parameter) Clone() *Parameter {
	cp := *p
	return &cp
}

// Set stores v as the parameter type. Strings are parsed, other values are
// narrowed.
func (p *Parameter) Set(v any) error {
	val, err := generic.Coerce(p.Type, v)
	if err != nil {
		return fmt.Errorf("parameter %s: %w", p.Name, err)
	}
	p.Value = val
	return nil
}

// Definition is the declarative description an Entity is built from.
type Definition struct {
	Name       string
	Title      string
	Source     string
	Clause     string
	CustomSQL  string
	Procedure  bool
	ReadOnly   bool
	Command    bool
	PageSize   int
	Writable   []string
	ReadRoles  []string
	WriteRoles []string
	Parameters []Parameter
	Fields     []Field
}

// Entity is an immutable, loaded entity description.
type Entity struct {
	def        Definition
	fieldIdx   map[string]int
	paramIdx   map[string]int
	writable   map[string]bool
	readRoles  []string
	writeRoles []string
}

// New validates def and builds an Entity from a private copy of it.
func New(def Definition) (*Entity, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidDefinition)
	}

	e := &Entity{
		fieldIdx: make(map[string]int, len(def.Fields)),
		paramIdx: make(map[string]int, len(def.Parameters)),
		writable: make(map[string]bool, len(def.Writable)),
	}

	fields := make([]Field, len(def.Fields))
	for i, f := range def.Fields {
		key := strings.ToLower(f.Name)
		if key == "" {
			return nil, fmt.Errorf("%w: %s: field %d has no name", ErrInvalidDefinition, def.Name, i)
		}
		if _, dup := e.fieldIdx[key]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate field %q", ErrInvalidDefinition, def.Name, f.Name)
		}
		e.fieldIdx[key] = i
		fields[i] = f.Clone()
	}

	params := make([]Parameter, len(def.Parameters))
	for i, p := range def.Parameters {
		key := strings.ToLower(p.Name)
		if key == "" {
			return nil, fmt.Errorf("%w: %s: parameter %d has no name", ErrInvalidDefinition, def.Name, i)
		}
		if _, dup := e.paramIdx[key]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate parameter %q", ErrInvalidDefinition, def.Name, p.Name)
		}
		e.paramIdx[key] = i
		params[i] = p
	}

	for _, t := range def.Writable {
		e.writable[strings.ToLower(t)] = true
	}

	e.def = def
	e.def.Fields = fields
	e.def.Parameters = params
	e.def.Writable = append([]string(nil), def.Writable...)
	e.readRoles = append([]string(nil), def.ReadRoles...)
	e.writeRoles = append([]string(nil), def.WriteRoles...)
	return e, nil
}

func (e *Entity) Name() string   { return e.def.Name }
func (e *Entity) Title() string  { return e.def.Title }
func (e *Entity) Source() string { return e.def.Source }

// Clause returns the custom SQL when one is set, else the stored clause. A
// procedure given by bare name is shown as a CALL over its declared
// parameters; CompileCall renders the database's own call syntax.
func (e *Entity) Clause() string {
	if e.def.CustomSQL != "" {
		return e.def.CustomSQL
	}
	if name, ok := e.ProcedureName(); ok {
		return fmt.Sprintf("CALL %s(%s)", name, strings.Join(e.parameterRefs(), ", "))
	}
	return e.def.Clause
}

// ProcedureName returns the procedure name when the entity is a procedure
// given by bare name rather than by a full statement.
func (e *Entity) ProcedureName() (string, bool) {
	if !e.def.Procedure || e.def.CustomSQL != "" {
		return "", false
	}
	clause := strings.TrimSpace(e.def.Clause)
	if clause == "" || strings.ContainsAny(clause, " (") {
		return "", false
	}
	return clause, true
}

func (e *Entity) parameterRefs() []string {
	refs := make([]string, len(e.def.Parameters))
	for i, p := range e.def.Parameters {
		refs[i] = ":" + p.Name
	}
	return refs
}

func (e *Entity) Procedure() bool { return e.def.Procedure }
func (e *Entity) ReadOnly() bool  { return e.def.ReadOnly }
func (e *Entity) Command() bool   { return e.def.Command }

// PageSize is the number of rows per page; zero or less means unpaged.
func (e *Entity) PageSize() int { return e.def.PageSize }
func (e *Entity) Paged() bool   { return e.def.PageSize > 0 }

func (e *Entity) Writable() []string   { return append([]string(nil), e.def.Writable...) }
func (e *Entity) ReadRoles() []string  { return append([]string(nil), e.readRoles...) }
func (e *Entity) WriteRoles() []string { return append([]string(nil), e.writeRoles...) }

// Definition returns a copy of the definition the entity was built from.
func (e *Entity) Definition() Definition {
	def := e.def
	def.Fields = e.Fields()
	def.Parameters = make([]Parameter, len(e.def.Parameters))
	copy(def.Parameters, e.def.Parameters)
	def.Writable = e.Writable()
	def.ReadRoles = e.ReadRoles()
	def.WriteRoles = e.WriteRoles()
	return def
}

// Fields returns copies of the fields in declaration order.
func (e *Entity) Fields() []Field {
	out := make([]Field, len(e.def.Fields))
	for i, f := range e.def.Fields {
		out[i] = f.Clone()
	}
	return out
}

// Field looks a field up by name, ignoring case.
func (e *Entity) Field(name string) (Field, bool) {
	i, ok := e.fieldIdx[strings.ToLower(name)]
	if !ok {
		return Field{}, false
	}
	return e.def.Fields[i].Clone(), true
}

// FieldIndex returns the declaration position of a field, ignoring case.
func (e *Entity) FieldIndex(name string) (int, bool) {
	i, ok := e.fieldIdx[strings.ToLower(name)]
	return i, ok
}

// FieldsByName returns copies of the fields keyed by their declared name.
func (e *Entity) FieldsByName() map[string]Field {
	out := make(map[string]Field, len(e.def.Fields))
	for _, f := range e.def.Fields {
		out[f.Name] = f.Clone()
	}
	return out
}

// Parameters returns the declared parameters, with their default values.
func (e *Entity) Parameters() []*Parameter { return e.NewParameters() }

// NewParameters clones the declared parameters for one invocation.
func (e *Entity) NewParameters() []*Parameter {
	out := make([]*Parameter, len(e.def.Parameters))
	for i := range e.def.Parameters {
		out[i] = e.def.Parameters[i].Clone()
	}
	return out
}

// ParametersByName returns fresh parameter clones keyed by declared name.
func (e *Entity) ParametersByName() map[string]*Parameter {
	out := make(map[string]*Parameter, len(e.def.Parameters))
	for _, p := range e.NewParameters() {
		out[p.Name] = p
	}
	return out
}

// PrimaryKeyField returns the single key field. It fails with ErrNoKey or
// ErrAmbiguousKey when the entity does not have exactly one.
func (e *Entity) PrimaryKeyField() (Field, error) {
	var found []Field
	for _, f := range e.def.Fields {
		if f.PrimaryKey {
			found = append(found, f)
		}
	}
	switch len(found) {
	case 0:
		return Field{}, fmt.Errorf("%s: %w", e.def.Name, ErrNoKey)
	case 1:
		return found[0].Clone(), nil
	default:
		return Field{}, fmt.Errorf("%s: %w", e.def.Name, ErrAmbiguousKey)
	}
}

// IsWritableThrough reports whether writes may target table. An empty
// writable set allows every table.
func (e *Entity) IsWritableThrough(table string) bool {
	if len(e.writable) == 0 {
		return true
	}
	return e.writable[strings.ToLower(table)]
}

package entity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/faucetdb/cistern/internal/catalog"
	"github.com/faucetdb/cistern/internal/generic"
)

// Spec is a parsed entity definition file: the clause plus its YAML (or
// JSON) sidecar. Field attributes the sidecar leaves out can be completed
// from the catalog by Definition.
type Spec struct {
	Name   string
	Clause string
	side   sidecar
}

type sidecar struct {
	Source     string             `yaml:"source"`
	Procedure  bool               `yaml:"procedure"`
	Title      string             `yaml:"title"`
	ReadOnly   bool               `yaml:"readonly"`
	Command    bool               `yaml:"command"`
	SQL        string             `yaml:"sql"`
	PageSize   int                `yaml:"page_size"`
	Writable   []string           `yaml:"writable"`
	ReadRoles  []string           `yaml:"read_roles"`
	WriteRoles []string           `yaml:"write_roles"`
	Params     ordered[paramSpec] `yaml:"params"`
	Fields     ordered[fieldSpec] `yaml:"fields"`
}

type paramSpec struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Value       any    `yaml:"value"`
	Mode        string `yaml:"mode"`
}

type fieldSpec struct {
	Type         string     `yaml:"type"`
	Description  string     `yaml:"description"`
	Nullable     *bool      `yaml:"nullable"`
	OriginalName string     `yaml:"original_name"`
	Table        string     `yaml:"table"`
	Key          *bool      `yaml:"key"`
	Reference    *Reference `yaml:"reference"`
}

type named[T any] struct {
	Name string
	Spec T
}

// ordered decodes a YAML mapping keeping its key order.
type ordered[T any] []named[T]

func (o *ordered[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var spec T
		if err := node.Content[i+1].Decode(&spec); err != nil {
			return err
		}
		*o = append(*o, named[T]{Name: node.Content[i].Value, Spec: spec})
	}
	return nil
}

// ParseSpec decodes a sidecar document for the entity name with the given
// clause. An empty sidecar is valid. Unknown keys are rejected.
func ParseSpec(name, clause string, sidecarData []byte) (*Spec, error) {
	s := &Spec{Name: name, Clause: clause}
	if len(bytes.TrimSpace(sidecarData)) == 0 {
		return s, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(sidecarData))
	dec.KnownFields(true)
	if err := dec.Decode(&s.side); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, name, err)
	}
	return s, nil
}

// Source is the data source the sidecar names, or "" for the default.
func (s *Spec) Source() string { return s.side.Source }

// Definition builds the entity definition. When tables is non-nil, fields
// naming a table take undeclared type, nullability, key, reference and
// description from the catalog.
func (s *Spec) Definition(ctx context.Context, tables TableSource) (Definition, error) {
	side := s.side
	def := Definition{
		Name:       s.Name,
		Title:      side.Title,
		Source:     side.Source,
		Clause:     s.Clause,
		CustomSQL:  side.SQL,
		Procedure:  side.Procedure,
		ReadOnly:   side.ReadOnly,
		Command:    side.Command,
		PageSize:   side.PageSize,
		Writable:   side.Writable,
		ReadRoles:  side.ReadRoles,
		WriteRoles: side.WriteRoles,
	}
	if def.Title == "" {
		def.Title = s.Name
	}

	for _, p := range side.Params {
		param, err := p.Spec.parameter(p.Name)
		if err != nil {
			return Definition{}, fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, s.Name, err)
		}
		def.Parameters = append(def.Parameters, param)
	}

	tableCache := make(map[string]*catalog.Table)
	for _, f := range side.Fields {
		field, err := f.Spec.field(f.Name)
		if err != nil {
			return Definition{}, fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, s.Name, err)
		}
		if tables != nil && field.Table != "" {
			t, ok := tableCache[field.Table]
			if !ok {
				t, err = tables.Table(ctx, field.Table)
				if err != nil && !errors.Is(err, catalog.ErrNotFound) {
					return Definition{}, fmt.Errorf("%s: complete field %s: %w", s.Name, f.Name, err)
				}
				tableCache[field.Table] = t
			}
			if t != nil {
				f.Spec.complete(&field, t)
			}
		}
		def.Fields = append(def.Fields, field)
	}
	return def, nil
}

func (p paramSpec) parameter(name string) (Parameter, error) {
	typ, err := generic.ParseType(p.Type)
	if err != nil {
		return Parameter{}, fmt.Errorf("param %s: %w", name, err)
	}
	mode, err := ParseMode(p.Mode)
	if err != nil {
		return Parameter{}, fmt.Errorf("param %s: %w", name, err)
	}
	val, err := generic.Coerce(typ, p.Value)
	if err != nil {
		return Parameter{}, fmt.Errorf("param %s: default value: %w", name, err)
	}
	return Parameter{Name: name, Mode: mode, Type: typ, Description: p.Description, Value: val}, nil
}

func (f fieldSpec) field(name string) (Field, error) {
	typ, err := generic.ParseType(f.Type)
	if err != nil {
		return Field{}, fmt.Errorf("field %s: %w", name, err)
	}
	field := Field{
		Name:         name,
		Description:  f.Description,
		OriginalName: f.OriginalName,
		Table:        f.Table,
		Type:         typ,
		Nullable:     true,
	}
	if f.Nullable != nil {
		field.Nullable = *f.Nullable
	}
	if f.Key != nil {
		field.PrimaryKey = *f.Key
	}
	if f.Reference != nil {
		ref := *f.Reference
		field.Reference = &ref
	}
	return field, nil
}

func (f fieldSpec) complete(field *Field, t *catalog.Table) {
	col, ok := t.Column(field.Column())
	if !ok {
		return
	}
	if f.Type == "" {
		field.Type = col.Type
	}
	if f.Nullable == nil {
		field.Nullable = col.Nullable
	}
	if f.Key == nil {
		field.PrimaryKey = col.PrimaryKey
	}
	if f.Reference == nil && col.Reference != nil {
		field.Reference = &Reference{Table: col.Reference.Table, Column: col.Reference.Column}
	}
	if f.Description == "" {
		field.Description = col.Remarks
	}
}

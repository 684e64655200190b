package catalog

import (
	"strings"

	"github.com/faucetdb/cistern/internal/generic"
)

// Reference is the target of a foreign key.
type Reference struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Column describes a single column of a table as reported by the database.
type Column struct {
	Name       string       `json:"name"`
	Table      string       `json:"table"`
	Schema     string       `json:"schema"`
	TypeName   string       `json:"db_type"`
	Type       generic.Type `json:"type"`
	Nullable   bool         `json:"nullable"`
	PrimaryKey bool         `json:"is_primary_key"`
	Reference  *Reference   `json:"reference,omitempty"`
	Size       int          `json:"size,omitempty"`
	Precision  int          `json:"precision,omitempty"`
	Scale      int          `json:"scale,omitempty"`
	Remarks    string       `json:"remarks,omitempty"`
}

// Table is the catalog entry for one table or view.
type Table struct {
	Schema  string   `json:"schema"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// QualifiedName returns schema.name, or name alone when the schema is empty.
func (t *Table) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Column looks a column up by name, ignoring case.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c.clone(), true
		}
	}
	return Column{}, false
}

// PrimaryKey returns the primary-key columns in declaration order.
func (t *Table) PrimaryKey() []Column {
	var out []Column
	for _, c := range t.Columns {
		if c.PrimaryKey {
			out = append(out, c.clone())
		}
	}
	return out
}

func (t *Table) clone() *Table {
	cp := *t
	cp.Columns = make([]Column, len(t.Columns))
	for i, c := range t.Columns {
		cp.Columns[i] = c.clone()
	}
	return &cp
}

func (c Column) clone() Column {
	if c.Reference != nil {
		ref := *c.Reference
		c.Reference = &ref
	}
	return c
}

// IndexColumn is one key column of an index.
type IndexColumn struct {
	Name      string `json:"name"`
	Ascending bool   `json:"ascending"`
}

// Index describes a database index on one or more columns.
type Index struct {
	Name      string        `json:"name"`
	Clustered bool          `json:"clustered"`
	Hashed    bool          `json:"hashed"`
	Unique    bool          `json:"is_unique"`
	Columns   []IndexColumn `json:"columns"`
}

func cloneIndexes(in []Index) []Index {
	out := make([]Index, len(in))
	for i, idx := range in {
		idx.Columns = append([]IndexColumn(nil), idx.Columns...)
		out[i] = idx
	}
	return out
}

package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/faucetdb/cistern/internal/catalog"
)

// TableSource is the catalog view loaders need. *catalog.Catalog satisfies
// it.
type TableSource interface {
	Table(ctx context.Context, qualifiedName string) (*catalog.Table, error)
}

// TableLoader exposes every catalog table as an entity selecting all of its
// columns and writable through that table only.
type TableLoader struct {
	source  string
	catalog TableSource
}

// NewTableLoader creates a loader whose entities belong to the named data
// source.
func NewTableLoader(source string, cat TableSource) *TableLoader {
	return &TableLoader{source: source, catalog: cat}
}

func (l *TableLoader) LoadEntity(ctx context.Context, name string) (*Entity, error) {
	t, err := l.catalog.Table(ctx, name)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	qualified := t.QualifiedName()
	fields := make([]Field, len(t.Columns))
	for i, c := range t.Columns {
		fields[i] = fieldFromColumn(c, qualified)
	}

	return New(Definition{
		Name:     name,
		Title:    t.Name,
		Source:   l.source,
		Clause:   "select * from " + qualified,
		Writable: []string{qualified},
		Fields:   fields,
	})
}

func fieldFromColumn(c catalog.Column, table string) Field {
	f := Field{
		Name:         c.Name,
		Description:  c.Remarks,
		OriginalName: c.Name,
		Table:        table,
		Type:         c.Type,
		Nullable:     c.Nullable,
		PrimaryKey:   c.PrimaryKey,
	}
	if c.Reference != nil {
		f.Reference = &Reference{Table: c.Reference.Table, Column: c.Reference.Column}
	}
	return f
}

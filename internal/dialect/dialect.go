// Package dialect defines the per-database adapter the engine delegates
// every dialect difference to: connection setup, catalog introspection,
// type resolution, placeholders, savepoints and geometry encoding.
package dialect

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/cistern/internal/generic"
)

// ConnSource hands out dedicated connections. *sqlx.DB satisfies it; pool
// semantics and lifetime belong to the source.
type ConnSource interface {
	Connx(ctx context.Context) (*sqlx.Conn, error)
}

// Queryer is what introspection queries run against: a pool, a dedicated
// connection or a transaction.
type Queryer = sqlx.QueryerContext

// Column is one column as reported by a database's catalog.
type Column struct {
	Schema    string
	Table     string
	Name      string
	TypeName  string
	Nullable  bool
	Size      int
	Precision int
	Scale     int
	Remarks   string
}

// PrimaryKey is one primary-key column.
type PrimaryKey struct {
	Schema string
	Table  string
	Column string
	Name   string
}

// ForeignKey is one foreign-key column and the column it references.
type ForeignKey struct {
	Schema    string
	Table     string
	Column    string
	Name      string
	RefSchema string
	RefTable  string
	RefColumn string
}

// IndexColumn is one column of one index. Columns of the same index are
// returned in key order.
type IndexColumn struct {
	Index     string
	Column    string
	Ascending bool
	Unique    bool
	Clustered bool
	Hashed    bool
}

// Dialect is the interface every supported database implements.
type Dialect interface {
	// Name is the driver key used in configuration ("postgres", "mysql", ...).
	Name() string
	// Open connects a pool using cfg.
	Open(cfg ConnectionConfig) (*sqlx.DB, error)

	QuoteIdentifier(name string) string
	// ParameterPlaceholder returns the bind marker for the 1-based index.
	ParameterPlaceholder(index int) string

	// SchemaClause is the query returning the connection's current schema.
	SchemaClause() string
	Schemas(ctx context.Context, q Queryer) ([]string, error)
	Columns(ctx context.Context, q Queryer, schema, table string) ([]Column, error)
	PrimaryKeys(ctx context.Context, q Queryer, schema, table string) ([]PrimaryKey, error)
	ForeignKeys(ctx context.Context, q Queryer, schema, table string) ([]ForeignKey, error)
	Indexes(ctx context.Context, q Queryer, schema, table string) ([]IndexColumn, error)

	Types() generic.Resolver
	Geometry() GeometryCodec
	// Savepoints returns nil when the database cannot roll back to a point
	// inside a transaction.
	Savepoints() *SavepointSyntax
	// Procedures returns nil when the database has no stored procedures.
	Procedures() *ProcedureSyntax
}

// DefaultSchema runs d's schema-discovery clause.
func DefaultSchema(ctx context.Context, d Dialect, q Queryer) (string, error) {
	var schema string
	if err := sqlx.GetContext(ctx, q, &schema, d.SchemaClause()); err != nil {
		return "", err
	}
	return schema, nil
}

// Placeholder returns the bind marker for the 1-based index, wrapped with
// d's geometry constructor when the bound value is GEOMETRY.
func Placeholder(d Dialect, index int, t generic.Type) string {
	ph := d.ParameterPlaceholder(index)
	if t == generic.Geometry {
		return d.Geometry().EncodePlaceholder(ph)
	}
	return ph
}

// Package postgres implements dialect.Dialect for PostgreSQL, including
// PostGIS geometry columns.
package postgres

import (
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/generic"
)

// Dialect implements dialect.Dialect for PostgreSQL.
type Dialect struct{}

// New creates a PostgreSQL dialect.
func New() *Dialect { return &Dialect{} }

func (d *Dialect) Name() string { return "postgres" }

// Open connects through the pgx stdlib driver.
func (d *Dialect) Open(cfg dialect.ConnectionConfig) (*sqlx.DB, error) {
	return dialect.OpenPool("pgx", dialect.SanitizeDSN("postgres", cfg.DSN), cfg)
}

// QuoteIdentifier wraps a SQL identifier in double quotes, doubling any
// embedded quotes.
func (d *Dialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ParameterPlaceholder returns a numbered placeholder ($1, $2, ...).
func (d *Dialect) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *Dialect) SchemaClause() string { return "SELECT current_schema()" }

func (d *Dialect) Types() generic.Resolver { return types }

// Geometry reads PostGIS values, which the driver returns as hex EWKB.
func (d *Dialect) Geometry() dialect.GeometryCodec {
	return dialect.GeometryCodec{Template: "ST_GeomFromText(%s)", Format: dialect.GeometryEWKBHex}
}

func (d *Dialect) Savepoints() *dialect.SavepointSyntax { return dialect.StandardSavepoints }

// Procedures: CALL returns a single row holding the OUT and INOUT values.
func (d *Dialect) Procedures() *dialect.ProcedureSyntax {
	return &dialect.ProcedureSyntax{Call: "CALL %s(%s)", Out: dialect.OutResultRow}
}

var types = generic.TypeMap{
	ToGeneric: map[string]generic.Type{
		"varchar":           generic.String,
		"character varying": generic.String,
		"text":              generic.String,
		"bpchar":            generic.String,
		"char":              generic.String,
		"character":         generic.String,
		"name":              generic.String,
		"uuid":              generic.String,
		"json":              generic.String,
		"jsonb":             generic.String,
		"xml":               generic.String,

		"int2":      generic.Long,
		"int4":      generic.Long,
		"int8":      generic.Long,
		"smallint":  generic.Long,
		"integer":   generic.Long,
		"bigint":    generic.Long,
		"serial":    generic.Long,
		"serial4":   generic.Long,
		"bigserial": generic.Long,
		"serial8":   generic.Long,
		"oid":       generic.Long,

		"numeric":          generic.Double,
		"decimal":          generic.Double,
		"real":             generic.Double,
		"float4":           generic.Double,
		"float8":           generic.Double,
		"float":            generic.Double,
		"double precision": generic.Double,
		"money":            generic.Double,

		"bool":    generic.Boolean,
		"boolean": generic.Boolean,
		"bit":     generic.Boolean,

		"date":        generic.Date,
		"time":        generic.Date,
		"timetz":      generic.Date,
		"timestamp":   generic.Date,
		"timestamptz": generic.Date,

		"geometry":  generic.Geometry,
		"geography": generic.Geometry,
		"point":     generic.Geometry,
		"line":      generic.Geometry,
		"lseg":      generic.Geometry,
		"box":       generic.Geometry,
		"path":      generic.Geometry,
		"polygon":   generic.Geometry,
		"circle":    generic.Geometry,
	},
	ToDriver: map[generic.Type]string{
		generic.String:   "varchar",
		generic.Double:   "double precision",
		generic.Long:     "bigint",
		generic.Date:     "timestamp",
		generic.Boolean:  "boolean",
		generic.Geometry: "geometry",
	},
}

// Package snowflake implements dialect.Dialect for Snowflake.
package snowflake

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/generic"
)

// Dialect implements dialect.Dialect for Snowflake.
type Dialect struct{}

// New creates a Snowflake dialect.
func New() *Dialect { return &Dialect{} }

func (d *Dialect) Name() string { return "snowflake" }

// Open connects with the session DSN built by sessionDSN.
func (d *Dialect) Open(cfg dialect.ConnectionConfig) (*sqlx.DB, error) {
	dsn, err := sessionDSN(cfg)
	if err != nil {
		return nil, fmt.Errorf("snowflake key-pair auth: %w", err)
	}
	return dialect.OpenPool("snowflake", dsn, cfg)
}

// QuoteIdentifier wraps a SQL identifier in double quotes. Quoted Snowflake
// identifiers are case-sensitive.
func (d *Dialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ParameterPlaceholder returns "?"; Snowflake ignores the index.
func (d *Dialect) ParameterPlaceholder(_ int) string { return "?" }

func (d *Dialect) SchemaClause() string { return "SELECT CURRENT_SCHEMA()" }

func (d *Dialect) Types() generic.Resolver { return types }

func (d *Dialect) Geometry() dialect.GeometryCodec {
	return dialect.GeometryCodec{Template: "TO_GEOMETRY(%s)", Format: dialect.GeometryText}
}

// Savepoints returns nil: Snowflake transactions have no savepoints, so a
// failed statement is retried without rolling back its siblings.
func (d *Dialect) Savepoints() *dialect.SavepointSyntax { return nil }

// Procedures: Snowflake procedures return a value, not output arguments.
func (d *Dialect) Procedures() *dialect.ProcedureSyntax {
	return &dialect.ProcedureSyntax{Call: "CALL %s(%s)", Out: dialect.OutNone}
}

var types = generic.TypeMap{
	ToGeneric: map[string]generic.Type{
		"varchar": generic.String,
		"char":    generic.String,
		"text":    generic.String,
		"string":  generic.String,
		"variant": generic.String,
		"object":  generic.String,
		"array":   generic.String,

		"int":      generic.Long,
		"integer":  generic.Long,
		"bigint":   generic.Long,
		"smallint": generic.Long,

		"number":  generic.Double,
		"fixed":   generic.Double,
		"decimal": generic.Double,
		"numeric": generic.Double,
		"float":   generic.Double,
		"double":  generic.Double,
		"real":    generic.Double,

		"boolean": generic.Boolean,

		"date":          generic.Date,
		"time":          generic.Date,
		"datetime":      generic.Date,
		"timestamp":     generic.Date,
		"timestamp_ntz": generic.Date,
		"timestamp_ltz": generic.Date,
		"timestamp_tz":  generic.Date,

		"geography": generic.Geometry,
		"geometry":  generic.Geometry,
	},
	ToDriver: map[generic.Type]string{
		generic.String:   "VARCHAR",
		generic.Double:   "DOUBLE",
		generic.Long:     "NUMBER(38,0)",
		generic.Date:     "TIMESTAMP_NTZ",
		generic.Boolean:  "BOOLEAN",
		generic.Geometry: "GEOMETRY",
	},
}

// Package mssql implements dialect.Dialect for Microsoft SQL Server.
package mssql

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/generic"
)

// Dialect implements dialect.Dialect for SQL Server.
type Dialect struct{}

// New creates a SQL Server dialect.
func New() *Dialect { return &Dialect{} }

func (d *Dialect) Name() string { return "mssql" }

func (d *Dialect) Open(cfg dialect.ConnectionConfig) (*sqlx.DB, error) {
	return dialect.OpenPool("sqlserver", dialect.SanitizeDSN("mssql", cfg.DSN), cfg)
}

// QuoteIdentifier wraps a SQL identifier in brackets, escaping any embedded
// closing brackets.
func (d *Dialect) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// ParameterPlaceholder returns a numbered placeholder (@p1, @p2, ...).
func (d *Dialect) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

func (d *Dialect) SchemaClause() string { return "SELECT SCHEMA_NAME()" }

func (d *Dialect) Types() generic.Resolver { return types }

// Geometry binds WKT through STGeomFromText. The driver cannot decode the
// native CLR serialization, so reads must select col.STAsText().
func (d *Dialect) Geometry() dialect.GeometryCodec {
	return dialect.GeometryCodec{Template: "geometry::STGeomFromText(%s, 0)", Format: dialect.GeometryNative}
}

// Savepoints uses SAVE TRANSACTION; SQL Server has no release statement.
func (d *Dialect) Savepoints() *dialect.SavepointSyntax {
	return &dialect.SavepointSyntax{
		Create:   "SAVE TRANSACTION %s",
		Rollback: "ROLLBACK TRANSACTION %s",
	}
}

// Procedures run through EXEC; output arguments are marked OUTPUT and bound
// with sql.Out.
func (d *Dialect) Procedures() *dialect.ProcedureSyntax {
	return &dialect.ProcedureSyntax{Call: "EXEC %s %s", Out: dialect.OutBind, OutMarker: "%s OUTPUT"}
}

var types = generic.TypeMap{
	ToGeneric: map[string]generic.Type{
		"varchar":          generic.String,
		"nvarchar":         generic.String,
		"char":             generic.String,
		"nchar":            generic.String,
		"text":             generic.String,
		"ntext":            generic.String,
		"uniqueidentifier": generic.String,
		"xml":              generic.String,
		"sysname":          generic.String,

		"tinyint":  generic.Long,
		"smallint": generic.Long,
		"int":      generic.Long,
		"bigint":   generic.Long,

		"decimal":    generic.Double,
		"numeric":    generic.Double,
		"float":      generic.Double,
		"real":       generic.Double,
		"money":      generic.Double,
		"smallmoney": generic.Double,

		"bit": generic.Boolean,

		"date":           generic.Date,
		"time":           generic.Date,
		"datetime":       generic.Date,
		"datetime2":      generic.Date,
		"smalldatetime":  generic.Date,
		"datetimeoffset": generic.Date,

		"geometry":  generic.Geometry,
		"geography": generic.Geometry,
	},
	ToDriver: map[generic.Type]string{
		generic.String:   "nvarchar(max)",
		generic.Double:   "float",
		generic.Long:     "bigint",
		generic.Date:     "datetime2",
		generic.Boolean:  "bit",
		generic.Geometry: "geometry",
	},
}

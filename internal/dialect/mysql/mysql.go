// Package mysql implements dialect.Dialect for MySQL and MariaDB.
package mysql

import (
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/generic"
)

// Dialect implements dialect.Dialect for MySQL.
type Dialect struct{}

// New creates a MySQL dialect.
func New() *Dialect { return &Dialect{} }

func (d *Dialect) Name() string { return "mysql" }

// Open connects with parseTime enabled so DATE columns scan as time.Time.
func (d *Dialect) Open(cfg dialect.ConnectionConfig) (*sqlx.DB, error) {
	return dialect.OpenPool("mysql", withParseTime(dialect.SanitizeDSN("mysql", cfg.DSN)), cfg)
}

func withParseTime(dsn string) string {
	parsed, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return dsn
	}
	parsed.ParseTime = true
	return parsed.FormatDSN()
}

// QuoteIdentifier wraps a SQL identifier in backticks, doubling any embedded
// backticks.
func (d *Dialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ParameterPlaceholder returns "?"; MySQL ignores the index.
func (d *Dialect) ParameterPlaceholder(_ int) string { return "?" }

func (d *Dialect) SchemaClause() string { return "SELECT DATABASE()" }

func (d *Dialect) Types() generic.Resolver { return types }

// Geometry reads the internal format: a 4-byte SRID followed by WKB.
func (d *Dialect) Geometry() dialect.GeometryCodec {
	return dialect.GeometryCodec{Template: "ST_GeomFromText(%s)", Format: dialect.GeometryMySQL}
}

func (d *Dialect) Savepoints() *dialect.SavepointSyntax { return dialect.StandardSavepoints }

// Procedures: OUT and INOUT arguments must be user variables in MySQL.
func (d *Dialect) Procedures() *dialect.ProcedureSyntax {
	return &dialect.ProcedureSyntax{Call: "CALL %s(%s)", Out: dialect.OutSessionVars}
}

var types = generic.TypeMap{
	ToGeneric: map[string]generic.Type{
		"varchar":    generic.String,
		"char":       generic.String,
		"text":       generic.String,
		"tinytext":   generic.String,
		"mediumtext": generic.String,
		"longtext":   generic.String,
		"enum":       generic.String,
		"set":        generic.String,
		"json":       generic.String,

		"tinyint":   generic.Long,
		"smallint":  generic.Long,
		"mediumint": generic.Long,
		"int":       generic.Long,
		"integer":   generic.Long,
		"bigint":    generic.Long,
		"year":      generic.Long,

		"decimal": generic.Double,
		"numeric": generic.Double,
		"float":   generic.Double,
		"double":  generic.Double,
		"real":    generic.Double,

		"bit":     generic.Boolean,
		"bool":    generic.Boolean,
		"boolean": generic.Boolean,

		"date":      generic.Date,
		"datetime":  generic.Date,
		"timestamp": generic.Date,
		"time":      generic.Date,

		"geometry":           generic.Geometry,
		"point":              generic.Geometry,
		"linestring":         generic.Geometry,
		"polygon":            generic.Geometry,
		"multipoint":         generic.Geometry,
		"multilinestring":    generic.Geometry,
		"multipolygon":       generic.Geometry,
		"geometrycollection": generic.Geometry,
	},
	ToDriver: map[generic.Type]string{
		generic.String:   "varchar(255)",
		generic.Double:   "double",
		generic.Long:     "bigint",
		generic.Date:     "datetime(3)",
		generic.Boolean:  "tinyint(1)",
		generic.Geometry: "geometry",
	},
}

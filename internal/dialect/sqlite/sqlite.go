// Package sqlite implements dialect.Dialect for SQLite through the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/generic"
)

// Dialect implements dialect.Dialect for SQLite.
type Dialect struct{}

// New creates a SQLite dialect.
func New() *Dialect { return &Dialect{} }

func (d *Dialect) Name() string { return "sqlite" }

// Open connects to the database file named by the DSN (or ":memory:").
// Foreign keys and a busy timeout are enabled on every pooled connection
// unless the DSN already sets them.
func (d *Dialect) Open(cfg dialect.ConnectionConfig) (*sqlx.DB, error) {
	return dialect.OpenPool("sqlite", withPragmas(cfg.DSN), cfg)
}

func withPragmas(dsn string) string {
	var extra []string
	if !strings.Contains(dsn, "foreign_keys") {
		extra = append(extra, "_pragma=foreign_keys(1)")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		extra = append(extra, "_pragma=busy_timeout(5000)")
	}
	if len(extra) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(extra, "&")
}

// QuoteIdentifier wraps a SQL identifier in double quotes, doubling any
// embedded quotes.
func (d *Dialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ParameterPlaceholder returns "?"; positional binding ignores the index.
func (d *Dialect) ParameterPlaceholder(_ int) string { return "?" }

// SchemaClause: SQLite has no current-schema notion; "main" is the database
// opened by the connection.
func (d *Dialect) SchemaClause() string { return "SELECT 'main'" }

func (d *Dialect) Types() generic.Resolver { return affinity{} }

// Geometry stores WKT as text; SpatiaLite is not loaded.
func (d *Dialect) Geometry() dialect.GeometryCodec {
	return dialect.GeometryCodec{Format: dialect.GeometryText}
}

func (d *Dialect) Savepoints() *dialect.SavepointSyntax { return dialect.StandardSavepoints }

func (d *Dialect) Procedures() *dialect.ProcedureSyntax { return nil }

// affinity resolves declared column types with SQLite's affinity rules
// (https://sqlite.org/datatype3.html), checking geometry, boolean and date
// names first because SQLite itself has no such types.
type affinity struct{}

func (affinity) Resolve(typeName string) generic.Type {
	upper := strings.ToUpper(strings.TrimSpace(typeName))
	if idx := strings.IndexByte(upper, '('); idx >= 0 {
		upper = strings.TrimSpace(upper[:idx])
	}

	switch {
	case strings.Contains(upper, "GEOM"), strings.Contains(upper, "POINT"),
		strings.Contains(upper, "POLYGON"), strings.Contains(upper, "LINESTRING"):
		return generic.Geometry
	case strings.Contains(upper, "BOOL"):
		return generic.Boolean
	case strings.Contains(upper, "DATE"), strings.Contains(upper, "TIME"):
		return generic.Date
	case strings.Contains(upper, "INT"):
		return generic.Long
	case strings.Contains(upper, "CHAR"), strings.Contains(upper, "CLOB"),
		strings.Contains(upper, "TEXT"):
		return generic.String
	case strings.Contains(upper, "REAL"), strings.Contains(upper, "FLOA"),
		strings.Contains(upper, "DOUB"), strings.Contains(upper, "NUMERIC"),
		strings.Contains(upper, "DECIMAL"):
		return generic.Double
	default:
		return generic.String
	}
}

func (affinity) DriverType(t generic.Type) string {
	switch t {
	case generic.Double:
		return "REAL"
	case generic.Long:
		return "INTEGER"
	case generic.Date:
		return "DATETIME"
	case generic.Boolean:
		return "BOOLEAN"
	case generic.Geometry:
		return "GEOMETRY"
	default:
		return "TEXT"
	}
}

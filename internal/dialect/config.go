package dialect

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// ConnectionConfig holds database connection parameters.
type ConnectionConfig struct {
	Driver          string
	DSN             string
	SchemaName      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PrivateKeyPath  string // PEM key for Snowflake key-pair auth
}

// OpenPool connects a pool through the named database/sql driver and applies
// the pool limits from cfg. Zero limits keep the database/sql defaults.
func OpenPool(driverName, dsn string, cfg ConnectionConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", cfg.Driver, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	return db, nil
}

// SanitizeDSN percent-encodes the userinfo of URL-style DSNs (postgres://,
// sqlserver://, oracle://) so passwords containing @, # or % parse, and rewrites MySQL
// DSNs into the user:pass@tcp(host:port)/db form go-sql-driver expects.
// Other DSNs are returned unchanged.
func SanitizeDSN(driver, dsn string) string {
	switch driver {
	case "postgres", "mssql", "oracle":
		return sanitizeURLDSN(dsn)
	case "mysql":
		return sanitizeMySQLDSN(dsn)
	default:
		return dsn
	}
}

var mysqlBareHostPort = regexp.MustCompile(`^(.+)@([^(@]+:\d+)(/.*)?$`)

func sanitizeMySQLDSN(dsn string) string {
	if cfg, err := mysqldriver.ParseDSN(dsn); err == nil && (cfg.Net == "tcp" || cfg.Net == "unix") {
		return cfg.FormatDSN()
	}

	// user:pass@(host:port)/db
	if idx := strings.LastIndex(dsn, "@("); idx >= 0 {
		fixed := dsn[:idx] + "@tcp" + dsn[idx+1:]
		if cfg, err := mysqldriver.ParseDSN(fixed); err == nil {
			return cfg.FormatDSN()
		}
	}

	// user:pass@host:port/db
	if m := mysqlBareHostPort.FindStringSubmatch(dsn); m != nil {
		fixed := m[1] + "@tcp(" + m[2] + ")" + m[3]
		if cfg, err := mysqldriver.ParseDSN(fixed); err == nil {
			return cfg.FormatDSN()
		}
	}

	return dsn
}

func sanitizeURLDSN(dsn string) string {
	schemeEnd := strings.Index(dsn, "://")
	if schemeEnd < 0 {
		return dsn
	}
	scheme := dsn[:schemeEnd]
	rest := dsn[schemeEnd+3:]

	query := ""
	if qi := strings.IndexByte(rest, '?'); qi >= 0 {
		query = rest[qi:]
		rest = rest[:qi]
	}

	atIdx := strings.LastIndex(rest, "@")
	if atIdx < 0 {
		return dsn
	}
	userinfo, hostpath := rest[:atIdx], rest[atIdx+1:]

	user, pass := userinfo, ""
	if ci := strings.IndexByte(userinfo, ':'); ci >= 0 {
		user, pass = userinfo[:ci], userinfo[ci+1:]
	}
	if u, err := url.PathUnescape(user); err == nil {
		user = u
	}
	if p, err := url.PathUnescape(pass); err == nil {
		pass = p
	}

	return scheme + "://" + url.PathEscape(user) + ":" + url.PathEscape(pass) + "@" + hostpath + query
}

package snowflake

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	gosnowflake "github.com/snowflakedb/gosnowflake"

	"github.com/faucetdb/cistern/internal/dialect"
)

var (
	errNoPEM  = errors.New("no PEM block found")
	errNotRSA = errors.New("not an RSA key")
)

// sessionDSN rewrites cfg.DSN for the sessions cistern opens. Spatial columns
// are returned as WKT, and when cfg.PrivateKeyPath is set the password is
// replaced by key-pair (JWT) authentication. Without a key, a DSN the driver
// cannot parse is passed through so the driver reports it on connect.
func sessionDSN(cfg dialect.ConnectionConfig) (string, error) {
	keyPair := cfg.PrivateKeyPath != ""
	dsn := cfg.DSN
	if keyPair {
		dsn = withPasswordPlaceholder(dsn)
	}

	sf, err := gosnowflake.ParseDSN(dsn)
	if err != nil {
		if keyPair {
			return "", fmt.Errorf("parse DSN: %w", err)
		}
		return cfg.DSN, nil
	}

	if keyPair {
		key, err := readRSAKey(cfg.PrivateKeyPath)
		if err != nil {
			return "", err
		}
		sf.Password = ""
		sf.Authenticator = gosnowflake.AuthTypeJwt
		sf.PrivateKey = key
	}

	if sf.Params == nil {
		sf.Params = make(map[string]*string)
	}
	wkt := "WKT"
	sf.Params["GEOGRAPHY_OUTPUT_FORMAT"] = &wkt
	sf.Params["GEOMETRY_OUTPUT_FORMAT"] = &wkt

	out, err := gosnowflake.DSN(sf)
	if err != nil {
		if keyPair {
			return "", fmt.Errorf("build DSN: %w", err)
		}
		return cfg.DSN, nil
	}
	return out, nil
}

// withPasswordPlaceholder gives a password-less "user@account" DSN a dummy
// password; the driver's parser refuses an empty one before the
// authenticator is known.
func withPasswordPlaceholder(dsn string) string {
	at := strings.Index(dsn, "@")
	if at <= 0 || strings.Contains(dsn[:at], ":") {
		return dsn
	}
	return dsn[:at] + ":_" + dsn[at:]
}

// readRSAKey loads an unencrypted RSA private key in PKCS#1 or PKCS#8 form.
func readRSAKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: %w", path, errNoPEM)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s holds %T: %w", path, parsed, errNotRSA)
	}
	return key, nil
}

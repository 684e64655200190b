package snowflake

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/faucetdb/cistern/internal/dialect"
)

// writePEM writes der as a PEM block of the given type and returns its path.
func writePEM(t *testing.T, blockType string, der []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSessionDSN(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	if err != nil {
		t.Fatal(err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	ecDER, err := x509.MarshalPKCS8PrivateKey(ecKey)
	if err != nil {
		t.Fatal(err)
	}

	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		dsn     string
		keyPath func(t *testing.T) string
		jwt     bool
		wkt     bool
		same    bool // DSN passed through untouched
		wantErr string
		errIs   error
	}{
		{
			name: "password auth gets WKT output",
			dsn:  "user:pass@myaccount/mydb/public?warehouse=wh",
			wkt:  true,
		},
		{
			name: "unparseable DSN without a key is passed through",
			dsn:  ":::invalid",
			same: true,
		},
		{
			name:    "PKCS1 key without password",
			dsn:     "user@myaccount/mydb/public?warehouse=wh",
			keyPath: func(t *testing.T) string { return writePEM(t, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rsaKey)) },
			jwt:     true,
			wkt:     true,
		},
		{
			name:    "PKCS8 key replaces the password",
			dsn:     "user:ignored@myaccount/mydb/public",
			keyPath: func(t *testing.T) string { return writePEM(t, "PRIVATE KEY", pkcs8) },
			jwt:     true,
			wkt:     true,
		},
		{
			name:    "missing key file",
			dsn:     "user@myaccount/mydb",
			keyPath: func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.pem") },
			wantErr: "read private key",
			errIs:   os.ErrNotExist,
		},
		{
			name:    "key file without PEM",
			dsn:     "user@myaccount/mydb",
			keyPath: func(*testing.T) string { return garbage },
			errIs:   errNoPEM,
		},
		{
			name:    "key that is not RSA",
			dsn:     "user@myaccount/mydb",
			keyPath: func(t *testing.T) string { return writePEM(t, "PRIVATE KEY", ecDER) },
			wantErr: "ecdsa",
			errIs:   errNotRSA,
		},
		{
			name:    "PEM block that is not a key",
			dsn:     "user@myaccount/mydb",
			keyPath: func(t *testing.T) string { return writePEM(t, "CERTIFICATE", []byte("junk")) },
			wantErr: "parse private key",
		},
		{
			name:    "unparseable DSN with a key",
			dsn:     ":::invalid",
			keyPath: func(t *testing.T) string { return writePEM(t, "PRIVATE KEY", pkcs8) },
			wantErr: "parse DSN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := dialect.ConnectionConfig{Driver: "snowflake", DSN: tt.dsn}
			if tt.keyPath != nil {
				cfg.PrivateKeyPath = tt.keyPath(t)
			}

			got, err := sessionDSN(cfg)
			if tt.wantErr != "" || tt.errIs != nil {
				if err == nil {
					t.Fatalf("expected error, got DSN %q", got)
				}
				if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error %q does not mention %q", err, tt.wantErr)
				}
				if tt.errIs != nil && !errors.Is(err, tt.errIs) {
					t.Errorf("error %q is not %v", err, tt.errIs)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.same && got != tt.dsn {
				t.Errorf("DSN rewritten to %q, want it unchanged", got)
			}
			lower := strings.ToLower(got)
			if jwt := strings.Contains(lower, "authenticator=snowflake_jwt"); jwt != tt.jwt {
				t.Errorf("JWT authenticator = %v, want %v in %q", jwt, tt.jwt, got)
			}
			if tt.jwt && strings.Contains(got, "ignored") {
				t.Errorf("password kept alongside key-pair auth: %q", got)
			}
			for _, p := range []string{"GEOGRAPHY_OUTPUT_FORMAT=WKT", "GEOMETRY_OUTPUT_FORMAT=WKT"} {
				if has := strings.Contains(got, p); has != tt.wkt {
					t.Errorf("%s present = %v, want %v in %q", p, has, tt.wkt, got)
				}
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Open
// ---------------------------------------------------------------------------

func TestOpenRejectsUnreadableKey(t *testing.T) {
	_, err := New().Open(dialect.ConnectionConfig{
		Driver:         "snowflake",
		DSN:            "user@myaccount/mydb",
		PrivateKeyPath: filepath.Join(t.TempDir(), "absent.pem"),
	})
	if err == nil {
		t.Fatal("expected an error for a missing key file")
	}
	if !strings.Contains(err.Error(), "snowflake key-pair auth") || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWithPasswordPlaceholder(t *testing.T) {
	tests := []struct{ in, want string }{
		{"user@acct/db", "user:_@acct/db"},
		{"user:secret@acct/db", "user:secret@acct/db"},
		{"@acct", "@acct"},
		{"no-at-sign", "no-at-sign"},
	}
	for _, tt := range tests {
		if got := withPasswordPlaceholder(tt.in); got != tt.want {
			t.Errorf("withPasswordPlaceholder(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package dialect

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/ewkbhex"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// GeometryFormat is the wire format a driver returns geometry columns in.
type GeometryFormat int

const (
	// GeometryText: the driver returns WKT (or the query renders it).
	GeometryText GeometryFormat = iota
	// GeometryEWKBHex: PostGIS text output, hex-encoded extended WKB.
	GeometryEWKBHex
	// GeometryMySQL: 4-byte little-endian SRID followed by WKB.
	GeometryMySQL
	// GeometryWKB: plain WKB bytes.
	GeometryWKB
	// GeometryNative: a proprietary encoding only WKT text can be read from;
	// queries must render the column with the database's as-text function.
	GeometryNative
)

// GeometryCodec converts between well-known text, which is what the engine
// exchanges with callers, and a database's native geometry representation.
type GeometryCodec struct {
	// Template is the SQL expression building a geometry from WKT, with %s
	// standing for the bound placeholder. Empty binds the WKT text as-is.
	Template string
	Format   GeometryFormat
}

// EncodePlaceholder wraps a bind marker so the database receives a geometry
// built from the WKT bound to it.
func (c GeometryCodec) EncodePlaceholder(placeholder string) string {
	if c.Template == "" {
		return placeholder
	}
	return fmt.Sprintf(c.Template, placeholder)
}

// Decode renders a scanned geometry value as WKT. Text that already looks
// like WKT is returned untouched whatever the configured format.
func (c GeometryCodec) Decode(raw any) (string, error) {
	var data []byte
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		if looksLikeWKT(v) {
			return v, nil
		}
		data = []byte(v)
	case []byte:
		if looksLikeWKT(string(v)) {
			return string(v), nil
		}
		data = v
	default:
		return "", fmt.Errorf("unsupported geometry value %T", raw)
	}

	var (
		g   geom.T
		err error
	)
	switch c.Format {
	case GeometryText:
		return string(data), nil
	case GeometryNative:
		return "", errors.New("native geometry encoding; select the column as WKT text")
	case GeometryEWKBHex:
		if isHex(data) {
			g, err = ewkbhex.Decode(string(data))
		} else {
			g, err = ewkb.Unmarshal(data)
		}
	case GeometryMySQL:
		if len(data) < 5 {
			return "", fmt.Errorf("geometry value too short (%d bytes)", len(data))
		}
		g, err = wkb.Unmarshal(data[4:])
	case GeometryWKB:
		if isHex(data) {
			decoded, herr := hex.DecodeString(string(data))
			if herr != nil {
				return "", fmt.Errorf("decode geometry hex: %w", herr)
			}
			data = decoded
		}
		g, err = wkb.Unmarshal(data)
	}
	if err != nil {
		return "", fmt.Errorf("decode geometry: %w", err)
	}
	return wkt.Marshal(g)
}

var wktPrefixes = []string{
	"POINT", "LINESTRING", "POLYGON", "MULTIPOINT", "MULTILINESTRING",
	"MULTIPOLYGON", "GEOMETRYCOLLECTION", "SRID=",
}

func looksLikeWKT(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, p := range wktPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func isHex(b []byte) bool {
	if len(b) == 0 || len(b)%2 != 0 {
		return false
	}
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

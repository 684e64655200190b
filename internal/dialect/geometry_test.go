package dialect

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkbhex"
	"github.com/twpayne/go-geom/encoding/wkb"
)

func testPoint(t *testing.T) *geom.Point {
	t.Helper()
	p, err := geom.NewPoint(geom.XY).SetCoords(geom.Coord{1, 2})
	if err != nil {
		t.Fatalf("SetCoords: %v", err)
	}
	return p
}

func TestGeometryDecodePostGIS(t *testing.T) {
	hexed, err := ewkbhex.Encode(testPoint(t), binary.LittleEndian)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	codec := GeometryCodec{Template: "ST_GeomFromText(%s)", Format: GeometryEWKBHex}
	got, err := codec.Decode(hexed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !strings.HasPrefix(got, "POINT") || !strings.Contains(got, "1 2") {
		t.Errorf("got %q, want a WKT point at (1 2)", got)
	}
}

func TestGeometryDecodeMySQL(t *testing.T) {
	body, err := wkb.Marshal(testPoint(t), binary.LittleEndian)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	raw := append([]byte{0, 0, 0, 0}, body...)

	codec := GeometryCodec{Template: "ST_GeomFromText(%s)", Format: GeometryMySQL}
	got, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !strings.HasPrefix(got, "POINT") {
		t.Errorf("got %q, want a WKT point", got)
	}
}

func TestGeometryDecodePassesWKTThrough(t *testing.T) {
	codec := GeometryCodec{Format: GeometryEWKBHex}
	for _, in := range []any{"POINT(3 4)", []byte("polygon((0 0,1 0,1 1,0 0))")} {
		got, err := codec.Decode(in)
		if err != nil {
			t.Fatalf("Decode(%v): %v", in, err)
		}
		var want string
		switch v := in.(type) {
		case string:
			want = v
		case []byte:
			want = string(v)
		}
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestGeometryDecodeErrors(t *testing.T) {
	codec := GeometryCodec{Format: GeometryMySQL}
	if _, err := codec.Decode([]byte{1, 2}); err == nil {
		t.Error("expected error for truncated value")
	}
	if _, err := codec.Decode(42); err == nil {
		t.Error("expected error for unsupported type")
	}
	native := GeometryCodec{Format: GeometryNative}
	if _, err := native.Decode([]byte{0xE6, 0x10, 0, 0}); err == nil {
		t.Error("expected error for native encoding")
	}
}

func TestEncodePlaceholder(t *testing.T) {
	tests := []struct {
		codec GeometryCodec
		ph    string
		want  string
	}{
		{GeometryCodec{Template: "ST_GeomFromText(%s)"}, "$1", "ST_GeomFromText($1)"},
		{GeometryCodec{Template: "geometry::STGeomFromText(%s, 0)"}, "@p2", "geometry::STGeomFromText(@p2, 0)"},
		{GeometryCodec{}, "?", "?"},
	}
	for _, tt := range tests {
		if got := tt.codec.EncodePlaceholder(tt.ph); got != tt.want {
			t.Errorf("EncodePlaceholder(%q) = %q, want %q", tt.ph, got, tt.want)
		}
	}
}

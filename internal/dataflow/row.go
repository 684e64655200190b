package dataflow

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/faucetdb/cistern/internal/generic"
)

// Row is one result row: field names in column order mapped to values.
type Row struct {
	names  []string
	values []generic.Value
}

// NewRow pairs names with values. Both slices must have the same length.
func NewRow(names []string, values []generic.Value) Row {
	return Row{names: names, values: values}
}

func (r Row) Len() int { return len(r.names) }

// Names returns the field names in column order.
func (r Row) Names() []string { return append([]string(nil), r.names...) }

// Values returns the values in column order.
func (r Row) Values() []generic.Value { return append([]generic.Value(nil), r.values...) }

// Get looks a value up by field name, ignoring case.
func (r Row) Get(name string) (generic.Value, bool) {
	for i, n := range r.names {
		if strings.EqualFold(n, name) {
			return r.values[i], true
		}
	}
	return generic.Value{}, false
}

// Map returns the row as a name-to-value map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.names))
	for i, n := range r.names {
		m[n] = r.values[i].Interface()
	}
	return m
}

// MarshalJSON renders the row as a JSON object keeping column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := r.values[i].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

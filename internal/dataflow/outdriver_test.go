package dataflow

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
)

// outDriver is a database/sql driver that fills sql.Out arguments the way
// SQL Server and Oracle drivers do. LONG outputs receive 42, InOut LONG
// inputs are doubled, and everything else receives "done". Queries return
// one row with a single "status" column.
type outDriver struct {
	mu       sync.Mutex
	queries  []string
	execs    []string
	received [][]any
}

var fakeOut = &outDriver{}

func init() { sql.Register("cistern-out", fakeOut) }

func (d *outDriver) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries, d.execs, d.received = nil, nil, nil
}

func (d *outDriver) Open(string) (driver.Conn, error) { return &outConn{d: d}, nil }

type outConn struct{ d *outDriver }

func (c *outConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *outConn) Close() error                        { return nil }
func (c *outConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

// CheckNamedValue lets sql.Out through to the driver untouched.
func (c *outConn) CheckNamedValue(nv *driver.NamedValue) error {
	if _, ok := nv.Value.(sql.Out); ok {
		return nil
	}
	v, err := driver.DefaultParameterConverter.ConvertValue(nv.Value)
	nv.Value = v
	return err
}

func (c *outConn) fill(args []driver.NamedValue) error {
	in := make([]any, len(args))
	for i, a := range args {
		in[i] = a.Value
		out, ok := a.Value.(sql.Out)
		if !ok {
			continue
		}
		dest := out.Dest.(sql.Scanner)
		switch h := out.Dest.(type) {
		case *sql.NullInt64:
			if out.In && h.Valid {
				if err := dest.Scan(h.Int64 * 2); err != nil {
					return err
				}
				continue
			}
			if err := dest.Scan(int64(42)); err != nil {
				return err
			}
		default:
			if err := dest.Scan("done"); err != nil {
				return err
			}
		}
	}
	c.d.mu.Lock()
	c.d.received = append(c.d.received, in)
	c.d.mu.Unlock()
	return nil
}

func (c *outConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := c.fill(args); err != nil {
		return nil, err
	}
	c.d.mu.Lock()
	c.d.queries = append(c.d.queries, query)
	c.d.mu.Unlock()
	return &outRows{}, nil
}

func (c *outConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := c.fill(args); err != nil {
		return nil, err
	}
	c.d.mu.Lock()
	c.d.execs = append(c.d.execs, query)
	c.d.mu.Unlock()
	return driver.RowsAffected(0), nil
}

type outRows struct{ done bool }

func (r *outRows) Columns() []string { return []string{"status"} }
func (r *outRows) Close() error      { return nil }

func (r *outRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = "ok"
	return nil
}

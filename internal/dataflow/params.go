package dataflow

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/entity"
	"github.com/faucetdb/cistern/internal/generic"
)

// call is a compiled read together with the way its Out and InOut
// parameters come back from the database.
type call struct {
	sql   string
	args  []any
	bound []*entity.Parameter
	style dialect.OutStyle
	// exec is set for calls that yield no result set.
	exec bool

	holders map[int]driver.Valuer // OutBind: bound index -> sql.Out destination
	vars    map[int]string        // OutSessionVars: bound index -> session variable
	first   *Row                  // OutResultRow: the row carrying the values
}

// compileCall compiles the entity clause for d and builds the driver
// arguments. Procedures given by bare name use the dialect's call syntax.
func compileCall(e *entity.Entity, d dialect.Dialect, params []*entity.Parameter) (*call, error) {
	procs := d.Procedures()

	var phErr error
	q, bound, err := e.CompileCall(params, func(name string, refs []string) string {
		if procs == nil {
			phErr = fmt.Errorf("%s: %w", d.Name(), dialect.ErrNoProcedures)
			return ""
		}
		return procs.CallSQL(name, refs)
	}, func(i int, param *entity.Parameter) string {
		ph, _, err := dialect.ArgPlaceholder(d, i, param.Type, param.Mode.Returns())
		if err != nil && phErr == nil {
			phErr = err
		}
		return ph
	})
	if err != nil {
		return nil, err
	}
	if phErr != nil {
		return nil, phErr
	}

	c := &call{sql: q.SQL, bound: bound}
	if procs != nil {
		c.style = procs.Out
		c.exec = procs.NoResultSet && e.Procedure()
	}
	for i, p := range bound {
		if !p.Mode.Returns() {
			c.args = append(c.args, p.Value.Arg())
			continue
		}
		switch c.style {
		case dialect.OutBind:
			if c.holders == nil {
				c.holders = make(map[int]driver.Valuer)
			}
			h := outHolder(p)
			c.holders[i] = h
			c.args = append(c.args, sql.Out{Dest: h, In: p.Mode == entity.ModeInOut})
		case dialect.OutSessionVars:
			if c.vars == nil {
				c.vars = make(map[int]string)
			}
			c.vars[i] = dialect.SessionVar(i + 1)
		default:
			c.args = append(c.args, inValue(p))
		}
	}
	return c, nil
}

// inValue is what an Out or InOut parameter sends in: its value for InOut,
// a typed NULL for Out.
func inValue(p *entity.Parameter) any {
	if p.Mode == entity.ModeInOut {
		return p.Value.Arg()
	}
	return generic.NullValue(p.Type)
}

// prepare seeds the session variables of an OutSessionVars call. Out
// variables are reset to NULL so a pooled connection never leaks an
// earlier value.
func (c *call) prepare(ctx context.Context, conn *sqlx.Conn, d dialect.Dialect) error {
	for i := range c.bound {
		v, ok := c.vars[i]
		if !ok {
			continue
		}
		if _, err := conn.ExecContext(ctx, "SET "+v+" = "+d.ParameterPlaceholder(1), inValue(c.bound[i])); err != nil {
			return fmt.Errorf("set %s: %w", v, err)
		}
	}
	return nil
}

// readBack copies the returned Out and InOut values into their parameters.
// It runs once the result set is closed, which is when drivers fill sql.Out
// destinations.
func (c *call) readBack(ctx context.Context, conn *sqlx.Conn) error {
	switch c.style {
	case dialect.OutBind:
		for i, h := range c.holders {
			raw, err := h.Value()
			if err != nil {
				return err
			}
			if err := setReturned(c.bound[i], raw); err != nil {
				return err
			}
		}
	case dialect.OutResultRow:
		if c.first == nil {
			return nil
		}
		k := 0
		for _, p := range c.bound {
			if !p.Mode.Returns() {
				continue
			}
			v, ok := c.first.Get(p.Name)
			if !ok && k < c.first.Len() {
				v, ok = c.first.Values()[k], true
			}
			k++
			if ok {
				if err := setReturned(p, v.Interface()); err != nil {
					return err
				}
			}
		}
	case dialect.OutSessionVars:
		if len(c.vars) == 0 {
			return nil
		}
		order := make([]int, 0, len(c.vars))
		names := make([]string, 0, len(c.vars))
		for i := range c.bound {
			if v, ok := c.vars[i]; ok {
				order = append(order, i)
				names = append(names, v)
			}
		}
		raw := make([]any, len(order))
		ptrs := make([]any, len(order))
		for j := range raw {
			ptrs[j] = &raw[j]
		}
		if err := conn.QueryRowxContext(ctx, "SELECT "+strings.Join(names, ", ")).Scan(ptrs...); err != nil {
			return fmt.Errorf("read output variables: %w", err)
		}
		for j, i := range order {
			if err := setReturned(c.bound[i], raw[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

func setReturned(p *entity.Parameter, raw any) error {
	if t, ok := raw.(time.Time); ok {
		raw = t.UTC()
	}
	v, err := generic.FromDriver(p.Type, raw)
	if err != nil {
		return fmt.Errorf("parameter %s: %w", p.Name, err)
	}
	p.Value = generic.NewValue(p.Type, v)
	return nil
}

// outHolder returns a typed destination for an Out/InOut parameter,
// pre-filled with the input value for InOut.
func outHolder(p *entity.Parameter) driver.Valuer {
	in := p.Mode == entity.ModeInOut && !p.Value.IsNull()
	switch p.Type {
	case generic.Double:
		h := &sql.NullFloat64{}
		if f, ok := p.Value.AsDouble(); ok && in {
			h.Float64, h.Valid = f, true
		}
		return h
	case generic.Long:
		h := &sql.NullInt64{}
		if i, ok := p.Value.AsLong(); ok && in {
			h.Int64, h.Valid = i, true
		}
		return h
	case generic.Date:
		h := &sql.NullTime{}
		if d, ok := p.Value.AsDate(); ok && in {
			h.Time, h.Valid = d, true
		}
		return h
	case generic.Boolean:
		h := &sql.NullBool{}
		if b, ok := p.Value.AsBool(); ok && in {
			h.Bool, h.Valid = b, true
		}
		return h
	default:
		h := &sql.NullString{}
		if s, ok := p.Value.AsString(); ok && in {
			h.String, h.Valid = s, true
		}
		return h
	}
}

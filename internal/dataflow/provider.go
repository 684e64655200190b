// Package dataflow executes entity reads: it binds parameters, runs the
// query or procedure on a dedicated connection and converts rows into
// generic values, optionally one page at a time.
package dataflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/cistern/internal/async"
	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/entity"
	"github.com/faucetdb/cistern/internal/generic"
	"github.com/faucetdb/cistern/internal/metrics"
)

// ErrNotPaged is returned by NextPage when no paged read is in progress,
// including after the last page was delivered.
var ErrNotPaged = errors.New("no paged read in progress")

// Env is what a provider needs from the database it reads from. Reads run
// on Workers, which is required: without it reads fail with
// async.ErrNoPool. Futures complete on Completion when it is set.
type Env struct {
	DB         dialect.ConnSource
	Dialect    dialect.Dialect
	Workers    *async.Pool
	Completion *async.Pool
	Logger     *slog.Logger
	Metrics    *metrics.Collector
}

// Provider reads one entity. Calls on a single provider are serialized;
// independent providers do not share state.
type Provider struct {
	entity *entity.Entity
	env    Env

	mu     sync.Mutex
	cursor *cursor
	params []*entity.Parameter
}

// New creates a provider for e.
func New(e *entity.Entity, env Env) *Provider {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	return &Provider{entity: e, env: env}
}

func (p *Provider) Entity() *entity.Entity { return p.entity }

// Pull starts a read with params, which are bound by name. Nil params use
// the entity defaults. Any open page cursor is closed first. For a paged
// entity the first page is returned and the rest stays on the server.
func (p *Provider) Pull(ctx context.Context, params []*entity.Parameter) *async.Future[[]Row] {
	if params == nil {
		params = p.entity.NewParameters()
	}
	f := async.Go(ctx, p.env.Workers, func(ctx context.Context) (rows []Row, err error) {
		done := p.env.Metrics.Start(metrics.OpPull)
		defer func() { done(err) }()

		p.mu.Lock()
		defer p.mu.Unlock()
		p.closeCursor()
		p.params = params

		rows, err = p.pull(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("pull %s: %w", p.entity.Name(), err)
		}
		p.env.Metrics.RowsRead(len(rows))
		return rows, nil
	})
	return async.Deliver(f, p.env.Completion)
}

// NextPage returns the next page of the read started by Pull. It fails with
// ErrNotPaged when the entity is unpaged, when nothing was pulled, or once
// the result is exhausted.
func (p *Provider) NextPage(ctx context.Context) *async.Future[[]Row] {
	if !p.entity.Paged() {
		return async.Failed[[]Row](fmt.Errorf("%s: %w", p.entity.Name(), ErrNotPaged))
	}
	f := async.Go(ctx, p.env.Workers, func(ctx context.Context) (rows []Row, err error) {
		done := p.env.Metrics.Start(metrics.OpNextPage)
		defer func() { done(err) }()

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.cursor == nil {
			return nil, fmt.Errorf("%s: %w", p.entity.Name(), ErrNotPaged)
		}

		rows, more, err := p.cursor.read(p.entity.PageSize())
		if err != nil {
			p.closeCursor()
			return nil, fmt.Errorf("next page of %s: %w", p.entity.Name(), err)
		}
		if !more {
			err = p.finish(ctx)
		}
		p.env.Metrics.RowsRead(len(rows))
		return rows, err
	})
	return async.Deliver(f, p.env.Completion)
}

// Parameters returns the parameters of the last Pull. Out and InOut values
// are filled in once the result has been read to the end.
func (p *Provider) Parameters() []*entity.Parameter {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*entity.Parameter, len(p.params))
	for i, param := range p.params {
		out[i] = param.Clone()
	}
	return out
}

// Paging reports whether a page cursor is open.
func (p *Provider) Paging() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor != nil
}

// Close releases any open cursor and its connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCursor()
}

func (p *Provider) pull(ctx context.Context, params []*entity.Parameter) ([]Row, error) {
	c, err := compileCall(p.entity, p.env.Dialect, params)
	if err != nil {
		return nil, err
	}

	conn, err := p.env.DB.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if err := c.prepare(ctx, conn, p.env.Dialect); err != nil {
		conn.Close()
		return nil, err
	}

	p.env.Logger.Debug("dataflow: executing", "entity", p.entity.Name(), "sql", c.sql, "params", len(c.bound))
	if c.exec {
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, c.sql, c.args...); err != nil {
			return nil, err
		}
		return nil, c.readBack(ctx, conn)
	}

	// database/sql closes rows when their context ends, so a cursor that
	// outlives this call must not inherit the caller's cancellation.
	qctx := ctx
	if p.entity.Paged() {
		qctx = context.WithoutCancel(ctx)
	}

	rs, err := conn.QueryxContext(qctx, c.sql, c.args...)
	if err != nil {
		conn.Close()
		return nil, err
	}

	cur, err := p.newCursor(conn, rs, c)
	if err != nil {
		rs.Close()
		conn.Close()
		return nil, err
	}
	p.cursor = cur

	rows, more, err := cur.read(p.entity.PageSize())
	if err != nil {
		p.closeCursor()
		return nil, err
	}
	if len(rows) > 0 {
		c.first = &rows[0]
	}
	if !more {
		if err := p.finish(ctx); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// finish closes an exhausted cursor and reads back output parameters,
// which drivers only fill once the result set is closed.
func (p *Provider) finish(ctx context.Context) error {
	c := p.cursor
	if c == nil {
		return nil
	}
	p.cursor = nil

	closeErr := c.rows.Close()
	var outErr error
	if closeErr == nil {
		outErr = c.call.readBack(ctx, c.conn)
	}
	connErr := c.conn.Close()
	if err := errors.Join(closeErr, outErr); err != nil {
		return err
	}
	if connErr != nil {
		p.env.Logger.Warn("dataflow: release connection", "entity", p.entity.Name(), "error", connErr)
	}
	return nil
}

func (p *Provider) closeCursor() error {
	c := p.cursor
	if c == nil {
		return nil
	}
	p.cursor = nil
	return errors.Join(c.rows.Close(), c.conn.Close())
}

type column struct {
	name     string
	typ      generic.Type
	geometry bool
}

type cursor struct {
	conn    *sqlx.Conn
	rows    *sqlx.Rows
	cols    []column
	pending *Row

	call *call

	entity  string
	codec   dialect.GeometryCodec
	logger  *slog.Logger
	scratch []any
}

func (p *Provider) newCursor(conn *sqlx.Conn, rs *sqlx.Rows, c *call) (*cursor, error) {
	types, err := rs.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}

	resolver := p.env.Dialect.Types()
	cols := make([]column, len(types))
	for i, ct := range types {
		col := column{name: ct.Name()}
		if f, ok := p.entity.Field(ct.Name()); ok {
			col.name = f.Name
			col.typ = f.Type
		} else {
			col.typ = resolver.Resolve(ct.DatabaseTypeName())
		}
		col.geometry = col.typ == generic.Geometry
		cols[i] = col
	}

	return &cursor{
		conn:    conn,
		rows:    rs,
		cols:    cols,
		call:    c,
		entity:  p.entity.Name(),
		codec:   p.env.Dialect.Geometry(),
		logger:  p.env.Logger,
		scratch: make([]any, len(cols)),
	}, nil
}

// read returns up to limit rows (all when limit <= 0). more reports whether
// at least one further row exists; it is found by reading one row ahead.
func (c *cursor) read(limit int) (out []Row, more bool, err error) {
	out = make([]Row, 0, max(limit, 0))
	if c.pending != nil {
		out = append(out, *c.pending)
		c.pending = nil
	}
	for limit <= 0 || len(out) < limit {
		if !c.rows.Next() {
			return out, false, c.rows.Err()
		}
		r, err := c.scan()
		if err != nil {
			return nil, false, err
		}
		out = append(out, r)
	}

	if !c.rows.Next() {
		return out, false, c.rows.Err()
	}
	r, err := c.scan()
	if err != nil {
		return nil, false, err
	}
	c.pending = &r
	return out, true, nil
}

func (c *cursor) scan() (Row, error) {
	ptrs := make([]any, len(c.cols))
	for i := range c.scratch {
		c.scratch[i] = nil
		ptrs[i] = &c.scratch[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return Row{}, fmt.Errorf("scan: %w", err)
	}

	names := make([]string, len(c.cols))
	values := make([]generic.Value, len(c.cols))
	for i, col := range c.cols {
		names[i] = col.name
		values[i] = c.convert(col, c.scratch[i])
	}
	return NewRow(names, values), nil
}

// convert coerces a scanned value to the column type. Failures are logged
// and the value is kept as the driver returned it.
func (c *cursor) convert(col column, raw any) generic.Value {
	if raw == nil {
		return generic.Null(col.typ)
	}
	if col.geometry {
		wkt, err := c.codec.Decode(raw)
		if err != nil {
			c.logger.Warn("dataflow: geometry decode failed",
				"entity", c.entity, "field", col.name, "error", err)
			return generic.NewValue(col.typ, raw)
		}
		return generic.NewValue(col.typ, wkt)
	}

	v, err := generic.FromDriver(col.typ, raw)
	if err != nil {
		c.logger.Warn("dataflow: value coercion failed",
			"entity", c.entity, "field", col.name, "type", col.typ.String(), "error", err)
	}
	return generic.NewValue(col.typ, v)
}

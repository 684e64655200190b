// Package catalog caches database metadata (schemas, tables, columns, keys
// and indexes) behind case-insensitive, lazily populated lookups.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/metrics"
)

// Catalog is the metadata cache for one database. It is safe for concurrent
// use; concurrent first lookups of the same table share one introspection.
type Catalog struct {
	dialect dialect.Dialect
	db      dialect.Queryer
	logger  *slog.Logger
	metrics *metrics.Collector

	group singleflight.Group

	mu            sync.RWMutex
	defaultSchema string
	schemas       []string
	tables        map[string]*Table
	indexes       map[string][]Index
}

// New creates an empty catalog that introspects db through d. A nil logger
// uses slog.Default(); a nil collector records nothing.
func New(d dialect.Dialect, db dialect.Queryer, logger *slog.Logger, m *metrics.Collector) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		dialect: d,
		db:      db,
		logger:  logger,
		metrics: m,
		tables:  make(map[string]*Table),
		indexes: make(map[string][]Index),
	}
}

// Dialect returns the dialect the catalog introspects with.
func (c *Catalog) Dialect() dialect.Dialect { return c.dialect }

// SplitName splits a possibly schema-qualified name on its last dot.
func SplitName(qualified string) (schema, table string) {
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		return qualified[:i], qualified[i+1:]
	}
	return "", qualified
}

func cacheKey(schema, table string) string {
	return strings.ToLower(schema) + "." + strings.ToLower(table)
}

// DefaultSchema returns the connection's current schema, queried once.
func (c *Catalog) DefaultSchema(ctx context.Context) (string, error) {
	c.mu.RLock()
	s := c.defaultSchema
	c.mu.RUnlock()
	if s != "" {
		return s, nil
	}

	v, err, _ := c.group.Do("default-schema", func() (any, error) {
		s, err := dialect.DefaultSchema(ctx, c.dialect, c.db)
		if err != nil {
			return "", fmt.Errorf("discover default schema: %w", err)
		}
		c.mu.Lock()
		c.defaultSchema = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Schemas lists the schema names visible to the connection, queried once.
func (c *Catalog) Schemas(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	s := c.schemas
	c.mu.RUnlock()
	if s != nil {
		return append([]string(nil), s...), nil
	}

	v, err, _ := c.group.Do("schemas", func() (any, error) {
		names, err := c.dialect.Schemas(ctx, c.db)
		if err != nil {
			return nil, err
		}
		if names == nil {
			names = []string{}
		}
		c.mu.Lock()
		c.schemas = names
		c.mu.Unlock()
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), v.([]string)...), nil
}

// Table returns a copy of the catalog entry for a table, introspecting it on
// first use. Unknown tables yield an error wrapping ErrNotFound.
func (c *Catalog) Table(ctx context.Context, qualified string) (*Table, error) {
	schema, table, explicit, err := c.resolve(ctx, qualified)
	if err != nil {
		return nil, err
	}
	key := cacheKey(schema, table)

	if t, ok := c.cached(key); ok {
		return t.clone(), nil
	}

	v, err, _ := c.group.Do("table:"+key, func() (any, error) {
		if t, ok := c.cached(key); ok {
			return t, nil
		}
		return c.fill(ctx, key, schema, table, explicit)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table).clone(), nil
}

// RefreshTable re-introspects a table and replaces its cached entry and
// indexes.
func (c *Catalog) RefreshTable(ctx context.Context, qualified string) (*Table, error) {
	schema, table, explicit, err := c.resolve(ctx, qualified)
	if err != nil {
		return nil, err
	}
	key := cacheKey(schema, table)

	v, err, _ := c.group.Do("refresh:"+key, func() (any, error) {
		c.mu.Lock()
		delete(c.indexes, key)
		c.mu.Unlock()
		return c.fill(ctx, key, schema, table, explicit)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table).clone(), nil
}

// Indexes returns the indexes of a table, fetched on first use.
func (c *Catalog) Indexes(ctx context.Context, qualified string) ([]Index, error) {
	t, err := c.Table(ctx, qualified)
	if err != nil {
		return nil, err
	}
	key := cacheKey(t.Schema, t.Name)

	c.mu.RLock()
	idx, ok := c.indexes[key]
	c.mu.RUnlock()
	if ok {
		return cloneIndexes(idx), nil
	}

	v, err, _ := c.group.Do("indexes:"+key, func() (any, error) {
		rows, err := c.dialect.Indexes(ctx, c.db, t.Schema, t.Name)
		if err != nil {
			return nil, err
		}
		idx := groupIndexes(rows)
		c.mu.Lock()
		c.indexes[key] = idx
		c.mu.Unlock()
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneIndexes(v.([]Index)), nil
}

func (c *Catalog) cached(key string) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[key]
	return t, ok
}

// resolve splits qualified and fills in the default schema. explicit reports
// whether the caller named the schema.
func (c *Catalog) resolve(ctx context.Context, qualified string) (schema, table string, explicit bool, err error) {
	schema, table = SplitName(strings.TrimSpace(qualified))
	if table == "" {
		return "", "", false, fmt.Errorf("table %q: %w", qualified, ErrNotFound)
	}
	if schema != "" {
		return schema, table, true, nil
	}
	schema, err = c.DefaultSchema(ctx)
	if err != nil {
		return "", "", false, err
	}
	return schema, table, false, nil
}

// candidates lists the spellings tried in order until one has columns.
// Databases fold unquoted identifiers differently (PostgreSQL to lower,
// Oracle and Snowflake to upper).
func candidates(schema, table string, explicit bool) [][2]string {
	out := [][2]string{{schema, table}}
	add := func(s, t string) {
		for _, c := range out {
			if c[0] == s && c[1] == t {
				return
			}
		}
		out = append(out, [2]string{s, t})
	}
	if explicit {
		add(strings.ToLower(schema), strings.ToLower(table))
		add(strings.ToUpper(schema), strings.ToUpper(table))
	} else {
		add(schema, strings.ToLower(table))
		add(schema, strings.ToUpper(table))
	}
	return out
}

func (c *Catalog) fill(ctx context.Context, key, schema, table string, explicit bool) (t *Table, err error) {
	done := c.metrics.Start(metrics.OpIntrospect)
	defer func() { done(err) }()

	for _, cand := range candidates(schema, table, explicit) {
		cols, err := c.dialect.Columns(ctx, c.db, cand[0], cand[1])
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			continue
		}

		t, err = c.build(ctx, cand[0], cand[1], cols)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.tables[key] = t
		c.mu.Unlock()

		c.logger.Debug("catalog: table introspected",
			"schema", t.Schema, "table", t.Name, "columns", len(t.Columns))
		return t, nil
	}
	return nil, fmt.Errorf("table %s.%s: %w", schema, table, ErrNotFound)
}

func (c *Catalog) build(ctx context.Context, schema, table string, cols []dialect.Column) (*Table, error) {
	pks, err := c.dialect.PrimaryKeys(ctx, c.db, schema, table)
	if err != nil {
		return nil, err
	}
	fks, err := c.dialect.ForeignKeys(ctx, c.db, schema, table)
	if err != nil {
		return nil, err
	}

	pkSet := make(map[string]bool, len(pks))
	for _, pk := range pks {
		pkSet[strings.ToLower(pk.Column)] = true
	}
	refs := make(map[string]*Reference, len(fks))
	for _, fk := range fks {
		ref := fk.RefTable
		if fk.RefSchema != "" {
			ref = fk.RefSchema + "." + fk.RefTable
		}
		refs[strings.ToLower(fk.Column)] = &Reference{Table: ref, Column: fk.RefColumn}
	}

	t := &Table{Schema: cols[0].Schema, Name: cols[0].Table}
	if t.Schema == "" {
		t.Schema = schema
	}
	if t.Name == "" {
		t.Name = table
	}
	types := c.dialect.Types()
	t.Columns = make([]Column, len(cols))
	for i, col := range cols {
		lc := strings.ToLower(col.Name)
		t.Columns[i] = Column{
			Name:       col.Name,
			Table:      t.Name,
			Schema:     t.Schema,
			TypeName:   col.TypeName,
			Type:       types.Resolve(col.TypeName),
			Nullable:   col.Nullable,
			PrimaryKey: pkSet[lc],
			Reference:  refs[lc],
			Size:       col.Size,
			Precision:  col.Precision,
			Scale:      col.Scale,
			Remarks:    col.Remarks,
		}
	}
	return t, nil
}

func groupIndexes(rows []dialect.IndexColumn) []Index {
	var out []Index
	pos := make(map[string]int)
	for _, r := range rows {
		i, ok := pos[r.Index]
		if !ok {
			i = len(out)
			pos[r.Index] = i
			out = append(out, Index{
				Name:      r.Index,
				Clustered: r.Clustered,
				Hashed:    r.Hashed,
				Unique:    r.Unique,
			})
		}
		out[i].Columns = append(out[i].Columns, IndexColumn{Name: r.Column, Ascending: r.Ascending})
	}
	if out == nil {
		out = []Index{}
	}
	return out
}

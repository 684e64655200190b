// Package engine assembles the catalog, providers, binder and commit
// pipeline of a database behind one facade, and routes entities across
// several databases.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/cistern/internal/async"
	"github.com/faucetdb/cistern/internal/catalog"
	"github.com/faucetdb/cistern/internal/changes"
	"github.com/faucetdb/cistern/internal/commit"
	"github.com/faucetdb/cistern/internal/dataflow"
	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/entity"
	"github.com/faucetdb/cistern/internal/metrics"
)

const (
	DefaultWorkers           = 32
	DefaultCompletionWorkers = 4
)

// Options tunes a Database. Zero values take the defaults.
type Options struct {
	Workers           int
	CompletionWorkers int
	// Loader supplies stored entities; catalog tables are always loadable.
	Loader  entity.Loader
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Database is the engine facade over one connection source.
type Database struct {
	name    string
	db      *sqlx.DB
	dialect dialect.Dialect

	workers    *async.Pool
	completion *async.Pool

	catalog  *catalog.Catalog
	loader   entity.Loader
	binder   *changes.Binder
	pipeline *commit.Pipeline

	logger  *slog.Logger
	metrics *metrics.Collector
}

// Open connects cfg through d and builds a Database named name.
func Open(name string, d dialect.Dialect, cfg dialect.ConnectionConfig, opts Options) (*Database, error) {
	db, err := d.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", name, err)
	}
	return New(name, db, d, opts), nil
}

// New builds a Database over an open pool. The Database owns db from then
// on and closes it in Close.
func New(name string, db *sqlx.DB, d dialect.Dialect, opts Options) *Database {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.CompletionWorkers <= 0 {
		opts.CompletionWorkers = DefaultCompletionWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("database", name)

	x := &Database{
		name:       name,
		db:         db,
		dialect:    d,
		workers:    async.NewPool(name+"-workers", opts.Workers),
		completion: async.NewPool(name+"-completion", opts.CompletionWorkers),
		logger:     logger,
		metrics:    opts.Metrics,
	}
	x.catalog = catalog.New(d, db, logger, opts.Metrics)

	tables := entity.NewTableLoader(name, x.catalog)
	if opts.Loader != nil {
		x.loader = entity.Chain{opts.Loader, tables}
	} else {
		x.loader = tables
	}

	x.binder = changes.NewBinder(d, logger)
	x.pipeline = commit.New(commit.Config{
		DB:         db,
		Dialect:    d,
		Workers:    x.workers,
		Completion: x.completion,
		Logger:     logger,
		Metrics:    opts.Metrics,
	})
	return x
}

func (x *Database) Name() string              { return x.name }
func (x *Database) Dialect() dialect.Dialect  { return x.dialect }
func (x *Database) DB() *sqlx.DB              { return x.db }
func (x *Database) Catalog() *catalog.Catalog { return x.catalog }
func (x *Database) Completion() *async.Pool   { return x.completion }

// Ping verifies the database is reachable.
func (x *Database) Ping(ctx context.Context) error {
	return x.db.PingContext(ctx)
}

// LoadEntity resolves name through the stored entities first, then the
// catalog tables. Unknown names fail with entity.ErrNotFound.
func (x *Database) LoadEntity(ctx context.Context, name string) (*entity.Entity, error) {
	return x.loader.LoadEntity(ctx, name)
}

// Provider returns a new data provider reading e from this database.
func (x *Database) Provider(e *entity.Entity) *dataflow.Provider {
	return dataflow.New(e, dataflow.Env{
		DB:         x.db,
		Dialect:    x.dialect,
		Workers:    x.workers,
		Completion: x.completion,
		Logger:     x.logger,
		Metrics:    x.metrics,
	})
}

// Bind generates the statements of actions, loading their entities from
// this database.
func (x *Database) Bind(ctx context.Context, actions []changes.Action) ([]*changes.Statement, error) {
	return x.binder.BindAll(ctx, x, actions)
}

// BindEntity generates the statements of one action against an already
// loaded entity.
func (x *Database) BindEntity(e *entity.Entity, a changes.Action) ([]*changes.Statement, error) {
	return x.binder.Bind(e, a)
}

// Commit applies stmts in one transaction. See commit.Pipeline.
func (x *Database) Commit(ctx context.Context, stmts []*changes.Statement) *async.Future[int64] {
	return x.pipeline.Commit(ctx, stmts)
}

// Close stops the pools and closes the connection pool. Work already
// submitted finishes first.
func (x *Database) Close() error {
	x.workers.Close()
	x.completion.Close()
	if err := x.db.Close(); err != nil {
		return fmt.Errorf("close database %q: %w", x.name, err)
	}
	return nil
}

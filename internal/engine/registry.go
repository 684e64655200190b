package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/faucetdb/cistern/internal/async"
	"github.com/faucetdb/cistern/internal/catalog"
	"github.com/faucetdb/cistern/internal/changes"
	"github.com/faucetdb/cistern/internal/dataflow"
	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/entity"
	"github.com/faucetdb/cistern/internal/metrics"
)

// ErrUnknownDatabase is returned for a database name that is not connected.
var ErrUnknownDatabase = errors.New("unknown database")

// Registry holds the connected databases and routes each entity to the
// database named by its source, or to the default database.
type Registry struct {
	mu          sync.RWMutex
	dialects    *dialect.Registry
	active      map[string]*Database
	defaultName string
	loader      entity.Loader

	completion *async.Pool
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// NewRegistry creates an empty registry opening databases through dialects.
func NewRegistry(dialects *dialect.Registry, logger *slog.Logger, m *metrics.Collector) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		dialects:   dialects,
		active:     make(map[string]*Database),
		completion: async.NewPool("registry-completion", DefaultCompletionWorkers),
		logger:     logger,
		metrics:    m,
	}
}

// SetLoader sets the loader of stored entities shared by all databases.
func (r *Registry) SetLoader(l entity.Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loader = l
}

// SetDefault names the database used by entities without a source. The
// first connected database is the default until then.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = name
}

// Connect opens a database through its driver's dialect and registers it
// under name, replacing and closing any database of the same name.
func (r *Registry) Connect(name string, cfg dialect.ConnectionConfig, opts Options) error {
	d, err := r.dialects.Lookup(cfg.Driver)
	if err != nil {
		return err
	}
	if opts.Logger == nil {
		opts.Logger = r.logger
	}
	if opts.Metrics == nil {
		opts.Metrics = r.metrics
	}
	db, err := Open(name, d, cfg, opts)
	if err != nil {
		return err
	}
	r.Add(db)
	return nil
}

// Add registers an already built database.
func (r *Registry) Add(db *Database) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[db.Name()]; ok {
		if err := existing.Close(); err != nil {
			r.logger.Warn("engine: closing replaced database", "database", db.Name(), "error", err)
		}
	}
	r.active[db.Name()] = db
	if r.defaultName == "" {
		r.defaultName = db.Name()
	}
}

// Database returns the named database; "" is the default one.
func (r *Registry) Database(name string) (*Database, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultName
	}
	db, ok := r.active[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownDatabase, name, strings.Join(r.names(), ", "))
	}
	return db, nil
}

// Names returns the connected database names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.active))
	for n := range r.active {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Tables returns the catalog view of the named database, resolved at each
// call so it can be handed to loaders before databases connect.
func (r *Registry) Tables(source string) entity.TableSource {
	return registryTables{r: r, source: source}
}

type registryTables struct {
	r      *Registry
	source string
}

func (t registryTables) Table(ctx context.Context, name string) (*catalog.Table, error) {
	db, err := t.r.Database(t.source)
	if err != nil {
		return nil, err
	}
	return db.Catalog().Table(ctx, name)
}

// LoadEntity resolves name through the stored entities, then through the
// tables of the default database.
func (r *Registry) LoadEntity(ctx context.Context, name string) (*entity.Entity, error) {
	r.mu.RLock()
	loader := r.loader
	r.mu.RUnlock()

	if loader != nil {
		e, err := loader.LoadEntity(ctx, name)
		if err == nil || !errors.Is(err, entity.ErrNotFound) {
			return e, err
		}
	}
	db, err := r.Database("")
	if err != nil {
		return nil, err
	}
	return db.LoadEntity(ctx, name)
}

// DatabaseFor returns the database e reads from and writes to.
func (r *Registry) DatabaseFor(e *entity.Entity) (*Database, error) {
	return r.Database(e.Source())
}

// Provider returns a data provider for e on its database.
func (r *Registry) Provider(e *entity.Entity) (*dataflow.Provider, error) {
	db, err := r.DatabaseFor(e)
	if err != nil {
		return nil, err
	}
	return db.Provider(e), nil
}

// Batch is the statements bound for one database.
type Batch struct {
	Database   string
	Statements []*changes.Statement
}

// Bind binds actions and groups the statements by database. Batches follow
// the first appearance of their database; statements keep action order
// within a batch.
func (r *Registry) Bind(ctx context.Context, actions []changes.Action) ([]Batch, error) {
	var batches []Batch
	index := make(map[string]int)
	for i, a := range actions {
		e, err := r.LoadEntity(ctx, a.EntityName())
		if err != nil {
			return nil, fmt.Errorf("action %d (%s %s): %w", i, changes.Kind(a), a.EntityName(), err)
		}
		db, err := r.DatabaseFor(e)
		if err != nil {
			return nil, fmt.Errorf("action %d (%s %s): %w", i, changes.Kind(a), a.EntityName(), err)
		}
		stmts, err := db.BindEntity(e, a)
		if err != nil {
			return nil, fmt.Errorf("action %d (%s %s): %w", i, changes.Kind(a), a.EntityName(), err)
		}

		j, ok := index[db.Name()]
		if !ok {
			j = len(batches)
			index[db.Name()] = j
			batches = append(batches, Batch{Database: db.Name()})
		}
		batches[j].Statements = append(batches[j].Statements, stmts...)
	}
	return batches, nil
}

// Commit commits every batch on its database and resolves to the total of
// affected rows. Batches commit independently: a failure in one does not
// roll back the others.
func (r *Registry) Commit(ctx context.Context, batches []Batch) *async.Future[int64] {
	futures := make([]*async.Future[int64], 0, len(batches))
	for _, b := range batches {
		db, err := r.Database(b.Database)
		if err != nil {
			futures = append(futures, async.Failed[int64](err))
			continue
		}
		futures = append(futures, db.Commit(ctx, b.Statements))
	}
	return async.Then(async.All(r.completion, futures...), r.completion, func(counts []int64) (int64, error) {
		var total int64
		for _, n := range counts {
			total += n
		}
		return total, nil
	})
}

// Disconnect closes and removes the named database.
func (r *Registry) Disconnect(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	db, ok := r.active[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownDatabase, name)
	}
	delete(r.active, name)
	if r.defaultName == name {
		r.defaultName = ""
	}
	return db.Close()
}

// Close closes every database.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, db := range r.active {
		errs = append(errs, db.Close())
		delete(r.active, name)
	}
	r.completion.Close()
	return errors.Join(errs...)
}

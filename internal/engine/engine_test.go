package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faucetdb/cistern/internal/changes"
	"github.com/faucetdb/cistern/internal/dataflow"
	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/dialect/sqlite"
	"github.com/faucetdb/cistern/internal/entity"
	"github.com/faucetdb/cistern/internal/generic"
)

func sqliteConfig(t *testing.T, file string) dialect.ConnectionConfig {
	return dialect.ConnectionConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), file)}
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(dialect.NewRegistry(sqlite.New()), nil, nil)
	t.Cleanup(func() { r.Close() })

	require.NoError(t, r.Connect("main", sqliteConfig(t, "main.db"), Options{Workers: 4, CompletionWorkers: 2}))
	require.NoError(t, r.Connect("archive", sqliteConfig(t, "archive.db"), Options{Workers: 2}))

	main, err := r.Database("main")
	require.NoError(t, err)
	_, err = main.DB().Exec(`CREATE TABLE pets (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)

	archive, err := r.Database("archive")
	require.NoError(t, err)
	_, err = archive.DB().Exec(`CREATE TABLE gone (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	return r
}

func pullAll(t *testing.T, p *dataflow.Provider) []dataflow.Row {
	t.Helper()
	ctx := context.Background()
	rows, err := p.Pull(ctx, nil).Await(ctx)
	require.NoError(t, err)
	for p.Paging() {
		page, err := p.NextPage(ctx).Await(ctx)
		require.NoError(t, err)
		rows = append(rows, page...)
	}
	return rows
}

// ---------------------------------------------------------------------------
// Database
// ---------------------------------------------------------------------------

func TestTableEntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	db, err := r.Database("")
	require.NoError(t, err)
	assert.Equal(t, "main", db.Name())

	stmts, err := db.Bind(ctx, []changes.Action{
		changes.NewAdd("pets", changes.Values{"id": 1, "name": "Rex"}),
		changes.NewAdd("pets", changes.Values{"id": 2, "name": "Tom"}),
		changes.NewChange("PETS", changes.Values{"id": 2}, changes.Values{"name": "Max"}),
		changes.NewRemove("pets", changes.Values{"id": 1}),
	})
	require.NoError(t, err)
	require.Len(t, stmts, 4)
	assert.Equal(t, "insert into main.pets (id, name) values (?, ?)", stmts[0].SQL)

	n, err := db.Commit(ctx, stmts).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	e, err := db.LoadEntity(ctx, "pets")
	require.NoError(t, err)
	rows := pullAll(t, db.Provider(e))
	require.Len(t, rows, 1)
	name, _ := rows[0].Get("name")
	assert.Equal(t, "Max", name.Interface())
	id, _ := rows[0].Get("id")
	assert.Equal(t, generic.Long, id.Type())
}

func TestLoadEntityNotFound(t *testing.T) {
	r := newRegistry(t)
	_, err := r.LoadEntity(context.Background(), "owners")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

// ---------------------------------------------------------------------------
// Registry routing
// ---------------------------------------------------------------------------

func TestRegistryRoutesBySource(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	gone, err := entity.New(entity.Definition{
		Name:   "gone",
		Source: "archive",
		Clause: "select id, name from gone order by id",
		Fields: []entity.Field{
			{Name: "id", Table: "gone", Type: generic.Long, PrimaryKey: true},
			{Name: "name", Table: "gone", Type: generic.String},
		},
		PageSize: 1,
	})
	require.NoError(t, err)
	r.SetLoader(entity.NewStatic(gone))

	batches, err := r.Bind(ctx, []changes.Action{
		changes.NewAdd("gone", changes.Values{"id": 1, "name": "Old Rex"}),
		changes.NewAdd("pets", changes.Values{"id": 7, "name": "Rex"}),
		changes.NewAdd("gone", changes.Values{"id": 2, "name": "Old Tom"}),
	})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "archive", batches[0].Database)
	assert.Len(t, batches[0].Statements, 2)
	assert.Equal(t, "main", batches[1].Database)

	n, err := r.Commit(ctx, batches).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	p, err := r.Provider(gone)
	require.NoError(t, err)
	assert.Len(t, pullAll(t, p), 2)
}

func TestRegistryCommitReportsFailure(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	_, err := r.Commit(ctx, []Batch{
		{Database: "main", Statements: []*changes.Statement{{SQL: "insert into pets (id, name) values (1, 'Rex')"}}},
		{Database: "nowhere"},
	}).Await(ctx)
	assert.ErrorIs(t, err, ErrUnknownDatabase)
}

func TestRegistryDefaultAndDisconnect(t *testing.T) {
	r := newRegistry(t)
	assert.Equal(t, []string{"archive", "main"}, r.Names())

	r.SetDefault("archive")
	db, err := r.Database("")
	require.NoError(t, err)
	assert.Equal(t, "archive", db.Name())

	require.NoError(t, r.Disconnect("archive"))
	_, err = r.Database("")
	assert.True(t, errors.Is(err, ErrUnknownDatabase))
	assert.Error(t, r.Disconnect("archive"))

	_, err = r.Database("main")
	assert.NoError(t, err)
}

func TestRegistryTablesResolvesLazily(t *testing.T) {
	r := NewRegistry(dialect.NewRegistry(sqlite.New()), nil, nil)
	defer r.Close()
	tables := r.Tables("late")

	_, err := tables.Table(context.Background(), "pets")
	assert.ErrorIs(t, err, ErrUnknownDatabase)

	require.NoError(t, r.Connect("late", sqliteConfig(t, "late.db"), Options{}))
	db, _ := r.Database("late")
	_, err = db.DB().Exec(`CREATE TABLE pets (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	table, err := tables.Table(context.Background(), "pets")
	require.NoError(t, err)
	assert.Equal(t, "pets", table.Name)
}

func TestConnectUnknownDriver(t *testing.T) {
	r := NewRegistry(dialect.NewRegistry(sqlite.New()), nil, nil)
	defer r.Close()
	err := r.Connect("x", dialect.ConnectionConfig{Driver: "db2"}, Options{})
	assert.ErrorContains(t, err, "unsupported driver")
}

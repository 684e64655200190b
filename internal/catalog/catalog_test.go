package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/dialect/sqlite"
	"github.com/faucetdb/cistern/internal/generic"
)

// countingDialect wraps the SQLite dialect and counts column introspections.
type countingDialect struct {
	*sqlite.Dialect
	columnCalls atomic.Int32
	delay       time.Duration
	onlySchema  string
}

func (d *countingDialect) Columns(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.Column, error) {
	d.columnCalls.Add(1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.onlySchema != "" && schema != d.onlySchema {
		return nil, nil
	}
	return d.Dialect.Columns(ctx, q, schema, table)
}

func newTestCatalog(t *testing.T, d *countingDialect) (*Catalog, *sqlx.DB) {
	t.Helper()
	db, err := d.Open(dialect.ConnectionConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "catalog.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, s := range []string{
		`CREATE TABLE Owners (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE Pets (
			id INTEGER PRIMARY KEY,
			owner_id INTEGER REFERENCES Owners(id),
			name TEXT NOT NULL,
			weight REAL
		)`,
		`CREATE INDEX pets_owner ON Pets (owner_id, name DESC)`,
	} {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec: %v", err)
		}
	}
	return New(d, db, nil, nil), db
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

func TestTableCaseInsensitive(t *testing.T) {
	d := &countingDialect{Dialect: sqlite.New()}
	c, _ := newTestCatalog(t, d)
	ctx := context.Background()

	for _, name := range []string{"pets", "PETS", "Pets", "main.pets", "MAIN.Pets"} {
		tbl, err := c.Table(ctx, name)
		if err != nil {
			t.Fatalf("Table(%q): %v", name, err)
		}
		if tbl.Name != "Pets" || tbl.Schema != "main" {
			t.Errorf("Table(%q) = %s, want main.Pets", name, tbl.QualifiedName())
		}
	}
	if n := d.columnCalls.Load(); n != 1 {
		t.Errorf("introspected %d times, want 1", n)
	}
}

func TestTableColumns(t *testing.T) {
	c, _ := newTestCatalog(t, &countingDialect{Dialect: sqlite.New()})

	tbl, err := c.Table(context.Background(), "pets")
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if len(tbl.Columns) != 4 {
		t.Fatalf("got %d columns", len(tbl.Columns))
	}

	id, _ := tbl.Column("ID")
	if !id.PrimaryKey || id.Type != generic.Long {
		t.Errorf("id = %+v", id)
	}
	owner, _ := tbl.Column("owner_id")
	if owner.Reference == nil || owner.Reference.Table != "main.Owners" || owner.Reference.Column != "id" {
		t.Errorf("owner_id reference = %+v", owner.Reference)
	}
	weight, _ := tbl.Column("weight")
	if weight.Type != generic.Double || !weight.Nullable {
		t.Errorf("weight = %+v", weight)
	}
	if pk := tbl.PrimaryKey(); len(pk) != 1 || pk[0].Name != "id" {
		t.Errorf("PrimaryKey() = %+v", pk)
	}
}

func TestTableNotFound(t *testing.T) {
	c, _ := newTestCatalog(t, &countingDialect{Dialect: sqlite.New()})

	_, err := c.Table(context.Background(), "main.missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	_, err = c.Table(context.Background(), "main.")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty table name, got %v", err)
	}
}

func TestTableReturnsCopies(t *testing.T) {
	c, _ := newTestCatalog(t, &countingDialect{Dialect: sqlite.New()})
	ctx := context.Background()

	first, err := c.Table(ctx, "pets")
	if err != nil {
		t.Fatal(err)
	}
	first.Columns[0].Name = "mutated"
	first.Columns[1].Reference.Table = "mutated"

	second, err := c.Table(ctx, "pets")
	if err != nil {
		t.Fatal(err)
	}
	if second.Columns[0].Name != "id" {
		t.Errorf("column name leaked mutation: %q", second.Columns[0].Name)
	}
	if second.Columns[1].Reference.Table != "main.Owners" {
		t.Errorf("reference leaked mutation: %q", second.Columns[1].Reference.Table)
	}
}

func TestSchemaCaseRetry(t *testing.T) {
	d := &countingDialect{Dialect: sqlite.New(), onlySchema: "main"}
	c, _ := newTestCatalog(t, d)

	tbl, err := c.Table(context.Background(), "MAIN.pets")
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if tbl.Schema != "main" {
		t.Errorf("schema = %q, want main", tbl.Schema)
	}
	if n := d.columnCalls.Load(); n != 2 {
		t.Errorf("column queries = %d, want 2 (as given, then lowercased)", n)
	}
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestTableSingleFlight(t *testing.T) {
	d := &countingDialect{Dialect: sqlite.New(), delay: 50 * time.Millisecond}
	c, _ := newTestCatalog(t, d)
	ctx := context.Background()

	// Resolve the default schema first so every goroutine races on the table.
	if _, err := c.DefaultSchema(ctx); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Table(ctx, "pets"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Table: %v", err)
	}
	if n := d.columnCalls.Load(); n != 1 {
		t.Errorf("introspected %d times, want 1", n)
	}
}

// ---------------------------------------------------------------------------
// Refresh and indexes
// ---------------------------------------------------------------------------

func TestRefreshTable(t *testing.T) {
	c, db := newTestCatalog(t, &countingDialect{Dialect: sqlite.New()})
	ctx := context.Background()

	if _, err := c.Table(ctx, "pets"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`ALTER TABLE Pets ADD COLUMN color TEXT`); err != nil {
		t.Fatal(err)
	}

	cached, _ := c.Table(ctx, "pets")
	if len(cached.Columns) != 4 {
		t.Errorf("cached entry changed without refresh: %d columns", len(cached.Columns))
	}

	fresh, err := c.RefreshTable(ctx, "pets")
	if err != nil {
		t.Fatalf("RefreshTable: %v", err)
	}
	if len(fresh.Columns) != 5 {
		t.Errorf("refreshed entry has %d columns, want 5", len(fresh.Columns))
	}
	after, _ := c.Table(ctx, "PETS")
	if len(after.Columns) != 5 {
		t.Errorf("cache not replaced by refresh: %d columns", len(after.Columns))
	}
}

func TestIndexes(t *testing.T) {
	c, _ := newTestCatalog(t, &countingDialect{Dialect: sqlite.New()})

	idx, err := c.Indexes(context.Background(), "pets")
	if err != nil {
		t.Fatalf("Indexes: %v", err)
	}
	if len(idx) != 1 {
		t.Fatalf("indexes = %+v", idx)
	}
	got := idx[0]
	if got.Name != "pets_owner" || got.Unique || len(got.Columns) != 2 {
		t.Fatalf("index = %+v", got)
	}
	if got.Columns[0].Name != "owner_id" || !got.Columns[0].Ascending {
		t.Errorf("first column = %+v", got.Columns[0])
	}
	if got.Columns[1].Name != "name" || got.Columns[1].Ascending {
		t.Errorf("second column = %+v", got.Columns[1])
	}

	idx[0].Columns[0].Name = "mutated"
	again, _ := c.Indexes(context.Background(), "pets")
	if again[0].Columns[0].Name != "owner_id" {
		t.Error("index cache leaked mutation")
	}
}

func TestSchemas(t *testing.T) {
	c, _ := newTestCatalog(t, &countingDialect{Dialect: sqlite.New()})
	s, err := c.Schemas(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(s) == 0 || s[0] != "main" {
		t.Errorf("schemas = %v", s)
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, schema, table string
	}{
		{"pets", "", "pets"},
		{"public.pets", "public", "pets"},
		{"db.dbo.pets", "db.dbo", "pets"},
	}
	for _, tt := range tests {
		s, tb := SplitName(tt.in)
		if s != tt.schema || tb != tt.table {
			t.Errorf("SplitName(%q) = %q, %q", tt.in, s, tb)
		}
	}
}

package entity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/faucetdb/cistern/internal/catalog"
	"github.com/faucetdb/cistern/internal/generic"
)

type fakeTables map[string]*catalog.Table

func (f fakeTables) Table(_ context.Context, name string) (*catalog.Table, error) {
	if t, ok := f[strings.ToLower(name)]; ok {
		return t, nil
	}
	return nil, catalog.ErrNotFound
}

func petsTable() *catalog.Table {
	return &catalog.Table{
		Schema: "main",
		Name:   "pets",
		Columns: []catalog.Column{
			{Name: "id", Type: generic.Long, PrimaryKey: true},
			{Name: "owner_id", Type: generic.Long, Nullable: true, Reference: &catalog.Reference{Table: "main.owners", Column: "id"}},
			{Name: "name", Type: generic.String, Remarks: "pet name"},
		},
	}
}

// ---------------------------------------------------------------------------
// Static and Chain
// ---------------------------------------------------------------------------

func TestStaticAndChain(t *testing.T) {
	ctx := context.Background()
	pets, _ := New(petsDefinition())
	static := NewStatic(pets)

	got, err := static.LoadEntity(ctx, "PETS")
	if err != nil || got != pets {
		t.Fatalf("Static.LoadEntity = %v, %v", got, err)
	}
	if _, err := static.LoadEntity(ctx, "owners"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	boom := errors.New("boom")
	failing := LoaderFunc(func(context.Context, string) (*Entity, error) { return nil, boom })

	chain := Chain{NewStatic(), static, failing}
	if got, err := chain.LoadEntity(ctx, "pets"); err != nil || got != pets {
		t.Errorf("Chain skipped to wrong loader: %v, %v", got, err)
	}
	if _, err := chain.LoadEntity(ctx, "owners"); !errors.Is(err, boom) {
		t.Errorf("Chain should stop on non-NotFound error, got %v", err)
	}
	if _, err := (Chain{static}).LoadEntity(ctx, "owners"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// TableLoader
// ---------------------------------------------------------------------------

func TestTableLoader(t *testing.T) {
	l := NewTableLoader("main-db", fakeTables{"pets": petsTable()})

	e, err := l.LoadEntity(context.Background(), "pets")
	if err != nil {
		t.Fatalf("LoadEntity: %v", err)
	}
	if e.Clause() != "select * from main.pets" {
		t.Errorf("clause = %q", e.Clause())
	}
	if e.Source() != "main-db" {
		t.Errorf("source = %q", e.Source())
	}
	if !e.IsWritableThrough("MAIN.PETS") || e.IsWritableThrough("main.owners") {
		t.Error("table entity should be writable through its own table only")
	}
	f, _ := e.Field("owner_id")
	if f.Table != "main.pets" || f.Reference == nil || f.Reference.Table != "main.owners" {
		t.Errorf("owner_id = %+v", f)
	}
	if k, err := e.PrimaryKeyField(); err != nil || k.Name != "id" {
		t.Errorf("PrimaryKeyField = %+v, %v", k, err)
	}

	if _, err := l.LoadEntity(context.Background(), "ghosts"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const petsSidecar = `
title: Pets by owner
source: main
page_size: 25
writable: [pets]
read_roles: [reader]
params:
  owner:
    type: Long
    value: 7
  since:
    type: Date
    value: "2020-01-01T00:00:00.000Z"
  total:
    type: Long
    mode: out
fields:
  id:
    table: pets
  name:
    table: pets
    description: given name
  owner:
    table: pets
    original_name: owner_id
  computed:
    type: Double
`

func TestFilesLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "pets.sql"), "select * from pets where owner_id = :owner\n")
	writeFile(t, filepath.Join(dir, "pets.yaml"), petsSidecar)

	var sources []string
	tables := func(source string) TableSource {
		sources = append(sources, source)
		return fakeTables{"pets": petsTable()}
	}
	l := NewFiles(dir, tables, nil)

	e, err := l.LoadEntity(context.Background(), "pets")
	if err != nil {
		t.Fatalf("LoadEntity: %v", err)
	}
	if e.Title() != "Pets by owner" || e.PageSize() != 25 || e.Source() != "main" {
		t.Errorf("header = %q %d %q", e.Title(), e.PageSize(), e.Source())
	}
	if e.Clause() != "select * from pets where owner_id = :owner" {
		t.Errorf("clause = %q", e.Clause())
	}
	if len(sources) != 1 || sources[0] != "main" {
		t.Errorf("catalog requested for %v", sources)
	}

	names := make([]string, 0)
	for _, f := range e.Fields() {
		names = append(names, f.Name)
	}
	if strings.Join(names, ",") != "id,name,owner,computed" {
		t.Errorf("field order = %v", names)
	}

	id, _ := e.Field("id")
	if id.Type != generic.Long || !id.PrimaryKey || id.Nullable {
		t.Errorf("id not completed from catalog: %+v", id)
	}
	name, _ := e.Field("name")
	if name.Description != "given name" {
		t.Errorf("declared description overwritten: %q", name.Description)
	}
	owner, _ := e.Field("owner")
	if owner.Reference == nil || owner.Reference.Table != "main.owners" {
		t.Errorf("owner reference not completed: %+v", owner)
	}
	computed, _ := e.Field("computed")
	if computed.Type != generic.Double || computed.Table != "" {
		t.Errorf("computed = %+v", computed)
	}

	params := e.ParametersByName()
	if v, _ := params["owner"].Value.AsLong(); v != 7 {
		t.Errorf("owner default = %v", params["owner"].Value)
	}
	if _, ok := params["since"].Value.AsDate(); !ok {
		t.Errorf("since default = %v", params["since"].Value)
	}
	if params["total"].Mode != ModeOut || !params["total"].Value.IsNull() {
		t.Errorf("total = %+v", params["total"])
	}
}

func TestFilesCacheAndReload(t *testing.T) {
	dir := t.TempDir()
	sqlPath := filepath.Join(dir, "owners.sql")
	writeFile(t, sqlPath, "select * from owners")
	l := NewFiles(dir, nil, nil)
	ctx := context.Background()

	first, err := l.LoadEntity(ctx, "owners")
	if err != nil {
		t.Fatal(err)
	}
	second, _ := l.LoadEntity(ctx, "OWNERS")
	if first != second {
		t.Error("unchanged file should be served from cache")
	}

	writeFile(t, sqlPath, "select id from owners")
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(sqlPath, later, later); err != nil {
		t.Fatal(err)
	}
	third, err := l.LoadEntity(ctx, "owners")
	if err != nil {
		t.Fatal(err)
	}
	if third == first {
		t.Fatal("modified file should produce a new entity")
	}
	if third.Clause() != "select id from owners" || first.Clause() != "select * from owners" {
		t.Errorf("clauses = %q / %q", first.Clause(), third.Clause())
	}

	writeFile(t, filepath.Join(dir, "owners.json"), `{"page_size": 5}`)
	fourth, _ := l.LoadEntity(ctx, "owners")
	if fourth.PageSize() != 5 {
		t.Error("new sidecar should trigger a reload")
	}
}

func TestFilesErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.sql"), "select 1")
	writeFile(t, filepath.Join(dir, "bad.yaml"), "pagesize: 3\n")
	writeFile(t, filepath.Join(dir, "badtype.sql"), "select 1")
	writeFile(t, filepath.Join(dir, "badtype.yaml"), "fields:\n  a:\n    type: blob\n")
	l := NewFiles(dir, nil, nil)
	ctx := context.Background()

	for _, name := range []string{"missing", "../etc/passwd", ".hidden", ""} {
		if _, err := l.LoadEntity(ctx, name); !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadEntity(%q): expected ErrNotFound, got %v", name, err)
		}
	}
	if _, err := l.LoadEntity(ctx, "bad"); !errors.Is(err, ErrInvalidDefinition) {
		t.Errorf("unknown sidecar key: expected ErrInvalidDefinition, got %v", err)
	}
	if _, err := l.LoadEntity(ctx, "badtype"); !errors.Is(err, ErrInvalidDefinition) {
		t.Errorf("unknown type: expected ErrInvalidDefinition, got %v", err)
	}

	names, err := l.Names()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "bad,badtype" {
		t.Errorf("Names() = %v", names)
	}
}

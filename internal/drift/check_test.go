package drift

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/faucetdb/cistern/internal/catalog"
	"github.com/faucetdb/cistern/internal/entity"
	"github.com/faucetdb/cistern/internal/generic"
)

type fakeTables map[string]*catalog.Table

func (f fakeTables) Table(_ context.Context, name string) (*catalog.Table, error) {
	if t, ok := f[strings.ToLower(name)]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("table %s: %w", name, catalog.ErrNotFound)
}

func petsTable() *catalog.Table {
	return &catalog.Table{
		Schema: "main",
		Name:   "pets",
		Columns: []catalog.Column{
			{Name: "id", Type: generic.Long, TypeName: "INTEGER", PrimaryKey: true},
			{Name: "name", Type: generic.String, TypeName: "TEXT"},
			{Name: "weight", Type: generic.Double, TypeName: "REAL", Nullable: true},
		},
	}
}

func newEntity(t *testing.T, writable []string, fields ...entity.Field) *entity.Entity {
	t.Helper()
	e, err := entity.New(entity.Definition{
		Name:     "pets",
		Clause:   "select * from pets",
		Writable: writable,
		Fields:   fields,
	})
	if err != nil {
		t.Fatalf("entity.New: %v", err)
	}
	return e
}

func matchingFields() []entity.Field {
	return []entity.Field{
		{Name: "id", Table: "pets", Type: generic.Long, PrimaryKey: true},
		{Name: "petName", OriginalName: "name", Table: "pets", Type: generic.String},
		{Name: "weight", Table: "pets", Type: generic.Double, Nullable: true},
	}
}

// ---------------------------------------------------------------------------
// Check
// ---------------------------------------------------------------------------

func TestCheck_NoDrift(t *testing.T) {
	e := newEntity(t, nil, matchingFields()...)

	report, err := Check(context.Background(), e, fakeTables{"pets": petsTable()})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.HasDrift {
		t.Errorf("expected no drift, got %+v", report.Items)
	}
}

func TestCheck_Differences(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(fields []entity.Field, live *catalog.Table) []entity.Field
		category string
		severity Severity
	}{
		{
			name: "type changed",
			mutate: func(f []entity.Field, live *catalog.Table) []entity.Field {
				live.Columns[2].Type = generic.String
				return f
			},
			category: TypeChanged,
			severity: Breaking,
		},
		{
			name: "column removed",
			mutate: func(f []entity.Field, live *catalog.Table) []entity.Field {
				live.Columns = live.Columns[:2]
				return f
			},
			category: ColumnRemoved,
			severity: Breaking,
		},
		{
			name: "became not null",
			mutate: func(f []entity.Field, live *catalog.Table) []entity.Field {
				live.Columns[2].Nullable = false
				return f
			},
			category: NullableChanged,
			severity: Breaking,
		},
		{
			name: "became nullable",
			mutate: func(f []entity.Field, live *catalog.Table) []entity.Field {
				live.Columns[1].Nullable = true
				return f
			},
			category: NullableChanged,
			severity: Additive,
		},
		{
			name: "key changed",
			mutate: func(f []entity.Field, live *catalog.Table) []entity.Field {
				f[0].PrimaryKey = false
				return f
			},
			category: KeyChanged,
			severity: Breaking,
		},
		{
			name: "undeclared column",
			mutate: func(f []entity.Field, live *catalog.Table) []entity.Field {
				return f[:2]
			},
			category: ColumnAdded,
			severity: Additive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			live := petsTable()
			fields := tt.mutate(matchingFields(), live)
			e := newEntity(t, nil, fields...)

			report, err := Check(context.Background(), e, fakeTables{"pets": live})
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if len(report.Items) != 1 {
				t.Fatalf("expected 1 item, got %+v", report.Items)
			}
			item := report.Items[0]
			if item.Category != tt.category || item.Severity != tt.severity {
				t.Errorf("got %s/%s, want %s/%s", item.Category, item.Severity, tt.category, tt.severity)
			}
			if report.HasBreaking != (tt.severity == Breaking) {
				t.Errorf("HasBreaking = %v", report.HasBreaking)
			}
		})
	}
}

func TestCheck_UndeclaredColumnIgnoredWhenNotWritable(t *testing.T) {
	fields := matchingFields()[:2]
	fields = append(fields, entity.Field{Name: "color", Table: "pets_ext", Type: generic.String, Nullable: true})
	e := newEntity(t, []string{"pets_ext"}, fields...)

	ext := &catalog.Table{Name: "pets_ext", Columns: []catalog.Column{{Name: "color", Type: generic.String, Nullable: true}}}
	report, err := Check(context.Background(), e, fakeTables{"pets": petsTable(), "pets_ext": ext})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.HasDrift {
		t.Errorf("expected no drift for a read-only table, got %+v", report.Items)
	}
}

func TestCheck_TableRemoved(t *testing.T) {
	e := newEntity(t, nil, matchingFields()...)

	report, err := Check(context.Background(), e, fakeTables{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.BreakingCount != 1 || report.Items[0].Category != TableRemoved {
		t.Errorf("expected one table_removed item, got %+v", report.Items)
	}
}

func TestCheck_SkipsFieldsWithoutTable(t *testing.T) {
	e := newEntity(t, nil, entity.Field{Name: "age_days", Type: generic.Long})

	report, err := Check(context.Background(), e, fakeTables{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.HasDrift {
		t.Errorf("expected no drift, got %+v", report.Items)
	}
}

// ---------------------------------------------------------------------------
// CheckAll
// ---------------------------------------------------------------------------

func TestCheckAll(t *testing.T) {
	clean := newEntity(t, nil, matchingFields()...)
	broken, err := entity.New(entity.Definition{
		Name:   "owners",
		Clause: "select * from owners",
		Fields: []entity.Field{{Name: "id", Table: "owners", Type: generic.Long, PrimaryKey: true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	loader := entity.NewStatic(clean, broken)
	tables := func(string) entity.TableSource { return fakeTables{"pets": petsTable()} }

	summary, err := CheckAll(context.Background(), loader, tables, []string{"pets", "owners"})
	if err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	if summary.Entities != 2 || summary.Drifted != 1 || summary.BreakingCount != 1 {
		t.Errorf("summary = %+v", summary)
	}

	if _, err := CheckAll(context.Background(), loader, tables, []string{"missing"}); err == nil {
		t.Error("expected an error for an unknown entity")
	}
}

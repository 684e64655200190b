package drift

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faucetdb/cistern/internal/catalog"
	"github.com/faucetdb/cistern/internal/entity"
)

// Check compares the fields of e that name a table against the live
// columns of that table. Fields without a table are not checked. Columns
// present in a writable table but declared by no field are reported as
// additive.
func Check(ctx context.Context, e *entity.Entity, tables entity.TableSource) (Report, error) {
	report := Report{
		Entity:    e.Name(),
		Source:    e.Source(),
		CheckedAt: time.Now().UTC(),
	}

	type tableFields struct {
		name   string
		fields []entity.Field
	}
	var order []*tableFields
	byTable := make(map[string]*tableFields)
	for _, f := range e.Fields() {
		if f.Table == "" {
			continue
		}
		key := strings.ToLower(f.Table)
		tf, ok := byTable[key]
		if !ok {
			tf = &tableFields{name: f.Table}
			byTable[key] = tf
			order = append(order, tf)
		}
		tf.fields = append(tf.fields, f)
	}

	for _, tf := range order {
		live, err := tables.Table(ctx, tf.name)
		if errors.Is(err, catalog.ErrNotFound) {
			report.Items = append(report.Items, Item{
				Severity:    Breaking,
				Category:    TableRemoved,
				Table:       tf.name,
				Description: fmt.Sprintf("Table %q does not exist", tf.name),
			})
			continue
		}
		if err != nil {
			return Report{}, fmt.Errorf("check %s: %w", e.Name(), err)
		}
		report.Items = append(report.Items, diffTable(tf.name, tf.fields, live, e.IsWritableThrough(tf.name))...)
	}

	for _, item := range report.Items {
		switch item.Severity {
		case Additive:
			report.AdditiveCount++
		case Breaking:
			report.BreakingCount++
		}
	}
	report.HasDrift = len(report.Items) > 0
	report.HasBreaking = report.BreakingCount > 0
	return report, nil
}

func diffTable(table string, fields []entity.Field, live *catalog.Table, writable bool) []Item {
	var items []Item
	declared := make(map[string]bool, len(fields))

	for _, f := range fields {
		declared[strings.ToLower(f.Column())] = true
		col, ok := live.Column(f.Column())
		if !ok {
			items = append(items, Item{
				Severity:    Breaking,
				Category:    ColumnRemoved,
				Table:       table,
				Field:       f.Name,
				Column:      f.Column(),
				Declared:    f.Type.String(),
				Description: fmt.Sprintf("Column %q of table %q no longer exists", f.Column(), table),
			})
			continue
		}

		if f.Type != col.Type {
			items = append(items, Item{
				Severity:    Breaking,
				Category:    TypeChanged,
				Table:       table,
				Field:       f.Name,
				Column:      col.Name,
				Declared:    f.Type.String(),
				Live:        col.Type.String(),
				Description: fmt.Sprintf("Field %q expects %s but column %q is %s (%s)", f.Name, f.Type, col.Name, col.Type, col.TypeName),
			})
		}

		// Writes of null now fail.
		if f.Nullable && !col.Nullable {
			items = append(items, Item{
				Severity:    Breaking,
				Category:    NullableChanged,
				Table:       table,
				Field:       f.Name,
				Column:      col.Name,
				Declared:    "nullable",
				Live:        "not null",
				Description: fmt.Sprintf("Column %q changed from nullable to NOT NULL", col.Name),
			})
		} else if !f.Nullable && col.Nullable {
			items = append(items, Item{
				Severity:    Additive,
				Category:    NullableChanged,
				Table:       table,
				Field:       f.Name,
				Column:      col.Name,
				Declared:    "not null",
				Live:        "nullable",
				Description: fmt.Sprintf("Column %q changed from NOT NULL to nullable", col.Name),
			})
		}

		// Keys drive the where clause of changes and removals.
		if f.PrimaryKey != col.PrimaryKey {
			items = append(items, Item{
				Severity:    Breaking,
				Category:    KeyChanged,
				Table:       table,
				Field:       f.Name,
				Column:      col.Name,
				Declared:    keyLabel(f.PrimaryKey),
				Live:        keyLabel(col.PrimaryKey),
				Description: fmt.Sprintf("Column %q is %s but the entity declares it %s", col.Name, keyLabel(col.PrimaryKey), keyLabel(f.PrimaryKey)),
			})
		}
	}

	if !writable {
		return items
	}
	for _, col := range live.Columns {
		if declared[strings.ToLower(col.Name)] {
			continue
		}
		items = append(items, Item{
			Severity:    Additive,
			Category:    ColumnAdded,
			Table:       table,
			Column:      col.Name,
			Live:        col.Type.String(),
			Description: fmt.Sprintf("Column %q of table %q is not declared by any field", col.Name, table),
		})
	}
	return items
}

func keyLabel(key bool) string {
	if key {
		return "a key"
	}
	return "not a key"
}

// CheckAll loads every named entity and checks it against the tables of
// its source.
func CheckAll(ctx context.Context, loader entity.Loader, tables entity.TablesFunc, names []string) (Summary, error) {
	summary := Summary{Entities: len(names)}
	for _, name := range names {
		e, err := loader.LoadEntity(ctx, name)
		if err != nil {
			return Summary{}, err
		}
		r, err := Check(ctx, e, tables(e.Source()))
		if err != nil {
			return Summary{}, err
		}
		summary.Reports = append(summary.Reports, r)
		if r.HasDrift {
			summary.Drifted++
		}
		summary.BreakingCount += r.BreakingCount
	}
	return summary, nil
}

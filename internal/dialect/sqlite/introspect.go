package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/cistern/internal/dialect"
)

type databaseRow struct {
	Seq  int    `db:"seq"`
	Name string `db:"name"`
	File string `db:"file"`
}

type tableInfoRow struct {
	CID     int            `db:"cid"`
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull int            `db:"notnull"`
	Default sql.NullString `db:"dflt_value"`
	PK      int            `db:"pk"`
}

type foreignKeyRow struct {
	ID    int    `db:"id"`
	Seq   int    `db:"seq"`
	Table string `db:"table"`
	From  string `db:"from"`
	To    string `db:"to"`
}

type indexListRow struct {
	Seq    int    `db:"seq"`
	Name   string `db:"name"`
	Unique int    `db:"unique"`
	Origin string `db:"origin"`
}

type indexInfoRow struct {
	SeqNo int    `db:"seqno"`
	Name  string `db:"name"`
	Desc  int    `db:"desc"`
}

func (d *Dialect) Schemas(ctx context.Context, q dialect.Queryer) ([]string, error) {
	var rows []databaseRow
	if err := sqlx.SelectContext(ctx, q, &rows, `PRAGMA database_list`); err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Name
	}
	return names, nil
}

// tableName returns the stored spelling of table, or "" when it does not
// exist in schema.
func (d *Dialect) tableName(ctx context.Context, q dialect.Queryer, schema, table string) (string, error) {
	query := fmt.Sprintf(`SELECT name FROM %s.sqlite_master
		WHERE type IN ('table', 'view') AND name = ? COLLATE NOCASE`, d.QuoteIdentifier(schema))

	var names []string
	if err := sqlx.SelectContext(ctx, q, &names, query, table); err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	return names[0], nil
}

func (d *Dialect) tableInfo(ctx context.Context, q dialect.Queryer, schema, table string) (string, []tableInfoRow, error) {
	name, err := d.tableName(ctx, q, schema, table)
	if err != nil || name == "" {
		return "", nil, err
	}
	const query = `SELECT cid, name, type, "notnull", dflt_value, pk
		FROM pragma_table_info(?, ?) ORDER BY cid`

	var rows []tableInfoRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, name, schema); err != nil {
		return "", nil, err
	}
	return name, rows, nil
}

func (d *Dialect) Columns(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.Column, error) {
	name, rows, err := d.tableInfo(ctx, q, schema, table)
	if err != nil {
		return nil, fmt.Errorf("table_info for %s.%s: %w", schema, table, err)
	}

	cols := make([]dialect.Column, len(rows))
	for i, r := range rows {
		cols[i] = dialect.Column{
			Schema:   schema,
			Table:    name,
			Name:     r.Name,
			TypeName: r.Type,
			Nullable: r.NotNull == 0 && r.PK == 0,
		}
	}
	return cols, nil
}

func (d *Dialect) PrimaryKeys(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.PrimaryKey, error) {
	name, rows, err := d.tableInfo(ctx, q, schema, table)
	if err != nil {
		return nil, fmt.Errorf("table_info for %s.%s: %w", schema, table, err)
	}

	var pk []tableInfoRow
	for _, r := range rows {
		if r.PK > 0 {
			pk = append(pk, r)
		}
	}
	sort.Slice(pk, func(i, j int) bool { return pk[i].PK < pk[j].PK })

	keys := make([]dialect.PrimaryKey, len(pk))
	for i, r := range pk {
		keys[i] = dialect.PrimaryKey{Schema: schema, Table: name, Column: r.Name, Name: "pk_" + name}
	}
	return keys, nil
}

func (d *Dialect) ForeignKeys(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.ForeignKey, error) {
	name, err := d.tableName(ctx, q, schema, table)
	if err != nil {
		return nil, fmt.Errorf("foreign_key_list for %s.%s: %w", schema, table, err)
	}
	if name == "" {
		return nil, nil
	}
	const query = `SELECT id, seq, "table", "from", "to"
		FROM pragma_foreign_key_list(?, ?) ORDER BY id, seq`

	var rows []foreignKeyRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, name, schema); err != nil {
		return nil, fmt.Errorf("foreign_key_list for %s.%s: %w", schema, table, err)
	}

	keys := make([]dialect.ForeignKey, len(rows))
	for i, r := range rows {
		keys[i] = dialect.ForeignKey{
			Schema:    schema,
			Table:     name,
			Column:    r.From,
			Name:      fmt.Sprintf("fk_%s_%d", name, r.ID),
			RefSchema: schema,
			RefTable:  r.Table,
			RefColumn: r.To,
		}
	}
	return keys, nil
}

func (d *Dialect) Indexes(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.IndexColumn, error) {
	name, err := d.tableName(ctx, q, schema, table)
	if err != nil {
		return nil, fmt.Errorf("index_list for %s.%s: %w", schema, table, err)
	}
	if name == "" {
		return nil, nil
	}

	var indexes []indexListRow
	const listQuery = `SELECT seq, name, "unique", origin FROM pragma_index_list(?, ?) ORDER BY name`
	if err := sqlx.SelectContext(ctx, q, &indexes, listQuery, name, schema); err != nil {
		return nil, fmt.Errorf("index_list for %s.%s: %w", schema, table, err)
	}

	var cols []dialect.IndexColumn
	for _, idx := range indexes {
		const infoQuery = `SELECT seqno, name, "desc" FROM pragma_index_xinfo(?, ?)
			WHERE "key" = 1 AND name IS NOT NULL ORDER BY seqno`

		var info []indexInfoRow
		if err := sqlx.SelectContext(ctx, q, &info, infoQuery, idx.Name, schema); err != nil {
			return nil, fmt.Errorf("index_xinfo for %s: %w", idx.Name, err)
		}
		for _, c := range info {
			cols = append(cols, dialect.IndexColumn{
				Index:     idx.Name,
				Column:    c.Name,
				Ascending: c.Desc == 0,
				Unique:    idx.Unique != 0,
			})
		}
	}
	return cols, nil
}

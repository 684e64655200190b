package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/cistern/internal/dialect"
)

type columnRow struct {
	TableSchema string         `db:"table_schema"`
	TableName   string         `db:"table_name"`
	ColumnName  string         `db:"column_name"`
	UDTName     string         `db:"udt_name"`
	IsNullable  string         `db:"is_nullable"`
	MaxLength   sql.NullInt64  `db:"character_maximum_length"`
	Precision   sql.NullInt64  `db:"numeric_precision"`
	Scale       sql.NullInt64  `db:"numeric_scale"`
	Remarks     sql.NullString `db:"remarks"`
}

type pkRow struct {
	TableName      string `db:"table_name"`
	ColumnName     string `db:"column_name"`
	ConstraintName string `db:"constraint_name"`
}

type fkRow struct {
	TableName        string `db:"table_name"`
	ColumnName       string `db:"column_name"`
	ConstraintName   string `db:"constraint_name"`
	ReferencedSchema string `db:"referenced_schema"`
	ReferencedTable  string `db:"referenced_table"`
	ReferencedColumn string `db:"referenced_column"`
}

type indexRow struct {
	IndexName   string `db:"index_name"`
	ColumnName  string `db:"column_name"`
	IsUnique    bool   `db:"is_unique"`
	IsClustered bool   `db:"is_clustered"`
	Method      string `db:"method"`
	Ascending   bool   `db:"ascending"`
}

func (d *Dialect) Schemas(ctx context.Context, q dialect.Queryer) ([]string, error) {
	const query = `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`

	var names []string
	if err := sqlx.SelectContext(ctx, q, &names, query); err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	return names, nil
}

func (d *Dialect) Columns(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.Column, error) {
	const query = `SELECT
			c.table_schema, c.table_name, c.column_name, c.udt_name, c.is_nullable,
			c.character_maximum_length, c.numeric_precision, c.numeric_scale,
			col_description(
				(quote_ident(c.table_schema) || '.' || quote_ident(c.table_name))::regclass,
				c.ordinal_position) AS remarks
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

	var rows []columnRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, schema, table); err != nil {
		return nil, fmt.Errorf("fetch columns of %s.%s: %w", schema, table, err)
	}

	cols := make([]dialect.Column, len(rows))
	for i, r := range rows {
		cols[i] = dialect.Column{
			Schema:    r.TableSchema,
			Table:     r.TableName,
			Name:      r.ColumnName,
			TypeName:  r.UDTName,
			Nullable:  strings.EqualFold(r.IsNullable, "YES"),
			Size:      int(r.MaxLength.Int64),
			Precision: int(r.Precision.Int64),
			Scale:     int(r.Scale.Int64),
			Remarks:   r.Remarks.String,
		}
		if cols[i].Size == 0 {
			cols[i].Size = cols[i].Precision
		}
	}
	return cols, nil
}

func (d *Dialect) PrimaryKeys(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.PrimaryKey, error) {
	const query = `SELECT kcu.table_name, kcu.column_name, tc.constraint_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2
		ORDER BY kcu.ordinal_position`

	var rows []pkRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, schema, table); err != nil {
		return nil, fmt.Errorf("fetch primary keys of %s.%s: %w", schema, table, err)
	}

	keys := make([]dialect.PrimaryKey, len(rows))
	for i, r := range rows {
		keys[i] = dialect.PrimaryKey{Schema: schema, Table: r.TableName, Column: r.ColumnName, Name: r.ConstraintName}
	}
	return keys, nil
}

func (d *Dialect) ForeignKeys(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.ForeignKey, error) {
	const query = `SELECT
			kcu.table_name,
			kcu.column_name,
			tc.constraint_name,
			ccu.table_schema AS referenced_schema,
			ccu.table_name AS referenced_table,
			ccu.column_name AS referenced_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.constraint_schema = ccu.constraint_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2
		ORDER BY kcu.ordinal_position`

	var rows []fkRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, schema, table); err != nil {
		return nil, fmt.Errorf("fetch foreign keys of %s.%s: %w", schema, table, err)
	}

	keys := make([]dialect.ForeignKey, len(rows))
	for i, r := range rows {
		keys[i] = dialect.ForeignKey{
			Schema:    schema,
			Table:     r.TableName,
			Column:    r.ColumnName,
			Name:      r.ConstraintName,
			RefSchema: r.ReferencedSchema,
			RefTable:  r.ReferencedTable,
			RefColumn: r.ReferencedColumn,
		}
	}
	return keys, nil
}

func (d *Dialect) Indexes(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.IndexColumn, error) {
	const query = `SELECT
			i.relname AS index_name,
			a.attname AS column_name,
			ix.indisunique AS is_unique,
			ix.indisclustered AS is_clustered,
			am.amname AS method,
			(ix.indoption[k.n - 1] & 1) = 0 AS ascending
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_am am ON am.oid = i.relam
		CROSS JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, n)
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname = $1 AND t.relname = $2
		ORDER BY i.relname, k.n`

	var rows []indexRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, schema, table); err != nil {
		return nil, fmt.Errorf("fetch indexes of %s.%s: %w", schema, table, err)
	}

	cols := make([]dialect.IndexColumn, len(rows))
	for i, r := range rows {
		cols[i] = dialect.IndexColumn{
			Index:     r.IndexName,
			Column:    r.ColumnName,
			Ascending: r.Ascending,
			Unique:    r.IsUnique,
			Clustered: r.IsClustered,
			Hashed:    r.Method == "hash",
		}
	}
	return cols, nil
}

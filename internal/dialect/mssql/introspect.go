package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/cistern/internal/dialect"
)

type columnRow struct {
	TableSchema string        `db:"TABLE_SCHEMA"`
	TableName   string        `db:"TABLE_NAME"`
	ColumnName  string        `db:"COLUMN_NAME"`
	DataType    string        `db:"DATA_TYPE"`
	IsNullable  string        `db:"IS_NULLABLE"`
	MaxLength   sql.NullInt64 `db:"CHARACTER_MAXIMUM_LENGTH"`
	Precision   sql.NullInt64 `db:"NUMERIC_PRECISION"`
	Scale       sql.NullInt64 `db:"NUMERIC_SCALE"`
}

type pkRow struct {
	TableName      string `db:"TABLE_NAME"`
	ColumnName     string `db:"COLUMN_NAME"`
	ConstraintName string `db:"CONSTRAINT_NAME"`
}

type fkRow struct {
	TableName        string `db:"TABLE_NAME"`
	ColumnName       string `db:"COLUMN_NAME"`
	ConstraintName   string `db:"CONSTRAINT_NAME"`
	ReferencedSchema string `db:"REFERENCED_TABLE_SCHEMA"`
	ReferencedTable  string `db:"REFERENCED_TABLE_NAME"`
	ReferencedColumn string `db:"REFERENCED_COLUMN_NAME"`
}

type indexRow struct {
	IndexName  string `db:"INDEX_NAME"`
	ColumnName string `db:"COLUMN_NAME"`
	IsUnique   bool   `db:"IS_UNIQUE"`
	TypeDesc   string `db:"TYPE_DESC"`
	Descending bool   `db:"IS_DESCENDING_KEY"`
}

func (d *Dialect) Schemas(ctx context.Context, q dialect.Queryer) ([]string, error) {
	var names []string
	if err := sqlx.SelectContext(ctx, q, &names, `SELECT name FROM sys.schemas ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	return names, nil
}

func (d *Dialect) Columns(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.Column, error) {
	const query = `SELECT
			c.TABLE_SCHEMA,
			c.TABLE_NAME,
			c.COLUMN_NAME,
			c.DATA_TYPE,
			c.IS_NULLABLE,
			c.CHARACTER_MAXIMUM_LENGTH,
			c.NUMERIC_PRECISION,
			c.NUMERIC_SCALE
		FROM INFORMATION_SCHEMA.COLUMNS c
		WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
		ORDER BY c.ORDINAL_POSITION`

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
			TypeName:  r.DataType,
			Nullable:  strings.EqualFold(r.IsNullable, "YES"),
			Size:      int(r.MaxLength.Int64),
			Precision: int(r.Precision.Int64),
			Scale:     int(r.Scale.Int64),
		}
	}
	return cols, nil
}

func (d *Dialect) PrimaryKeys(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.PrimaryKey, error) {
	const query = `SELECT kcu.TABLE_NAME, kcu.COLUMN_NAME, tc.CONSTRAINT_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
			AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
			AND tc.TABLE_SCHEMA = @p1
			AND tc.TABLE_NAME = @p2
		ORDER BY kcu.ORDINAL_POSITION`

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
			fk_tab.name AS TABLE_NAME,
			fk_col.name AS COLUMN_NAME,
			fk.name AS CONSTRAINT_NAME,
			pk_sch.name AS REFERENCED_TABLE_SCHEMA,
			pk_tab.name AS REFERENCED_TABLE_NAME,
			pk_col.name AS REFERENCED_COLUMN_NAME
		FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
		JOIN sys.tables fk_tab ON fkc.parent_object_id = fk_tab.object_id
		JOIN sys.columns fk_col ON fkc.parent_object_id = fk_col.object_id AND fkc.parent_column_id = fk_col.column_id
		JOIN sys.tables pk_tab ON fkc.referenced_object_id = pk_tab.object_id
		JOIN sys.schemas pk_sch ON pk_tab.schema_id = pk_sch.schema_id
		JOIN sys.columns pk_col ON fkc.referenced_object_id = pk_col.object_id AND fkc.referenced_column_id = pk_col.column_id
		JOIN sys.schemas s ON fk_tab.schema_id = s.schema_id
		WHERE s.name = @p1 AND fk_tab.name = @p2
		ORDER BY fk.name, fkc.constraint_column_id`

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
			i.name AS INDEX_NAME,
			c.name AS COLUMN_NAME,
			i.is_unique AS IS_UNIQUE,
			i.type_desc AS TYPE_DESC,
			ic.is_descending_key AS IS_DESCENDING_KEY
		FROM sys.indexes i
		JOIN sys.index_columns ic ON i.object_id = ic.object_id AND i.index_id = ic.index_id
		JOIN sys.columns c ON ic.object_id = c.object_id AND ic.column_id = c.column_id
		JOIN sys.tables t ON i.object_id = t.object_id
		JOIN sys.schemas s ON t.schema_id = s.schema_id
		WHERE s.name = @p1 AND t.name = @p2 AND i.name IS NOT NULL
		ORDER BY i.name, ic.key_ordinal`

	var rows []indexRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, schema, table); err != nil {
		return nil, fmt.Errorf("fetch indexes of %s.%s: %w", schema, table, err)
	}

	cols := make([]dialect.IndexColumn, len(rows))
	for i, r := range rows {
		cols[i] = dialect.IndexColumn{
			Index:     r.IndexName,
			Column:    r.ColumnName,
			Ascending: !r.Descending,
			Unique:    r.IsUnique,
			Clustered: strings.HasPrefix(r.TypeDesc, "CLUSTERED"),
			Hashed:    strings.Contains(r.TypeDesc, "HASH"),
		}
	}
	return cols, nil
}

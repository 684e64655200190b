package mysql

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
	Comment     string        `db:"COLUMN_COMMENT"`
}

type pkRow struct {
	TableName  string `db:"TABLE_NAME"`
	ColumnName string `db:"COLUMN_NAME"`
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
	IndexName  string         `db:"INDEX_NAME"`
	ColumnName string         `db:"COLUMN_NAME"`
	NonUnique  int            `db:"NON_UNIQUE"`
	Collation  sql.NullString `db:"COLLATION"`
	IndexType  string         `db:"INDEX_TYPE"`
}

func (d *Dialect) Schemas(ctx context.Context, q dialect.Queryer) ([]string, error) {
	const query = `SELECT SCHEMA_NAME FROM INFORMATION_SCHEMA.SCHEMATA ORDER BY SCHEMA_NAME`

	var names []string
	if err := sqlx.SelectContext(ctx, q, &names, query); err != nil {
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
			c.NUMERIC_SCALE,
			c.COLUMN_COMMENT
		FROM INFORMATION_SCHEMA.COLUMNS c
		WHERE c.TABLE_SCHEMA = ? AND c.TABLE_NAME = ?
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
			Remarks:   r.Comment,
		}
	}
	return cols, nil
}

func (d *Dialect) PrimaryKeys(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.PrimaryKey, error) {
	const query = `SELECT TABLE_NAME, COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
			AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`

	var rows []pkRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, schema, table); err != nil {
		return nil, fmt.Errorf("fetch primary keys of %s.%s: %w", schema, table, err)
	}

	keys := make([]dialect.PrimaryKey, len(rows))
	for i, r := range rows {
		keys[i] = dialect.PrimaryKey{Schema: schema, Table: r.TableName, Column: r.ColumnName, Name: "PRIMARY"}
	}
	return keys, nil
}

func (d *Dialect) ForeignKeys(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.ForeignKey, error) {
	const query = `SELECT
			TABLE_NAME,
			COLUMN_NAME,
			CONSTRAINT_NAME,
			REFERENCED_TABLE_SCHEMA,
			REFERENCED_TABLE_NAME,
			REFERENCED_COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
			AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY ORDINAL_POSITION`

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
	const query = `SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE, COLLATION, INDEX_TYPE
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`

	var rows []indexRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, schema, table); err != nil {
		return nil, fmt.Errorf("fetch indexes of %s.%s: %w", schema, table, err)
	}

	cols := make([]dialect.IndexColumn, len(rows))
	for i, r := range rows {
		cols[i] = dialect.IndexColumn{
			Index:     r.IndexName,
			Column:    r.ColumnName,
			Ascending: r.Collation.String != "D",
			Unique:    r.NonUnique == 0,
			// InnoDB clusters rows on the primary key.
			Clustered: r.IndexName == "PRIMARY",
			Hashed:    strings.EqualFold(r.IndexType, "HASH"),
		}
	}
	return cols, nil
}

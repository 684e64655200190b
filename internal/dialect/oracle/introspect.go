package oracle

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/cistern/internal/dialect"
)

type columnRow struct {
	Owner      string         `db:"OWNER"`
	TableName  string         `db:"TABLE_NAME"`
	ColumnName string         `db:"COLUMN_NAME"`
	DataType   string         `db:"DATA_TYPE"`
	Nullable   string         `db:"NULLABLE"`
	CharLength sql.NullInt64  `db:"CHAR_LENGTH"`
	Precision  sql.NullInt64  `db:"DATA_PRECISION"`
	Scale      sql.NullInt64  `db:"DATA_SCALE"`
	Comments   sql.NullString `db:"COMMENTS"`
}

type pkRow struct {
	TableName      string `db:"TABLE_NAME"`
	ColumnName     string `db:"COLUMN_NAME"`
	ConstraintName string `db:"CONSTRAINT_NAME"`
}

type fkRow struct {
	TableName      string `db:"TABLE_NAME"`
	ColumnName     string `db:"COLUMN_NAME"`
	ConstraintName string `db:"CONSTRAINT_NAME"`
	RefOwner       string `db:"R_OWNER"`
	RefTable       string `db:"R_TABLE_NAME"`
	RefColumn      string `db:"R_COLUMN_NAME"`
}

type indexRow struct {
	IndexName  string `db:"INDEX_NAME"`
	ColumnName string `db:"COLUMN_NAME"`
	Uniqueness string `db:"UNIQUENESS"`
	IndexType  string `db:"INDEX_TYPE"`
	Descend    string `db:"DESCEND"`
}

func (d *Dialect) Schemas(ctx context.Context, q dialect.Queryer) ([]string, error) {
	var names []string
	if err := sqlx.SelectContext(ctx, q, &names, `SELECT username FROM all_users ORDER BY username`); err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	return names, nil
}

func (d *Dialect) Columns(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.Column, error) {
	const query = `SELECT
			c.owner AS "OWNER",
			c.table_name AS "TABLE_NAME",
			c.column_name AS "COLUMN_NAME",
			c.data_type AS "DATA_TYPE",
			c.nullable AS "NULLABLE",
			c.char_length AS "CHAR_LENGTH",
			c.data_precision AS "DATA_PRECISION",
			c.data_scale AS "DATA_SCALE",
			cc.comments AS "COMMENTS"
		FROM all_tab_columns c
		LEFT JOIN all_col_comments cc
			ON cc.owner = c.owner AND cc.table_name = c.table_name AND cc.column_name = c.column_name
		WHERE c.owner = :1 AND c.table_name = :2
		ORDER BY c.column_id`

	var rows []columnRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, schema, table); err != nil {
		return nil, fmt.Errorf("fetch columns of %s.%s: %w", schema, table, err)
	}

	cols := make([]dialect.Column, len(rows))
	for i, r := range rows {
		cols[i] = dialect.Column{
			Schema:    r.Owner,
			Table:     r.TableName,
			Name:      r.ColumnName,
			TypeName:  r.DataType,
			Nullable:  r.Nullable == "Y",
			Size:      int(r.CharLength.Int64),
			Precision: int(r.Precision.Int64),
			Scale:     int(r.Scale.Int64),
			Remarks:   r.Comments.String,
		}
	}
	return cols, nil
}

func (d *Dialect) PrimaryKeys(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.PrimaryKey, error) {
	const query = `SELECT
			cc.table_name AS "TABLE_NAME",
			cc.column_name AS "COLUMN_NAME",
			c.constraint_name AS "CONSTRAINT_NAME"
		FROM all_constraints c
		JOIN all_cons_columns cc
			ON cc.owner = c.owner AND cc.constraint_name = c.constraint_name
		WHERE c.constraint_type = 'P' AND c.owner = :1 AND c.table_name = :2
		ORDER BY cc.position`

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
			cc.table_name AS "TABLE_NAME",
			cc.column_name AS "COLUMN_NAME",
			c.constraint_name AS "CONSTRAINT_NAME",
			rc.owner AS "R_OWNER",
			rc.table_name AS "R_TABLE_NAME",
			rc.column_name AS "R_COLUMN_NAME"
		FROM all_constraints c
		JOIN all_cons_columns cc
			ON cc.owner = c.owner AND cc.constraint_name = c.constraint_name
		JOIN all_cons_columns rc
			ON rc.owner = c.r_owner AND rc.constraint_name = c.r_constraint_name AND rc.position = cc.position
		WHERE c.constraint_type = 'R' AND c.owner = :1 AND c.table_name = :2
		ORDER BY c.constraint_name, cc.position`

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
			RefSchema: r.RefOwner,
			RefTable:  r.RefTable,
			RefColumn: r.RefColumn,
		}
	}
	return keys, nil
}

func (d *Dialect) Indexes(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.IndexColumn, error) {
	const query = `SELECT
			i.index_name AS "INDEX_NAME",
			ic.column_name AS "COLUMN_NAME",
			i.uniqueness AS "UNIQUENESS",
			i.index_type AS "INDEX_TYPE",
			ic.descend AS "DESCEND"
		FROM all_indexes i
		JOIN all_ind_columns ic
			ON ic.index_owner = i.owner AND ic.index_name = i.index_name
		WHERE i.table_owner = :1 AND i.table_name = :2
		ORDER BY i.index_name, ic.column_position`

	var rows []indexRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, schema, table); err != nil {
		return nil, fmt.Errorf("fetch indexes of %s.%s: %w", schema, table, err)
	}

	out := make([]dialect.IndexColumn, len(rows))
	for i, r := range rows {
		out[i] = dialect.IndexColumn{
			Index:     r.IndexName,
			Column:    r.ColumnName,
			Ascending: r.Descend != "DESC",
			Unique:    r.Uniqueness == "UNIQUE",
			Clustered: r.IndexType == "IOT - TOP",
		}
	}
	return out, nil
}

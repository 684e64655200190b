package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/cistern/internal/dialect"
)

type columnRow struct {
	TableSchema string         `db:"TABLE_SCHEMA"`
	TableName   string         `db:"TABLE_NAME"`
	ColumnName  string         `db:"COLUMN_NAME"`
	DataType    string         `db:"DATA_TYPE"`
	IsNullable  string         `db:"IS_NULLABLE"`
	MaxLength   sql.NullInt64  `db:"CHARACTER_MAXIMUM_LENGTH"`
	Precision   sql.NullInt64  `db:"NUMERIC_PRECISION"`
	Scale       sql.NullInt64  `db:"NUMERIC_SCALE"`
	Comment     sql.NullString `db:"COMMENT"`
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
			c.COMMENT
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
			Remarks:   r.Comment.String,
		}
	}
	return cols, nil
}

// showRows runs a SHOW command and returns its rows keyed by lowercase
// column name; SHOW output cannot be filtered with bind parameters.
func showRows(ctx context.Context, q dialect.Queryer, query string) ([]map[string]any, error) {
	rows, err := q.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		lowered := make(map[string]any, len(row))
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			lowered[strings.ToLower(k)] = v
		}
		out = append(out, lowered)
	}
	return out, rows.Err()
}

func str(row map[string]any, key string) string {
	s, _ := row[key].(string)
	return s
}

func (d *Dialect) PrimaryKeys(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.PrimaryKey, error) {
	query := fmt.Sprintf(`SHOW PRIMARY KEYS IN TABLE %s.%s`, d.QuoteIdentifier(schema), d.QuoteIdentifier(table))
	rows, err := showRows(ctx, q, query)
	if err != nil {
		return nil, fmt.Errorf("fetch primary keys of %s.%s: %w", schema, table, err)
	}

	keys := make([]dialect.PrimaryKey, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, dialect.PrimaryKey{
			Schema: schema,
			Table:  str(r, "table_name"),
			Column: str(r, "column_name"),
			Name:   str(r, "constraint_name"),
		})
	}
	return keys, nil
}

func (d *Dialect) ForeignKeys(ctx context.Context, q dialect.Queryer, schema, table string) ([]dialect.ForeignKey, error) {
	query := fmt.Sprintf(`SHOW IMPORTED KEYS IN TABLE %s.%s`, d.QuoteIdentifier(schema), d.QuoteIdentifier(table))
	rows, err := showRows(ctx, q, query)
	if err != nil {
		return nil, fmt.Errorf("fetch foreign keys of %s.%s: %w", schema, table, err)
	}

	keys := make([]dialect.ForeignKey, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, dialect.ForeignKey{
			Schema:    schema,
			Table:     str(r, "fk_table_name"),
			Column:    str(r, "fk_column_name"),
			Name:      str(r, "fk_name"),
			RefSchema: str(r, "pk_schema_name"),
			RefTable:  str(r, "pk_table_name"),
			RefColumn: str(r, "pk_column_name"),
		})
	}
	return keys, nil
}

// Indexes returns nothing: Snowflake tables have no secondary indexes.
func (d *Dialect) Indexes(_ context.Context, _ dialect.Queryer, _, _ string) ([]dialect.IndexColumn, error) {
	return nil, nil
}

package commit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faucetdb/cistern/internal/async"
	"github.com/faucetdb/cistern/internal/changes"
	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/dialect/postgres"
	"github.com/faucetdb/cistern/internal/dialect/snowflake"
	"github.com/faucetdb/cistern/internal/dialect/sqlite"
	"github.com/faucetdb/cistern/internal/entity"
	"github.com/faucetdb/cistern/internal/generic"
)

func stmt(sql string, ids ...int64) *changes.Statement {
	s := &changes.Statement{SQL: sql}
	for i, id := range ids {
		s.Params = append(s.Params, &entity.Parameter{
			Name:  fmt.Sprintf("p%d", i+1),
			Mode:  entity.ModeIn,
			Type:  generic.Long,
			Value: generic.NewValue(generic.Long, id),
		})
	}
	return s
}

func newMockPipeline(t *testing.T, d dialect.Dialect) (*Pipeline, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pool := async.NewPool("workers", 2)
	t.Cleanup(pool.Close)
	return New(Config{DB: sqlx.NewDb(db, "sqlmock"), Dialect: d, Workers: pool}), mock
}

const insertT = "insert into t (id) values (?)"

// ---------------------------------------------------------------------------
// Retry passes (sqlmock)
// ---------------------------------------------------------------------------

func TestPartialRetry(t *testing.T) {
	p, mock := newMockPipeline(t, snowflake.New())

	var stmts []*changes.Statement
	for i := int64(1); i <= 5; i++ {
		stmts = append(stmts, stmt(insertT, i))
	}

	mock.ExpectBegin()
	for i := int64(1); i <= 5; i++ {
		e := mock.ExpectExec(insertT).WithArgs(i)
		if i == 2 || i == 4 {
			e.WillReturnError(fmt.Errorf("transient failure %d", i))
			continue
		}
		e.WillReturnResult(sqlmock.NewResult(0, 1))
	}
	// Only the failed statements run again, in their original order.
	mock.ExpectExec(insertT).WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertT).WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := p.Commit(context.Background(), stmts).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTotalFailureRollsBack(t *testing.T) {
	p, mock := newMockPipeline(t, snowflake.New())

	mock.ExpectBegin()
	mock.ExpectExec(insertT).WithArgs(int64(1)).WillReturnError(errors.New("duplicate key 1"))
	mock.ExpectExec(insertT).WithArgs(int64(2)).WillReturnError(errors.New("duplicate key 2"))
	mock.ExpectRollback()

	_, err := p.Commit(context.Background(), []*changes.Statement{
		stmt(insertT, 1),
		stmt(insertT, 2),
	}).Await(context.Background())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, err, ErrCommitFailed)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.Failures, 2)
	assert.Equal(t, 1, ce.Passes)
	assert.Equal(t, "statement 1: duplicate key 1\nstatement 2: duplicate key 2", ce.Error())

	var se *StatementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Index)
}

func TestFailureAfterProgressKeepsAffected(t *testing.T) {
	p, mock := newMockPipeline(t, snowflake.New())

	mock.ExpectBegin()
	mock.ExpectExec(insertT).WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(insertT).WithArgs(int64(2)).WillReturnError(errors.New("fk violation"))
	mock.ExpectExec(insertT).WithArgs(int64(2)).WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	_, err := p.Commit(context.Background(), []*changes.Statement{
		stmt(insertT, 1),
		stmt(insertT, 2),
	}).Await(context.Background())

	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(3), ce.Affected)
	assert.Equal(t, 2, ce.Passes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavepointsWrapStatements(t *testing.T) {
	p, mock := newMockPipeline(t, postgres.New())
	const ins = "insert into t (id) values ($1)"

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT cistern_0").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(ins).WithArgs(int64(1)).WillReturnError(errors.New("violates foreign key"))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT cistern_0").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT cistern_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(ins).WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("RELEASE SAVEPOINT cistern_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT cistern_0").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(ins).WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("RELEASE SAVEPOINT cistern_0").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := p.Commit(context.Background(), []*changes.Statement{
		stmt(ins, 1),
		stmt(ins, 2),
	}).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavepointFailureIsFatal(t *testing.T) {
	p, mock := newMockPipeline(t, postgres.New())

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT cistern_0").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := p.Commit(context.Background(), []*changes.Statement{stmt("delete from t")}).Await(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCommitFailed)
	assert.Contains(t, err.Error(), "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginFailure(t *testing.T) {
	p, mock := newMockPipeline(t, snowflake.New())
	mock.ExpectBegin().WillReturnError(errors.New("read-only replica"))

	_, err := p.Commit(context.Background(), []*changes.Statement{stmt("delete from t")}).Await(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin")
}

func TestEmptyBatch(t *testing.T) {
	p, mock := newMockPipeline(t, snowflake.New())
	n, err := p.Commit(context.Background(), nil).Await(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCanceledBeforeStart(t *testing.T) {
	p, _ := newMockPipeline(t, snowflake.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Commit(ctx, []*changes.Statement{stmt("delete from t")}).Await(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

// ---------------------------------------------------------------------------
// SQLite end to end
// ---------------------------------------------------------------------------

func newSQLitePipeline(t *testing.T) (*Pipeline, *sqlx.DB) {
	t.Helper()
	d := sqlite.New()
	db, err := d.Open(dialect.ConnectionConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "commit.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, ddl := range []string{
		`CREATE TABLE owners (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE pets (id INTEGER PRIMARY KEY, owner_id INTEGER NOT NULL REFERENCES owners(id))`,
		`CREATE TABLE audit (note TEXT)`,
	} {
		_, err := db.Exec(ddl)
		require.NoError(t, err)
	}

	pool := async.NewPool("workers", 2)
	t.Cleanup(pool.Close)
	return New(Config{DB: db, Dialect: d, Workers: pool}), db
}

func TestOrderingResolvedByRetry(t *testing.T) {
	p, db := newSQLitePipeline(t)
	ctx := context.Background()

	// The pet references an owner inserted after it.
	n, err := p.Commit(ctx, []*changes.Statement{
		stmt("insert into pets (id, owner_id) values (?, ?)", 1, 10),
		stmt("insert into owners (id) values (?)", 10),
	}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var pets int
	require.NoError(t, db.Get(&pets, `SELECT COUNT(*) FROM pets WHERE owner_id = 10`))
	assert.Equal(t, 1, pets)
}

func TestTotalFailureCanary(t *testing.T) {
	p, db := newSQLitePipeline(t)
	ctx := context.Background()

	_, err := p.Commit(ctx, []*changes.Statement{
		stmt("insert into audit (note) values ('canary')"),
		stmt("insert into nope_a (id) values (?)", 1),
		stmt("insert into pets (id, owner_id) values (?, ?)", 1, 99),
	}).Await(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommitFailed)
	assert.Contains(t, err.Error(), "nope_a")
	assert.Contains(t, err.Error(), "FOREIGN KEY")

	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(1), ce.Affected)
	assert.Len(t, ce.Failures, 2)

	var notes int
	require.NoError(t, db.Get(&notes, `SELECT COUNT(*) FROM audit`))
	assert.Zero(t, notes, "canary must not survive the rollback")
}

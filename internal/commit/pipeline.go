// Package commit applies bound statements in a single transaction,
// retrying statements whose failure may be due to ordering.
package commit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/cistern/internal/async"
	"github.com/faucetdb/cistern/internal/changes"
	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/metrics"
)

// Config wires a pipeline to a database. Commits run on Workers, which is
// required: without it every commit fails with async.ErrNoPool. Futures
// complete on Completion when it is set.
type Config struct {
	DB         dialect.ConnSource
	Dialect    dialect.Dialect
	Workers    *async.Pool
	Completion *async.Pool
	Logger     *slog.Logger
	Metrics    *metrics.Collector
}

// Pipeline commits statement batches. Each batch gets its own connection
// and transaction; concurrent commits are not ordered.
type Pipeline struct {
	db         dialect.ConnSource
	savepoints *dialect.SavepointSyntax
	workers    *async.Pool
	completion *async.Pool
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// New creates a pipeline from cfg.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		db:         cfg.DB,
		savepoints: cfg.Dialect.Savepoints(),
		workers:    cfg.Workers,
		completion: cfg.Completion,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
}

// Commit executes stmts in one transaction and resolves to the total number
// of affected rows.
//
// Every pending statement is executed in each pass. When some fail, only
// those are retried in the next pass, in their original order. A pass in
// which every statement fails ends the commit with an *Error; so does
// needing more passes than there are statements. On any failure the
// transaction is rolled back.
func (p *Pipeline) Commit(ctx context.Context, stmts []*changes.Statement) *async.Future[int64] {
	f := async.Go(ctx, p.workers, func(ctx context.Context) (total int64, err error) {
		done := p.metrics.Start(metrics.OpCommit)
		defer func() { done(err) }()

		if len(stmts) == 0 {
			return 0, nil
		}
		log := p.logger.With("commit", uuid.NewString(), "statements", len(stmts))

		conn, err := p.db.Connx(ctx)
		if err != nil {
			return 0, fmt.Errorf("acquire connection: %w", err)
		}
		defer conn.Close()

		tx, err := conn.BeginTxx(ctx, nil)
		if err != nil {
			return 0, fmt.Errorf("begin: %w", err)
		}

		total, passes, err := p.apply(ctx, tx, stmts, log)
		p.metrics.CommitShape(len(stmts), passes)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Error("commit: rollback failed", "error", rbErr)
			}
			log.Warn("commit: rolled back", "passes", passes, "error", err)
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("commit: %w", err)
		}

		p.metrics.RowsAffected(total)
		log.Debug("commit: done", "passes", passes, "rows", total)
		return total, nil
	})
	return async.Deliver(f, p.completion)
}

func (p *Pipeline) apply(ctx context.Context, tx *sqlx.Tx, stmts []*changes.Statement, log *slog.Logger) (int64, int, error) {
	pending := make([]int, len(stmts))
	for i := range pending {
		pending[i] = i
	}

	var total int64
	for pass := 1; ; pass++ {
		var failures []*StatementError
		for _, i := range pending {
			n, failure, err := p.exec(ctx, tx, i, stmts[i])
			if err != nil {
				return total, pass, err
			}
			if failure != nil {
				p.metrics.StatementFailed()
				log.Debug("commit: statement failed", "pass", pass, "index", i, "error", failure.Err)
				failures = append(failures, failure)
				continue
			}
			total += n
		}

		switch {
		case len(failures) == 0:
			return total, pass, nil
		case len(failures) == len(pending):
			return total, pass, &Error{Failures: failures, Affected: total, Passes: pass}
		case pass >= len(stmts):
			return total, pass, &Error{Failures: failures, Affected: total, Passes: pass, cause: errTooManyPasses}
		}

		log.Info("commit: retrying failed statements", "pass", pass, "failed", len(failures))
		pending = pending[:0:0]
		for _, f := range failures {
			pending = append(pending, f.Index)
		}
	}
}

// exec runs one statement. A statement-level failure is returned as
// failure; err is set only for failures that end the commit, such as a
// canceled context or a savepoint that cannot be restored.
func (p *Pipeline) exec(ctx context.Context, tx *sqlx.Tx, index int, s *changes.Statement) (int64, *StatementError, error) {
	sp := p.savepoints
	name := fmt.Sprintf("cistern_%d", index)
	if sp != nil {
		if _, err := tx.ExecContext(ctx, sp.CreateSQL(name)); err != nil {
			return 0, nil, fmt.Errorf("savepoint: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, s.SQL, s.Args()...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		if sp != nil {
			if _, rbErr := tx.ExecContext(ctx, sp.RollbackSQL(name)); rbErr != nil {
				return 0, nil, fmt.Errorf("rollback to savepoint after %v: %w", err, rbErr)
			}
		}
		return 0, &StatementError{Index: index, SQL: s.SQL, Err: err}, nil
	}

	if sp != nil {
		if release := sp.ReleaseSQL(name); release != "" {
			if _, err := tx.ExecContext(ctx, release); err != nil {
				return 0, nil, fmt.Errorf("release savepoint: %w", err)
			}
		}
	}

	n, err := res.RowsAffected()
	if err != nil {
		p.logger.Debug("commit: rows affected unavailable", "index", index, "error", err)
		return 0, nil, nil
	}
	return n, nil, nil
}

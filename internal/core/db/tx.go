package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/solatis/policykeeper/internal/types"
)

// TxRunner executes a group of statements as one atomic unit.
//
// A runner either owns its transactions (begin, commit, roll back on any
// failure) or is bound to a caller-owned transaction via Join, in which case
// statements run on that transaction and commit/rollback stay with the caller.
// Participation is explicit; nothing is inferred from the context.
type TxRunner struct {
	db    *sqlx.DB
	outer *sqlx.Tx
	opts  *sql.TxOptions
}

// NewTxRunner returns a runner that opens its own transactions on db.
// isolation sql.LevelDefault uses the driver default (read committed on
// PostgreSQL, serializable on SQLite); both hide the uncommitted
// delete-all of a full save from concurrent readers.
func NewTxRunner(db *sqlx.DB, isolation sql.IsolationLevel) *TxRunner {
	return &TxRunner{db: db, opts: &sql.TxOptions{Isolation: isolation}}
}

// Join returns a runner bound to a transaction owned by the caller.
func (r *TxRunner) Join(tx *sqlx.Tx) *TxRunner {
	return &TxRunner{db: r.db, outer: tx, opts: r.opts}
}

// Joined reports whether the runner participates in a caller-owned transaction.
func (r *TxRunner) Joined() bool { return r.outer != nil }

// Ext returns the handle single statements should run on: the joined
// transaction if any, otherwise the pool.
func (r *TxRunner) Ext() sqlx.ExtContext {
	if r.outer != nil {
		return r.outer
	}
	return r.db
}

// Run executes fn inside a transaction. Any error from fn, or from commit,
// rolls back every statement fn issued and is returned as a
// *types.PersistenceError tagged with op. Validation errors from fn pass
// through unwrapped.
func (r *TxRunner) Run(ctx context.Context, op string, fn func(ext sqlx.ExtContext) error) error {
	if r.outer != nil {
		if err := fn(r.outer); err != nil {
			return wrapPersistence(op, err)
		}
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, r.opts)
	if err != nil {
		return &types.PersistenceError{Op: op, Err: fmt.Errorf("begin transaction: %w", err)}
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return wrapPersistence(op, err)
	}

	if err := tx.Commit(); err != nil {
		return &types.PersistenceError{Op: op, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

func wrapPersistence(op string, err error) error {
	if types.IsValidation(err) || types.IsPersistence(err) {
		return err
	}
	return &types.PersistenceError{Op: op, Err: err}
}

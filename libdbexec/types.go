// Package libdbexec abstracts SQL execution over Postgres and SQLite so that
// store packages can run unchanged against either. Errors from the drivers
// are translated to the package sentinels below.
package libdbexec

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrNotFound             = errors.New("libdb: not found")
	ErrTxFailed             = errors.New("libdb: transaction failed")
	ErrQueryCanceled        = errors.New("libdb: query canceled")
	ErrUniqueViolation      = errors.New("libdb: unique constraint violation")
	ErrForeignKeyViolation  = errors.New("libdb: foreign key constraint violation")
	ErrNotNullViolation     = errors.New("libdb: not null constraint violation")
	ErrCheckViolation       = errors.New("libdb: check constraint violation")
	ErrConstraintViolation  = errors.New("libdb: constraint violation")
	ErrDeadlockDetected     = errors.New("libdb: deadlock detected")
	ErrSerializationFailure = errors.New("libdb: serialization failure")
	ErrLockNotAvailable     = errors.New("libdb: lock not available")
	ErrDataTruncation       = errors.New("libdb: data truncation")
	ErrNumericOutOfRange    = errors.New("libdb: numeric value out of range")
	ErrInvalidInputSyntax   = errors.New("libdb: invalid input syntax")
	ErrUndefinedColumn      = errors.New("libdb: undefined column")
	ErrUndefinedTable       = errors.New("libdb: undefined table")
	ErrMaxRowsReached       = errors.New("libdb: max rows reached")
)

// QueryRower wraps *sql.Row so Scan errors pass through the driver translator.
type QueryRower interface {
	Scan(dest ...any) error
}

// Exec is the query surface stores operate on. It is satisfied both by a
// transaction-bound executor and by one that runs directly on the pool.
type Exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) QueryRower
}

// CommitTx finalizes a transaction. The context is checked before the commit
// is attempted.
type CommitTx func(ctx context.Context) error

// ReleaseTx rolls back if the transaction was not committed. Safe to defer
// after a successful commit.
type ReleaseTx func() error

// DBManager owns a database connection pool and hands out executors.
type DBManager interface {
	WithoutTransaction() Exec
	WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error)
	Close() error
}

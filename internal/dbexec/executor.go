// Package dbexec abstracts SQL execution behind small interfaces so the
// storage adapter can run against a real database handle or a test double.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows abstracts sql.Rows so fakes can stand in during tests.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor issues SQL statements.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StandardExecutor runs statements directly against a database handle.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor returns an executor bound to db.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}

func (e *StandardExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.ExecContext(ctx, query, args...)
}

// Package tx threads an open transaction through context so that stores
// invoked inside a RunInTx callback join the caller's transaction.
package tx

import (
	"context"
	"database/sql"
	"sync"
)

type ctxKey struct{}

var txKey = ctxKey{}

// Querier is the subset of *sql.DB and *sql.Tx used by stores.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// QuerierFrom returns the transaction in ctx, or db when none is open.
func QuerierFrom(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := From(ctx); ok {
		return tx
	}
	return db
}

type stagedKey struct{}

// Staged collects writes deferred until an in-process transaction commits.
// The memory backend uses it so side stores roll back with the change.
type Staged struct {
	mu  sync.Mutex
	fns []func()
}

// WithStaged attaches s to ctx.
func WithStaged(ctx context.Context, s *Staged) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, stagedKey{}, s)
}

// StagedFrom returns the Staged set in ctx, if any.
func StagedFrom(ctx context.Context) (*Staged, bool) {
	s, ok := ctx.Value(stagedKey{}).(*Staged)
	return s, ok
}

// Defer queues fn to run on Apply.
func (s *Staged) Defer(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
}

// Apply runs the queued writes in order. Call it only after commit.
func (s *Staged) Apply() {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

package postgres

import (
	"context"
	"fmt"
	"time"

	pgplatform "alma/internal/platform/postgres"
	"alma/internal/storage"
	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
	"alma/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// RunInTx runs fn in a database transaction holding an advisory lock keyed on
// ref, so writers to the same entity queue behind each other.
func (s *Store) RunInTx(ctx context.Context, ref domain.EntityRef, fn func(ctx context.Context, tx storage.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := s.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", pgplatform.Classify(err))
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, ref.String()); err != nil {
		if ctx.Err() != nil {
			return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "transaction aborted waiting for entity lock")
		}
		return fmt.Errorf("lock %s: %w", ref, pgplatform.Classify(err))
	}

	if err := fn(tx.WithTx(ctx, sqlTx), s); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		if ctx.Err() != nil {
			return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "transaction aborted before commit")
		}
		return fmt.Errorf("commit transaction: %w", pgplatform.Classify(err))
	}
	return nil
}

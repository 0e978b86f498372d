// Package postgres opens the shared *sql.DB backed by the pgx stdlib driver
// and classifies driver errors into storage sentinels.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"alma/internal/platform/config"
	"alma/pkg/platform/sentinel"
)

var (
	connectRetries = 10
	retryDelay     = 2 * time.Second
	pingTimeout    = 2 * time.Second
	sleep          = time.Sleep
)

// Open connects to Postgres, retrying the initial ping while the database starts.
func Open(ctx context.Context, cfg config.Storage) (*sql.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database url is empty")
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(max(1, cfg.MaxOpenConns/2))
	db.SetConnMaxIdleTime(5 * time.Minute)

	var lastErr error
	for range connectRetries {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		lastErr = db.PingContext(pingCtx)
		cancel()
		if lastErr == nil {
			return db, nil
		}
		if ctx.Err() != nil {
			break
		}
		sleep(retryDelay)
	}
	_ = db.Close()
	return nil, fmt.Errorf("db ping retries exhausted: %w", lastErr)
}

// Postgres SQLSTATE codes we translate.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	serializationFail   = "40001"
	lockNotAvailable    = "55P03"
)

// Classify maps driver errors onto storage sentinels, leaving others untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, sentinel.ErrAlreadyExists)
		case foreignKeyViolation:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, sentinel.ErrNotFound)
		case serializationFail, lockNotAvailable:
			return fmt.Errorf("%s: %w", pgErr.Message, sentinel.ErrConflict)
		}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%v: %w", err, sentinel.ErrUnavailable)
	}
	return err
}

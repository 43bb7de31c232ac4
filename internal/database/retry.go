package database

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/cosplatform/eventcore/pkg/errors"
	"github.com/cosplatform/eventcore/pkg/logger"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATEs that mean "lost a lock race, try again".
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
)

// IsLockConflict reports whether err is a retryable lock or serialisation
// failure.
func IsLockConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
			return true
		}
	}
	return false
}

// WithLockRetry calls fn up to attempts times while it fails with a lock
// conflict, sleeping backoff*n between tries. Exhausted retries are returned
// as a CONFLICT AppError; other errors are returned as they are.
func WithLockRetry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		err = fn()
		if err == nil || !IsLockConflict(err) {
			return err
		}
		if i == attempts {
			break
		}

		logger.Warn("Lock conflict, retrying", "attempt", i, "error", err)
		timer := time.NewTimer(backoff * time.Duration(i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return apperrors.Wrap(err, apperrors.ErrCodeConflict, "Resource is busy, please try again")
}

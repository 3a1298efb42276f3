package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	maxReadRetries   = 3
	readRetryBackoff = 10 * time.Millisecond
)

// retryRead re-runs an idempotent read after transient lock or serialization failures,
// doubling the wait each time.
func retryRead[T any](ctx context.Context, read func() (T, error)) (T, error) {
	wait := readRetryBackoff
	for attempt := 0; ; attempt++ {
		v, err := read()
		if err == nil || attempt == maxReadRetries || !transient(err) {
			return v, err
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func transient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available
		return true
	}
	return false
}

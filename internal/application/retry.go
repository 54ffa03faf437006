package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/sport-scheduler/internal/persistence"
)

// RetryPolicy bounds how often a session transaction is retried after the
// store reports a concurrent write conflict.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy makes three attempts with a short linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 20 * time.Millisecond}
}

type sessionLocker interface {
	WithSessionLock(ctx context.Context, sessionID string, fn func(tx persistence.SessionTx) error) error
}

// lockSession runs fn under the session lock, retrying on persistence.ErrConflict.
// Persistence errors are translated; errors returned by fn pass through.
func (p RetryPolicy) lockSession(ctx context.Context, store sessionLocker, sessionID string, fn func(tx persistence.SessionTx) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = store.WithSessionLock(ctx, sessionID, fn)
		if !errors.Is(err, persistence.ErrConflict) {
			return mapSessionRepoError(err)
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * p.Backoff):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrCapacityConflict, attempts, err)
}

func mapSessionRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyRegistered
	default:
		return err
	}
}

package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/sport-scheduler/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSessionCancelled):
		return "session_cancelled"
	case errors.Is(err, ErrSessionInPast):
		return "session_in_past"
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, ErrCapacityConflict):
		return "capacity_conflict"
	case errors.Is(err, ErrInvalidJoinCode):
		return "invalid_join_code"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	return "unexpected"
}

// isExpected reports whether err is a caller mistake rather than a fault.
func isExpected(err error) bool {
	kind := ErrorKind(err)
	return kind != "" && kind != "unexpected"
}

// logOutcome logs failures at warn for expected kinds and error otherwise.
func logOutcome(ctx context.Context, logger *slog.Logger, err error, failure string) {
	if isExpected(err) {
		logger.WarnContext(ctx, failure, "error", err, "error_kind", ErrorKind(err))
		return
	}
	logger.ErrorContext(ctx, failure, "error", err, "error_kind", ErrorKind(err))
}

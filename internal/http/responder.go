package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/sport-scheduler/internal/application"
	"github.com/example/sport-scheduler/internal/logging"
)

const maxBodyBytes = 1 << 20

var (
	errBadRequestBody     = errors.New("Request body is not valid JSON")
	errMissingBearerToken = errors.New("Authorization bearer token is required")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" && status < http.StatusInternalServerError {
			message = msg
		}
		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		r.loggerFor(ctx).Log(ctx, level, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

// handleServiceError maps application sentinels to status codes.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	var vErr *application.ValidationError
	switch {
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "VALIDATION_FAILED",
			Message:   "Validation failed",
			Errors:    vErr.FieldErrors,
			Reasons:   vErr.Reasons,
		})
	case errors.Is(err, application.ErrUnauthorized):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{
			ErrorCode: "AUTH_FORBIDDEN",
			Message:   "You are not allowed to perform this operation",
		})
	case errors.Is(err, application.ErrSessionNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: "SESSION_NOT_FOUND", Message: "Session not found"})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: "NOT_FOUND", Message: "Resource not found"})
	case errors.Is(err, application.ErrNotRegistered):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: "NOT_REGISTERED", Message: "You are not registered for this session"})
	case errors.Is(err, application.ErrSessionCancelled):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: "SESSION_CANCELLED", Message: "Session has been cancelled"})
	case errors.Is(err, application.ErrSessionInPast):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: "SESSION_IN_PAST", Message: "Cannot join past sessions"})
	case errors.Is(err, application.ErrAlreadyRegistered):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: "ALREADY_REGISTERED", Message: "Already registered for this session"})
	case errors.Is(err, application.ErrInvalidJoinCode):
		r.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{ErrorCode: "INVALID_JOIN_CODE", Message: "Join code is malformed"})
	case errors.Is(err, application.ErrCapacityConflict):
		w.Header().Set("Retry-After", "1")
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{ErrorCode: "CAPACITY_CONFLICT", Message: "Session is busy, please retry"})
	default:
		r.writeError(ctx, w, http.StatusInternalServerError, err)
	}
}

// decodeJSON reads a single JSON object, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequestBody, err)
	}
	return nil
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

type errorResponse struct {
	ErrorCode string            `json:"errorCode,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
	Reasons   []string          `json:"reasons,omitempty"`
}

package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/sport-scheduler/internal/application"
	"github.com/example/sport-scheduler/internal/auth"
	"github.com/example/sport-scheduler/internal/logging"
)

// TokenVerifier resolves a bearer token to the calling principal.
type TokenVerifier interface {
	Verify(token string) (application.Principal, error)
}

// RequireBearer rejects requests without a valid bearer token and stores the
// principal in the request context.
func RequireBearer(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer`)
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingBearerToken)
				return
			}

			principal, err := verifier.Verify(token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrMissingToken) {
					responder.writeJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{
						ErrorCode: "AUTH_INVALID_TOKEN",
						Message:   "Token is invalid or expired",
					})
					return
				}
				responder.writeError(r.Context(), w, http.StatusInternalServerError, err)
				return
			}

			ctx := ContextWithPrincipal(r.Context(), principal)
			if logger := logging.FromContext(ctx); logger != nil {
				ctx = logging.ContextWithLogger(ctx, logger.With("user_id", principal.UserID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger attaches a request scoped logger and logs start and completion.
// It reads the request ID set by chi's middleware.RequestID when present.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With(
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := logging.ContextWithLogger(r.Context(), logger)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			logger.DebugContext(ctx, "request started")
			next.ServeHTTP(ww, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed",
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}

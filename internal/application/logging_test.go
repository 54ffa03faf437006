package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/example/sport-scheduler/internal/logging"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}

	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: ErrUnauthorized, want: "unauthorized"},
		{err: fmt.Errorf("wrapped: %w", ErrSessionNotFound), want: "session_not_found"},
		{err: ErrNotFound, want: "not_found"},
		{err: ErrSessionCancelled, want: "session_cancelled"},
		{err: ErrSessionInPast, want: "session_in_past"},
		{err: ErrAlreadyRegistered, want: "already_registered"},
		{err: ErrNotRegistered, want: "not_registered"},
		{err: fmt.Errorf("%w after 3 attempts", ErrCapacityConflict), want: "capacity_conflict"},
		{err: ErrInvalidJoinCode, want: "invalid_join_code"},
		{err: &ValidationError{Reasons: []string{"bad"}}, want: "validation"},
		{err: errors.New("disk on fire"), want: "unexpected"},
	}
	for _, tc := range cases {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestLogOutcomeLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	logOutcome(context.Background(), logger, ErrAlreadyRegistered, "failed to join session")
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "error_kind=already_registered") {
		t.Fatalf("expected warn entry, got %s", buf.String())
	}

	buf.Reset()
	logOutcome(context.Background(), logger, errors.New("boom"), "failed to join session")
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Fatalf("expected error entry, got %s", buf.String())
	}
}

func TestServiceLoggerPrefersContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctxLogger := slog.New(slog.NewTextHandler(&buf, nil)).With("request_id", "req-1")
	ctx := logging.ContextWithLogger(context.Background(), ctxLogger)

	serviceLogger(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), "ParticipationService", "JoinSession", "session_id", "s1").
		InfoContext(ctx, "joined session")

	out := buf.String()
	for _, want := range []string{"request_id=req-1", "service=ParticipationService", "operation=JoinSession", "session_id=s1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %s", want, out)
		}
	}
}

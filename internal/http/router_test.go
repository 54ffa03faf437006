package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/sport-scheduler/internal/application"
	"github.com/example/sport-scheduler/internal/auth"
	"github.com/example/sport-scheduler/internal/persistence/memory"
	"github.com/example/sport-scheduler/internal/testfixtures"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	tokens  *auth.Tokens
	factory *testfixtures.ServiceFactory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := testfixtures.NewServiceFactory()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	tokens, err := auth.NewTokens("http-test-secret", auth.DefaultTokenTTL, factory.Clock.NowFunc())
	if err != nil {
		t.Fatalf("NewTokens returned error: %v", err)
	}

	activities := factory.NewActivityService(testfixtures.ActivityServiceDeps{Store: store, Logger: logger})
	participations := factory.NewParticipationService(testfixtures.ParticipationServiceDeps{Store: store, Logger: logger})

	handler := NewRouter(RouterConfig{
		Matches:        NewMatchHandler(factory.Validator(), factory.Engine(), logger),
		Activities:     NewActivityHandler(activities, logger),
		Participations: NewParticipationHandler(participations, logger),
		Verifier:       tokens,
		Logger:         logger,
	})
	return &testServer{t: t, handler: handler, tokens: tokens, factory: factory}
}

func (s *testServer) token(userID string) string {
	s.t.Helper()
	token, err := s.tokens.Issue(application.Principal{UserID: userID})
	if err != nil {
		s.t.Fatalf("Issue returned error: %v", err)
	}
	return token
}

func (s *testServer) do(method, path, userID string, body any) *httptest.ResponseRecorder {
	s.t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			s.t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(userID))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
}

// createActivity posts a weekly Tuesday and Thursday activity owned by owner.
func (s *testServer) createActivity(owner string, overrides map[string]any) createActivityResponse {
	s.t.Helper()
	body := map[string]any{
		"name":          "Lunch football",
		"sport":         "football",
		"minPlayers":    2,
		"maxPlayers":    10,
		"recurringType": "weekly",
		"recurringDays": []string{"tuesday", "thu"},
		"startTime":     "12:00",
	}
	for key, value := range overrides {
		body[key] = value
	}
	rec := s.do(http.MethodPost, "/activities", owner, body)
	expectStatus(s.t, rec, http.StatusCreated)
	return decodeBody[createActivityResponse](s.t, rec)
}

func TestRouterRequiresBearerToken(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodGet, "/activities", "", nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}

	req := httptest.NewRequest(http.MethodGet, "/activities", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)
	if body := decodeBody[errorResponse](t, rec); body.ErrorCode != "AUTH_INVALID_TOKEN" {
		t.Fatalf("unexpected error code %q", body.ErrorCode)
	}
}

func TestRouterUnknownRoute(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodGet, "/nowhere", "alice", nil)
	expectStatus(t, rec, http.StatusNotFound)

	rec = srv.do(http.MethodPatch, "/activities", "alice", nil)
	expectStatus(t, rec, http.StatusMethodNotAllowed)
}

func TestMatchHandler(t *testing.T) {
	srv := newTestServer(t)

	t.Run("time slots", func(t *testing.T) {
		rec := srv.do(http.MethodGet, "/time-slots", "alice", nil)
		expectStatus(t, rec, http.StatusOK)
		body := decodeBody[timeSlotsResponse](t, rec)
		want := []string{"12:00", "12:30", "13:00", "13:30"}
		if fmt.Sprint(body.TimeSlots) != fmt.Sprint(want) {
			t.Fatalf("unexpected slots %v", body.TimeSlots)
		}
		if body.WindowStart != "12:00" || body.WindowEnd != "14:00" || len(body.Weekdays) != 5 {
			t.Fatalf("unexpected window %#v", body)
		}
	})

	t.Run("valid match", func(t *testing.T) {
		rec := srv.do(http.MethodPost, "/matches/validate", "alice", validateMatchRequest{
			Date: "2024-01-09", StartTime: "12:30", MinPlayers: 4, MaxPlayers: 10,
		})
		expectStatus(t, rec, http.StatusOK)
		body := decodeBody[validateMatchResponse](t, rec)
		if !body.IsValid || len(body.Violations) != 0 {
			t.Fatalf("expected valid match, got %#v", body)
		}
	})

	t.Run("invalid match reports every violation", func(t *testing.T) {
		rec := srv.do(http.MethodPost, "/matches/validate", "alice", validateMatchRequest{
			Date: "2024-01-13", StartTime: "14:00", MinPlayers: 1, MaxPlayers: 10,
		})
		expectStatus(t, rec, http.StatusOK)
		body := decodeBody[validateMatchResponse](t, rec)
		if body.IsValid {
			t.Fatalf("expected invalid match")
		}
		fields := map[string]bool{}
		for _, v := range body.Violations {
			fields[v.Field] = true
		}
		for _, field := range []string{"startTime", "date", "minPlayers"} {
			if !fields[field] {
				t.Fatalf("expected violation on %s, got %#v", field, body.Violations)
			}
		}
		if len(body.Errors) != len(body.Violations) {
			t.Fatalf("errors and violations differ: %v %v", body.Errors, body.Violations)
		}
	})

	t.Run("malformed date", func(t *testing.T) {
		rec := srv.do(http.MethodPost, "/matches/validate", "alice", validateMatchRequest{Date: "09/01/2024", StartTime: "12:00"})
		expectStatus(t, rec, http.StatusUnprocessableEntity)
		body := decodeBody[errorResponse](t, rec)
		if _, ok := body.Errors["date"]; !ok {
			t.Fatalf("expected date error, got %#v", body)
		}
	})

	t.Run("preview skips weekends", func(t *testing.T) {
		rec := srv.do(http.MethodPost, "/recurrences/preview", "alice", previewRequest{StartDate: "2024-01-11", Kind: "day", Count: 3})
		expectStatus(t, rec, http.StatusOK)
		body := decodeBody[previewResponse](t, rec)
		want := []string{"2024-01-11", "2024-01-12", "2024-01-15"}
		if fmt.Sprint(body.Dates) != fmt.Sprint(want) {
			t.Fatalf("unexpected dates %v", body.Dates)
		}
	})

	t.Run("preview rejects bad input", func(t *testing.T) {
		rec := srv.do(http.MethodPost, "/recurrences/preview", "alice", previewRequest{StartDate: "2024-01-11", Kind: "year", Count: 3})
		expectStatus(t, rec, http.StatusUnprocessableEntity)

		rec = srv.do(http.MethodPost, "/recurrences/preview", "alice", previewRequest{StartDate: "2024-01-11", Kind: "week", Count: -1})
		expectStatus(t, rec, http.StatusUnprocessableEntity)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		rec := srv.do(http.MethodPost, "/recurrences/preview", "alice", `{"startDate":"2024-01-11","kind":"day","count":1,"extra":true}`)
		expectStatus(t, rec, http.StatusBadRequest)
	})
}

func TestActivityHandler(t *testing.T) {
	srv := newTestServer(t)

	created := srv.createActivity("owner", map[string]any{"isPublic": false})
	if created.JoinCode == "" || len(created.Sessions) != 4 {
		t.Fatalf("unexpected create response %#v", created)
	}
	if got := created.Activity.RecurringDays; fmt.Sprint(got) != "[tuesday thursday]" {
		t.Fatalf("unexpected recurring days %v", got)
	}
	activityPath := "/activities/" + created.Activity.ID

	t.Run("owner reads private activity", func(t *testing.T) {
		rec := srv.do(http.MethodGet, activityPath, "owner", nil)
		expectStatus(t, rec, http.StatusOK)
	})

	t.Run("private activity is hidden from others", func(t *testing.T) {
		expectStatus(t, srv.do(http.MethodGet, activityPath, "stranger", nil), http.StatusNotFound)
		expectStatus(t, srv.do(http.MethodGet, activityPath+"/sessions", "stranger", nil), http.StatusNotFound)

		rec := srv.do(http.MethodGet, "/activities", "stranger", nil)
		expectStatus(t, rec, http.StatusOK)
		if list := decodeBody[[]activityDTO](t, rec); len(list) != 0 {
			t.Fatalf("expected no visible activities, got %d", len(list))
		}
	})

	t.Run("join code resolves private activity", func(t *testing.T) {
		rec := srv.do(http.MethodGet, "/activities/by-code/"+created.JoinCode, "stranger", nil)
		expectStatus(t, rec, http.StatusOK)
		if body := decodeBody[activityDTO](t, rec); body.ID != created.Activity.ID {
			t.Fatalf("unexpected activity %q", body.ID)
		}
	})

	t.Run("rotated join code replaces the old one", func(t *testing.T) {
		expectStatus(t, srv.do(http.MethodPost, activityPath+"/join-code", "stranger", nil), http.StatusForbidden)

		rec := srv.do(http.MethodPost, activityPath+"/join-code", "owner", nil)
		expectStatus(t, rec, http.StatusOK)
		rotated := decodeBody[joinCodeResponse](t, rec)
		if rotated.JoinCode == "" || rotated.JoinCode == created.JoinCode {
			t.Fatalf("expected a new join code, got %q", rotated.JoinCode)
		}
		expectStatus(t, srv.do(http.MethodGet, "/activities/by-code/"+created.JoinCode, "stranger", nil), http.StatusNotFound)
		expectStatus(t, srv.do(http.MethodGet, "/activities/by-code/"+rotated.JoinCode, "stranger", nil), http.StatusOK)
	})

	t.Run("sessions carry stats and status", func(t *testing.T) {
		rec := srv.do(http.MethodGet, activityPath+"/sessions", "owner", nil)
		expectStatus(t, rec, http.StatusOK)
		sessions := decodeBody[[]sessionDTO](t, rec)
		if len(sessions) != 4 {
			t.Fatalf("expected 4 sessions, got %d", len(sessions))
		}
		for _, s := range sessions {
			if s.Status != "open" || s.Stats == nil || s.Stats.AvailableSpots != 10 {
				t.Fatalf("unexpected session %#v", s)
			}
		}
	})

	t.Run("extend is idempotent", func(t *testing.T) {
		expectStatus(t, srv.do(http.MethodPost, activityPath+"/sessions/extend", "stranger", nil), http.StatusForbidden)

		rec := srv.do(http.MethodPost, activityPath+"/sessions/extend", "owner", nil)
		expectStatus(t, rec, http.StatusOK)
		if created := decodeBody[[]sessionDTO](t, rec); len(created) != 0 {
			t.Fatalf("expected no new sessions, got %d", len(created))
		}
	})

	t.Run("validation failures", func(t *testing.T) {
		rec := srv.do(http.MethodPost, "/activities", "owner", map[string]any{
			"name":          "",
			"sport":         "quidditch",
			"minPlayers":    2,
			"maxPlayers":    10,
			"recurringType": "weekly",
			"recurringDays": []string{"monday"},
			"startTime":     "15:00",
		})
		expectStatus(t, rec, http.StatusUnprocessableEntity)
		body := decodeBody[errorResponse](t, rec)
		for _, field := range []string{"name", "sport", "startTime"} {
			if _, ok := body.Errors[field]; !ok {
				t.Fatalf("expected %s error, got %#v", field, body.Errors)
			}
		}

		rec = srv.do(http.MethodPost, "/activities", "owner", map[string]any{"recurringDays": []string{"funday"}})
		expectStatus(t, rec, http.StatusUnprocessableEntity)
	})

	t.Run("only the creator deletes", func(t *testing.T) {
		expectStatus(t, srv.do(http.MethodDelete, activityPath, "stranger", nil), http.StatusForbidden)
		expectStatus(t, srv.do(http.MethodDelete, activityPath, "owner", nil), http.StatusNoContent)
		expectStatus(t, srv.do(http.MethodGet, activityPath, "owner", nil), http.StatusNotFound)
		expectStatus(t, srv.do(http.MethodGet, "/sessions/"+created.Sessions[0].ID, "owner", nil), http.StatusNotFound)
	})
}

func TestParticipationHandler(t *testing.T) {
	srv := newTestServer(t)

	created := srv.createActivity("owner", map[string]any{"maxPlayers": 2})
	sessionPath := "/sessions/" + created.Sessions[0].ID

	for _, user := range []string{"alice", "bob", "carol"} {
		rec := srv.do(http.MethodPost, sessionPath+"/participants", user, nil)
		expectStatus(t, rec, http.StatusCreated)
	}

	t.Run("joining twice conflicts", func(t *testing.T) {
		rec := srv.do(http.MethodPost, sessionPath+"/participants", "alice", nil)
		expectStatus(t, rec, http.StatusConflict)
		if body := decodeBody[errorResponse](t, rec); body.ErrorCode != "ALREADY_REGISTERED" {
			t.Fatalf("unexpected error code %q", body.ErrorCode)
		}
	})

	t.Run("stats and status", func(t *testing.T) {
		rec := srv.do(http.MethodGet, sessionPath+"/stats", "alice", nil)
		expectStatus(t, rec, http.StatusOK)
		stats := decodeBody[statsDTO](t, rec)
		if stats != (statsDTO{ConfirmedCount: 2, WaitingCount: 1, TotalCount: 3, AvailableSpots: 0}) {
			t.Fatalf("unexpected stats %#v", stats)
		}

		rec = srv.do(http.MethodGet, sessionPath, "alice", nil)
		expectStatus(t, rec, http.StatusOK)
		if session := decodeBody[sessionDTO](t, rec); session.Status != "full" {
			t.Fatalf("expected full session, got %q", session.Status)
		}
	})

	t.Run("eligibility", func(t *testing.T) {
		rec := srv.do(http.MethodGet, sessionPath+"/eligibility", "dave", nil)
		expectStatus(t, rec, http.StatusOK)
		if body := decodeBody[eligibilityResponse](t, rec); !body.CanJoin || !body.WouldBeWaiting {
			t.Fatalf("unexpected eligibility %#v", body)
		}

		rec = srv.do(http.MethodGet, sessionPath+"/eligibility", "carol", nil)
		expectStatus(t, rec, http.StatusOK)
		if body := decodeBody[eligibilityResponse](t, rec); body.CanJoin || body.Reason == "" {
			t.Fatalf("unexpected eligibility %#v", body)
		}
	})

	t.Run("roster keeps join order", func(t *testing.T) {
		rec := srv.do(http.MethodGet, sessionPath+"/participants", "alice", nil)
		expectStatus(t, rec, http.StatusOK)
		roster := decodeBody[[]participantDTO](t, rec)
		if len(roster) != 3 || roster[0].UserID != "alice" || roster[2].UserID != "carol" || roster[2].Status != "waiting" {
			t.Fatalf("unexpected roster %#v", roster)
		}
	})

	t.Run("leaving promotes the first waiting participant", func(t *testing.T) {
		rec := srv.do(http.MethodDelete, sessionPath+"/participants/me", "alice", nil)
		expectStatus(t, rec, http.StatusOK)
		body := decodeBody[leaveResponse](t, rec)
		if body.Promoted == nil || body.Promoted.UserID != "carol" || body.Promoted.Status != "confirmed" {
			t.Fatalf("unexpected promotion %#v", body.Promoted)
		}

		rec = srv.do(http.MethodGet, sessionPath+"/participants/me", "alice", nil)
		expectStatus(t, rec, http.StatusNotFound)
		if body := decodeBody[errorResponse](t, rec); body.ErrorCode != "NOT_REGISTERED" {
			t.Fatalf("unexpected error code %q", body.ErrorCode)
		}

		rec = srv.do(http.MethodGet, sessionPath+"/participants/me", "carol", nil)
		expectStatus(t, rec, http.StatusOK)
		if me := decodeBody[participantDTO](t, rec); me.Status != "confirmed" {
			t.Fatalf("expected carol confirmed, got %q", me.Status)
		}
	})

	t.Run("capacity increase promotes waiting participants", func(t *testing.T) {
		expectStatus(t, srv.do(http.MethodPost, sessionPath+"/participants", "dave", nil), http.StatusCreated)
		expectStatus(t, srv.do(http.MethodPut, sessionPath+"/capacity", "bob", capacityRequest{MaxPlayers: 5}), http.StatusForbidden)
		expectStatus(t, srv.do(http.MethodPut, sessionPath+"/capacity", "owner", capacityRequest{MaxPlayers: 1}), http.StatusUnprocessableEntity)

		rec := srv.do(http.MethodPut, sessionPath+"/capacity", "owner", capacityRequest{MaxPlayers: 5})
		expectStatus(t, rec, http.StatusOK)
		body := decodeBody[capacityResponse](t, rec)
		if body.Session.MaxPlayers != 5 || len(body.Promoted) != 1 || body.Promoted[0].UserID != "dave" {
			t.Fatalf("unexpected capacity response %#v", body)
		}
	})

	t.Run("my participations", func(t *testing.T) {
		rec := srv.do(http.MethodGet, "/me/participations", "bob", nil)
		expectStatus(t, rec, http.StatusOK)
		if list := decodeBody[[]participantDTO](t, rec); len(list) != 1 || list[0].SessionID != created.Sessions[0].ID {
			t.Fatalf("unexpected participations %#v", list)
		}
	})

	t.Run("cancelled sessions reject joins", func(t *testing.T) {
		expectStatus(t, srv.do(http.MethodPost, sessionPath+"/cancel", "bob", nil), http.StatusForbidden)

		rec := srv.do(http.MethodPost, sessionPath+"/cancel", "owner", nil)
		expectStatus(t, rec, http.StatusOK)
		if session := decodeBody[sessionDTO](t, rec); !session.IsCancelled {
			t.Fatalf("expected cancelled session")
		}

		rec = srv.do(http.MethodPost, sessionPath+"/participants", "erin", nil)
		expectStatus(t, rec, http.StatusConflict)
		if body := decodeBody[errorResponse](t, rec); body.ErrorCode != "SESSION_CANCELLED" {
			t.Fatalf("unexpected error code %q", body.ErrorCode)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		rec := srv.do(http.MethodPost, "/sessions/missing/participants", "alice", nil)
		expectStatus(t, rec, http.StatusNotFound)
		if body := decodeBody[errorResponse](t, rec); body.ErrorCode != "SESSION_NOT_FOUND" {
			t.Fatalf("unexpected error code %q", body.ErrorCode)
		}
	})

	t.Run("past sessions reject joins", func(t *testing.T) {
		srv.factory.Clock.Advance(30 * 24 * time.Hour)
		rec := srv.do(http.MethodPost, "/sessions/"+created.Sessions[1].ID+"/participants", "frank", nil)
		expectStatus(t, rec, http.StatusConflict)
		if body := decodeBody[errorResponse](t, rec); body.ErrorCode != "SESSION_IN_PAST" {
			t.Fatalf("unexpected error code %q", body.ErrorCode)
		}
	})
}

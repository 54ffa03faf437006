package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/sport-scheduler/internal/persistence"
	"github.com/example/sport-scheduler/internal/persistence/memory"
	"github.com/example/sport-scheduler/internal/recurrence"
	"github.com/example/sport-scheduler/internal/scheduler"
)

// activityNow is a Monday; sessions on Tuesday noon are 27 hours away.
var activityNow = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

type activityHarness struct {
	store *memory.Storage
	svc   *ActivityService
	codes *JoinCodes

	mu  sync.Mutex
	now time.Time
	ids int
}

func newActivityHarness(t *testing.T, opts ...ActivityOption) *activityHarness {
	t.Helper()
	h := &activityHarness{store: memory.New(), now: activityNow}
	clock := func() time.Time {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.now
	}
	nextID := func() string {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.ids++
		return fmt.Sprintf("id-%d", h.ids)
	}
	validator := scheduler.NewValidator(scheduler.DefaultConstraints(), clock, time.UTC)
	engine := recurrence.NewEngine(time.UTC, clock, scheduler.DefaultConstraints().MaxAdvance)
	h.codes = NewJoinCodes("secret", testArgon2idParams)
	h.svc = NewActivityServiceWithLogger(h.store, validator, engine, h.codes, nextID, clock, discardLogger(), opts...)
	return h
}

func (h *activityHarness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func validActivityInput() ActivityInput {
	return ActivityInput{
		Name:          "  Lunch basketball ",
		Description:   "Half court",
		Sport:         "Basketball",
		MinPlayers:    4,
		MaxPlayers:    10,
		RecurringType: "weekly",
		RecurringDays: []time.Weekday{time.Thursday, time.Tuesday, time.Tuesday},
		StartTime:     "12:30",
		IsPublic:      true,
	}
}

func (h *activityHarness) create(t *testing.T, owner string, mutate func(*ActivityInput)) ActivityCreated {
	t.Helper()
	input := validActivityInput()
	if mutate != nil {
		mutate(&input)
	}
	created, err := h.svc.CreateActivity(context.Background(), CreateActivityParams{
		Principal: Principal{UserID: owner},
		Input:     input,
	})
	if err != nil {
		t.Fatalf("CreateActivity returned error: %v", err)
	}
	return created
}

func TestActivityService_CreateActivity(t *testing.T) {
	t.Parallel()

	t.Run("normalises input and generates sessions", func(t *testing.T) {
		h := newActivityHarness(t)
		created := h.create(t, "owner", nil)

		a := created.Activity
		if a.Name != "Lunch basketball" || a.Sport != persistence.SportBasketball || a.StartTime != "12:30" {
			t.Fatalf("unexpected activity %#v", a)
		}
		if fmt.Sprint(a.RecurringDays) != fmt.Sprint([]time.Weekday{time.Tuesday, time.Thursday}) {
			t.Fatalf("unexpected recurring days %v", a.RecurringDays)
		}
		if created.JoinCode == "" || a.JoinCodeDigest == "" || a.JoinCodeDigest == created.JoinCode {
			t.Fatalf("expected plain code and digest, got %q %q", created.JoinCode, a.JoinCodeDigest)
		}

		want := []time.Time{
			time.Date(2025, time.March, 4, 12, 30, 0, 0, time.UTC),
			time.Date(2025, time.March, 6, 12, 30, 0, 0, time.UTC),
			time.Date(2025, time.March, 11, 12, 30, 0, 0, time.UTC),
			time.Date(2025, time.March, 13, 12, 30, 0, 0, time.UTC),
		}
		if len(created.Sessions) != len(want) {
			t.Fatalf("expected %d sessions, got %d", len(want), len(created.Sessions))
		}
		for i, s := range created.Sessions {
			if !s.StartsAt.Equal(want[i]) || s.MaxPlayers != 10 || s.ActivityID != a.ID {
				t.Fatalf("unexpected session %d: %#v", i, s)
			}
		}
	})

	t.Run("monthly uses the first matching weekday", func(t *testing.T) {
		h := newActivityHarness(t)
		created := h.create(t, "owner", func(in *ActivityInput) {
			in.RecurringType = "monthly"
			in.RecurringDays = []time.Weekday{time.Tuesday}
		})
		if len(created.Sessions) != 1 || created.Sessions[0].StartsAt.Day() != 4 {
			t.Fatalf("unexpected sessions %#v", created.Sessions)
		}
	})

	t.Run("reports every validation failure", func(t *testing.T) {
		h := newActivityHarness(t)
		_, err := h.svc.CreateActivity(context.Background(), CreateActivityParams{
			Principal: Principal{UserID: "owner"},
			Input: ActivityInput{
				Sport:         "curling",
				MinPlayers:    12,
				MaxPlayers:    10,
				RecurringType: "daily",
				RecurringDays: []time.Weekday{time.Saturday},
				StartTime:     "14:00",
			},
		})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected validation error, got %v", err)
		}
		for _, field := range []string{"name", "sport", "minPlayers", "recurringType", "recurringDays", "startTime"} {
			if _, ok := vErr.FieldErrors[field]; !ok {
				t.Fatalf("expected %s error, got %#v", field, vErr.FieldErrors)
			}
		}
	})

	t.Run("requires a principal", func(t *testing.T) {
		h := newActivityHarness(t)
		_, err := h.svc.CreateActivity(context.Background(), CreateActivityParams{Input: validActivityInput()})
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("retries join code collisions", func(t *testing.T) {
		h := newActivityHarness(t)
		h.codes.random = bytes.NewReader(make([]byte, JoinCodeLength))
		first := h.create(t, "owner", nil)

		second := bytes.Repeat([]byte{1}, JoinCodeLength)
		h.codes.random = bytes.NewReader(append(make([]byte, JoinCodeLength), second...))
		retried := h.create(t, "owner", nil)

		if first.JoinCode != "AAAAAAAA" || retried.JoinCode != "BBBBBBBB" {
			t.Fatalf("unexpected codes %q %q", first.JoinCode, retried.JoinCode)
		}
	})
}

// failingSessionStore rejects session inserts while failing is set.
type failingSessionStore struct {
	*memory.Storage
	mu      sync.Mutex
	failing bool
	created int
}

func (f *failingSessionStore) CreateSession(ctx context.Context, session persistence.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing && f.created >= 1 {
		return errors.New("disk full")
	}
	f.created++
	return f.Storage.CreateSession(ctx, session)
}

func TestActivityService_CreateActivityKeepsJoinCodeWhenSessionsFail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clock := func() time.Time { return activityNow }
	ids := 0
	nextID := func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}
	store := &failingSessionStore{Storage: memory.New(), failing: true}
	validator := scheduler.NewValidator(scheduler.DefaultConstraints(), clock, time.UTC)
	engine := recurrence.NewEngine(time.UTC, clock, scheduler.DefaultConstraints().MaxAdvance)
	svc := NewActivityServiceWithLogger(store, validator, engine, NewJoinCodes("secret", testArgon2idParams), nextID, clock, discardLogger())

	created, err := svc.CreateActivity(ctx, CreateActivityParams{Principal: Principal{UserID: "owner"}, Input: validActivityInput()})
	if err != nil {
		t.Fatalf("CreateActivity returned error: %v", err)
	}
	if created.JoinCode == "" || created.Activity.ID == "" {
		t.Fatalf("expected stored activity and join code, got %#v", created)
	}
	if len(created.Sessions) != 1 {
		t.Fatalf("expected the session created before the failure, got %d", len(created.Sessions))
	}
	if _, err := svc.FindActivityByJoinCode(ctx, created.JoinCode); err != nil {
		t.Fatalf("join code should resolve the stored activity: %v", err)
	}

	store.mu.Lock()
	store.failing = false
	store.mu.Unlock()

	filled, err := svc.ExtendSessions(ctx, created.Activity.ID)
	if err != nil {
		t.Fatalf("ExtendSessions returned error: %v", err)
	}
	if len(filled) != 3 {
		t.Fatalf("expected the remaining 3 sessions to be created, got %d", len(filled))
	}
}

func TestActivityService_Visibility(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newActivityHarness(t)
	public := h.create(t, "alice", func(in *ActivityInput) { in.Sport = "tennis" })
	private := h.create(t, "bob", func(in *ActivityInput) { in.IsPublic = false })

	t.Run("private activities are hidden", func(t *testing.T) {
		if _, err := h.svc.GetVisibleActivity(ctx, Principal{UserID: "alice"}, private.Activity.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		for _, p := range []Principal{{UserID: "bob"}, {UserID: "root", IsAdmin: true}} {
			if _, err := h.svc.GetVisibleActivity(ctx, p, private.Activity.ID); err != nil {
				t.Fatalf("GetVisibleActivity(%s) returned error: %v", p.UserID, err)
			}
		}
	})

	t.Run("listing filters", func(t *testing.T) {
		cases := []struct {
			name      string
			principal Principal
			filter    ActivityListFilter
			want      int
		}{
			{name: "other user", principal: Principal{UserID: "carol"}, want: 1},
			{name: "owner", principal: Principal{UserID: "bob"}, want: 2},
			{name: "admin", principal: Principal{UserID: "root", IsAdmin: true}, want: 2},
			{name: "mine", principal: Principal{UserID: "bob"}, filter: ActivityListFilter{Mine: true}, want: 1},
			{name: "sport", principal: Principal{UserID: "bob"}, filter: ActivityListFilter{Sport: "Tennis"}, want: 1},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				list, err := h.svc.ListActivities(ctx, tc.principal, tc.filter)
				if err != nil {
					t.Fatalf("ListActivities returned error: %v", err)
				}
				if len(list) != tc.want {
					t.Fatalf("expected %d activities, got %d", tc.want, len(list))
				}
			})
		}
	})

	t.Run("join code reaches private activities", func(t *testing.T) {
		found, err := h.svc.FindActivityByJoinCode(ctx, private.JoinCode)
		if err != nil {
			t.Fatalf("FindActivityByJoinCode returned error: %v", err)
		}
		if found.ID != private.Activity.ID {
			t.Fatalf("unexpected activity %q", found.ID)
		}
		if _, err := h.svc.FindActivityByJoinCode(ctx, "nope"); !errors.Is(err, ErrInvalidJoinCode) {
			t.Fatalf("expected ErrInvalidJoinCode, got %v", err)
		}
	})

	t.Run("rotation invalidates the old code", func(t *testing.T) {
		if _, err := h.svc.RotateJoinCode(ctx, Principal{UserID: "carol"}, public.Activity.ID); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		code, err := h.svc.RotateJoinCode(ctx, Principal{UserID: "alice"}, public.Activity.ID)
		if err != nil {
			t.Fatalf("RotateJoinCode returned error: %v", err)
		}
		if _, err := h.svc.FindActivityByJoinCode(ctx, public.JoinCode); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected old code to be gone, got %v", err)
		}
		if _, err := h.svc.FindActivityByJoinCode(ctx, code); err != nil {
			t.Fatalf("new code does not resolve: %v", err)
		}
	})
}

func TestActivityService_DeleteActivity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newActivityHarness(t)
	created := h.create(t, "alice", nil)

	for _, p := range []Principal{{UserID: "bob"}, {UserID: "root", IsAdmin: true}} {
		if err := h.svc.DeleteActivity(ctx, p, created.Activity.ID); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("DeleteActivity(%s) = %v, want ErrUnauthorized", p.UserID, err)
		}
	}
	if err := h.svc.DeleteActivity(ctx, Principal{UserID: "alice"}, created.Activity.ID); err != nil {
		t.Fatalf("DeleteActivity returned error: %v", err)
	}
	if _, err := h.svc.GetSession(ctx, created.Sessions[0].ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected sessions to be removed, got %v", err)
	}
	if err := h.svc.DeleteActivity(ctx, Principal{UserID: "alice"}, created.Activity.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActivityService_SessionManagement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newActivityHarness(t)
	created := h.create(t, "alice", func(in *ActivityInput) { in.MinPlayers, in.MaxPlayers = 2, 2 })
	session := created.Sessions[0]
	participation := newTestParticipationService(h.store, activityNow)
	for _, user := range []string{"p1", "p2", "p3", "p4"} {
		if _, err := participation.JoinSession(ctx, session.ID, user); err != nil {
			t.Fatalf("JoinSession returned error: %v", err)
		}
	}

	t.Run("session view", func(t *testing.T) {
		view, err := h.svc.GetSession(ctx, session.ID)
		if err != nil {
			t.Fatalf("GetSession returned error: %v", err)
		}
		if view.Status != SessionFull || view.Stats.WaitingCount != 2 {
			t.Fatalf("unexpected view %#v", view)
		}

		views, err := h.svc.ListSessions(ctx, created.Activity.ID)
		if err != nil {
			t.Fatalf("ListSessions returned error: %v", err)
		}
		if len(views) != len(created.Sessions) || views[1].Status != SessionOpen {
			t.Fatalf("unexpected views %#v", views)
		}
	})

	t.Run("capacity updates", func(t *testing.T) {
		if _, err := h.svc.UpdateSessionCapacity(ctx, Principal{UserID: "bob"}, session.ID, 3); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		var vErr *ValidationError
		if _, err := h.svc.UpdateSessionCapacity(ctx, Principal{UserID: "alice"}, session.ID, 101); !errors.As(err, &vErr) {
			t.Fatalf("expected validation error, got %v", err)
		}

		update, err := h.svc.UpdateSessionCapacity(ctx, Principal{UserID: "alice"}, session.ID, 3)
		if err != nil {
			t.Fatalf("UpdateSessionCapacity returned error: %v", err)
		}
		if update.Session.MaxPlayers != 3 || len(update.Promoted) != 1 || update.Promoted[0].UserID != "p3" {
			t.Fatalf("unexpected update %#v", update)
		}

		// p1 leaves; p4 is promoted. Shrinking below the three confirmed must fail.
		if _, err := participation.LeaveSession(ctx, session.ID, "p1"); err != nil {
			t.Fatalf("LeaveSession returned error: %v", err)
		}
		if _, err := h.svc.UpdateSessionCapacity(ctx, Principal{UserID: "alice"}, session.ID, 2); !errors.As(err, &vErr) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("cancel is idempotent and owner only", func(t *testing.T) {
		if _, err := h.svc.CancelSession(ctx, Principal{UserID: "bob"}, session.ID); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		for i := 0; i < 2; i++ {
			cancelled, err := h.svc.CancelSession(ctx, Principal{UserID: "root", IsAdmin: true}, session.ID)
			if err != nil {
				t.Fatalf("CancelSession returned error: %v", err)
			}
			if !cancelled.IsCancelled {
				t.Fatalf("expected cancelled session")
			}
		}
		view, err := h.svc.GetSession(ctx, session.ID)
		if err != nil {
			t.Fatalf("GetSession returned error: %v", err)
		}
		if view.Status != SessionCancelled {
			t.Fatalf("expected cancelled status, got %s", view.Status)
		}
		if _, err := h.svc.CancelSession(ctx, Principal{UserID: "alice"}, "missing"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})
}

func TestActivityService_ExtendSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("adds sessions entering the horizon once", func(t *testing.T) {
		h := newActivityHarness(t)
		created := h.create(t, "alice", nil)

		again, err := h.svc.ExtendSessions(ctx, created.Activity.ID)
		if err != nil {
			t.Fatalf("ExtendSessions returned error: %v", err)
		}
		if len(again) != 0 {
			t.Fatalf("expected no new sessions, got %d", len(again))
		}

		h.advance(7 * 24 * time.Hour)
		if _, err := h.svc.ExtendOwnedSessions(ctx, Principal{UserID: "bob"}, created.Activity.ID); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		added, err := h.svc.ExtendOwnedSessions(ctx, Principal{UserID: "root", IsAdmin: true}, created.Activity.ID)
		if err != nil {
			t.Fatalf("ExtendOwnedSessions returned error: %v", err)
		}
		// Tuesday the 18th and Thursday the 20th.
		if len(added) != 2 || added[0].StartsAt.Day() != 18 || added[1].StartsAt.Day() != 20 {
			t.Fatalf("unexpected sessions %#v", added)
		}
	})

	t.Run("extends every activity and counts failures", func(t *testing.T) {
		h := newActivityHarness(t, WithExtendConcurrency(2))
		for i := 0; i < 3; i++ {
			h.create(t, fmt.Sprintf("owner-%d", i), nil)
		}
		broken := persistence.Activity{
			ID:            "broken",
			Name:          "Broken",
			Sport:         persistence.SportOther,
			MinPlayers:    2,
			MaxPlayers:    4,
			RecurringType: "fortnightly",
			RecurringDays: []time.Weekday{time.Monday},
			StartTime:     "12:00",
			CreatedBy:     "owner",
			IsPublic:      true,
			CreatedAt:     activityNow,
			UpdatedAt:     activityNow,
		}
		if err := h.store.CreateActivity(ctx, broken); err != nil {
			t.Fatalf("CreateActivity returned error: %v", err)
		}

		h.advance(7 * 24 * time.Hour)
		summary, err := h.svc.ExtendAllSessions(ctx)
		if err != nil {
			t.Fatalf("ExtendAllSessions returned error: %v", err)
		}
		if summary != (ExtendSummary{Activities: 4, Created: 6, Failed: 1}) {
			t.Fatalf("unexpected summary %#v", summary)
		}
	})

	t.Run("unknown activity", func(t *testing.T) {
		h := newActivityHarness(t)
		if _, err := h.svc.ExtendSessions(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

// Package storetest holds the behavioural contract every persistence.Store
// backend must satisfy.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/sport-scheduler/internal/persistence"
)

// Factory returns a fresh, empty store. The factory owns cleanup.
type Factory func(t *testing.T) persistence.Store

var base = time.Date(2025, time.January, 13, 9, 0, 0, 0, time.UTC)

// Run executes the contract suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("activities", func(t *testing.T) { testActivities(t, newStore(t)) })
	t.Run("sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("cascade delete", func(t *testing.T) { testCascadeDelete(t, newStore(t)) })
	t.Run("session lock commits and rolls back", func(t *testing.T) { testSessionLock(t, newStore(t)) })
	t.Run("participant ordering", func(t *testing.T) { testParticipantOrdering(t, newStore(t)) })
	t.Run("concurrent capacity", func(t *testing.T) { testConcurrentCapacity(t, newStore(t)) })
	t.Run("concurrent leaves promote in order", func(t *testing.T) { testConcurrentLeaves(t, newStore(t)) })
}

// Activity returns a valid activity fixture.
func Activity(id, owner string) persistence.Activity {
	return persistence.Activity{
		ID:             id,
		Name:           "Lunch football " + id,
		Description:    "five a side",
		Sport:          persistence.SportFootball,
		MinPlayers:     4,
		MaxPlayers:     10,
		RecurringType:  "weekly",
		RecurringDays:  []time.Weekday{time.Tuesday, time.Thursday},
		StartTime:      "12:30",
		CreatedBy:      owner,
		IsPublic:       true,
		JoinCodeDigest: "digest-" + id,
		CreatedAt:      base,
		UpdatedAt:      base,
	}
}

// Session returns a session fixture for activityID starting offset days after the base time.
func Session(id, activityID string, offsetDays, maxPlayers int) persistence.Session {
	return persistence.Session{
		ID:         id,
		ActivityID: activityID,
		StartsAt:   base.AddDate(0, 0, offsetDays).Add(3*time.Hour + 30*time.Minute),
		MaxPlayers: maxPlayers,
		CreatedAt:  base,
	}
}

func mustCreate(t *testing.T, store persistence.Store, activity persistence.Activity, sessions ...persistence.Session) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateActivity(ctx, activity); err != nil {
		t.Fatalf("CreateActivity failed: %v", err)
	}
	for _, session := range sessions {
		if err := store.CreateSession(ctx, session); err != nil {
			t.Fatalf("CreateSession(%s) failed: %v", session.ID, err)
		}
	}
}

func testActivities(t *testing.T, store persistence.Store) {
	ctx := context.Background()

	public := Activity("act-1", "owner-1")
	private := Activity("act-2", "owner-2")
	private.IsPublic = false
	private.Sport = persistence.SportTennis
	private.CreatedAt = base.Add(time.Minute)
	mustCreate(t, store, public)
	mustCreate(t, store, private)

	fetched, err := store.GetActivity(ctx, "act-1")
	if err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	if fetched.Name != public.Name || len(fetched.RecurringDays) != 2 || fetched.RecurringDays[1] != time.Thursday {
		t.Fatalf("unexpected activity: %#v", fetched)
	}
	if !fetched.CreatedAt.Equal(base) {
		t.Fatalf("expected CreatedAt %s, got %s", base, fetched.CreatedAt)
	}

	if _, err := store.GetActivity(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	byCode, err := store.GetActivityByJoinCode(ctx, "digest-act-2")
	if err != nil || byCode.ID != "act-2" {
		t.Fatalf("GetActivityByJoinCode returned %#v, %v", byCode, err)
	}

	visible, err := store.ListActivities(ctx, persistence.ActivityFilter{VisibleTo: "owner-1"})
	if err != nil {
		t.Fatalf("ListActivities failed: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != "act-1" {
		t.Fatalf("expected only the public activity, got %#v", visible)
	}

	all, err := store.ListActivities(ctx, persistence.ActivityFilter{VisibleTo: "owner-2"})
	if err != nil {
		t.Fatalf("ListActivities failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "act-1" || all[1].ID != "act-2" {
		t.Fatalf("expected both activities in creation order, got %#v", all)
	}

	tennis, err := store.ListActivities(ctx, persistence.ActivityFilter{Sport: persistence.SportTennis})
	if err != nil || len(tennis) != 1 {
		t.Fatalf("sport filter returned %#v, %v", tennis, err)
	}

	if err := store.UpdateJoinCode(ctx, "act-1", "digest-act-2", base); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reused digest, got %v", err)
	}
	if err := store.UpdateJoinCode(ctx, "act-1", "rotated", base.Add(time.Hour)); err != nil {
		t.Fatalf("UpdateJoinCode failed: %v", err)
	}
	if _, err := store.GetActivityByJoinCode(ctx, "digest-act-1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected old digest to be gone, got %v", err)
	}
	if err := store.UpdateJoinCode(ctx, "missing", "x", base); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testSessions(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	mustCreate(t, store, Activity("act-1", "owner-1"),
		Session("s-2", "act-1", 7, 10),
		Session("s-1", "act-1", 1, 10),
	)

	dup := Session("s-3", "act-1", 1, 10)
	if err := store.CreateSession(ctx, dup); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same start, got %v", err)
	}
	orphan := Session("s-4", "missing", 2, 10)
	if err := store.CreateSession(ctx, orphan); !errors.Is(err, persistence.ErrForeignKeyViolation) {
		t.Fatalf("expected ErrForeignKeyViolation, got %v", err)
	}

	sessions, err := store.ListSessionsForActivity(ctx, "act-1")
	if err != nil {
		t.Fatalf("ListSessionsForActivity failed: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "s-1" || sessions[1].ID != "s-2" {
		t.Fatalf("expected sessions ordered by start, got %#v", sessions)
	}

	fetched, err := store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !fetched.StartsAt.Equal(sessions[0].StartsAt) || fetched.MaxPlayers != 10 || fetched.IsCancelled {
		t.Fatalf("unexpected session: %#v", fetched)
	}
	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testCascadeDelete(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	mustCreate(t, store, Activity("act-1", "owner-1"), Session("s-1", "act-1", 1, 10))

	err := store.WithSessionLock(ctx, "s-1", func(tx persistence.SessionTx) error {
		_, err := tx.InsertParticipant(persistence.Participant{UserID: "u-1", Status: persistence.StatusConfirmed, JoinedAt: base})
		return err
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := store.DeleteActivity(ctx, "act-1"); err != nil {
		t.Fatalf("DeleteActivity failed: %v", err)
	}
	if _, err := store.GetSession(ctx, "s-1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected session to be deleted, got %v", err)
	}
	participations, err := store.ListParticipationsForUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("ListParticipationsForUser failed: %v", err)
	}
	if len(participations) != 0 {
		t.Fatalf("expected participants to be deleted, got %#v", participations)
	}
	if err := store.DeleteActivity(ctx, "act-1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func testSessionLock(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	mustCreate(t, store, Activity("act-1", "owner-1"), Session("s-1", "act-1", 1, 2))

	if err := store.WithSessionLock(ctx, "missing", func(persistence.SessionTx) error { return nil }); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing session, got %v", err)
	}

	rollback := errors.New("rollback")
	err := store.WithSessionLock(ctx, "s-1", func(tx persistence.SessionTx) error {
		if _, err := tx.InsertParticipant(persistence.Participant{UserID: "u-1", Status: persistence.StatusConfirmed, JoinedAt: base}); err != nil {
			return err
		}
		if err := tx.Cancel(); err != nil {
			return err
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("expected rollback error, got %v", err)
	}
	participants, err := store.ListParticipants(ctx, "s-1")
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	if len(participants) != 0 {
		t.Fatalf("expected rollback to discard inserts, got %#v", participants)
	}
	session, _ := store.GetSession(ctx, "s-1")
	if session.IsCancelled {
		t.Fatalf("expected rollback to discard cancel")
	}

	err = store.WithSessionLock(ctx, "s-1", func(tx persistence.SessionTx) error {
		inserted, err := tx.InsertParticipant(persistence.Participant{UserID: "u-1", Status: persistence.StatusWaiting, JoinedAt: base})
		if err != nil {
			return err
		}
		if inserted.Seq == 0 || inserted.SessionID != "s-1" {
			return fmt.Errorf("unexpected inserted participant %#v", inserted)
		}
		if _, err := tx.InsertParticipant(persistence.Participant{UserID: "u-1", Status: persistence.StatusWaiting, JoinedAt: base}); !errors.Is(err, persistence.ErrDuplicate) {
			return fmt.Errorf("expected ErrDuplicate, got %v", err)
		}
		if err := tx.SetParticipantStatus("u-1", persistence.StatusConfirmed); err != nil {
			return err
		}
		if err := tx.DeleteParticipant("ghost"); !errors.Is(err, persistence.ErrNotFound) {
			return fmt.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := tx.SetMaxPlayers(5); err != nil {
			return err
		}
		if tx.Session().MaxPlayers != 5 {
			return fmt.Errorf("expected tx session to reflect new capacity")
		}
		return tx.Cancel()
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	session, err = store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !session.IsCancelled || session.MaxPlayers != 5 {
		t.Fatalf("expected committed session changes, got %#v", session)
	}
	participants, _ = store.ListParticipants(ctx, "s-1")
	if len(participants) != 1 || participants[0].Status != persistence.StatusConfirmed {
		t.Fatalf("expected confirmed participant, got %#v", participants)
	}

	err = store.WithSessionLock(ctx, "s-1", func(tx persistence.SessionTx) error {
		return tx.DeleteParticipant("u-1")
	})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	participants, _ = store.ListParticipants(ctx, "s-1")
	if len(participants) != 0 {
		t.Fatalf("expected participant removed, got %#v", participants)
	}
}

func testParticipantOrdering(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	mustCreate(t, store, Activity("act-1", "owner-1"),
		Session("s-1", "act-1", 1, 10),
		Session("s-2", "act-1", 2, 10),
	)

	// Same JoinedAt for b and c, so Seq decides; a joined later than both.
	joins := []persistence.Participant{
		{UserID: "b", Status: persistence.StatusWaiting, JoinedAt: base},
		{UserID: "c", Status: persistence.StatusWaiting, JoinedAt: base},
		{UserID: "a", Status: persistence.StatusWaiting, JoinedAt: base.Add(time.Second)},
	}
	for _, p := range joins {
		p := p
		err := store.WithSessionLock(ctx, "s-1", func(tx persistence.SessionTx) error {
			_, err := tx.InsertParticipant(p)
			return err
		})
		if err != nil {
			t.Fatalf("insert %s failed: %v", p.UserID, err)
		}
	}
	err := store.WithSessionLock(ctx, "s-2", func(tx persistence.SessionTx) error {
		_, err := tx.InsertParticipant(persistence.Participant{UserID: "b", Status: persistence.StatusConfirmed, JoinedAt: base.Add(-time.Hour)})
		return err
	})
	if err != nil {
		t.Fatalf("insert into s-2 failed: %v", err)
	}

	participants, err := store.ListParticipants(ctx, "s-1")
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	order := make([]string, 0, len(participants))
	for _, p := range participants {
		order = append(order, p.UserID)
	}
	if fmt.Sprint(order) != "[b c a]" {
		t.Fatalf("expected order [b c a], got %v", order)
	}
	if !participants[0].JoinedAt.Equal(base) {
		t.Fatalf("expected JoinedAt to round-trip, got %s", participants[0].JoinedAt)
	}

	err = store.WithSessionLock(ctx, "s-1", func(tx persistence.SessionTx) error {
		inTx, err := tx.ListParticipants()
		if err != nil {
			return err
		}
		if len(inTx) != 3 || inTx[0].UserID != "b" || inTx[2].UserID != "a" {
			return fmt.Errorf("unexpected in-transaction order %#v", inTx)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("in-transaction listing failed: %v", err)
	}

	mine, err := store.ListParticipationsForUser(ctx, "b")
	if err != nil {
		t.Fatalf("ListParticipationsForUser failed: %v", err)
	}
	if len(mine) != 2 || mine[0].SessionID != "s-2" {
		t.Fatalf("expected both enrollments ordered by join time, got %#v", mine)
	}
}

func testConcurrentCapacity(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	const capacity = 3
	const users = 12
	mustCreate(t, store, Activity("act-1", "owner-1"), Session("s-1", "act-1", 1, capacity))

	var wg sync.WaitGroup
	errs := make(chan error, users)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%02d", i)
			for attempt := 0; attempt < 20; attempt++ {
				err := store.WithSessionLock(ctx, "s-1", func(tx persistence.SessionTx) error {
					participants, err := tx.ListParticipants()
					if err != nil {
						return err
					}
					confirmed, _ := persistence.CountByStatus(participants)
					status := persistence.StatusWaiting
					if confirmed < tx.Session().MaxPlayers {
						status = persistence.StatusConfirmed
					}
					_, err = tx.InsertParticipant(persistence.Participant{UserID: userID, Status: status, JoinedAt: base})
					return err
				})
				if errors.Is(err, persistence.ErrConflict) {
					time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
					continue
				}
				errs <- err
				return
			}
			errs <- fmt.Errorf("%s: gave up after repeated conflicts", userID)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent insert failed: %v", err)
		}
	}

	participants, err := store.ListParticipants(ctx, "s-1")
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	confirmed, waiting := persistence.CountByStatus(participants)
	if confirmed != capacity || waiting != users-capacity {
		t.Fatalf("expected %d confirmed and %d waiting, got %d and %d", capacity, users-capacity, confirmed, waiting)
	}
}

// withRetry repeats a session transaction while the store reports a conflict.
func withRetry(ctx context.Context, store persistence.Store, sessionID string, fn func(tx persistence.SessionTx) error) error {
	for attempt := 0; attempt < 20; attempt++ {
		err := store.WithSessionLock(ctx, sessionID, fn)
		if !errors.Is(err, persistence.ErrConflict) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
	}
	return fmt.Errorf("session %s: gave up after repeated conflicts", sessionID)
}

func testConcurrentLeaves(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	const capacity = 3
	const users = 9
	mustCreate(t, store, Activity("act-1", "owner-1"), Session("s-1", "act-1", 1, capacity))

	err := store.WithSessionLock(ctx, "s-1", func(tx persistence.SessionTx) error {
		for i := 0; i < users; i++ {
			status := persistence.StatusWaiting
			if i < capacity {
				status = persistence.StatusConfirmed
			}
			if _, err := tx.InsertParticipant(persistence.Participant{
				UserID:   fmt.Sprintf("user-%02d", i),
				Status:   status,
				JoinedAt: base.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seeding participants failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, capacity)
	for i := 0; i < capacity; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			errs <- withRetry(ctx, store, "s-1", func(tx persistence.SessionTx) error {
				if err := tx.DeleteParticipant(userID); err != nil {
					return err
				}
				participants, err := tx.ListParticipants()
				if err != nil {
					return err
				}
				persistence.SortParticipants(participants)
				confirmed, _ := persistence.CountByStatus(participants)
				if confirmed >= tx.Session().MaxPlayers {
					return nil
				}
				for _, p := range participants {
					if p.Status == persistence.StatusWaiting {
						return tx.SetParticipantStatus(p.UserID, persistence.StatusConfirmed)
					}
				}
				return nil
			})
		}(fmt.Sprintf("user-%02d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent leave failed: %v", err)
		}
	}

	participants, err := store.ListParticipants(ctx, "s-1")
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	if len(participants) != users-capacity {
		t.Fatalf("expected %d participants, got %d", users-capacity, len(participants))
	}
	for i, p := range participants {
		wantUser := fmt.Sprintf("user-%02d", i+capacity)
		wantStatus := persistence.StatusWaiting
		if i < capacity {
			wantStatus = persistence.StatusConfirmed
		}
		if p.UserID != wantUser || p.Status != wantStatus {
			t.Fatalf("participant %d: got %s/%s, want %s/%s", i, p.UserID, p.Status, wantUser, wantStatus)
		}
	}
}

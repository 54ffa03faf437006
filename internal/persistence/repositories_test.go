package persistence_test

import (
	"testing"
	"time"

	"github.com/example/sport-scheduler/internal/persistence"
)

func TestActivityFilterMatches(t *testing.T) {
	t.Parallel()

	public := persistence.Activity{ID: "a", Sport: persistence.SportTennis, CreatedBy: "owner", IsPublic: true}
	private := persistence.Activity{ID: "b", Sport: persistence.SportFootball, CreatedBy: "owner"}

	cases := []struct {
		name     string
		filter   persistence.ActivityFilter
		activity persistence.Activity
		want     bool
	}{
		{"empty filter matches everything", persistence.ActivityFilter{}, private, true},
		{"sport mismatch", persistence.ActivityFilter{Sport: persistence.SportFootball}, public, false},
		{"creator match", persistence.ActivityFilter{CreatedBy: "owner"}, private, true},
		{"private hidden from others", persistence.ActivityFilter{VisibleTo: "someone"}, private, false},
		{"private visible to owner", persistence.ActivityFilter{VisibleTo: "owner"}, private, true},
		{"public visible to others", persistence.ActivityFilter{VisibleTo: "someone"}, public, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.filter.Matches(tc.activity); got != tc.want {
				t.Fatalf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSortParticipants(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, time.January, 13, 12, 0, 0, 0, time.UTC)
	participants := []persistence.Participant{
		{UserID: "late", Seq: 1, JoinedAt: at.Add(time.Second)},
		{UserID: "second", Seq: 7, JoinedAt: at},
		{UserID: "first", Seq: 3, JoinedAt: at},
	}
	persistence.SortParticipants(participants)

	want := []string{"first", "second", "late"}
	for i, p := range participants {
		if p.UserID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], p.UserID)
		}
	}
}

func TestCountByStatus(t *testing.T) {
	t.Parallel()

	confirmed, waiting := persistence.CountByStatus([]persistence.Participant{
		{Status: persistence.StatusConfirmed},
		{Status: persistence.StatusWaiting},
		{Status: persistence.StatusConfirmed},
	})
	if confirmed != 2 || waiting != 1 {
		t.Fatalf("expected 2 confirmed and 1 waiting, got %d and %d", confirmed, waiting)
	}
}

func TestSportValid(t *testing.T) {
	t.Parallel()

	if !persistence.SportTableTennis.Valid() {
		t.Fatalf("expected table_tennis to be valid")
	}
	if persistence.Sport("quidditch").Valid() {
		t.Fatalf("expected unknown sport to be invalid")
	}
}

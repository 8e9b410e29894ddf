package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"calgraph/graph"
	"calgraph/recurrence"
)

var fixedNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func testEngine() *Engine {
	return &Engine{Now: func() time.Time { return fixedNow }}
}

// seed builds a snapshot with three users in org-1 (the organizer, bob,
// carol), one user in org-2 (dave), and a personal calendar each.
func seed() *graph.Snapshot {
	snap := graph.NewSnapshot()
	snap.AddUser(&graph.User{ID: "u-org", Email: "org@acme.test", DisplayName: "Orla", OrganizationID: "org-1"})
	snap.AddUser(&graph.User{ID: "u-bob", Email: "bob@acme.test", DisplayName: "Bob", OrganizationID: "org-1"})
	snap.AddUser(&graph.User{ID: "u-carol", Email: "carol@acme.test", DisplayName: "Carol", OrganizationID: "org-1"})
	snap.AddUser(&graph.User{ID: "u-dave", Email: "dave@other.test", DisplayName: "Dave", OrganizationID: "org-2"})
	snap.AddCalendar(&graph.Calendar{ID: "cal-org", UserID: "u-org"})
	snap.AddCalendar(&graph.Calendar{ID: "cal-bob", UserID: "u-bob"})
	snap.AddCalendar(&graph.Calendar{ID: "cal-carol", UserID: "u-carol"})
	snap.AddCalendar(&graph.Calendar{ID: "cal-dave", UserID: "u-dave"})
	return snap
}

func rcOrg() RequestContext   { return RequestContext{UserID: "u-org", OrganizationID: "org-1"} }
func rcBob() RequestContext   { return RequestContext{UserID: "u-bob", OrganizationID: "org-1"} }
func rcCarol() RequestContext { return RequestContext{UserID: "u-carol", OrganizationID: "org-1"} }

func jan(day, hour int) time.Time {
	return time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC)
}

func dailyPattern(count int) *recurrence.Pattern {
	return &recurrence.Pattern{Freq: recurrence.Daily, Interval: 1, Count: count, TimeZone: "UTC"}
}

// createSeries creates a daily series (Jan 10, 10:00-11:00, count
// occurrences) in the organizer's calendar with bob invited.
func createSeries(t *testing.T, e *Engine, snap *graph.Snapshot, count int) *graph.Event {
	t.Helper()
	ev := &graph.Event{
		CalendarID: "cal-org",
		Title:      "standup",
		Start:      jan(10, 10),
		End:        jan(10, 11),
		Recurrence: dailyPattern(count),
	}
	_, err := e.Create(rcOrg(), snap, ev, []graph.AttendeeInput{
		{Email: "org@acme.test", Type: graph.TypeOrganizer},
		{Email: "bob@acme.test", Status: graph.StatusAccepted},
	})
	require.NoError(t, err)
	return ev
}

// createException overrides the Jan 12 occurrence, moving it to the
// afternoon.
func createException(t *testing.T, e *Engine, snap *graph.Snapshot, master *graph.Event) *graph.Event {
	t.Helper()
	os := jan(12, 10)
	exc := &graph.Event{
		CalendarID:       "cal-org",
		Title:            master.Title,
		Start:            jan(12, 15),
		End:              jan(12, 16),
		RecurringEventID: master.ID,
		OriginalStart:    &os,
	}
	_, err := e.Create(rcOrg(), snap, exc, nil)
	require.NoError(t, err)
	return exc
}

// childInCalendar finds the per-attendee copy of parent living in the
// given calendar.
func childInCalendar(snap *graph.Snapshot, parentID, calendarID string) *graph.Event {
	for _, c := range snap.ChildrenOf(parentID) {
		if c.CalendarID == calendarID {
			return c
		}
	}
	return nil
}

package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(day, hour int) time.Time {
	return time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC)
}

func TestSnapshot_Indices(t *testing.T) {
	s := NewSnapshot()

	master := &Event{ID: "m1", UID: "uid-1", CalendarID: "cal-org", Start: ts(1, 9), End: ts(1, 10)}
	os2 := ts(3, 9)
	os1 := ts(2, 9)
	exc1 := &Event{ID: "x1", UID: "uid-1", CalendarID: "cal-org", RecurringEventID: "m1", OriginalStart: &os1}
	exc2 := &Event{ID: "x2", UID: "uid-1", CalendarID: "cal-org", RecurringEventID: "m1", OriginalStart: &os2}
	child := &Event{ID: "c1", UID: "uid-1", CalendarID: "cal-bob", ParentEventID: "m1"}
	s.AddEvent(master)
	s.AddEvent(exc2)
	s.AddEvent(exc1)
	s.AddEvent(child)

	excs := s.ExceptionsOf("m1")
	require.Len(t, excs, 2)
	assert.Equal(t, "x1", excs[0].ID, "exceptions ordered by original start")
	assert.Equal(t, "x2", excs[1].ID)

	require.Len(t, s.ChildrenOf("m1"), 1)
	assert.Len(t, s.CopiesOf("uid-1"), 4)
	assert.Equal(t, child, s.CopyForCalendar("uid-1", "cal-bob"))
	assert.Nil(t, s.CopyForCalendar("uid-1", "cal-missing"))
	assert.Equal(t, exc1, s.ExceptionFor("m1", os1))
	assert.Nil(t, s.ExceptionFor("m1", ts(9, 9)))
}

func TestSnapshot_UsersAndCalendars(t *testing.T) {
	s := NewSnapshot()
	s.AddUser(&User{ID: "u1", Email: "Bob@Example.com", OrganizationID: "org-1"})
	s.AddCalendar(&Calendar{ID: "cal-1", UserID: "u1"})

	assert.NotNil(t, s.UserByEmail("bob@example.com"))
	assert.Equal(t, "cal-1", s.CalendarOf("u1").ID)

	ev := &Event{ID: "e1", CalendarID: "cal-1"}
	s.AddEvent(ev)
	owner := s.OwnerOf(ev)
	require.NotNil(t, owner)
	assert.Equal(t, "u1", owner.ID)
}

func TestSnapshot_ChangeTracking(t *testing.T) {
	s := NewSnapshot()
	persisted := &Event{ID: "p1"}
	s.AddEvent(persisted)

	fresh := &Event{ID: "n1"}
	s.Create(fresh)
	s.Update(fresh) // created records stay created
	s.Update(persisted)

	cs := s.Changes()
	require.Len(t, cs.Created, 1)
	assert.Equal(t, "n1", cs.Created[0].ID)
	require.Len(t, cs.Updated, 1)
	assert.Equal(t, "p1", cs.Updated[0].ID)
	assert.Empty(t, cs.Deleted)

	// Deleting an in-snapshot creation leaves no trace; deleting a
	// persisted record queues it.
	s.Delete("n1")
	s.Delete("p1")
	cs = s.Changes()
	assert.Empty(t, cs.Created)
	assert.Empty(t, cs.Updated)
	assert.Equal(t, []string{"p1"}, cs.Deleted)
	assert.Nil(t, s.Event("p1"))
}

func TestEvent_RosterHelpers(t *testing.T) {
	ev := &Event{Attendees: []*Attendee{
		{Email: "Org@example.com", Type: TypeOrganizer, UserID: "u-org"},
		{Email: "bob@example.com", Type: TypeRequired, UserID: "u-bob"},
	}}

	a, ok := ev.FindAttendee("ORG@EXAMPLE.COM")
	require.True(t, ok)
	assert.Equal(t, TypeOrganizer, a.Type)

	_, ok = ev.FindAttendee("nobody@example.com")
	assert.False(t, ok)

	b, ok := ev.AttendeeByUserID("u-bob")
	require.True(t, ok)
	assert.Equal(t, "bob@example.com", b.Email)

	other := &Event{Attendees: []*Attendee{
		{Email: "BOB@example.com"},
		{Email: "org@example.com"},
	}}
	assert.True(t, ev.RosterEquals(other))

	other.Attendees = other.Attendees[:1]
	assert.False(t, ev.RosterEquals(other))
}

func TestEvent_Clone(t *testing.T) {
	os := ts(2, 9)
	ev := &Event{
		ID:            "e1",
		OriginalStart: &os,
		Attendees:     []*Attendee{{Email: "a@example.com"}},
	}
	c := ev.Clone()
	c.Attendees[0].Email = "b@example.com"
	*c.OriginalStart = ts(5, 9)

	assert.Equal(t, "a@example.com", ev.Attendees[0].Email)
	assert.True(t, ev.OriginalStart.Equal(os))
}

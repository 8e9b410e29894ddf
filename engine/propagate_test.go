package engine

import (
	"errors"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calgraph/graph"
	"calgraph/recurrence"
)

func TestPropagate_SimpleFieldCascade(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)

	res, err := e.Propagate(rcOrg(), snap, master.ID, graph.EventPatch{
		Title:            mo.Some("retro"),
		Description:      mo.Some("sprint retro"),
		BackgroundColor:  mo.Some("#00ff00"),
		UpdateExceptions: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "retro", master.Title)
	assert.Equal(t, "retro", exc.Title)
	assert.Equal(t, "sprint retro", exc.Description)
	assert.Equal(t, "#00ff00", exc.BackgroundColor)

	// The exception keeps its own moved start/end and roster.
	assert.True(t, exc.Start.Equal(jan(12, 15)))
	assert.True(t, exc.End.Equal(jan(12, 16)))
	assert.Len(t, exc.Attendees, 2)

	// Children mirror the cascade.
	bobMaster := childInCalendar(snap, master.ID, "cal-bob")
	require.NotNil(t, bobMaster)
	assert.Equal(t, "retro", bobMaster.Title)
	bobExc := childInCalendar(snap, exc.ID, "cal-bob")
	require.NotNil(t, bobExc)
	assert.Equal(t, "retro", bobExc.Title)
	assert.True(t, bobExc.Start.Equal(jan(12, 15)))

	assert.True(t, res.Notifiable, "bob needs notifying")
}

func TestPropagate_NoCascadeWithoutFlag(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)

	_, err := e.Propagate(rcOrg(), snap, master.ID, graph.EventPatch{
		Title: mo.Some("retro"),
	})
	require.NoError(t, err)

	assert.Equal(t, "retro", master.Title)
	assert.Equal(t, "standup", exc.Title, "exceptions untouched without updateExceptions")
}

func TestPropagate_ShorteningSeriesClearsExceptions(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)
	bobExc := childInCalendar(snap, exc.ID, "cal-bob")
	require.NotNil(t, bobExc)

	_, err := e.Propagate(rcOrg(), snap, master.ID, graph.EventPatch{
		Recurrence:       mo.Some(dailyPattern(3)),
		UpdateExceptions: true,
	})
	require.NoError(t, err)

	assert.Nil(t, snap.Event(exc.ID), "exception cleared")
	assert.Nil(t, snap.Event(bobExc.ID), "exception child cleared")

	occ, err := e.Expand(snap, master, jan(1, 0), jan(31, 0))
	require.NoError(t, err)
	assert.Len(t, occ, 3, "fourth occurrence disappeared")
}

func TestPropagate_IdenticalScheduleKeepsExceptions(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)

	_, err := e.Propagate(rcOrg(), snap, master.ID, graph.EventPatch{
		Title:            mo.Some("renamed"),
		Start:            mo.Some(master.Start),
		End:              mo.Some(master.End),
		Recurrence:       mo.Some(dailyPattern(4)),
		UpdateExceptions: true,
	})
	require.NoError(t, err)
	assert.NotNil(t, snap.Event(exc.ID), "identical schedule never clears exceptions")
	assert.Equal(t, "renamed", exc.Title)
}

func TestPropagate_ScheduleChangeWithoutFlagKeepsExceptions(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)

	_, err := e.Propagate(rcOrg(), snap, master.ID, graph.EventPatch{
		Recurrence: mo.Some(dailyPattern(3)),
	})
	require.NoError(t, err)
	assert.NotNil(t, snap.Event(exc.ID))
}

func TestPropagate_ClearingRecurrence(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)

	_, err := e.Propagate(rcOrg(), snap, master.ID, graph.EventPatch{
		Recurrence:       mo.Some[*recurrence.Pattern](nil),
		UpdateExceptions: true,
	})
	require.NoError(t, err)

	assert.Nil(t, master.Recurrence, "master became a single event")
	assert.Nil(t, snap.Event(exc.ID))

	occ, err := e.Expand(snap, master, jan(1, 0), jan(31, 0))
	require.NoError(t, err)
	assert.Len(t, occ, 1)
}

func TestPropagate_AddAttendeeFansOut(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)

	_, err := e.Propagate(rcOrg(), snap, master.ID, graph.EventPatch{
		Attendees: mo.Some([]graph.AttendeeInput{
			{Email: "org@acme.test", Type: graph.TypeOrganizer},
			{Email: "bob@acme.test"},
			{Email: "carol@acme.test"},
		}),
	})
	require.NoError(t, err)

	_, ok := master.FindAttendee("carol@acme.test")
	assert.True(t, ok)
	_, ok = exc.FindAttendee("carol@acme.test")
	assert.True(t, ok, "non-overridden exception roster follows the master")

	assert.NotNil(t, childInCalendar(snap, master.ID, "cal-carol"))
	assert.NotNil(t, childInCalendar(snap, exc.ID, "cal-carol"),
		"new attendee sees existing overridden occurrences")
}

func TestPropagate_NewAttendeeExceptionChildLinked(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)

	// Carol joins a series that already has a moved occurrence. Her
	// exception copy must link into her own series copy, which is created
	// by the same edit.
	_, err := e.Propagate(rcOrg(), snap, master.ID, graph.EventPatch{
		Attendees: mo.Some([]graph.AttendeeInput{
			{Email: "org@acme.test", Type: graph.TypeOrganizer},
			{Email: "bob@acme.test"},
			{Email: "carol@acme.test"},
		}),
	})
	require.NoError(t, err)

	carolMaster := childInCalendar(snap, master.ID, "cal-carol")
	require.NotNil(t, carolMaster)
	carolExc := childInCalendar(snap, exc.ID, "cal-carol")
	require.NotNil(t, carolExc)
	assert.Equal(t, carolMaster.ID, carolExc.RecurringEventID,
		"exception copy belongs to carol's own series")

	// Carol's calendar overlays exactly like the organizer's: the moved
	// instant substitutes, the original instant disappears.
	occ, err := e.Expand(snap, carolMaster, jan(1, 0), jan(31, 0))
	require.NoError(t, err)
	require.Len(t, occ, 4)
	for _, o := range occ {
		assert.False(t, o.Start.Equal(jan(12, 10)),
			"overridden occurrence must not surface at its original instant")
	}
}

func TestPropagate_OverriddenExceptionRosterLeftAlone(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)

	// Customize the exception roster: drop bob from this occurrence only.
	_, err := e.Propagate(rcOrg(), snap, exc.ID, graph.EventPatch{
		Attendees: mo.Some([]graph.AttendeeInput{
			{Email: "org@acme.test", Type: graph.TypeOrganizer},
		}),
	})
	require.NoError(t, err)
	assert.True(t, exc.AttendeesOverridden)

	_, err = e.Propagate(rcOrg(), snap, master.ID, graph.EventPatch{
		Attendees: mo.Some([]graph.AttendeeInput{
			{Email: "org@acme.test", Type: graph.TypeOrganizer},
			{Email: "bob@acme.test"},
			{Email: "carol@acme.test"},
		}),
	})
	require.NoError(t, err)

	_, ok := exc.FindAttendee("carol@acme.test")
	assert.False(t, ok, "customized roster is preserved")
	assert.Nil(t, childInCalendar(snap, exc.ID, "cal-carol"))
	assert.NotNil(t, childInCalendar(snap, master.ID, "cal-carol"))
}

func TestPropagate_RemoveAttendeeCascades(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)
	bobMaster := childInCalendar(snap, master.ID, "cal-bob")
	require.NotNil(t, bobMaster)

	_, err := e.Propagate(rcOrg(), snap, master.ID, graph.EventPatch{
		Attendees: mo.Some([]graph.AttendeeInput{
			{Email: "org@acme.test", Type: graph.TypeOrganizer},
		}),
	})
	require.NoError(t, err)

	_, ok := master.FindAttendee("bob@acme.test")
	assert.False(t, ok)
	_, ok = exc.FindAttendee("bob@acme.test")
	assert.False(t, ok, "removal cascades into non-overridden exceptions")

	assert.Nil(t, snap.Event(bobMaster.ID), "master child destroyed on removal")
	bobExc := childInCalendar(snap, exc.ID, "cal-bob")
	require.NotNil(t, bobExc, "exception child retained")
	assert.True(t, bobExc.IsCancelled, "exception child cancelled, not deleted")
}

func TestPropagate_CancelThenReAddRestoresSameChild(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)
	bobExc := childInCalendar(snap, exc.ID, "cal-bob")
	require.NotNil(t, bobExc)

	_, err := e.Propagate(rcOrg(), snap, exc.ID, graph.EventPatch{
		Attendees: mo.Some([]graph.AttendeeInput{
			{Email: "org@acme.test", Type: graph.TypeOrganizer},
		}),
	})
	require.NoError(t, err)
	assert.True(t, bobExc.IsCancelled)
	assert.True(t, exc.AttendeesOverridden)

	_, err = e.Propagate(rcOrg(), snap, exc.ID, graph.EventPatch{
		Attendees: mo.Some([]graph.AttendeeInput{
			{Email: "org@acme.test", Type: graph.TypeOrganizer},
			{Email: "bob@acme.test", Status: graph.StatusAccepted},
		}),
	})
	require.NoError(t, err)

	restored := childInCalendar(snap, exc.ID, "cal-bob")
	require.NotNil(t, restored)
	assert.Equal(t, bobExc.ID, restored.ID, "same child record, not a duplicate")
	assert.False(t, restored.IsCancelled)
	assert.Len(t, snap.ChildrenOf(exc.ID), 1)

	// Roster realigned with the master, so cascades apply again.
	assert.False(t, exc.AttendeesOverridden)
}

func TestPropagate_AttendeeFanOutIdempotent(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)

	// Carol is added to the exception first, then to the master with
	// matching data.
	_, err := e.Propagate(rcOrg(), snap, exc.ID, graph.EventPatch{
		Attendees: mo.Some([]graph.AttendeeInput{
			{Email: "org@acme.test", Type: graph.TypeOrganizer},
			{Email: "bob@acme.test", Status: graph.StatusAccepted},
			{Email: "carol@acme.test"},
		}),
	})
	require.NoError(t, err)

	_, err = e.Propagate(rcOrg(), snap, master.ID, graph.EventPatch{
		Attendees: mo.Some([]graph.AttendeeInput{
			{Email: "org@acme.test", Type: graph.TypeOrganizer},
			{Email: "bob@acme.test", Status: graph.StatusAccepted},
			{Email: "carol@acme.test"},
		}),
	})
	require.NoError(t, err)

	carolChildren := 0
	for _, c := range snap.ChildrenOf(exc.ID) {
		if c.CalendarID == "cal-carol" {
			carolChildren++
			assert.False(t, c.IsCancelled)
		}
	}
	assert.Equal(t, 1, carolChildren, "exactly one child per attendee per occurrence")

	_, ok := exc.FindAttendee("carol@acme.test")
	assert.True(t, ok)
	atts := exc.RosterEmails()
	assert.Len(t, atts, 3, "no duplicate roster entry")
}

func TestPropagate_CrossOrganizationNeverLinks(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)

	_, err := e.Propagate(rcOrg(), snap, master.ID, graph.EventPatch{
		Attendees: mo.Some([]graph.AttendeeInput{
			{Email: "org@acme.test", Type: graph.TypeOrganizer},
			{Email: "dave@other.test"},
		}),
	})
	require.NoError(t, err)

	dave, ok := master.FindAttendee("dave@other.test")
	require.True(t, ok)
	assert.Empty(t, dave.UserID, "cross-organization match stays unlinked")
	assert.Nil(t, childInCalendar(snap, master.ID, "cal-dave"), "no personal copy for guests")
}

func TestPropagate_ExceptionEditIsLocal(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)

	_, err := e.Propagate(rcOrg(), snap, exc.ID, graph.EventPatch{
		Title: mo.Some("moved standup"),
	})
	require.NoError(t, err)

	assert.Equal(t, "moved standup", exc.Title)
	assert.Equal(t, "standup", master.Title)

	bobExc := childInCalendar(snap, exc.ID, "cal-bob")
	require.NotNil(t, bobExc)
	assert.Equal(t, "moved standup", bobExc.Title)
	bobMaster := childInCalendar(snap, master.ID, "cal-bob")
	require.NotNil(t, bobMaster)
	assert.Equal(t, "standup", bobMaster.Title)
}

func TestPropagate_ResultFields(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)

	// Organizer edits: not an editable invitation, but notifiable.
	res, err := e.Propagate(rcOrg(), snap, master.ID, graph.EventPatch{Title: mo.Some("new")})
	require.NoError(t, err)
	assert.True(t, res.Notifiable)
	assert.Equal(t, graph.StatusAccepted, res.InvitationStatus)
	assert.False(t, res.EditableInvitationStatus, "organizer cannot toggle own invitation")

	// A no-op edit notifies nobody.
	res, err = e.Propagate(rcOrg(), snap, master.ID, graph.EventPatch{Title: mo.Some("new")})
	require.NoError(t, err)
	assert.False(t, res.Notifiable)

	// Bob edits his own copy: invitation status editable.
	bobMaster := childInCalendar(snap, master.ID, "cal-bob")
	require.NotNil(t, bobMaster)
	res, err = e.Propagate(rcBob(), snap, bobMaster.ID, graph.EventPatch{
		BackgroundColor: mo.Some("#112233"),
	})
	require.NoError(t, err)
	assert.Equal(t, graph.StatusAccepted, res.InvitationStatus)
	assert.True(t, res.EditableInvitationStatus)
}

func TestPropagate_Reachability(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)

	_, err := e.Propagate(rcOrg(), snap, "missing", graph.EventPatch{Title: mo.Some("x")})
	assert.ErrorIs(t, err, ErrNotFound)

	// Bob holds a copy but targets the organizer's record.
	_, err = e.Propagate(rcBob(), snap, master.ID, graph.EventPatch{Title: mo.Some("x")})
	assert.ErrorIs(t, err, ErrPermission)

	// Carol has no relation to the event at all.
	_, err = e.Propagate(rcCarol(), snap, master.ID, graph.EventPatch{Title: mo.Some("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPropagate_InvalidRecurrenceRejected(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)

	bad := dailyPattern(3)
	bad.Interval = 0
	_, err := e.Propagate(rcOrg(), snap, master.ID, graph.EventPatch{Recurrence: mo.Some(bad)})
	var verr *graph.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, "standup", master.Title)
}

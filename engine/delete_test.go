package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelete_MasterRemovesWholeGraph(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)
	uid := master.UID

	require.NotEmpty(t, snap.ChildrenOf(master.ID))
	require.NotEmpty(t, snap.ChildrenOf(exc.ID))

	res, err := e.Delete(rcOrg(), snap, master.ID, true)
	require.NoError(t, err)
	assert.True(t, res.Notifiable)

	assert.Empty(t, snap.CopiesOf(uid), "no record reachable from the uid survives")

	// Idempotent: the second delete reports not-found.
	_, err = e.Delete(rcOrg(), snap, master.ID, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_OrganizerExceptionCancelsForEveryone(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)
	bobExc := childInCalendar(snap, exc.ID, "cal-bob")
	require.NotNil(t, bobExc)

	_, err := e.Delete(rcOrg(), snap, exc.ID, false)
	require.NoError(t, err)

	assert.True(t, exc.IsCancelled, "record retained for bookkeeping")
	assert.True(t, bobExc.IsCancelled)
	assert.NotNil(t, snap.Event(exc.ID))
	assert.NotNil(t, snap.Event(bobExc.ID))
	assert.NotNil(t, snap.Event(master.ID), "series itself untouched")

	occ, err := e.Expand(snap, master, jan(1, 0), jan(31, 0))
	require.NoError(t, err)
	assert.Len(t, occ, 3, "cancelled occurrence invisible")
}

func TestDelete_AttendeeLeavesOneOccurrence(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)
	bobExc := childInCalendar(snap, exc.ID, "cal-bob")
	require.NotNil(t, bobExc)

	_, err := e.Delete(rcBob(), snap, bobExc.ID, false)
	require.NoError(t, err)

	_, ok := exc.FindAttendee("bob@acme.test")
	assert.False(t, ok, "bob left this occurrence")
	_, ok = master.FindAttendee("bob@acme.test")
	assert.True(t, ok, "series membership intact")

	assert.True(t, snap.Event(bobExc.ID).IsCancelled, "copy cancelled, not destroyed")
	assert.False(t, exc.IsCancelled, "organizer copy untouched")
	assert.NotNil(t, childInCalendar(snap, master.ID, "cal-bob"))
}

func TestDelete_AttendeeLeavesWholeSeries(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)
	exc := createException(t, e, snap, master)
	bobMaster := childInCalendar(snap, master.ID, "cal-bob")
	require.NotNil(t, bobMaster)
	bobExc := childInCalendar(snap, exc.ID, "cal-bob")
	require.NotNil(t, bobExc)

	_, err := e.Delete(rcBob(), snap, bobMaster.ID, false)
	require.NoError(t, err)

	_, ok := master.FindAttendee("bob@acme.test")
	assert.False(t, ok)
	_, ok = exc.FindAttendee("bob@acme.test")
	assert.False(t, ok, "series leave covers every occurrence")

	assert.Nil(t, snap.Event(bobMaster.ID), "master copy destroyed")
	assert.True(t, snap.Event(bobExc.ID).IsCancelled)

	// Organizer's records survive.
	assert.NotNil(t, snap.Event(master.ID))
	assert.NotNil(t, snap.Event(exc.ID))
}

func TestDelete_Reachability(t *testing.T) {
	e := testEngine()
	snap := seed()
	master := createSeries(t, e, snap, 4)

	_, err := e.Delete(rcOrg(), snap, "missing", true)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Delete(rcBob(), snap, master.ID, true)
	assert.ErrorIs(t, err, ErrPermission, "attendee must target their own copy")

	_, err = e.Delete(rcCarol(), snap, master.ID, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

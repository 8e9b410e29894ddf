// Package engine applies mutations to a calendar event graph: recurrence
// expansion with exception overlay, cascading edits from masters into
// exceptions, per-attendee child fan-out, and deletion semantics. The
// engine performs no I/O; it computes over a graph.Snapshot and the caller
// persists the resulting change set atomically.
package engine

import (
	"errors"
	"time"

	"calgraph/graph"
)

var (
	// ErrNotFound marks targets that do not exist or are not reachable
	// from the acting user's calendar.
	ErrNotFound = errors.New("event not found")

	// ErrPermission marks targets the acting user can see but not mutate.
	ErrPermission = errors.New("permission denied")
)

// RequestContext carries the acting user explicitly; nothing about the
// current user or organization is read from ambient state.
type RequestContext struct {
	UserID         string
	OrganizationID string
}

// Result is reported to the caller after every mutation.
type Result struct {
	EventID string

	// Notifiable is true iff the mutation actually changed something an
	// attendee can observe and at least one non-organizer attendee remains
	// to notify. Delivery itself is the caller's concern.
	Notifiable bool

	// InvitationStatus is the acting user's own attendee status on the
	// mutated event, StatusNone when they are not an attendee.
	InvitationStatus graph.AttendeeStatus

	// EditableInvitationStatus is true only when the acting user is a
	// non-organizer attendee of a non-cancelled event.
	EditableInvitationStatus bool
}

// Engine holds the mutation logic. Now is injectable for tests; everything
// else is stateless, so one Engine value is safe for concurrent use across
// independent event graphs.
type Engine struct {
	Now func() time.Time
}

// New returns an engine using wall-clock time.
func New() *Engine {
	return &Engine{Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) result(rc RequestContext, ev *graph.Event, changed bool) Result {
	res := Result{EventID: ev.ID, InvitationStatus: graph.StatusNone}
	if self, ok := ev.AttendeeByUserID(rc.UserID); ok {
		res.InvitationStatus = self.Status
		res.EditableInvitationStatus = self.Type != graph.TypeOrganizer && !ev.IsCancelled
	}
	if changed {
		for _, a := range ev.Attendees {
			if a.Type != graph.TypeOrganizer {
				res.Notifiable = true
				break
			}
		}
	}
	return res
}

// reachable classifies a target for the acting user: nil when the actor
// owns the record, ErrPermission when the actor holds a different copy of
// the same uid, ErrNotFound otherwise.
func reachable(rc RequestContext, snap *graph.Snapshot, target *graph.Event) error {
	actorCal := snap.CalendarOf(rc.UserID)
	if actorCal == nil {
		return ErrNotFound
	}
	if target.CalendarID == actorCal.ID {
		return nil
	}
	if snap.CopyForCalendar(target.UID, actorCal.ID) != nil {
		return ErrPermission
	}
	return ErrNotFound
}

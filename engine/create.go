package engine

import (
	"fmt"

	"github.com/google/uuid"

	"calgraph/graph"
)

// Create validates and inserts a new master or exception event into the
// snapshot, builds its roster and fans out per-attendee child copies.
// Nothing is inserted when validation fails.
func (e *Engine) Create(rc RequestContext, snap *graph.Snapshot, ev *graph.Event, attendees []graph.AttendeeInput) (Result, error) {
	if ev.CalendarID == "" {
		return Result{}, &graph.ValidationError{Field: "calendar", Reason: "calendar is required"}
	}
	actorCal := snap.CalendarOf(rc.UserID)
	if actorCal == nil || actorCal.ID != ev.CalendarID {
		return Result{}, fmt.Errorf("calendar %s: %w", ev.CalendarID, ErrNotFound)
	}
	if ev.Recurrence != nil {
		if err := ev.Recurrence.Validate(); err != nil {
			return Result{}, &graph.ValidationError{Field: "recurrence", Reason: err.Error()}
		}
	}
	if ev.RecurringEventID != "" && ev.OriginalStart == nil {
		return Result{}, &graph.ValidationError{Field: "originalStart", Reason: "required for an exception"}
	}

	var master *graph.Event
	if ev.IsException() {
		master = snap.Event(ev.RecurringEventID)
		if master == nil {
			return Result{}, fmt.Errorf("master %s: %w", ev.RecurringEventID, ErrNotFound)
		}
		if master.Recurrence == nil {
			return Result{}, &graph.ValidationError{Field: "recurringEventId", Reason: "referenced event is not recurring"}
		}
		ok, err := master.Recurrence.Contains(master.Start, *ev.OriginalStart)
		if err != nil {
			return Result{}, &graph.ValidationError{Field: "recurrence", Reason: err.Error()}
		}
		if !ok {
			return Result{}, &graph.ValidationError{Field: "originalStart", Reason: "not a valid occurrence of the series"}
		}
		if snap.ExceptionFor(master.ID, *ev.OriginalStart) != nil {
			return Result{}, &graph.ValidationError{Field: "originalStart", Reason: "occurrence is already overridden"}
		}
		if ev.Recurrence != nil {
			return Result{}, &graph.ValidationError{Field: "recurrence", Reason: "an exception cannot itself recur"}
		}
		ev.UID = master.UID
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.UID == "" {
		ev.UID = uuid.NewString()
	}
	now := e.now()
	ev.Created, ev.Modified = now, now

	switch {
	case len(attendees) > 0:
		ev.Attendees = e.buildRoster(rc, snap, ev, attendees)
		e.ensureOrganizer(rc, snap, ev)
		if master != nil {
			ev.AttendeesOverridden = !ev.RosterEquals(master)
		}
	case master != nil:
		// An exception starts with its master's roster.
		roster := make([]*graph.Attendee, len(master.Attendees))
		for i, a := range master.Attendees {
			roster[i] = a.Clone()
		}
		ev.Attendees = roster
	}

	snap.Create(ev)
	e.syncChildren(rc, snap, ev)

	return e.result(rc, ev, len(ev.Attendees) > 0), nil
}

// ensureOrganizer guarantees the acting organizer appears on any non-empty
// roster they create.
func (e *Engine) ensureOrganizer(rc RequestContext, snap *graph.Snapshot, ev *graph.Event) {
	actor := snap.User(rc.UserID)
	if actor == nil {
		return
	}
	if a, ok := ev.FindAttendee(actor.Email); ok {
		a.Type = graph.TypeOrganizer
		if a.Status == graph.StatusNone {
			a.Status = graph.StatusAccepted
		}
		return
	}
	now := e.now()
	ev.Attendees = append([]*graph.Attendee{{
		Email:       graph.NormalizeEmail(actor.Email),
		DisplayName: actor.DisplayName,
		Status:      graph.StatusAccepted,
		Type:        graph.TypeOrganizer,
		UserID:      actor.ID,
		Created:     now,
		Updated:     now,
	}}, ev.Attendees...)
}

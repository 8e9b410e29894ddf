package engine

import (
	"github.com/google/uuid"

	"calgraph/graph"
)

// newAttendee builds a roster entry from caller input. The email is linked
// to a user account only when it resolves within the event owner's
// organization; cross-organization matches stay guest-only.
func (e *Engine) newAttendee(rc RequestContext, snap *graph.Snapshot, owner *graph.Event, in graph.AttendeeInput) *graph.Attendee {
	now := e.now()
	a := &graph.Attendee{
		Email:       graph.NormalizeEmail(in.Email),
		DisplayName: in.DisplayName,
		Status:      in.Status,
		Type:        in.Type,
		Created:     now,
		Updated:     now,
	}
	if a.Status == "" {
		a.Status = graph.StatusNone
	}
	if a.Type == "" {
		a.Type = graph.TypeRequired
	}

	orgID := rc.OrganizationID
	if ownerUser := snap.OwnerOf(owner); ownerUser != nil {
		orgID = ownerUser.OrganizationID
	}
	if u := snap.UserByEmail(a.Email); u != nil && u.OrganizationID == orgID {
		a.UserID = u.ID
	}
	return a
}

// buildRoster turns attendee inputs into a roster, carrying over existing
// records (and their identity link, status and timestamps) for emails
// already invited. Duplicate emails collapse to the first entry.
func (e *Engine) buildRoster(rc RequestContext, snap *graph.Snapshot, ev *graph.Event, inputs []graph.AttendeeInput) []*graph.Attendee {
	roster := make([]*graph.Attendee, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		email := graph.NormalizeEmail(in.Email)
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		if existing, ok := ev.FindAttendee(email); ok {
			upd := existing.Clone()
			if in.DisplayName != "" && in.DisplayName != upd.DisplayName {
				upd.DisplayName = in.DisplayName
				upd.Updated = e.now()
			}
			if in.Status != "" && in.Status != upd.Status {
				upd.Status = in.Status
				upd.Updated = e.now()
			}
			if in.Type != "" && in.Type != upd.Type {
				upd.Type = in.Type
				upd.Updated = e.now()
			}
			roster = append(roster, upd)
			continue
		}
		roster = append(roster, e.newAttendee(rc, snap, ev, in))
	}
	return roster
}

func removeFromRoster(ev *graph.Event, email string) bool {
	email = graph.NormalizeEmail(email)
	for i, a := range ev.Attendees {
		if graph.NormalizeEmail(a.Email) == email {
			ev.Attendees = append(ev.Attendees[:i], ev.Attendees[i+1:]...)
			return true
		}
	}
	return false
}

func rostersEquivalent(a, b []*graph.Attendee) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if graph.NormalizeEmail(a[i].Email) != graph.NormalizeEmail(b[i].Email) ||
			a[i].DisplayName != b[i].DisplayName ||
			a[i].Status != b[i].Status ||
			a[i].Type != b[i].Type {
			return false
		}
	}
	return true
}

// syncChildren reconciles the per-attendee child copies of parent with its
// roster: one child per attendee resolved to a user (and their calendar) in
// the organizer's organization, mirroring the parent's fields and roster.
// Guests never get a copy. Removal from an exception cancels the child so a
// later re-add restores the same record; removal from a master destroys it.
func (e *Engine) syncChildren(rc RequestContext, snap *graph.Snapshot, parent *graph.Event) {
	existing := make(map[string]*graph.Event) // keyed by calendar id
	for _, child := range snap.ChildrenOf(parent.ID) {
		existing[child.CalendarID] = child
	}

	desired := make(map[string]bool)
	for _, att := range parent.Attendees {
		if att.UserID == "" {
			continue
		}
		cal := snap.CalendarOf(att.UserID)
		if cal == nil || cal.ID == parent.CalendarID {
			continue
		}
		desired[cal.ID] = true

		child := existing[cal.ID]
		if child == nil {
			child = &graph.Event{
				ID:            uuid.NewString(),
				UID:           parent.UID,
				CalendarID:    cal.ID,
				ParentEventID: parent.ID,
				Created:       e.now(),
			}
			if parent.IsException() {
				os := *parent.OriginalStart
				child.OriginalStart = &os
				// Link the copy into the attendee's own series when they
				// hold a copy of the master.
				if master := snap.Event(parent.RecurringEventID); master != nil {
					if mc := snap.CopyForCalendar(master.UID, cal.ID); mc != nil && mc.ParentEventID == master.ID {
						child.RecurringEventID = mc.ID
					}
				}
			}
			e.mirror(child, parent)
			child.Modified = e.now()
			snap.Create(child)
			continue
		}
		if e.mirror(child, parent) {
			child.Modified = e.now()
			snap.Update(child)
		}
	}

	for calID, child := range existing {
		if desired[calID] {
			continue
		}
		if parent.IsException() {
			if !child.IsCancelled {
				child.IsCancelled = true
				child.Modified = e.now()
				snap.Update(child)
			}
			continue
		}
		snap.Delete(child.ID)
	}
}

// mirror copies the parent's visible fields and roster onto a child copy,
// reporting whether anything changed.
func (e *Engine) mirror(child, parent *graph.Event) bool {
	changed := false
	if child.Title != parent.Title {
		child.Title = parent.Title
		changed = true
	}
	if child.Description != parent.Description {
		child.Description = parent.Description
		changed = true
	}
	if child.AllDay != parent.AllDay {
		child.AllDay = parent.AllDay
		changed = true
	}
	if child.BackgroundColor != parent.BackgroundColor {
		child.BackgroundColor = parent.BackgroundColor
		changed = true
	}
	if !child.Start.Equal(parent.Start) {
		child.Start = parent.Start
		changed = true
	}
	if !child.End.Equal(parent.End) {
		child.End = parent.End
		changed = true
	}
	if !child.Recurrence.Equal(parent.Recurrence) {
		child.Recurrence = parent.Recurrence.Clone()
		changed = true
	}
	if child.IsCancelled != parent.IsCancelled {
		child.IsCancelled = parent.IsCancelled
		changed = true
	}
	if !rostersEquivalent(child.Attendees, parent.Attendees) {
		roster := make([]*graph.Attendee, len(parent.Attendees))
		for i, a := range parent.Attendees {
			roster[i] = a.Clone()
		}
		child.Attendees = roster
		changed = true
	}
	return changed
}

package engine

import (
	"fmt"

	"calgraph/graph"
)

// Propagate applies an edit to a master, exception or child event and fans
// the change out across the uid-linked graph per the cascade rules. The
// target must live in the acting user's own calendar.
func (e *Engine) Propagate(rc RequestContext, snap *graph.Snapshot, targetID string, patch graph.EventPatch) (Result, error) {
	target := snap.Event(targetID)
	if target == nil {
		return Result{}, fmt.Errorf("event %s: %w", targetID, ErrNotFound)
	}
	if err := reachable(rc, snap, target); err != nil {
		return Result{}, fmt.Errorf("event %s: %w", targetID, err)
	}
	if rec, ok := patch.Recurrence.Get(); ok && rec != nil {
		if err := rec.Validate(); err != nil {
			return Result{}, &graph.ValidationError{Field: "recurrence", Reason: err.Error()}
		}
	}

	pre := target.Clone()
	changed := applyFields(target, patch)

	rosterChanged := false
	if inputs, ok := patch.Attendees.Get(); ok {
		preRoster := target.Attendees
		target.Attendees = e.buildRoster(rc, snap, target, inputs)
		rosterChanged = !rostersEquivalent(preRoster, target.Attendees)
	}

	switch {
	case target.IsChild() || target.IsException():
		// Direct edits stay local to the record; the master and sibling
		// exceptions are untouched.
		if target.IsException() && rosterChanged {
			if master := snap.Event(target.RecurringEventID); master != nil {
				target.AttendeesOverridden = !target.RosterEquals(master)
			} else {
				target.AttendeesOverridden = true
			}
		}
		if changed || rosterChanged {
			target.Modified = e.now()
			snap.Update(target)
			if !target.IsChild() {
				e.syncChildren(rc, snap, target)
			}
		}
	default:
		// The master's own children must exist before the exception
		// cascade runs, so a newly added attendee's exception copies can
		// link into that attendee's series copy.
		if changed || rosterChanged {
			target.Modified = e.now()
			snap.Update(target)
			e.syncChildren(rc, snap, target)
		}
		e.cascade(rc, snap, target, pre, patch, rosterChanged)
	}

	return e.result(rc, target, changed || rosterChanged), nil
}

// cascade fans a master edit into the master's exceptions.
func (e *Engine) cascade(rc RequestContext, snap *graph.Snapshot, master, pre *graph.Event, patch graph.EventPatch, rosterChanged bool) {
	exceptions := snap.ExceptionsOf(master.ID)

	if patch.UpdateExceptions && patch.TouchesSchedule() && len(exceptions) > 0 &&
		e.generatedSetChanged(pre, master, exceptions) {
		// The generated set moved under the exceptions; future reads must
		// regenerate purely from the new pattern.
		for _, exc := range exceptions {
			for _, child := range snap.ChildrenOf(exc.ID) {
				snap.Delete(child.ID)
			}
			snap.Delete(exc.ID)
		}
		exceptions = nil
	}

	for _, exc := range exceptions {
		excChanged := false
		if patch.UpdateExceptions {
			excChanged = applySimpleFields(exc, patch)
		}
		if rosterChanged && !exc.AttendeesOverridden {
			if e.cascadeRoster(master, pre, exc) {
				excChanged = true
			}
		}
		if excChanged {
			exc.Modified = e.now()
			snap.Update(exc)
			e.syncChildren(rc, snap, exc)
		}
	}
}

// cascadeRoster applies the master's attendee diff (relative to its
// pre-edit roster) to an exception that has not customized its own roster.
func (e *Engine) cascadeRoster(master, pre, exc *graph.Event) bool {
	changed := false
	preEmails := pre.RosterEmails()
	newEmails := master.RosterEmails()

	for email := range preEmails {
		if !newEmails[email] && removeFromRoster(exc, email) {
			changed = true
		}
	}
	for _, att := range master.Attendees {
		if preEmails[graph.NormalizeEmail(att.Email)] {
			continue
		}
		if _, ok := exc.FindAttendee(att.Email); ok {
			continue
		}
		exc.Attendees = append(exc.Attendees, att.Clone())
		changed = true
	}
	return changed
}

// generatedSetChanged implements the exception-clearing boundary: the
// occurrence sets before and after the edit are regenerated from the
// earliest instant still of interest (now, or the earliest exception's
// original start if older) and compared member-wise. A pure rename never
// reaches this point; an identical schedule compares equal and clears
// nothing.
func (e *Engine) generatedSetChanged(pre, post *graph.Event, exceptions []*graph.Event) bool {
	if pre.Recurrence == nil && post.Recurrence == nil {
		return false
	}
	if (pre.Recurrence == nil) != (post.Recurrence == nil) {
		return true
	}

	threshold := e.now()
	for _, exc := range exceptions {
		if exc.OriginalStart.Before(threshold) {
			threshold = *exc.OriginalStart
		}
	}

	// Unbounded series cannot be compared exhaustively; cap the horizon.
	horizon := threshold.AddDate(100, 0, 0)
	if !pre.Recurrence.Bounded() || !post.Recurrence.Bounded() {
		horizon = threshold.AddDate(4, 0, 0)
	}

	before, err := pre.Recurrence.Generate(pre.Start, threshold, horizon)
	if err != nil {
		return true
	}
	after, err := post.Recurrence.Generate(post.Start, threshold, horizon)
	if err != nil {
		return true
	}
	if len(before) != len(after) {
		return true
	}
	for i := range before {
		if !before[i].Equal(after[i]) {
			return true
		}
	}
	return false
}

// applyFields writes every set field of the patch onto the event and
// reports whether any value actually changed.
func applyFields(ev *graph.Event, patch graph.EventPatch) bool {
	changed := applySimpleFields(ev, patch)
	if v, ok := patch.Start.Get(); ok && !v.Equal(ev.Start) {
		ev.Start = v
		changed = true
	}
	if v, ok := patch.End.Get(); ok && !v.Equal(ev.End) {
		ev.End = v
		changed = true
	}
	if v, ok := patch.Recurrence.Get(); ok && !ev.Recurrence.Equal(v) {
		ev.Recurrence = v.Clone()
		changed = true
	}
	return changed
}

// applySimpleFields covers the four display fields that cascade into
// exceptions verbatim.
func applySimpleFields(ev *graph.Event, patch graph.EventPatch) bool {
	changed := false
	if v, ok := patch.Title.Get(); ok && v != ev.Title {
		ev.Title = v
		changed = true
	}
	if v, ok := patch.Description.Get(); ok && v != ev.Description {
		ev.Description = v
		changed = true
	}
	if v, ok := patch.AllDay.Get(); ok && v != ev.AllDay {
		ev.AllDay = v
		changed = true
	}
	if v, ok := patch.BackgroundColor.Get(); ok && v != ev.BackgroundColor {
		ev.BackgroundColor = v
		changed = true
	}
	return changed
}

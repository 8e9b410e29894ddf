package engine

import (
	"fmt"

	"calgraph/graph"
)

// Delete applies a delete/cancel request. What happens depends on who is
// asking and what the target is:
//
//   - organizer deleting a master removes the entire uid-linked graph for
//     every participant;
//   - organizer deleting an exception cancels that occurrence for everyone
//     while the records stay for bookkeeping;
//   - an attendee deleting their own child copy leaves the occurrence (or
//     the whole series, when the copy mirrors the master) without touching
//     anyone else's records.
//
// A second delete of the same id reports ErrNotFound.
func (e *Engine) Delete(rc RequestContext, snap *graph.Snapshot, targetID string, cancelInsteadDelete bool) (Result, error) {
	target := snap.Event(targetID)
	if target == nil {
		return Result{}, fmt.Errorf("event %s: %w", targetID, ErrNotFound)
	}
	if err := reachable(rc, snap, target); err != nil {
		return Result{}, fmt.Errorf("event %s: %w", targetID, err)
	}

	res := e.result(rc, target, e.hasOtherParticipants(rc, target))

	switch {
	case target.IsChild():
		e.leave(rc, snap, target)
	case target.IsException():
		e.cancelOccurrence(snap, target)
	default:
		e.removeGraph(snap, target, cancelInsteadDelete)
	}
	return res, nil
}

func (e *Engine) hasOtherParticipants(rc RequestContext, ev *graph.Event) bool {
	for _, a := range ev.Attendees {
		if a.UserID != rc.UserID && a.Type != graph.TypeOrganizer {
			return true
		}
	}
	return false
}

// removeGraph deletes every record sharing the master's uid: the master,
// all exceptions, and every attendee's copies. With cancelInsteadDelete the
// caller additionally intends attendees to be told; either way no record
// survives.
func (e *Engine) removeGraph(snap *graph.Snapshot, master *graph.Event, cancelInsteadDelete bool) {
	_ = cancelInsteadDelete // delivery strategy only; removal is identical
	for _, ev := range snap.CopiesOf(master.UID) {
		snap.Delete(ev.ID)
	}
}

// cancelOccurrence flags an organizer-side exception and every attendee
// copy of it as cancelled, preserving history.
func (e *Engine) cancelOccurrence(snap *graph.Snapshot, exc *graph.Event) {
	if !exc.IsCancelled {
		exc.IsCancelled = true
		exc.Modified = e.now()
		snap.Update(exc)
	}
	for _, child := range snap.ChildrenOf(exc.ID) {
		if child.IsCancelled {
			continue
		}
		child.IsCancelled = true
		child.Modified = e.now()
		snap.Update(child)
	}
}

// leave removes the acting attendee's membership. Deleting the copy of an
// exception leaves only that occurrence; deleting the copy of a master
// leaves the whole series.
func (e *Engine) leave(rc RequestContext, snap *graph.Snapshot, child *graph.Event) {
	parent := snap.Event(child.ParentEventID)
	actor := snap.User(rc.UserID)
	if parent == nil || actor == nil {
		snap.Delete(child.ID)
		return
	}

	if parent.IsException() {
		if removeFromRoster(parent, actor.Email) {
			parent.Modified = e.now()
			snap.Update(parent)
		}
		// Sibling copies mirror the new roster; the actor's own copy is
		// cancelled rather than destroyed so a re-add restores it.
		e.syncChildren(rc, snap, parent)
		return
	}

	// Leaving the series: drop the actor from the master and from every
	// exception, regardless of roster overrides.
	if removeFromRoster(parent, actor.Email) {
		parent.Modified = e.now()
		snap.Update(parent)
	}
	for _, exc := range snap.ExceptionsOf(parent.ID) {
		if removeFromRoster(exc, actor.Email) {
			exc.Modified = e.now()
			snap.Update(exc)
			e.syncChildren(rc, snap, exc)
		}
	}
	e.syncChildren(rc, snap, parent)
}

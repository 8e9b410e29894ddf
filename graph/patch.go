package graph

import (
	"time"

	"github.com/samber/mo"

	"calgraph/recurrence"
)

// AttendeeInput is the caller-supplied shape of one roster entry.
type AttendeeInput struct {
	Email       string
	DisplayName string
	Status      AttendeeStatus
	Type        AttendeeType
}

// EventPatch is a typed field diff: every field is either unset or
// set-to-value, so propagation logic never inspects presence in a loose
// map. Recurrence carries Some(nil) to turn a recurring master into a
// single event.
type EventPatch struct {
	Title           mo.Option[string]
	Description     mo.Option[string]
	AllDay          mo.Option[bool]
	BackgroundColor mo.Option[string]
	Start           mo.Option[time.Time]
	End             mo.Option[time.Time]
	Recurrence      mo.Option[*recurrence.Pattern]
	Attendees       mo.Option[[]AttendeeInput]

	// UpdateExceptions is the transient cascade flag: whether a master edit
	// must flow into existing exceptions.
	UpdateExceptions bool
}

// TouchesSimpleFields reports whether any cascade-able display field is set.
func (p EventPatch) TouchesSimpleFields() bool {
	return p.Title.IsPresent() || p.Description.IsPresent() ||
		p.AllDay.IsPresent() || p.BackgroundColor.IsPresent()
}

// TouchesSchedule reports whether the patch can change the generated
// occurrence set.
func (p EventPatch) TouchesSchedule() bool {
	return p.Start.IsPresent() || p.End.IsPresent() || p.Recurrence.IsPresent()
}

// Empty reports whether the patch sets nothing at all.
func (p EventPatch) Empty() bool {
	return !p.TouchesSimpleFields() && !p.TouchesSchedule() && !p.Attendees.IsPresent()
}

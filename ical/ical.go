// Package ical converts event graphs to and from iCalendar objects. One
// VCALENDAR carries one uid: the master VEVENT plus one VEVENT per
// exception, keyed by RECURRENCE-ID.
package ical

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"calgraph/graph"
	"calgraph/recurrence"
)

const prodID = "-//calgraph//calgraph//EN"

// Export renders the organizer-side records of a uid as a VCALENDAR.
// Attendee child copies are not exported; they are derived state.
func Export(snap *graph.Snapshot, uid string) (*ical.Calendar, error) {
	var master *graph.Event
	var exceptions []*graph.Event
	for _, ev := range snap.CopiesOf(uid) {
		if ev.IsChild() {
			continue
		}
		if ev.IsException() {
			exceptions = append(exceptions, ev)
			continue
		}
		if master != nil {
			return nil, fmt.Errorf("uid %s has more than one organizer master", uid)
		}
		master = ev
	}
	if master == nil {
		return nil, fmt.Errorf("uid %s has no organizer master", uid)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")

	cal.Children = append(cal.Children, exportEvent(master).Component)
	for _, exc := range exceptions {
		ve := exportEvent(exc)
		rid := ical.NewProp(ical.PropRecurrenceID)
		rid.SetDateTime(exc.OriginalStart.UTC())
		ve.Props.Set(rid)
		cal.Children = append(cal.Children, ve.Component)
	}
	return cal, nil
}

func exportEvent(ev *graph.Event) *ical.Event {
	ve := ical.NewEvent()
	ve.Props.SetText(ical.PropUID, ev.UID)
	ve.Props.SetText(ical.PropSummary, ev.Title)
	if ev.Description != "" {
		ve.Props.SetText(ical.PropDescription, ev.Description)
	}
	ve.Props.SetDateTime(ical.PropDateTimeStamp, ev.Modified.UTC())

	dtstart := ical.NewProp(ical.PropDateTimeStart)
	dtstart.SetDateTime(ev.Start.UTC())
	ve.Props.Set(dtstart)
	dtend := ical.NewProp(ical.PropDateTimeEnd)
	dtend.SetDateTime(ev.End.UTC())
	ve.Props.Set(dtend)

	if ev.Recurrence != nil {
		rr := ical.NewProp(ical.PropRecurrenceRule)
		rr.Value = ev.Recurrence.RRule()
		ve.Props.Set(rr)
	}
	if ev.IsCancelled {
		ve.Props.SetText(ical.PropStatus, "CANCELLED")
	}

	for _, a := range ev.Attendees {
		if a.Type == graph.TypeOrganizer {
			org := ical.NewProp(ical.PropOrganizer)
			org.Value = "mailto:" + graph.NormalizeEmail(a.Email)
			if a.DisplayName != "" {
				org.Params.Set(ical.ParamCommonName, a.DisplayName)
			}
			ve.Props.Set(org)
		}
		att := ical.NewProp(ical.PropAttendee)
		att.Value = "mailto:" + graph.NormalizeEmail(a.Email)
		att.Params.Set(ical.ParamParticipationStatus, partstat(a.Status))
		att.Params.Set(ical.ParamRole, role(a.Type))
		if a.DisplayName != "" {
			att.Params.Set(ical.ParamCommonName, a.DisplayName)
		}
		ve.Props.Add(att)
	}
	return ve
}

// Import parses a VCALENDAR into event records for the given calendar.
// The returned slice starts with the master; ids are freshly assigned and
// exceptions are linked to the master by id. Exceptions whose roster
// differs from the master's come back with AttendeesOverridden set.
func Import(cal *ical.Calendar, calendarID string) ([]*graph.Event, error) {
	var master *graph.Event
	var exceptions []*graph.Event

	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		ev, originalStart, err := importEvent(child, calendarID)
		if err != nil {
			return nil, err
		}
		if originalStart != nil {
			ev.OriginalStart = originalStart
			exceptions = append(exceptions, ev)
			continue
		}
		if master != nil {
			return nil, fmt.Errorf("calendar object has more than one master VEVENT")
		}
		master = ev
	}
	if master == nil {
		return nil, fmt.Errorf("calendar object has no master VEVENT")
	}

	out := []*graph.Event{master}
	for _, exc := range exceptions {
		if exc.UID != master.UID {
			return nil, fmt.Errorf("exception uid %s does not match master uid %s", exc.UID, master.UID)
		}
		exc.RecurringEventID = master.ID
		exc.AttendeesOverridden = !exc.RosterEquals(master)
		out = append(out, exc)
	}
	return out, nil
}

func importEvent(comp *ical.Component, calendarID string) (*graph.Event, *time.Time, error) {
	uid := textProp(comp, ical.PropUID)
	if uid == "" {
		return nil, nil, fmt.Errorf("VEVENT missing UID")
	}
	ev := &graph.Event{
		ID:          uuid.NewString(),
		UID:         uid,
		CalendarID:  calendarID,
		Title:       textProp(comp, ical.PropSummary),
		Description: textProp(comp, ical.PropDescription),
		IsCancelled: strings.EqualFold(textProp(comp, ical.PropStatus), "CANCELLED"),
	}

	var err error
	if ev.Start, err = dateTimeProp(comp, ical.PropDateTimeStart); err != nil {
		return nil, nil, err
	}
	if ev.End, err = dateTimeProp(comp, ical.PropDateTimeEnd); err != nil {
		return nil, nil, err
	}

	tz := "UTC"
	if p := comp.Props.Get(ical.PropDateTimeStart); p != nil {
		if v := p.Params.Get(ical.ParamTimezoneID); v != "" {
			tz = v
		}
	}
	if p := comp.Props.Get(ical.PropRecurrenceRule); p != nil {
		pattern, err := recurrence.ParseRRule(p.Value, tz)
		if err != nil {
			return nil, nil, fmt.Errorf("uid %s: %w", uid, err)
		}
		ev.Recurrence = pattern
	}

	var originalStart *time.Time
	if p := comp.Props.Get(ical.PropRecurrenceID); p != nil {
		t, err := p.DateTime(time.UTC)
		if err != nil {
			return nil, nil, fmt.Errorf("uid %s recurrence-id: %w", uid, err)
		}
		originalStart = &t
	}

	organizer := ""
	if p := comp.Props.Get(ical.PropOrganizer); p != nil {
		organizer = mailtoEmail(p.Value)
	}
	for _, p := range comp.Props.Values(ical.PropAttendee) {
		email := mailtoEmail(p.Value)
		if email == "" {
			continue
		}
		a := &graph.Attendee{
			Email:       email,
			DisplayName: p.Params.Get(ical.ParamCommonName),
			Status:      parsePartstat(p.Params.Get(ical.ParamParticipationStatus)),
			Type:        parseRole(p.Params.Get(ical.ParamRole)),
		}
		if email == organizer {
			a.Type = graph.TypeOrganizer
		}
		ev.Attendees = append(ev.Attendees, a)
	}
	return ev, originalStart, nil
}

func textProp(comp *ical.Component, name string) string {
	v, err := comp.Props.Text(name)
	if err != nil {
		return ""
	}
	return v
}

func dateTimeProp(comp *ical.Component, name string) (time.Time, error) {
	p := comp.Props.Get(name)
	if p == nil {
		return time.Time{}, fmt.Errorf("VEVENT missing %s", name)
	}
	return p.DateTime(time.UTC)
}

func mailtoEmail(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(strings.ToLower(v), "mailto:") {
		v = v[len("mailto:"):]
	}
	return graph.NormalizeEmail(v)
}

func partstat(s graph.AttendeeStatus) string {
	switch s {
	case graph.StatusAccepted:
		return "ACCEPTED"
	case graph.StatusDeclined:
		return "DECLINED"
	case graph.StatusTentative:
		return "TENTATIVE"
	default:
		return "NEEDS-ACTION"
	}
}

func parsePartstat(v string) graph.AttendeeStatus {
	switch strings.ToUpper(v) {
	case "ACCEPTED":
		return graph.StatusAccepted
	case "DECLINED":
		return graph.StatusDeclined
	case "TENTATIVE":
		return graph.StatusTentative
	default:
		return graph.StatusNone
	}
}

func role(t graph.AttendeeType) string {
	switch t {
	case graph.TypeOrganizer:
		return "CHAIR"
	case graph.TypeOptional:
		return "OPT-PARTICIPANT"
	default:
		return "REQ-PARTICIPANT"
	}
}

func parseRole(v string) graph.AttendeeType {
	switch strings.ToUpper(v) {
	case "CHAIR":
		return graph.TypeOrganizer
	case "OPT-PARTICIPANT":
		return graph.TypeOptional
	default:
		return graph.TypeRequired
	}
}

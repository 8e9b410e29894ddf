// Package graph holds the calendar event records and the in-memory arena
// the propagation engine computes over. Master, exception and per-attendee
// child events are plain records keyed by id; uid, recurringEventID and
// parentEventID are foreign-key style indices, never live references.
package graph

import (
	"fmt"
	"strings"
	"time"

	"calgraph/recurrence"
)

// AttendeeStatus is an attendee's reply state on one event.
type AttendeeStatus string

const (
	StatusNone      AttendeeStatus = "none"
	StatusAccepted  AttendeeStatus = "accepted"
	StatusDeclined  AttendeeStatus = "declined"
	StatusTentative AttendeeStatus = "tentative"
)

// AttendeeType distinguishes the organizer from invited participants.
type AttendeeType string

const (
	TypeOrganizer AttendeeType = "organizer"
	TypeRequired  AttendeeType = "required"
	TypeOptional  AttendeeType = "optional"
)

// Attendee is one roster entry. Email is the identity key within an event;
// UserID is set only when the email resolves to a user in the calendar
// owner's organization.
type Attendee struct {
	Email       string
	DisplayName string
	Status      AttendeeStatus
	Type        AttendeeType
	UserID      string
	Created     time.Time
	Updated     time.Time
}

// Clone returns a copy of the attendee record.
func (a *Attendee) Clone() *Attendee {
	c := *a
	return &c
}

// User is a resolvable account in some organization.
type User struct {
	ID             string
	Email          string
	DisplayName    string
	OrganizationID string
}

// Calendar is one user's (or resource's) event container.
type Calendar struct {
	ID       string
	UserID   string
	Name     string
	Color    string
	TimeZone string
}

// Event is one calendar event record. The same struct covers masters,
// exceptions and per-attendee child copies; the role is derived from the
// index fields.
type Event struct {
	ID         string
	UID        string
	CalendarID string

	Title           string
	Description     string
	AllDay          bool
	BackgroundColor string
	Start           time.Time
	End             time.Time

	// Recurrence is present on masters of recurring series (and mirrored
	// onto each attendee's child copy of the master).
	Recurrence *recurrence.Pattern

	// RecurringEventID + OriginalStart mark an exception: which series it
	// belongs to and which generated occurrence it overrides.
	RecurringEventID string
	OriginalStart    *time.Time

	// IsCancelled marks a removed-but-retained occurrence.
	IsCancelled bool

	// ParentEventID links an attendee's child copy to the organizer-side
	// event it mirrors.
	ParentEventID string

	Attendees []*Attendee

	// AttendeesOverridden is set the first time an exception's roster is
	// edited independently of its master; overridden rosters are excluded
	// from master-side attendee cascades.
	AttendeesOverridden bool

	Created  time.Time
	Modified time.Time
}

// IsException reports whether the event overrides one generated occurrence.
func (e *Event) IsException() bool {
	return e.RecurringEventID != "" && e.OriginalStart != nil
}

// IsChild reports whether the event is an attendee's copy of another event.
func (e *Event) IsChild() bool {
	return e.ParentEventID != ""
}

// IsRecurringMaster reports whether the event anchors a recurring series.
func (e *Event) IsRecurringMaster() bool {
	return e.Recurrence != nil && !e.IsException()
}

// NormalizeEmail canonicalizes an email for identity comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FindAttendee looks up a roster entry by email.
func (e *Event) FindAttendee(email string) (*Attendee, bool) {
	email = NormalizeEmail(email)
	for _, a := range e.Attendees {
		if NormalizeEmail(a.Email) == email {
			return a, true
		}
	}
	return nil, false
}

// AttendeeByUserID looks up a roster entry by resolved user id.
func (e *Event) AttendeeByUserID(userID string) (*Attendee, bool) {
	if userID == "" {
		return nil, false
	}
	for _, a := range e.Attendees {
		if a.UserID == userID {
			return a, true
		}
	}
	return nil, false
}

// RosterEmails returns the normalized attendee email set.
func (e *Event) RosterEmails() map[string]bool {
	set := make(map[string]bool, len(e.Attendees))
	for _, a := range e.Attendees {
		set[NormalizeEmail(a.Email)] = true
	}
	return set
}

// RosterEquals reports whether two events invite exactly the same emails.
func (e *Event) RosterEquals(o *Event) bool {
	a, b := e.RosterEmails(), o.RosterEmails()
	if len(a) != len(b) {
		return false
	}
	for email := range a {
		if !b[email] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the event record.
func (e *Event) Clone() *Event {
	c := *e
	if e.OriginalStart != nil {
		t := *e.OriginalStart
		c.OriginalStart = &t
	}
	c.Recurrence = e.Recurrence.Clone()
	c.Attendees = make([]*Attendee, len(e.Attendees))
	for i, a := range e.Attendees {
		c.Attendees[i] = a.Clone()
	}
	return &c
}

// ValidationError reports a rejected field before any graph mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

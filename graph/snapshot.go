package graph

import (
	"sort"
	"time"
)

// Snapshot is the uid-linked event graph one mutation computes over. The
// engine reads and mutates the snapshot only; the resulting ChangeSet is
// applied to storage atomically by the caller, so a failed mutation leaves
// nothing half-written.
type Snapshot struct {
	events         map[string]*Event
	users          map[string]*User
	usersByEmail   map[string]*User
	calendars      map[string]*Calendar
	calendarByUser map[string]*Calendar

	created map[string]bool
	updated map[string]bool
	deleted map[string]*Event
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		events:         make(map[string]*Event),
		users:          make(map[string]*User),
		usersByEmail:   make(map[string]*User),
		calendars:      make(map[string]*Calendar),
		calendarByUser: make(map[string]*Calendar),
		created:        make(map[string]bool),
		updated:        make(map[string]bool),
		deleted:        make(map[string]*Event),
	}
}

// AddEvent loads a persisted event into the snapshot without marking it
// dirty.
func (s *Snapshot) AddEvent(ev *Event) {
	s.events[ev.ID] = ev
}

// AddUser loads a resolvable user.
func (s *Snapshot) AddUser(u *User) {
	s.users[u.ID] = u
	s.usersByEmail[NormalizeEmail(u.Email)] = u
}

// AddCalendar loads a calendar. The first calendar added per user becomes
// that user's personal calendar for child event placement.
func (s *Snapshot) AddCalendar(c *Calendar) {
	s.calendars[c.ID] = c
	if _, ok := s.calendarByUser[c.UserID]; !ok {
		s.calendarByUser[c.UserID] = c
	}
}

// Event returns the record with the given id, or nil.
func (s *Snapshot) Event(id string) *Event {
	return s.events[id]
}

// Events returns all records ordered by id.
func (s *Snapshot) Events() []*Event {
	out := make([]*Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// User returns a loaded user by id, or nil.
func (s *Snapshot) User(id string) *User {
	return s.users[id]
}

// UserByEmail resolves a loaded user by email, or nil.
func (s *Snapshot) UserByEmail(email string) *User {
	return s.usersByEmail[NormalizeEmail(email)]
}

// Calendar returns a loaded calendar by id, or nil.
func (s *Snapshot) Calendar(id string) *Calendar {
	return s.calendars[id]
}

// CalendarOf returns the personal calendar of a user, or nil.
func (s *Snapshot) CalendarOf(userID string) *Calendar {
	return s.calendarByUser[userID]
}

// OwnerOf returns the user owning the event's calendar, or nil.
func (s *Snapshot) OwnerOf(ev *Event) *User {
	cal := s.calendars[ev.CalendarID]
	if cal == nil {
		return nil
	}
	return s.users[cal.UserID]
}

// ExceptionsOf returns the exceptions of a master ordered by original
// start.
func (s *Snapshot) ExceptionsOf(masterID string) []*Event {
	var out []*Event
	for _, ev := range s.events {
		if ev.RecurringEventID == masterID && ev.OriginalStart != nil {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OriginalStart.Before(*out[j].OriginalStart)
	})
	return out
}

// ChildrenOf returns the per-attendee copies of an event ordered by id.
func (s *Snapshot) ChildrenOf(parentID string) []*Event {
	var out []*Event
	for _, ev := range s.events {
		if ev.ParentEventID == parentID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CopiesOf returns every record sharing a uid ordered by id.
func (s *Snapshot) CopiesOf(uid string) []*Event {
	var out []*Event
	for _, ev := range s.events {
		if ev.UID == uid {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CopyForCalendar returns the uid's record living in the given calendar,
// or nil. Masters and their exceptions share a uid, so when a calendar
// holds several records of one series the series (non-exception) copy is
// preferred.
func (s *Snapshot) CopyForCalendar(uid, calendarID string) *Event {
	var fallback *Event
	for _, ev := range s.events {
		if ev.UID == uid && ev.CalendarID == calendarID {
			if !ev.IsException() {
				return ev
			}
			if fallback == nil {
				fallback = ev
			}
		}
	}
	return fallback
}

// ExceptionFor returns the master's exception overriding the given
// generated occurrence instant, or nil.
func (s *Snapshot) ExceptionFor(masterID string, originalStart time.Time) *Event {
	for _, ev := range s.events {
		if ev.RecurringEventID == masterID && ev.OriginalStart != nil &&
			ev.OriginalStart.Equal(originalStart) {
			return ev
		}
	}
	return nil
}

// Create inserts a new record and marks it for persistence.
func (s *Snapshot) Create(ev *Event) {
	s.events[ev.ID] = ev
	s.created[ev.ID] = true
}

// Update marks an existing record dirty. Records created in this snapshot
// stay in the created set.
func (s *Snapshot) Update(ev *Event) {
	s.events[ev.ID] = ev
	if !s.created[ev.ID] {
		s.updated[ev.ID] = true
	}
}

// Delete removes a record. A record created within the same snapshot simply
// vanishes; persisted records are queued for deletion.
func (s *Snapshot) Delete(id string) {
	ev, ok := s.events[id]
	if !ok {
		return
	}
	delete(s.events, id)
	if s.created[id] {
		delete(s.created, id)
		return
	}
	delete(s.updated, id)
	s.deleted[id] = ev
}

// ChangeSet is the persistence-ready outcome of one mutation.
type ChangeSet struct {
	Created []*Event
	Updated []*Event
	Deleted []string
}

// Empty reports whether the mutation changed nothing.
func (c ChangeSet) Empty() bool {
	return len(c.Created) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

// Changes returns the accumulated change set, ordered deterministically.
func (s *Snapshot) Changes() ChangeSet {
	var cs ChangeSet
	for id := range s.created {
		if ev, ok := s.events[id]; ok {
			cs.Created = append(cs.Created, ev)
		}
	}
	for id := range s.updated {
		if ev, ok := s.events[id]; ok {
			cs.Updated = append(cs.Updated, ev)
		}
	}
	for id := range s.deleted {
		cs.Deleted = append(cs.Deleted, id)
	}
	sort.Slice(cs.Created, func(i, j int) bool { return cs.Created[i].ID < cs.Created[j].ID })
	sort.Slice(cs.Updated, func(i, j int) bool { return cs.Updated[i].ID < cs.Updated[j].ID })
	sort.Strings(cs.Deleted)
	return cs
}

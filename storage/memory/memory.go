// Package memory provides an in-memory Storage implementation. It is the
// default backend for tests and single-process deployments; records are
// cloned at the boundary so callers never share pointers with the store.
package memory

import (
	"context"
	"sort"
	"sync"

	"calgraph/graph"
	"calgraph/storage"
)

// Store implements storage.Storage backed by mutex-guarded maps.
type Store struct {
	mu sync.RWMutex

	users        map[string]*graph.User
	usersByEmail map[string]string
	calendars    map[string]*graph.Calendar
	events       map[string]*graph.Event
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:        make(map[string]*graph.User),
		usersByEmail: make(map[string]string),
		calendars:    make(map[string]*graph.Calendar),
		events:       make(map[string]*graph.Event),
	}
}

func (s *Store) CreateUser(_ context.Context, u *graph.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "user " + u.ID}
	}
	cp := *u
	s.users[u.ID] = &cp
	s.usersByEmail[graph.NormalizeEmail(u.Email)] = u.ID
	return nil
}

func (s *Store) GetUser(_ context.Context, userID string) (*graph.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "user " + userID}
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*graph.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByEmail[graph.NormalizeEmail(email)]
	if !ok {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "user " + email}
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Store) CreateCalendar(_ context.Context, cal *graph.Calendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calendars[cal.ID]; ok {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "calendar " + cal.ID}
	}
	cp := *cal
	s.calendars[cal.ID] = &cp
	return nil
}

func (s *Store) GetCalendar(_ context.Context, calendarID string) (*graph.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cal, ok := s.calendars[calendarID]
	if !ok {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "calendar " + calendarID}
	}
	cp := *cal
	return &cp, nil
}

func (s *Store) ListCalendars(_ context.Context, userID string) ([]*graph.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*graph.Calendar
	for _, cal := range s.calendars {
		if cal.UserID == userID {
			cp := *cal
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DefaultCalendar(ctx context.Context, userID string) (*graph.Calendar, error) {
	cals, err := s.ListCalendars(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(cals) == 0 {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "no calendar for user " + userID}
	}
	return cals[0], nil
}

func (s *Store) GetEvent(_ context.Context, id string) (*graph.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "event " + id}
	}
	return ev.Clone(), nil
}

func (s *Store) ListEvents(_ context.Context, calendarID string, opts *storage.ListOptions) ([]*graph.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*graph.Event
	for _, ev := range s.events {
		if ev.CalendarID != calendarID {
			continue
		}
		if opts != nil {
			// A recurring master may generate occurrences long after its
			// stored end, so range filtering only prunes non-recurring rows.
			if ev.Recurrence == nil && !ev.IsException() {
				if opts.End != nil && !ev.Start.Before(*opts.End) {
					continue
				}
				if opts.Start != nil && !ev.End.After(*opts.Start) {
					continue
				}
			}
		}
		out = append(out, ev.Clone())
	}
	sortEvents(out)
	return out, nil
}

func (s *Store) ListExceptions(_ context.Context, masterID string) ([]*graph.Event, error) {
	return s.listWhere(func(ev *graph.Event) bool { return ev.RecurringEventID == masterID })
}

func (s *Store) ListChildren(_ context.Context, parentID string) ([]*graph.Event, error) {
	return s.listWhere(func(ev *graph.Event) bool { return ev.ParentEventID == parentID })
}

func (s *Store) ListByUID(_ context.Context, uid string) ([]*graph.Event, error) {
	return s.listWhere(func(ev *graph.Event) bool { return ev.UID == uid })
}

func (s *Store) listWhere(keep func(*graph.Event) bool) ([]*graph.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*graph.Event
	for _, ev := range s.events {
		if keep(ev) {
			out = append(out, ev.Clone())
		}
	}
	sortEvents(out)
	return out, nil
}

// ApplyChangeSet persists a change set. The map writes happen under one
// lock, so readers observe either none of the change set or all of it.
func (s *Store) ApplyChangeSet(_ context.Context, cs graph.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range cs.Created {
		if _, ok := s.events[ev.ID]; ok {
			return &storage.Error{Type: storage.ErrAlreadyExists, Message: "event " + ev.ID}
		}
	}
	for _, ev := range cs.Updated {
		if _, ok := s.events[ev.ID]; !ok {
			return &storage.Error{Type: storage.ErrNotFound, Message: "event " + ev.ID}
		}
	}
	for _, ev := range cs.Created {
		s.events[ev.ID] = ev.Clone()
	}
	for _, ev := range cs.Updated {
		s.events[ev.ID] = ev.Clone()
	}
	for _, id := range cs.Deleted {
		delete(s.events, id)
	}
	return nil
}

func sortEvents(evs []*graph.Event) {
	sort.Slice(evs, func(i, j int) bool {
		if !evs[i].Start.Equal(evs[j].Start) {
			return evs[i].Start.Before(evs[j].Start)
		}
		return evs[i].ID < evs[j].ID
	})
}

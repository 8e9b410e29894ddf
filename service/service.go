// Package service is the boundary API over the propagation engine: it
// loads the uid-linked graph from storage into a snapshot, runs one pure
// engine mutation, and persists the resulting change set atomically.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"calgraph/engine"
	"calgraph/graph"
	"calgraph/recurrence"
	"calgraph/storage"
)

// Service wires storage and the engine together for request handling.
type Service struct {
	store  storage.Storage
	engine *engine.Engine
	logger *slog.Logger
}

// New creates a Service on the given backend.
func New(store storage.Storage, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		engine: engine.New(),
		logger: logger,
	}
}

// CreateEventRequest carries a new master or exception event. Instants are
// RFC 3339 strings; OriginalStart marks an exception together with
// RecurringEventID.
type CreateEventRequest struct {
	CalendarID      string
	Title           string
	Description     string
	AllDay          bool
	BackgroundColor string
	Start           string
	End             string

	Recurrence *recurrence.Pattern

	RecurringEventID string
	OriginalStart    string

	Attendees []graph.AttendeeInput
}

// CreateEvent validates and persists a new event plus its attendee fan-out.
func (s *Service) CreateEvent(ctx context.Context, rc engine.RequestContext, req CreateEventRequest) (*graph.Event, *engine.Result, error) {
	start, err := parseInstant(req.Start, "start")
	if err != nil {
		return nil, nil, err
	}
	end, err := parseInstant(req.End, "end")
	if err != nil {
		return nil, nil, err
	}

	ev := &graph.Event{
		CalendarID:       req.CalendarID,
		Title:            req.Title,
		Description:      req.Description,
		AllDay:           req.AllDay,
		BackgroundColor:  req.BackgroundColor,
		Start:            start,
		End:              end,
		Recurrence:       req.Recurrence,
		RecurringEventID: req.RecurringEventID,
	}
	if req.OriginalStart != "" {
		os, err := parseInstant(req.OriginalStart, "originalStart")
		if err != nil {
			return nil, nil, err
		}
		ev.OriginalStart = &os
	}

	snap := graph.NewSnapshot()
	if err := s.loadActor(ctx, snap, rc); err != nil {
		return nil, nil, err
	}
	if err := s.loadCalendar(ctx, snap, req.CalendarID); err != nil {
		return nil, nil, err
	}
	if req.RecurringEventID != "" {
		master, err := s.store.GetEvent(ctx, req.RecurringEventID)
		if err != nil {
			return nil, nil, err
		}
		if err := s.loadGraph(ctx, snap, master.UID); err != nil {
			return nil, nil, err
		}
	}
	emails := make([]string, 0, len(req.Attendees))
	for _, a := range req.Attendees {
		emails = append(emails, a.Email)
	}
	if err := s.loadParticipants(ctx, snap, emails); err != nil {
		return nil, nil, err
	}

	res, err := s.engine.Create(rc, snap, ev, req.Attendees)
	if err != nil {
		return nil, nil, mapEngineError(err)
	}
	if err := s.apply(ctx, snap, "create", ev.ID); err != nil {
		return nil, nil, err
	}
	return ev.Clone(), &res, nil
}

// UpdateEvent applies a patch to an event and fans it out across the
// uid graph per the propagation rules.
func (s *Service) UpdateEvent(ctx context.Context, rc engine.RequestContext, id string, patch graph.EventPatch) (*graph.Event, *engine.Result, error) {
	snap, err := s.loadGraphFor(ctx, rc, id)
	if err != nil {
		return nil, nil, err
	}
	if inputs, ok := patch.Attendees.Get(); ok {
		emails := make([]string, 0, len(inputs))
		for _, a := range inputs {
			emails = append(emails, a.Email)
		}
		if err := s.loadParticipants(ctx, snap, emails); err != nil {
			return nil, nil, err
		}
	}

	res, err := s.engine.Propagate(rc, snap, id, patch)
	if err != nil {
		return nil, nil, mapEngineError(err)
	}
	if err := s.apply(ctx, snap, "update", id); err != nil {
		return nil, nil, err
	}
	updated := snap.Event(id)
	if updated == nil {
		return nil, &res, nil
	}
	return updated.Clone(), &res, nil
}

// DeleteEvent removes, cancels or leaves an event depending on who the
// actor is in the event's graph.
func (s *Service) DeleteEvent(ctx context.Context, rc engine.RequestContext, id string, cancelInsteadDelete bool) (*engine.Result, error) {
	snap, err := s.loadGraphFor(ctx, rc, id)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Delete(rc, snap, id, cancelInsteadDelete)
	if err != nil {
		return nil, mapEngineError(err)
	}
	if err := s.apply(ctx, snap, "delete", id); err != nil {
		return nil, err
	}
	return &res, nil
}

// EventInstance is one row of a calendar listing: either a stored record
// or one generated occurrence of a recurring series.
type EventInstance struct {
	Event         *graph.Event
	Start         time.Time
	End           time.Time
	OriginalStart *time.Time
}

// ListEvents lists a calendar over [windowStart, windowEnd). With
// subordinate=true recurring series are expanded into per-occurrence rows
// through the exception overlay; otherwise stored rows are returned as-is.
func (s *Service) ListEvents(ctx context.Context, rc engine.RequestContext, calendarID string, windowStart, windowEnd string, subordinate bool) ([]EventInstance, error) {
	ws, err := parseInstant(windowStart, "start")
	if err != nil {
		return nil, err
	}
	we, err := parseInstant(windowEnd, "end")
	if err != nil {
		return nil, err
	}

	cal, err := s.store.GetCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	if cal.UserID != rc.UserID {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "calendar " + calendarID}
	}

	rows, err := s.store.ListEvents(ctx, calendarID, &storage.ListOptions{Start: &ws, End: &we})
	if err != nil {
		return nil, err
	}

	if !subordinate {
		out := make([]EventInstance, 0, len(rows))
		for _, ev := range rows {
			out = append(out, EventInstance{Event: ev, Start: ev.Start, End: ev.End, OriginalStart: ev.OriginalStart})
		}
		return out, nil
	}

	snap := graph.NewSnapshot()
	for _, ev := range rows {
		snap.AddEvent(ev)
	}

	var out []EventInstance
	for _, ev := range rows {
		switch {
		case ev.IsException():
			// Surfaced through its master's overlay.
		case ev.Recurrence != nil:
			occs, err := s.engine.Expand(snap, ev, ws, we)
			if err != nil {
				return nil, &storage.Error{Type: storage.ErrInvalidInput,
					Message: "expand event " + ev.ID, Err: err}
			}
			for _, occ := range occs {
				inst := EventInstance{Event: ev, Start: occ.Start, End: occ.End}
				os := occ.OriginalStart
				inst.OriginalStart = &os
				if occ.Exception != nil {
					inst.Event = occ.Exception
				}
				out = append(out, inst)
			}
		default:
			if ev.IsCancelled {
				continue
			}
			out = append(out, EventInstance{Event: ev, Start: ev.Start, End: ev.End})
		}
	}
	sortInstances(out)
	return out, nil
}

// loadGraphFor builds the mutation snapshot around one event: the whole
// uid graph, every participant resolvable in it, and the acting user.
func (s *Service) loadGraphFor(ctx context.Context, rc engine.RequestContext, id string) (*graph.Snapshot, error) {
	target, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := graph.NewSnapshot()
	if err := s.loadActor(ctx, snap, rc); err != nil {
		return nil, err
	}
	if err := s.loadGraph(ctx, snap, target.UID); err != nil {
		return nil, err
	}
	return snap, nil
}

// loadGraph loads every record sharing the uid plus the calendars, owners
// and resolvable attendees those records reference.
func (s *Service) loadGraph(ctx context.Context, snap *graph.Snapshot, uid string) error {
	events, err := s.store.ListByUID(ctx, uid)
	if err != nil {
		return err
	}
	var emails []string
	for _, ev := range events {
		snap.AddEvent(ev)
		if err := s.loadCalendar(ctx, snap, ev.CalendarID); err != nil {
			return err
		}
		for _, a := range ev.Attendees {
			emails = append(emails, a.Email)
		}
	}
	return s.loadParticipants(ctx, snap, emails)
}

// loadParticipants resolves attendee emails to users and loads each
// resolved user's calendars. Unresolvable emails are guests and load
// nothing.
func (s *Service) loadParticipants(ctx context.Context, snap *graph.Snapshot, emails []string) error {
	for _, email := range emails {
		if snap.UserByEmail(email) != nil {
			continue
		}
		u, err := s.store.GetUserByEmail(ctx, email)
		if err != nil {
			if storage.IsNotFound(err) {
				continue
			}
			return err
		}
		if err := s.loadUser(ctx, snap, u); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) loadActor(ctx context.Context, snap *graph.Snapshot, rc engine.RequestContext) error {
	if snap.User(rc.UserID) != nil {
		return nil
	}
	u, err := s.store.GetUser(ctx, rc.UserID)
	if err != nil {
		return err
	}
	return s.loadUser(ctx, snap, u)
}

func (s *Service) loadUser(ctx context.Context, snap *graph.Snapshot, u *graph.User) error {
	snap.AddUser(u)
	cals, err := s.store.ListCalendars(ctx, u.ID)
	if err != nil {
		return err
	}
	for _, cal := range cals {
		snap.AddCalendar(cal)
	}
	return nil
}

func (s *Service) loadCalendar(ctx context.Context, snap *graph.Snapshot, calendarID string) error {
	if snap.Calendar(calendarID) != nil {
		return nil
	}
	cal, err := s.store.GetCalendar(ctx, calendarID)
	if err != nil {
		return err
	}
	snap.AddCalendar(cal)
	if snap.User(cal.UserID) == nil {
		owner, err := s.store.GetUser(ctx, cal.UserID)
		if err != nil {
			if storage.IsNotFound(err) {
				return nil
			}
			return err
		}
		if err := s.loadUser(ctx, snap, owner); err != nil {
			return err
		}
	}
	return nil
}

// apply persists the snapshot's change set in one shot.
func (s *Service) apply(ctx context.Context, snap *graph.Snapshot, op, id string) error {
	cs := snap.Changes()
	if cs.Empty() {
		s.logger.Debug("no-op mutation", "op", op, "event", id)
		return nil
	}
	if err := s.store.ApplyChangeSet(ctx, cs); err != nil {
		s.logger.Error("apply change set", "op", op, "event", id, "error", err)
		return err
	}
	s.logger.Info("applied change set", "op", op, "event", id,
		"created", len(cs.Created), "updated", len(cs.Updated), "deleted", len(cs.Deleted))
	return nil
}

// mapEngineError translates engine sentinels and validation failures into
// typed storage errors for the transport layer.
func mapEngineError(err error) error {
	var verr *graph.ValidationError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return &storage.Error{Type: storage.ErrNotFound, Message: err.Error()}
	case errors.Is(err, engine.ErrPermission):
		return &storage.Error{Type: storage.ErrPermissionDenied, Message: err.Error()}
	case errors.As(err, &verr):
		return &storage.Error{Type: storage.ErrInvalidInput, Message: verr.Error(), Err: err}
	default:
		return err
	}
}

func parseInstant(v, field string) (time.Time, error) {
	if v == "" {
		return time.Time{}, &storage.Error{Type: storage.ErrInvalidInput,
			Message: fmt.Sprintf("%s is required", field)}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &storage.Error{Type: storage.ErrInvalidInput,
			Message: fmt.Sprintf("%s must be RFC 3339", field), Err: err}
	}
	return t, nil
}

func sortInstances(out []EventInstance) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Event.ID < out[j].Event.ID
	})
}

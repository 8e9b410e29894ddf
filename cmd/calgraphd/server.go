package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/mo"

	"calgraph/engine"
	"calgraph/graph"
	"calgraph/recurrence"
	"calgraph/service"
	"calgraph/storage"
)

type server struct {
	svc    *service.Service
	logger *slog.Logger
}

func newServer(svc *service.Service, logger *slog.Logger) *server {
	return &server{svc: svc, logger: logger}
}

func (s *server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/calendars/{cid}/events", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/calendars/{cid}/events", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/events/{id}", s.handleUpdate).Methods(http.MethodPut)
	r.HandleFunc("/events/{id}", s.handleDelete).Methods(http.MethodDelete)
	r.Use(s.logRequests)
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// requestContext identifies the acting user. Authentication is out of
// scope; the identity headers are trusted as-is.
func requestContext(r *http.Request) (engine.RequestContext, bool) {
	rc := engine.RequestContext{
		UserID:         r.Header.Get("X-User-ID"),
		OrganizationID: r.Header.Get("X-Organization-ID"),
	}
	return rc, rc.UserID != ""
}

type attendeeBody struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Status      string `json:"status,omitempty"`
	Type        string `json:"type,omitempty"`
}

type recurrenceBody struct {
	Freq        string     `json:"freq"`
	Interval    int        `json:"interval"`
	DaysOfWeek  []int      `json:"daysOfWeek,omitempty"`
	WeekOfMonth int        `json:"weekOfMonth,omitempty"`
	DayOfMonth  int        `json:"dayOfMonth,omitempty"`
	MonthOfYear int        `json:"monthOfYear,omitempty"`
	TimeZone    string     `json:"timeZone"`
	Count       int        `json:"count,omitempty"`
	Until       *time.Time `json:"until,omitempty"`
}

type createBody struct {
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	AllDay           bool            `json:"allDay,omitempty"`
	BackgroundColor  string          `json:"backgroundColor,omitempty"`
	Start            string          `json:"start"`
	End              string          `json:"end"`
	Recurrence       *recurrenceBody `json:"recurrence,omitempty"`
	RecurringEventID string          `json:"recurringEventId,omitempty"`
	OriginalStart    string          `json:"originalStart,omitempty"`
	Attendees        []attendeeBody  `json:"attendees,omitempty"`
}

type updateBody struct {
	Title            *string         `json:"title,omitempty"`
	Description      *string         `json:"description,omitempty"`
	AllDay           *bool           `json:"allDay,omitempty"`
	BackgroundColor  *string         `json:"backgroundColor,omitempty"`
	Start            *string         `json:"start,omitempty"`
	End              *string         `json:"end,omitempty"`
	Recurrence       *recurrenceBody `json:"recurrence,omitempty"`
	ClearRecurrence  bool            `json:"clearRecurrence,omitempty"`
	Attendees        *[]attendeeBody `json:"attendees,omitempty"`
	UpdateExceptions bool            `json:"updateExceptions,omitempty"`
}

type eventBody struct {
	ID               string          `json:"id"`
	UID              string          `json:"uid"`
	CalendarID       string          `json:"calendarId"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	AllDay           bool            `json:"allDay,omitempty"`
	BackgroundColor  string          `json:"backgroundColor,omitempty"`
	Start            time.Time       `json:"start"`
	End              time.Time       `json:"end"`
	Recurrence       *recurrenceBody `json:"recurrence,omitempty"`
	RecurringEventID string          `json:"recurringEventId,omitempty"`
	OriginalStart    *time.Time      `json:"originalStart,omitempty"`
	IsCancelled      bool            `json:"isCancelled,omitempty"`
	Attendees        []attendeeBody  `json:"attendees,omitempty"`
}

type resultBody struct {
	Event      *eventBody `json:"event,omitempty"`
	Notifiable bool       `json:"notifiable"`
	Invitation string     `json:"invitationStatus,omitempty"`
	Editable   bool       `json:"editableInvitationStatus"`
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestContext(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return
	}
	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	req := service.CreateEventRequest{
		CalendarID:       mux.Vars(r)["cid"],
		Title:            body.Title,
		Description:      body.Description,
		AllDay:           body.AllDay,
		BackgroundColor:  body.BackgroundColor,
		Start:            body.Start,
		End:              body.End,
		RecurringEventID: body.RecurringEventID,
		OriginalStart:    body.OriginalStart,
		Attendees:        attendeeInputs(body.Attendees),
	}
	if body.Recurrence != nil {
		pattern, err := toPattern(body.Recurrence)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Recurrence = pattern
	}

	ev, res, err := s.svc.CreateEvent(r.Context(), rc, req)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toResultBody(ev, res))
}

func (s *server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestContext(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return
	}
	var body updateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	patch, err := toPatch(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, res, err := s.svc.UpdateEvent(r.Context(), rc, mux.Vars(r)["id"], patch)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toResultBody(ev, res))
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestContext(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return
	}
	cancel := r.URL.Query().Get("cancel") != "false"

	res, err := s.svc.DeleteEvent(r.Context(), rc, mux.Vars(r)["id"], cancel)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toResultBody(nil, res))
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestContext(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return
	}
	q := r.URL.Query()
	subordinate := q.Get("subordinate") == "true"

	rows, err := s.svc.ListEvents(r.Context(), rc, mux.Vars(r)["cid"],
		q.Get("start"), q.Get("end"), subordinate)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	out := make([]*eventBody, 0, len(rows))
	for _, row := range rows {
		b := toEventBody(row.Event)
		b.Start = row.Start
		b.End = row.End
		b.OriginalStart = row.OriginalStart
		out = append(out, b)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func attendeeInputs(in []attendeeBody) []graph.AttendeeInput {
	out := make([]graph.AttendeeInput, 0, len(in))
	for _, a := range in {
		out = append(out, graph.AttendeeInput{
			Email:       a.Email,
			DisplayName: a.DisplayName,
			Status:      graph.AttendeeStatus(a.Status),
			Type:        graph.AttendeeType(a.Type),
		})
	}
	return out
}

func toPatch(body updateBody) (graph.EventPatch, error) {
	patch := graph.EventPatch{UpdateExceptions: body.UpdateExceptions}
	if body.Title != nil {
		patch.Title = mo.Some(*body.Title)
	}
	if body.Description != nil {
		patch.Description = mo.Some(*body.Description)
	}
	if body.AllDay != nil {
		patch.AllDay = mo.Some(*body.AllDay)
	}
	if body.BackgroundColor != nil {
		patch.BackgroundColor = mo.Some(*body.BackgroundColor)
	}
	if body.Start != nil {
		t, err := time.Parse(time.RFC3339, *body.Start)
		if err != nil {
			return patch, errors.New("start must be RFC 3339")
		}
		patch.Start = mo.Some(t)
	}
	if body.End != nil {
		t, err := time.Parse(time.RFC3339, *body.End)
		if err != nil {
			return patch, errors.New("end must be RFC 3339")
		}
		patch.End = mo.Some(t)
	}
	switch {
	case body.ClearRecurrence:
		patch.Recurrence = mo.Some[*recurrence.Pattern](nil)
	case body.Recurrence != nil:
		pattern, err := toPattern(body.Recurrence)
		if err != nil {
			return patch, err
		}
		patch.Recurrence = mo.Some(pattern)
	}
	if body.Attendees != nil {
		patch.Attendees = mo.Some(attendeeInputs(*body.Attendees))
	}
	return patch, nil
}

func toPattern(body *recurrenceBody) (*recurrence.Pattern, error) {
	p := &recurrence.Pattern{
		Interval:    body.Interval,
		WeekOfMonth: body.WeekOfMonth,
		DayOfMonth:  body.DayOfMonth,
		MonthOfYear: time.Month(body.MonthOfYear),
		TimeZone:    body.TimeZone,
		Count:       body.Count,
		Until:       body.Until,
	}
	for _, d := range body.DaysOfWeek {
		p.DaysOfWeek = append(p.DaysOfWeek, time.Weekday(d))
	}
	switch body.Freq {
	case "daily":
		p.Freq = recurrence.Daily
	case "weekly":
		p.Freq = recurrence.Weekly
	case "monthly":
		p.Freq = recurrence.Monthly
	case "monthlynth":
		p.Freq = recurrence.MonthlyNth
	case "yearly":
		p.Freq = recurrence.Yearly
	case "yearlynth":
		p.Freq = recurrence.YearlyNth
	default:
		return nil, errors.New("unknown recurrence freq " + body.Freq)
	}
	return p, nil
}

func toPatternBody(p *recurrence.Pattern) *recurrenceBody {
	if p == nil {
		return nil
	}
	b := &recurrenceBody{
		Freq:        p.Freq.String(),
		Interval:    p.Interval,
		WeekOfMonth: p.WeekOfMonth,
		DayOfMonth:  p.DayOfMonth,
		MonthOfYear: int(p.MonthOfYear),
		TimeZone:    p.TimeZone,
		Count:       p.Count,
		Until:       p.Until,
	}
	for _, d := range p.DaysOfWeek {
		b.DaysOfWeek = append(b.DaysOfWeek, int(d))
	}
	return b
}

func toEventBody(ev *graph.Event) *eventBody {
	if ev == nil {
		return nil
	}
	b := &eventBody{
		ID:               ev.ID,
		UID:              ev.UID,
		CalendarID:       ev.CalendarID,
		Title:            ev.Title,
		Description:      ev.Description,
		AllDay:           ev.AllDay,
		BackgroundColor:  ev.BackgroundColor,
		Start:            ev.Start,
		End:              ev.End,
		Recurrence:       toPatternBody(ev.Recurrence),
		RecurringEventID: ev.RecurringEventID,
		OriginalStart:    ev.OriginalStart,
		IsCancelled:      ev.IsCancelled,
	}
	for _, a := range ev.Attendees {
		b.Attendees = append(b.Attendees, attendeeBody{
			Email:       a.Email,
			DisplayName: a.DisplayName,
			Status:      string(a.Status),
			Type:        string(a.Type),
		})
	}
	return b
}

func toResultBody(ev *graph.Event, res *engine.Result) resultBody {
	body := resultBody{Event: toEventBody(ev)}
	if res != nil {
		body.Notifiable = res.Notifiable
		body.Invitation = string(res.InvitationStatus)
		body.Editable = res.EditableInvitationStatus
	}
	return body
}

func (s *server) writeStorageError(w http.ResponseWriter, err error) {
	var serr *storage.Error
	if errors.As(err, &serr) {
		switch serr.Type {
		case storage.ErrNotFound:
			s.writeError(w, http.StatusNotFound, serr.Message)
		case storage.ErrAlreadyExists:
			s.writeError(w, http.StatusConflict, serr.Message)
		case storage.ErrInvalidInput:
			s.writeError(w, http.StatusBadRequest, serr.Message)
		case storage.ErrPermissionDenied:
			s.writeError(w, http.StatusForbidden, serr.Message)
		default:
			s.writeError(w, http.StatusInternalServerError, serr.Message)
		}
		return
	}
	s.logger.Error("internal error", "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

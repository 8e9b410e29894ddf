// Package sqlite provides a Storage implementation on SQLite. Events and
// attendees live in separate tables; the recurrence pattern is serialized
// as JSON since backends never interpret it.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"calgraph/graph"
	"calgraph/recurrence"
	"calgraph/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id              TEXT PRIMARY KEY,
	email           TEXT NOT NULL UNIQUE,
	display_name    TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS calendars (
	id        TEXT PRIMARY KEY,
	user_id   TEXT NOT NULL,
	name      TEXT NOT NULL DEFAULT '',
	color     TEXT NOT NULL DEFAULT '',
	time_zone TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_calendars_user ON calendars(user_id);

CREATE TABLE IF NOT EXISTS events (
	id                  TEXT PRIMARY KEY,
	uid                 TEXT NOT NULL,
	calendar_id         TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	all_day             INTEGER NOT NULL DEFAULT 0,
	background_color    TEXT NOT NULL DEFAULT '',
	start_at            TEXT NOT NULL,
	end_at              TEXT NOT NULL,
	recurrence          TEXT,
	recurring_event_id  TEXT NOT NULL DEFAULT '',
	original_start      TEXT,
	is_cancelled        INTEGER NOT NULL DEFAULT 0,
	parent_event_id     TEXT NOT NULL DEFAULT '',
	attendees_overridden INTEGER NOT NULL DEFAULT 0,
	created_at          TEXT NOT NULL,
	modified_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_calendar ON events(calendar_id);
CREATE INDEX IF NOT EXISTS idx_events_uid ON events(uid);
CREATE INDEX IF NOT EXISTS idx_events_master ON events(recurring_event_id);
CREATE INDEX IF NOT EXISTS idx_events_parent ON events(parent_event_id);

CREATE TABLE IF NOT EXISTS attendees (
	event_id     TEXT NOT NULL,
	position     INTEGER NOT NULL,
	email        TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'none',
	type         TEXT NOT NULL DEFAULT 'required',
	user_id      TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (event_id, position),
	FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE
);
`

// Store implements storage.Storage on a SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and bootstraps the schema.
// Use ":memory:" for an ephemeral database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Fixed-width so the SQL range comparisons on TEXT columns order
// chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(v string) (time.Time, error) {
	return time.Parse(timeLayout, v)
}

func (s *Store) CreateUser(ctx context.Context, u *graph.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, organization_id) VALUES (?, ?, ?, ?)`,
		u.ID, graph.NormalizeEmail(u.Email), u.DisplayName, u.OrganizationID)
	if err != nil {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "user " + u.ID, Err: err}
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*graph.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, organization_id FROM users WHERE id = ?`, userID),
		"user "+userID)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*graph.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, organization_id FROM users WHERE email = ?`,
		graph.NormalizeEmail(email)), "user "+email)
}

func (s *Store) scanUser(row *sql.Row, what string) (*graph.User, error) {
	var u graph.User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.OrganizationID)
	if err == sql.ErrNoRows {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: what}
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (s *Store) CreateCalendar(ctx context.Context, cal *graph.Calendar) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendars (id, user_id, name, color, time_zone) VALUES (?, ?, ?, ?, ?)`,
		cal.ID, cal.UserID, cal.Name, cal.Color, cal.TimeZone)
	if err != nil {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "calendar " + cal.ID, Err: err}
	}
	return nil
}

func (s *Store) GetCalendar(ctx context.Context, calendarID string) (*graph.Calendar, error) {
	var cal graph.Calendar
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, color, time_zone FROM calendars WHERE id = ?`, calendarID).
		Scan(&cal.ID, &cal.UserID, &cal.Name, &cal.Color, &cal.TimeZone)
	if err == sql.ErrNoRows {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "calendar " + calendarID}
	}
	if err != nil {
		return nil, fmt.Errorf("scan calendar: %w", err)
	}
	return &cal, nil
}

func (s *Store) ListCalendars(ctx context.Context, userID string) ([]*graph.Calendar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, color, time_zone FROM calendars WHERE user_id = ? ORDER BY id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	defer rows.Close()

	var out []*graph.Calendar
	for rows.Next() {
		var cal graph.Calendar
		if err := rows.Scan(&cal.ID, &cal.UserID, &cal.Name, &cal.Color, &cal.TimeZone); err != nil {
			return nil, fmt.Errorf("scan calendar: %w", err)
		}
		out = append(out, &cal)
	}
	return out, rows.Err()
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

const eventColumns = `id, uid, calendar_id, title, description, all_day, background_color,
	start_at, end_at, recurrence, recurring_event_id, original_start, is_cancelled,
	parent_event_id, attendees_overridden, created_at, modified_at`

func (s *Store) GetEvent(ctx context.Context, id string) (*graph.Event, error) {
	evs, err := s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(evs) == 0 {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "event " + id}
	}
	return evs[0], nil
}

func (s *Store) ListEvents(ctx context.Context, calendarID string, opts *storage.ListOptions) ([]*graph.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE calendar_id = ?`
	args := []any{calendarID}
	if opts != nil {
		// Recurring masters and exceptions always survive the range filter:
		// their occurrences are generated, not stored.
		if opts.End != nil {
			q += ` AND (recurrence IS NOT NULL OR recurring_event_id != '' OR start_at < ?)`
			args = append(args, encodeTime(*opts.End))
		}
		if opts.Start != nil {
			q += ` AND (recurrence IS NOT NULL OR recurring_event_id != '' OR end_at > ?)`
			args = append(args, encodeTime(*opts.Start))
		}
	}
	q += ` ORDER BY start_at, id`
	return s.queryEvents(ctx, q, args...)
}

func (s *Store) ListExceptions(ctx context.Context, masterID string) ([]*graph.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE recurring_event_id = ? ORDER BY start_at, id`,
		masterID)
}

func (s *Store) ListChildren(ctx context.Context, parentID string) ([]*graph.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE parent_event_id = ? ORDER BY start_at, id`,
		parentID)
}

func (s *Store) ListByUID(ctx context.Context, uid string) ([]*graph.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE uid = ? ORDER BY start_at, id`, uid)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]*graph.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*graph.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, ev := range out {
		if err := s.loadAttendees(ctx, ev); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanEvent(rows *sql.Rows) (*graph.Event, error) {
	var (
		ev                       graph.Event
		startAt, endAt           string
		createdAt, modifiedAt    string
		recJSON, originalStart   sql.NullString
		allDay, cancelled, ovrrd bool
	)
	err := rows.Scan(&ev.ID, &ev.UID, &ev.CalendarID, &ev.Title, &ev.Description,
		&allDay, &ev.BackgroundColor, &startAt, &endAt, &recJSON,
		&ev.RecurringEventID, &originalStart, &cancelled, &ev.ParentEventID,
		&ovrrd, &createdAt, &modifiedAt)
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	ev.AllDay, ev.IsCancelled, ev.AttendeesOverridden = allDay, cancelled, ovrrd

	if ev.Start, err = decodeTime(startAt); err != nil {
		return nil, fmt.Errorf("event %s start: %w", ev.ID, err)
	}
	if ev.End, err = decodeTime(endAt); err != nil {
		return nil, fmt.Errorf("event %s end: %w", ev.ID, err)
	}
	if ev.Created, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("event %s created: %w", ev.ID, err)
	}
	if ev.Modified, err = decodeTime(modifiedAt); err != nil {
		return nil, fmt.Errorf("event %s modified: %w", ev.ID, err)
	}
	if originalStart.Valid {
		t, err := decodeTime(originalStart.String)
		if err != nil {
			return nil, fmt.Errorf("event %s original start: %w", ev.ID, err)
		}
		ev.OriginalStart = &t
	}
	if recJSON.Valid {
		var p recurrence.Pattern
		if err := json.Unmarshal([]byte(recJSON.String), &p); err != nil {
			return nil, fmt.Errorf("event %s recurrence: %w", ev.ID, err)
		}
		ev.Recurrence = &p
	}
	return &ev, nil
}

func (s *Store) loadAttendees(ctx context.Context, ev *graph.Event) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email, display_name, status, type, user_id, created_at, updated_at
		 FROM attendees WHERE event_id = ? ORDER BY position`, ev.ID)
	if err != nil {
		return fmt.Errorf("query attendees: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a                graph.Attendee
			created, updated string
		)
		if err := rows.Scan(&a.Email, &a.DisplayName, &a.Status, &a.Type, &a.UserID,
			&created, &updated); err != nil {
			return fmt.Errorf("scan attendee: %w", err)
		}
		if a.Created, err = decodeTime(created); err != nil {
			return fmt.Errorf("attendee created: %w", err)
		}
		if a.Updated, err = decodeTime(updated); err != nil {
			return fmt.Errorf("attendee updated: %w", err)
		}
		ev.Attendees = append(ev.Attendees, &a)
	}
	return rows.Err()
}

// ApplyChangeSet persists the change set inside one transaction.
func (s *Store) ApplyChangeSet(ctx context.Context, cs graph.ChangeSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, ev := range cs.Created {
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	for _, ev := range cs.Updated {
		if err := updateEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	for _, id := range cs.Deleted {
		if _, err := tx.ExecContext(ctx, `DELETE FROM attendees WHERE event_id = ?`, id); err != nil {
			return fmt.Errorf("delete attendees of %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete event %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev *graph.Event) error {
	recJSON, originalStart, err := encodeOptional(ev)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UID, ev.CalendarID, ev.Title, ev.Description, ev.AllDay,
		ev.BackgroundColor, encodeTime(ev.Start), encodeTime(ev.End), recJSON,
		ev.RecurringEventID, originalStart, ev.IsCancelled, ev.ParentEventID,
		ev.AttendeesOverridden, encodeTime(ev.Created), encodeTime(ev.Modified))
	if err != nil {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "event " + ev.ID, Err: err}
	}
	return writeAttendees(ctx, tx, ev)
}

func updateEvent(ctx context.Context, tx *sql.Tx, ev *graph.Event) error {
	recJSON, originalStart, err := encodeOptional(ev)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE events SET
		uid = ?, calendar_id = ?, title = ?, description = ?, all_day = ?,
		background_color = ?, start_at = ?, end_at = ?, recurrence = ?,
		recurring_event_id = ?, original_start = ?, is_cancelled = ?,
		parent_event_id = ?, attendees_overridden = ?, modified_at = ?
		WHERE id = ?`,
		ev.UID, ev.CalendarID, ev.Title, ev.Description, ev.AllDay,
		ev.BackgroundColor, encodeTime(ev.Start), encodeTime(ev.End), recJSON,
		ev.RecurringEventID, originalStart, ev.IsCancelled, ev.ParentEventID,
		ev.AttendeesOverridden, encodeTime(ev.Modified), ev.ID)
	if err != nil {
		return fmt.Errorf("update event %s: %w", ev.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update event %s: %w", ev.ID, err)
	}
	if n == 0 {
		return &storage.Error{Type: storage.ErrNotFound, Message: "event " + ev.ID}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attendees WHERE event_id = ?`, ev.ID); err != nil {
		return fmt.Errorf("reset attendees of %s: %w", ev.ID, err)
	}
	return writeAttendees(ctx, tx, ev)
}

func writeAttendees(ctx context.Context, tx *sql.Tx, ev *graph.Event) error {
	for i, a := range ev.Attendees {
		_, err := tx.ExecContext(ctx, `INSERT INTO attendees
			(event_id, position, email, display_name, status, type, user_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, i, a.Email, a.DisplayName, string(a.Status), string(a.Type),
			a.UserID, encodeTime(a.Created), encodeTime(a.Updated))
		if err != nil {
			return fmt.Errorf("insert attendee %s of %s: %w", a.Email, ev.ID, err)
		}
	}
	return nil
}

func encodeOptional(ev *graph.Event) (recJSON, originalStart sql.NullString, err error) {
	if ev.Recurrence != nil {
		b, merr := json.Marshal(ev.Recurrence)
		if merr != nil {
			return recJSON, originalStart, fmt.Errorf("marshal recurrence of %s: %w", ev.ID, merr)
		}
		recJSON = sql.NullString{String: string(b), Valid: true}
	}
	if ev.OriginalStart != nil {
		originalStart = sql.NullString{String: encodeTime(*ev.OriginalStart), Valid: true}
	}
	return recJSON, originalStart, nil
}

// Package storage defines the persistence boundary for calendar event
// graphs. Backends store flat records; all graph semantics live in the
// engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calgraph/graph"
)

// Error types
type ErrorType string

const (
	ErrNotFound         ErrorType = "not_found"
	ErrAlreadyExists    ErrorType = "already_exists"
	ErrInvalidInput     ErrorType = "invalid_input"
	ErrPermissionDenied ErrorType = "permission_denied"
)

// Error represents a storage-related error
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a not-found storage error.
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Type == ErrNotFound
}

// IsAlreadyExists reports whether err is an already-exists storage error.
func IsAlreadyExists(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Type == ErrAlreadyExists
}

// ListOptions filters stored event rows.
type ListOptions struct {
	// Time range filter on the stored start/end instants.
	Start *time.Time
	End   *time.Time
}

// Storage is the interface event-graph backends implement. ApplyChangeSet
// must be atomic: either the whole change set is persisted or none of it,
// since one mutation's fan-out spans many records.
type Storage interface {
	// User operations
	CreateUser(ctx context.Context, u *graph.User) error
	GetUser(ctx context.Context, userID string) (*graph.User, error)
	GetUserByEmail(ctx context.Context, email string) (*graph.User, error)

	// Calendar operations
	CreateCalendar(ctx context.Context, cal *graph.Calendar) error
	GetCalendar(ctx context.Context, calendarID string) (*graph.Calendar, error)
	ListCalendars(ctx context.Context, userID string) ([]*graph.Calendar, error)
	DefaultCalendar(ctx context.Context, userID string) (*graph.Calendar, error)

	// Event operations
	GetEvent(ctx context.Context, id string) (*graph.Event, error)
	ListEvents(ctx context.Context, calendarID string, opts *ListOptions) ([]*graph.Event, error)
	ListExceptions(ctx context.Context, masterID string) ([]*graph.Event, error)
	ListChildren(ctx context.Context, parentID string) ([]*graph.Event, error)
	ListByUID(ctx context.Context, uid string) ([]*graph.Event, error)

	ApplyChangeSet(ctx context.Context, cs graph.ChangeSet) error
}

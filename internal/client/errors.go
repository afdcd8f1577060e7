package client

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/spec-kit/ticket-desk/internal/api/dto"
	"github.com/spec-kit/ticket-desk/internal/domain"
)

var (
	// ErrNotFound means the server has no ticket with the requested id.
	ErrNotFound = errors.New("ticket not found")
	// ErrUnauthorized is returned when the server rejects the credentials.
	// The session is cleared before it is returned.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionExpired is returned without a network call when the stored
	// token has expired.
	ErrSessionExpired = errors.New("session expired")
	// ErrMutationInFlight rejects a status change while another one for the
	// same ticket has not settled.
	ErrMutationInFlight = errors.New("a status change for this ticket is already in flight")
	// ErrListSuperseded is returned by a list fetch that was cancelled by a
	// fetch for other parameters when no cached page can stand in for it.
	ErrListSuperseded = errors.New("list fetch superseded by a newer query")
)

// ConflictError reports that a conditional update lost against a newer
// version. Current is the authoritative ticket sent by the server.
type ConflictError struct {
	Message string
	Current dto.Ticket
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ticket %s was modified (current version %s): %s", e.Current.ID, e.Current.UpdatedAt, e.Message)
}

// ValidationError carries client-side field errors; no request was sent.
type ValidationError struct {
	Fields domain.FieldErrors
}

func (e *ValidationError) Error() string {
	return "invalid ticket: " + e.Fields.Error()
}

// StatusError is any other non-2xx response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsConflict reports whether err is a *ConflictError and returns it.
func IsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

func isAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrSessionExpired)
}

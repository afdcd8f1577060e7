package events

import (
	"time"

	"github.com/spec-kit/ticket-desk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketUpdated       EventType = "ticket_updated"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketConflict      EventType = "ticket_conflict"
)

// AllEventTypes lists every event the services publish.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketUpdated,
	EventTicketStatusChanged,
	EventTicketConflict,
}

// Actor identifies who caused the event; empty for anonymous callers.
type Actor struct {
	UserID string `json:"user_id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Code           string                `json:"code"`
	Priority       domain.TicketPriority `json:"priority"`
	Title          string                `json:"title"`
	RequesterEmail string                `json:"requester_email"`
}

// TicketUpdatedPayload payload.
type TicketUpdatedPayload struct {
	PreviousVersion string `json:"previous_version"`
	Version         string `json:"version"`
	Conditional     bool   `json:"conditional"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	Code           string              `json:"code"`
	OldStatus      domain.TicketStatus `json:"old_status"`
	NewStatus      domain.TicketStatus `json:"new_status"`
	Version        string              `json:"version"`
	RequesterEmail string              `json:"requester_email"`
}

// TicketConflictPayload describes a refused conditional write.
type TicketConflictPayload struct {
	ExpectedVersion string `json:"expected_version"`
	CurrentVersion  string `json:"current_version"`
}

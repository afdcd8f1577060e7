package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// TicketStatuses lists every valid status in display order.
var TicketStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusInProgress,
	TicketStatusResolved,
	TicketStatusClosed,
}

// Valid reports whether s is one of the known statuses.
func (s TicketStatus) Valid() bool {
	for _, candidate := range TicketStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
)

// TicketPriorities lists every valid priority.
var TicketPriorities = []TicketPriority{
	TicketPriorityLow,
	TicketPriorityMedium,
	TicketPriorityHigh,
}

// Valid reports whether p is one of the known priorities.
func (p TicketPriority) Valid() bool {
	for _, candidate := range TicketPriorities {
		if p == candidate {
			return true
		}
	}
	return false
}

// Requester is the person who raised the ticket.
type Requester struct {
	Name  string
	Email string
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID          string
	Code        string
	Title       string
	Description string
	Status      TicketStatus
	Priority    TicketPriority
	Requester   Requester
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Version returns the opaque concurrency token of the ticket.
func (t *Ticket) Version() string {
	return FormatTimestamp(t.UpdatedAt)
}

// Clone returns a copy that shares no slices with t.
func (t Ticket) Clone() Ticket {
	if t.Tags != nil {
		t.Tags = append([]string(nil), t.Tags...)
	}
	return t
}

// Fields returns the mutable part of the ticket.
func (t *Ticket) Fields() TicketFields {
	return TicketFields{
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		Requester:   t.Requester,
		Tags:        append([]string(nil), t.Tags...),
	}
}

// TicketFields is the mutable field set written by create and update flows.
type TicketFields struct {
	Title       string
	Description string
	Status      TicketStatus
	Priority    TicketPriority
	Requester   Requester
	Tags        []string
}

// TimestampLayout is the wire representation of ticket timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts the wire layout and falls back to RFC 3339.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(TimestampLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(time.Millisecond), nil
}

// NextVersion returns the UpdatedAt for a write happening at now on a record
// last written at prev. The result is always strictly after prev at wire
// precision, so two writes can never share a version token.
func NextVersion(prev, now time.Time) time.Time {
	next := now.UTC().Truncate(time.Millisecond)
	if !prev.IsZero() && !next.After(prev) {
		next = prev.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
	}
	return next
}

package dto

import (
	"github.com/spec-kit/ticket-desk/internal/domain"
	"github.com/spec-kit/ticket-desk/internal/query"
)

// Requester is the wire form of a ticket requester.
type Requester struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Ticket is the wire form of a ticket. Timestamps use
// domain.TimestampLayout so updatedAt can be echoed back verbatim as a version.
type Ticket struct {
	ID          string                `json:"id"`
	Code        string                `json:"code"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Status      domain.TicketStatus   `json:"status"`
	Priority    domain.TicketPriority `json:"priority"`
	Requester   Requester             `json:"requester"`
	Tags        []string              `json:"tags"`
	CreatedAt   string                `json:"createdAt"`
	UpdatedAt   string                `json:"updatedAt"`
}

// FromDomain converts a stored ticket.
func FromDomain(t domain.Ticket) Ticket {
	tags := append([]string{}, t.Tags...)
	return Ticket{
		ID:          t.ID,
		Code:        t.Code,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		Requester:   Requester{Name: t.Requester.Name, Email: t.Requester.Email},
		Tags:        tags,
		CreatedAt:   domain.FormatTimestamp(t.CreatedAt),
		UpdatedAt:   domain.FormatTimestamp(t.UpdatedAt),
	}
}

// ToDomain parses the wire form back. Malformed timestamps yield an error.
func (t Ticket) ToDomain() (domain.Ticket, error) {
	out := domain.Ticket{
		ID:          t.ID,
		Code:        t.Code,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		Requester:   domain.Requester{Name: t.Requester.Name, Email: t.Requester.Email},
		Tags:        append([]string{}, t.Tags...),
	}
	var err error
	if t.CreatedAt != "" {
		if out.CreatedAt, err = domain.ParseTimestamp(t.CreatedAt); err != nil {
			return domain.Ticket{}, err
		}
	}
	if t.UpdatedAt != "" {
		if out.UpdatedAt, err = domain.ParseTimestamp(t.UpdatedAt); err != nil {
			return domain.Ticket{}, err
		}
	}
	return out, nil
}

// Fields returns the editable part of t.
func (t Ticket) Fields() domain.TicketFields {
	return domain.TicketFields{
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		Requester:   domain.Requester{Name: t.Requester.Name, Email: t.Requester.Email},
		Tags:        append([]string{}, t.Tags...),
	}
}

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Priority    domain.TicketPriority `json:"priority"`
	Requester   Requester             `json:"requester"`
	Tags        []string              `json:"tags"`
}

// UpdateTicketRequest payload. Absent fields keep their stored value; id,
// code and createdAt are accepted and ignored.
type UpdateTicketRequest struct {
	Title             *string                `json:"title,omitempty"`
	Description       *string                `json:"description,omitempty"`
	Status            *domain.TicketStatus   `json:"status,omitempty"`
	Priority          *domain.TicketPriority `json:"priority,omitempty"`
	Requester         *Requester             `json:"requester,omitempty"`
	Tags              *[]string              `json:"tags,omitempty"`
	ExpectedUpdatedAt string                 `json:"expectedUpdatedAt,omitempty"`
	UpdatedAt         string                 `json:"updatedAt,omitempty"`
}

// UpdateRequestFromFields builds a full replacement request.
func UpdateRequestFromFields(f domain.TicketFields) UpdateTicketRequest {
	tags := append([]string{}, f.Tags...)
	return UpdateTicketRequest{
		Title:       &f.Title,
		Description: &f.Description,
		Status:      &f.Status,
		Priority:    &f.Priority,
		Requester:   &Requester{Name: f.Requester.Name, Email: f.Requester.Email},
		Tags:        &tags,
	}
}

// StatusRequest is the body of the status patch.
type StatusRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// ConflictResponse is the 409 body of a refused conditional write.
type ConflictResponse struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CurrentTicket Ticket `json:"currentTicket"`
}

// ListResponse is the paginated listing envelope.
type ListResponse struct {
	First int      `json:"first"`
	Prev  *int     `json:"prev"`
	Next  *int     `json:"next"`
	Last  int      `json:"last"`
	Pages int      `json:"pages"`
	Items int      `json:"items"`
	Data  []Ticket `json:"data"`
}

// NewListResponse renders an engine result.
func NewListResponse(result query.Result) ListResponse {
	data := make([]Ticket, 0, len(result.Items))
	for _, item := range result.Items {
		data = append(data, FromDomain(item))
	}
	resp := ListResponse{
		First: 1,
		Last:  result.TotalPages,
		Pages: result.TotalPages,
		Items: result.Total,
		Data:  data,
	}
	if result.Page > 1 {
		prev := result.Page - 1
		if prev > result.TotalPages {
			prev = result.TotalPages
		}
		resp.Prev = &prev
	}
	if result.Page < result.TotalPages {
		next := result.Page + 1
		resp.Next = &next
	}
	return resp
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-desk/internal/domain"
	"github.com/spec-kit/ticket-desk/internal/events"
	"github.com/spec-kit/ticket-desk/internal/lock"
	"github.com/spec-kit/ticket-desk/internal/query"
	"github.com/spec-kit/ticket-desk/internal/repository"
	apperrors "github.com/spec-kit/ticket-desk/pkg/util/errorutil"
)

// ConflictError is returned when a conditional write names a version that is
// no longer current. Current is the authoritative record at refusal time.
type ConflictError struct {
	Expected string
	Current  domain.Ticket
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ticket %s: expected version %s, current is %s", e.Current.ID, e.Expected, e.Current.Version())
}

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets    repository.TicketRepository
	locker     lock.Locker
	engine     *query.Engine
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Locker     lock.Locker
	Engine     *query.Engine
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	Priority    domain.TicketPriority
	Requester   domain.Requester
	Tags        []string
}

// TicketUpdateInput carries the mutable fields of an update. Nil fields keep
// the stored value, so the same input serves partial and full updates.
type TicketUpdateInput struct {
	Title       *string
	Description *string
	Status      *domain.TicketStatus
	Priority    *domain.TicketPriority
	Requester   *domain.Requester
	Tags        *[]string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	svc := &TicketService{
		tickets:    deps.TicketRepo,
		locker:     deps.Locker,
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		now:        deps.Clock,
	}
	if svc.locker == nil {
		svc.locker = lock.NewKeyedMutex()
	}
	if svc.engine == nil {
		svc.engine = query.NewEngine("und")
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

// CreateTicket stores a new OPEN ticket with server-assigned id and code.
func (s *TicketService) CreateTicket(ctx context.Context, actorID string, input TicketCreateInput) (*domain.Ticket, error) {
	if input.Priority == "" {
		input.Priority = domain.TicketPriorityMedium
	}
	if !input.Priority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": input.Priority})
	}
	if msg := domain.ValidateTags(input.Tags); msg != "" {
		return nil, apperrors.NewValidationError(msg, map[string]any{"tags": input.Tags})
	}

	code, err := s.tickets.NextCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate ticket code: %w", err)
	}
	now := domain.NextVersion(time.Time{}, s.now())
	ticket := &domain.Ticket{
		ID:          uuid.NewString(),
		Code:        code,
		Title:       input.Title,
		Description: input.Description,
		Status:      domain.TicketStatusOpen,
		Priority:    input.Priority,
		Requester:   input.Requester,
		Tags:        cleanTags(input.Tags),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    events.Actor{UserID: actorID},
		Payload: events.TicketCreatedPayload{
			Code:           ticket.Code,
			Priority:       ticket.Priority,
			Title:          ticket.Title,
			RequesterEmail: ticket.Requester.Email,
		},
	})
	return ticket, nil
}

// GetTicket returns the stored ticket.
func (s *TicketService) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, s.lookupError(id, err)
	}
	return ticket, nil
}

// ListTickets runs the listing engine over the full record set.
func (s *TicketService) ListTickets(ctx context.Context, params query.Params) (query.Result, error) {
	records, err := s.tickets.List(ctx)
	if err != nil {
		return query.Result{}, fmt.Errorf("list tickets: %w", err)
	}
	return s.engine.Run(records, params), nil
}

// UpdateTicket applies input to ticket id. When expectedVersion is non-empty
// the write only happens if it equals the stored version; otherwise a
// *ConflictError carrying the stored ticket is returned. An empty
// expectedVersion updates unconditionally.
func (s *TicketService) UpdateTicket(ctx context.Context, actorID, id string, input TicketUpdateInput, expectedVersion string) (*domain.Ticket, error) {
	if err := validateUpdate(input); err != nil {
		return nil, err
	}
	expectedVersion = strings.TrimSpace(expectedVersion)

	var previousVersion string
	updated, err := s.withTicket(ctx, id, func(current *domain.Ticket) (*domain.Ticket, error) {
		previousVersion = current.Version()
		if expectedVersion != "" && expectedVersion != previousVersion {
			return nil, &ConflictError{Expected: expectedVersion, Current: current.Clone()}
		}
		next := current.Clone()
		applyUpdate(&next, input)
		next.UpdatedAt = domain.NextVersion(current.UpdatedAt, s.now())
		return &next, nil
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.logger.Info("ticket update conflict",
				zap.String("ticket_id", id),
				zap.String("expected_version", conflict.Expected),
				zap.String("current_version", conflict.Current.Version()))
			s.publishEvent(ctx, events.Event{
				Type:     events.EventTicketConflict,
				TicketID: id,
				Actor:    events.Actor{UserID: actorID},
				Payload: events.TicketConflictPayload{
					ExpectedVersion: conflict.Expected,
					CurrentVersion:  conflict.Current.Version(),
				},
			})
		}
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketUpdated,
		TicketID: updated.ID,
		Actor:    events.Actor{UserID: actorID},
		Payload: events.TicketUpdatedPayload{
			PreviousVersion: previousVersion,
			Version:         updated.Version(),
			Conditional:     expectedVersion != "",
		},
	})
	return updated, nil
}

// PatchStatus sets the status unconditionally (last write wins).
func (s *TicketService) PatchStatus(ctx context.Context, actorID, id string, status domain.TicketStatus) (*domain.Ticket, error) {
	if !status.Valid() {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": status})
	}

	var oldStatus domain.TicketStatus
	updated, err := s.withTicket(ctx, id, func(current *domain.Ticket) (*domain.Ticket, error) {
		oldStatus = current.Status
		next := current.Clone()
		next.Status = status
		next.UpdatedAt = domain.NextVersion(current.UpdatedAt, s.now())
		return &next, nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: updated.ID,
		Actor:    events.Actor{UserID: actorID},
		Payload: events.TicketStatusChangedPayload{
			Code:           updated.Code,
			OldStatus:      oldStatus,
			NewStatus:      updated.Status,
			Version:        updated.Version(),
			RequesterEmail: updated.Requester.Email,
		},
	})
	return updated, nil
}

// withTicket runs the read-check-write sequence for id inside its critical
// section. mutate returns the record to store or an error to abort.
func (s *TicketService) withTicket(ctx context.Context, id string, mutate func(current *domain.Ticket) (*domain.Ticket, error)) (*domain.Ticket, error) {
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock ticket %s: %w", id, err)
	}
	defer unlock()

	current, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, s.lookupError(id, err)
	}
	next, err := mutate(current)
	if err != nil {
		return nil, err
	}
	// Immutable fields always come from the stored record.
	next.ID = current.ID
	next.Code = current.Code
	next.CreatedAt = current.CreatedAt
	if err := s.tickets.Upsert(ctx, next); err != nil {
		return nil, fmt.Errorf("write ticket %s: %w", id, err)
	}
	return next, nil
}

func (s *TicketService) lookupError(id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) || apperrors.IsNotFound(err) {
		return apperrors.NewNotFound("ticket", map[string]any{"id": id})
	}
	return fmt.Errorf("load ticket %s: %w", id, err)
}

func validateUpdate(input TicketUpdateInput) error {
	details := map[string]any{}
	if input.Status != nil && !input.Status.Valid() {
		details["status"] = *input.Status
	}
	if input.Priority != nil && !input.Priority.Valid() {
		details["priority"] = *input.Priority
	}
	if input.Tags != nil {
		if msg := domain.ValidateTags(*input.Tags); msg != "" {
			details["tags"] = msg
		}
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid ticket payload", details)
	}
	return nil
}

func applyUpdate(t *domain.Ticket, input TicketUpdateInput) {
	if input.Title != nil {
		t.Title = *input.Title
	}
	if input.Description != nil {
		t.Description = *input.Description
	}
	if input.Status != nil {
		t.Status = *input.Status
	}
	if input.Priority != nil {
		t.Priority = *input.Priority
	}
	if input.Requester != nil {
		t.Requester = *input.Requester
	}
	if input.Tags != nil {
		t.Tags = cleanTags(*input.Tags)
	}
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, strings.TrimSpace(tag))
	}
	return out
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

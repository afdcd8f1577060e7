package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-desk/internal/api/dto"
	"github.com/spec-kit/ticket-desk/internal/auth"
	"github.com/spec-kit/ticket-desk/internal/domain"
	"github.com/spec-kit/ticket-desk/internal/query"
	"github.com/spec-kit/ticket-desk/internal/service"
	apperrors "github.com/spec-kit/ticket-desk/pkg/util/errorutil"
)

const conflictMessage = "The ticket was modified by another user. Reload and try again."

// TicketsHandler manages ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	params := query.ParseParams(func(key string) string { return c.Query(key) })
	result, err := h.service.ListTickets(c.UserContext(), params)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewListResponse(result))
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.service.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.FromDomain(*ticket))
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.CreateTicket(c.UserContext(), auth.ActorID(c), service.TicketCreateInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Requester:   domain.Requester{Name: req.Requester.Name, Email: req.Requester.Email},
		Tags:        req.Tags,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(dto.FromDomain(*ticket))
}

// UpdateTicket PUT /tickets/:id. The expected version comes from the
// If-Unmodified-Since header, then expectedUpdatedAt, then updatedAt.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	input := service.TicketUpdateInput{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		Tags:        req.Tags,
	}
	if req.Requester != nil {
		input.Requester = &domain.Requester{Name: req.Requester.Name, Email: req.Requester.Email}
	}

	ticket, err := h.service.UpdateTicket(c.UserContext(), auth.ActorID(c), c.Params("id"), input, expectedVersion(c, req))
	if err != nil {
		var conflict *service.ConflictError
		if errors.As(err, &conflict) {
			return apperrors.NewTicketConflict(conflictMessage, dto.FromDomain(conflict.Current))
		}
		return err
	}
	return c.JSON(dto.FromDomain(*ticket))
}

// PatchStatus PATCH /tickets/:id/status.
func (h *TicketsHandler) PatchStatus(c *fiber.Ctx) error {
	var req dto.StatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.PatchStatus(c.UserContext(), auth.ActorID(c), c.Params("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(dto.FromDomain(*ticket))
}

func expectedVersion(c *fiber.Ctx, req dto.UpdateTicketRequest) string {
	for _, candidate := range []string{c.Get(fiber.HeaderIfUnmodifiedSince), req.ExpectedUpdatedAt, req.UpdatedAt} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	return ""
}

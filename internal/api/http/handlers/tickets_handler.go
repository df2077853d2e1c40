package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/maintenance-service/internal/api/dto"
	"github.com/spec-kit/maintenance-service/internal/auth"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/service"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// TicketsHandler exposes the ticket lifecycle.
type TicketsHandler struct {
	tickets     *service.TicketService
	assignments *service.AssignmentService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, assignments *service.AssignmentService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, assignments: assignments}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.CreateTicket(c.UserContext(), actor, service.TicketCreateInput{
		Title:            req.Title,
		Description:      req.Description,
		Location:         req.Location,
		CatalogServiceID: req.CatalogServiceID,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// ListTickets GET /tickets. Requesters only ever see their own tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	filter, err := parseTicketQuery(c)
	if err != nil {
		return err
	}
	if actor.Role == domain.RoleRequester {
		filter.RequesterID = &actor.ID
	}
	tickets, err := h.tickets.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if err := checkRequesterOwns(actor, ticket); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// ClassifyTicket POST /tickets/:id/classify.
func (h *TicketsHandler) ClassifyTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.ClassifyTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.Classify(c.UserContext(), actor, c.Params("id"), service.ClassifyInput{
		Priority:         req.Priority,
		AttendanceNature: req.AttendanceNature,
		CatalogServiceID: req.CatalogServiceID,
		Notes:            req.Notes,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// AssignTicket POST /tickets/:id/assign.
func (h *TicketsHandler) AssignTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.AssignTicketRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	result, err := h.assignments.Assign(c.UserContext(), actor, c.Params("id"), req.PreferredTechnicianID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AssignmentResponse{
		Ticket:                ticketResponse(result.Ticket),
		TechnicianID:          result.TechnicianID,
		TechnicianName:        result.TechnicianName,
		Strategy:              string(result.Strategy),
		PreferredTechnicianID: result.PreferredID,
	}})
}

// ReassignTicket POST /tickets/:id/reassign.
func (h *TicketsHandler) ReassignTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.ReassignTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	result, err := h.assignments.Reassign(c.UserContext(), actor, c.Params("id"), req.TechnicianID, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ReassignmentResponse{
		Ticket:                 ticketResponse(result.Ticket),
		PreviousTechnicianID:   result.PreviousTechnicianID,
		PreviousTechnicianName: result.PreviousTechnicianName,
		TechnicianID:           result.TechnicianID,
		TechnicianName:         result.TechnicianName,
	}})
}

// CompleteTicket POST /tickets/:id/complete.
func (h *TicketsHandler) CompleteTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.CompleteTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.RecordCompletion(c.UserContext(), actor, c.Params("id"), req.ExecutionDetails)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// CloseTicket POST /tickets/:id/close.
func (h *TicketsHandler) CloseTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.CloseTicketRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	ticket, err := h.tickets.Close(c.UserContext(), actor, c.Params("id"), req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// CancelTicket POST /tickets/:id/cancel.
func (h *TicketsHandler) CancelTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.CancelTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.Cancel(c.UserContext(), actor, c.Params("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// GetSlaStatus GET /tickets/:id/sla.
func (h *TicketsHandler) GetSlaStatus(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	if actor.Role == domain.RoleRequester {
		ticket, err := h.tickets.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		if err := checkRequesterOwns(actor, ticket); err != nil {
			return err
		}
	}
	status, err := h.tickets.GetSlaStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.SlaStatusResponse{
		TicketID:             status.TicketID,
		Priority:             status.Priority,
		BusinessHoursOnly:    status.BusinessHoursOnly,
		ResponseDueAt:        status.ResponseDueAt,
		ResolutionDueAt:      status.ResolutionDueAt,
		ResponseState:        status.ResponseState,
		ResolutionState:      status.ResolutionState,
		ResponseBreachedAt:   status.ResponseBreachedAt,
		ResolutionBreachedAt: status.ResolutionBreachedAt,
		DisplayStatus:        status.DisplayStatus,
		ConfigVersion:        status.ConfigVersion,
		CalendarVersion:      status.CalendarVersion,
		EvaluatedAt:          status.EvaluatedAt,
	}})
}

// ListHistory GET /tickets/:id/history.
func (h *TicketsHandler) ListHistory(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	if actor.Role == domain.RoleRequester {
		ticket, err := h.tickets.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		if err := checkRequesterOwns(actor, ticket); err != nil {
			return err
		}
	}
	entries, err := h.tickets.ListHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(entries)})
}

func requireActor(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return actor, nil
}

func checkRequesterOwns(actor domain.Actor, ticket *domain.Ticket) error {
	if actor.Role == domain.RoleRequester && ticket.RequesterID != actor.ID {
		return apperrors.NewForbidden("access denied")
	}
	return nil
}

func parseTicketQuery(c *fiber.Ctx) (service.TicketListFilter, error) {
	filter := service.TicketListFilter{}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			status, err := domain.ParseTicketStatus(part)
			if err != nil {
				return filter, apperrors.NewValidationError(err.Error(), nil)
			}
			filter.Statuses = append(filter.Statuses, status)
			if status == domain.TicketStatusValidated {
				filter.Statuses = append(filter.Statuses, domain.TicketStatusPendingValidation)
			}
		}
	}
	if priorityStr := c.Query("priority"); priorityStr != "" {
		for _, part := range strings.Split(priorityStr, ",") {
			priority, err := domain.ParseTicketPriority(part)
			if err != nil {
				return filter, apperrors.NewValidationError(err.Error(), nil)
			}
			filter.Priorities = append(filter.Priorities, priority)
		}
	}
	if tech := strings.TrimSpace(c.Query("technician_id")); tech != "" {
		filter.TechnicianID = &tech
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter, nil
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	return dto.TicketResponse{
		ID:                   ticket.ID,
		ExternalKey:          ticket.ExternalKey,
		RequesterID:          ticket.RequesterID,
		Title:                ticket.Title,
		Description:          ticket.Description,
		Location:             ticket.Location,
		Status:               ticket.Status.Normalized(),
		Priority:             ticket.Priority,
		AttendanceNature:     ticket.AttendanceNature,
		CatalogServiceID:     ticket.CatalogServiceID,
		AssignedTechnicianID: ticket.AssignedTechnicianID,
		AssignedAt:           ticket.AssignedAt,
		ReassignedAt:         ticket.ReassignedAt,
		ReassignmentCount:    ticket.ReassignmentCount,
		ExecutionDetails:     ticket.ExecutionDetails,
		CancelReason:         ticket.CancelReason,
		SLA:                  ticket.SLA,
		CreatedAt:            ticket.CreatedAt,
		UpdatedAt:            ticket.UpdatedAt,
		ClassifiedAt:         ticket.ClassifiedAt,
		CompletedAt:          ticket.CompletedAt,
		ClosedAt:             ticket.ClosedAt,
		CancelledAt:          ticket.CancelledAt,
	}
}

func historyResponses(entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.TicketHistoryResponse{
			ID:           entry.ID,
			ActorID:      entry.ActorID,
			Action:       entry.Action,
			StatusBefore: entry.StatusBefore,
			StatusAfter:  entry.StatusAfter,
			Notes:        entry.Notes,
			Details:      entry.Details,
			CreatedAt:    entry.CreatedAt,
		})
	}
	return resp
}

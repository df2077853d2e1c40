package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/maintenance-service/internal/api/dto"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/repository"
	"github.com/spec-kit/maintenance-service/internal/service"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// TechniciansHandler exposes the roster.
type TechniciansHandler struct {
	service *service.AssignmentService
}

// NewTechniciansHandler constructs handler.
func NewTechniciansHandler(assignments *service.AssignmentService) *TechniciansHandler {
	return &TechniciansHandler{service: assignments}
}

// List GET /technicians.
func (h *TechniciansHandler) List(c *fiber.Ctx) error {
	filter := repository.TechnicianFilter{
		Limit:  parseInt(c.Query("page_size"), 100),
		Offset: 0,
	}
	if skill := strings.TrimSpace(c.Query("skill")); skill != "" {
		filter.SkillID = &skill
	}
	if active := c.Query("active"); active != "" {
		v := active == "true"
		filter.Active = &v
	}
	page := parseInt(c.Query("page"), 1)
	filter.Offset = (page - 1) * filter.Limit

	roster, err := h.service.ListTechnicians(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.TechnicianResponse, 0, len(roster))
	for _, row := range roster {
		load := row.Load
		resp := technicianResponse(&row.Technician)
		resp.Load = &load
		items = append(items, resp)
	}
	return c.JSON(fiber.Map{"data": items})
}

// Create POST /technicians.
func (h *TechniciansHandler) Create(c *fiber.Ctx) error {
	var req dto.TechnicianRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	tech, err := h.service.CreateTechnician(c.UserContext(), technicianInput(req))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": technicianResponse(tech)})
}

// Update PUT /technicians/:id.
func (h *TechniciansHandler) Update(c *fiber.Ctx) error {
	var req dto.TechnicianRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	tech, err := h.service.UpdateTechnician(c.UserContext(), c.Params("id"), technicianInput(req))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": technicianResponse(tech)})
}

func technicianInput(req dto.TechnicianRequest) service.TechnicianInput {
	return service.TechnicianInput{
		Name:               req.Name,
		Email:              req.Email,
		Skills:             req.Skills,
		MaxAssignedTickets: req.MaxAssignedTickets,
		Active:             req.Active,
	}
}

func technicianResponse(tech *domain.Technician) dto.TechnicianResponse {
	skills := tech.Skills
	if skills == nil {
		skills = []string{}
	}
	return dto.TechnicianResponse{
		ID:                 tech.ID,
		Name:               tech.Name,
		Email:              tech.Email,
		Active:             tech.Active,
		Skills:             skills,
		MaxAssignedTickets: tech.Capacity(),
	}
}

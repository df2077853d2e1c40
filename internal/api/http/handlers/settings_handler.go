package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/maintenance-service/internal/api/dto"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/service"
	"github.com/spec-kit/maintenance-service/internal/sla"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// SettingsHandler exposes calendar, holiday and SLA policy administration.
type SettingsHandler struct {
	service *service.SettingsService
}

// NewSettingsHandler constructs handler.
func NewSettingsHandler(settings *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{service: settings}
}

// GetCalendar GET /settings/calendar.
func (h *SettingsHandler) GetCalendar(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": calendarResponse(h.service.Snapshot())})
}

// UpdateCalendar PUT /settings/calendar.
func (h *SettingsHandler) UpdateCalendar(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.CalendarRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	weekdays := make([]time.Weekday, 0, len(req.Weekdays))
	for _, wd := range req.Weekdays {
		weekdays = append(weekdays, time.Weekday(wd))
	}
	if _, err := h.service.UpdateCalendar(c.UserContext(), actor, service.CalendarInput{
		Timezone:     req.Timezone,
		WorkdayStart: req.WorkdayStart,
		WorkdayEnd:   req.WorkdayEnd,
		Weekdays:     weekdays,
	}); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": calendarResponse(h.service.Snapshot())})
}

// ListHolidays GET /settings/holidays.
func (h *SettingsHandler) ListHolidays(c *fiber.Ctx) error {
	holidays, err := h.service.ListHolidays(c.UserContext(), c.Query("active") == "true")
	if err != nil {
		return err
	}
	if holidays == nil {
		holidays = []domain.Holiday{}
	}
	return c.JSON(fiber.Map{"data": holidays})
}

// AddHoliday POST /settings/holidays.
func (h *SettingsHandler) AddHoliday(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.HolidayRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	holiday, err := h.service.AddHoliday(c.UserContext(), actor, service.HolidayInput{
		Date:  req.Date,
		Name:  req.Name,
		Scope: req.Scope,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": holiday})
}

// DeactivateHoliday DELETE /settings/holidays/:id.
func (h *SettingsHandler) DeactivateHoliday(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	if err := h.service.DeactivateHoliday(c.UserContext(), actor, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListPolicies GET /settings/sla-policies.
func (h *SettingsHandler) ListPolicies(c *fiber.Ctx) error {
	var priority *domain.TicketPriority
	if raw := c.Query("priority"); raw != "" {
		p, err := domain.ParseTicketPriority(raw)
		if err != nil {
			return apperrors.NewValidationError(err.Error(), nil)
		}
		priority = &p
	}
	versions, err := h.service.ListPolicies(c.UserContext(), priority)
	if err != nil {
		return err
	}
	active := h.service.Snapshot().Policies.List()
	if versions == nil {
		versions = []domain.SlaPolicy{}
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"active":   active,
		"versions": versions,
	}})
}

// PublishPolicy POST /settings/sla-policies.
func (h *SettingsHandler) PublishPolicy(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.PolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	policy, err := h.service.PublishPolicy(c.UserContext(), actor, service.PolicyInput{
		Priority:          req.Priority,
		ResponseTarget:    req.ResponseTarget,
		ResolutionTarget:  req.ResolutionTarget,
		Unit:              sla.TargetUnit(req.Unit),
		BusinessHoursOnly: req.BusinessHoursOnly,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": policy})
}

func calendarResponse(snap *service.SettingsSnapshot) dto.CalendarResponse {
	cfg := snap.CalendarConfig
	weekdays := make([]int, 0, len(cfg.Weekdays))
	for _, wd := range cfg.SortedWeekdays() {
		weekdays = append(weekdays, int(wd))
	}
	return dto.CalendarResponse{
		Timezone:              cfg.Timezone,
		WorkdayStart:          cfg.WorkdayStart,
		WorkdayEnd:            cfg.WorkdayEnd,
		Weekdays:              weekdays,
		BusinessMinutesPerDay: snap.Calendar.BusinessMinutesPerDay(),
		Version:               cfg.Version,
		Source:                string(snap.Source),
		LoadedAt:              snap.LoadedAt,
	}
}

package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/maintenance-service/internal/api/http/handlers"
	"github.com/spec-kit/maintenance-service/internal/auth"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Technicians    *handlers.TechniciansHandler
	Settings       *handlers.SettingsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	dispatch := auth.RequireRole(domain.RoleDispatcher, domain.RoleAdmin)
	admin := auth.RequireRole(domain.RoleAdmin)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle, auth.RequireRole())
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/classify", dispatch, cfg.Tickets.ClassifyTicket)
	tickets.Post("/:id/assign", dispatch, cfg.Tickets.AssignTicket)
	tickets.Post("/:id/reassign", dispatch, cfg.Tickets.ReassignTicket)
	tickets.Post("/:id/complete",
		auth.RequireRole(domain.RoleTechnician, domain.RoleDispatcher, domain.RoleAdmin),
		cfg.Tickets.CompleteTicket)
	tickets.Post("/:id/close", dispatch, cfg.Tickets.CloseTicket)
	tickets.Post("/:id/cancel", cfg.Tickets.CancelTicket)
	tickets.Get("/:id/sla", cfg.Tickets.GetSlaStatus)
	tickets.Get("/:id/history", cfg.Tickets.ListHistory)

	technicians := app.Group("/technicians", cfg.AuthMiddleware.Handle, auth.RequireRole())
	technicians.Get("/", cfg.Technicians.List)
	technicians.Post("/", admin, cfg.Technicians.Create)
	technicians.Put("/:id", admin, cfg.Technicians.Update)

	settings := app.Group("/settings", cfg.AuthMiddleware.Handle, admin)
	settings.Get("/calendar", cfg.Settings.GetCalendar)
	settings.Put("/calendar", cfg.Settings.UpdateCalendar)
	settings.Get("/holidays", cfg.Settings.ListHolidays)
	settings.Post("/holidays", cfg.Settings.AddHoliday)
	settings.Delete("/holidays/:id", cfg.Settings.DeactivateHoliday)
	settings.Get("/sla-policies", cfg.Settings.ListPolicies)
	settings.Post("/sla-policies", cfg.Settings.PublishPolicy)
}

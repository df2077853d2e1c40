package dto

import (
	"time"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	Location         string  `json:"location"`
	CatalogServiceID *string `json:"catalog_service_id"`
}

// ClassifyTicketRequest payload.
type ClassifyTicketRequest struct {
	Priority         string  `json:"priority"`
	AttendanceNature string  `json:"attendance_nature"`
	CatalogServiceID *string `json:"catalog_service_id"`
	Notes            string  `json:"notes"`
}

// AssignTicketRequest payload. The preferred technician is optional.
type AssignTicketRequest struct {
	PreferredTechnicianID string `json:"preferred_technician_id"`
}

// ReassignTicketRequest payload.
type ReassignTicketRequest struct {
	TechnicianID string `json:"technician_id"`
	Notes        string `json:"notes"`
}

// CompleteTicketRequest payload.
type CompleteTicketRequest struct {
	ExecutionDetails string `json:"execution_details"`
}

// CloseTicketRequest payload.
type CloseTicketRequest struct {
	Notes string `json:"notes"`
}

// CancelTicketRequest payload.
type CancelTicketRequest struct {
	Reason string `json:"reason"`
}

// TicketResponse is the full ticket view.
type TicketResponse struct {
	ID                   string                   `json:"id"`
	ExternalKey          string                   `json:"external_key"`
	RequesterID          string                   `json:"requester_id"`
	Title                string                   `json:"title"`
	Description          string                   `json:"description,omitempty"`
	Location             string                   `json:"location,omitempty"`
	Status               domain.TicketStatus      `json:"status"`
	Priority             *domain.TicketPriority   `json:"priority"`
	AttendanceNature     *domain.AttendanceNature `json:"attendance_nature"`
	CatalogServiceID     *string                  `json:"catalog_service_id"`
	AssignedTechnicianID *string                  `json:"assigned_technician_id"`
	AssignedAt           *time.Time               `json:"assigned_at,omitempty"`
	ReassignedAt         *time.Time               `json:"reassigned_at,omitempty"`
	ReassignmentCount    int                      `json:"reassignment_count"`
	ExecutionDetails     string                   `json:"execution_details,omitempty"`
	CancelReason         string                   `json:"cancel_reason,omitempty"`
	SLA                  *domain.SlaRecord        `json:"sla"`
	CreatedAt            time.Time                `json:"created_at"`
	UpdatedAt            time.Time                `json:"updated_at"`
	ClassifiedAt         *time.Time               `json:"classified_at,omitempty"`
	CompletedAt          *time.Time               `json:"completed_at,omitempty"`
	ClosedAt             *time.Time               `json:"closed_at,omitempty"`
	CancelledAt          *time.Time               `json:"cancelled_at,omitempty"`
}

// AssignmentResponse reports the chosen technician and how it was chosen.
type AssignmentResponse struct {
	Ticket                TicketResponse `json:"ticket"`
	TechnicianID          string         `json:"technician_id"`
	TechnicianName        string         `json:"technician_name"`
	Strategy              string         `json:"strategy"`
	PreferredTechnicianID string         `json:"preferred_technician_id,omitempty"`
}

// ReassignmentResponse reports both sides of a reassignment.
type ReassignmentResponse struct {
	Ticket                 TicketResponse `json:"ticket"`
	PreviousTechnicianID   string         `json:"previous_technician_id"`
	PreviousTechnicianName string         `json:"previous_technician_name,omitempty"`
	TechnicianID           string         `json:"technician_id"`
	TechnicianName         string         `json:"technician_name"`
}

// SlaStatusResponse is the SLA projection of a ticket.
type SlaStatusResponse struct {
	TicketID             string                `json:"ticket_id"`
	Priority             domain.TicketPriority `json:"priority"`
	BusinessHoursOnly    bool                  `json:"business_hours_only"`
	ResponseDueAt        time.Time             `json:"response_due_at"`
	ResolutionDueAt      time.Time             `json:"resolution_due_at"`
	ResponseState        domain.ClockState     `json:"response_state"`
	ResolutionState      domain.ClockState     `json:"resolution_state"`
	ResponseBreachedAt   *time.Time            `json:"response_breached_at,omitempty"`
	ResolutionBreachedAt *time.Time            `json:"resolution_breached_at,omitempty"`
	DisplayStatus        domain.DisplayStatus  `json:"display_status"`
	ConfigVersion        string                `json:"config_version"`
	CalendarVersion      string                `json:"calendar_version,omitempty"`
	EvaluatedAt          time.Time             `json:"evaluated_at"`
}

// TicketHistoryResponse represents a history entry.
type TicketHistoryResponse struct {
	ID           string               `json:"id"`
	ActorID      string               `json:"actor_id"`
	Action       domain.HistoryAction `json:"action"`
	StatusBefore *domain.TicketStatus `json:"status_before,omitempty"`
	StatusAfter  *domain.TicketStatus `json:"status_after,omitempty"`
	Notes        string               `json:"notes,omitempty"`
	Details      map[string]any       `json:"details,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

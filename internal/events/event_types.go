package events

import (
	"time"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated     EventType = "ticket_created"
	EventTicketClassified  EventType = "ticket_classified"
	EventTicketAssigned    EventType = "ticket_assigned"
	EventTicketReassigned  EventType = "ticket_reassigned"
	EventTicketCompleted   EventType = "ticket_completed"
	EventTicketClosed      EventType = "ticket_closed"
	EventTicketCancelled   EventType = "ticket_cancelled"
	EventSlaBreached       EventType = "sla_breached"
	EventSettingsPublished EventType = "settings_published"
)

// AllTicketEvents lists the event types forwarded to notification sinks.
var AllTicketEvents = []EventType{
	EventTicketCreated,
	EventTicketClassified,
	EventTicketAssigned,
	EventTicketReassigned,
	EventTicketCompleted,
	EventTicketClosed,
	EventTicketCancelled,
	EventSlaBreached,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID   string           `json:"id"`
	Role domain.ActorRole `json:"role"`
}

// ActorFrom converts a domain actor.
func ActorFrom(a domain.Actor) Actor {
	return Actor{ID: a.ID, Role: a.Role}
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id,omitempty"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	ExternalKey string `json:"external_key"`
	Title       string `json:"title"`
	RequesterID string `json:"requester_id"`
}

// TicketClassifiedPayload payload.
type TicketClassifiedPayload struct {
	Priority         domain.TicketPriority   `json:"priority"`
	AttendanceNature domain.AttendanceNature `json:"attendance_nature"`
	ResponseDueAt    time.Time               `json:"response_due_at"`
	ResolutionDueAt  time.Time               `json:"resolution_due_at"`
	ConfigVersion    string                  `json:"config_version"`
	CalendarVersion  string                  `json:"calendar_version,omitempty"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	TechnicianID   string `json:"technician_id"`
	TechnicianName string `json:"technician_name"`
	Strategy       string `json:"strategy"`
	PreferredID    string `json:"preferred_technician_id,omitempty"`
}

// TicketReassignedPayload payload.
type TicketReassignedPayload struct {
	PreviousTechnicianID   string `json:"previous_technician_id"`
	PreviousTechnicianName string `json:"previous_technician_name,omitempty"`
	TechnicianID           string `json:"technician_id"`
	TechnicianName         string `json:"technician_name"`
	Notes                  string `json:"notes,omitempty"`
}

// TicketStatusChangedPayload is used by completion, closure and cancellation.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
}

// SlaBreachedPayload payload.
type SlaBreachedPayload struct {
	Clock      domain.SlaClock       `json:"clock"`
	Priority   domain.TicketPriority `json:"priority"`
	DueAt      time.Time             `json:"due_at"`
	BreachedAt time.Time             `json:"breached_at"`
}

// SettingsPublishedPayload signals that calendar or policy config changed.
type SettingsPublishedPayload struct {
	Kind    string `json:"kind"`
	Version string `json:"version"`
}

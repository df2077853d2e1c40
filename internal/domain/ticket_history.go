package domain

import "time"

// HistoryAction captures which operation produced a history entry.
type HistoryAction string

const (
	ActionCreated     HistoryAction = "CREATED"
	ActionClassified  HistoryAction = "CLASSIFIED"
	ActionAssigned    HistoryAction = "ASSIGNED"
	ActionReassigned  HistoryAction = "REASSIGNED"
	ActionCompleted   HistoryAction = "COMPLETED"
	ActionClosed      HistoryAction = "CLOSED"
	ActionCancelled   HistoryAction = "CANCELLED"
	ActionSlaBreached HistoryAction = "SLA_BREACHED"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID           string
	TicketID     string
	ActorID      string
	Action       HistoryAction
	StatusBefore *TicketStatus
	StatusAfter  *TicketStatus
	Notes        string
	Details      map[string]any
	CreatedAt    time.Time
}

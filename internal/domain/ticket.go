package domain

import (
	"fmt"
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for maintenance tickets.
type TicketStatus string

const (
	TicketStatusOpen      TicketStatus = "open"
	TicketStatusValidated TicketStatus = "validated"
	TicketStatusInService TicketStatus = "in_service"
	TicketStatusCompleted TicketStatus = "completed"
	TicketStatusClosed    TicketStatus = "closed"
	TicketStatusCancelled TicketStatus = "cancelled"

	// TicketStatusPendingValidation is a legacy alias stored by older clients.
	// It is treated exactly like validated.
	TicketStatusPendingValidation TicketStatus = "pending_validation"
)

// ActiveLoadStatuses are the statuses counted towards a technician's load.
var ActiveLoadStatuses = []TicketStatus{TicketStatusValidated, TicketStatusInService}

// ParseTicketStatus validates raw input and folds legacy aliases.
func ParseTicketStatus(raw string) (TicketStatus, error) {
	status := TicketStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case TicketStatusOpen, TicketStatusValidated, TicketStatusInService,
		TicketStatusCompleted, TicketStatusClosed, TicketStatusCancelled:
		return status, nil
	case TicketStatusPendingValidation:
		return TicketStatusValidated, nil
	}
	return "", fmt.Errorf("unknown ticket status %q", raw)
}

// Normalized folds legacy aliases into their canonical status.
func (s TicketStatus) Normalized() TicketStatus {
	if s == TicketStatusPendingValidation {
		return TicketStatusValidated
	}
	return s
}

// Terminal reports whether no further transitions are possible.
func (s TicketStatus) Terminal() bool {
	switch s.Normalized() {
	case TicketStatusClosed, TicketStatusCancelled:
		return true
	}
	return false
}

// TicketPriority enumerates SLA urgency tiers.
type TicketPriority string

const (
	TicketPriorityLow       TicketPriority = "LOW"
	TicketPriorityNormal    TicketPriority = "NORMAL"
	TicketPriorityHigh      TicketPriority = "HIGH"
	TicketPriorityEmergency TicketPriority = "EMERGENCY"
)

// AllPriorities lists priorities from least to most urgent.
var AllPriorities = []TicketPriority{
	TicketPriorityLow,
	TicketPriorityNormal,
	TicketPriorityHigh,
	TicketPriorityEmergency,
}

// ParseTicketPriority validates a priority value.
func ParseTicketPriority(raw string) (TicketPriority, error) {
	p := TicketPriority(strings.ToUpper(strings.TrimSpace(raw)))
	for _, candidate := range AllPriorities {
		if p == candidate {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown priority %q", raw)
}

// AttendanceNature decides whether SLA clocks follow business hours.
type AttendanceNature string

const (
	AttendanceStandard AttendanceNature = "standard"
	AttendanceUrgent   AttendanceNature = "urgent"
)

// ParseAttendanceNature validates a nature value.
func ParseAttendanceNature(raw string) (AttendanceNature, error) {
	n := AttendanceNature(strings.ToLower(strings.TrimSpace(raw)))
	switch n {
	case AttendanceStandard, AttendanceUrgent:
		return n, nil
	}
	return "", fmt.Errorf("unknown attendance nature %q", raw)
}

// Ticket is the aggregate for maintenance service requests.
type Ticket struct {
	ID                   string
	ExternalKey          string
	RequesterID          string
	Title                string
	Description          string
	Location             string
	Status               TicketStatus
	Priority             *TicketPriority
	AttendanceNature     *AttendanceNature
	CatalogServiceID     *string
	AssignedTechnicianID *string
	AssignedAt           *time.Time
	ReassignedAt         *time.Time
	ReassignmentCount    int
	ExecutionDetails     string
	CancelReason         string
	SLA                  *SlaRecord
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ClassifiedAt         *time.Time
	CompletedAt          *time.Time
	ClosedAt             *time.Time
	CancelledAt          *time.Time
}

// SkillTag returns the required catalog service, or "" when unclassified.
func (t *Ticket) SkillTag() string {
	if t == nil || t.CatalogServiceID == nil {
		return ""
	}
	return strings.TrimSpace(*t.CatalogServiceID)
}

// AssignedTo returns the current technician id, or "".
func (t *Ticket) AssignedTo() string {
	if t == nil || t.AssignedTechnicianID == nil {
		return ""
	}
	return *t.AssignedTechnicianID
}

// Clone returns a deep copy so callers can build the next state without
// touching the snapshot they read.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.Priority = clonePtr(t.Priority)
	c.AttendanceNature = clonePtr(t.AttendanceNature)
	c.CatalogServiceID = clonePtr(t.CatalogServiceID)
	c.AssignedTechnicianID = clonePtr(t.AssignedTechnicianID)
	c.AssignedAt = clonePtr(t.AssignedAt)
	c.ReassignedAt = clonePtr(t.ReassignedAt)
	c.ClassifiedAt = clonePtr(t.ClassifiedAt)
	c.CompletedAt = clonePtr(t.CompletedAt)
	c.ClosedAt = clonePtr(t.ClosedAt)
	c.CancelledAt = clonePtr(t.CancelledAt)
	if t.SLA != nil {
		c.SLA = t.SLA.Clone()
	}
	return &c
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SlaPolicy is the per-priority SLA target set. A new version is stored on
// every edit; tickets keep the snapshot they were classified under.
type SlaPolicy struct {
	ID                      string         `json:"id"`
	Priority                TicketPriority `json:"priority"`
	ResponseTargetMinutes   int            `json:"response_target_minutes"`
	ResolutionTargetMinutes int            `json:"resolution_target_minutes"`
	BusinessHoursOnly       bool           `json:"business_hours_only"`
	Version                 string         `json:"version"`
	Active                  bool           `json:"active"`
	CreatedAt               time.Time      `json:"created_at"`
}

// Validate checks the policy invariants.
func (p SlaPolicy) Validate() error {
	if _, err := ParseTicketPriority(string(p.Priority)); err != nil {
		return err
	}
	if p.ResponseTargetMinutes <= 0 {
		return errors.New("response target must be positive")
	}
	if p.ResolutionTargetMinutes <= 0 {
		return errors.New("resolution target must be positive")
	}
	if p.ResolutionTargetMinutes < p.ResponseTargetMinutes {
		return fmt.Errorf("resolution target (%d) shorter than response target (%d)",
			p.ResolutionTargetMinutes, p.ResponseTargetMinutes)
	}
	if strings.TrimSpace(p.Version) == "" {
		return errors.New("policy version required")
	}
	return nil
}

// SlaRecord is the immutable SLA snapshot embedded in a ticket. Only the
// started/resolved/breached timestamps are ever filled in after creation.
type SlaRecord struct {
	Priority                TicketPriority `json:"priority"`
	BusinessHoursOnly       bool           `json:"business_hours_only"`
	ResponseTargetMinutes   int            `json:"response_target_minutes"`
	ResolutionTargetMinutes int            `json:"resolution_target_minutes"`
	ResponseDueAt           time.Time      `json:"response_due_at"`
	ResolutionDueAt         time.Time      `json:"resolution_due_at"`
	ResponseStartedAt       *time.Time     `json:"response_started_at,omitempty"`
	ResolvedAt              *time.Time     `json:"resolved_at,omitempty"`
	ResponseBreachedAt      *time.Time     `json:"response_breached_at,omitempty"`
	ResolutionBreachedAt    *time.Time     `json:"resolution_breached_at,omitempty"`
	ComputedAt              time.Time      `json:"computed_at"`
	ConfigVersion           string         `json:"config_version"`
	CalendarVersion         string         `json:"calendar_version,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *SlaRecord) Clone() *SlaRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.ResponseStartedAt = clonePtr(r.ResponseStartedAt)
	c.ResolvedAt = clonePtr(r.ResolvedAt)
	c.ResponseBreachedAt = clonePtr(r.ResponseBreachedAt)
	c.ResolutionBreachedAt = clonePtr(r.ResolutionBreachedAt)
	return &c
}

// ClockState is the per-clock SLA sub-state.
type ClockState string

const (
	ClockNotStarted ClockState = "not_started"
	ClockRunning    ClockState = "running"
	ClockMet        ClockState = "met"
	ClockBreached   ClockState = "breached"
)

// DisplayStatus is the presentation projection of a ticket's SLA.
type DisplayStatus string

const (
	DisplayOnTime   DisplayStatus = "on_time"
	DisplayNearDue  DisplayStatus = "near_due"
	DisplayBreached DisplayStatus = "breached"
)

// SlaClock names one of the two clocks carried by a record.
type SlaClock string

const (
	ClockResponse   SlaClock = "response"
	ClockResolution SlaClock = "resolution"
)

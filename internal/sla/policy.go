package sla

import (
	"fmt"
	"strings"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// TargetUnit is the unit an administrator enters an SLA target in.
type TargetUnit string

const (
	UnitMinutes      TargetUnit = "minutes"
	UnitHours        TargetUnit = "hours"
	UnitBusinessDays TargetUnit = "business_days"
)

// ToMinutes converts a target to minutes. Business days are sized by the
// calendar's work window, so one day under 08:00-18:00 is 600 minutes.
func ToMinutes(value int, unit TargetUnit, businessMinutesPerDay int) (int, error) {
	if value <= 0 {
		return 0, fmt.Errorf("target must be positive, got %d", value)
	}
	switch TargetUnit(strings.ToLower(string(unit))) {
	case UnitMinutes, "":
		return value, nil
	case UnitHours:
		return value * 60, nil
	case UnitBusinessDays:
		if businessMinutesPerDay <= 0 {
			return 0, fmt.Errorf("business day length unknown")
		}
		return value * businessMinutesPerDay, nil
	}
	return 0, fmt.Errorf("unknown target unit %q", unit)
}

// PolicySet holds the active policy per priority.
type PolicySet map[domain.TicketPriority]domain.SlaPolicy

// NewPolicySet validates policies and requires exactly one per priority.
func NewPolicySet(policies []domain.SlaPolicy) (PolicySet, error) {
	set := PolicySet{}
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.Priority, err)
		}
		if _, dup := set[p.Priority]; dup {
			return nil, fmt.Errorf("more than one active policy for %s", p.Priority)
		}
		set[p.Priority] = p
	}
	for _, pr := range domain.AllPriorities {
		if _, ok := set[pr]; !ok {
			return nil, fmt.Errorf("missing policy for %s", pr)
		}
	}
	return set, nil
}

// Lookup returns the policy for priority.
func (s PolicySet) Lookup(priority domain.TicketPriority) (domain.SlaPolicy, bool) {
	p, ok := s[priority]
	return p, ok
}

// List returns policies ordered by priority.
func (s PolicySet) List() []domain.SlaPolicy {
	out := make([]domain.SlaPolicy, 0, len(s))
	for _, pr := range domain.AllPriorities {
		if p, ok := s[pr]; ok {
			out = append(out, p)
		}
	}
	return out
}

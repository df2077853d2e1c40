package domain

import "time"

// DefaultMaxAssignedTickets is the capacity ceiling applied when none is set.
const DefaultMaxAssignedTickets = 5

// Technician models a field technician that can be assigned tickets.
type Technician struct {
	ID                 string
	Name               string
	Email              string
	Active             bool
	Skills             []string
	MaxAssignedTickets int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasSkill reports whether the technician covers the catalog service.
func (t Technician) HasSkill(skillID string) bool {
	for _, s := range t.Skills {
		if s == skillID {
			return true
		}
	}
	return false
}

// Capacity returns the ceiling, falling back to the default.
func (t Technician) Capacity() int {
	if t.MaxAssignedTickets <= 0 {
		return DefaultMaxAssignedTickets
	}
	return t.MaxAssignedTickets
}

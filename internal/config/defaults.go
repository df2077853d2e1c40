package config

import (
	"time"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// DefaultConfigVersion tags the built-in calendar and policies.
const DefaultConfigVersion = "default-v1"

// DefaultCalendar is used until an administrator stores a calendar, and as
// the fallback when the stored one fails validation at startup.
func DefaultCalendar() domain.BusinessCalendarConfig {
	return domain.BusinessCalendarConfig{
		Timezone:     "America/Belem",
		WorkdayStart: "08:00",
		WorkdayEnd:   "18:00",
		Weekdays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		},
		Version: DefaultConfigVersion,
	}
}

// DefaultPolicies is the built-in SLA policy set, one per priority. Targets
// are business minutes under the default 600-minute workday.
func DefaultPolicies() []domain.SlaPolicy {
	return []domain.SlaPolicy{
		{
			Priority:                domain.TicketPriorityLow,
			ResponseTargetMinutes:   2 * 600,
			ResolutionTargetMinutes: 5 * 600,
			BusinessHoursOnly:       true,
			Version:                 DefaultConfigVersion,
			Active:                  true,
		},
		{
			Priority:                domain.TicketPriorityNormal,
			ResponseTargetMinutes:   600,
			ResolutionTargetMinutes: 3 * 600,
			BusinessHoursOnly:       true,
			Version:                 DefaultConfigVersion,
			Active:                  true,
		},
		{
			Priority:                domain.TicketPriorityHigh,
			ResponseTargetMinutes:   60,
			ResolutionTargetMinutes: 480,
			BusinessHoursOnly:       true,
			Version:                 DefaultConfigVersion,
			Active:                  true,
		},
		{
			Priority:                domain.TicketPriorityEmergency,
			ResponseTargetMinutes:   60,
			ResolutionTargetMinutes: 480,
			BusinessHoursOnly:       false,
			Version:                 DefaultConfigVersion,
			Active:                  true,
		},
	}
}

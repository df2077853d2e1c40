package dto

import "time"

// CalendarRequest replaces the business calendar. Weekdays use 0=Sunday.
type CalendarRequest struct {
	Timezone     string `json:"timezone"`
	WorkdayStart string `json:"workday_start"`
	WorkdayEnd   string `json:"workday_end"`
	Weekdays     []int  `json:"weekdays"`
}

// CalendarResponse is the active calendar.
type CalendarResponse struct {
	Timezone              string    `json:"timezone"`
	WorkdayStart          string    `json:"workday_start"`
	WorkdayEnd            string    `json:"workday_end"`
	Weekdays              []int     `json:"weekdays"`
	BusinessMinutesPerDay int       `json:"business_minutes_per_day"`
	Version               string    `json:"version"`
	Source                string    `json:"source"`
	LoadedAt              time.Time `json:"loaded_at"`
}

// HolidayRequest adds a holiday.
type HolidayRequest struct {
	Date  string `json:"date"`
	Name  string `json:"name"`
	Scope string `json:"scope"`
}

// PolicyRequest publishes a new SLA policy version. Unit is minutes, hours
// or business_days.
type PolicyRequest struct {
	Priority          string `json:"priority"`
	ResponseTarget    int    `json:"response_target"`
	ResolutionTarget  int    `json:"resolution_target"`
	Unit              string `json:"unit"`
	BusinessHoursOnly bool   `json:"business_hours_only"`
}

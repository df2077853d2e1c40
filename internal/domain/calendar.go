package domain

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// DateLayout is the civil-date format used for holidays.
const DateLayout = "2006-01-02"

// BusinessCalendarConfig is the process-wide calendar configuration.
type BusinessCalendarConfig struct {
	Timezone     string         `json:"timezone"`
	WorkdayStart string         `json:"workday_start"`
	WorkdayEnd   string         `json:"workday_end"`
	Weekdays     []time.Weekday `json:"weekdays"`
	Version      string         `json:"version"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Validate checks the calendar invariants: loadable timezone, HH:mm bounds
// with start before end, and a non-empty set of weekdays in 0..6.
func (c BusinessCalendarConfig) Validate() error {
	if strings.TrimSpace(c.Timezone) == "" {
		return errors.New("timezone required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	start, err := ParseClock(c.WorkdayStart)
	if err != nil {
		return fmt.Errorf("workday start: %w", err)
	}
	end, err := ParseClock(c.WorkdayEnd)
	if err != nil {
		return fmt.Errorf("workday end: %w", err)
	}
	if start >= end {
		return fmt.Errorf("workday start %s must be before end %s", c.WorkdayStart, c.WorkdayEnd)
	}
	if len(c.Weekdays) == 0 {
		return errors.New("at least one working weekday required")
	}
	for _, wd := range c.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return fmt.Errorf("weekday %d out of range", wd)
		}
	}
	return nil
}

// SortedWeekdays returns the weekday set deduplicated and ordered.
func (c BusinessCalendarConfig) SortedWeekdays() []time.Weekday {
	seen := map[time.Weekday]struct{}{}
	out := make([]time.Weekday, 0, len(c.Weekdays))
	for _, wd := range c.Weekdays {
		if _, ok := seen[wd]; ok {
			continue
		}
		seen[wd] = struct{}{}
		out = append(out, wd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseClock converts "HH:mm" to minutes after midnight.
func ParseClock(raw string) (int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:mm", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	if h == 24 && m != 0 {
		return 0, fmt.Errorf("invalid time %q", raw)
	}
	return h*60 + m, nil
}

// ParseWeekdays reads a comma separated list of weekday numbers (0=Sun..6=Sat).
func ParseWeekdays(raw string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("invalid weekday %q", part)
		}
		out = append(out, time.Weekday(n))
	}
	return out, nil
}

// Holiday is a civil date excluded from business-day arithmetic while active.
type Holiday struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Name      string    `json:"name"`
	Scope     string    `json:"scope"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate ensures the date is a valid civil date.
func (h Holiday) Validate() error {
	if _, err := time.Parse(DateLayout, h.Date); err != nil {
		return fmt.Errorf("holiday date %q: expected YYYY-MM-DD", h.Date)
	}
	return nil
}

// Package calendar implements business-hours arithmetic in a configured
// timezone. Every offset lookup is made for the instant being evaluated, so
// results stay exact across DST transitions.
package calendar

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// maxSnapDays bounds the search for the next business day when no holidays
// are configured: one full week plus the starting day. Each active holiday
// can remove at most one business day, so the bound grows by a week per holiday.
const maxSnapDays = 8

// ConfigurationError reports a calendar that violates its invariants or that
// cannot produce a business day.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("calendar configuration: %s: %v", e.Reason, e.Err)
	}
	return "calendar configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err is a calendar ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Calendar answers business-hours questions for one configuration snapshot.
// It is immutable and safe for concurrent use.
type Calendar struct {
	cfg      domain.BusinessCalendarConfig
	loc      *time.Location
	startMin int
	endMin   int
	weekdays [7]bool
	holidays map[string]struct{}
}

// Option customizes a Calendar.
type Option func(*Calendar)

// WithHolidays excludes the given active holidays from business days.
// Inactive entries are ignored.
func WithHolidays(holidays []domain.Holiday) Option {
	return func(c *Calendar) {
		for _, h := range holidays {
			if !h.Active {
				continue
			}
			c.holidays[h.Date] = struct{}{}
		}
	}
}

// WithHolidayDates excludes raw YYYY-MM-DD dates.
func WithHolidayDates(dates ...string) Option {
	return func(c *Calendar) {
		for _, d := range dates {
			c.holidays[d] = struct{}{}
		}
	}
}

// New validates cfg and builds a Calendar.
func New(cfg domain.BusinessCalendarConfig, opts ...Option) (*Calendar, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigurationError{Reason: "invalid calendar", Err: err}
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, &ConfigurationError{Reason: "load timezone", Err: err}
	}
	start, _ := domain.ParseClock(cfg.WorkdayStart)
	end, _ := domain.ParseClock(cfg.WorkdayEnd)
	c := &Calendar{
		cfg:      cfg,
		loc:      loc,
		startMin: start,
		endMin:   end,
		holidays: map[string]struct{}{},
	}
	for _, wd := range cfg.Weekdays {
		c.weekdays[wd] = true
	}
	for _, opt := range opts {
		opt(c)
	}
	for d := range c.holidays {
		if _, err := time.Parse(domain.DateLayout, d); err != nil {
			return nil, &ConfigurationError{Reason: "invalid holiday " + d, Err: err}
		}
	}
	return c, nil
}

// Config returns the snapshot the calendar was built from.
func (c *Calendar) Config() domain.BusinessCalendarConfig { return c.cfg }

// Location returns the configured timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// BusinessMinutesPerDay is the length of the work window in minutes.
func (c *Calendar) BusinessMinutesPerDay() int { return c.endMin - c.startMin }

// IsHoliday reports whether the local date of t is an active holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.holidays[t.In(c.loc).Format(domain.DateLayout)]
	return ok
}

// IsBusinessDay reports whether the local date of t is a working weekday and
// not a holiday.
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	local := t.In(c.loc)
	return c.weekdays[local.Weekday()] && !c.IsHoliday(local)
}

// IsBusinessInstant reports whether t falls inside [start, end) of a business day.
func (c *Calendar) IsBusinessInstant(t time.Time) bool {
	local := t.In(c.loc)
	if !c.IsBusinessDay(local) {
		return false
	}
	return !local.Before(c.dayStart(local)) && local.Before(c.dayEnd(local))
}

// SnapToNextBusinessStart returns t when it is already inside business hours,
// otherwise the start of the next business window.
func (c *Calendar) SnapToNextBusinessStart(t time.Time) (time.Time, error) {
	if c.IsBusinessInstant(t) {
		return t, nil
	}
	local := t.In(c.loc)
	if c.IsBusinessDay(local) && local.Before(c.dayStart(local)) {
		return c.dayStart(local), nil
	}
	day := local
	limit := maxSnapDays + 7*len(c.holidays)
	for i := 1; i <= limit; i++ {
		day = c.nextDay(day)
		if c.IsBusinessDay(day) {
			return c.dayStart(day), nil
		}
	}
	return time.Time{}, &ConfigurationError{
		Reason: fmt.Sprintf("no business day within %d days of %s", limit, local.Format(time.RFC3339)),
	}
}

// AddBusinessMinutes adds minutes of business time to from. The start is
// snapped to the next business window and each day contributes at most the
// time left until its workday end. Negative deltas return from unchanged.
func (c *Calendar) AddBusinessMinutes(from time.Time, minutes int) (time.Time, error) {
	if minutes < 0 {
		return from, nil
	}
	cur, err := c.SnapToNextBusinessStart(from)
	if err != nil {
		return time.Time{}, err
	}
	remaining := time.Duration(minutes) * time.Minute
	for {
		end := c.dayEnd(cur.In(c.loc))
		available := end.Sub(cur)
		if remaining <= available {
			return cur.Add(remaining), nil
		}
		remaining -= available
		cur, err = c.SnapToNextBusinessStart(end)
		if err != nil {
			return time.Time{}, err
		}
	}
}

// BusinessMinutesBetween counts business minutes in [from, to). It returns 0
// when to is not after from.
func (c *Calendar) BusinessMinutesBetween(from, to time.Time) (int, error) {
	if !to.After(from) {
		return 0, nil
	}
	cur, err := c.SnapToNextBusinessStart(from)
	if err != nil {
		return 0, err
	}
	var total time.Duration
	for cur.Before(to) {
		end := c.dayEnd(cur.In(c.loc))
		if !to.After(end) {
			total += to.Sub(cur)
			break
		}
		total += end.Sub(cur)
		cur, err = c.SnapToNextBusinessStart(end)
		if err != nil {
			return 0, err
		}
	}
	return int(total / time.Minute), nil
}

func (c *Calendar) dayStart(local time.Time) time.Time {
	y, m, d := local.Date()
	return time.Date(y, m, d, c.startMin/60, c.startMin%60, 0, 0, c.loc)
}

func (c *Calendar) dayEnd(local time.Time) time.Time {
	y, m, d := local.Date()
	return time.Date(y, m, d, c.endMin/60, c.endMin%60, 0, 0, c.loc)
}

// nextDay returns local noon of the following civil date; noon keeps the
// weekday lookup clear of DST gaps at midnight.
func (c *Calendar) nextDay(local time.Time) time.Time {
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 12, 0, 0, 0, c.loc)
}

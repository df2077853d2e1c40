// Package sla computes ticket due-dates from a business calendar and a
// priority policy, and evaluates response/resolution breaches.
package sla

import (
	"errors"
	"fmt"
	"time"

	"github.com/spec-kit/maintenance-service/internal/calendar"
	"github.com/spec-kit/maintenance-service/internal/domain"
)

// NearDuePercent is the share of the allotted window below which a running
// clock is shown as near-due.
const NearDuePercent = 20

// HighPriorityNearDueWindow is the fixed near-due threshold for HIGH tickets.
// The tighter of this and the fractional rule applies.
const HighPriorityNearDueWindow = 4 * time.Hour

// CalendarSource yields the calendar snapshot to compute against. The
// settings service swaps snapshots on reload.
type CalendarSource interface {
	Calendar() *calendar.Calendar
}

type staticCalendar struct{ cal *calendar.Calendar }

func (s staticCalendar) Calendar() *calendar.Calendar { return s.cal }

// StaticCalendar wraps a fixed calendar as a CalendarSource.
func StaticCalendar(cal *calendar.Calendar) CalendarSource {
	return staticCalendar{cal: cal}
}

// DueDates is the pair of deadlines computed at classification.
type DueDates struct {
	ResponseDueAt   time.Time
	ResolutionDueAt time.Time
}

// Engine computes SLA records. It holds no mutable state.
type Engine struct {
	calendars CalendarSource
}

// NewEngine builds an engine reading calendars from src.
func NewEngine(src CalendarSource) *Engine {
	return &Engine{calendars: src}
}

// ComputeDueDates returns both due dates for a clock started at start. 24x7
// policies use plain wall-clock addition.
func (e *Engine) ComputeDueDates(start time.Time, policy domain.SlaPolicy) (DueDates, error) {
	return dueDates(e.calendar(), start, policy)
}

func dueDates(cal *calendar.Calendar, start time.Time, policy domain.SlaPolicy) (DueDates, error) {
	if !policy.BusinessHoursOnly {
		return DueDates{
			ResponseDueAt:   start.Add(time.Duration(policy.ResponseTargetMinutes) * time.Minute),
			ResolutionDueAt: start.Add(time.Duration(policy.ResolutionTargetMinutes) * time.Minute),
		}, nil
	}
	if cal == nil {
		return DueDates{}, &calendar.ConfigurationError{Reason: "no business calendar loaded"}
	}
	response, err := cal.AddBusinessMinutes(start, policy.ResponseTargetMinutes)
	if err != nil {
		return DueDates{}, fmt.Errorf("response due date: %w", err)
	}
	resolution, err := cal.AddBusinessMinutes(start, policy.ResolutionTargetMinutes)
	if err != nil {
		return DueDates{}, fmt.Errorf("resolution due date: %w", err)
	}
	return DueDates{ResponseDueAt: response, ResolutionDueAt: resolution}, nil
}

// NewRecord builds the SLA snapshot for a ticket classified at start. The
// urgent nature always runs 24x7; standard follows the policy flag. Business
// hour records carry the version of the calendar the due dates came from.
func (e *Engine) NewRecord(start time.Time, policy domain.SlaPolicy, nature domain.AttendanceNature) (*domain.SlaRecord, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	effective := policy
	effective.BusinessHoursOnly = policy.BusinessHoursOnly && nature != domain.AttendanceUrgent
	cal := e.calendar()
	due, err := dueDates(cal, start, effective)
	if err != nil {
		return nil, err
	}
	var calendarVersion string
	if effective.BusinessHoursOnly {
		calendarVersion = cal.Config().Version
	}
	return &domain.SlaRecord{
		Priority:                policy.Priority,
		BusinessHoursOnly:       effective.BusinessHoursOnly,
		ResponseTargetMinutes:   policy.ResponseTargetMinutes,
		ResolutionTargetMinutes: policy.ResolutionTargetMinutes,
		ResponseDueAt:           due.ResponseDueAt,
		ResolutionDueAt:         due.ResolutionDueAt,
		ComputedAt:              start,
		ConfigVersion:           policy.Version,
		CalendarVersion:         calendarVersion,
	}, nil
}

func (e *Engine) calendar() *calendar.Calendar {
	if e == nil || e.calendars == nil {
		return nil
	}
	return e.calendars.Calendar()
}

// EvaluateResponseBreach returns the breach instant of the response clock:
// the start instant when the response began late, now when no response has
// started and the due date has passed, nil otherwise.
func EvaluateResponseBreach(now, dueAt time.Time, startedAt *time.Time) *time.Time {
	return evaluateBreach(now, dueAt, startedAt)
}

// EvaluateResolutionBreach applies the same rule to the resolution clock.
func EvaluateResolutionBreach(now, dueAt time.Time, resolvedAt *time.Time) *time.Time {
	return evaluateBreach(now, dueAt, resolvedAt)
}

func evaluateBreach(now, dueAt time.Time, doneAt *time.Time) *time.Time {
	if doneAt != nil {
		if doneAt.After(dueAt) {
			at := *doneAt
			return &at
		}
		return nil
	}
	if now.After(dueAt) {
		at := now
		return &at
	}
	return nil
}

// ErrNoRecord is returned when a ticket has not been classified yet.
var ErrNoRecord = errors.New("ticket has no SLA record")

// ApplyBreaches fills in breach timestamps that are still empty. Persisted
// breach instants are never recomputed. It reports which clocks changed.
func ApplyBreaches(rec *domain.SlaRecord, now time.Time) []domain.SlaClock {
	if rec == nil {
		return nil
	}
	var changed []domain.SlaClock
	if rec.ResponseBreachedAt == nil {
		if at := EvaluateResponseBreach(now, rec.ResponseDueAt, rec.ResponseStartedAt); at != nil {
			rec.ResponseBreachedAt = at
			changed = append(changed, domain.ClockResponse)
		}
	}
	if rec.ResolutionBreachedAt == nil {
		if at := EvaluateResolutionBreach(now, rec.ResolutionDueAt, rec.ResolvedAt); at != nil {
			rec.ResolutionBreachedAt = at
			changed = append(changed, domain.ClockResolution)
		}
	}
	return changed
}

// ClockStates projects both clocks of rec at now.
func ClockStates(rec *domain.SlaRecord, now time.Time) (response, resolution domain.ClockState) {
	if rec == nil {
		return domain.ClockNotStarted, domain.ClockNotStarted
	}
	return clockState(now, rec.ResponseDueAt, rec.ResponseStartedAt, rec.ResponseBreachedAt),
		clockState(now, rec.ResolutionDueAt, rec.ResolvedAt, rec.ResolutionBreachedAt)
}

func clockState(now, dueAt time.Time, doneAt, breachedAt *time.Time) domain.ClockState {
	if breachedAt != nil {
		return domain.ClockBreached
	}
	if evaluateBreach(now, dueAt, doneAt) != nil {
		return domain.ClockBreached
	}
	if doneAt != nil {
		return domain.ClockMet
	}
	return domain.ClockRunning
}

// Display derives the presentation status. Breached wins; otherwise the
// earliest still-running clock is checked against the near-due threshold.
func Display(rec *domain.SlaRecord, now time.Time) domain.DisplayStatus {
	if rec == nil {
		return domain.DisplayOnTime
	}
	response, resolution := ClockStates(rec, now)
	if response == domain.ClockBreached || resolution == domain.ClockBreached {
		return domain.DisplayBreached
	}
	var dueAt time.Time
	switch {
	case response == domain.ClockRunning:
		dueAt = rec.ResponseDueAt
	case resolution == domain.ClockRunning:
		dueAt = rec.ResolutionDueAt
	default:
		return domain.DisplayOnTime
	}
	if nearDue(rec.Priority, rec.ComputedAt, dueAt, now) {
		return domain.DisplayNearDue
	}
	return domain.DisplayOnTime
}

func nearDue(priority domain.TicketPriority, start, dueAt, now time.Time) bool {
	total := dueAt.Sub(start)
	remaining := dueAt.Sub(now)
	threshold := total * NearDuePercent / 100
	if priority == domain.TicketPriorityHigh && HighPriorityNearDueWindow < threshold {
		threshold = HighPriorityNearDueWindow
	}
	return remaining <= threshold
}

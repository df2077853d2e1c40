package sla

import (
	"testing"
	"time"

	"github.com/spec-kit/maintenance-service/internal/calendar"
	"github.com/spec-kit/maintenance-service/internal/config"
	"github.com/spec-kit/maintenance-service/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cal, err := calendar.New(config.DefaultCalendar())
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	return NewEngine(StaticCalendar(cal))
}

func belem(t *testing.T, y int, m time.Month, d, h, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/Belem")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return time.Date(y, m, d, h, min, 0, 0, loc)
}

func defaultPolicy(t *testing.T, p domain.TicketPriority) domain.SlaPolicy {
	t.Helper()
	set, err := NewPolicySet(config.DefaultPolicies())
	if err != nil {
		t.Fatalf("policy set: %v", err)
	}
	policy, ok := set.Lookup(p)
	if !ok {
		t.Fatalf("no policy for %s", p)
	}
	return policy
}

func TestComputeDueDatesScenarios(t *testing.T) {
	engine := newTestEngine(t)
	cases := []struct {
		name           string
		start          time.Time
		priority       domain.TicketPriority
		wantResponse   time.Time
		wantResolution time.Time
	}{
		{
			name:           "normal classified friday evening",
			start:          belem(t, 2024, 3, 8, 19, 0),
			priority:       domain.TicketPriorityNormal,
			wantResponse:   belem(t, 2024, 3, 11, 18, 0),
			wantResolution: belem(t, 2024, 3, 13, 18, 0),
		},
		{
			name:           "high classified saturday",
			start:          belem(t, 2024, 3, 9, 12, 7),
			priority:       domain.TicketPriorityHigh,
			wantResponse:   belem(t, 2024, 3, 11, 9, 0),
			wantResolution: belem(t, 2024, 3, 11, 16, 0),
		},
		{
			name:           "emergency runs around the clock",
			start:          belem(t, 2024, 3, 8, 19, 0),
			priority:       domain.TicketPriorityEmergency,
			wantResponse:   belem(t, 2024, 3, 8, 20, 0),
			wantResolution: belem(t, 2024, 3, 9, 3, 0),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			due, err := engine.ComputeDueDates(tc.start, defaultPolicy(t, tc.priority))
			if err != nil {
				t.Fatalf("ComputeDueDates: %v", err)
			}
			if !due.ResponseDueAt.Equal(tc.wantResponse) {
				t.Errorf("response due %s, want %s", due.ResponseDueAt, tc.wantResponse)
			}
			if !due.ResolutionDueAt.Equal(tc.wantResolution) {
				t.Errorf("resolution due %s, want %s", due.ResolutionDueAt, tc.wantResolution)
			}
		})
	}
}

func TestComputeDueDatesAroundTheClockIgnoresCalendar(t *testing.T) {
	policy := domain.SlaPolicy{
		Priority:                domain.TicketPriorityEmergency,
		ResponseTargetMinutes:   37,
		ResolutionTargetMinutes: 1441,
		Version:                 "v",
	}
	// No calendar at all: 24x7 must not need one.
	engine := NewEngine(nil)
	start := time.Date(2024, 12, 25, 23, 59, 0, 0, time.UTC)
	due, err := engine.ComputeDueDates(start, policy)
	if err != nil {
		t.Fatalf("ComputeDueDates: %v", err)
	}
	if got := due.ResponseDueAt.Sub(start); got != 37*time.Minute {
		t.Errorf("response offset %s", got)
	}
	if got := due.ResolutionDueAt.Sub(start); got != 1441*time.Minute {
		t.Errorf("resolution offset %s", got)
	}
}

func TestComputeDueDatesWithoutCalendarFails(t *testing.T) {
	engine := NewEngine(nil)
	_, err := engine.ComputeDueDates(time.Now(), defaultPolicy(t, domain.TicketPriorityNormal))
	if !calendar.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewRecordUrgentNatureRunsAroundTheClock(t *testing.T) {
	engine := newTestEngine(t)
	start := belem(t, 2024, 3, 8, 19, 0)
	rec, err := engine.NewRecord(start, defaultPolicy(t, domain.TicketPriorityHigh), domain.AttendanceUrgent)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if rec.BusinessHoursOnly {
		t.Error("urgent nature should disable business hours")
	}
	if want := start.Add(time.Hour); !rec.ResponseDueAt.Equal(want) {
		t.Errorf("response due %s, want %s", rec.ResponseDueAt, want)
	}
	if rec.ConfigVersion != config.DefaultConfigVersion {
		t.Errorf("expected version %s, got %s", config.DefaultConfigVersion, rec.ConfigVersion)
	}
	if rec.CalendarVersion != "" {
		t.Errorf("24x7 record must not name a calendar, got %q", rec.CalendarVersion)
	}
	if !rec.ComputedAt.Equal(start) {
		t.Errorf("computed at %s", rec.ComputedAt)
	}
}

func TestNewRecordStampsCalendarVersion(t *testing.T) {
	cfg := config.DefaultCalendar()
	cfg.Version = "calendar-2024-03"
	cal, err := calendar.New(cfg)
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	engine := NewEngine(StaticCalendar(cal))
	policy := defaultPolicy(t, domain.TicketPriorityHigh)
	policy.Version = "policy-7"

	rec, err := engine.NewRecord(belem(t, 2024, 3, 4, 10, 0), policy, domain.AttendanceStandard)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if rec.CalendarVersion != "calendar-2024-03" {
		t.Errorf("calendar version = %q", rec.CalendarVersion)
	}
	if rec.ConfigVersion != "policy-7" {
		t.Errorf("policy version = %q", rec.ConfigVersion)
	}
}

func TestNewRecordRejectsInvalidPolicy(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.NewRecord(time.Now(), domain.SlaPolicy{Priority: domain.TicketPriorityLow, Version: "v"}, domain.AttendanceStandard)
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestEvaluateBreach(t *testing.T) {
	due := time.Date(2024, 3, 11, 18, 0, 0, 0, time.UTC)
	early := due.Add(-time.Hour)
	late := due.Add(time.Hour)

	if got := EvaluateResponseBreach(early, due, nil); got != nil {
		t.Errorf("not yet due should be nil, got %s", got)
	}
	if got := EvaluateResponseBreach(due, due, nil); got != nil {
		t.Errorf("exactly at due is on time, got %s", got)
	}
	if got := EvaluateResponseBreach(late, due, nil); got == nil || !got.Equal(late) {
		t.Errorf("overdue without response should breach at now, got %v", got)
	}
	if got := EvaluateResponseBreach(late, due, &early); got != nil {
		t.Errorf("response before due should be on time, got %s", got)
	}
	startedLate := due.Add(10 * time.Minute)
	if got := EvaluateResolutionBreach(late.Add(time.Hour), due, &startedLate); got == nil || !got.Equal(startedLate) {
		t.Errorf("late resolution should breach at resolution instant, got %v", got)
	}
}

func TestApplyBreachesIsImmutableOnceSet(t *testing.T) {
	due := time.Date(2024, 3, 11, 18, 0, 0, 0, time.UTC)
	rec := &domain.SlaRecord{ResponseDueAt: due, ResolutionDueAt: due.Add(2 * time.Hour)}

	if changed := ApplyBreaches(rec, due.Add(-time.Minute)); len(changed) != 0 {
		t.Fatalf("expected no breach yet, got %v", changed)
	}
	first := due.Add(3 * time.Hour)
	changed := ApplyBreaches(rec, first)
	if len(changed) != 2 {
		t.Fatalf("expected both clocks to breach, got %v", changed)
	}
	for _, later := range []time.Time{first, first.Add(time.Hour), first.Add(48 * time.Hour)} {
		if changed := ApplyBreaches(rec, later); len(changed) != 0 {
			t.Errorf("breach recomputed at %s: %v", later, changed)
		}
		if !rec.ResolutionBreachedAt.Equal(first) || !rec.ResponseBreachedAt.Equal(first) {
			t.Errorf("breach instant drifted to %s / %s", rec.ResponseBreachedAt, rec.ResolutionBreachedAt)
		}
	}
}

func TestClockStates(t *testing.T) {
	due := time.Date(2024, 3, 11, 18, 0, 0, 0, time.UTC)
	started := due.Add(-time.Hour)
	rec := &domain.SlaRecord{
		ResponseDueAt:     due,
		ResolutionDueAt:   due.Add(24 * time.Hour),
		ResponseStartedAt: &started,
	}
	resp, res := ClockStates(rec, due.Add(time.Hour))
	if resp != domain.ClockMet {
		t.Errorf("response clock %s, want met", resp)
	}
	if res != domain.ClockRunning {
		t.Errorf("resolution clock %s, want running", res)
	}
	resp, res = ClockStates(nil, due)
	if resp != domain.ClockNotStarted || res != domain.ClockNotStarted {
		t.Errorf("nil record should be not started, got %s/%s", resp, res)
	}
}

func TestDisplayStatus(t *testing.T) {
	start := time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)
	record := func(p domain.TicketPriority, window time.Duration) *domain.SlaRecord {
		started := start
		return &domain.SlaRecord{
			Priority:          p,
			ComputedAt:        start,
			ResponseDueAt:     start.Add(time.Minute),
			ResponseStartedAt: &started,
			ResolutionDueAt:   start.Add(window),
		}
	}
	cases := []struct {
		name string
		rec  *domain.SlaRecord
		now  time.Time
		want domain.DisplayStatus
	}{
		{"early normal", record(domain.TicketPriorityNormal, 10*time.Hour), start.Add(time.Hour), domain.DisplayOnTime},
		{"inside last fifth", record(domain.TicketPriorityNormal, 10*time.Hour), start.Add(8 * time.Hour), domain.DisplayNearDue},
		{"just before last fifth", record(domain.TicketPriorityNormal, 10*time.Hour), start.Add(7*time.Hour + 59*time.Minute), domain.DisplayOnTime},
		// 20% of 30h is 6h, but HIGH uses the tighter 4h rule.
		{"high five hours left", record(domain.TicketPriorityHigh, 30*time.Hour), start.Add(25 * time.Hour), domain.DisplayOnTime},
		{"high four hours left", record(domain.TicketPriorityHigh, 30*time.Hour), start.Add(26 * time.Hour), domain.DisplayNearDue},
		// 20% of 8h is 96min, tighter than 4h.
		{"high short window uses fraction", record(domain.TicketPriorityHigh, 8*time.Hour), start.Add(6 * time.Hour), domain.DisplayOnTime},
		{"overdue", record(domain.TicketPriorityLow, time.Hour), start.Add(2 * time.Hour), domain.DisplayBreached},
		{"nil record", nil, start, domain.DisplayOnTime},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Display(tc.rec, tc.now); got != tc.want {
				t.Errorf("Display = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestDisplayFlaggedBreachStaysBreached(t *testing.T) {
	start := time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)
	flagged := start.Add(time.Hour)
	resolved := start.Add(2 * time.Hour)
	rec := &domain.SlaRecord{
		ComputedAt:         start,
		ResponseDueAt:      start.Add(30 * time.Minute),
		ResolutionDueAt:    start.Add(10 * time.Hour),
		ResponseStartedAt:  &flagged,
		ResponseBreachedAt: &flagged,
		ResolvedAt:         &resolved,
	}
	if got := Display(rec, start.Add(3*time.Hour)); got != domain.DisplayBreached {
		t.Errorf("expected breached, got %s", got)
	}
}

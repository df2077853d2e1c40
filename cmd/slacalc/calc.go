package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spec-kit/maintenance-service/internal/calendar"
	"github.com/spec-kit/maintenance-service/internal/config"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/sla"
)

const localLayout = "2006-01-02T15:04"

type calcOptions struct {
	start             string
	priority          string
	nature            string
	timezone          string
	workdayStart      string
	workdayEnd        string
	weekdays          string
	holidays          []string
	responseMinutes   int
	resolutionMinutes int
	businessHoursOnly bool
	businessHoursSet  bool

	now func() time.Time
}

func defaultOptions() *calcOptions {
	cal := config.DefaultCalendar()
	days := make([]string, 0, len(cal.Weekdays))
	for _, wd := range cal.Weekdays {
		days = append(days, strconv.Itoa(int(wd)))
	}
	return &calcOptions{
		priority:     string(domain.TicketPriorityNormal),
		nature:       string(domain.AttendanceStandard),
		timezone:     cal.Timezone,
		workdayStart: cal.WorkdayStart,
		workdayEnd:   cal.WorkdayEnd,
		weekdays:     strings.Join(days, ","),
		now:          time.Now,
	}
}

func runCalc(out io.Writer, opts *calcOptions) error {
	weekdays, err := domain.ParseWeekdays(opts.weekdays)
	if err != nil {
		return err
	}
	cal, err := calendar.New(domain.BusinessCalendarConfig{
		Timezone:     opts.timezone,
		WorkdayStart: opts.workdayStart,
		WorkdayEnd:   opts.workdayEnd,
		Weekdays:     weekdays,
		Version:      "cli",
	}, calendar.WithHolidayDates(opts.holidays...))
	if err != nil {
		return err
	}

	priority, err := domain.ParseTicketPriority(opts.priority)
	if err != nil {
		return err
	}
	nature, err := domain.ParseAttendanceNature(opts.nature)
	if err != nil {
		return err
	}
	policy, err := resolvePolicy(priority, opts)
	if err != nil {
		return err
	}
	start, err := parseStart(opts, cal.Location())
	if err != nil {
		return err
	}

	record, err := sla.NewEngine(sla.StaticCalendar(cal)).NewRecord(start, policy, nature)
	if err != nil {
		return err
	}

	loc := cal.Location()
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "priority\t%s\n", record.Priority)
	fmt.Fprintf(tw, "nature\t%s\n", nature)
	fmt.Fprintf(tw, "business hours only\t%t\n", record.BusinessHoursOnly)
	fmt.Fprintf(tw, "start\t%s\n", start.In(loc).Format(time.RFC3339))
	fmt.Fprintf(tw, "response due\t%s\t(%d min)\n", record.ResponseDueAt.In(loc).Format(time.RFC3339), record.ResponseTargetMinutes)
	fmt.Fprintf(tw, "resolution due\t%s\t(%d min)\n", record.ResolutionDueAt.In(loc).Format(time.RFC3339), record.ResolutionTargetMinutes)
	return tw.Flush()
}

func resolvePolicy(priority domain.TicketPriority, opts *calcOptions) (domain.SlaPolicy, error) {
	set, err := sla.NewPolicySet(config.DefaultPolicies())
	if err != nil {
		return domain.SlaPolicy{}, err
	}
	policy, _ := set.Lookup(priority)
	if opts.responseMinutes > 0 {
		policy.ResponseTargetMinutes = opts.responseMinutes
	}
	if opts.resolutionMinutes > 0 {
		policy.ResolutionTargetMinutes = opts.resolutionMinutes
	}
	if opts.businessHoursSet {
		policy.BusinessHoursOnly = opts.businessHoursOnly
	}
	return policy, policy.Validate()
}

func parseStart(opts *calcOptions, loc *time.Location) (time.Time, error) {
	raw := strings.TrimSpace(opts.start)
	if raw == "" {
		return opts.now().In(loc), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(localLayout, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --start %q: want RFC3339 or %s", raw, localLayout)
	}
	return t, nil
}

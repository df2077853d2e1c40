package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/calendar"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/observability"
	"github.com/spec-kit/maintenance-service/internal/repository"
	"github.com/spec-kit/maintenance-service/internal/sla"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// ConfigSource tells where the active settings snapshot came from.
type ConfigSource string

const (
	SourceDefaults ConfigSource = "defaults"
	SourceStore    ConfigSource = "store"
)

// Broadcaster announces settings changes to other instances.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// SettingsSnapshot is an immutable view of calendar and policies. Readers
// always see a complete snapshot; reloads swap it atomically.
type SettingsSnapshot struct {
	Calendar       *calendar.Calendar
	CalendarConfig domain.BusinessCalendarConfig
	Holidays       []domain.Holiday
	Policies       sla.PolicySet
	Source         ConfigSource
	LoadedAt       time.Time
}

// SettingsDependencies bundles collaborators for the settings service.
type SettingsDependencies struct {
	CalendarRepo    repository.CalendarRepository
	PolicyRepo      repository.SlaPolicyRepository
	Broadcaster     Broadcaster
	ConfigChannel   string
	DefaultCalendar domain.BusinessCalendarConfig
	DefaultPolicies []domain.SlaPolicy
	Metrics         *observability.Metrics
	Logger          *zap.Logger
	Clock           func() time.Time
}

// SettingsService owns the hot-reloadable calendar and policy configuration.
type SettingsService struct {
	calendars   repository.CalendarRepository
	policies    repository.SlaPolicyRepository
	broadcaster Broadcaster
	channel     string
	defaults    *SettingsSnapshot
	current     atomic.Pointer[SettingsSnapshot]
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewSettingsService starts from the named defaults. Invalid defaults are a
// programming error and are returned as such.
func NewSettingsService(deps SettingsDependencies) (*SettingsService, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	defaults, err := buildSnapshot(deps.DefaultCalendar, nil, deps.DefaultPolicies, nil, SourceDefaults, clock())
	if err != nil {
		return nil, fmt.Errorf("default settings: %w", err)
	}
	s := &SettingsService{
		calendars:   deps.CalendarRepo,
		policies:    deps.PolicyRepo,
		broadcaster: deps.Broadcaster,
		channel:     deps.ConfigChannel,
		defaults:    defaults,
		metrics:     deps.Metrics,
		logger:      logger,
		now:         clock,
	}
	s.current.Store(defaults)
	return s, nil
}

// Snapshot returns the active settings.
func (s *SettingsService) Snapshot() *SettingsSnapshot {
	return s.current.Load()
}

// Calendar implements sla.CalendarSource.
func (s *SettingsService) Calendar() *calendar.Calendar {
	return s.Snapshot().Calendar
}

// Policy returns the active policy for priority.
func (s *SettingsService) Policy(priority domain.TicketPriority) (domain.SlaPolicy, bool) {
	return s.Snapshot().Policies.Lookup(priority)
}

// Reload rebuilds the snapshot from the store. On any invariant violation
// the last-known-good snapshot stays active and a ConfigurationError is
// returned. Missing calendar rows or priorities fall back to the defaults.
func (s *SettingsService) Reload(ctx context.Context) error {
	snap, err := s.loadFromStore(ctx)
	if err != nil {
		s.metrics.RecordConfigReload(false)
		s.logger.Warn("settings reload failed; keeping last known good",
			zap.String("active_source", string(s.Snapshot().Source)),
			zap.Error(err))
		if calendar.IsConfigurationError(err) {
			return apperrors.NewConfigurationError(err)
		}
		return err
	}
	s.current.Store(snap)
	s.metrics.RecordConfigReload(true)
	s.logger.Info("settings reloaded",
		zap.String("calendar_version", snap.CalendarConfig.Version),
		zap.Int("holidays", len(snap.Holidays)))
	return nil
}

func (s *SettingsService) loadFromStore(ctx context.Context) (*SettingsSnapshot, error) {
	if s.calendars == nil || s.policies == nil {
		return s.defaults, nil
	}
	cfg, err := s.calendars.GetConfig(ctx)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		defaults := s.defaults.CalendarConfig
		cfg = &defaults
	case err != nil:
		return nil, fmt.Errorf("load calendar: %w", err)
	}
	holidays, err := s.calendars.ListHolidays(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load holidays: %w", err)
	}
	stored, err := s.policies.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	return buildSnapshot(*cfg, holidays, stored, s.defaults.Policies, SourceStore, s.now())
}

// buildSnapshot validates everything up front so a bad config never becomes
// visible. fallback fills priorities the store has no policy for.
func buildSnapshot(cfg domain.BusinessCalendarConfig, holidays []domain.Holiday, policies []domain.SlaPolicy,
	fallback sla.PolicySet, source ConfigSource, now time.Time) (*SettingsSnapshot, error) {
	cal, err := calendar.New(cfg, calendar.WithHolidays(holidays))
	if err != nil {
		return nil, err
	}
	merged := make([]domain.SlaPolicy, 0, len(domain.AllPriorities))
	byPriority := make(map[domain.TicketPriority]domain.SlaPolicy, len(policies))
	for _, p := range policies {
		if _, dup := byPriority[p.Priority]; dup {
			return nil, &calendar.ConfigurationError{Reason: fmt.Sprintf("more than one active policy for %s", p.Priority)}
		}
		byPriority[p.Priority] = p
	}
	for _, priority := range domain.AllPriorities {
		if p, ok := byPriority[priority]; ok {
			merged = append(merged, p)
			continue
		}
		if p, ok := fallback.Lookup(priority); ok {
			merged = append(merged, p)
		}
	}
	set, err := sla.NewPolicySet(merged)
	if err != nil {
		return nil, &calendar.ConfigurationError{Reason: "invalid SLA policies", Err: err}
	}
	return &SettingsSnapshot{
		Calendar:       cal,
		CalendarConfig: cal.Config(),
		Holidays:       holidays,
		Policies:       set,
		Source:         source,
		LoadedAt:       now,
	}, nil
}

// CalendarInput is the editable part of the business calendar.
type CalendarInput struct {
	Timezone     string
	WorkdayStart string
	WorkdayEnd   string
	Weekdays     []time.Weekday
}

// UpdateCalendar validates and stores a new calendar. It applies to
// computations made after the call only.
func (s *SettingsService) UpdateCalendar(ctx context.Context, actor domain.Actor, input CalendarInput) (*domain.BusinessCalendarConfig, error) {
	cfg := domain.BusinessCalendarConfig{
		Timezone:     strings.TrimSpace(input.Timezone),
		WorkdayStart: strings.TrimSpace(input.WorkdayStart),
		WorkdayEnd:   strings.TrimSpace(input.WorkdayEnd),
		Weekdays:     input.Weekdays,
		Version:      s.newVersion("cal"),
	}
	if _, err := calendar.New(cfg, calendar.WithHolidays(s.Snapshot().Holidays)); err != nil {
		return nil, apperrors.NewConfigurationError(err)
	}
	if err := s.calendars.SaveConfig(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("save calendar: %w", err)
	}
	s.afterWrite(ctx, actor, "calendar", cfg.Version)
	return &cfg, nil
}

// HolidayInput describes a new holiday.
type HolidayInput struct {
	Date  string
	Name  string
	Scope string
}

// ListHolidays returns stored holidays, optionally only active ones.
func (s *SettingsService) ListHolidays(ctx context.Context, activeOnly bool) ([]domain.Holiday, error) {
	return s.calendars.ListHolidays(ctx, activeOnly)
}

// AddHoliday stores an active holiday.
func (s *SettingsService) AddHoliday(ctx context.Context, actor domain.Actor, input HolidayInput) (*domain.Holiday, error) {
	holiday := &domain.Holiday{
		Date:   strings.TrimSpace(input.Date),
		Name:   strings.TrimSpace(input.Name),
		Scope:  strings.TrimSpace(input.Scope),
		Active: true,
	}
	if holiday.Scope == "" {
		holiday.Scope = "global"
	}
	if err := holiday.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), map[string]any{"date": input.Date})
	}
	if err := s.calendars.CreateHoliday(ctx, holiday); err != nil {
		return nil, fmt.Errorf("create holiday: %w", err)
	}
	s.afterWrite(ctx, actor, "holiday", holiday.Date)
	return holiday, nil
}

// DeactivateHoliday removes a holiday from future computations.
func (s *SettingsService) DeactivateHoliday(ctx context.Context, actor domain.Actor, id string) error {
	if err := s.calendars.DeactivateHoliday(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("holiday", map[string]any{"holiday_id": id})
		}
		return fmt.Errorf("deactivate holiday: %w", err)
	}
	s.afterWrite(ctx, actor, "holiday", id)
	return nil
}

// PolicyInput publishes a new policy version. Targets are expressed in Unit.
type PolicyInput struct {
	Priority          string
	ResponseTarget    int
	ResolutionTarget  int
	Unit              sla.TargetUnit
	BusinessHoursOnly bool
}

// ListPolicies returns stored policy versions, newest first per priority.
func (s *SettingsService) ListPolicies(ctx context.Context, priority *domain.TicketPriority) ([]domain.SlaPolicy, error) {
	return s.policies.ListVersions(ctx, priority)
}

// PublishPolicy stores a new active version. Tickets classified earlier
// keep the snapshot they were computed with.
func (s *SettingsService) PublishPolicy(ctx context.Context, actor domain.Actor, input PolicyInput) (*domain.SlaPolicy, error) {
	priority, err := domain.ParseTicketPriority(input.Priority)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), map[string]any{"priority": input.Priority})
	}
	perDay := s.Calendar().BusinessMinutesPerDay()
	response, err := sla.ToMinutes(input.ResponseTarget, input.Unit, perDay)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("response target: %v", err), nil)
	}
	resolution, err := sla.ToMinutes(input.ResolutionTarget, input.Unit, perDay)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("resolution target: %v", err), nil)
	}
	policy := &domain.SlaPolicy{
		Priority:                priority,
		ResponseTargetMinutes:   response,
		ResolutionTargetMinutes: resolution,
		BusinessHoursOnly:       input.BusinessHoursOnly,
		Version:                 s.newVersion(strings.ToLower(string(priority))),
	}
	if err := policy.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}
	if err := s.policies.CreateVersion(ctx, policy); err != nil {
		return nil, fmt.Errorf("publish policy: %w", err)
	}
	s.afterWrite(ctx, actor, "policy", policy.Version)
	return policy, nil
}

// afterWrite reloads locally and tells other instances to do the same.
// Neither step fails the admin write that already succeeded.
func (s *SettingsService) afterWrite(ctx context.Context, actor domain.Actor, kind, version string) {
	if err := s.Reload(ctx); err != nil {
		s.logger.Warn("reload after settings write failed", zap.String("kind", kind), zap.Error(err))
	}
	s.logger.Info("settings changed",
		zap.String("kind", kind),
		zap.String("version", version),
		zap.String("actor_id", actor.ID))
	if s.broadcaster == nil || s.channel == "" {
		return
	}
	payload, err := json.Marshal(events.SettingsPublishedPayload{Kind: kind, Version: version})
	if err != nil {
		return
	}
	if err := s.broadcaster.Publish(ctx, s.channel, payload); err != nil {
		s.logger.Warn("settings broadcast failed", zap.String("channel", s.channel), zap.Error(err))
	}
}

func (s *SettingsService) newVersion(prefix string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, s.now().UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

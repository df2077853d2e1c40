package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/calendar"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/observability"
	"github.com/spec-kit/maintenance-service/internal/repository"
	"github.com/spec-kit/maintenance-service/internal/sla"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// PolicySource returns the active SLA policy for a priority.
type PolicySource interface {
	Policy(priority domain.TicketPriority) (domain.SlaPolicy, bool)
}

// TicketService coordinates ticket workflows other than assignment.
type TicketService struct {
	*lifecycle
	policies PolicySource
	engine   *sla.Engine
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	HistoryRepo repository.TicketHistoryRepository
	Policies    PolicySource
	Calendars   sla.CalendarSource
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title            string
	Description      string
	Location         string
	CatalogServiceID *string
}

// ClassifyInput is the triage decision for an open ticket.
type ClassifyInput struct {
	Priority         string
	AttendanceNature string
	CatalogServiceID *string
	Notes            string
}

// TicketListFilter describes listing filters.
type TicketListFilter struct {
	Statuses     []domain.TicketStatus
	Priorities   []domain.TicketPriority
	RequesterID  *string
	TechnicianID *string
	Limit        int
	Offset       int
}

// SlaStatus is the read-only SLA projection of a ticket.
type SlaStatus struct {
	TicketID             string
	Priority             domain.TicketPriority
	BusinessHoursOnly    bool
	ResponseDueAt        time.Time
	ResolutionDueAt      time.Time
	ResponseState        domain.ClockState
	ResolutionState      domain.ClockState
	ResponseBreachedAt   *time.Time
	ResolutionBreachedAt *time.Time
	DisplayStatus        domain.DisplayStatus
	ConfigVersion        string
	CalendarVersion      string
	EvaluatedAt          time.Time
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	return &TicketService{
		lifecycle: newLifecycle(deps.TicketRepo, deps.HistoryRepo, deps.Dispatcher, deps.Metrics, deps.Logger, deps.Clock),
		policies:  deps.Policies,
		engine:    sla.NewEngine(deps.Calendars),
	}
}

// CreateTicket opens a ticket without SLA. The SLA starts at classification.
func (s *TicketService) CreateTicket(ctx context.Context, actor domain.Actor, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("title required", nil)
	}
	ticket := &domain.Ticket{
		ExternalKey:      generateTicketKey(),
		RequesterID:      actor.ID,
		Title:            title,
		Description:      strings.TrimSpace(input.Description),
		Location:         strings.TrimSpace(input.Location),
		Status:           domain.TicketStatusOpen,
		CatalogServiceID: trimmedOrNil(input.CatalogServiceID),
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	s.record(ctx, actor, ticket.ID, domain.ActionCreated, nil, statusPtr(ticket.Status), "", nil)
	s.publish(ctx, actor, events.EventTicketCreated, ticket.ID, events.TicketCreatedPayload{
		ExternalKey: ticket.ExternalKey,
		Title:       ticket.Title,
		RequesterID: ticket.RequesterID,
	})
	return ticket, nil
}

// Get returns a ticket by id.
func (s *TicketService) Get(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return s.load(ctx, ticketID)
}

// List returns tickets matching filter.
func (s *TicketService) List(ctx context.Context, filter TicketListFilter) ([]domain.Ticket, error) {
	return s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		RequesterID:  filter.RequesterID,
		TechnicianID: filter.TechnicianID,
		Statuses:     filter.Statuses,
		Priorities:   filter.Priorities,
		Limit:        filter.Limit,
		Offset:       filter.Offset,
	})
}

// Classify sets priority and nature, computes the SLA record once and moves
// the ticket to validated. A concurrent second classification loses the
// conditional write and gets a conflict.
func (s *TicketService) Classify(ctx context.Context, actor domain.Actor, ticketID string, input ClassifyInput) (*domain.Ticket, error) {
	priority, err := domain.ParseTicketPriority(input.Priority)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), map[string]any{"priority": input.Priority})
	}
	nature, err := domain.ParseAttendanceNature(input.AttendanceNature)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), map[string]any{"attendance_nature": input.AttendanceNature})
	}

	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(OpClassify, ticket); err != nil {
		return nil, err
	}

	next := ticket.Clone()
	if skill := trimmedOrNil(input.CatalogServiceID); skill != nil {
		next.CatalogServiceID = skill
	}
	if next.SkillTag() == "" {
		return nil, apperrors.NewValidationError("catalog service required to classify", map[string]any{"ticket_id": ticket.ID})
	}

	policy, ok := s.policies.Policy(priority)
	if !ok {
		return nil, apperrors.NewConfigurationError(fmt.Errorf("no active SLA policy for %s", priority))
	}
	now := s.now()
	record, err := s.engine.NewRecord(now, policy, nature)
	if err != nil {
		if calendar.IsConfigurationError(err) {
			return nil, apperrors.NewConfigurationError(err)
		}
		return nil, fmt.Errorf("compute sla: %w", err)
	}

	next.Priority = &priority
	next.AttendanceNature = &nature
	next.SLA = record
	next.ClassifiedAt = timePtr(now)
	next.Status = domain.TicketStatusValidated

	if err := s.commit(ctx, OpClassify, next, repository.TicketGuard{}); err != nil {
		return nil, err
	}
	s.record(ctx, actor, next.ID, domain.ActionClassified, statusPtr(ticket.Status), statusPtr(next.Status), input.Notes,
		map[string]any{
			"priority":          string(priority),
			"attendance_nature": string(nature),
			"catalog_service":   next.SkillTag(),
			"response_due_at":   record.ResponseDueAt,
			"resolution_due_at": record.ResolutionDueAt,
			"config_version":    record.ConfigVersion,
			"calendar_version":  record.CalendarVersion,
		})
	s.publish(ctx, actor, events.EventTicketClassified, next.ID, events.TicketClassifiedPayload{
		Priority:         priority,
		AttendanceNature: nature,
		ResponseDueAt:    record.ResponseDueAt,
		ResolutionDueAt:  record.ResolutionDueAt,
		ConfigVersion:    record.ConfigVersion,
		CalendarVersion:  record.CalendarVersion,
	})
	return next, nil
}

// RecordCompletion stores the execution details, stops the resolution
// clock and evaluates its breach. Technicians may only complete their own
// tickets.
func (s *TicketService) RecordCompletion(ctx context.Context, actor domain.Actor, ticketID, executionDetails string) (*domain.Ticket, error) {
	details := strings.TrimSpace(executionDetails)
	if details == "" {
		return nil, apperrors.NewValidationError("execution details required", nil)
	}
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(OpComplete, ticket); err != nil {
		return nil, err
	}
	assignee := ticket.AssignedTo()
	if actor.Role == domain.RoleTechnician && actor.ID != assignee {
		return nil, apperrors.NewForbidden("only the assigned technician can complete this ticket")
	}

	now := s.now()
	next := ticket.Clone()
	next.Status = domain.TicketStatusCompleted
	next.ExecutionDetails = details
	next.CompletedAt = timePtr(now)
	var breached []domain.SlaClock
	if next.SLA != nil {
		next.SLA.ResolvedAt = timePtr(now)
		breached = sla.ApplyBreaches(next.SLA, now)
	}

	computed := next.SLA.Clone()
	guard := repository.TicketGuard{AssignedTechnicianID: ticket.AssignedTechnicianID, RequireUnassigned: assignee == ""}
	if err := s.commit(ctx, OpComplete, next, guard); err != nil {
		return nil, err
	}
	breached = storedBreaches(computed, next.SLA, breached)
	s.record(ctx, actor, next.ID, domain.ActionCompleted, statusPtr(ticket.Status), statusPtr(next.Status), details,
		map[string]any{"technician_id": assignee})
	s.publish(ctx, actor, events.EventTicketCompleted, next.ID, events.TicketStatusChangedPayload{
		OldStatus: ticket.Status,
		NewStatus: next.Status,
	})
	s.publishBreaches(ctx, actor, next, breached)
	return next, nil
}

// Close finalizes a completed ticket.
func (s *TicketService) Close(ctx context.Context, actor domain.Actor, ticketID, notes string) (*domain.Ticket, error) {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(OpClose, ticket); err != nil {
		return nil, err
	}
	next := ticket.Clone()
	next.Status = domain.TicketStatusClosed
	next.ClosedAt = timePtr(s.now())

	if err := s.commit(ctx, OpClose, next, repository.TicketGuard{}); err != nil {
		return nil, err
	}
	s.record(ctx, actor, next.ID, domain.ActionClosed, statusPtr(ticket.Status), statusPtr(next.Status), notes, nil)
	s.publish(ctx, actor, events.EventTicketClosed, next.ID, events.TicketStatusChangedPayload{
		OldStatus: ticket.Status,
		NewStatus: next.Status,
		Comment:   notes,
	})
	return next, nil
}

// Cancel terminates a ticket that has not been completed. Requesters may
// only cancel their own tickets.
func (s *TicketService) Cancel(ctx context.Context, actor domain.Actor, ticketID, reason string) (*domain.Ticket, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.NewValidationError("cancellation reason required", nil)
	}
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleRequester && actor.ID != ticket.RequesterID {
		return nil, apperrors.NewForbidden("only the requester can cancel this ticket")
	}
	if err := checkTransition(OpCancel, ticket); err != nil {
		return nil, err
	}
	next := ticket.Clone()
	next.Status = domain.TicketStatusCancelled
	next.CancelReason = reason
	next.CancelledAt = timePtr(s.now())

	guard := repository.TicketGuard{AssignedTechnicianID: ticket.AssignedTechnicianID, RequireUnassigned: ticket.AssignedTo() == ""}
	if err := s.commit(ctx, OpCancel, next, guard); err != nil {
		return nil, err
	}
	s.record(ctx, actor, next.ID, domain.ActionCancelled, statusPtr(ticket.Status), statusPtr(next.Status), reason, nil)
	s.publish(ctx, actor, events.EventTicketCancelled, next.ID, events.TicketStatusChangedPayload{
		OldStatus: ticket.Status,
		NewStatus: next.Status,
		Comment:   reason,
	})
	return next, nil
}

// GetSlaStatus projects the SLA of a ticket at the current instant.
func (s *TicketService) GetSlaStatus(ctx context.Context, ticketID string) (*SlaStatus, error) {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.SLA == nil {
		return nil, apperrors.NewPreconditionError("report SLA for", string(ticket.Status.Normalized()),
			map[string]any{"ticket_id": ticket.ID, "reason": sla.ErrNoRecord.Error()})
	}
	now := s.now()
	rec := ticket.SLA
	response, resolution := sla.ClockStates(rec, now)
	return &SlaStatus{
		TicketID:             ticket.ID,
		Priority:             rec.Priority,
		BusinessHoursOnly:    rec.BusinessHoursOnly,
		ResponseDueAt:        rec.ResponseDueAt,
		ResolutionDueAt:      rec.ResolutionDueAt,
		ResponseState:        response,
		ResolutionState:      resolution,
		ResponseBreachedAt:   rec.ResponseBreachedAt,
		ResolutionBreachedAt: rec.ResolutionBreachedAt,
		DisplayStatus:        sla.Display(rec, now),
		ConfigVersion:        rec.ConfigVersion,
		CalendarVersion:      rec.CalendarVersion,
		EvaluatedAt:          now,
	}, nil
}

// ListHistory returns the audit trail of a ticket, oldest first.
func (s *TicketService) ListHistory(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	if _, err := s.load(ctx, ticketID); err != nil {
		return nil, err
	}
	return s.history.ListByTicket(ctx, ticketID)
}

// EvaluateBreaches persists first-detected breaches for tickets whose
// clocks are still running. Each write is pinned to the version that was
// read, so a breach instant is written at most once even when several
// sweepers run. It returns the number of tickets updated.
func (s *TicketService) EvaluateBreaches(ctx context.Context, limit int) (int, error) {
	tickets, err := s.tickets.ListRunningSLA(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list running sla: %w", err)
	}
	system := domain.SystemActor()
	updated := 0
	for i := range tickets {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		ticket := &tickets[i]
		if ticket.SLA == nil {
			continue
		}
		next := ticket.Clone()
		changed := sla.ApplyBreaches(next.SLA, s.now())
		if len(changed) == 0 {
			continue
		}
		stamp := ticket.UpdatedAt
		err := s.tickets.UpdateIf(ctx, next, repository.TicketGuard{
			Statuses:  []domain.TicketStatus{ticket.Status},
			UpdatedAt: &stamp,
		})
		if errors.Is(err, repository.ErrGuardFailed) {
			s.logger.Debug("ticket changed during sweep; skipping", zap.String("ticket_id", ticket.ID))
			continue
		}
		if err != nil {
			s.logger.Warn("persist breach failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
			continue
		}
		updated++
		clocks := make([]string, len(changed))
		for j, c := range changed {
			clocks[j] = string(c)
		}
		s.record(ctx, system, next.ID, domain.ActionSlaBreached, nil, nil, "", map[string]any{"clocks": clocks})
		s.publishBreaches(ctx, system, next, changed)
	}
	return updated, nil
}

func generateTicketKey() string {
	return "MNT-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/observability"
	"github.com/spec-kit/maintenance-service/internal/repository"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// Operation names a state-changing lifecycle operation.
type Operation string

const (
	OpClassify Operation = "classify"
	OpAssign   Operation = "assign"
	OpReassign Operation = "reassign"
	OpComplete Operation = "complete"
	OpClose    Operation = "close"
	OpCancel   Operation = "cancel"
)

type transition struct {
	from   []domain.TicketStatus
	to     domain.TicketStatus
	action domain.HistoryAction
}

// transitions is the full lifecycle table. Anything not listed is illegal.
var transitions = map[Operation]transition{
	OpClassify: {
		from:   []domain.TicketStatus{domain.TicketStatusOpen},
		to:     domain.TicketStatusValidated,
		action: domain.ActionClassified,
	},
	OpAssign: {
		from:   []domain.TicketStatus{domain.TicketStatusValidated, domain.TicketStatusPendingValidation},
		to:     domain.TicketStatusInService,
		action: domain.ActionAssigned,
	},
	OpReassign: {
		from:   []domain.TicketStatus{domain.TicketStatusInService},
		to:     domain.TicketStatusInService,
		action: domain.ActionReassigned,
	},
	OpComplete: {
		from:   []domain.TicketStatus{domain.TicketStatusInService},
		to:     domain.TicketStatusCompleted,
		action: domain.ActionCompleted,
	},
	OpClose: {
		from:   []domain.TicketStatus{domain.TicketStatusCompleted},
		to:     domain.TicketStatusClosed,
		action: domain.ActionClosed,
	},
	OpCancel: {
		from: []domain.TicketStatus{
			domain.TicketStatusOpen,
			domain.TicketStatusValidated,
			domain.TicketStatusPendingValidation,
			domain.TicketStatusInService,
		},
		to:     domain.TicketStatusCancelled,
		action: domain.ActionCancelled,
	},
}

// CanTransition reports whether op is legal from status.
func CanTransition(op Operation, status domain.TicketStatus) bool {
	t, ok := transitions[op]
	if !ok {
		return false
	}
	for _, s := range t.from {
		if s == status {
			return true
		}
	}
	return false
}

// TargetStatus returns the status op leads to.
func TargetStatus(op Operation) (domain.TicketStatus, bool) {
	t, ok := transitions[op]
	return t.to, ok
}

func checkTransition(op Operation, ticket *domain.Ticket) error {
	if CanTransition(op, ticket.Status) {
		return nil
	}
	return apperrors.NewPreconditionError(string(op), string(ticket.Status.Normalized()),
		map[string]any{"ticket_id": ticket.ID})
}

// lifecycle carries what every transition needs: the guarded write, the
// audit sink and the event dispatcher.
type lifecycle struct {
	tickets    repository.TicketRepository
	history    repository.TicketHistoryRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func newLifecycle(tickets repository.TicketRepository, history repository.TicketHistoryRepository,
	dispatcher events.Dispatcher, metrics *observability.Metrics, logger *zap.Logger, clock func() time.Time) *lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &lifecycle{
		tickets:    tickets,
		history:    history,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
		now:        clock,
	}
}

func (l *lifecycle) load(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	if strings.TrimSpace(ticketID) == "" {
		return nil, apperrors.NewValidationError("ticket id required", nil)
	}
	ticket, err := l.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, fmt.Errorf("load ticket %s: %w", ticketID, err)
	}
	return ticket, nil
}

// commit performs the conditional write of next. The guard always pins the
// statuses op is legal from; callers add assignment ownership on top.
func (l *lifecycle) commit(ctx context.Context, op Operation, next *domain.Ticket, guard repository.TicketGuard) error {
	t := transitions[op]
	guard.Statuses = t.from
	err := l.tickets.UpdateIf(ctx, next, guard)
	switch {
	case err == nil:
		l.metrics.RecordTransition(string(op), "ok")
		return nil
	case errors.Is(err, repository.ErrGuardFailed):
		l.metrics.RecordTransition(string(op), apperrors.CodeConflict)
		return apperrors.NewConflict("ticket was changed by another operation; refresh and retry",
			map[string]any{"ticket_id": next.ID, "operation": string(op)})
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": next.ID})
	default:
		l.metrics.RecordTransition(string(op), apperrors.CodeInternal)
		return fmt.Errorf("%s ticket %s: %w", op, next.ID, err)
	}
}

// record appends an audit entry. Failures are logged and never undo the
// transition that was already committed.
func (l *lifecycle) record(ctx context.Context, actor domain.Actor, ticketID string, action domain.HistoryAction,
	before, after *domain.TicketStatus, notes string, details map[string]any) {
	if l.history == nil {
		return
	}
	entry := &domain.TicketHistory{
		TicketID:     ticketID,
		ActorID:      actor.ID,
		Action:       action,
		StatusBefore: before,
		StatusAfter:  after,
		Notes:        notes,
		Details:      details,
	}
	if err := l.history.Create(ctx, entry); err != nil {
		l.logger.Warn("history write failed",
			zap.String("ticket_id", ticketID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

func (l *lifecycle) publish(ctx context.Context, actor domain.Actor, eventType events.EventType, ticketID string, payload any) {
	if l.dispatcher == nil {
		return
	}
	_ = l.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     events.ActorFrom(actor),
		Timestamp: l.now(),
		Payload:   payload,
	})
}

// publishBreaches emits one event per newly breached clock.
func (l *lifecycle) publishBreaches(ctx context.Context, actor domain.Actor, ticket *domain.Ticket, clocks []domain.SlaClock) {
	if ticket.SLA == nil {
		return
	}
	for _, clock := range clocks {
		payload := events.SlaBreachedPayload{Clock: clock, Priority: ticket.SLA.Priority}
		switch clock {
		case domain.ClockResponse:
			payload.DueAt = ticket.SLA.ResponseDueAt
			payload.BreachedAt = *ticket.SLA.ResponseBreachedAt
		case domain.ClockResolution:
			payload.DueAt = ticket.SLA.ResolutionDueAt
			payload.BreachedAt = *ticket.SLA.ResolutionBreachedAt
		}
		l.metrics.RecordBreach(string(clock), string(ticket.SLA.Priority))
		l.publish(ctx, actor, events.EventSlaBreached, ticket.ID, payload)
	}
}

// storedBreaches keeps the clocks whose breach instant from computed is the
// one that was persisted. A breach stored earlier by another writer wins.
func storedBreaches(computed, stored *domain.SlaRecord, clocks []domain.SlaClock) []domain.SlaClock {
	if computed == nil || stored == nil {
		return nil
	}
	var out []domain.SlaClock
	for _, clock := range clocks {
		var mine, kept *time.Time
		switch clock {
		case domain.ClockResponse:
			mine, kept = computed.ResponseBreachedAt, stored.ResponseBreachedAt
		case domain.ClockResolution:
			mine, kept = computed.ResolutionBreachedAt, stored.ResolutionBreachedAt
		}
		if mine != nil && kept != nil && mine.Equal(*kept) {
			out = append(out, clock)
		}
	}
	return out
}

func statusPtr(s domain.TicketStatus) *domain.TicketStatus {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}

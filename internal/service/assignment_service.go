package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/assignment"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/observability"
	"github.com/spec-kit/maintenance-service/internal/repository"
	"github.com/spec-kit/maintenance-service/internal/sla"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// AssignmentService handles ticket assignment operations and the roster.
type AssignmentService struct {
	*lifecycle
	technicians repository.TechnicianRepository
	engine      *assignment.Engine
}

// AssignmentDependencies bundles repositories.
type AssignmentDependencies struct {
	TicketRepo     repository.TicketRepository
	TechnicianRepo repository.TechnicianRepository
	HistoryRepo    repository.TicketHistoryRepository
	Dispatcher     events.Dispatcher
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	Clock          func() time.Time
}

// AssignResult discloses which technician got the ticket and how.
type AssignResult struct {
	Ticket         *domain.Ticket
	TechnicianID   string
	TechnicianName string
	Strategy       assignment.Strategy
	// PreferredID is the technician that was asked for, if any.
	PreferredID string
}

// ReassignResult reports both sides of a reassignment.
type ReassignResult struct {
	Ticket                 *domain.Ticket
	PreviousTechnicianID   string
	PreviousTechnicianName string
	TechnicianID           string
	TechnicianName         string
}

// TechnicianLoad is a roster row with its derived load.
type TechnicianLoad struct {
	Technician domain.Technician
	Load       int
}

// TechnicianInput describes a roster entry to create or update.
type TechnicianInput struct {
	Name               string
	Email              string
	Skills             []string
	MaxAssignedTickets int
	Active             *bool
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	return &AssignmentService{
		lifecycle:   newLifecycle(deps.TicketRepo, deps.HistoryRepo, deps.Dispatcher, deps.Metrics, deps.Logger, deps.Clock),
		technicians: deps.TechnicianRepo,
		engine:      assignment.NewEngine(deps.TechnicianRepo, deps.TicketRepo),
	}
}

// Assign puts a validated ticket in service. With preferredID the preferred
// technician is used unless over capacity, in which case the least-loaded
// eligible technician is chosen instead. The write only succeeds if the
// ticket is still unassigned, so of two concurrent assignments exactly one
// wins.
func (s *AssignmentService) Assign(ctx context.Context, actor domain.Actor, ticketID, preferredID string) (*AssignResult, error) {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(OpAssign, ticket); err != nil {
		return nil, err
	}
	if ticket.AssignedTo() != "" {
		return nil, apperrors.NewPreconditionError(string(OpAssign), string(ticket.Status.Normalized()),
			map[string]any{"ticket_id": ticket.ID, "technician_id": ticket.AssignedTo()})
	}

	choice, err := s.engine.Choose(ctx, ticket.SkillTag(), strings.TrimSpace(preferredID))
	if err != nil {
		return nil, err
	}

	now := s.now()
	techID := choice.Technician.ID
	next := ticket.Clone()
	next.Status = domain.TicketStatusInService
	next.AssignedTechnicianID = &techID
	next.AssignedAt = timePtr(now)
	var breached []domain.SlaClock
	if next.SLA != nil {
		next.SLA.ResponseStartedAt = timePtr(now)
		breached = sla.ApplyBreaches(next.SLA, now)
	}

	computed := next.SLA.Clone()
	if err := s.commit(ctx, OpAssign, next, repository.TicketGuard{RequireUnassigned: true}); err != nil {
		return nil, err
	}
	breached = storedBreaches(computed, next.SLA, breached)
	s.metrics.RecordAssignment(string(choice.Strategy))
	s.logger.Info("ticket assigned",
		zap.String("ticket_id", next.ID),
		zap.String("technician_id", techID),
		zap.String("strategy", string(choice.Strategy)))

	s.record(ctx, actor, next.ID, domain.ActionAssigned, statusPtr(ticket.Status), statusPtr(next.Status), "",
		map[string]any{
			"technician_id":           techID,
			"technician_name":         choice.Technician.Name,
			"strategy":                string(choice.Strategy),
			"preferred_technician_id": choice.PreferredID,
			"load_at_assignment":      choice.Load,
		})
	s.publish(ctx, actor, events.EventTicketAssigned, next.ID, events.TicketAssignedPayload{
		TechnicianID:   techID,
		TechnicianName: choice.Technician.Name,
		Strategy:       string(choice.Strategy),
		PreferredID:    choice.PreferredID,
	})
	s.publishBreaches(ctx, actor, next, breached)

	return &AssignResult{
		Ticket:         next,
		TechnicianID:   techID,
		TechnicianName: choice.Technician.Name,
		Strategy:       choice.Strategy,
		PreferredID:    choice.PreferredID,
	}, nil
}

// Reassign moves an in-service ticket to another technician. There is no
// fallback, and the write only succeeds if the incumbent is still the one
// that was read.
func (s *AssignmentService) Reassign(ctx context.Context, actor domain.Actor, ticketID, newTechnicianID, notes string) (*ReassignResult, error) {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(OpReassign, ticket); err != nil {
		return nil, err
	}
	incumbent := ticket.AssignedTo()
	choice, err := s.engine.ChooseReplacement(ctx, ticket.SkillTag(), incumbent, strings.TrimSpace(newTechnicianID))
	if err != nil {
		return nil, err
	}

	techID := choice.Technician.ID
	next := ticket.Clone()
	next.AssignedTechnicianID = &techID
	next.ReassignedAt = timePtr(s.now())
	next.ReassignmentCount++

	guard := repository.TicketGuard{AssignedTechnicianID: ticket.AssignedTechnicianID, RequireUnassigned: incumbent == ""}
	if err := s.commit(ctx, OpReassign, next, guard); err != nil {
		return nil, err
	}
	s.metrics.RecordAssignment("REASSIGN")

	previousName := s.technicianName(ctx, incumbent)
	s.record(ctx, actor, next.ID, domain.ActionReassigned, statusPtr(ticket.Status), statusPtr(next.Status), notes,
		map[string]any{
			"previous_technician_id":   incumbent,
			"previous_technician_name": previousName,
			"technician_id":            techID,
			"technician_name":          choice.Technician.Name,
		})
	s.publish(ctx, actor, events.EventTicketReassigned, next.ID, events.TicketReassignedPayload{
		PreviousTechnicianID:   incumbent,
		PreviousTechnicianName: previousName,
		TechnicianID:           techID,
		TechnicianName:         choice.Technician.Name,
		Notes:                  notes,
	})
	return &ReassignResult{
		Ticket:                 next,
		PreviousTechnicianID:   incumbent,
		PreviousTechnicianName: previousName,
		TechnicianID:           techID,
		TechnicianName:         choice.Technician.Name,
	}, nil
}

// ListTechnicians returns the roster with the load derived right now.
func (s *AssignmentService) ListTechnicians(ctx context.Context, filter repository.TechnicianFilter) ([]TechnicianLoad, error) {
	roster, err := s.technicians.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list technicians: %w", err)
	}
	ids := make([]string, 0, len(roster))
	for _, tech := range roster {
		ids = append(ids, tech.ID)
	}
	loads, err := s.engine.ComputeLoad(ctx, ids)
	if err != nil {
		return nil, err
	}
	result := make([]TechnicianLoad, 0, len(roster))
	for _, tech := range roster {
		result = append(result, TechnicianLoad{Technician: tech, Load: loads[tech.ID]})
	}
	return result, nil
}

// CreateTechnician adds a roster entry.
func (s *AssignmentService) CreateTechnician(ctx context.Context, input TechnicianInput) (*domain.Technician, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewValidationError("name required", nil)
	}
	if input.MaxAssignedTickets < 0 {
		return nil, apperrors.NewValidationError("max assigned tickets cannot be negative", nil)
	}
	tech := &domain.Technician{
		Name:               name,
		Email:              strings.TrimSpace(input.Email),
		Skills:             normalizeSkills(input.Skills),
		MaxAssignedTickets: input.MaxAssignedTickets,
		Active:             input.Active == nil || *input.Active,
	}
	if err := s.technicians.Create(ctx, tech); err != nil {
		return nil, fmt.Errorf("create technician: %w", err)
	}
	return tech, nil
}

// UpdateTechnician replaces the mutable fields of a roster entry. Tickets
// already assigned to a deactivated technician stay where they are.
func (s *AssignmentService) UpdateTechnician(ctx context.Context, id string, input TechnicianInput) (*domain.Technician, error) {
	tech, err := s.technicians.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("technician", map[string]any{"technician_id": id})
		}
		return nil, fmt.Errorf("get technician %s: %w", id, err)
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		tech.Name = name
	}
	if email := strings.TrimSpace(input.Email); email != "" {
		tech.Email = email
	}
	if input.Skills != nil {
		tech.Skills = normalizeSkills(input.Skills)
	}
	if input.MaxAssignedTickets < 0 {
		return nil, apperrors.NewValidationError("max assigned tickets cannot be negative", nil)
	}
	if input.MaxAssignedTickets > 0 {
		tech.MaxAssignedTickets = input.MaxAssignedTickets
	}
	if input.Active != nil {
		tech.Active = *input.Active
	}
	if err := s.technicians.Update(ctx, tech); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("technician", map[string]any{"technician_id": id})
		}
		return nil, fmt.Errorf("update technician %s: %w", id, err)
	}
	return tech, nil
}

func (s *AssignmentService) technicianName(ctx context.Context, id string) string {
	if id == "" {
		return ""
	}
	tech, err := s.technicians.GetByID(ctx, id)
	if err != nil {
		s.logger.Debug("lookup previous technician failed", zap.String("technician_id", id), zap.Error(err))
		return ""
	}
	return tech.Name
}

func normalizeSkills(skills []string) []string {
	seen := make(map[string]struct{}, len(skills))
	result := make([]string, 0, len(skills))
	for _, skill := range skills {
		skill = strings.TrimSpace(skill)
		if skill == "" {
			continue
		}
		if _, ok := seen[skill]; ok {
			continue
		}
		seen[skill] = struct{}{}
		result = append(result, skill)
	}
	return result
}

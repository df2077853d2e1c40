// Package assignment picks the technician that should work a ticket. Load is
// always derived from ticket state at call time and never reserved, so two
// concurrent assignments may both see the same spare slot.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/maintenance-service/internal/domain"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// Strategy discloses how the technician was chosen.
type Strategy string

const (
	StrategyManual   Strategy = "MANUAL"
	StrategyFallback Strategy = "FALLBACK"
)

// TechnicianSource lists roster entries.
type TechnicianSource interface {
	GetByID(ctx context.Context, id string) (*domain.Technician, error)
	ListBySkill(ctx context.Context, skillID string, activeOnly bool) ([]domain.Technician, error)
}

// LoadCounter counts active tickets per technician.
type LoadCounter interface {
	CountActiveByTechnician(ctx context.Context, technicianIDs []string) (map[string]int, error)
}

// Choice is the outcome of a selection.
type Choice struct {
	Technician domain.Technician
	Strategy   Strategy
	Load       int
	// PreferredID is set when a manual preference was given, including when
	// it was overridden by a fallback.
	PreferredID string
}

// Engine combines roster lookup, load snapshots and selection rules.
type Engine struct {
	technicians TechnicianSource
	loads       LoadCounter
}

// NewEngine constructs an engine.
func NewEngine(technicians TechnicianSource, loads LoadCounter) *Engine {
	return &Engine{technicians: technicians, loads: loads}
}

// FindEligible returns active technicians holding skillID, minus excludeID.
func (e *Engine) FindEligible(ctx context.Context, skillID, excludeID string) ([]domain.Technician, error) {
	list, err := e.technicians.ListBySkill(ctx, skillID, true)
	if err != nil {
		return nil, fmt.Errorf("list technicians for skill %s: %w", skillID, err)
	}
	return FilterEligible(list, skillID, excludeID), nil
}

// FilterEligible applies the eligibility rule to an arbitrary roster.
func FilterEligible(roster []domain.Technician, skillID, excludeID string) []domain.Technician {
	out := make([]domain.Technician, 0, len(roster))
	for _, tech := range roster {
		if !tech.Active || !tech.HasSkill(skillID) {
			continue
		}
		if excludeID != "" && tech.ID == excludeID {
			continue
		}
		out = append(out, tech)
	}
	return out
}

// ComputeLoad returns the active ticket count per technician id. Ids without
// tickets are present with zero.
func (e *Engine) ComputeLoad(ctx context.Context, technicianIDs []string) (map[string]int, error) {
	loads := make(map[string]int, len(technicianIDs))
	if len(technicianIDs) == 0 {
		return loads, nil
	}
	counts, err := e.loads.CountActiveByTechnician(ctx, technicianIDs)
	if err != nil {
		return nil, fmt.Errorf("count technician load: %w", err)
	}
	for _, id := range technicianIDs {
		loads[id] = counts[id]
	}
	return loads, nil
}

// SelectBest returns the least-loaded technician under capacity, ties broken
// by name then id. It returns nil when nobody has spare capacity.
func SelectBest(eligible []domain.Technician, loads map[string]int) *domain.Technician {
	candidates := make([]domain.Technician, 0, len(eligible))
	for _, tech := range eligible {
		if loads[tech.ID] < tech.Capacity() {
			candidates = append(candidates, tech)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		li, lj := loads[candidates[i].ID], loads[candidates[j].ID]
		if li != lj {
			return li < lj
		}
		ni, nj := strings.ToLower(candidates[i].Name), strings.ToLower(candidates[j].Name)
		if ni != nj {
			return ni < nj
		}
		return candidates[i].ID < candidates[j].ID
	})
	best := candidates[0]
	return &best
}

// Choose picks a technician for skillID. A preferred technician is honored
// unless over capacity, in which case the best other eligible technician is
// returned with StrategyFallback.
func (e *Engine) Choose(ctx context.Context, skillID, preferredID string) (*Choice, error) {
	if strings.TrimSpace(skillID) == "" {
		return nil, apperrors.NewValidationError("ticket has no service skill; classify it first", nil)
	}
	if preferredID == "" {
		return e.chooseAutomatic(ctx, skillID, "", "")
	}

	preferred, err := e.requireEligible(ctx, skillID, preferredID)
	if err != nil {
		return nil, err
	}
	loads, err := e.ComputeLoad(ctx, []string{preferred.ID})
	if err != nil {
		return nil, err
	}
	if loads[preferred.ID] < preferred.Capacity() {
		return &Choice{
			Technician:  *preferred,
			Strategy:    StrategyManual,
			Load:        loads[preferred.ID],
			PreferredID: preferred.ID,
		}, nil
	}
	choice, err := e.chooseAutomatic(ctx, skillID, preferred.ID, preferred.ID)
	if err != nil {
		if apperrors.IsKind(err, apperrors.CodeCapacityExhausted) {
			return nil, apperrors.NewCapacityExhausted(
				fmt.Sprintf("technician %s is at capacity and no other technician is available", preferred.Name),
				map[string]any{
					"technician_id": preferred.ID,
					"load":          loads[preferred.ID],
					"capacity":      preferred.Capacity(),
					"skill_id":      skillID,
				})
		}
		return nil, err
	}
	return choice, nil
}

// ChooseReplacement validates an explicit reassignment target. There is no
// fallback: the new technician must differ from the incumbent, be eligible
// and be under capacity.
func (e *Engine) ChooseReplacement(ctx context.Context, skillID, incumbentID, newID string) (*Choice, error) {
	if strings.TrimSpace(newID) == "" {
		return nil, apperrors.NewValidationError("new technician id required", nil)
	}
	if newID == incumbentID {
		return nil, apperrors.NewValidationError("new technician must differ from the current one",
			map[string]any{"technician_id": newID})
	}
	tech, err := e.requireEligible(ctx, skillID, newID)
	if err != nil {
		return nil, err
	}
	loads, err := e.ComputeLoad(ctx, []string{tech.ID})
	if err != nil {
		return nil, err
	}
	if loads[tech.ID] >= tech.Capacity() {
		return nil, apperrors.NewCapacityExhausted(
			fmt.Sprintf("technician %s is at capacity", tech.Name),
			map[string]any{"technician_id": tech.ID, "load": loads[tech.ID], "capacity": tech.Capacity()})
	}
	return &Choice{Technician: *tech, Strategy: StrategyManual, Load: loads[tech.ID], PreferredID: tech.ID}, nil
}

func (e *Engine) chooseAutomatic(ctx context.Context, skillID, excludeID, preferredID string) (*Choice, error) {
	eligible, err := e.FindEligible(ctx, skillID, excludeID)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, apperrors.NewCapacityExhausted("no active technician holds the required skill",
			map[string]any{"skill_id": skillID})
	}
	ids := make([]string, 0, len(eligible))
	for _, tech := range eligible {
		ids = append(ids, tech.ID)
	}
	loads, err := e.ComputeLoad(ctx, ids)
	if err != nil {
		return nil, err
	}
	best := SelectBest(eligible, loads)
	if best == nil {
		return nil, apperrors.NewCapacityExhausted("all eligible technicians are at capacity",
			map[string]any{"skill_id": skillID, "eligible": len(eligible)})
	}
	return &Choice{Technician: *best, Strategy: StrategyFallback, Load: loads[best.ID], PreferredID: preferredID}, nil
}

func (e *Engine) requireEligible(ctx context.Context, skillID, technicianID string) (*domain.Technician, error) {
	tech, err := e.technicians.GetByID(ctx, technicianID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("technician", map[string]any{"technician_id": technicianID})
		}
		return nil, fmt.Errorf("get technician %s: %w", technicianID, err)
	}
	if !tech.Active {
		return nil, apperrors.NewValidationError("technician is inactive",
			map[string]any{"technician_id": technicianID})
	}
	if !tech.HasSkill(skillID) {
		return nil, apperrors.NewValidationError("technician lacks the required skill",
			map[string]any{"technician_id": technicianID, "skill_id": skillID})
	}
	return tech, nil
}

package assignment

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/maintenance-service/internal/domain"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

type mockRoster struct {
	technicians map[string]domain.Technician
	listErr     error
}

func newMockRoster(techs ...domain.Technician) *mockRoster {
	m := &mockRoster{technicians: map[string]domain.Technician{}}
	for _, t := range techs {
		m.technicians[t.ID] = t
	}
	return m
}

func (m *mockRoster) GetByID(ctx context.Context, id string) (*domain.Technician, error) {
	tech, ok := m.technicians[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &tech, nil
}

func (m *mockRoster) ListBySkill(ctx context.Context, skillID string, activeOnly bool) ([]domain.Technician, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Technician
	for _, tech := range m.technicians {
		if activeOnly && !tech.Active {
			continue
		}
		if tech.HasSkill(skillID) {
			out = append(out, tech)
		}
	}
	return out, nil
}

type mockLoads map[string]int

func (m mockLoads) CountActiveByTechnician(ctx context.Context, ids []string) (map[string]int, error) {
	out := map[string]int{}
	for _, id := range ids {
		if n, ok := m[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func tech(id, name string, skills ...string) domain.Technician {
	return domain.Technician{ID: id, Name: name, Active: true, Skills: skills, MaxAssignedTickets: 5}
}

func TestFilterEligible(t *testing.T) {
	inactive := tech("t3", "Carla", "hvac")
	inactive.Active = false
	roster := []domain.Technician{
		tech("t1", "Ana", "hvac", "plumbing"),
		tech("t2", "Bruno", "electrical"),
		inactive,
		tech("t4", "Davi", "hvac"),
	}
	got := FilterEligible(roster, "hvac", "t4")
	if len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("expected only t1, got %+v", got)
	}
}

func TestSelectBest(t *testing.T) {
	a := tech("a", "Ana", "hvac")
	b := tech("b", "Bruno", "hvac")
	c := tech("c", "carla", "hvac")
	small := tech("d", "Aaron", "hvac")
	small.MaxAssignedTickets = 1

	cases := []struct {
		name  string
		loads map[string]int
		techs []domain.Technician
		want  string
	}{
		{"least loaded wins", map[string]int{"a": 3, "b": 1, "c": 2}, []domain.Technician{a, b, c}, "b"},
		{"tie broken by name", map[string]int{"a": 2, "b": 2, "c": 2}, []domain.Technician{c, b, a}, "a"},
		{"name compare ignores case", map[string]int{"b": 1, "c": 1}, []domain.Technician{b, c}, "b"},
		{"full technician skipped", map[string]int{"d": 1, "a": 4}, []domain.Technician{small, a}, "a"},
		{"default capacity applies", map[string]int{"a": 5, "b": 4}, []domain.Technician{a, b}, "b"},
		{"all full", map[string]int{"a": 5, "b": 7}, []domain.Technician{a, b}, ""},
		{"nobody eligible", nil, nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SelectBest(tc.techs, tc.loads)
			if tc.want == "" {
				if got != nil {
					t.Fatalf("expected nil, got %s", got.ID)
				}
				return
			}
			if got == nil || got.ID != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, got)
			}
			if tc.loads[got.ID] >= got.Capacity() {
				t.Fatalf("selected technician %s is at capacity", got.ID)
			}
		})
	}
}

func TestChoosePreferredUnderCapacity(t *testing.T) {
	engine := NewEngine(newMockRoster(tech("a", "Ana", "hvac"), tech("b", "Bruno", "hvac")), mockLoads{"a": 4, "b": 0})
	choice, err := engine.Choose(context.Background(), "hvac", "a")
	if err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if choice.Technician.ID != "a" || choice.Strategy != StrategyManual {
		t.Fatalf("expected manual a, got %s/%s", choice.Technician.ID, choice.Strategy)
	}
}

func TestChoosePreferredOverloadedFallsBack(t *testing.T) {
	engine := NewEngine(newMockRoster(tech("a", "Ana", "hvac"), tech("b", "Bruno", "hvac")), mockLoads{"a": 5, "b": 2})
	choice, err := engine.Choose(context.Background(), "hvac", "a")
	if err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if choice.Technician.ID != "b" {
		t.Fatalf("expected fallback to b, got %s", choice.Technician.ID)
	}
	if choice.Strategy != StrategyFallback {
		t.Fatalf("fallback must be disclosed, got %s", choice.Strategy)
	}
	if choice.PreferredID != "a" {
		t.Errorf("expected preferred id a, got %q", choice.PreferredID)
	}
}

func TestChoosePreferredOverloadedWithoutFallback(t *testing.T) {
	engine := NewEngine(newMockRoster(tech("a", "Ana", "hvac"), tech("b", "Bruno", "hvac")), mockLoads{"a": 5, "b": 5})
	_, err := engine.Choose(context.Background(), "hvac", "a")
	if !apperrors.IsKind(err, apperrors.CodeCapacityExhausted) {
		t.Fatalf("expected capacity exhausted, got %v", err)
	}
	de := apperrors.ToDomainError(err)
	if de.Details["technician_id"] != "a" {
		t.Errorf("expected details to name the preferred technician, got %v", de.Details)
	}
}

func TestChooseWithoutPreference(t *testing.T) {
	engine := NewEngine(newMockRoster(tech("a", "Ana", "hvac"), tech("b", "Bruno", "hvac")), mockLoads{"a": 3, "b": 1})
	choice, err := engine.Choose(context.Background(), "hvac", "")
	if err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if choice.Technician.ID != "b" || choice.Strategy != StrategyFallback {
		t.Fatalf("expected automatic b, got %s/%s", choice.Technician.ID, choice.Strategy)
	}
}

func TestChooseNoSkilledTechnician(t *testing.T) {
	engine := NewEngine(newMockRoster(tech("a", "Ana", "electrical")), mockLoads{})
	_, err := engine.Choose(context.Background(), "hvac", "")
	if !apperrors.IsKind(err, apperrors.CodeCapacityExhausted) {
		t.Fatalf("expected capacity exhausted, got %v", err)
	}
}

func TestChooseRejectsIneligiblePreference(t *testing.T) {
	inactive := tech("c", "Carla", "hvac")
	inactive.Active = false
	engine := NewEngine(newMockRoster(tech("a", "Ana", "electrical"), inactive, tech("b", "Bruno", "hvac")), mockLoads{})

	cases := map[string]struct {
		preferred string
		code      string
	}{
		"missing skill": {"a", apperrors.CodeValidation},
		"inactive":      {"c", apperrors.CodeValidation},
		"unknown":       {"zzz", apperrors.CodeNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := engine.Choose(context.Background(), "hvac", tc.preferred)
			if !apperrors.IsKind(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestChooseRequiresSkill(t *testing.T) {
	engine := NewEngine(newMockRoster(), mockLoads{})
	_, err := engine.Choose(context.Background(), " ", "")
	if !apperrors.IsKind(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestChoosePropagatesRepositoryFailure(t *testing.T) {
	roster := newMockRoster(tech("a", "Ana", "hvac"))
	roster.listErr = errors.New("connection reset")
	engine := NewEngine(roster, mockLoads{})
	_, err := engine.Choose(context.Background(), "hvac", "")
	if err == nil || apperrors.IsKind(err, apperrors.CodeCapacityExhausted) {
		t.Fatalf("expected raw repository error, got %v", err)
	}
}

func TestChooseReplacement(t *testing.T) {
	engine := NewEngine(
		newMockRoster(tech("a", "Ana", "hvac"), tech("b", "Bruno", "hvac"), tech("c", "Carla", "hvac")),
		mockLoads{"a": 1, "b": 5, "c": 0},
	)
	ctx := context.Background()

	if _, err := engine.ChooseReplacement(ctx, "hvac", "a", "a"); !apperrors.IsKind(err, apperrors.CodeValidation) {
		t.Errorf("same technician: expected validation error, got %v", err)
	}
	if _, err := engine.ChooseReplacement(ctx, "hvac", "a", "b"); !apperrors.IsKind(err, apperrors.CodeCapacityExhausted) {
		t.Errorf("full technician: expected capacity exhausted, got %v", err)
	}
	choice, err := engine.ChooseReplacement(ctx, "hvac", "a", "c")
	if err != nil {
		t.Fatalf("ChooseReplacement: %v", err)
	}
	if choice.Technician.ID != "c" {
		t.Errorf("expected c, got %s", choice.Technician.ID)
	}
}

func TestComputeLoadFillsZeros(t *testing.T) {
	engine := NewEngine(newMockRoster(), mockLoads{"a": 2})
	loads, err := engine.ComputeLoad(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("ComputeLoad: %v", err)
	}
	if loads["a"] != 2 || loads["b"] != 0 || len(loads) != 2 {
		t.Errorf("unexpected loads %v", loads)
	}
}

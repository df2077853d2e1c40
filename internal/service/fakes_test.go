package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/maintenance-service/internal/config"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/repository"
)

// memTickets applies the same guard semantics as the SQL conditional update.
type memTickets struct {
	mu        sync.Mutex
	rows      map[string]*domain.Ticket
	seq       int64
	updateErr error
	// beforeUpdate runs under no lock right before the guarded write.
	beforeUpdate func()
}

func newMemTickets() *memTickets {
	return &memTickets{rows: map[string]*domain.Ticket{}}
}

func (m *memTickets) stamp() time.Time {
	m.seq++
	return time.Unix(1_700_000_000, m.seq)
}

func (m *memTickets) Create(_ context.Context, ticket *domain.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	ticket.CreatedAt = m.stamp()
	ticket.UpdatedAt = ticket.CreatedAt
	m.rows[ticket.ID] = ticket.Clone()
	return nil
}

func (m *memTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return row.Clone(), nil
}

func (m *memTickets) UpdateIf(_ context.Context, ticket *domain.Ticket, guard repository.TicketGuard) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	row, ok := m.rows[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if len(guard.Statuses) > 0 && !containsStatus(guard.Statuses, row.Status) {
		return repository.ErrGuardFailed
	}
	switch {
	case guard.RequireUnassigned:
		if row.AssignedTechnicianID != nil {
			return repository.ErrGuardFailed
		}
	case guard.AssignedTechnicianID != nil:
		if row.AssignedTo() != *guard.AssignedTechnicianID {
			return repository.ErrGuardFailed
		}
	}
	if guard.UpdatedAt != nil && !row.UpdatedAt.Equal(*guard.UpdatedAt) {
		return repository.ErrGuardFailed
	}
	if ticket.SLA != nil && row.SLA != nil {
		if row.SLA.ResponseBreachedAt != nil {
			ticket.SLA.ResponseBreachedAt = timePtr(*row.SLA.ResponseBreachedAt)
		}
		if row.SLA.ResolutionBreachedAt != nil {
			ticket.SLA.ResolutionBreachedAt = timePtr(*row.SLA.ResolutionBreachedAt)
		}
	}
	ticket.CreatedAt = row.CreatedAt
	ticket.UpdatedAt = m.stamp()
	m.rows[ticket.ID] = ticket.Clone()
	return nil
}

func (m *memTickets) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Ticket
	for _, row := range m.rows {
		if filter.RequesterID != nil && row.RequesterID != *filter.RequesterID {
			continue
		}
		if filter.TechnicianID != nil && row.AssignedTo() != *filter.TechnicianID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, row.Status) {
			continue
		}
		out = append(out, *row.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memTickets) ListRunningSLA(_ context.Context, limit int) ([]domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Ticket
	for _, row := range m.rows {
		if row.SLA == nil || !containsStatus(repository.RunningSLAStatuses, row.Status) {
			continue
		}
		responseOpen := row.SLA.ResponseStartedAt == nil && row.SLA.ResponseBreachedAt == nil
		resolutionOpen := row.SLA.ResolvedAt == nil && row.SLA.ResolutionBreachedAt == nil
		if responseOpen || resolutionOpen {
			out = append(out, *row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SLA.ResolutionDueAt.Before(out[j].SLA.ResolutionDueAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTickets) CountActiveByTechnician(_ context.Context, ids []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int, len(ids))
	for _, id := range ids {
		counts[id] = 0
	}
	active := append([]domain.TicketStatus{domain.TicketStatusPendingValidation}, domain.ActiveLoadStatuses...)
	for _, row := range m.rows {
		if _, ok := counts[row.AssignedTo()]; ok && containsStatus(active, row.Status) {
			counts[row.AssignedTo()]++
		}
	}
	return counts, nil
}

func (m *memTickets) put(t *domain.Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.UpdatedAt = m.stamp()
	m.rows[t.ID] = t.Clone()
}

func containsStatus(list []domain.TicketStatus, s domain.TicketStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

type memHistory struct {
	mu      sync.Mutex
	entries []domain.TicketHistory
	err     error
}

func (m *memHistory) Create(_ context.Context, h *domain.TicketHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	h.ID = uuid.NewString()
	m.entries = append(m.entries, *h)
	return nil
}

func (m *memHistory) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TicketHistory
	for _, e := range m.entries {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memHistory) actions(ticketID string) []domain.HistoryAction {
	entries, _ := m.ListByTicket(context.Background(), ticketID)
	out := make([]domain.HistoryAction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

type memTechnicians struct {
	mu   sync.Mutex
	rows map[string]domain.Technician
}

func newMemTechnicians(techs ...domain.Technician) *memTechnicians {
	m := &memTechnicians{rows: map[string]domain.Technician{}}
	for _, t := range techs {
		m.rows[t.ID] = t
	}
	return m
}

func (m *memTechnicians) Create(_ context.Context, tech *domain.Technician) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tech.ID = uuid.NewString()
	m.rows[tech.ID] = *tech
	return nil
}

func (m *memTechnicians) Update(_ context.Context, tech *domain.Technician) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[tech.ID]; !ok {
		return pgx.ErrNoRows
	}
	m.rows[tech.ID] = *tech
	return nil
}

func (m *memTechnicians) GetByID(_ context.Context, id string) (*domain.Technician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tech, ok := m.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &tech, nil
}

func (m *memTechnicians) ListBySkill(_ context.Context, skillID string, activeOnly bool) ([]domain.Technician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Technician
	for _, t := range m.rows {
		if activeOnly && !t.Active {
			continue
		}
		if t.HasSkill(skillID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTechnicians) List(_ context.Context, _ repository.TechnicianFilter) ([]domain.Technician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Technician, 0, len(m.rows))
	for _, t := range m.rows {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

type memCalendarRepo struct {
	cfg      *domain.BusinessCalendarConfig
	holidays []domain.Holiday
	err      error
}

func (m *memCalendarRepo) GetConfig(context.Context) (*domain.BusinessCalendarConfig, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.cfg == nil {
		return nil, pgx.ErrNoRows
	}
	cp := *m.cfg
	return &cp, nil
}

func (m *memCalendarRepo) SaveConfig(_ context.Context, cfg *domain.BusinessCalendarConfig) error {
	cp := *cfg
	m.cfg = &cp
	return nil
}

func (m *memCalendarRepo) ListHolidays(_ context.Context, activeOnly bool) ([]domain.Holiday, error) {
	var out []domain.Holiday
	for _, h := range m.holidays {
		if activeOnly && !h.Active {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (m *memCalendarRepo) CreateHoliday(_ context.Context, h *domain.Holiday) error {
	h.ID = uuid.NewString()
	m.holidays = append(m.holidays, *h)
	return nil
}

func (m *memCalendarRepo) DeactivateHoliday(_ context.Context, id string) error {
	for i := range m.holidays {
		if m.holidays[i].ID == id {
			m.holidays[i].Active = false
			return nil
		}
	}
	return pgx.ErrNoRows
}

type memPolicyRepo struct {
	versions []domain.SlaPolicy
}

func (m *memPolicyRepo) ListActive(context.Context) ([]domain.SlaPolicy, error) {
	var out []domain.SlaPolicy
	for _, p := range m.versions {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPolicyRepo) ListVersions(_ context.Context, priority *domain.TicketPriority) ([]domain.SlaPolicy, error) {
	var out []domain.SlaPolicy
	for _, p := range m.versions {
		if priority == nil || p.Priority == *priority {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPolicyRepo) CreateVersion(_ context.Context, policy *domain.SlaPolicy) error {
	for i := range m.versions {
		if m.versions[i].Priority == policy.Priority {
			m.versions[i].Active = false
		}
	}
	policy.ID = uuid.NewString()
	policy.Active = true
	m.versions = append(m.versions, *policy)
	return nil
}

type memBroadcaster struct {
	channel  string
	payloads [][]byte
	err      error
}

func (m *memBroadcaster) Publish(_ context.Context, channel string, payload []byte) error {
	m.channel = channel
	m.payloads = append(m.payloads, payload)
	return m.err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) handle(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) types() []events.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) count(t events.EventType) int {
	n := 0
	for _, got := range l.types() {
		if got == t {
			n++
		}
	}
	return n
}

type harness struct {
	tickets     *memTickets
	history     *memHistory
	technicians *memTechnicians
	settings    *SettingsService
	ticketSvc   *TicketService
	assignSvc   *AssignmentService
	clock       *testClock
	events      *eventLog
}

var (
	dispatcherActor = domain.Actor{ID: "dispatcher-1", Role: domain.RoleDispatcher}
	requesterActor  = domain.Actor{ID: "requester-1", Role: domain.RoleRequester}
)

func belem(t *testing.T, y int, m time.Month, d, h, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/Belem")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return time.Date(y, m, d, h, min, 0, 0, loc)
}

func newHarness(t *testing.T, techs ...domain.Technician) *harness {
	t.Helper()
	h := &harness{
		tickets:     newMemTickets(),
		history:     &memHistory{},
		technicians: newMemTechnicians(techs...),
		clock:       &testClock{now: belem(t, 2024, time.March, 4, 10, 0)},
		events:      &eventLog{},
	}
	settings, err := NewSettingsService(SettingsDependencies{
		DefaultCalendar: config.DefaultCalendar(),
		DefaultPolicies: config.DefaultPolicies(),
		Clock:           h.clock.Now,
	})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	h.settings = settings

	dispatcher := events.NewInMemoryDispatcher(nil)
	for _, et := range events.AllTicketEvents {
		dispatcher.Subscribe(et, h.events.handle)
	}
	h.ticketSvc = NewTicketService(TicketDependencies{
		TicketRepo:  h.tickets,
		HistoryRepo: h.history,
		Policies:    settings,
		Calendars:   settings,
		Dispatcher:  dispatcher,
		Clock:       h.clock.Now,
	})
	h.assignSvc = NewAssignmentService(AssignmentDependencies{
		TicketRepo:     h.tickets,
		TechnicianRepo: h.technicians,
		HistoryRepo:    h.history,
		Dispatcher:     dispatcher,
		Clock:          h.clock.Now,
	})
	return h
}

func electrician(id, name string, capacity int) domain.Technician {
	return domain.Technician{ID: id, Name: name, Active: true, Skills: []string{"electrical"}, MaxAssignedTickets: capacity}
}

// classifiedTicket creates and classifies a ticket needing the electrical skill.
func (h *harness) classifiedTicket(t *testing.T, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	skill := "electrical"
	ticket, err := h.ticketSvc.CreateTicket(context.Background(), requesterActor, TicketCreateInput{
		Title:            "Broken outlet",
		Location:         "Block B, room 12",
		CatalogServiceID: &skill,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ticket, err = h.ticketSvc.Classify(context.Background(), dispatcherActor, ticket.ID, ClassifyInput{
		Priority:         string(priority),
		AttendanceNature: string(domain.AttendanceStandard),
	})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	return ticket
}

var errBoom = errors.New("boom")

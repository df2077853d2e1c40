package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// ErrGuardFailed is returned by a conditional update whose precondition no
// longer matches the stored row.
var ErrGuardFailed = errors.New("ticket precondition no longer holds")

// TicketGuard is the precondition a conditional update is applied under.
// All set fields must match the stored row in the same statement that
// writes the new state.
type TicketGuard struct {
	Statuses             []domain.TicketStatus
	AssignedTechnicianID *string
	RequireUnassigned    bool
	// UpdatedAt pins the exact version that was read.
	UpdatedAt *time.Time
}

// TicketFilter captures list parameters.
type TicketFilter struct {
	RequesterID  *string
	TechnicianID *string
	Statuses     []domain.TicketStatus
	Priorities   []domain.TicketPriority
	Limit        int
	Offset       int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	UpdateIf(ctx context.Context, ticket *domain.Ticket, guard TicketGuard) error
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	ListRunningSLA(ctx context.Context, limit int) ([]domain.Ticket, error)
	CountActiveByTechnician(ctx context.Context, technicianIDs []string) (map[string]int, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, external_key, requester_id, title, description, location, status, priority,
       attendance_nature, catalog_service_id, assigned_technician_id, assigned_at, reassigned_at,
       reassignment_count, execution_details, cancel_reason, sla, created_at, updated_at,
       classified_at, completed_at, closed_at, cancelled_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	sla, err := encodeSLA(ticket.SLA)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO tickets (external_key, requester_id, title, description, location, status, priority,
            attendance_nature, catalog_service_id, sla)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.ExternalKey,
		ticket.RequesterID,
		ticket.Title,
		ticket.Description,
		ticket.Location,
		ticket.Status,
		ticket.Priority,
		ticket.AttendanceNature,
		ticket.CatalogServiceID,
		sla,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, pgx.ErrNoRows
	}
	return &tickets[0], nil
}

// slaMerge writes the new SLA record but keeps breach instants that are
// already stored. A breach is recorded once and never cleared or moved.
const slaMerge = `CASE WHEN $11::jsonb IS NULL THEN NULL
            ELSE $11::jsonb || jsonb_strip_nulls(jsonb_build_object(
                'response_breached_at', tickets.sla->'response_breached_at',
                'resolution_breached_at', tickets.sla->'resolution_breached_at'))
            END`

// UpdateIf writes every mutable column of ticket, but only when the stored
// row still satisfies guard. A row that exists but fails the guard yields
// ErrGuardFailed; a missing row yields pgx.ErrNoRows. On success ticket.SLA
// holds the record as stored, including breaches recorded by other writers.
func (r *ticketRepository) UpdateIf(ctx context.Context, ticket *domain.Ticket, guard TicketGuard) error {
	sla, err := encodeSLA(ticket.SLA)
	if err != nil {
		return err
	}
	args := []any{
		ticket.Status,
		ticket.Priority,
		ticket.AttendanceNature,
		ticket.CatalogServiceID,
		ticket.AssignedTechnicianID,
		ticket.AssignedAt,
		ticket.ReassignedAt,
		ticket.ReassignmentCount,
		ticket.ExecutionDetails,
		ticket.CancelReason,
		sla,
		ticket.ClassifiedAt,
		ticket.CompletedAt,
		ticket.ClosedAt,
		ticket.CancelledAt,
		ticket.ID,
	}
	clauses := []string{"id=$16"}
	if len(guard.Statuses) > 0 {
		args = append(args, statusStrings(guard.Statuses))
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	switch {
	case guard.RequireUnassigned:
		clauses = append(clauses, "assigned_technician_id IS NULL")
	case guard.AssignedTechnicianID != nil:
		args = append(args, *guard.AssignedTechnicianID)
		clauses = append(clauses, fmt.Sprintf("assigned_technician_id=$%d", len(args)))
	}
	if guard.UpdatedAt != nil {
		args = append(args, *guard.UpdatedAt)
		clauses = append(clauses, fmt.Sprintf("updated_at=$%d", len(args)))
	}

	query := fmt.Sprintf(`
        UPDATE tickets SET status=$1, priority=$2, attendance_nature=$3, catalog_service_id=$4,
            assigned_technician_id=$5, assigned_at=$6, reassigned_at=$7, reassignment_count=$8,
            execution_details=$9, cancel_reason=$10, sla=%s, classified_at=$12, completed_at=$13,
            closed_at=$14, cancelled_at=$15, updated_at=NOW()
        WHERE %s
        RETURNING updated_at, sla`, slaMerge, strings.Join(clauses, " AND "))

	var stored []byte
	err = r.pool.QueryRow(ctx, query, args...).Scan(&ticket.UpdatedAt, &stored)
	if err == nil {
		ticket.SLA, err = decodeSLA(stored)
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, ticket.ID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrGuardFailed
		}
		return pgx.ErrNoRows
	}
	return err
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.RequesterID != nil {
		args = append(args, *filter.RequesterID)
		clauses = append(clauses, fmt.Sprintf("requester_id=$%d", len(args)))
	}
	if filter.TechnicianID != nil {
		args = append(args, *filter.TechnicianID)
		clauses = append(clauses, fmt.Sprintf("assigned_technician_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, statusStrings(filter.Statuses))
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(filter.Priorities) > 0 {
		priorities := make([]string, len(filter.Priorities))
		for i, p := range filter.Priorities {
			priorities[i] = string(p)
		}
		args = append(args, priorities)
		clauses = append(clauses, fmt.Sprintf("priority = ANY($%d)", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

// RunningSLAStatuses are the statuses whose SLA clocks can still breach
// without a user action. A completed ticket has stopped both clocks.
var RunningSLAStatuses = []domain.TicketStatus{
	domain.TicketStatusValidated,
	domain.TicketStatusPendingValidation,
	domain.TicketStatusInService,
}

// runningSLAQuery selects tickets with a clock that is neither stopped nor
// breached, oldest resolution due first.
const runningSLAQuery = `SELECT ` + ticketColumns + `
        FROM tickets
        WHERE sla IS NOT NULL
          AND status = ANY($1)
          AND ((sla->>'response_started_at' IS NULL AND sla->>'response_breached_at' IS NULL)
            OR (sla->>'resolved_at' IS NULL AND sla->>'resolution_breached_at' IS NULL))
        ORDER BY (sla->>'resolution_due_at')::timestamptz ASC
        LIMIT $2`

// ListRunningSLA returns tickets that still have a running clock without a
// recorded breach, oldest due first.
func (r *ticketRepository) ListRunningSLA(ctx context.Context, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, runningSLAQuery, statusStrings(RunningSLAStatuses), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) CountActiveByTechnician(ctx context.Context, technicianIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(technicianIDs))
	if len(technicianIDs) == 0 {
		return counts, nil
	}
	active := append([]domain.TicketStatus{domain.TicketStatusPendingValidation}, domain.ActiveLoadStatuses...)
	const query = `
        SELECT assigned_technician_id::text, COUNT(*)
        FROM tickets
        WHERE assigned_technician_id::text = ANY($1) AND status = ANY($2)
        GROUP BY assigned_technician_id`
	rows, err := r.pool.Query(ctx, query, technicianIDs, statusStrings(active))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    string
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var (
			ticket domain.Ticket
			sla    []byte
		)
		if err := rows.Scan(
			&ticket.ID,
			&ticket.ExternalKey,
			&ticket.RequesterID,
			&ticket.Title,
			&ticket.Description,
			&ticket.Location,
			&ticket.Status,
			&ticket.Priority,
			&ticket.AttendanceNature,
			&ticket.CatalogServiceID,
			&ticket.AssignedTechnicianID,
			&ticket.AssignedAt,
			&ticket.ReassignedAt,
			&ticket.ReassignmentCount,
			&ticket.ExecutionDetails,
			&ticket.CancelReason,
			&sla,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
			&ticket.ClassifiedAt,
			&ticket.CompletedAt,
			&ticket.ClosedAt,
			&ticket.CancelledAt,
		); err != nil {
			return nil, err
		}
		rec, err := decodeSLA(sla)
		if err != nil {
			return nil, fmt.Errorf("ticket %s: %w", ticket.ID, err)
		}
		ticket.SLA = rec
		result = append(result, ticket)
	}
	return result, rows.Err()
}

// encodeSLA stores every instant in UTC so the text form of the jsonb fields
// sorts chronologically.
func encodeSLA(rec *domain.SlaRecord) (any, error) {
	if rec == nil {
		return nil, nil
	}
	c := rec.Clone()
	c.ResponseDueAt = c.ResponseDueAt.UTC()
	c.ResolutionDueAt = c.ResolutionDueAt.UTC()
	c.ComputedAt = c.ComputedAt.UTC()
	for _, t := range []*time.Time{c.ResponseStartedAt, c.ResolvedAt, c.ResponseBreachedAt, c.ResolutionBreachedAt} {
		if t != nil {
			*t = t.UTC()
		}
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode sla: %w", err)
	}
	return string(raw), nil
}

func decodeSLA(raw []byte) (*domain.SlaRecord, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rec domain.SlaRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode sla: %w", err)
	}
	return &rec, nil
}

func statusStrings(statuses []domain.TicketStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// CalendarRepository stores the singleton business calendar and the holiday list.
type CalendarRepository interface {
	GetConfig(ctx context.Context) (*domain.BusinessCalendarConfig, error)
	SaveConfig(ctx context.Context, cfg *domain.BusinessCalendarConfig) error
	ListHolidays(ctx context.Context, activeOnly bool) ([]domain.Holiday, error)
	CreateHoliday(ctx context.Context, holiday *domain.Holiday) error
	DeactivateHoliday(ctx context.Context, id string) error
}

// SlaPolicyRepository stores versioned SLA policies.
type SlaPolicyRepository interface {
	ListActive(ctx context.Context) ([]domain.SlaPolicy, error)
	ListVersions(ctx context.Context, priority *domain.TicketPriority) ([]domain.SlaPolicy, error)
	// CreateVersion stores policy as the active one for its priority and
	// retires the previous active version in the same transaction.
	CreateVersion(ctx context.Context, policy *domain.SlaPolicy) error
}

type calendarRepository struct {
	pool *pgxpool.Pool
}

// NewCalendarRepository instantiates the repository.
func NewCalendarRepository(pool *pgxpool.Pool) CalendarRepository {
	return &calendarRepository{pool: pool}
}

func (r *calendarRepository) GetConfig(ctx context.Context) (*domain.BusinessCalendarConfig, error) {
	const query = `
        SELECT timezone, workday_start, workday_end, weekdays, version, updated_at
        FROM business_calendar WHERE id=1`
	var (
		cfg      domain.BusinessCalendarConfig
		weekdays []int16
	)
	if err := r.pool.QueryRow(ctx, query).Scan(
		&cfg.Timezone,
		&cfg.WorkdayStart,
		&cfg.WorkdayEnd,
		&weekdays,
		&cfg.Version,
		&cfg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	cfg.Weekdays = make([]time.Weekday, len(weekdays))
	for i, wd := range weekdays {
		cfg.Weekdays[i] = time.Weekday(wd)
	}
	return &cfg, nil
}

func (r *calendarRepository) SaveConfig(ctx context.Context, cfg *domain.BusinessCalendarConfig) error {
	weekdays := make([]int16, 0, len(cfg.Weekdays))
	for _, wd := range cfg.SortedWeekdays() {
		weekdays = append(weekdays, int16(wd))
	}
	const query = `
        INSERT INTO business_calendar (id, timezone, workday_start, workday_end, weekdays, version, updated_at)
        VALUES (1,$1,$2,$3,$4,$5,NOW())
        ON CONFLICT (id) DO UPDATE SET timezone=EXCLUDED.timezone, workday_start=EXCLUDED.workday_start,
            workday_end=EXCLUDED.workday_end, weekdays=EXCLUDED.weekdays, version=EXCLUDED.version,
            updated_at=NOW()
        RETURNING updated_at`
	return r.pool.QueryRow(ctx, query,
		cfg.Timezone,
		cfg.WorkdayStart,
		cfg.WorkdayEnd,
		weekdays,
		cfg.Version,
	).Scan(&cfg.UpdatedAt)
}

func (r *calendarRepository) ListHolidays(ctx context.Context, activeOnly bool) ([]domain.Holiday, error) {
	query := `SELECT id, holiday_date, name, scope, active_flag, created_at FROM holidays`
	if activeOnly {
		query += ` WHERE active_flag`
	}
	query += ` ORDER BY holiday_date ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Holiday
	for rows.Next() {
		var (
			holiday domain.Holiday
			date    time.Time
		)
		if err := rows.Scan(&holiday.ID, &date, &holiday.Name, &holiday.Scope, &holiday.Active, &holiday.CreatedAt); err != nil {
			return nil, err
		}
		holiday.Date = date.Format(domain.DateLayout)
		result = append(result, holiday)
	}
	return result, rows.Err()
}

func (r *calendarRepository) CreateHoliday(ctx context.Context, holiday *domain.Holiday) error {
	const query = `
        INSERT INTO holidays (holiday_date, name, scope, active_flag)
        VALUES ($1::date,$2,$3,$4)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		holiday.Date,
		holiday.Name,
		holiday.Scope,
		holiday.Active,
	).Scan(&holiday.ID, &holiday.CreatedAt)
}

func (r *calendarRepository) DeactivateHoliday(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE holidays SET active_flag=FALSE WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

type slaPolicyRepository struct {
	pool *pgxpool.Pool
}

// NewSlaPolicyRepository instantiates the repository.
func NewSlaPolicyRepository(pool *pgxpool.Pool) SlaPolicyRepository {
	return &slaPolicyRepository{pool: pool}
}

const policyColumns = `id, priority, response_target_minutes, resolution_target_minutes, business_hours_only,
       version, active_flag, created_at`

func (r *slaPolicyRepository) ListActive(ctx context.Context) ([]domain.SlaPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM sla_policies WHERE active_flag ORDER BY priority`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicies(rows)
}

func (r *slaPolicyRepository) ListVersions(ctx context.Context, priority *domain.TicketPriority) ([]domain.SlaPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM sla_policies`
	args := []any{}
	if priority != nil {
		args = append(args, *priority)
		query += ` WHERE priority=$1`
	}
	query += ` ORDER BY priority, created_at DESC`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicies(rows)
}

func (r *slaPolicyRepository) CreateVersion(ctx context.Context, policy *domain.SlaPolicy) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE sla_policies SET active_flag=FALSE WHERE priority=$1 AND active_flag`, policy.Priority); err != nil {
		return fmt.Errorf("retire active policy: %w", err)
	}
	const insert = `
        INSERT INTO sla_policies (priority, response_target_minutes, resolution_target_minutes,
            business_hours_only, version, active_flag)
        VALUES ($1,$2,$3,$4,$5,TRUE)
        RETURNING id, created_at`
	if err := tx.QueryRow(ctx, insert,
		policy.Priority,
		policy.ResponseTargetMinutes,
		policy.ResolutionTargetMinutes,
		policy.BusinessHoursOnly,
		policy.Version,
	).Scan(&policy.ID, &policy.CreatedAt); err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	policy.Active = true
	return tx.Commit(ctx)
}

func scanPolicies(rows pgx.Rows) ([]domain.SlaPolicy, error) {
	var result []domain.SlaPolicy
	for rows.Next() {
		var p domain.SlaPolicy
		if err := rows.Scan(
			&p.ID,
			&p.Priority,
			&p.ResponseTargetMinutes,
			&p.ResolutionTargetMinutes,
			&p.BusinessHoursOnly,
			&p.Version,
			&p.Active,
			&p.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

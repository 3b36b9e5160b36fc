package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/example/class-scheduler/internal/persistence"
)

func (t *sqlTx) SaveCoach(ctx context.Context, coach persistence.Coach) error {
	const query = `
		INSERT INTO coaches (id, name, active, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active
	`
	return t.exec(ctx, false, query, coach.ID, coach.Name, boolToInt(coach.Active), formatTime(coach.CreatedAt))
}

func (t *sqlTx) GetCoach(ctx context.Context, id string) (persistence.Coach, error) {
	const query = `SELECT id, name, active, created_at FROM coaches WHERE id = ?`

	var (
		coach     persistence.Coach
		active    int
		createdAt string
	)
	if err := t.q.QueryRowContext(ctx, query, id).Scan(&coach.ID, &coach.Name, &active, &createdAt); err != nil {
		return persistence.Coach{}, MapError(err)
	}
	coach.Active = active == 1
	created, err := parseTime(createdAt)
	if err != nil {
		return persistence.Coach{}, err
	}
	coach.CreatedAt = created
	return coach, nil
}

func (t *sqlTx) ListCoaches(ctx context.Context) ([]persistence.Coach, error) {
	const query = `SELECT id, name, active, created_at FROM coaches ORDER BY name ASC, id ASC`

	rows, err := t.q.QueryContext(ctx, query)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	coaches := make([]persistence.Coach, 0)
	for rows.Next() {
		var (
			coach     persistence.Coach
			active    int
			createdAt string
		)
		if err := rows.Scan(&coach.ID, &coach.Name, &active, &createdAt); err != nil {
			return nil, MapError(err)
		}
		coach.Active = active == 1
		if coach.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		coaches = append(coaches, coach)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return coaches, nil
}

const scheduleColumns = `id, class_name, description, coach_id, capacity, duration_minutes, start_date_time,
	schedule_type, recurring_interval, number_of_sessions, created_by, deleted_at, created_at, updated_at`

func (t *sqlTx) InsertSchedule(ctx context.Context, schedule persistence.Schedule) error {
	const query = `INSERT INTO schedules (` + scheduleColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return t.exec(ctx, false, query,
		schedule.ID,
		schedule.ClassName,
		schedule.Description,
		schedule.CoachID,
		schedule.Capacity,
		schedule.DurationMinutes,
		formatTime(schedule.StartDateTime),
		schedule.ScheduleType,
		schedule.RecurringInterval,
		schedule.NumberOfSessions,
		schedule.CreatedBy,
		formatNullTime(schedule.DeletedAt),
		formatTime(schedule.CreatedAt),
		formatTime(schedule.UpdatedAt),
	)
}

func (t *sqlTx) UpdateSchedule(ctx context.Context, schedule persistence.Schedule) error {
	const query = `
		UPDATE schedules
		SET class_name = ?, description = ?, coach_id = ?, capacity = ?, duration_minutes = ?,
			start_date_time = ?, schedule_type = ?, recurring_interval = ?, number_of_sessions = ?,
			deleted_at = ?, updated_at = ?
		WHERE id = ?
	`
	return t.exec(ctx, true, query,
		schedule.ClassName,
		schedule.Description,
		schedule.CoachID,
		schedule.Capacity,
		schedule.DurationMinutes,
		formatTime(schedule.StartDateTime),
		schedule.ScheduleType,
		schedule.RecurringInterval,
		schedule.NumberOfSessions,
		formatNullTime(schedule.DeletedAt),
		formatTime(schedule.UpdatedAt),
		schedule.ID,
	)
}

func (t *sqlTx) GetSchedule(ctx context.Context, id string) (persistence.Schedule, error) {
	const query = `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ?`
	return scanSchedule(t.q.QueryRowContext(ctx, query, id))
}

func (t *sqlTx) ListSchedules(ctx context.Context, filter persistence.ScheduleFilter) ([]persistence.Schedule, int, error) {
	where, args := buildScheduleFilter(filter)

	var total int
	if err := t.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedules`+where, args...).Scan(&total); err != nil {
		return nil, 0, MapError(err)
	}

	query := `SELECT ` + scheduleColumns + ` FROM schedules` + where + ` ORDER BY start_date_time ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, MapError(err)
	}
	defer rows.Close()

	schedules := make([]persistence.Schedule, 0)
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, err
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, MapError(err)
	}
	return schedules, total, nil
}

func (t *sqlTx) DeleteSchedule(ctx context.Context, id string) error {
	return t.exec(ctx, true, `DELETE FROM schedules WHERE id = ?`, id)
}

// buildScheduleFilter returns the WHERE clause shared by the count and page
// queries of ListSchedules.
func buildScheduleFilter(filter persistence.ScheduleFilter) (string, []any) {
	conditions := []string{"deleted_at IS NULL"}
	var args []any

	if coachID := strings.TrimSpace(filter.CoachID); coachID != "" {
		conditions = append(conditions, "coach_id = ?")
		args = append(args, coachID)
	}
	if className := strings.TrimSpace(filter.ClassName); className != "" {
		conditions = append(conditions, "instr(lower(class_name), lower(?)) > 0")
		args = append(args, className)
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanSchedule(row scanner) (persistence.Schedule, error) {
	var (
		schedule  persistence.Schedule
		start     string
		deletedAt sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&schedule.ID,
		&schedule.ClassName,
		&schedule.Description,
		&schedule.CoachID,
		&schedule.Capacity,
		&schedule.DurationMinutes,
		&start,
		&schedule.ScheduleType,
		&schedule.RecurringInterval,
		&schedule.NumberOfSessions,
		&schedule.CreatedBy,
		&deletedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return persistence.Schedule{}, MapError(err)
	}

	if schedule.StartDateTime, err = parseTime(start); err != nil {
		return persistence.Schedule{}, err
	}
	if schedule.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return persistence.Schedule{}, err
	}
	if schedule.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Schedule{}, err
	}
	if schedule.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Schedule{}, err
	}
	return schedule, nil
}

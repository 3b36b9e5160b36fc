package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/class-scheduler/internal/persistence"
)

const occurrenceColumns = `o.id, o.schedule_id, o.sequence_index, o.start_at, o.end_at, o.capacity, o.cancelled_at, o.created_at, o.updated_at`

func (t *sqlTx) InsertOccurrence(ctx context.Context, occurrence persistence.Occurrence) error {
	const query = `
		INSERT INTO occurrences (id, schedule_id, sequence_index, start_at, end_at, capacity, cancelled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return t.exec(ctx, false, query,
		occurrence.ID,
		occurrence.ScheduleID,
		occurrence.SequenceIndex,
		formatTime(occurrence.Start),
		formatTime(occurrence.End),
		occurrence.Capacity,
		formatNullTime(occurrence.CancelledAt),
		formatTime(occurrence.CreatedAt),
		formatTime(occurrence.UpdatedAt),
	)
}

func (t *sqlTx) UpdateOccurrence(ctx context.Context, occurrence persistence.Occurrence) error {
	const query = `
		UPDATE occurrences
		SET start_at = ?, end_at = ?, capacity = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ? AND schedule_id = ? AND sequence_index = ?
	`
	err := t.exec(ctx, true, query,
		formatTime(occurrence.Start),
		formatTime(occurrence.End),
		occurrence.Capacity,
		formatNullTime(occurrence.CancelledAt),
		formatTime(occurrence.UpdatedAt),
		occurrence.ID,
		occurrence.ScheduleID,
		occurrence.SequenceIndex,
	)
	if err != persistence.ErrNotFound {
		return err
	}
	// The row exists but its identity columns differ.
	if _, getErr := t.GetOccurrence(ctx, occurrence.ID); getErr == nil {
		return persistence.ErrConflict
	}
	return err
}

func (t *sqlTx) GetOccurrence(ctx context.Context, id string) (persistence.Occurrence, error) {
	const query = `SELECT ` + occurrenceColumns + ` FROM occurrences o WHERE o.id = ?`
	return scanOccurrence(t.q.QueryRowContext(ctx, query, id))
}

func (t *sqlTx) ListOccurrences(ctx context.Context, scheduleID string, includeCancelled bool) ([]persistence.Occurrence, error) {
	query := `SELECT ` + occurrenceColumns + ` FROM occurrences o WHERE o.schedule_id = ?`
	if !includeCancelled {
		query += ` AND o.cancelled_at IS NULL`
	}
	query += ` ORDER BY o.sequence_index ASC`

	rows, err := t.q.QueryContext(ctx, query, scheduleID)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	result := make([]persistence.Occurrence, 0)
	for rows.Next() {
		occurrence, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, occurrence)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return result, nil
}

func (t *sqlTx) DeleteOccurrence(ctx context.Context, id string) error {
	return t.exec(ctx, true, `DELETE FROM occurrences WHERE id = ?`, id)
}

func (t *sqlTx) ListCoachOccurrences(ctx context.Context, coachID string, from, to time.Time) ([]persistence.CoachOccurrence, error) {
	const query = `
		SELECT ` + occurrenceColumns + `, s.class_name
		FROM occurrences o
		JOIN schedules s ON s.id = o.schedule_id
		WHERE s.coach_id = ? AND o.cancelled_at IS NULL AND o.start_at < ? AND o.end_at > ?
		ORDER BY o.start_at ASC, o.id ASC
	`
	rows, err := t.q.QueryContext(ctx, query, coachID, formatTime(to), formatTime(from))
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	result := make([]persistence.CoachOccurrence, 0)
	for rows.Next() {
		var className string
		occurrence, err := scanOccurrence(rows, &className)
		if err != nil {
			return nil, err
		}
		result = append(result, persistence.CoachOccurrence{Occurrence: occurrence, ClassName: className})
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return result, nil
}

// scanOccurrence reads occurrenceColumns followed by any extra destinations.
func scanOccurrence(row scanner, extra ...any) (persistence.Occurrence, error) {
	var (
		occurrence persistence.Occurrence
		start      string
		end        string
		cancelled  sql.NullString
		createdAt  string
		updatedAt  string
	)
	dest := append([]any{
		&occurrence.ID,
		&occurrence.ScheduleID,
		&occurrence.SequenceIndex,
		&start,
		&end,
		&occurrence.Capacity,
		&cancelled,
		&createdAt,
		&updatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return persistence.Occurrence{}, MapError(err)
	}

	var err error
	if occurrence.Start, err = parseTime(start); err != nil {
		return persistence.Occurrence{}, err
	}
	if occurrence.End, err = parseTime(end); err != nil {
		return persistence.Occurrence{}, err
	}
	if occurrence.CancelledAt, err = parseNullTime(cancelled); err != nil {
		return persistence.Occurrence{}, err
	}
	if occurrence.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Occurrence{}, err
	}
	if occurrence.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Occurrence{}, fmt.Errorf("occurrence %s: %w", occurrence.ID, err)
	}
	return occurrence, nil
}

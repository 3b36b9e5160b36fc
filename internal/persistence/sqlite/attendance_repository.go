package sqlite

import (
	"context"

	"github.com/example/class-scheduler/internal/persistence"
)

const attendanceColumns = `id, occurrence_id, member_id, status, marked_at, marked_by, package_deduction_applied`

func (t *sqlTx) InsertAttendance(ctx context.Context, record persistence.AttendanceRecord) error {
	const query = `INSERT INTO attendance_records (` + attendanceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	return t.exec(ctx, false, query,
		record.ID,
		record.OccurrenceID,
		record.MemberID,
		record.Status,
		formatTime(record.MarkedAt),
		record.MarkedBy,
		boolToInt(record.PackageDeductionApplied),
	)
}

func (t *sqlTx) UpdateAttendance(ctx context.Context, record persistence.AttendanceRecord) error {
	const query = `
		UPDATE attendance_records
		SET status = ?, marked_at = ?, marked_by = ?, package_deduction_applied = ?
		WHERE occurrence_id = ? AND member_id = ? AND id = ?
	`
	err := t.exec(ctx, true, query,
		record.Status,
		formatTime(record.MarkedAt),
		record.MarkedBy,
		boolToInt(record.PackageDeductionApplied),
		record.OccurrenceID,
		record.MemberID,
		record.ID,
	)
	if err != persistence.ErrNotFound {
		return err
	}
	if _, getErr := t.GetAttendance(ctx, record.OccurrenceID, record.MemberID); getErr == nil {
		return persistence.ErrConflict
	}
	return err
}

func (t *sqlTx) GetAttendance(ctx context.Context, occurrenceID, memberID string) (persistence.AttendanceRecord, error) {
	const query = `SELECT ` + attendanceColumns + ` FROM attendance_records WHERE occurrence_id = ? AND member_id = ?`
	return scanAttendance(t.q.QueryRowContext(ctx, query, occurrenceID, memberID))
}

func (t *sqlTx) ListAttendance(ctx context.Context, occurrenceID string) ([]persistence.AttendanceRecord, error) {
	const query = `SELECT ` + attendanceColumns + ` FROM attendance_records WHERE occurrence_id = ? ORDER BY member_id ASC`

	rows, err := t.q.QueryContext(ctx, query, occurrenceID)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	result := make([]persistence.AttendanceRecord, 0)
	for rows.Next() {
		record, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return result, nil
}

func (t *sqlTx) CountAttendance(ctx context.Context, occurrenceID string) (persistence.AttendanceCounts, error) {
	const query = `SELECT status, COUNT(*) FROM attendance_records WHERE occurrence_id = ? GROUP BY status`

	rows, err := t.q.QueryContext(ctx, query, occurrenceID)
	if err != nil {
		return persistence.AttendanceCounts{}, MapError(err)
	}
	defer rows.Close()

	var counts persistence.AttendanceCounts
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return persistence.AttendanceCounts{}, MapError(err)
		}
		switch status {
		case persistence.StatusEnrolled:
			counts.Enrolled = n
		case persistence.StatusAttended:
			counts.Attended = n
		case persistence.StatusNoShow:
			counts.NoShow = n
		case persistence.StatusCancelled:
			counts.Cancelled = n
		}
	}
	if err := rows.Err(); err != nil {
		return persistence.AttendanceCounts{}, MapError(err)
	}
	return counts, nil
}

func (t *sqlTx) AppendAudit(ctx context.Context, entry persistence.AuditEntry) error {
	const query = `
		INSERT INTO attendance_audit (id, occurrence_id, member_id, action, from_status, to_status, marked_at, marked_by, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return t.exec(ctx, false, query,
		entry.ID,
		entry.OccurrenceID,
		entry.MemberID,
		entry.Action,
		entry.FromStatus,
		entry.ToStatus,
		formatTime(entry.MarkedAt),
		entry.MarkedBy,
		entry.Note,
	)
}

func (t *sqlTx) ListAudit(ctx context.Context, occurrenceID string) ([]persistence.AuditEntry, error) {
	const query = `
		SELECT id, occurrence_id, member_id, action, from_status, to_status, marked_at, marked_by, note
		FROM attendance_audit
		WHERE occurrence_id = ?
		ORDER BY rowid ASC
	`
	rows, err := t.q.QueryContext(ctx, query, occurrenceID)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	result := make([]persistence.AuditEntry, 0)
	for rows.Next() {
		var (
			entry    persistence.AuditEntry
			markedAt string
		)
		if err := rows.Scan(&entry.ID, &entry.OccurrenceID, &entry.MemberID, &entry.Action,
			&entry.FromStatus, &entry.ToStatus, &markedAt, &entry.MarkedBy, &entry.Note); err != nil {
			return nil, MapError(err)
		}
		if entry.MarkedAt, err = parseTime(markedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return result, nil
}

func scanAttendance(row scanner) (persistence.AttendanceRecord, error) {
	var (
		record   persistence.AttendanceRecord
		markedAt string
		applied  int
	)
	if err := row.Scan(&record.ID, &record.OccurrenceID, &record.MemberID, &record.Status,
		&markedAt, &record.MarkedBy, &applied); err != nil {
		return persistence.AttendanceRecord{}, MapError(err)
	}
	markedTime, err := parseTime(markedAt)
	if err != nil {
		return persistence.AttendanceRecord{}, err
	}
	record.MarkedAt = markedTime
	record.PackageDeductionApplied = applied == 1
	return record, nil
}

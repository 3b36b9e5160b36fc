package persistence

import (
	"context"
	"time"
)

// Store is the unit-of-work entry point shared by the memory and SQLite
// backends. Every mutation runs inside Atomically: either all writes made by
// fn are committed or none are.
type Store interface {
	Atomically(ctx context.Context, fn func(tx Tx) error) error
	ReadOnly(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx groups the repositories visible inside one unit of work.
type Tx interface {
	CoachRepository
	ScheduleRepository
	OccurrenceRepository
	AttendanceRepository
	PackageRepository
}

// CoachRepository stores the coach directory.
type CoachRepository interface {
	SaveCoach(ctx context.Context, coach Coach) error
	GetCoach(ctx context.Context, id string) (Coach, error)
	// ListCoaches returns every coach ordered by name.
	ListCoaches(ctx context.Context) ([]Coach, error)
}

// ScheduleFilter narrows schedule listings. Soft-deleted schedules are never
// listed. A zero Limit returns every match.
type ScheduleFilter struct {
	CoachID string
	// ClassName matches class names containing it, ignoring case.
	ClassName string
	Limit     int
	Offset    int
}

// ScheduleRepository stores class series definitions.
type ScheduleRepository interface {
	InsertSchedule(ctx context.Context, schedule Schedule) error
	UpdateSchedule(ctx context.Context, schedule Schedule) error
	GetSchedule(ctx context.Context, id string) (Schedule, error)
	// ListSchedules returns one page of matching schedules ordered by start
	// date time, together with the number of matches across all pages.
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]Schedule, int, error)
	// DeleteSchedule removes a schedule that no longer owns any occurrence.
	DeleteSchedule(ctx context.Context, id string) error
}

// OccurrenceRepository stores generated class instances.
type OccurrenceRepository interface {
	InsertOccurrence(ctx context.Context, occurrence Occurrence) error
	UpdateOccurrence(ctx context.Context, occurrence Occurrence) error
	GetOccurrence(ctx context.Context, id string) (Occurrence, error)
	// ListOccurrences returns the schedule's occurrences ordered by sequence index.
	ListOccurrences(ctx context.Context, scheduleID string, includeCancelled bool) ([]Occurrence, error)
	// DeleteOccurrence removes an occurrence that has no attendance records.
	DeleteOccurrence(ctx context.Context, id string) error
	// ListCoachOccurrences returns active occurrences of the coach's schedules
	// that overlap [from, to).
	ListCoachOccurrences(ctx context.Context, coachID string, from, to time.Time) ([]CoachOccurrence, error)
}

// AttendanceRepository stores attendance records and their audit trail.
type AttendanceRepository interface {
	InsertAttendance(ctx context.Context, record AttendanceRecord) error
	UpdateAttendance(ctx context.Context, record AttendanceRecord) error
	GetAttendance(ctx context.Context, occurrenceID, memberID string) (AttendanceRecord, error)
	ListAttendance(ctx context.Context, occurrenceID string) ([]AttendanceRecord, error)
	CountAttendance(ctx context.Context, occurrenceID string) (AttendanceCounts, error)
	AppendAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, occurrenceID string) ([]AuditEntry, error)
}

// PackageRepository stores personal-training packages.
type PackageRepository interface {
	SavePackage(ctx context.Context, pkg TrainingPackage) error
	GetPackage(ctx context.Context, id string) (TrainingPackage, error)
	// GetActivePackage returns the member's active package with the most
	// remaining sessions, or ErrNotFound.
	GetActivePackage(ctx context.Context, memberID string) (TrainingPackage, error)
	// DeductSession decrements the package by one session unless key was
	// already applied. applied is false for a repeated key. A package with no
	// remaining sessions yields ErrConflict.
	DeductSession(ctx context.Context, packageID, key string, at time.Time) (pkg TrainingPackage, applied bool, err error)
}

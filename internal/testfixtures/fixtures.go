package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/class-scheduler/internal/persistence"
)

var (
	coachCounter    uint64
	scheduleCounter uint64
	packageCounter  uint64
)

var referenceTime = time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures. It
// is a Monday at 08:00 UTC.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Coach fixtures -----------------------------

// CoachOption configures the generated coach.
type CoachOption func(*persistence.Coach)

// NewCoach returns a deterministic active coach.
func NewCoach(opts ...CoachOption) persistence.Coach {
	idx := atomic.AddUint64(&coachCounter, 1)
	coach := persistence.Coach{
		ID:        fmt.Sprintf("coach-%03d", idx),
		Name:      fmt.Sprintf("Coach %03d", idx),
		Active:    true,
		CreatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&coach)
	}
	return coach
}

// WithCoachID overrides the generated coach ID.
func WithCoachID(id string) CoachOption {
	return func(c *persistence.Coach) {
		c.ID = id
	}
}

// WithCoachActive sets the active flag.
func WithCoachActive(active bool) CoachOption {
	return func(c *persistence.Coach) {
		c.Active = active
	}
}

// ----------------------------- Schedule fixtures -----------------------------

// ScheduleOption configures the generated schedule.
type ScheduleOption func(*persistence.Schedule)

// NewSchedule returns a weekly four-session schedule for coachID.
func NewSchedule(coachID string, opts ...ScheduleOption) persistence.Schedule {
	idx := atomic.AddUint64(&scheduleCounter, 1)
	schedule := persistence.Schedule{
		ID:                fmt.Sprintf("schedule-%03d", idx),
		ClassName:         fmt.Sprintf("Class %03d", idx),
		CoachID:           coachID,
		Capacity:          10,
		DurationMinutes:   60,
		StartDateTime:     referenceTime,
		ScheduleType:      "RECURRING",
		RecurringInterval: "WEEKLY",
		NumberOfSessions:  4,
		CreatedBy:         "admin",
		CreatedAt:         referenceTime,
		UpdatedAt:         referenceTime,
	}
	for _, opt := range opts {
		opt(&schedule)
	}
	return schedule
}

// WithScheduleID overrides the generated schedule ID.
func WithScheduleID(id string) ScheduleOption {
	return func(s *persistence.Schedule) {
		s.ID = id
	}
}

// WithScheduleCapacity overrides the seat limit.
func WithScheduleCapacity(capacity int) ScheduleOption {
	return func(s *persistence.Schedule) {
		s.Capacity = capacity
	}
}

// WithScheduleSessions overrides the number of sessions.
func WithScheduleSessions(n int) ScheduleOption {
	return func(s *persistence.Schedule) {
		s.NumberOfSessions = n
	}
}

// WithScheduleClassName overrides the class name.
func WithScheduleClassName(name string) ScheduleOption {
	return func(s *persistence.Schedule) {
		s.ClassName = name
	}
}

// WithScheduleStart overrides the series anchor.
func WithScheduleStart(start time.Time) ScheduleOption {
	return func(s *persistence.Schedule) {
		s.StartDateTime = start
	}
}

// NewOccurrence returns the occurrence at index of schedule, spaced weekly
// from the schedule start.
func NewOccurrence(schedule persistence.Schedule, index int) persistence.Occurrence {
	start := schedule.StartDateTime.AddDate(0, 0, 7*index)
	return persistence.Occurrence{
		ID:            fmt.Sprintf("%s-occ-%d", schedule.ID, index),
		ScheduleID:    schedule.ID,
		SequenceIndex: index,
		Start:         start,
		End:           start.Add(time.Duration(schedule.DurationMinutes) * time.Minute),
		Capacity:      schedule.Capacity,
		CreatedAt:     referenceTime,
		UpdatedAt:     referenceTime,
	}
}

// NewAttendance returns a record for memberID in occurrence with status.
func NewAttendance(occurrence persistence.Occurrence, memberID, status string) persistence.AttendanceRecord {
	return persistence.AttendanceRecord{
		ID:           fmt.Sprintf("%s-%s", occurrence.ID, memberID),
		OccurrenceID: occurrence.ID,
		MemberID:     memberID,
		Status:       status,
		MarkedAt:     referenceTime,
		MarkedBy:     "front-desk",
	}
}

// ----------------------------- Package fixtures -----------------------------

// NewPackage returns an active training package for memberID with the given
// number of sessions remaining out of total.
func NewPackage(memberID string, total, remaining int) persistence.TrainingPackage {
	idx := atomic.AddUint64(&packageCounter, 1)
	return persistence.TrainingPackage{
		ID:                fmt.Sprintf("package-%03d", idx),
		MemberID:          memberID,
		TotalSessions:     total,
		RemainingSessions: remaining,
		Active:            true,
		CreatedAt:         referenceTime,
		UpdatedAt:         referenceTime,
	}
}

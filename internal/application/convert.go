package application

import (
	"errors"
	"time"

	"github.com/example/class-scheduler/internal/persistence"
	"github.com/example/class-scheduler/internal/recurrence"
)

func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyExists
	default:
		return err
	}
}

func scheduleFromPersistence(s persistence.Schedule) Schedule {
	return Schedule{
		ID: s.ID,
		Spec: ScheduleSpec{
			ClassName:        s.ClassName,
			Description:      s.Description,
			CoachID:          s.CoachID,
			Capacity:         s.Capacity,
			DurationMinutes:  s.DurationMinutes,
			Start:            s.StartDateTime,
			Type:             recurrence.ScheduleType(s.ScheduleType),
			Interval:         recurrence.Interval(s.RecurringInterval),
			NumberOfSessions: s.NumberOfSessions,
		},
		CreatedBy: s.CreatedBy,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// applySpec copies a normalized spec onto the stored schedule row.
func applySpec(s persistence.Schedule, spec ScheduleSpec) persistence.Schedule {
	s.ClassName = spec.ClassName
	s.Description = spec.Description
	s.CoachID = spec.CoachID
	s.Capacity = spec.Capacity
	s.DurationMinutes = spec.DurationMinutes
	s.StartDateTime = spec.Start
	s.ScheduleType = string(spec.Type)
	s.RecurringInterval = string(spec.Interval)
	s.NumberOfSessions = spec.NumberOfSessions
	return s
}

func occurrenceFromPersistence(o persistence.Occurrence, counts persistence.AttendanceCounts, lowSeatThreshold int) Occurrence {
	seats := seatsFor(o, counts, lowSeatThreshold)
	return Occurrence{
		ID:              o.ID,
		ScheduleID:      o.ScheduleID,
		SequenceIndex:   o.SequenceIndex,
		Start:           o.Start,
		End:             o.End,
		Capacity:        o.Capacity,
		CancelledAt:     o.CancelledAt,
		AttendanceCount: seats.AttendanceCount,
		SeatsHeld:       seats.SeatsHeld,
		RemainingSeats:  seats.RemainingSeats,
		CapacityStatus:  seats.CapacityStatus,
	}
}

func seatsFor(o persistence.Occurrence, counts persistence.AttendanceCounts, lowSeatThreshold int) Seats {
	held := counts.SeatsHeld()
	remaining := o.Capacity - held
	if remaining < 0 {
		remaining = 0
	}
	return Seats{
		OccurrenceID:    o.ID,
		Capacity:        o.Capacity,
		SeatsHeld:       held,
		AttendanceCount: counts.Attended,
		RemainingSeats:  remaining,
		CapacityStatus:  capacityStatus(o.Capacity, held, lowSeatThreshold),
	}
}

func recordFromPersistence(r persistence.AttendanceRecord) AttendanceRecord {
	return AttendanceRecord{
		ID:                      r.ID,
		OccurrenceID:            r.OccurrenceID,
		MemberID:                r.MemberID,
		Status:                  r.Status,
		MarkedAt:                r.MarkedAt,
		MarkedBy:                r.MarkedBy,
		PackageDeductionApplied: r.PackageDeductionApplied,
	}
}

func coachFromPersistence(c persistence.Coach) Coach {
	return Coach{ID: c.ID, Name: c.Name, Active: c.Active, CreatedAt: c.CreatedAt}
}

func packageFromPersistence(p persistence.TrainingPackage) TrainingPackage {
	return TrainingPackage{
		ID:                p.ID,
		MemberID:          p.MemberID,
		TotalSessions:     p.TotalSessions,
		RemainingSessions: p.RemainingSessions,
		Active:            p.Active,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func auditFromPersistence(e persistence.AuditEntry) AuditEntry {
	return AuditEntry{
		ID:           e.ID,
		OccurrenceID: e.OccurrenceID,
		MemberID:     e.MemberID,
		Action:       e.Action,
		FromStatus:   e.FromStatus,
		ToStatus:     e.ToStatus,
		MarkedAt:     e.MarkedAt,
		MarkedBy:     e.MarkedBy,
		Note:         e.Note,
	}
}

// auditEntry builds the log line for a status change of record.
func auditEntry(id, action, from string, record persistence.AttendanceRecord, note string) persistence.AuditEntry {
	return persistence.AuditEntry{
		ID:           id,
		OccurrenceID: record.OccurrenceID,
		MemberID:     record.MemberID,
		Action:       action,
		FromStatus:   from,
		ToStatus:     record.Status,
		MarkedAt:     record.MarkedAt,
		MarkedBy:     record.MarkedBy,
		Note:         note,
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

package application

import (
	"time"

	"github.com/example/class-scheduler/internal/recurrence"
)

// Principal represents the authenticated staff member invoking a service method.
type Principal struct {
	StaffID string
	Role    Role
}

// ScheduleSpec is the caller supplied definition of a class series.
type ScheduleSpec = recurrence.Spec

// Attendance statuses.
const (
	StatusEnrolled  = "ENROLLED"
	StatusAttended  = "ATTENDED"
	StatusNoShow    = "NO_SHOW"
	StatusCancelled = "CANCELLED"
)

// Capacity badges shown next to an occurrence.
const (
	CapacityAvailable = "available"
	CapacityLow       = "low"
	CapacityFull      = "full"
)

// DefaultLowSeatThreshold is the remaining seat count at or below which an
// occurrence is reported as low.
const DefaultLowSeatThreshold = 3

// Schedule represents a persisted class series.
type Schedule struct {
	ID        string
	Spec      ScheduleSpec
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Occurrence is one class instance together with its derived seat figures.
type Occurrence struct {
	ID              string
	ScheduleID      string
	SequenceIndex   int
	Start           time.Time
	End             time.Time
	Capacity        int
	CancelledAt     *time.Time
	AttendanceCount int
	SeatsHeld       int
	RemainingSeats  int
	CapacityStatus  string
}

// AttendanceRecord is one member's status for one occurrence.
type AttendanceRecord struct {
	ID                      string
	OccurrenceID            string
	MemberID                string
	Status                  string
	MarkedAt                time.Time
	MarkedBy                string
	PackageDeductionApplied bool
}

// AuditEntry is one line of an occurrence's attendance history.
type AuditEntry struct {
	ID           string
	OccurrenceID string
	MemberID     string
	Action       string
	FromStatus   string
	ToStatus     string
	MarkedAt     time.Time
	MarkedBy     string
	Note         string
}

// Seats summarises the seat usage of one occurrence.
type Seats struct {
	OccurrenceID    string
	Capacity        int
	SeatsHeld       int
	AttendanceCount int
	RemainingSeats  int
	CapacityStatus  string
}

// Coach is a staff member who can teach classes.
type Coach struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// TrainingPackage is a prepaid bundle of personal-training sessions.
type TrainingPackage struct {
	ID                string
	MemberID          string
	TotalSessions     int
	RemainingSessions int
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ConflictWarning reports that a generated occurrence overlaps another class
// taught by the same coach. It never blocks a write.
type ConflictWarning struct {
	SequenceIndex         int
	Start                 time.Time
	End                   time.Time
	CoachID               string
	ConflictingScheduleID string
	ConflictingOccurrence string
	ConflictingClassName  string
}

// CreateScheduleParams wraps the data required to create a schedule.
type CreateScheduleParams struct {
	Principal Principal
	Spec      ScheduleSpec
}

// CreateScheduleResult is the persisted series with its generated occurrences.
type CreateScheduleResult struct {
	Schedule    Schedule
	Occurrences []Occurrence
	Conflicts   []ConflictWarning
}

// Page sizes for schedule listings.
const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

// ListSchedulesParams selects one page of schedules.
type ListSchedulesParams struct {
	Principal Principal
	CoachID   string
	// ClassName matches class names containing it, ignoring case.
	ClassName string
	Page      int
	PerPage   int
}

// Pagination describes where a page sits in the full listing. From and To
// are 1-based positions and are zero for an empty page.
type Pagination struct {
	CurrentPage int
	LastPage    int
	PerPage     int
	Total       int
	From        int
	To          int
}

// ListSchedulesResult is one page of schedules.
type ListSchedulesResult struct {
	Schedules  []Schedule
	Pagination Pagination
}

// DeleteScheduleResult lists what removing a schedule did to its occurrences.
type DeleteScheduleResult struct {
	ScheduleID string
	// Deleted holds every removed occurrence; SoftCancelled marks those kept
	// for their records.
	Deleted []OccurrenceChange
	// Retained is set when the schedule row was kept for attendance history.
	Retained bool
}

// ListOccurrencesParams selects the occurrences of one schedule.
type ListOccurrencesParams struct {
	Principal        Principal
	ScheduleID       string
	IncludeCancelled bool
}

// EnrollRequest asks for a seat in an occurrence.
type EnrollRequest struct {
	Principal    Principal
	OccurrenceID string
	MemberID     string
}

// EnrollResult is the record holding the seat and the seats left afterwards.
type EnrollResult struct {
	Record         AttendanceRecord
	RemainingSeats int
	// Reenrolled is set when a CANCELLED record was moved back to ENROLLED.
	Reenrolled bool
}

// UnenrollRequest releases a member's seat.
type UnenrollRequest struct {
	Principal    Principal
	OccurrenceID string
	MemberID     string
}

// AttendanceMarkRequest records the outcome of a class for one member.
type AttendanceMarkRequest struct {
	Principal    Principal
	OccurrenceID string
	MemberID     string
	Status       string
}

// ReopenRequest resets a member's record to ENROLLED.
type ReopenRequest struct {
	Principal    Principal
	OccurrenceID string
	MemberID     string
}

// ReconcileParams carries an edited series definition.
type ReconcileParams struct {
	Principal  Principal
	ScheduleID string
	Spec       ScheduleSpec
}

// OccurrenceChange identifies an occurrence touched by a reconcile.
type OccurrenceChange struct {
	OccurrenceID  string
	SequenceIndex int
	// SoftCancelled is set on deletions that kept the row for its records.
	SoftCancelled bool
	// Revived is set on creations that reused a cancelled row.
	Revived bool
}

// OccurrenceFailure is a per-occurrence error that did not stop the reconcile.
type OccurrenceFailure struct {
	OccurrenceID  string
	SequenceIndex int
	Err           error
}

// Warning kinds.
const (
	WarningPartialTruncation = "PARTIAL_TRUNCATION"
	WarningCoachConflict     = "COACH_CONFLICT"
)

// Warning is a non-fatal note attached to a write. Exactly one of
// Truncation and Conflict is set, according to Kind.
type Warning struct {
	Kind       string
	Truncation *PartialTruncationWarning
	Conflict   *ConflictWarning
}

// ReconcileResult lists what a reconcile changed.
type ReconcileResult struct {
	Schedule Schedule
	Updated  []OccurrenceChange
	Created  []OccurrenceChange
	Deleted  []OccurrenceChange
	// Warnings holds the partial truncation warning, if any, followed by
	// coach conflicts of the written occurrences.
	Warnings []Warning
	Failures []OccurrenceFailure
}

// Truncation returns the partial truncation warning, or nil when the series
// was truncated as requested.
func (r ReconcileResult) Truncation() *PartialTruncationWarning {
	for _, warning := range r.Warnings {
		if warning.Kind == WarningPartialTruncation {
			return warning.Truncation
		}
	}
	return nil
}

// Conflicts returns the coach conflict warnings.
func (r ReconcileResult) Conflicts() []ConflictWarning {
	var conflicts []ConflictWarning
	for _, warning := range r.Warnings {
		if warning.Kind == WarningCoachConflict {
			conflicts = append(conflicts, *warning.Conflict)
		}
	}
	return conflicts
}

// Changed reports whether the reconcile wrote anything.
func (r ReconcileResult) Changed() bool {
	return len(r.Updated) > 0 || len(r.Created) > 0 || len(r.Deleted) > 0
}

// CreateCoachParams registers a coach.
type CreateCoachParams struct {
	Principal Principal
	ID        string
	Name      string
}

// GrantPackageParams grants a member a bundle of personal-training sessions.
type GrantPackageParams struct {
	Principal Principal
	MemberID  string
	Sessions  int
}

package persistence

import "time"

// Attendance statuses as stored.
const (
	StatusEnrolled  = "ENROLLED"
	StatusAttended  = "ATTENDED"
	StatusNoShow    = "NO_SHOW"
	StatusCancelled = "CANCELLED"
)

// Coach is a staff member who can teach classes.
type Coach struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// Schedule is the stored definition of a class series. A non-nil DeletedAt
// marks a schedule removed while its occurrences still carried records.
type Schedule struct {
	ID                string
	ClassName         string
	Description       string
	CoachID           string
	Capacity          int
	DurationMinutes   int
	StartDateTime     time.Time
	ScheduleType      string
	RecurringInterval string
	NumberOfSessions  int
	CreatedBy         string
	DeletedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Deleted reports whether the schedule has been soft-deleted.
func (s Schedule) Deleted() bool {
	return s.DeletedAt != nil
}

// Occurrence is one concrete class instance of a schedule. A non-nil
// CancelledAt marks a soft-cancelled occurrence.
type Occurrence struct {
	ID            string
	ScheduleID    string
	SequenceIndex int
	Start         time.Time
	End           time.Time
	Capacity      int
	CancelledAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether the occurrence has not been soft-cancelled.
func (o Occurrence) Active() bool {
	return o.CancelledAt == nil
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

// AttendanceCounts aggregates the records of one occurrence by status.
type AttendanceCounts struct {
	Enrolled  int
	Attended  int
	NoShow    int
	Cancelled int
}

// SeatsHeld counts the records that occupy a seat.
func (c AttendanceCounts) SeatsHeld() int {
	return c.Enrolled + c.Attended
}

// Historical reports whether any record has been marked attended or no-show.
func (c AttendanceCounts) Historical() bool {
	return c.Attended > 0 || c.NoShow > 0
}

// Total counts all records regardless of status.
func (c AttendanceCounts) Total() int {
	return c.Enrolled + c.Attended + c.NoShow + c.Cancelled
}

// AuditEntry is an append-only log line for attendance changes.
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

// CoachOccurrence pairs an active occurrence with its owning schedule, used
// for double-booking checks.
type CoachOccurrence struct {
	Occurrence Occurrence
	ClassName  string
}

package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/class-scheduler/internal/recurrence"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when creating a resource whose ID is taken.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrNotEnrolled is returned when marking attendance for a member with no record.
	ErrNotEnrolled = errors.New("application: member is not enrolled")
	// ErrOccurrenceCancelled is returned when writing to a soft-cancelled occurrence.
	ErrOccurrenceCancelled = errors.New("application: occurrence is cancelled")
	// ErrInvalidCredentials is returned when a staff key does not verify.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
	// ErrAccountDisabled is returned when a staff key belongs to a disabled account.
	ErrAccountDisabled = errors.New("application: account disabled")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// validationFromSpec converts an expander error into a ValidationError. Other
// errors are returned unchanged.
func validationFromSpec(err error) error {
	var specErr *recurrence.InvalidSpecError
	if !errors.As(err, &specErr) {
		return err
	}
	vErr := &ValidationError{}
	for field, msg := range specErr.Fields {
		vErr.add(field, msg)
	}
	return vErr
}

// CapacityExceededError reports an enrollment into an occurrence with no free seats.
type CapacityExceededError struct {
	OccurrenceID string
	Capacity     int
	SeatsHeld    int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("occurrence %s is full (%d of %d seats held)", e.OccurrenceID, e.SeatsHeld, e.Capacity)
}

// DuplicateEnrollmentError reports an enrollment for a member who already holds
// a live record.
type DuplicateEnrollmentError struct {
	OccurrenceID string
	MemberID     string
	Status       string
}

func (e *DuplicateEnrollmentError) Error() string {
	return fmt.Sprintf("member %s already has a %s record for occurrence %s", e.MemberID, e.Status, e.OccurrenceID)
}

// InsufficientPackageBalanceError reports an ATTENDED mark for a member whose
// active package has no sessions left.
type InsufficientPackageBalanceError struct {
	MemberID  string
	PackageID string
	Remaining int
}

func (e *InsufficientPackageBalanceError) Error() string {
	return fmt.Sprintf("member %s has %d sessions remaining on package %s", e.MemberID, e.Remaining, e.PackageID)
}

// CapacityBelowEnrollmentError reports a capacity edit below the seats held.
type CapacityBelowEnrollmentError struct {
	OccurrenceID  string
	SequenceIndex int
	Capacity      int
	SeatsHeld     int
}

func (e *CapacityBelowEnrollmentError) Error() string {
	return fmt.Sprintf("occurrence %s: capacity %d is below the %d seats held", e.OccurrenceID, e.Capacity, e.SeatsHeld)
}

// InvalidTransitionError reports an attendance status change the ledger forbids.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot change attendance from %s to %s", e.From, e.To)
}

// PartialTruncationWarning is returned alongside a reconcile result when
// occurrences past the new session count were kept because they, or a later
// occurrence, hold attendance history.
type PartialTruncationWarning struct {
	ScheduleID      string
	RetainedIndices []int
	BlockingIndices []int
}

func (w *PartialTruncationWarning) Error() string {
	return fmt.Sprintf("schedule %s: kept occurrences %v because occurrences %v have attendance history",
		w.ScheduleID, w.RetainedIndices, w.BlockingIndices)
}

package application

import (
	"errors"
	"fmt"
	"testing"

	"github.com/example/class-scheduler/internal/recurrence"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	empty := &ValidationError{}
	if got := empty.Error(); got != "validation failed" {
		t.Fatalf("expected generic message for empty error, got %q", got)
	}

	withFields := &ValidationError{FieldErrors: map[string]string{"capacity": "invalid", "class_name": "required"}}
	if got := withFields.Error(); got != "validation failed: capacity, class_name" {
		t.Fatalf("expected sorted field list, got %q", got)
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	if err := (&ValidationError{}).HasErrors(); err {
		t.Fatalf("expected HasErrors to report false for empty error")
	}

	if err := (&ValidationError{FieldErrors: map[string]string{"field": "bad"}}).HasErrors(); !err {
		t.Fatalf("expected HasErrors to report true when fields are present")
	}
}

func TestValidationError_AddAndMerge(t *testing.T) {
	t.Parallel()

	base := &ValidationError{}
	base.add("first", "value")
	if got := base.FieldErrors["first"]; got != "value" {
		t.Fatalf("expected add to populate map, got %q", got)
	}

	other := &ValidationError{FieldErrors: map[string]string{"second": "another"}}
	base.merge(other)
	if got := base.FieldErrors["second"]; got != "another" {
		t.Fatalf("expected merge to copy field, got %q", got)
	}

	base.merge(nil)
	if len(base.FieldErrors) != 2 {
		t.Fatalf("expected merge with nil to leave fields unchanged")
	}
}

func TestValidationFromSpec(t *testing.T) {
	t.Parallel()

	_, err := recurrence.NewExpander(0).Expand(recurrence.Spec{Type: recurrence.ScheduleTypeOneTime})
	converted := validationFromSpec(err)

	var vErr *ValidationError
	if !errors.As(converted, &vErr) {
		t.Fatalf("expected *ValidationError, got %T", converted)
	}
	for _, field := range []string{"class_name", "coach_id", "capacity", "duration_minutes", "start_date_time"} {
		if _, ok := vErr.FieldErrors[field]; !ok {
			t.Fatalf("expected field %q in %v", field, vErr.FieldErrors)
		}
	}

	other := errors.New("boom")
	if got := validationFromSpec(other); got != other {
		t.Fatalf("expected unrelated errors to pass through")
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"":                          nil,
		"unauthorized":              ErrUnauthorized,
		"not_found":                 fmt.Errorf("wrapped: %w", ErrNotFound),
		"not_enrolled":              ErrNotEnrolled,
		"occurrence_cancelled":      ErrOccurrenceCancelled,
		"validation":                &ValidationError{FieldErrors: map[string]string{"a": "b"}},
		"capacity_exceeded":         &CapacityExceededError{OccurrenceID: "o", Capacity: 1, SeatsHeld: 1},
		"duplicate_enrollment":      &DuplicateEnrollmentError{OccurrenceID: "o", MemberID: "m", Status: "ENROLLED"},
		"insufficient_balance":      &InsufficientPackageBalanceError{MemberID: "m"},
		"capacity_below_enrollment": &CapacityBelowEnrollmentError{OccurrenceID: "o"},
		"invalid_transition":        fmt.Errorf("mark: %w", &InvalidTransitionError{From: "ATTENDED", To: "NO_SHOW"}),
		"unexpected":                errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorKind(err); got != want {
			t.Errorf("ErrorKind(%v) = %q, want %q", err, got, want)
		}
	}
}

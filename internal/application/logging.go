package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/class-scheduler/internal/lock"
	"github.com/example/class-scheduler/internal/logging"
)

// serviceLogger prefers the request logger carried by ctx so service entries
// share the request's attributes.
func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	return logging.Scoped(ctx, base, "service", serviceName, operation, attrs...)
}

// ErrorKind maps sentinel, typed and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrNotEnrolled):
		return "not_enrolled"
	case errors.Is(err, ErrOccurrenceCancelled):
		return "occurrence_cancelled"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, lock.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}

	var (
		vErr         *ValidationError
		capacityErr  *CapacityExceededError
		duplicateErr *DuplicateEnrollmentError
		balanceErr   *InsufficientPackageBalanceError
		belowErr     *CapacityBelowEnrollmentError
		transition   *InvalidTransitionError
	)
	switch {
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &capacityErr):
		return "capacity_exceeded"
	case errors.As(err, &duplicateErr):
		return "duplicate_enrollment"
	case errors.As(err, &balanceErr):
		return "insufficient_balance"
	case errors.As(err, &belowErr):
		return "capacity_below_enrollment"
	case errors.As(err, &transition):
		return "invalid_transition"
	}

	return "unexpected"
}

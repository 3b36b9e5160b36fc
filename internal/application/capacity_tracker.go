package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/class-scheduler/internal/lock"
	"github.com/example/class-scheduler/internal/logging"
	"github.com/example/class-scheduler/internal/persistence"
)

// CapacityStatus maps seat usage to the badge shown in class lists using
// DefaultLowSeatThreshold.
func CapacityStatus(capacity, seatsHeld int) string {
	return capacityStatus(capacity, seatsHeld, DefaultLowSeatThreshold)
}

func capacityStatus(capacity, seatsHeld, lowSeatThreshold int) string {
	remaining := capacity - seatsHeld
	switch {
	case remaining <= 0:
		return CapacityFull
	case remaining <= lowSeatThreshold:
		return CapacityLow
	default:
		return CapacityAvailable
	}
}

// CapacityTracker admits members into occurrences without exceeding capacity.
type CapacityTracker struct {
	store            persistence.Store
	locker           lock.Locker
	idGenerator      func() string
	now              func() time.Time
	lowSeatThreshold int
	logger           *slog.Logger
}

// NewCapacityTracker constructs a tracker with the provided dependencies.
func NewCapacityTracker(store persistence.Store, locker lock.Locker, idGenerator func() string, now func() time.Time) *CapacityTracker {
	return NewCapacityTrackerWithLogger(store, locker, idGenerator, now, nil)
}

// NewCapacityTrackerWithLogger constructs a tracker with a specified logger.
func NewCapacityTrackerWithLogger(store persistence.Store, locker lock.Locker, idGenerator func() string, now func() time.Time, logger *slog.Logger) *CapacityTracker {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &CapacityTracker{
		store:            store,
		locker:           locker,
		idGenerator:      idGenerator,
		now:              now,
		lowSeatThreshold: DefaultLowSeatThreshold,
		logger:           logging.OrDefault(logger),
	}
}

// SetLowSeatThreshold changes the remaining seat count reported as low.
func (t *CapacityTracker) SetLowSeatThreshold(n int) {
	if t != nil && n >= 0 {
		t.lowSeatThreshold = n
	}
}

func (t *CapacityTracker) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, t.logger, "CapacityTracker", operation, attrs...)
}

// Enroll takes a seat for the member. A member whose record was CANCELLED is
// moved back to ENROLLED, subject to the same capacity check.
func (t *CapacityTracker) Enroll(ctx context.Context, req EnrollRequest) (result EnrollResult, err error) {
	if t == nil {
		err = fmt.Errorf("CapacityTracker is nil")
		return
	}

	logger := t.loggerWith(ctx, "Enroll",
		"principal_id", req.Principal.StaffID,
		"occurrence_id", req.OccurrenceID,
		"member_id", req.MemberID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to enroll member", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"record_id", result.Record.ID,
			"remaining_seats", result.RemainingSeats,
			"reenrolled", result.Reenrolled,
		).InfoContext(ctx, "member enrolled")
	}()

	if err = authorize(req.Principal, ActionManageEnrollment); err != nil {
		return
	}
	if err = validateMemberRequest(req.OccurrenceID, req.MemberID); err != nil {
		return
	}

	var unlock func()
	unlock, err = t.locker.Lock(ctx, lock.OccurrenceKey(req.OccurrenceID))
	if err != nil {
		return
	}
	defer unlock()

	memberID := strings.TrimSpace(req.MemberID)
	err = t.store.Atomically(ctx, func(tx persistence.Tx) error {
		occurrence, err := tx.GetOccurrence(ctx, req.OccurrenceID)
		if err != nil {
			return mapRepoError(err)
		}
		if !occurrence.Active() {
			return ErrOccurrenceCancelled
		}

		existing, err := tx.GetAttendance(ctx, occurrence.ID, memberID)
		found := err == nil
		switch {
		case found && existing.Status != persistence.StatusCancelled:
			return &DuplicateEnrollmentError{OccurrenceID: occurrence.ID, MemberID: memberID, Status: existing.Status}
		case !found && !errors.Is(err, persistence.ErrNotFound):
			return err
		}

		counts, err := tx.CountAttendance(ctx, occurrence.ID)
		if err != nil {
			return err
		}
		if counts.SeatsHeld() >= occurrence.Capacity {
			return &CapacityExceededError{OccurrenceID: occurrence.ID, Capacity: occurrence.Capacity, SeatsHeld: counts.SeatsHeld()}
		}

		record := existing
		if !found {
			record = persistence.AttendanceRecord{
				ID:           t.idGenerator(),
				OccurrenceID: occurrence.ID,
				MemberID:     memberID,
			}
		}
		record.Status = persistence.StatusEnrolled
		record.MarkedAt = t.now()
		record.MarkedBy = req.Principal.StaffID

		if found {
			err = tx.UpdateAttendance(ctx, record)
		} else {
			err = tx.InsertAttendance(ctx, record)
		}
		if err != nil {
			return err
		}

		from := ""
		if found {
			from = existing.Status
		}
		if err := tx.AppendAudit(ctx, auditEntry(t.idGenerator(), "enroll", from, record, "")); err != nil {
			return err
		}

		result = EnrollResult{
			Record:         recordFromPersistence(record),
			RemainingSeats: occurrence.Capacity - counts.SeatsHeld() - 1,
			Reenrolled:     found,
		}
		return nil
	})
	return
}

// Unenroll releases the member's seat by moving the record to CANCELLED. The
// record is kept. Unenrolling an already cancelled member is a no-op.
func (t *CapacityTracker) Unenroll(ctx context.Context, req UnenrollRequest) (record AttendanceRecord, err error) {
	if t == nil {
		err = fmt.Errorf("CapacityTracker is nil")
		return
	}

	logger := t.loggerWith(ctx, "Unenroll",
		"principal_id", req.Principal.StaffID,
		"occurrence_id", req.OccurrenceID,
		"member_id", req.MemberID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to unenroll member", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("record_id", record.ID).InfoContext(ctx, "member unenrolled")
	}()

	if err = authorize(req.Principal, ActionManageEnrollment); err != nil {
		return
	}
	if err = validateMemberRequest(req.OccurrenceID, req.MemberID); err != nil {
		return
	}

	var unlock func()
	unlock, err = t.locker.Lock(ctx, lock.OccurrenceKey(req.OccurrenceID))
	if err != nil {
		return
	}
	defer unlock()

	err = t.store.Atomically(ctx, func(tx persistence.Tx) error {
		if _, err := tx.GetOccurrence(ctx, req.OccurrenceID); err != nil {
			return mapRepoError(err)
		}
		existing, err := tx.GetAttendance(ctx, req.OccurrenceID, strings.TrimSpace(req.MemberID))
		if errors.Is(err, persistence.ErrNotFound) {
			return ErrNotEnrolled
		}
		if err != nil {
			return err
		}

		switch existing.Status {
		case persistence.StatusCancelled:
			record = recordFromPersistence(existing)
			return nil
		case persistence.StatusEnrolled:
		default:
			return &InvalidTransitionError{From: existing.Status, To: persistence.StatusCancelled}
		}

		updated := existing
		updated.Status = persistence.StatusCancelled
		updated.MarkedAt = t.now()
		updated.MarkedBy = req.Principal.StaffID
		if err := tx.UpdateAttendance(ctx, updated); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, auditEntry(t.idGenerator(), "unenroll", existing.Status, updated, "")); err != nil {
			return err
		}
		record = recordFromPersistence(updated)
		return nil
	})
	return
}

// RemainingSeats returns capacity minus seats held, never below zero.
func (t *CapacityTracker) RemainingSeats(ctx context.Context, occurrenceID string) (int, error) {
	seats, err := t.seats(ctx, occurrenceID)
	if err != nil {
		return 0, err
	}
	return seats.RemainingSeats, nil
}

// Seats reports the seat usage of an occurrence.
func (t *CapacityTracker) Seats(ctx context.Context, principal Principal, occurrenceID string) (Seats, error) {
	if t == nil {
		return Seats{}, fmt.Errorf("CapacityTracker is nil")
	}
	if err := authorize(principal, ActionViewSchedules); err != nil {
		return Seats{}, err
	}
	return t.seats(ctx, occurrenceID)
}

func (t *CapacityTracker) seats(ctx context.Context, occurrenceID string) (seats Seats, err error) {
	if t == nil {
		err = fmt.Errorf("CapacityTracker is nil")
		return
	}
	err = t.store.ReadOnly(ctx, func(tx persistence.Tx) error {
		occurrence, err := tx.GetOccurrence(ctx, occurrenceID)
		if err != nil {
			return mapRepoError(err)
		}
		counts, err := tx.CountAttendance(ctx, occurrence.ID)
		if err != nil {
			return err
		}
		seats = seatsFor(occurrence, counts, t.lowSeatThreshold)
		return nil
	})
	return
}

func validateMemberRequest(occurrenceID, memberID string) error {
	vErr := &ValidationError{}
	if strings.TrimSpace(occurrenceID) == "" {
		vErr.add("occurrence_id", "occurrence is required")
	}
	if strings.TrimSpace(memberID) == "" {
		vErr.add("member_id", "member is required")
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

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

// AttendanceLedger records what happened to each enrolled member and charges
// personal-training packages for attended sessions.
//
// Allowed transitions are ENROLLED to ATTENDED, NO_SHOW or CANCELLED, and any
// status back to ENROLLED through Reopen. Repeating the current status is a
// no-op. Records are never deleted and every change is audited.
type AttendanceLedger struct {
	store       persistence.Store
	locker      lock.Locker
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewAttendanceLedger constructs a ledger with the provided dependencies.
func NewAttendanceLedger(store persistence.Store, locker lock.Locker, idGenerator func() string, now func() time.Time) *AttendanceLedger {
	return NewAttendanceLedgerWithLogger(store, locker, idGenerator, now, nil)
}

// NewAttendanceLedgerWithLogger constructs a ledger with a specified logger.
func NewAttendanceLedgerWithLogger(store persistence.Store, locker lock.Locker, idGenerator func() string, now func() time.Time, logger *slog.Logger) *AttendanceLedger {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &AttendanceLedger{
		store:       store,
		locker:      locker,
		idGenerator: idGenerator,
		now:         now,
		logger:      logging.OrDefault(logger),
	}
}

func (l *AttendanceLedger) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, l.logger, "AttendanceLedger", operation, attrs...)
}

// MarkAttendance moves an ENROLLED record to ATTENDED, NO_SHOW or CANCELLED.
// The first ATTENDED mark of a record deducts one session from the member's
// active package, if any.
func (l *AttendanceLedger) MarkAttendance(ctx context.Context, req AttendanceMarkRequest) (record AttendanceRecord, err error) {
	if l == nil {
		err = fmt.Errorf("AttendanceLedger is nil")
		return
	}

	status := strings.ToUpper(strings.TrimSpace(req.Status))
	logger := l.loggerWith(ctx, "MarkAttendance",
		"principal_id", req.Principal.StaffID,
		"occurrence_id", req.OccurrenceID,
		"member_id", req.MemberID,
		"status", status,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to mark attendance", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"record_id", record.ID,
			"package_deduction_applied", record.PackageDeductionApplied,
		).InfoContext(ctx, "attendance marked")
	}()

	if err = authorize(req.Principal, ActionMarkAttendance); err != nil {
		return
	}
	if err = validateMemberRequest(req.OccurrenceID, req.MemberID); err != nil {
		return
	}
	switch status {
	case persistence.StatusAttended, persistence.StatusNoShow, persistence.StatusCancelled:
	default:
		err = &ValidationError{FieldErrors: map[string]string{"status": "status must be ATTENDED, NO_SHOW or CANCELLED"}}
		return
	}

	var unlock func()
	unlock, err = l.locker.Lock(ctx, lock.OccurrenceKey(req.OccurrenceID))
	if err != nil {
		return
	}
	defer unlock()

	err = l.store.Atomically(ctx, func(tx persistence.Tx) error {
		existing, err := l.loadRecord(ctx, tx, req.OccurrenceID, req.MemberID)
		if err != nil {
			return err
		}
		if existing.Status == status {
			record = recordFromPersistence(existing)
			return nil
		}
		if existing.Status != persistence.StatusEnrolled {
			return &InvalidTransitionError{From: existing.Status, To: status}
		}

		updated := existing
		updated.Status = status
		updated.MarkedAt = l.now()
		updated.MarkedBy = req.Principal.StaffID

		note := ""
		if status == persistence.StatusAttended && !existing.PackageDeductionApplied {
			pkg, applied, err := l.deduct(ctx, tx, updated)
			if err != nil {
				return err
			}
			if applied {
				updated.PackageDeductionApplied = true
				note = fmt.Sprintf("package %s: %d sessions remaining", pkg.ID, pkg.RemainingSessions)
			}
		}

		if err := tx.UpdateAttendance(ctx, updated); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, auditEntry(l.idGenerator(), "mark", existing.Status, updated, note)); err != nil {
			return err
		}
		record = recordFromPersistence(updated)
		return nil
	})
	return
}

// Reopen resets a record to ENROLLED. Moving a CANCELLED or NO_SHOW record
// back takes a seat again and is subject to capacity. A deduction already
// applied stays applied, so marking the member ATTENDED again is free.
func (l *AttendanceLedger) Reopen(ctx context.Context, req ReopenRequest) (record AttendanceRecord, err error) {
	if l == nil {
		err = fmt.Errorf("AttendanceLedger is nil")
		return
	}

	logger := l.loggerWith(ctx, "Reopen",
		"principal_id", req.Principal.StaffID,
		"occurrence_id", req.OccurrenceID,
		"member_id", req.MemberID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to reopen attendance", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("record_id", record.ID).InfoContext(ctx, "attendance reopened")
	}()

	if err = authorize(req.Principal, ActionMarkAttendance); err != nil {
		return
	}
	if err = validateMemberRequest(req.OccurrenceID, req.MemberID); err != nil {
		return
	}

	var unlock func()
	unlock, err = l.locker.Lock(ctx, lock.OccurrenceKey(req.OccurrenceID))
	if err != nil {
		return
	}
	defer unlock()

	err = l.store.Atomically(ctx, func(tx persistence.Tx) error {
		occurrence, err := tx.GetOccurrence(ctx, req.OccurrenceID)
		if err != nil {
			return mapRepoError(err)
		}
		existing, err := l.loadRecord(ctx, tx, occurrence.ID, req.MemberID)
		if err != nil {
			return err
		}
		if existing.Status == persistence.StatusEnrolled {
			record = recordFromPersistence(existing)
			return nil
		}
		if !occurrence.Active() {
			return ErrOccurrenceCancelled
		}

		if existing.Status == persistence.StatusCancelled || existing.Status == persistence.StatusNoShow {
			counts, err := tx.CountAttendance(ctx, occurrence.ID)
			if err != nil {
				return err
			}
			if counts.SeatsHeld() >= occurrence.Capacity {
				return &CapacityExceededError{OccurrenceID: occurrence.ID, Capacity: occurrence.Capacity, SeatsHeld: counts.SeatsHeld()}
			}
		}

		updated := existing
		updated.Status = persistence.StatusEnrolled
		updated.MarkedAt = l.now()
		updated.MarkedBy = req.Principal.StaffID
		if err := tx.UpdateAttendance(ctx, updated); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, auditEntry(l.idGenerator(), "reopen", existing.Status, updated, "")); err != nil {
			return err
		}
		record = recordFromPersistence(updated)
		return nil
	})
	return
}

// History returns the audit trail of an occurrence in write order.
func (l *AttendanceLedger) History(ctx context.Context, principal Principal, occurrenceID string) ([]AuditEntry, error) {
	if l == nil {
		return nil, fmt.Errorf("AttendanceLedger is nil")
	}
	if err := authorize(principal, ActionViewSchedules); err != nil {
		return nil, err
	}

	var entries []AuditEntry
	err := l.store.ReadOnly(ctx, func(tx persistence.Tx) error {
		if _, err := tx.GetOccurrence(ctx, occurrenceID); err != nil {
			return mapRepoError(err)
		}
		stored, err := tx.ListAudit(ctx, occurrenceID)
		if err != nil {
			return err
		}
		entries = make([]AuditEntry, 0, len(stored))
		for _, entry := range stored {
			entries = append(entries, auditFromPersistence(entry))
		}
		return nil
	})
	return entries, err
}

func (l *AttendanceLedger) loadRecord(ctx context.Context, tx persistence.Tx, occurrenceID, memberID string) (persistence.AttendanceRecord, error) {
	record, err := tx.GetAttendance(ctx, occurrenceID, strings.TrimSpace(memberID))
	if errors.Is(err, persistence.ErrNotFound) {
		if _, occErr := tx.GetOccurrence(ctx, occurrenceID); occErr != nil {
			return persistence.AttendanceRecord{}, mapRepoError(occErr)
		}
		return persistence.AttendanceRecord{}, ErrNotEnrolled
	}
	return record, err
}

// deduct charges one session to the member's active package, keyed by the
// record ID so a retried mark never charges twice. Members without an active
// package are not charged.
func (l *AttendanceLedger) deduct(ctx context.Context, tx persistence.Tx, record persistence.AttendanceRecord) (persistence.TrainingPackage, bool, error) {
	pkg, err := tx.GetActivePackage(ctx, record.MemberID)
	if errors.Is(err, persistence.ErrNotFound) {
		return persistence.TrainingPackage{}, false, nil
	}
	if err != nil {
		return persistence.TrainingPackage{}, false, err
	}
	if pkg.RemainingSessions <= 0 {
		return pkg, false, &InsufficientPackageBalanceError{MemberID: record.MemberID, PackageID: pkg.ID, Remaining: pkg.RemainingSessions}
	}

	updated, _, err := tx.DeductSession(ctx, pkg.ID, record.ID, record.MarkedAt)
	if errors.Is(err, persistence.ErrConflict) {
		return pkg, false, &InsufficientPackageBalanceError{MemberID: record.MemberID, PackageID: pkg.ID, Remaining: 0}
	}
	if err != nil {
		return pkg, false, err
	}
	// A repeated key means the session was charged by an earlier attempt.
	return updated, true, nil
}

package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/example/class-scheduler/internal/lock"
	"github.com/example/class-scheduler/internal/logging"
	"github.com/example/class-scheduler/internal/persistence"
	"github.com/example/class-scheduler/internal/recurrence"
)

// ScheduleReconciler applies an edited series definition to the occurrences
// already stored for it.
//
// The new spec is expanded and diffed against the stored occurrences by
// sequence index. Each occurrence change commits in its own unit of work, so a
// cancelled reconcile leaves every occurrence either fully changed or
// untouched, and the result lists exactly the changes that were committed.
// Occurrences past the new session count are removed unless an occurrence at
// or after them holds ATTENDED or NO_SHOW records; those are kept and reported
// in a PartialTruncationWarning.
type ScheduleReconciler struct {
	store       persistence.Store
	locker      lock.Locker
	coaches     CoachDirectory
	expander    *recurrence.Expander
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewScheduleReconciler wires dependencies for schedule edits.
func NewScheduleReconciler(store persistence.Store, locker lock.Locker, coaches CoachDirectory, expander *recurrence.Expander, idGenerator func() string, now func() time.Time) *ScheduleReconciler {
	return NewScheduleReconcilerWithLogger(store, locker, coaches, expander, idGenerator, now, nil)
}

// NewScheduleReconcilerWithLogger wires dependencies with a specified logger.
func NewScheduleReconcilerWithLogger(store persistence.Store, locker lock.Locker, coaches CoachDirectory, expander *recurrence.Expander, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ScheduleReconciler {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	if coaches == nil {
		coaches = storeCoachDirectory{store: store}
	}
	if expander == nil {
		expander = recurrence.NewExpander(recurrence.DefaultMaxSessions)
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ScheduleReconciler{
		store:       store,
		locker:      locker,
		coaches:     coaches,
		expander:    expander,
		idGenerator: idGenerator,
		now:         now,
		logger:      logging.OrDefault(logger),
	}
}

func (r *ScheduleReconciler) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, r.logger, "ScheduleReconciler", operation, attrs...)
}

// storedOccurrence is an occurrence with the attendance counts read under lock.
type storedOccurrence struct {
	occurrence persistence.Occurrence
	counts     persistence.AttendanceCounts
}

// Reconcile diffs params.Spec against the stored occurrences of the schedule
// and applies the difference. A validation error aborts before anything is
// read. Per-occurrence failures are collected in the result. When ctx is
// cancelled midway the committed part of the result is returned with the
// context error.
func (r *ScheduleReconciler) Reconcile(ctx context.Context, params ReconcileParams) (result ReconcileResult, err error) {
	if r == nil {
		err = fmt.Errorf("ScheduleReconciler is nil")
		return
	}

	logger := r.loggerWith(ctx, "Reconcile",
		"principal_id", params.Principal.StaffID,
		"schedule_id", params.ScheduleID,
	)
	defer func() {
		attrs := []any{
			"updated", len(result.Updated),
			"created", len(result.Created),
			"deleted", len(result.Deleted),
			"failures", len(result.Failures),
			"truncated", result.Truncation() != nil,
		}
		if err != nil {
			logger.With(attrs...).ErrorContext(ctx, "failed to reconcile schedule", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(attrs...).InfoContext(ctx, "schedule reconciled")
	}()

	if err = authorize(params.Principal, ActionManageSchedules); err != nil {
		return
	}

	spec := recurrence.Normalize(params.Spec)
	if err = validateSpec(ctx, r.expander, r.coaches, spec); err != nil {
		return
	}
	var candidates []recurrence.Occurrence
	candidates, err = r.expander.Expand(spec)
	if err != nil {
		err = validationFromSpec(err)
		return
	}

	var unlockSchedule func()
	unlockSchedule, err = r.locker.Lock(ctx, lock.ScheduleKey(params.ScheduleID))
	if err != nil {
		return
	}
	defer unlockSchedule()

	var (
		schedule persistence.Schedule
		existing []persistence.Occurrence
	)
	err = r.store.ReadOnly(ctx, func(tx persistence.Tx) error {
		var err error
		schedule, err = getLiveSchedule(ctx, tx, params.ScheduleID)
		if err != nil {
			return err
		}
		existing, err = tx.ListOccurrences(ctx, schedule.ID, true)
		return err
	})
	if err != nil {
		return
	}
	result.Schedule = scheduleFromPersistence(schedule)

	keys := make([]string, 0, len(existing))
	for _, occurrence := range existing {
		keys = append(keys, lock.OccurrenceKey(occurrence.ID))
	}
	var unlockOccurrences func()
	unlockOccurrences, err = r.locker.Lock(ctx, keys...)
	if err != nil {
		return
	}
	defer unlockOccurrences()

	var byIndex map[int]storedOccurrence
	byIndex, err = r.loadCounts(ctx, existing)
	if err != nil {
		return
	}

	retainUpTo, truncation := truncationPlan(schedule.ID, len(candidates), byIndex)
	if truncation != nil {
		result.Warnings = append(result.Warnings, Warning{Kind: WarningPartialTruncation, Truncation: truncation})
	}

	var touched []persistence.Occurrence

	// Removals run first.
	for _, index := range sortedIndices(byIndex) {
		stored := byIndex[index]
		if index <= retainUpTo || !stored.occurrence.Active() {
			continue
		}
		if err = ctx.Err(); err != nil {
			return
		}
		var change OccurrenceChange
		change, err = r.remove(ctx, params.Principal, stored)
		if err != nil {
			if isAbort(ctx, err) {
				return
			}
			result.Failures = append(result.Failures, OccurrenceFailure{OccurrenceID: stored.occurrence.ID, SequenceIndex: index, Err: err})
			err = nil
			continue
		}
		result.Deleted = append(result.Deleted, change)
	}

	for _, candidate := range candidates {
		if err = ctx.Err(); err != nil {
			return
		}
		stored, ok := byIndex[candidate.SequenceIndex]
		if !ok {
			var created persistence.Occurrence
			created, err = r.create(ctx, schedule.ID, candidate)
			if err != nil {
				if isAbort(ctx, err) {
					return
				}
				result.Failures = append(result.Failures, OccurrenceFailure{SequenceIndex: candidate.SequenceIndex, Err: err})
				err = nil
				continue
			}
			touched = append(touched, created)
			result.Created = append(result.Created, OccurrenceChange{OccurrenceID: created.ID, SequenceIndex: created.SequenceIndex})
			continue
		}

		revive := !stored.occurrence.Active()
		if !revive && sameSlot(stored.occurrence, candidate) {
			continue
		}
		if held := stored.counts.SeatsHeld(); candidate.Capacity < held {
			result.Failures = append(result.Failures, OccurrenceFailure{
				OccurrenceID:  stored.occurrence.ID,
				SequenceIndex: candidate.SequenceIndex,
				Err: &CapacityBelowEnrollmentError{
					OccurrenceID:  stored.occurrence.ID,
					SequenceIndex: candidate.SequenceIndex,
					Capacity:      candidate.Capacity,
					SeatsHeld:     held,
				},
			})
			continue
		}

		var updated persistence.Occurrence
		updated, err = r.update(ctx, stored.occurrence, candidate)
		if err != nil {
			if isAbort(ctx, err) {
				return
			}
			result.Failures = append(result.Failures, OccurrenceFailure{OccurrenceID: stored.occurrence.ID, SequenceIndex: candidate.SequenceIndex, Err: err})
			err = nil
			continue
		}
		touched = append(touched, updated)
		change := OccurrenceChange{OccurrenceID: updated.ID, SequenceIndex: updated.SequenceIndex}
		if revive {
			change.Revived = true
			result.Created = append(result.Created, change)
		} else {
			result.Updated = append(result.Updated, change)
		}
	}

	if !recurrence.Equal(scheduleFromPersistence(schedule).Spec, spec) {
		if err = ctx.Err(); err != nil {
			return
		}
		edited := applySpec(schedule, spec)
		edited.UpdatedAt = r.now()
		err = r.store.Atomically(ctx, func(tx persistence.Tx) error {
			return mapRepoError(tx.UpdateSchedule(ctx, edited))
		})
		if err != nil {
			return
		}
		result.Schedule = scheduleFromPersistence(edited)
	}

	if len(touched) > 0 {
		err = r.store.ReadOnly(ctx, func(tx persistence.Tx) error {
			conflicts, err := coachConflicts(ctx, tx, schedule.ID, spec.CoachID, touched)
			for i := range conflicts {
				result.Warnings = append(result.Warnings, Warning{Kind: WarningCoachConflict, Conflict: &conflicts[i]})
			}
			return err
		})
	}
	return
}

func (r *ScheduleReconciler) loadCounts(ctx context.Context, occurrences []persistence.Occurrence) (map[int]storedOccurrence, error) {
	byIndex := make(map[int]storedOccurrence, len(occurrences))
	err := r.store.ReadOnly(ctx, func(tx persistence.Tx) error {
		for _, occurrence := range occurrences {
			counts, err := tx.CountAttendance(ctx, occurrence.ID)
			if err != nil {
				return err
			}
			byIndex[occurrence.SequenceIndex] = storedOccurrence{occurrence: occurrence, counts: counts}
		}
		return nil
	})
	return byIndex, err
}

// remove cancels the remaining ENROLLED records of an occurrence past the new
// session count, then deletes it, or soft-cancels it when records remain.
func (r *ScheduleReconciler) remove(ctx context.Context, principal Principal, stored storedOccurrence) (change OccurrenceChange, err error) {
	err = r.store.Atomically(ctx, func(tx persistence.Tx) error {
		change, err = r.removeIn(ctx, tx, principal, stored.occurrence, "occurrence removed from schedule")
		return err
	})
	return
}

func (r *ScheduleReconciler) removeIn(ctx context.Context, tx persistence.Tx, principal Principal, occurrence persistence.Occurrence, note string) (OccurrenceChange, error) {
	change := OccurrenceChange{OccurrenceID: occurrence.ID, SequenceIndex: occurrence.SequenceIndex}
	records, err := tx.ListAttendance(ctx, occurrence.ID)
	if err != nil {
		return change, err
	}
	now := r.now()
	for _, record := range records {
		if record.Status != persistence.StatusEnrolled {
			continue
		}
		updated := record
		updated.Status = persistence.StatusCancelled
		updated.MarkedAt = now
		updated.MarkedBy = principal.StaffID
		if err := tx.UpdateAttendance(ctx, updated); err != nil {
			return change, err
		}
		if err := tx.AppendAudit(ctx, auditEntry(r.idGenerator(), "reconcile-cancel", record.Status, updated, note)); err != nil {
			return change, err
		}
	}

	if len(records) == 0 {
		return change, mapRepoError(tx.DeleteOccurrence(ctx, occurrence.ID))
	}
	if !occurrence.Active() {
		change.SoftCancelled = true
		return change, nil
	}
	cancelled := occurrence
	cancelled.CancelledAt = timePtr(now)
	cancelled.UpdatedAt = now
	change.SoftCancelled = true
	return change, mapRepoError(tx.UpdateOccurrence(ctx, cancelled))
}

// DeleteSchedule removes a schedule and all of its occurrences in one unit of
// work. Occurrences with records are soft-cancelled, their ENROLLED records
// cancelled, and the schedule row is then kept as soft-deleted so the history
// stays reachable. Everything else is deleted outright.
func (r *ScheduleReconciler) DeleteSchedule(ctx context.Context, principal Principal, scheduleID string) (result DeleteScheduleResult, err error) {
	if r == nil {
		err = fmt.Errorf("ScheduleReconciler is nil")
		return
	}

	logger := r.loggerWith(ctx, "DeleteSchedule",
		"principal_id", principal.StaffID,
		"schedule_id", scheduleID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete schedule", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("deleted", len(result.Deleted), "retained", result.Retained).InfoContext(ctx, "schedule deleted")
	}()

	if err = authorize(principal, ActionManageSchedules); err != nil {
		return
	}
	result.ScheduleID = scheduleID

	var unlockSchedule func()
	unlockSchedule, err = r.locker.Lock(ctx, lock.ScheduleKey(scheduleID))
	if err != nil {
		return
	}
	defer unlockSchedule()

	var existing []persistence.Occurrence
	err = r.store.ReadOnly(ctx, func(tx persistence.Tx) error {
		if _, err := getLiveSchedule(ctx, tx, scheduleID); err != nil {
			return err
		}
		var err error
		existing, err = tx.ListOccurrences(ctx, scheduleID, true)
		return err
	})
	if err != nil {
		return
	}

	keys := make([]string, 0, len(existing))
	for _, occurrence := range existing {
		keys = append(keys, lock.OccurrenceKey(occurrence.ID))
	}
	var unlockOccurrences func()
	unlockOccurrences, err = r.locker.Lock(ctx, keys...)
	if err != nil {
		return
	}
	defer unlockOccurrences()

	err = r.store.Atomically(ctx, func(tx persistence.Tx) error {
		schedule, err := getLiveSchedule(ctx, tx, scheduleID)
		if err != nil {
			return err
		}
		occurrences, err := tx.ListOccurrences(ctx, scheduleID, true)
		if err != nil {
			return err
		}

		deleted := make([]OccurrenceChange, 0, len(occurrences))
		retained := false
		for _, occurrence := range occurrences {
			change, err := r.removeIn(ctx, tx, principal, occurrence, "schedule deleted")
			if err != nil {
				return err
			}
			retained = retained || change.SoftCancelled
			if occurrence.Active() {
				deleted = append(deleted, change)
			}
		}

		if !retained {
			if err := tx.DeleteSchedule(ctx, scheduleID); err != nil {
				return mapRepoError(err)
			}
		} else {
			now := r.now()
			schedule.DeletedAt = timePtr(now)
			schedule.UpdatedAt = now
			if err := tx.UpdateSchedule(ctx, schedule); err != nil {
				return mapRepoError(err)
			}
		}
		result.Deleted = deleted
		result.Retained = retained
		return nil
	})
	if err != nil {
		result.Deleted = nil
		result.Retained = false
	}
	return
}

func (r *ScheduleReconciler) create(ctx context.Context, scheduleID string, candidate recurrence.Occurrence) (persistence.Occurrence, error) {
	now := r.now()
	occurrence := persistence.Occurrence{
		ID:            r.idGenerator(),
		ScheduleID:    scheduleID,
		SequenceIndex: candidate.SequenceIndex,
		Start:         candidate.Start,
		End:           candidate.End,
		Capacity:      candidate.Capacity,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := r.store.Atomically(ctx, func(tx persistence.Tx) error {
		return mapRepoError(tx.InsertOccurrence(ctx, occurrence))
	})
	return occurrence, err
}

// update moves an occurrence to the candidate's slot and capacity, reviving
// it when it was soft-cancelled.
func (r *ScheduleReconciler) update(ctx context.Context, occurrence persistence.Occurrence, candidate recurrence.Occurrence) (persistence.Occurrence, error) {
	occurrence.Start = candidate.Start
	occurrence.End = candidate.End
	occurrence.Capacity = candidate.Capacity
	occurrence.CancelledAt = nil
	occurrence.UpdatedAt = r.now()
	err := r.store.Atomically(ctx, func(tx persistence.Tx) error {
		return mapRepoError(tx.UpdateOccurrence(ctx, occurrence))
	})
	return occurrence, err
}

// truncationPlan returns the highest index to keep. Everything up to the last
// active occurrence with attendance history is retained.
func truncationPlan(scheduleID string, newCount int, byIndex map[int]storedOccurrence) (int, *PartialTruncationWarning) {
	retainUpTo := newCount - 1
	var blocking []int
	for _, index := range sortedIndices(byIndex) {
		stored := byIndex[index]
		if index < newCount || !stored.occurrence.Active() || !stored.counts.Historical() {
			continue
		}
		blocking = append(blocking, index)
		retainUpTo = index
	}
	if len(blocking) == 0 {
		return retainUpTo, nil
	}

	warning := &PartialTruncationWarning{ScheduleID: scheduleID, BlockingIndices: blocking}
	for _, index := range sortedIndices(byIndex) {
		if index >= newCount && index <= retainUpTo && byIndex[index].occurrence.Active() {
			warning.RetainedIndices = append(warning.RetainedIndices, index)
		}
	}
	return retainUpTo, warning
}

func sortedIndices(byIndex map[int]storedOccurrence) []int {
	indices := make([]int, 0, len(byIndex))
	for index := range byIndex {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices
}

func sameSlot(occurrence persistence.Occurrence, candidate recurrence.Occurrence) bool {
	return occurrence.Start.Equal(candidate.Start) &&
		occurrence.End.Equal(candidate.End) &&
		occurrence.Capacity == candidate.Capacity
}

// isAbort reports whether err ends the reconcile instead of being collected
// as a per-occurrence failure.
func isAbort(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

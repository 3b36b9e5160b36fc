package application_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/class-scheduler/internal/application"
	"github.com/example/class-scheduler/internal/testfixtures"
)

func TestAttendanceLedger_MarkAttendance(t *testing.T) {
	t.Parallel()

	t.Run("attended twice deducts one session", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		occ := h.createSchedule(h.spec()).Occurrences[0]
		pkg := h.grantPackage("m1", 5)
		h.enroll(occ.ID, "m1")

		record, err := h.mark(occ.ID, "m1", application.StatusAttended)
		require.NoError(t, err)
		assert.Equal(t, application.StatusAttended, record.Status)
		assert.True(t, record.PackageDeductionApplied)

		again, err := h.mark(occ.ID, "m1", application.StatusAttended)
		require.NoError(t, err)
		assert.Equal(t, record, again)

		active, err := h.svc.Catalog.ActivePackage(context.Background(), testfixtures.FrontDesk, "m1")
		require.NoError(t, err)
		assert.Equal(t, pkg.ID, active.ID)
		assert.Equal(t, 4, active.RemainingSessions)
	})

	t.Run("members without a package are not charged", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		occ := h.createSchedule(h.spec()).Occurrences[0]
		h.enroll(occ.ID, "m1")

		record, err := h.mark(occ.ID, "m1", application.StatusAttended)
		require.NoError(t, err)
		assert.False(t, record.PackageDeductionApplied)
	})

	t.Run("an empty package rejects the mark", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		created := h.createSchedule(h.spec())
		h.grantPackage("m1", 1)
		for _, occ := range created.Occurrences[:2] {
			h.enroll(occ.ID, "m1")
		}

		_, err := h.mark(created.Occurrences[0].ID, "m1", application.StatusAttended)
		require.NoError(t, err)

		_, err = h.mark(created.Occurrences[1].ID, "m1", application.StatusAttended)
		var balance *application.InsufficientPackageBalanceError
		require.ErrorAs(t, err, &balance)
		assert.Equal(t, "m1", balance.MemberID)
		assert.Equal(t, 0, balance.Remaining)

		occurrences := h.occurrences(created.Schedule.ID, false)
		assert.Equal(t, 0, occurrences[1].AttendanceCount, "rejected mark must not change the record")
		assert.Equal(t, 1, occurrences[1].SeatsHeld)
	})

	t.Run("terminal statuses need a reopen", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		occ := h.createSchedule(h.spec()).Occurrences[0]
		h.enroll(occ.ID, "m1")

		_, err := h.mark(occ.ID, "m1", application.StatusNoShow)
		require.NoError(t, err)

		_, err = h.mark(occ.ID, "m1", application.StatusAttended)
		var transition *application.InvalidTransitionError
		require.ErrorAs(t, err, &transition)
		assert.Equal(t, application.StatusNoShow, transition.From)
		assert.Equal(t, application.StatusAttended, transition.To)
	})

	t.Run("rejects unknown statuses and members", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		occ := h.createSchedule(h.spec()).Occurrences[0]

		_, err := h.mark(occ.ID, "m1", "LATE")
		var vErr *application.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.FieldErrors, "status")

		_, err = h.mark(occ.ID, "m1", application.StatusAttended)
		assert.ErrorIs(t, err, application.ErrNotEnrolled)

		_, err = h.mark("missing", "m1", application.StatusAttended)
		assert.ErrorIs(t, err, application.ErrNotFound)
	})

	t.Run("front desk cannot mark attendance", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		occ := h.createSchedule(h.spec()).Occurrences[0]
		h.enroll(occ.ID, "m1")

		_, err := h.svc.Ledger.MarkAttendance(context.Background(), application.AttendanceMarkRequest{
			Principal: testfixtures.FrontDesk, OccurrenceID: occ.ID, MemberID: "m1", Status: application.StatusAttended,
		})
		assert.ErrorIs(t, err, application.ErrUnauthorized)
	})
}

func TestAttendanceLedger_Reopen(t *testing.T) {
	t.Parallel()

	reopen := func(h *harness, occurrenceID, memberID string) (application.AttendanceRecord, error) {
		return h.svc.Ledger.Reopen(context.Background(), application.ReopenRequest{
			Principal: testfixtures.Trainer, OccurrenceID: occurrenceID, MemberID: memberID,
		})
	}

	t.Run("keeps the deduction so a second attend is free", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		occ := h.createSchedule(h.spec()).Occurrences[0]
		h.grantPackage("m1", 3)
		h.enroll(occ.ID, "m1")
		_, err := h.mark(occ.ID, "m1", application.StatusAttended)
		require.NoError(t, err)

		record, err := reopen(h, occ.ID, "m1")
		require.NoError(t, err)
		assert.Equal(t, application.StatusEnrolled, record.Status)
		assert.True(t, record.PackageDeductionApplied)

		again, err := reopen(h, occ.ID, "m1")
		require.NoError(t, err)
		assert.Equal(t, record, again)

		_, err = h.mark(occ.ID, "m1", application.StatusAttended)
		require.NoError(t, err)

		active, err := h.svc.Catalog.ActivePackage(context.Background(), testfixtures.Admin, "m1")
		require.NoError(t, err)
		assert.Equal(t, 2, active.RemainingSessions)
	})

	t.Run("reopening a no-show needs a free seat", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		occ := h.createSchedule(h.spec(testfixtures.WithScheduleCapacity(1))).Occurrences[0]
		h.enroll(occ.ID, "m1")
		_, err := h.mark(occ.ID, "m1", application.StatusNoShow)
		require.NoError(t, err)
		h.enroll(occ.ID, "m2")

		_, err = reopen(h, occ.ID, "m1")
		var full *application.CapacityExceededError
		assert.ErrorAs(t, err, &full)
	})

	t.Run("history lists every change in order", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		occ := h.createSchedule(h.spec()).Occurrences[0]
		h.enroll(occ.ID, "m1")
		_, err := h.mark(occ.ID, "m1", application.StatusCancelled)
		require.NoError(t, err)
		_, err = reopen(h, occ.ID, "m1")
		require.NoError(t, err)

		history, err := h.svc.Ledger.History(context.Background(), testfixtures.FrontDesk, occ.ID)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, []string{"enroll", "mark", "reopen"}, []string{history[0].Action, history[1].Action, history[2].Action})
		assert.Equal(t, "", history[0].FromStatus)
		assert.Equal(t, application.StatusEnrolled, history[1].FromStatus)
		assert.Equal(t, application.StatusCancelled, history[1].ToStatus)
		assert.Equal(t, testfixtures.Trainer.StaffID, history[2].MarkedBy)
	})
}

package application_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/class-scheduler/internal/application"
	"github.com/example/class-scheduler/internal/persistence"
	"github.com/example/class-scheduler/internal/testfixtures"
)

type harness struct {
	t       *testing.T
	factory *testfixtures.ServiceFactory
	svc     testfixtures.Services
	coach   persistence.Coach
}

func newHarness(t *testing.T, opts ...testfixtures.ServiceFactoryOption) *harness {
	t.Helper()
	factory := testfixtures.NewServiceFactory(t, opts...)
	coach := testfixtures.NewCoach()
	testfixtures.Seed(t, factory.Store, func(ctx context.Context, tx persistence.Tx) error {
		return tx.SaveCoach(ctx, coach)
	})
	return &harness{t: t, factory: factory, svc: factory.Build(nil), coach: coach}
}

func (h *harness) spec(opts ...testfixtures.ScheduleOption) application.ScheduleSpec {
	return testfixtures.SpecFor(testfixtures.NewSchedule(h.coach.ID, opts...))
}

func (h *harness) createSchedule(spec application.ScheduleSpec) application.CreateScheduleResult {
	h.t.Helper()
	result, err := h.svc.Schedules.CreateSchedule(context.Background(), application.CreateScheduleParams{
		Principal: testfixtures.Admin,
		Spec:      spec,
	})
	require.NoError(h.t, err)
	return result
}

func (h *harness) enroll(occurrenceID, memberID string) application.EnrollResult {
	h.t.Helper()
	result, err := h.svc.Capacity.Enroll(context.Background(), application.EnrollRequest{
		Principal:    testfixtures.FrontDesk,
		OccurrenceID: occurrenceID,
		MemberID:     memberID,
	})
	require.NoError(h.t, err)
	return result
}

func (h *harness) mark(occurrenceID, memberID, status string) (application.AttendanceRecord, error) {
	return h.svc.Ledger.MarkAttendance(context.Background(), application.AttendanceMarkRequest{
		Principal:    testfixtures.Trainer,
		OccurrenceID: occurrenceID,
		MemberID:     memberID,
		Status:       status,
	})
}

func (h *harness) occurrences(scheduleID string, includeCancelled bool) []application.Occurrence {
	h.t.Helper()
	occurrences, err := h.svc.Schedules.ListOccurrences(context.Background(), application.ListOccurrencesParams{
		Principal:        testfixtures.Admin,
		ScheduleID:       scheduleID,
		IncludeCancelled: includeCancelled,
	})
	require.NoError(h.t, err)
	return occurrences
}

func (h *harness) grantPackage(memberID string, sessions int) application.TrainingPackage {
	h.t.Helper()
	pkg, err := h.svc.Catalog.GrantPackage(context.Background(), application.GrantPackageParams{
		Principal: testfixtures.Admin,
		MemberID:  memberID,
		Sessions:  sessions,
	})
	require.NoError(h.t, err)
	return pkg
}

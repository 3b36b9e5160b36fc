package application_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/class-scheduler/internal/application"
	"github.com/example/class-scheduler/internal/testfixtures"
)

func TestCatalogService(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	t.Run("creates coaches once", func(t *testing.T) {
		coach, err := h.svc.Catalog.CreateCoach(ctx, application.CreateCoachParams{Principal: testfixtures.Admin, ID: "coach-dana", Name: " Dana "})
		require.NoError(t, err)
		assert.Equal(t, "Dana", coach.Name)
		assert.True(t, coach.Active)

		_, err = h.svc.Catalog.CreateCoach(ctx, application.CreateCoachParams{Principal: testfixtures.Admin, ID: "coach-dana", Name: "Other"})
		assert.ErrorIs(t, err, application.ErrAlreadyExists)

		_, err = h.svc.Catalog.CreateCoach(ctx, application.CreateCoachParams{Principal: testfixtures.Admin})
		var vErr *application.ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("deactivated coaches cannot take new schedules", func(t *testing.T) {
		coach, err := h.svc.Catalog.SetCoachActive(ctx, testfixtures.Admin, h.coach.ID, false)
		require.NoError(t, err)
		assert.False(t, coach.Active)

		_, err = h.svc.Schedules.CreateSchedule(ctx, application.CreateScheduleParams{Principal: testfixtures.Admin, Spec: h.spec()})
		var vErr *application.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.FieldErrors, "coach_id")

		_, err = h.svc.Catalog.SetCoachActive(ctx, testfixtures.Admin, "missing", true)
		assert.ErrorIs(t, err, application.ErrNotFound)
	})

	t.Run("grants packages", func(t *testing.T) {
		pkg, err := h.svc.Catalog.GrantPackage(ctx, application.GrantPackageParams{Principal: testfixtures.Admin, MemberID: "m1", Sessions: 10})
		require.NoError(t, err)
		assert.Equal(t, 10, pkg.TotalSessions)
		assert.Equal(t, 10, pkg.RemainingSessions)

		_, err = h.svc.Catalog.GrantPackage(ctx, application.GrantPackageParams{Principal: testfixtures.Admin, MemberID: "m1"})
		var vErr *application.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.FieldErrors, "sessions")

		_, err = h.svc.Catalog.ActivePackage(ctx, testfixtures.FrontDesk, "m2")
		assert.ErrorIs(t, err, application.ErrNotFound)
	})

	t.Run("lists coaches by name", func(t *testing.T) {
		active, err := h.svc.Catalog.ListCoaches(ctx, testfixtures.FrontDesk, false)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "coach-dana", active[0].ID)

		all, err := h.svc.Catalog.ListCoaches(ctx, testfixtures.FrontDesk, true)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, h.coach.ID, all[0].ID)
		assert.False(t, all[0].Active)
		assert.Equal(t, "coach-dana", all[1].ID)

		_, err = h.svc.Catalog.ListCoaches(ctx, application.Principal{}, true)
		assert.ErrorIs(t, err, application.ErrUnauthorized)
	})

	t.Run("only admins manage the catalog", func(t *testing.T) {
		_, err := h.svc.Catalog.GrantPackage(ctx, application.GrantPackageParams{Principal: testfixtures.Trainer, MemberID: "m1", Sessions: 1})
		assert.ErrorIs(t, err, application.ErrUnauthorized)
		_, err = h.svc.Catalog.CreateCoach(ctx, application.CreateCoachParams{Principal: testfixtures.FrontDesk, Name: "X"})
		assert.ErrorIs(t, err, application.ErrUnauthorized)
	})
}

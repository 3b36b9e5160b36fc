package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/class-scheduler/internal/persistence"
	"github.com/example/class-scheduler/internal/testfixtures"
)

func seedSchedule(t *testing.T, store persistence.Store, occurrences int) (persistence.Schedule, []persistence.Occurrence) {
	t.Helper()

	coach := testfixtures.NewCoach()
	schedule := testfixtures.NewSchedule(coach.ID, testfixtures.WithScheduleSessions(occurrences))
	created := make([]persistence.Occurrence, 0, occurrences)
	testfixtures.Seed(t, store, func(ctx context.Context, tx persistence.Tx) error {
		if err := tx.SaveCoach(ctx, coach); err != nil {
			return err
		}
		if err := tx.InsertSchedule(ctx, schedule); err != nil {
			return err
		}
		for i := 0; i < occurrences; i++ {
			occurrence := testfixtures.NewOccurrence(schedule, i)
			if err := tx.InsertOccurrence(ctx, occurrence); err != nil {
				return err
			}
			created = append(created, occurrence)
		}
		return nil
	})
	return schedule, created
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	for _, backend := range testfixtures.StoreBackends() {
		backend := backend
		t.Run(backend.Name, func(t *testing.T) {
			t.Parallel()

			t.Run("round-trips schedules and occurrences", func(t *testing.T) {
				t.Parallel()

				ctx := context.Background()
				store := backend.Open(t)
				schedule, occurrences := seedSchedule(t, store, 3)

				err := store.ReadOnly(ctx, func(tx persistence.Tx) error {
					got, err := tx.GetSchedule(ctx, schedule.ID)
					require.NoError(t, err)
					assert.Equal(t, schedule.ClassName, got.ClassName)
					assert.True(t, schedule.StartDateTime.Equal(got.StartDateTime))
					assert.Equal(t, schedule.NumberOfSessions, got.NumberOfSessions)

					listed, err := tx.ListOccurrences(ctx, schedule.ID, false)
					require.NoError(t, err)
					require.Len(t, listed, 3)
					for i, occurrence := range listed {
						assert.Equal(t, i, occurrence.SequenceIndex)
						assert.True(t, occurrences[i].Start.Equal(occurrence.Start))
						assert.True(t, occurrence.Active())
					}
					return nil
				})
				require.NoError(t, err)
			})

			t.Run("rejects writes in read-only units", func(t *testing.T) {
				t.Parallel()

				ctx := context.Background()
				store := backend.Open(t)
				err := store.ReadOnly(ctx, func(tx persistence.Tx) error {
					return tx.SaveCoach(ctx, testfixtures.NewCoach())
				})
				assert.True(t, errors.Is(err, persistence.ErrReadOnly), "got %v", err)
			})

			t.Run("rolls back a failed unit of work", func(t *testing.T) {
				t.Parallel()

				ctx := context.Background()
				store := backend.Open(t)
				coach := testfixtures.NewCoach()
				boom := errors.New("boom")

				err := store.Atomically(ctx, func(tx persistence.Tx) error {
					if err := tx.SaveCoach(ctx, coach); err != nil {
						return err
					}
					return boom
				})
				require.ErrorIs(t, err, boom)

				err = store.ReadOnly(ctx, func(tx persistence.Tx) error {
					_, err := tx.GetCoach(ctx, coach.ID)
					return err
				})
				assert.True(t, errors.Is(err, persistence.ErrNotFound), "got %v", err)
			})

			t.Run("enforces occurrence identity and references", func(t *testing.T) {
				t.Parallel()

				ctx := context.Background()
				store := backend.Open(t)
				schedule, occurrences := seedSchedule(t, store, 2)

				err := store.Atomically(ctx, func(tx persistence.Tx) error {
					duplicate := testfixtures.NewOccurrence(schedule, 1)
					duplicate.ID = "another-id"
					return tx.InsertOccurrence(ctx, duplicate)
				})
				assert.True(t, errors.Is(err, persistence.ErrDuplicate), "got %v", err)

				err = store.Atomically(ctx, func(tx persistence.Tx) error {
					moved := occurrences[0]
					moved.SequenceIndex = 5
					return tx.UpdateOccurrence(ctx, moved)
				})
				assert.True(t, errors.Is(err, persistence.ErrConflict), "got %v", err)

				err = store.Atomically(ctx, func(tx persistence.Tx) error {
					orphan := testfixtures.NewOccurrence(schedule, 7)
					orphan.ScheduleID = "missing"
					return tx.InsertOccurrence(ctx, orphan)
				})
				assert.True(t, errors.Is(err, persistence.ErrForeignKeyViolation), "got %v", err)
			})

			t.Run("soft-cancels and deletes occurrences", func(t *testing.T) {
				t.Parallel()

				ctx := context.Background()
				store := backend.Open(t)
				schedule, occurrences := seedSchedule(t, store, 3)
				cancelledAt := testfixtures.ReferenceTime().Add(time.Hour)

				testfixtures.Seed(t, store, func(ctx context.Context, tx persistence.Tx) error {
					if err := tx.InsertAttendance(ctx, testfixtures.NewAttendance(occurrences[1], "member-1", persistence.StatusEnrolled)); err != nil {
						return err
					}
					cancelled := occurrences[2]
					cancelled.CancelledAt = &cancelledAt
					return tx.UpdateOccurrence(ctx, cancelled)
				})

				err := store.Atomically(ctx, func(tx persistence.Tx) error {
					return tx.DeleteOccurrence(ctx, occurrences[1].ID)
				})
				assert.True(t, errors.Is(err, persistence.ErrForeignKeyViolation), "got %v", err)

				testfixtures.Seed(t, store, func(ctx context.Context, tx persistence.Tx) error {
					return tx.DeleteOccurrence(ctx, occurrences[0].ID)
				})

				err = store.ReadOnly(ctx, func(tx persistence.Tx) error {
					active, err := tx.ListOccurrences(ctx, schedule.ID, false)
					require.NoError(t, err)
					require.Len(t, active, 1)
					assert.Equal(t, 1, active[0].SequenceIndex)

					all, err := tx.ListOccurrences(ctx, schedule.ID, true)
					require.NoError(t, err)
					require.Len(t, all, 2)
					require.NotNil(t, all[1].CancelledAt)
					assert.True(t, cancelledAt.Equal(*all[1].CancelledAt))
					return nil
				})
				require.NoError(t, err)
			})

			t.Run("counts attendance by status", func(t *testing.T) {
				t.Parallel()

				ctx := context.Background()
				store := backend.Open(t)
				_, occurrences := seedSchedule(t, store, 1)
				occurrence := occurrences[0]

				testfixtures.Seed(t, store, func(ctx context.Context, tx persistence.Tx) error {
					for member, status := range map[string]string{
						"m-1": persistence.StatusEnrolled,
						"m-2": persistence.StatusEnrolled,
						"m-3": persistence.StatusAttended,
						"m-4": persistence.StatusNoShow,
						"m-5": persistence.StatusCancelled,
					} {
						if err := tx.InsertAttendance(ctx, testfixtures.NewAttendance(occurrence, member, status)); err != nil {
							return err
						}
					}
					return nil
				})

				err := store.Atomically(ctx, func(tx persistence.Tx) error {
					return tx.InsertAttendance(ctx, testfixtures.NewAttendance(occurrence, "m-1", persistence.StatusEnrolled))
				})
				assert.True(t, errors.Is(err, persistence.ErrDuplicate), "got %v", err)

				err = store.ReadOnly(ctx, func(tx persistence.Tx) error {
					counts, err := tx.CountAttendance(ctx, occurrence.ID)
					require.NoError(t, err)
					assert.Equal(t, persistence.AttendanceCounts{Enrolled: 2, Attended: 1, NoShow: 1, Cancelled: 1}, counts)
					assert.Equal(t, 3, counts.SeatsHeld())
					assert.True(t, counts.Historical())

					records, err := tx.ListAttendance(ctx, occurrence.ID)
					require.NoError(t, err)
					require.Len(t, records, 5)
					assert.Equal(t, "m-1", records[0].MemberID)
					return nil
				})
				require.NoError(t, err)
			})

			t.Run("keeps audit entries in append order", func(t *testing.T) {
				t.Parallel()

				ctx := context.Background()
				store := backend.Open(t)
				_, occurrences := seedSchedule(t, store, 1)

				testfixtures.Seed(t, store, func(ctx context.Context, tx persistence.Tx) error {
					for i, to := range []string{persistence.StatusEnrolled, persistence.StatusAttended, persistence.StatusEnrolled} {
						entry := persistence.AuditEntry{
							ID:           "audit-" + string(rune('a'+i)),
							OccurrenceID: occurrences[0].ID,
							MemberID:     "m-1",
							Action:       "mark",
							ToStatus:     to,
							MarkedAt:     testfixtures.ReferenceTime(),
						}
						if err := tx.AppendAudit(ctx, entry); err != nil {
							return err
						}
					}
					return nil
				})

				err := store.ReadOnly(ctx, func(tx persistence.Tx) error {
					entries, err := tx.ListAudit(ctx, occurrences[0].ID)
					require.NoError(t, err)
					require.Len(t, entries, 3)
					assert.Equal(t, []string{"audit-a", "audit-b", "audit-c"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
					return nil
				})
				require.NoError(t, err)
			})

			t.Run("deducts package sessions once per key", func(t *testing.T) {
				t.Parallel()

				ctx := context.Background()
				store := backend.Open(t)
				small := testfixtures.NewPackage("member-1", 5, 1)
				large := testfixtures.NewPackage("member-1", 10, 4)
				inactive := testfixtures.NewPackage("member-1", 20, 20)
				inactive.Active = false
				testfixtures.Seed(t, store, func(ctx context.Context, tx persistence.Tx) error {
					for _, pkg := range []persistence.TrainingPackage{small, large, inactive} {
						if err := tx.SavePackage(ctx, pkg); err != nil {
							return err
						}
					}
					return nil
				})

				at := testfixtures.ReferenceTime().Add(time.Hour)
				err := store.Atomically(ctx, func(tx persistence.Tx) error {
					active, err := tx.GetActivePackage(ctx, "member-1")
					require.NoError(t, err)
					assert.Equal(t, large.ID, active.ID)

					pkg, applied, err := tx.DeductSession(ctx, large.ID, "record-1", at)
					require.NoError(t, err)
					assert.True(t, applied)
					assert.Equal(t, 3, pkg.RemainingSessions)

					pkg, applied, err = tx.DeductSession(ctx, large.ID, "record-1", at)
					require.NoError(t, err)
					assert.False(t, applied)
					assert.Equal(t, 3, pkg.RemainingSessions)

					_, applied, err = tx.DeductSession(ctx, small.ID, "record-2", at)
					require.NoError(t, err)
					assert.True(t, applied)

					_, _, err = tx.DeductSession(ctx, small.ID, "record-3", at)
					assert.True(t, errors.Is(err, persistence.ErrConflict), "got %v", err)
					return nil
				})
				require.NoError(t, err)

				err = store.ReadOnly(ctx, func(tx persistence.Tx) error {
					_, err := tx.GetActivePackage(ctx, "member-2")
					assert.True(t, errors.Is(err, persistence.ErrNotFound), "got %v", err)
					return nil
				})
				require.NoError(t, err)
			})

			t.Run("lists schedules by coach and class name one page at a time", func(t *testing.T) {
				t.Parallel()

				ctx := context.Background()
				store := backend.Open(t)
				yoga := testfixtures.NewCoach(testfixtures.WithCoachID("coach-yoga"))
				yoga.Name = "Yui"
				spin := testfixtures.NewCoach(testfixtures.WithCoachID("coach-spin"))
				spin.Name = "Aoi"
				base := testfixtures.ReferenceTime()
				schedules := []persistence.Schedule{
					testfixtures.NewSchedule(yoga.ID, testfixtures.WithScheduleID("s-3"), testfixtures.WithScheduleClassName("Evening Yoga"), testfixtures.WithScheduleStart(base.Add(48*time.Hour))),
					testfixtures.NewSchedule(yoga.ID, testfixtures.WithScheduleID("s-1"), testfixtures.WithScheduleClassName("Morning YOGA"), testfixtures.WithScheduleStart(base)),
					testfixtures.NewSchedule(spin.ID, testfixtures.WithScheduleID("s-2"), testfixtures.WithScheduleClassName("Spin"), testfixtures.WithScheduleStart(base.Add(24*time.Hour))),
					testfixtures.NewSchedule(yoga.ID, testfixtures.WithScheduleID("s-4"), testfixtures.WithScheduleClassName("Yoga Flow"), testfixtures.WithScheduleStart(base.Add(72*time.Hour))),
				}
				deletedAt := base.Add(time.Hour)
				schedules[3].DeletedAt = &deletedAt
				testfixtures.Seed(t, store, func(ctx context.Context, tx persistence.Tx) error {
					for _, coach := range []persistence.Coach{yoga, spin} {
						if err := tx.SaveCoach(ctx, coach); err != nil {
							return err
						}
					}
					for _, schedule := range schedules {
						if err := tx.InsertSchedule(ctx, schedule); err != nil {
							return err
						}
					}
					return nil
				})

				ids := func(items []persistence.Schedule) []string {
					out := make([]string, 0, len(items))
					for _, item := range items {
						out = append(out, item.ID)
					}
					return out
				}

				err := store.ReadOnly(ctx, func(tx persistence.Tx) error {
					all, total, err := tx.ListSchedules(ctx, persistence.ScheduleFilter{})
					require.NoError(t, err)
					assert.Equal(t, 3, total)
					assert.Equal(t, []string{"s-1", "s-2", "s-3"}, ids(all))

					page, total, err := tx.ListSchedules(ctx, persistence.ScheduleFilter{Limit: 2, Offset: 2})
					require.NoError(t, err)
					assert.Equal(t, 3, total)
					assert.Equal(t, []string{"s-3"}, ids(page))

					yogaOnly, total, err := tx.ListSchedules(ctx, persistence.ScheduleFilter{CoachID: yoga.ID, ClassName: "yoga"})
					require.NoError(t, err)
					assert.Equal(t, 2, total)
					assert.Equal(t, []string{"s-1", "s-3"}, ids(yogaOnly))

					none, total, err := tx.ListSchedules(ctx, persistence.ScheduleFilter{CoachID: spin.ID, ClassName: "yoga"})
					require.NoError(t, err)
					assert.Zero(t, total)
					assert.Empty(t, none)

					deleted, err := tx.GetSchedule(ctx, "s-4")
					require.NoError(t, err)
					require.True(t, deleted.Deleted())
					assert.True(t, deletedAt.Equal(*deleted.DeletedAt))

					coaches, err := tx.ListCoaches(ctx)
					require.NoError(t, err)
					require.Len(t, coaches, 2)
					assert.Equal(t, []string{"Aoi", "Yui"}, []string{coaches[0].Name, coaches[1].Name})
					return nil
				})
				require.NoError(t, err)
			})

			t.Run("deletes only schedules without occurrences", func(t *testing.T) {
				t.Parallel()

				ctx := context.Background()
				store := backend.Open(t)
				schedule, occurrences := seedSchedule(t, store, 1)

				err := store.Atomically(ctx, func(tx persistence.Tx) error {
					return tx.DeleteSchedule(ctx, schedule.ID)
				})
				assert.True(t, errors.Is(err, persistence.ErrForeignKeyViolation), "got %v", err)

				testfixtures.Seed(t, store, func(ctx context.Context, tx persistence.Tx) error {
					if err := tx.DeleteOccurrence(ctx, occurrences[0].ID); err != nil {
						return err
					}
					return tx.DeleteSchedule(ctx, schedule.ID)
				})

				err = store.ReadOnly(ctx, func(tx persistence.Tx) error {
					_, err := tx.GetSchedule(ctx, schedule.ID)
					return err
				})
				assert.True(t, errors.Is(err, persistence.ErrNotFound), "got %v", err)

				err = store.Atomically(ctx, func(tx persistence.Tx) error {
					return tx.DeleteSchedule(ctx, schedule.ID)
				})
				assert.True(t, errors.Is(err, persistence.ErrNotFound), "got %v", err)
			})

			t.Run("finds overlapping coach occurrences", func(t *testing.T) {
				t.Parallel()

				ctx := context.Background()
				store := backend.Open(t)
				schedule, occurrences := seedSchedule(t, store, 3)

				err := store.ReadOnly(ctx, func(tx persistence.Tx) error {
					from := occurrences[1].Start.Add(30 * time.Minute)
					to := from.Add(time.Hour)
					found, err := tx.ListCoachOccurrences(ctx, schedule.CoachID, from, to)
					require.NoError(t, err)
					require.Len(t, found, 1)
					assert.Equal(t, occurrences[1].ID, found[0].Occurrence.ID)
					assert.Equal(t, schedule.ClassName, found[0].ClassName)

					adjacent, err := tx.ListCoachOccurrences(ctx, schedule.CoachID, occurrences[0].End, occurrences[0].End.Add(time.Hour))
					require.NoError(t, err)
					assert.Empty(t, adjacent)
					return nil
				})
				require.NoError(t, err)
			})
		})
	}
}

package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/class-scheduler/internal/logging"
	"github.com/example/class-scheduler/internal/persistence"
	"github.com/example/class-scheduler/internal/recurrence"
	"github.com/example/class-scheduler/internal/scheduler"
)

// CoachDirectory resolves coach identifiers.
type CoachDirectory interface {
	// GetCoach returns ErrNotFound for unknown coaches.
	GetCoach(ctx context.Context, id string) (Coach, error)
}

// storeCoachDirectory reads coaches straight from the store.
type storeCoachDirectory struct {
	store persistence.Store
}

func (d storeCoachDirectory) GetCoach(ctx context.Context, id string) (coach Coach, err error) {
	err = d.store.ReadOnly(ctx, func(tx persistence.Tx) error {
		stored, err := tx.GetCoach(ctx, id)
		if err != nil {
			return mapRepoError(err)
		}
		coach = coachFromPersistence(stored)
		return nil
	})
	return
}

// ScheduleService creates class series and reports their occurrences.
type ScheduleService struct {
	store            persistence.Store
	coaches          CoachDirectory
	expander         *recurrence.Expander
	idGenerator      func() string
	now              func() time.Time
	lowSeatThreshold int
	logger           *slog.Logger
}

// NewScheduleService wires dependencies for schedule operations. A nil
// directory reads coaches from the store; a nil expander uses the default
// session limit.
func NewScheduleService(store persistence.Store, coaches CoachDirectory, expander *recurrence.Expander, idGenerator func() string, now func() time.Time) *ScheduleService {
	return NewScheduleServiceWithLogger(store, coaches, expander, idGenerator, now, nil)
}

// NewScheduleServiceWithLogger wires dependencies with a specified logger.
func NewScheduleServiceWithLogger(store persistence.Store, coaches CoachDirectory, expander *recurrence.Expander, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ScheduleService {
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
	return &ScheduleService{
		store:            store,
		coaches:          coaches,
		expander:         expander,
		idGenerator:      idGenerator,
		now:              now,
		lowSeatThreshold: DefaultLowSeatThreshold,
		logger:           logging.OrDefault(logger),
	}
}

// SetLowSeatThreshold changes the remaining seat count reported as low.
func (s *ScheduleService) SetLowSeatThreshold(n int) {
	if s != nil && n >= 0 {
		s.lowSeatThreshold = n
	}
}

func (s *ScheduleService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ScheduleService", operation, attrs...)
}

// CreateSchedule validates the spec, expands it and stores the series with all
// of its occurrences in one unit of work.
func (s *ScheduleService) CreateSchedule(ctx context.Context, params CreateScheduleParams) (result CreateScheduleResult, err error) {
	if s == nil {
		err = fmt.Errorf("ScheduleService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateSchedule",
		"principal_id", params.Principal.StaffID,
		"coach_id", params.Spec.CoachID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create schedule", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"schedule_id", result.Schedule.ID,
			"occurrences", len(result.Occurrences),
			"conflicts", len(result.Conflicts),
		).InfoContext(ctx, "schedule created")
	}()

	if err = authorize(params.Principal, ActionManageSchedules); err != nil {
		return
	}

	spec := recurrence.Normalize(params.Spec)
	if err = validateSpec(ctx, s.expander, s.coaches, spec); err != nil {
		return
	}

	var expanded []recurrence.Occurrence
	expanded, err = s.expander.Expand(spec)
	if err != nil {
		err = validationFromSpec(err)
		return
	}

	createdAt := s.now()
	schedule := applySpec(persistence.Schedule{
		ID:        s.idGenerator(),
		CreatedBy: params.Principal.StaffID,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, spec)

	occurrences := make([]persistence.Occurrence, 0, len(expanded))
	for _, occ := range expanded {
		occurrences = append(occurrences, persistence.Occurrence{
			ID:            s.idGenerator(),
			ScheduleID:    schedule.ID,
			SequenceIndex: occ.SequenceIndex,
			Start:         occ.Start,
			End:           occ.End,
			Capacity:      occ.Capacity,
			CreatedAt:     createdAt,
			UpdatedAt:     createdAt,
		})
	}

	err = s.store.Atomically(ctx, func(tx persistence.Tx) error {
		conflicts, err := coachConflicts(ctx, tx, schedule.ID, spec.CoachID, occurrences)
		if err != nil {
			return err
		}
		if err := tx.InsertSchedule(ctx, schedule); err != nil {
			return mapRepoError(err)
		}
		for _, occurrence := range occurrences {
			if err := tx.InsertOccurrence(ctx, occurrence); err != nil {
				return mapRepoError(err)
			}
		}
		result.Conflicts = conflicts
		return nil
	})
	if err != nil {
		return
	}

	result.Schedule = scheduleFromPersistence(schedule)
	result.Occurrences = make([]Occurrence, 0, len(occurrences))
	for _, occurrence := range occurrences {
		result.Occurrences = append(result.Occurrences, occurrenceFromPersistence(occurrence, persistence.AttendanceCounts{}, s.lowSeatThreshold))
	}
	return
}

// GetSchedule returns the stored series definition.
func (s *ScheduleService) GetSchedule(ctx context.Context, principal Principal, id string) (schedule Schedule, err error) {
	if s == nil {
		err = fmt.Errorf("ScheduleService is nil")
		return
	}
	if err = authorize(principal, ActionViewSchedules); err != nil {
		return
	}

	err = s.store.ReadOnly(ctx, func(tx persistence.Tx) error {
		stored, err := getLiveSchedule(ctx, tx, id)
		if err != nil {
			return err
		}
		schedule = scheduleFromPersistence(stored)
		return nil
	})
	return
}

// ListSchedules returns one page of live schedules ordered by start date time.
// Pages past the end come back empty with the pagination still filled in.
func (s *ScheduleService) ListSchedules(ctx context.Context, params ListSchedulesParams) (result ListSchedulesResult, err error) {
	if s == nil {
		err = fmt.Errorf("ScheduleService is nil")
		return
	}
	if err = authorize(params.Principal, ActionViewSchedules); err != nil {
		return
	}

	filter, page, perPage := buildListFilter(params)
	err = s.store.ReadOnly(ctx, func(tx persistence.Tx) error {
		stored, total, err := tx.ListSchedules(ctx, filter)
		if err != nil {
			return err
		}
		result.Schedules = make([]Schedule, 0, len(stored))
		for _, schedule := range stored {
			result.Schedules = append(result.Schedules, scheduleFromPersistence(schedule))
		}
		result.Pagination = paginate(page, perPage, total, len(stored))
		return nil
	})
	return
}

// ListOccurrences returns the schedule's occurrences ordered by sequence index
// with their derived attendance count and seat figures.
func (s *ScheduleService) ListOccurrences(ctx context.Context, params ListOccurrencesParams) (occurrences []Occurrence, err error) {
	if s == nil {
		err = fmt.Errorf("ScheduleService is nil")
		return
	}
	if err = authorize(params.Principal, ActionViewSchedules); err != nil {
		return
	}

	err = s.store.ReadOnly(ctx, func(tx persistence.Tx) error {
		if _, err := getLiveSchedule(ctx, tx, params.ScheduleID); err != nil {
			return err
		}
		stored, err := tx.ListOccurrences(ctx, params.ScheduleID, params.IncludeCancelled)
		if err != nil {
			return err
		}
		occurrences = make([]Occurrence, 0, len(stored))
		for _, occurrence := range stored {
			counts, err := tx.CountAttendance(ctx, occurrence.ID)
			if err != nil {
				return err
			}
			occurrences = append(occurrences, occurrenceFromPersistence(occurrence, counts, s.lowSeatThreshold))
		}
		return nil
	})
	return
}

// getLiveSchedule loads a schedule, treating soft-deleted ones as missing.
func getLiveSchedule(ctx context.Context, tx persistence.Tx, id string) (persistence.Schedule, error) {
	schedule, err := tx.GetSchedule(ctx, id)
	if err != nil {
		return persistence.Schedule{}, mapRepoError(err)
	}
	if schedule.Deleted() {
		return persistence.Schedule{}, ErrNotFound
	}
	return schedule, nil
}

func buildListFilter(params ListSchedulesParams) (persistence.ScheduleFilter, int, int) {
	page := params.Page
	if page < 1 {
		page = 1
	}
	perPage := params.PerPage
	switch {
	case perPage <= 0:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}
	return persistence.ScheduleFilter{
		CoachID:   strings.TrimSpace(params.CoachID),
		ClassName: strings.TrimSpace(params.ClassName),
		Limit:     perPage,
		Offset:    (page - 1) * perPage,
	}, page, perPage
}

func paginate(page, perPage, total, count int) Pagination {
	p := Pagination{CurrentPage: page, PerPage: perPage, Total: total, LastPage: 1}
	if total > 0 {
		p.LastPage = (total + perPage - 1) / perPage
	}
	if count > 0 {
		p.From = (page-1)*perPage + 1
		p.To = p.From + count - 1
	}
	return p
}

// validateSpec runs the expander's checks and the coach lookup, reporting all
// field problems together.
func validateSpec(ctx context.Context, expander *recurrence.Expander, coaches CoachDirectory, spec ScheduleSpec) error {
	vErr := &ValidationError{}
	if err := expander.Validate(spec); err != nil {
		converted := validationFromSpec(err)
		var inner *ValidationError
		if !errors.As(converted, &inner) {
			return converted
		}
		vErr.merge(inner)
	}

	if coachID := strings.TrimSpace(spec.CoachID); coachID != "" {
		coach, err := coaches.GetCoach(ctx, coachID)
		switch {
		case errors.Is(err, ErrNotFound):
			vErr.add("coach_id", "coach does not exist")
		case err != nil:
			return err
		case !coach.Active:
			vErr.add("coach_id", "coach is not active")
		}
	}

	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

// coachConflicts reports candidates overlapping active occurrences of other
// schedules taught by coachID.
func coachConflicts(ctx context.Context, tx persistence.Tx, scheduleID, coachID string, candidates []persistence.Occurrence) ([]ConflictWarning, error) {
	slots := make([]scheduler.Slot, 0, len(candidates))
	for _, occurrence := range candidates {
		if !occurrence.Active() {
			continue
		}
		slots = append(slots, scheduler.Slot{
			OccurrenceID:  occurrence.ID,
			ScheduleID:    scheduleID,
			SequenceIndex: occurrence.SequenceIndex,
			Start:         occurrence.Start,
			End:           occurrence.End,
		})
	}

	from, to, ok := scheduler.Window(slots)
	if !ok {
		return nil, nil
	}
	busy, err := tx.ListCoachOccurrences(ctx, coachID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list coach occurrences: %w", err)
	}

	existing := make([]scheduler.Slot, 0, len(busy))
	for _, item := range busy {
		existing = append(existing, scheduler.Slot{
			OccurrenceID:  item.Occurrence.ID,
			ScheduleID:    item.Occurrence.ScheduleID,
			SequenceIndex: item.Occurrence.SequenceIndex,
			ClassName:     item.ClassName,
			Start:         item.Occurrence.Start,
			End:           item.Occurrence.End,
		})
	}

	conflicts := scheduler.DetectConflicts(existing, slots)
	if len(conflicts) == 0 {
		return nil, nil
	}
	warnings := make([]ConflictWarning, 0, len(conflicts))
	for _, conflict := range conflicts {
		warnings = append(warnings, ConflictWarning{
			SequenceIndex:         conflict.Candidate.SequenceIndex,
			Start:                 conflict.Candidate.Start,
			End:                   conflict.Candidate.End,
			CoachID:               coachID,
			ConflictingScheduleID: conflict.Existing.ScheduleID,
			ConflictingOccurrence: conflict.Existing.OccurrenceID,
			ConflictingClassName:  conflict.Existing.ClassName,
		})
	}
	return warnings, nil
}

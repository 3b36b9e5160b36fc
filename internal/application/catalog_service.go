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
)

// CatalogService maintains the coach directory and members' training packages.
type CatalogService struct {
	store       persistence.Store
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewCatalogService constructs a CatalogService with the provided dependencies.
func NewCatalogService(store persistence.Store, idGenerator func() string, now func() time.Time) *CatalogService {
	return NewCatalogServiceWithLogger(store, idGenerator, now, nil)
}

// NewCatalogServiceWithLogger constructs a CatalogService with a specified logger.
func NewCatalogServiceWithLogger(store persistence.Store, idGenerator func() string, now func() time.Time, logger *slog.Logger) *CatalogService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &CatalogService{
		store:       store,
		idGenerator: idGenerator,
		now:         now,
		logger:      logging.OrDefault(logger),
	}
}

func (s *CatalogService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "CatalogService", operation, attrs...)
}

// CreateCoach registers an active coach. An empty ID is generated.
func (s *CatalogService) CreateCoach(ctx context.Context, params CreateCoachParams) (coach Coach, err error) {
	if s == nil {
		err = fmt.Errorf("CatalogService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateCoach", "principal_id", params.Principal.StaffID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create coach", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("coach_id", coach.ID).InfoContext(ctx, "coach created")
	}()

	if err = authorize(params.Principal, ActionManageCatalog); err != nil {
		return
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		err = &ValidationError{FieldErrors: map[string]string{"name": "name is required"}}
		return
	}
	id := strings.TrimSpace(params.ID)
	if id == "" {
		id = s.idGenerator()
	}

	stored := persistence.Coach{ID: id, Name: name, Active: true, CreatedAt: s.now()}
	err = s.store.Atomically(ctx, func(tx persistence.Tx) error {
		_, err := tx.GetCoach(ctx, id)
		switch {
		case err == nil:
			return ErrAlreadyExists
		case !errors.Is(err, persistence.ErrNotFound):
			return err
		}
		return tx.SaveCoach(ctx, stored)
	})
	if err != nil {
		return
	}
	coach = coachFromPersistence(stored)
	return
}

// SetCoachActive enables or disables a coach. Inactive coaches cannot be
// assigned to new or edited schedules.
func (s *CatalogService) SetCoachActive(ctx context.Context, principal Principal, id string, active bool) (coach Coach, err error) {
	if s == nil {
		err = fmt.Errorf("CatalogService is nil")
		return
	}

	logger := s.loggerWith(ctx, "SetCoachActive",
		"principal_id", principal.StaffID,
		"coach_id", id,
		"active", active,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update coach", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "coach updated")
	}()

	if err = authorize(principal, ActionManageCatalog); err != nil {
		return
	}

	err = s.store.Atomically(ctx, func(tx persistence.Tx) error {
		stored, err := tx.GetCoach(ctx, id)
		if err != nil {
			return mapRepoError(err)
		}
		stored.Active = active
		if err := tx.SaveCoach(ctx, stored); err != nil {
			return err
		}
		coach = coachFromPersistence(stored)
		return nil
	})
	return
}

// GrantPackage gives a member a new active bundle of personal-training sessions.
func (s *CatalogService) GrantPackage(ctx context.Context, params GrantPackageParams) (pkg TrainingPackage, err error) {
	if s == nil {
		err = fmt.Errorf("CatalogService is nil")
		return
	}

	memberID := strings.TrimSpace(params.MemberID)
	logger := s.loggerWith(ctx, "GrantPackage",
		"principal_id", params.Principal.StaffID,
		"member_id", memberID,
		"sessions", params.Sessions,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to grant package", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("package_id", pkg.ID).InfoContext(ctx, "package granted")
	}()

	if err = authorize(params.Principal, ActionManageCatalog); err != nil {
		return
	}

	vErr := &ValidationError{}
	if memberID == "" {
		vErr.add("member_id", "member is required")
	}
	if params.Sessions <= 0 {
		vErr.add("sessions", "sessions must be positive")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now()
	stored := persistence.TrainingPackage{
		ID:                s.idGenerator(),
		MemberID:          memberID,
		TotalSessions:     params.Sessions,
		RemainingSessions: params.Sessions,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = s.store.Atomically(ctx, func(tx persistence.Tx) error {
		return mapRepoError(tx.SavePackage(ctx, stored))
	})
	if err != nil {
		return
	}
	pkg = packageFromPersistence(stored)
	return
}

// ActivePackage returns the package the next ATTENDED mark would charge.
func (s *CatalogService) ActivePackage(ctx context.Context, principal Principal, memberID string) (pkg TrainingPackage, err error) {
	if s == nil {
		err = fmt.Errorf("CatalogService is nil")
		return
	}
	if err = authorize(principal, ActionManageEnrollment); err != nil {
		return
	}
	err = s.store.ReadOnly(ctx, func(tx persistence.Tx) error {
		stored, err := tx.GetActivePackage(ctx, strings.TrimSpace(memberID))
		if err != nil {
			return mapRepoError(err)
		}
		pkg = packageFromPersistence(stored)
		return nil
	})
	return
}

// ListCoaches returns the coach directory ordered by name. Inactive coaches
// are included only when includeInactive is set.
func (s *CatalogService) ListCoaches(ctx context.Context, principal Principal, includeInactive bool) (coaches []Coach, err error) {
	if s == nil {
		err = fmt.Errorf("CatalogService is nil")
		return
	}
	if err = authorize(principal, ActionViewSchedules); err != nil {
		return
	}
	err = s.store.ReadOnly(ctx, func(tx persistence.Tx) error {
		stored, err := tx.ListCoaches(ctx)
		if err != nil {
			return err
		}
		coaches = make([]Coach, 0, len(stored))
		for _, coach := range stored {
			if coach.Active || includeInactive {
				coaches = append(coaches, coachFromPersistence(coach))
			}
		}
		return nil
	})
	return
}

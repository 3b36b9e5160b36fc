package testfixtures

import (
	"log/slog"
	"testing"
	"time"

	"github.com/example/class-scheduler/internal/application"
	"github.com/example/class-scheduler/internal/lock"
	"github.com/example/class-scheduler/internal/persistence"
	"github.com/example/class-scheduler/internal/recurrence"
)

// ServiceFactory assists tests with constructing application services that
// share one store, one locker, a deterministic clock and identifiers.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Store       persistence.Store
	Locker      lock.Locker
	Expander    *recurrence.Expander
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults. The store
// defaults to an empty in-memory store.
func NewServiceFactory(tb testing.TB, opts ...ServiceFactoryOption) *ServiceFactory {
	tb.Helper()
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	if factory.Store == nil {
		factory.Store = NewMemoryStore(tb)
	}
	if factory.Locker == nil {
		factory.Locker = lock.NewMemoryLocker()
	}
	if factory.Expander == nil {
		factory.Expander = recurrence.NewExpander(recurrence.DefaultMaxSessions)
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithStore overrides the store shared by the services.
func WithStore(store persistence.Store) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Store = store
	}
}

// WithLocker overrides the locker shared by the services.
func WithLocker(locker lock.Locker) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Locker = locker
	}
}

// WithLogger routes service logs to logger.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// Services bundles every application service built over the same store.
type Services struct {
	Schedules  *application.ScheduleService
	Capacity   *application.CapacityTracker
	Ledger     *application.AttendanceLedger
	Reconciler *application.ScheduleReconciler
	Catalog    *application.CatalogService
}

// Build constructs all services. A nil directory reads coaches from the store.
func (f *ServiceFactory) Build(coaches application.CoachDirectory) Services {
	idGen := f.IDGenerator.NextFunc()
	now := f.Clock.NowFunc()
	return Services{
		Schedules:  application.NewScheduleServiceWithLogger(f.Store, coaches, f.Expander, idGen, now, f.Logger),
		Capacity:   application.NewCapacityTrackerWithLogger(f.Store, f.Locker, idGen, now, f.Logger),
		Ledger:     application.NewAttendanceLedgerWithLogger(f.Store, f.Locker, idGen, now, f.Logger),
		Reconciler: application.NewScheduleReconcilerWithLogger(f.Store, f.Locker, coaches, f.Expander, idGen, now, f.Logger),
		Catalog:    application.NewCatalogServiceWithLogger(f.Store, idGen, now, f.Logger),
	}
}

// Admin, Trainer and FrontDesk are principals for each staff role.
var (
	Admin     = application.Principal{StaffID: "staff-admin", Role: application.RoleAdmin}
	Trainer   = application.Principal{StaffID: "staff-trainer", Role: application.RoleTrainer}
	FrontDesk = application.Principal{StaffID: "staff-desk", Role: application.RoleFrontDesk}
)

// SpecFor returns the series definition stored in schedule.
func SpecFor(schedule persistence.Schedule) application.ScheduleSpec {
	return application.ScheduleSpec{
		ClassName:        schedule.ClassName,
		Description:      schedule.Description,
		CoachID:          schedule.CoachID,
		Capacity:         schedule.Capacity,
		DurationMinutes:  schedule.DurationMinutes,
		Start:            schedule.StartDateTime,
		Type:             recurrence.ScheduleType(schedule.ScheduleType),
		Interval:         recurrence.Interval(schedule.RecurringInterval),
		NumberOfSessions: schedule.NumberOfSessions,
	}
}

// Package memory provides an in-process implementation of persistence.Store
// on top of go-memdb.
//
// Atomically runs fn inside a single memdb write transaction: memdb admits one
// writer at a time and nothing becomes visible until Commit, so a failed or
// panicking unit is simply aborted. ReadOnly works on an immutable snapshot and
// never blocks writers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/example/class-scheduler/internal/persistence"
)

const (
	tableCoach      = "coach"
	tableSchedule   = "schedule"
	tableOccurrence = "occurrence"
	tableAttendance = "attendance"
	tableAudit      = "audit"
	tablePackage    = "package"
	tableDeduction  = "deduction"
)

// auditRow keeps append order, which audit ids do not encode.
type auditRow struct {
	Seq          uint64
	OccurrenceID string
	Entry        persistence.AuditEntry
}

// deductionRow records an applied idempotency key.
type deductionRow struct {
	Key       string
	PackageID string
	AppliedAt time.Time
}

func schema() *memdb.DBSchema {
	id := func(field string) *memdb.IndexSchema {
		return &memdb.IndexSchema{Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: field}}
	}
	byField := func(name, field string) *memdb.IndexSchema {
		return &memdb.IndexSchema{Name: name, Indexer: &memdb.StringFieldIndex{Field: field}}
	}

	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableCoach: {
				Name:    tableCoach,
				Indexes: map[string]*memdb.IndexSchema{"id": id("ID")},
			},
			tableSchedule: {
				Name: tableSchedule,
				Indexes: map[string]*memdb.IndexSchema{
					"id":    id("ID"),
					"coach": byField("coach", "CoachID"),
				},
			},
			tableOccurrence: {
				Name: tableOccurrence,
				Indexes: map[string]*memdb.IndexSchema{
					"id":       id("ID"),
					"schedule": byField("schedule", "ScheduleID"),
					"sequence": {
						Name:   "sequence",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "ScheduleID"},
							&memdb.IntFieldIndex{Field: "SequenceIndex"},
						}},
					},
				},
			},
			tableAttendance: {
				Name: tableAttendance,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "OccurrenceID"},
							&memdb.StringFieldIndex{Field: "MemberID"},
						}},
					},
					"occurrence": byField("occurrence", "OccurrenceID"),
				},
			},
			tableAudit: {
				Name: tableAudit,
				Indexes: map[string]*memdb.IndexSchema{
					"id":         {Name: "id", Unique: true, Indexer: &memdb.UintFieldIndex{Field: "Seq"}},
					"occurrence": byField("occurrence", "OccurrenceID"),
				},
			},
			tablePackage: {
				Name: tablePackage,
				Indexes: map[string]*memdb.IndexSchema{
					"id":     id("ID"),
					"member": byField("member", "MemberID"),
				},
			},
			tableDeduction: {
				Name:    tableDeduction,
				Indexes: map[string]*memdb.IndexSchema{"id": id("Key")},
			},
		},
	}
}

// Store keeps all scheduler state in a go-memdb database.
type Store struct {
	db *memdb.MemDB
	// auditSeq is only touched inside write transactions, which memdb
	// serialises.
	auditSeq uint64
}

var _ persistence.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		panic(fmt.Sprintf("memory: invalid schema: %v", err))
	}
	return &Store{db: db}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Atomically runs fn inside a write transaction that is committed only when
// fn returns nil.
func (s *Store) Atomically(ctx context.Context, fn func(tx persistence.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := fn(&tx{store: s, txn: txn, writable: true}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// ReadOnly runs fn against a snapshot of the store. Writes fail with
// persistence.ErrReadOnly.
func (s *Store) ReadOnly(ctx context.Context, fn func(tx persistence.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return fn(&tx{store: s, txn: txn})
}

type tx struct {
	store    *Store
	txn      *memdb.Txn
	writable bool
}

func (t *tx) checkWritable() error {
	if !t.writable {
		return persistence.ErrReadOnly
	}
	return nil
}

func (t *tx) first(table, index string, args ...any) (any, error) {
	raw, err := t.txn.First(table, index, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: %s lookup by %s: %w", table, index, err)
	}
	if raw == nil {
		return nil, persistence.ErrNotFound
	}
	return raw, nil
}

func (t *tx) exists(table, index string, args ...any) (bool, error) {
	_, err := t.first(table, index, args...)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, persistence.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// each calls fn for every object matching the index lookup.
func (t *tx) each(table, index string, fn func(raw any), args ...any) error {
	it, err := t.txn.Get(table, index, args...)
	if err != nil {
		return fmt.Errorf("memory: %s scan by %s: %w", table, index, err)
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		fn(raw)
	}
	return nil
}

func (t *tx) insert(table string, obj any) error {
	if err := t.txn.Insert(table, obj); err != nil {
		return fmt.Errorf("memory: insert %s: %w", table, err)
	}
	return nil
}

// --- CoachRepository ---

func (t *tx) SaveCoach(ctx context.Context, coach persistence.Coach) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if coach.ID == "" {
		return fmt.Errorf("memory: coach id is required")
	}
	if raw, err := t.first(tableCoach, "id", coach.ID); err == nil {
		coach.CreatedAt = raw.(persistence.Coach).CreatedAt
	}
	return t.insert(tableCoach, coach)
}

func (t *tx) GetCoach(ctx context.Context, id string) (persistence.Coach, error) {
	raw, err := t.first(tableCoach, "id", id)
	if err != nil {
		return persistence.Coach{}, err
	}
	return raw.(persistence.Coach), nil
}

func (t *tx) ListCoaches(ctx context.Context) ([]persistence.Coach, error) {
	coaches := make([]persistence.Coach, 0)
	err := t.each(tableCoach, "id", func(raw any) {
		coaches = append(coaches, raw.(persistence.Coach))
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(coaches, func(i, j int) bool {
		if coaches[i].Name == coaches[j].Name {
			return coaches[i].ID < coaches[j].ID
		}
		return coaches[i].Name < coaches[j].Name
	})
	return coaches, nil
}

// --- ScheduleRepository ---

func (t *tx) InsertSchedule(ctx context.Context, schedule persistence.Schedule) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if found, err := t.exists(tableSchedule, "id", schedule.ID); err != nil || found {
		return duplicateOr(err)
	}
	if found, err := t.exists(tableCoach, "id", schedule.CoachID); err != nil || !found {
		return foreignKeyOr(err)
	}
	return t.insert(tableSchedule, cloneSchedule(schedule))
}

func (t *tx) UpdateSchedule(ctx context.Context, schedule persistence.Schedule) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, err := t.first(tableSchedule, "id", schedule.ID); err != nil {
		return err
	}
	if found, err := t.exists(tableCoach, "id", schedule.CoachID); err != nil || !found {
		return foreignKeyOr(err)
	}
	return t.insert(tableSchedule, cloneSchedule(schedule))
}

func (t *tx) GetSchedule(ctx context.Context, id string) (persistence.Schedule, error) {
	raw, err := t.first(tableSchedule, "id", id)
	if err != nil {
		return persistence.Schedule{}, err
	}
	return cloneSchedule(raw.(persistence.Schedule)), nil
}

func (t *tx) ListSchedules(ctx context.Context, filter persistence.ScheduleFilter) ([]persistence.Schedule, int, error) {
	index, args := "id", []any{}
	if coachID := strings.TrimSpace(filter.CoachID); coachID != "" {
		index, args = "coach", []any{coachID}
	}
	needle := strings.ToLower(strings.TrimSpace(filter.ClassName))

	matches := make([]persistence.Schedule, 0)
	err := t.each(tableSchedule, index, func(raw any) {
		schedule := raw.(persistence.Schedule)
		if schedule.Deleted() {
			return
		}
		if needle != "" && !strings.Contains(strings.ToLower(schedule.ClassName), needle) {
			return
		}
		matches = append(matches, cloneSchedule(schedule))
	}, args...)
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.StartDateTime.Equal(b.StartDateTime) {
			return a.ID < b.ID
		}
		return a.StartDateTime.Before(b.StartDateTime)
	})

	total := len(matches)
	if filter.Limit <= 0 {
		return matches, total, nil
	}
	from := min(max(filter.Offset, 0), total)
	to := min(from+filter.Limit, total)
	return matches[from:to], total, nil
}

func (t *tx) DeleteSchedule(ctx context.Context, id string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	raw, err := t.first(tableSchedule, "id", id)
	if err != nil {
		return err
	}
	if owned, err := t.exists(tableOccurrence, "schedule", id); err != nil || owned {
		return foreignKeyOr(err)
	}
	if err := t.txn.Delete(tableSchedule, raw); err != nil {
		return fmt.Errorf("memory: delete schedule: %w", err)
	}
	return nil
}

// --- OccurrenceRepository ---

func (t *tx) InsertOccurrence(ctx context.Context, occurrence persistence.Occurrence) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if found, err := t.exists(tableOccurrence, "id", occurrence.ID); err != nil || found {
		return duplicateOr(err)
	}
	if found, err := t.exists(tableSchedule, "id", occurrence.ScheduleID); err != nil || !found {
		return foreignKeyOr(err)
	}
	if found, err := t.exists(tableOccurrence, "sequence", occurrence.ScheduleID, occurrence.SequenceIndex); err != nil || found {
		return duplicateOr(err)
	}
	return t.insert(tableOccurrence, cloneOccurrence(occurrence))
}

func (t *tx) UpdateOccurrence(ctx context.Context, occurrence persistence.Occurrence) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	raw, err := t.first(tableOccurrence, "id", occurrence.ID)
	if err != nil {
		return err
	}
	previous := raw.(persistence.Occurrence)
	if previous.ScheduleID != occurrence.ScheduleID || previous.SequenceIndex != occurrence.SequenceIndex {
		return persistence.ErrConflict
	}
	return t.insert(tableOccurrence, cloneOccurrence(occurrence))
}

func (t *tx) GetOccurrence(ctx context.Context, id string) (persistence.Occurrence, error) {
	raw, err := t.first(tableOccurrence, "id", id)
	if err != nil {
		return persistence.Occurrence{}, err
	}
	return cloneOccurrence(raw.(persistence.Occurrence)), nil
}

func (t *tx) ListOccurrences(ctx context.Context, scheduleID string, includeCancelled bool) ([]persistence.Occurrence, error) {
	result := make([]persistence.Occurrence, 0)
	err := t.each(tableOccurrence, "schedule", func(raw any) {
		occurrence := raw.(persistence.Occurrence)
		if includeCancelled || occurrence.Active() {
			result = append(result, cloneOccurrence(occurrence))
		}
	}, scheduleID)
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SequenceIndex < result[j].SequenceIndex
	})
	return result, nil
}

func (t *tx) DeleteOccurrence(ctx context.Context, id string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	raw, err := t.first(tableOccurrence, "id", id)
	if err != nil {
		return err
	}
	if referenced, err := t.exists(tableAttendance, "occurrence", id); err != nil || referenced {
		return foreignKeyOr(err)
	}
	if err := t.txn.Delete(tableOccurrence, raw); err != nil {
		return fmt.Errorf("memory: delete occurrence: %w", err)
	}
	return nil
}

func (t *tx) ListCoachOccurrences(ctx context.Context, coachID string, from, to time.Time) ([]persistence.CoachOccurrence, error) {
	var schedules []persistence.Schedule
	if err := t.each(tableSchedule, "coach", func(raw any) {
		schedules = append(schedules, raw.(persistence.Schedule))
	}, coachID); err != nil {
		return nil, err
	}

	result := make([]persistence.CoachOccurrence, 0)
	for _, schedule := range schedules {
		err := t.each(tableOccurrence, "schedule", func(raw any) {
			occurrence := raw.(persistence.Occurrence)
			if !occurrence.Active() || !occurrence.Start.Before(to) || !occurrence.End.After(from) {
				return
			}
			result = append(result, persistence.CoachOccurrence{
				Occurrence: cloneOccurrence(occurrence),
				ClassName:  schedule.ClassName,
			})
		}, schedule.ID)
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].Occurrence, result[j].Occurrence
		if a.Start.Equal(b.Start) {
			return a.ID < b.ID
		}
		return a.Start.Before(b.Start)
	})
	return result, nil
}

// --- AttendanceRepository ---

func (t *tx) InsertAttendance(ctx context.Context, record persistence.AttendanceRecord) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if found, err := t.exists(tableOccurrence, "id", record.OccurrenceID); err != nil || !found {
		return foreignKeyOr(err)
	}
	if found, err := t.exists(tableAttendance, "id", record.OccurrenceID, record.MemberID); err != nil || found {
		return duplicateOr(err)
	}
	return t.insert(tableAttendance, record)
}

func (t *tx) UpdateAttendance(ctx context.Context, record persistence.AttendanceRecord) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	raw, err := t.first(tableAttendance, "id", record.OccurrenceID, record.MemberID)
	if err != nil {
		return err
	}
	if raw.(persistence.AttendanceRecord).ID != record.ID {
		return persistence.ErrConflict
	}
	return t.insert(tableAttendance, record)
}

func (t *tx) GetAttendance(ctx context.Context, occurrenceID, memberID string) (persistence.AttendanceRecord, error) {
	raw, err := t.first(tableAttendance, "id", occurrenceID, memberID)
	if err != nil {
		return persistence.AttendanceRecord{}, err
	}
	return raw.(persistence.AttendanceRecord), nil
}

func (t *tx) ListAttendance(ctx context.Context, occurrenceID string) ([]persistence.AttendanceRecord, error) {
	result := make([]persistence.AttendanceRecord, 0)
	err := t.each(tableAttendance, "occurrence", func(raw any) {
		result = append(result, raw.(persistence.AttendanceRecord))
	}, occurrenceID)
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].MemberID < result[j].MemberID
	})
	return result, nil
}

func (t *tx) CountAttendance(ctx context.Context, occurrenceID string) (persistence.AttendanceCounts, error) {
	var counts persistence.AttendanceCounts
	err := t.each(tableAttendance, "occurrence", func(raw any) {
		switch raw.(persistence.AttendanceRecord).Status {
		case persistence.StatusEnrolled:
			counts.Enrolled++
		case persistence.StatusAttended:
			counts.Attended++
		case persistence.StatusNoShow:
			counts.NoShow++
		case persistence.StatusCancelled:
			counts.Cancelled++
		}
	}, occurrenceID)
	return counts, err
}

func (t *tx) AppendAudit(ctx context.Context, entry persistence.AuditEntry) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.store.auditSeq++
	return t.insert(tableAudit, auditRow{Seq: t.store.auditSeq, OccurrenceID: entry.OccurrenceID, Entry: entry})
}

func (t *tx) ListAudit(ctx context.Context, occurrenceID string) ([]persistence.AuditEntry, error) {
	var rows []auditRow
	if err := t.each(tableAudit, "occurrence", func(raw any) {
		rows = append(rows, raw.(auditRow))
	}, occurrenceID); err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })

	result := make([]persistence.AuditEntry, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.Entry)
	}
	return result, nil
}

// --- PackageRepository ---

func (t *tx) SavePackage(ctx context.Context, pkg persistence.TrainingPackage) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if pkg.RemainingSessions < 0 || pkg.RemainingSessions > pkg.TotalSessions {
		return fmt.Errorf("memory: remaining sessions out of range: %w", persistence.ErrConflict)
	}
	return t.insert(tablePackage, pkg)
}

func (t *tx) GetPackage(ctx context.Context, id string) (persistence.TrainingPackage, error) {
	raw, err := t.first(tablePackage, "id", id)
	if err != nil {
		return persistence.TrainingPackage{}, err
	}
	return raw.(persistence.TrainingPackage), nil
}

func (t *tx) GetActivePackage(ctx context.Context, memberID string) (persistence.TrainingPackage, error) {
	var (
		best  persistence.TrainingPackage
		found bool
	)
	err := t.each(tablePackage, "member", func(raw any) {
		pkg := raw.(persistence.TrainingPackage)
		if !pkg.Active {
			return
		}
		if !found || pkg.RemainingSessions > best.RemainingSessions ||
			(pkg.RemainingSessions == best.RemainingSessions && pkg.ID < best.ID) {
			best = pkg
			found = true
		}
	}, memberID)
	if err != nil {
		return persistence.TrainingPackage{}, err
	}
	if !found {
		return persistence.TrainingPackage{}, persistence.ErrNotFound
	}
	return best, nil
}

func (t *tx) DeductSession(ctx context.Context, packageID, key string, at time.Time) (persistence.TrainingPackage, bool, error) {
	if err := t.checkWritable(); err != nil {
		return persistence.TrainingPackage{}, false, err
	}
	pkg, err := t.GetPackage(ctx, packageID)
	if err != nil {
		return persistence.TrainingPackage{}, false, err
	}
	applied, err := t.exists(tableDeduction, "id", key)
	if err != nil {
		return persistence.TrainingPackage{}, false, err
	}
	if applied {
		return pkg, false, nil
	}
	if pkg.RemainingSessions <= 0 {
		return pkg, false, persistence.ErrConflict
	}

	pkg.RemainingSessions--
	pkg.UpdatedAt = at
	if err := t.insert(tablePackage, pkg); err != nil {
		return persistence.TrainingPackage{}, false, err
	}
	if err := t.insert(tableDeduction, deductionRow{Key: key, PackageID: packageID, AppliedAt: at}); err != nil {
		return persistence.TrainingPackage{}, false, err
	}
	return pkg, true, nil
}

// duplicateOr returns err when the lookup failed and ErrDuplicate otherwise.
func duplicateOr(err error) error {
	if err != nil {
		return err
	}
	return persistence.ErrDuplicate
}

// foreignKeyOr returns err when the lookup failed and ErrForeignKeyViolation
// otherwise.
func foreignKeyOr(err error) error {
	if err != nil {
		return err
	}
	return persistence.ErrForeignKeyViolation
}

func cloneOccurrence(occurrence persistence.Occurrence) persistence.Occurrence {
	if occurrence.CancelledAt != nil {
		cancelled := *occurrence.CancelledAt
		occurrence.CancelledAt = &cancelled
	}
	return occurrence
}

func cloneSchedule(schedule persistence.Schedule) persistence.Schedule {
	if schedule.DeletedAt != nil {
		deleted := *schedule.DeletedAt
		schedule.DeletedAt = &deleted
	}
	return schedule
}

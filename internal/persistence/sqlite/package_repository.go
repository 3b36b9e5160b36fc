package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/example/class-scheduler/internal/persistence"
)

const packageColumns = `id, member_id, total_sessions, remaining_sessions, active, created_at, updated_at`

func (t *sqlTx) SavePackage(ctx context.Context, pkg persistence.TrainingPackage) error {
	const query = `
		INSERT INTO training_packages (` + packageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			member_id = excluded.member_id,
			total_sessions = excluded.total_sessions,
			remaining_sessions = excluded.remaining_sessions,
			active = excluded.active,
			updated_at = excluded.updated_at
	`
	return t.exec(ctx, false, query,
		pkg.ID,
		pkg.MemberID,
		pkg.TotalSessions,
		pkg.RemainingSessions,
		boolToInt(pkg.Active),
		formatTime(pkg.CreatedAt),
		formatTime(pkg.UpdatedAt),
	)
}

func (t *sqlTx) GetPackage(ctx context.Context, id string) (persistence.TrainingPackage, error) {
	const query = `SELECT ` + packageColumns + ` FROM training_packages WHERE id = ?`
	return scanPackage(t.q.QueryRowContext(ctx, query, id))
}

func (t *sqlTx) GetActivePackage(ctx context.Context, memberID string) (persistence.TrainingPackage, error) {
	const query = `
		SELECT ` + packageColumns + `
		FROM training_packages
		WHERE member_id = ? AND active = 1
		ORDER BY remaining_sessions DESC, id ASC
		LIMIT 1
	`
	return scanPackage(t.q.QueryRowContext(ctx, query, memberID))
}

func (t *sqlTx) DeductSession(ctx context.Context, packageID, key string, at time.Time) (persistence.TrainingPackage, bool, error) {
	if err := t.checkWritable(); err != nil {
		return persistence.TrainingPackage{}, false, err
	}

	pkg, err := t.GetPackage(ctx, packageID)
	if err != nil {
		return persistence.TrainingPackage{}, false, err
	}

	var existing string
	err = t.q.QueryRowContext(ctx, `SELECT package_id FROM package_deductions WHERE idempotency_key = ?`, key).Scan(&existing)
	switch mapped := MapError(err); {
	case err == nil:
		return pkg, false, nil
	case !errors.Is(mapped, persistence.ErrNotFound):
		return persistence.TrainingPackage{}, false, mapped
	}

	const deduct = `
		UPDATE training_packages
		SET remaining_sessions = remaining_sessions - 1, updated_at = ?
		WHERE id = ? AND remaining_sessions > 0
	`
	if err := t.exec(ctx, true, deduct, formatTime(at), packageID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return pkg, false, persistence.ErrConflict
		}
		return persistence.TrainingPackage{}, false, err
	}

	const record = `INSERT INTO package_deductions (idempotency_key, package_id, applied_at) VALUES (?, ?, ?)`
	if err := t.exec(ctx, false, record, key, packageID, formatTime(at)); err != nil {
		return persistence.TrainingPackage{}, false, err
	}

	pkg, err = t.GetPackage(ctx, packageID)
	if err != nil {
		return persistence.TrainingPackage{}, false, err
	}
	return pkg, true, nil
}

func scanPackage(row scanner) (persistence.TrainingPackage, error) {
	var (
		pkg       persistence.TrainingPackage
		active    int
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&pkg.ID, &pkg.MemberID, &pkg.TotalSessions, &pkg.RemainingSessions,
		&active, &createdAt, &updatedAt); err != nil {
		return persistence.TrainingPackage{}, MapError(err)
	}
	pkg.Active = active == 1

	var err error
	if pkg.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.TrainingPackage{}, err
	}
	if pkg.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.TrainingPackage{}, err
	}
	return pkg, nil
}

// Package lock serialises writers that touch the same schedule or occurrence.
//
// Keys are acquired in sorted order so that two callers asking for
// overlapping key sets cannot deadlock.
package lock

import (
	"context"
	"errors"
	"sort"
)

// ErrLockTimeout is returned when a key could not be acquired before the
// caller's deadline.
var ErrLockTimeout = errors.New("lock: timed out waiting for lock")

// Locker grants exclusive access to a set of keys until unlock is called.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// ScheduleKey names the lock guarding a schedule definition.
func ScheduleKey(id string) string {
	return "schedule:" + id
}

// OccurrenceKey names the lock guarding one occurrence's seats and records.
func OccurrenceKey(id string) string {
	return "occurrence:" + id
}

// sortKeys returns keys sorted and without duplicates or empty entries.
func sortKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// lockError maps a context failure to ErrLockTimeout while keeping the
// cancellation cause visible to errors.Is.
func lockError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrLockTimeout, err)
	}
	return err
}

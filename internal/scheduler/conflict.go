package scheduler

import (
	"sort"
	"time"
)

// Slot is one occupied time range of a coach.
type Slot struct {
	OccurrenceID  string
	ScheduleID    string
	SequenceIndex int
	ClassName     string
	Start         time.Time
	End           time.Time
}

// ConflictType describes the type of conflict detected between slots.
type ConflictType string

const (
	// ConflictTypeCoach indicates a coach is double-booked.
	ConflictTypeCoach ConflictType = "coach"
)

// Conflict pairs a candidate slot with an existing slot it overlaps.
type Conflict struct {
	Type      ConflictType
	Candidate Slot
	Existing  Slot
}

// Overlaps reports whether the half-open ranges [aStart, aEnd) and
// [bStart, bEnd) intersect. Back-to-back classes do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// DetectConflicts identifies every existing slot that a candidate slot
// overlaps. Slots of the candidate's own schedule are ignored. Results are
// ordered by candidate sequence index, then by existing start time.
func DetectConflicts(existing []Slot, candidates []Slot) []Conflict {
	if len(existing) == 0 || len(candidates) == 0 {
		return nil
	}

	sortedExisting := make([]Slot, len(existing))
	copy(sortedExisting, existing)
	sort.Slice(sortedExisting, func(i, j int) bool {
		if sortedExisting[i].Start.Equal(sortedExisting[j].Start) {
			return sortedExisting[i].OccurrenceID < sortedExisting[j].OccurrenceID
		}
		return sortedExisting[i].Start.Before(sortedExisting[j].Start)
	})

	sortedCandidates := make([]Slot, len(candidates))
	copy(sortedCandidates, candidates)
	sort.SliceStable(sortedCandidates, func(i, j int) bool {
		return sortedCandidates[i].SequenceIndex < sortedCandidates[j].SequenceIndex
	})

	var conflicts []Conflict
	for _, candidate := range sortedCandidates {
		// Existing slots are ordered by start, so nothing after the first
		// slot starting at or past candidate.End can overlap.
		limit := sort.Search(len(sortedExisting), func(i int) bool {
			return !sortedExisting[i].Start.Before(candidate.End)
		})
		for _, slot := range sortedExisting[:limit] {
			if slot.ScheduleID == candidate.ScheduleID {
				continue
			}
			if Overlaps(candidate.Start, candidate.End, slot.Start, slot.End) {
				conflicts = append(conflicts, Conflict{
					Type:      ConflictTypeCoach,
					Candidate: candidate,
					Existing:  slot,
				})
			}
		}
	}
	return conflicts
}

// Window returns the smallest range covering every slot. ok is false for an
// empty input.
func Window(slots []Slot) (from, to time.Time, ok bool) {
	for i, slot := range slots {
		if i == 0 || slot.Start.Before(from) {
			from = slot.Start
		}
		if i == 0 || slot.End.After(to) {
			to = slot.End
		}
	}
	return from, to, len(slots) > 0
}

package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ScheduleType distinguishes single classes from recurring series.
type ScheduleType string

const (
	// ScheduleTypeOneTime produces exactly one occurrence.
	ScheduleTypeOneTime ScheduleType = "ONE_TIME"
	// ScheduleTypeRecurring produces NumberOfSessions occurrences.
	ScheduleTypeRecurring ScheduleType = "RECURRING"
)

// Interval is the cadence of a recurring series.
type Interval string

const (
	IntervalNone     Interval = ""
	IntervalWeekly   Interval = "WEEKLY"
	IntervalBiWeekly Interval = "BI_WEEKLY"
	IntervalMonthly  Interval = "MONTHLY"
)

// DefaultMaxSessions bounds the size of a generated series.
const DefaultMaxSessions = 520

// Spec describes a class series. Start is read as a wall-clock value; its
// location is ignored.
type Spec struct {
	ClassName        string
	Description      string
	CoachID          string
	Capacity         int
	DurationMinutes  int
	Start            time.Time
	Type             ScheduleType
	Interval         Interval
	NumberOfSessions int
}

// Occurrence is one generated class instance. Start and End carry wall-clock
// values in UTC.
type Occurrence struct {
	SequenceIndex int
	Start         time.Time
	End           time.Time
	Capacity      int
}

// ErrInvalidSpec matches every *InvalidSpecError.
var ErrInvalidSpec = errors.New("recurrence: invalid schedule spec")

// InvalidSpecError lists the offending spec fields keyed by their wire name.
type InvalidSpecError struct {
	Fields map[string]string
}

func (e *InvalidSpecError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrInvalidSpec.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, e.Fields[key]))
	}
	return fmt.Sprintf("%s (%s)", ErrInvalidSpec.Error(), strings.Join(parts, "; "))
}

// Is reports whether target is ErrInvalidSpec.
func (e *InvalidSpecError) Is(target error) bool {
	return target == ErrInvalidSpec
}

func (e *InvalidSpecError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// Expander turns specs into ordered occurrences.
type Expander struct {
	maxSessions int
}

// NewExpander constructs an Expander. A non-positive maxSessions falls back to
// DefaultMaxSessions.
func NewExpander(maxSessions int) *Expander {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Expander{maxSessions: maxSessions}
}

// Validate reports every problem with spec in a single *InvalidSpecError.
func (e *Expander) Validate(spec Spec) error {
	vErr := &InvalidSpecError{}

	if strings.TrimSpace(spec.ClassName) == "" {
		vErr.add("class_name", "class name is required")
	}
	if strings.TrimSpace(spec.CoachID) == "" {
		vErr.add("coach_id", "coach is required")
	}
	if spec.Capacity <= 0 {
		vErr.add("capacity", "capacity must be positive")
	}
	if spec.DurationMinutes <= 0 {
		vErr.add("duration_minutes", "duration must be positive")
	}
	if spec.Start.IsZero() {
		vErr.add("start_date_time", "start date time is required")
	}

	switch spec.Type {
	case ScheduleTypeOneTime:
	case ScheduleTypeRecurring:
		switch spec.Interval {
		case IntervalWeekly, IntervalBiWeekly, IntervalMonthly:
		case IntervalNone:
			vErr.add("recurring_interval", "recurring interval is required")
		default:
			vErr.add("recurring_interval", "recurring interval is not supported")
		}
		if spec.NumberOfSessions <= 0 {
			vErr.add("number_of_sessions", "number of sessions must be positive")
		} else if spec.NumberOfSessions > e.limit() {
			vErr.add("number_of_sessions", fmt.Sprintf("number of sessions must not exceed %d", e.limit()))
		}
	default:
		vErr.add("schedule_type", "schedule type is not supported")
	}

	if len(vErr.Fields) > 0 {
		return vErr
	}
	return nil
}

// Expand generates the occurrences described by spec.
//
// Occurrence k of a recurring series starts k weeks, k fortnights or k months
// after the anchor. Monthly steps keep the anchor's day of month and clamp it
// to the end of shorter months, always measured from the anchor so a clamped
// month does not shift later ones. Time of day is identical for every
// occurrence.
func (e *Expander) Expand(spec Spec) ([]Occurrence, error) {
	if err := e.Validate(spec); err != nil {
		return nil, err
	}

	anchor := WallClock(spec.Start)
	duration := time.Duration(spec.DurationMinutes) * time.Minute

	count := 1
	if spec.Type == ScheduleTypeRecurring {
		count = spec.NumberOfSessions
	}

	occurrences := make([]Occurrence, 0, count)
	for k := 0; k < count; k++ {
		start := anchor
		if k > 0 {
			start = step(anchor, spec.Interval, k)
		}
		occurrences = append(occurrences, Occurrence{
			SequenceIndex: k,
			Start:         start,
			End:           start.Add(duration),
			Capacity:      spec.Capacity,
		})
	}
	return occurrences, nil
}

func (e *Expander) limit() int {
	if e == nil || e.maxSessions <= 0 {
		return DefaultMaxSessions
	}
	return e.maxSessions
}

func step(anchor time.Time, interval Interval, k int) time.Time {
	switch interval {
	case IntervalWeekly:
		return anchor.AddDate(0, 0, 7*k)
	case IntervalBiWeekly:
		return anchor.AddDate(0, 0, 14*k)
	case IntervalMonthly:
		return addMonthsClamped(anchor, k)
	default:
		return anchor
	}
}

func addMonthsClamped(anchor time.Time, months int) time.Time {
	y, m, d := anchor.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := daysIn(first.Year(), first.Month())
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// WallClock re-expresses t's local date and time fields in UTC so that
// arithmetic on the result never crosses a DST transition.
func WallClock(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

var startLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// ParseStart parses a timezone-naive start date time as submitted by the
// dashboard form.
func ParseStart(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("recurrence: empty start date time")
	}
	for _, layout := range startLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("recurrence: unparsable start date time %q", value)
}

// ParseScheduleType accepts the enum names as well as the numeric codes used
// by the dashboard (1 one-time, 2 recurring).
func ParseScheduleType(value string) (ScheduleType, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "1", string(ScheduleTypeOneTime), "ONE-TIME", "ONETIME":
		return ScheduleTypeOneTime, nil
	case "2", string(ScheduleTypeRecurring):
		return ScheduleTypeRecurring, nil
	}
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return "", fmt.Errorf("recurrence: unknown schedule type code %d", n)
	}
	return "", fmt.Errorf("recurrence: unknown schedule type %q", value)
}

// ParseInterval accepts WEEKLY, BI_WEEKLY (or BI-WEEKLY) and MONTHLY in any case.
// An empty value yields IntervalNone.
func ParseInterval(value string) (Interval, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "":
		return IntervalNone, nil
	case string(IntervalWeekly):
		return IntervalWeekly, nil
	case string(IntervalBiWeekly), "BI-WEEKLY", "BIWEEKLY":
		return IntervalBiWeekly, nil
	case string(IntervalMonthly):
		return IntervalMonthly, nil
	}
	return "", fmt.Errorf("recurrence: unknown interval %q", value)
}

// Normalize returns spec with trimmed text, a wall-clock start and, for one
// time classes, the recurrence fields cleared.
func Normalize(spec Spec) Spec {
	spec.ClassName = strings.TrimSpace(spec.ClassName)
	spec.Description = strings.TrimSpace(spec.Description)
	spec.CoachID = strings.TrimSpace(spec.CoachID)
	spec.Start = WallClock(spec.Start)
	if spec.Type == ScheduleTypeOneTime {
		spec.Interval = IntervalNone
		spec.NumberOfSessions = 1
	}
	return spec
}

// Equal reports whether a and b describe the same series after normalization.
func Equal(a, b Spec) bool {
	a, b = Normalize(a), Normalize(b)
	return a.ClassName == b.ClassName &&
		a.Description == b.Description &&
		a.CoachID == b.CoachID &&
		a.Capacity == b.Capacity &&
		a.DurationMinutes == b.DurationMinutes &&
		a.Start.Equal(b.Start) &&
		a.Type == b.Type &&
		a.Interval == b.Interval &&
		a.NumberOfSessions == b.NumberOfSessions
}

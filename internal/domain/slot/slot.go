// Package slot holds the pure data model for booking slots: a calendar of
// date -> time-range labels as rendered by the booking portal, plus the
// set-diffing operations the decision workflow is built on. No I/O here.
package slot

import (
	"sort"
	"strings"
	"time"
)

// Date formats the portal is known to render. Both appear in the wild,
// sometimes on the same page.
var dateLayouts = []string{"02/01/2006", "02/Jan/2006"}

const startTimeLayout = "15:04"

// Key identifies a single slot: a calendar date label and a time-range label
// such as "09:00 - 10:00". Keys are compared by their parsed start datetime.
type Key struct {
	Date      string
	TimeRange string
}

// Chronological parses the key into an absolute point in time (the slot's
// start). The second return value is false when the portal rendered something
// this parser does not understand; such keys are excluded from ordering
// rather than treated as errors.
func (k Key) Chronological() (time.Time, bool) {
	date, ok := parseDate(k.Date)
	if !ok {
		return time.Time{}, false
	}

	start := strings.TrimSpace(k.TimeRange)
	if i := strings.IndexAny(start, " -"); i >= 0 {
		start = start[:i]
	}
	t, err := time.Parse(startTimeLayout, start)
	if err != nil {
		return time.Time{}, false
	}

	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), true
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SameDay reports whether the key's date falls on the same calendar day as
// ref. Unparseable dates never match.
func (k Key) SameDay(ref time.Time) bool {
	date, ok := parseDate(k.Date)
	if !ok {
		return false
	}
	return date.Year() == ref.Year() && date.Month() == ref.Month() && date.Day() == ref.Day()
}

// Collection maps a date label to the time-range labels advertised for that
// date. A date never carries duplicate labels; chronological order is always
// computed on demand, never assumed from insertion order.
type Collection map[string][]string

// Add records a time-range label under a date, ignoring duplicates.
func (c Collection) Add(date, timeRange string) {
	for _, existing := range c[date] {
		if existing == timeRange {
			return
		}
	}
	c[date] = append(c[date], timeRange)
}

// IsEmpty reports whether the collection holds no slots at all.
func (c Collection) IsEmpty() bool {
	for _, times := range c {
		if len(times) > 0 {
			return false
		}
	}
	return true
}

// Count returns the total number of slots across all dates.
func (c Collection) Count() int {
	n := 0
	for _, times := range c {
		n += len(times)
	}
	return n
}

// Clone returns an independent copy of the collection.
func (c Collection) Clone() Collection {
	out := Collection{}
	for date, times := range c {
		out[date] = append([]string(nil), times...)
	}
	return out
}

// Flatten expands the collection into keys sorted chronologically. Keys that
// fail to parse are dropped. Ties and equal start times keep their original
// iteration order (dates sorted lexically first, then label order within a
// date) so repeated runs on identical input select identical slots.
func (c Collection) Flatten() []Key {
	dates := make([]string, 0, len(c))
	for date := range c {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	keys := make([]Key, 0, c.Count())
	for _, date := range dates {
		for _, timeRange := range c[date] {
			k := Key{Date: date, TimeRange: timeRange}
			if _, ok := k.Chronological(); ok {
				keys = append(keys, k)
			}
		}
	}

	sort.SliceStable(keys, func(i, j int) bool {
		ti, _ := keys[i].Chronological()
		tj, _ := keys[j].Chronological()
		return ti.Before(tj)
	})
	return keys
}

// Equal reports whether two collections advertise exactly the same slots:
// identical date keys and, per date, identical time-range sets regardless of
// order. Used to suppress duplicate notifications between polling cycles.
func Equal(a, b Collection) bool {
	if len(a) != len(b) {
		return false
	}
	for date, timesA := range a {
		timesB, ok := b[date]
		if !ok || len(timesA) != len(timesB) {
			return false
		}
		set := make(map[string]struct{}, len(timesA))
		for _, t := range timesA {
			set[t] = struct{}{}
		}
		for _, t := range timesB {
			if _, ok := set[t]; !ok {
				return false
			}
		}
	}
	return true
}

// EarliestN selects up to n slots from the collection in chronological order,
// taking every step-th slot starting at the first. A step above 1 models a
// no-back-to-back constraint. An empty or nil collection yields an empty
// collection.
func EarliestN(c Collection, n, step int) Collection {
	out := Collection{}
	if n <= 0 {
		return out
	}
	if step < 1 {
		step = 1
	}

	keys := c.Flatten()
	for i := 0; i < len(keys) && i < n*step; i += step {
		out.Add(keys[i].Date, keys[i].TimeRange)
	}
	return out
}

// EarlierThan returns the subset of c whose slots start strictly before every
// slot in bound. An empty bound means nothing is booked yet, so every
// parseable slot in c qualifies.
func EarlierThan(c, bound Collection) Collection {
	out := Collection{}

	cutoff, haveCutoff := earliestStart(bound)
	for _, k := range c.Flatten() {
		start, _ := k.Chronological()
		if !haveCutoff || start.Before(cutoff) {
			out.Add(k.Date, k.TimeRange)
		}
	}
	return out
}

// earliestStart finds the earliest parseable start time in the collection.
func earliestStart(c Collection) (time.Time, bool) {
	keys := c.Flatten()
	if len(keys) == 0 {
		return time.Time{}, false
	}
	t, _ := keys[0].Chronological()
	return t, true
}

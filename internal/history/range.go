// Package history implements the persistent, incrementally-updated cache of
// annual financial data. Records are keyed by security code and covered year
// range; the cache only ever expands, it is never truncated to satisfy a
// wider request.
package history

import (
	"errors"
	"fmt"
)

// ErrInvalidRange is returned when a requested range has start > end.
// An invalid range rejects the whole request; it is a configuration error,
// not a per-entity fault.
var ErrInvalidRange = errors.New("invalid year range")

// YearRange is an inclusive span of calendar years.
type YearRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// NewYearRange validates and builds a YearRange.
func NewYearRange(start, end int) (YearRange, error) {
	if start > end {
		return YearRange{}, fmt.Errorf("%w: %d > %d", ErrInvalidRange, start, end)
	}
	return YearRange{Start: start, End: end}, nil
}

// Years returns the number of years covered, inclusive.
func (r YearRange) Years() int {
	return r.End - r.Start + 1
}

// Contains reports whether r fully covers other.
func (r YearRange) Contains(other YearRange) bool {
	return r.Start <= other.Start && other.End <= r.End
}

// ContainsYear reports whether the year falls inside r.
func (r YearRange) ContainsYear(year int) bool {
	return r.Start <= year && year <= r.End
}

// Overlaps reports whether r and other share at least one year.
func (r YearRange) Overlaps(other YearRange) bool {
	return r.Start <= other.End && other.Start <= r.End
}

// Adjacent reports whether r and other touch without overlapping,
// e.g. [2015,2020] and [2021,2023].
func (r YearRange) Adjacent(other YearRange) bool {
	return r.End+1 == other.Start || other.End+1 == r.Start
}

// Missing returns the sub-ranges of r not covered by covered: at most two
// disjoint spans, one below and one above the covered span. A covered range
// entirely disjoint from r yields r itself.
func (r YearRange) Missing(covered YearRange) []YearRange {
	if covered.Contains(r) {
		return nil
	}
	if !r.Overlaps(covered) {
		return []YearRange{r}
	}

	var gaps []YearRange
	if r.Start < covered.Start {
		gaps = append(gaps, YearRange{Start: r.Start, End: covered.Start - 1})
	}
	if r.End > covered.End {
		gaps = append(gaps, YearRange{Start: covered.End + 1, End: r.End})
	}
	return gaps
}

// Union merges r with other when the result is contiguous (overlapping or
// adjacent). The second return value is false when the spans are disjoint
// with a gap between them.
func (r YearRange) Union(other YearRange) (YearRange, bool) {
	if !r.Overlaps(other) && !r.Adjacent(other) {
		return YearRange{}, false
	}
	u := r
	if other.Start < u.Start {
		u.Start = other.Start
	}
	if other.End > u.End {
		u.End = other.End
	}
	return u, true
}

func (r YearRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

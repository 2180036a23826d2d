package history

import "time"

// Merge folds newly fetched data into an existing cached record.
//
// When the existing range and the fetched range form a contiguous span
// (overlap or adjacency), the result covers their union and the payloads are
// concatenated, deduplicated by year with the fetched data winning on
// conflict so a re-fetch refreshes stale years. Merging the same fetched
// span twice yields the same record as merging it once.
//
// When the spans are disjoint with a gap, merging would create a record
// whose payload no longer matches its covered range, so the fetched data is
// returned as a standalone record (merged = false) and the caller keeps the
// existing record alongside it.
func Merge(existing *CachedRecord, code string, fetched YearRange, points []YearPoint) (CachedRecord, bool) {
	now := time.Now()

	if existing == nil {
		rec := CachedRecord{Code: code, Range: fetched, Points: clampPoints(points, fetched), WrittenAt: now}
		sortPoints(rec.Points)
		return rec, true
	}

	union, contiguous := existing.Range.Union(fetched)
	if !contiguous {
		rec := CachedRecord{Code: code, Range: fetched, Points: clampPoints(points, fetched), WrittenAt: now}
		sortPoints(rec.Points)
		return rec, false
	}

	byYear := make(map[int]YearPoint, existing.Range.Years())
	for _, p := range existing.Points {
		byYear[p.Year] = p
	}
	// Fetched data wins on overlapping years.
	for _, p := range clampPoints(points, fetched) {
		byYear[p.Year] = p
	}

	merged := CachedRecord{
		Code:      code,
		Range:     union,
		Points:    make([]YearPoint, 0, len(byYear)),
		WrittenAt: now,
	}
	for _, p := range byYear {
		merged.Points = append(merged.Points, p)
	}
	sortPoints(merged.Points)
	return merged, true
}

// clampPoints drops points outside the fetched range. The remote source
// occasionally returns rows beyond the requested span; keeping them would
// break the payload-matches-range invariant.
func clampPoints(points []YearPoint, r YearRange) []YearPoint {
	out := make([]YearPoint, 0, len(points))
	for _, p := range points {
		if r.ContainsYear(p.Year) {
			out = append(out, p)
		}
	}
	return out
}

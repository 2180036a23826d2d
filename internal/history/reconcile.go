package history

// Outcome classifies what the cache can contribute to a requested range.
type Outcome int

const (
	// OutcomeMiss - nothing cached for the security.
	OutcomeMiss Outcome = iota
	// OutcomeComplete - the cached range covers the full request.
	OutcomeComplete
	// OutcomePartial - some of the request must be fetched remotely.
	OutcomePartial
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMiss:
		return "miss"
	case OutcomeComplete:
		return "complete"
	case OutcomePartial:
		return "partial"
	default:
		return "unknown"
	}
}

// Decision is the result of reconciling a requested range against the cache:
// the classification plus the minimal sub-ranges (at most two) that still
// need fetching.
type Decision struct {
	Outcome Outcome
	// Missing lists the sub-ranges of the request not covered by the cached
	// record, ordered ascending. Empty for OutcomeComplete.
	Missing []YearRange
}

// Reconcile determines how much of the requested range the cached record
// satisfies.
//
// Rules:
//   - no cached record: miss, everything is missing
//   - cached range covers the request (including exact equality): complete;
//     staleness is not a factor under the effectively-infinite TTL policy
//   - overlap or adjacency: partial, missing is the set difference
//   - entirely disjoint: partial with the full request missing; the old
//     record is retained for an eventual merge, never overwritten
func Reconcile(requested YearRange, cached *CachedRecord) Decision {
	if cached == nil {
		return Decision{Outcome: OutcomeMiss, Missing: []YearRange{requested}}
	}
	if cached.Range.Contains(requested) {
		return Decision{Outcome: OutcomeComplete}
	}
	return Decision{Outcome: OutcomePartial, Missing: requested.Missing(cached.Range)}
}

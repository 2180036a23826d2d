package fetch

import (
	"fmt"
	"strings"
	"time"
)

// QuotaTier describes the remote API allowance for an account level. Workers
// bounds how many remote calls may be in flight at once; DispatchDelay is the
// minimum spacing between call dispatches shared across all workers.
type QuotaTier struct {
	Name          string
	Workers       int
	DispatchDelay time.Duration
}

// Account tiers mirror the provider's published point thresholds.
var (
	TierFree       = QuotaTier{Name: "free", Workers: 1, DispatchDelay: 31 * time.Second}
	TierRegistered = QuotaTier{Name: "registered", Workers: 2, DispatchDelay: 13 * time.Second}
	TierStandard   = QuotaTier{Name: "standard", Workers: 4, DispatchDelay: 4 * time.Second}
	TierPro        = QuotaTier{Name: "pro", Workers: 8, DispatchDelay: 0}
)

// minVerifyWorkers keeps the verification pool wide even on narrow tiers,
// since verification is local work that rarely touches the network.
const minVerifyWorkers = 20

// VerifyWorkers returns the pool width for cache verification: ten times the
// remote width, floored at minVerifyWorkers.
func (t QuotaTier) VerifyWorkers() int {
	n := t.Workers * 10
	if n < minVerifyWorkers {
		n = minVerifyWorkers
	}
	return n
}

// ParseTier resolves a tier by name (case-insensitive).
func ParseTier(name string) (QuotaTier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "free", "":
		return TierFree, nil
	case "registered":
		return TierRegistered, nil
	case "standard":
		return TierStandard, nil
	case "pro":
		return TierPro, nil
	default:
		return QuotaTier{}, fmt.Errorf("unknown quota tier: %q", name)
	}
}

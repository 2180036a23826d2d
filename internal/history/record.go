package history

import (
	"sort"
	"time"
)

// YearPoint holds one fiscal year of fundamental data for a security, merged
// from the annual income statement, balance sheet, cash flow statement and
// audit report.
type YearPoint struct {
	Year int `msgpack:"year" json:"year"`

	Revenue          float64 `msgpack:"revenue" json:"revenue"`
	OperCost         float64 `msgpack:"oper_cost" json:"oper_cost"`
	NetIncome        float64 `msgpack:"net_income" json:"net_income"`
	OperCashflow     float64 `msgpack:"oper_cashflow" json:"oper_cashflow"`
	TotalAssets      float64 `msgpack:"total_assets" json:"total_assets"`
	TotalLiabilities float64 `msgpack:"total_liabilities" json:"total_liabilities"`

	AuditOpinion  string `msgpack:"audit_opinion" json:"audit_opinion"`
	AuditStandard bool   `msgpack:"audit_standard" json:"audit_standard"`
}

// DebtRatio returns total liabilities over total assets, or 0 when assets are
// unknown.
func (p YearPoint) DebtRatio() float64 {
	if p.TotalAssets == 0 {
		return 0
	}
	return p.TotalLiabilities / p.TotalAssets
}

// GrossMargin returns (revenue - operating cost) / revenue, or 0 when revenue
// is unknown.
func (p YearPoint) GrossMargin() float64 {
	if p.Revenue == 0 {
		return 0
	}
	return (p.Revenue - p.OperCost) / p.Revenue
}

// CachedRecord is one persisted cache entry: the annual data points covering
// Range for a single security. Points are kept sorted ascending by year and
// their coverage matches Range.
type CachedRecord struct {
	Code      string
	Range     YearRange
	Points    []YearPoint
	WrittenAt time.Time
}

// PointByYear returns the data point for the given year, if present.
func (r *CachedRecord) PointByYear(year int) (YearPoint, bool) {
	for _, p := range r.Points {
		if p.Year == year {
			return p, true
		}
	}
	return YearPoint{}, false
}

// RecentPoints returns up to n points ordered newest first.
func (r *CachedRecord) RecentPoints(n int) []YearPoint {
	out := make([]YearPoint, len(r.Points))
	copy(out, r.Points)
	sort.Slice(out, func(i, j int) bool { return out[i].Year > out[j].Year })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// sortPoints orders points ascending by year, in place.
func sortPoints(points []YearPoint) {
	sort.Slice(points, func(i, j int) bool { return points[i].Year < points[j].Year })
}
